package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/pulscan/catalog-crawler/internal/model"
)

// Categories maps a root category page to its subcategory list.
// Anchors without an href or a title are skipped; hrefs are resolved
// against baseURL.
func Categories(html, baseURL string) ([]model.Category, error) {
	doc, err := newDocument(baseURL, html)
	if err != nil {
		return nil, err
	}

	var cats []model.Category
	doc.Find("a.rblb-link").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		title := cleanText(a)
		if !ok || href == "" || title == "" {
			return
		}
		cats = append(cats, model.Category{
			Title: title,
			URL:   resolveURL(baseURL, href),
		})
	})
	return cats, nil
}

// ProductLinks maps one listing page to the product links it enumerates.
// Titles may be empty; an entry only needs an href.
func ProductLinks(html, baseURL string) ([]model.ProductLink, error) {
	doc, err := newDocument(baseURL, html)
	if err != nil {
		return nil, err
	}

	var links []model.ProductLink
	doc.Find(".product-listing__product-title a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		links = append(links, model.ProductLink{
			Title: cleanText(a),
			URL:   resolveURL(baseURL, href),
		})
	})
	return links, nil
}
