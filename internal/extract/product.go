package extract

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/pulscan/catalog-crawler/internal/model"
)

// Product maps a product page to its record. Extraction is best-effort:
// every scalar field may come back empty. The only error returned is a
// ParseError when the document itself cannot be read.
func Product(htmlBody, pageURL string) (model.Product, error) {
	doc, err := newDocument(pageURL, htmlBody)
	if err != nil {
		return model.Product{}, err
	}

	p := model.Product{
		URL:         pageURL,
		Title:       cleanText(doc.Find("h1").First()),
		Description: cleanText(doc.Find(".product-description").First()),
		Attributes:  attributes(doc),
		Suppliers:   suppliers(doc),
	}

	p.Article = cleanText(doc.Find(".product-description-list__article-value").First())
	if p.Article == "" {
		p.Article = tableValue(doc, "Артикул")
	}

	p.Brand = descriptionListValue(doc, "Производитель")
	if p.Brand == "" {
		p.Brand = tableValue(doc, "Бренд")
	}

	p.CountryOfOrigin = tableValue(doc, "Страна происхождения")
	p.WarrantyMonths = tableValue(doc, "Гарантийный срок")
	p.Category = breadcrumbCategory(doc)
	p.CreatedAt = createdAt(doc)

	return p, nil
}

func attributes(doc *goquery.Document) []model.Attribute {
	var attrs []model.Attribute

	// Modern layout uses div blocks.
	doc.Find(".product-description-list__item").Each(func(_ int, item *goquery.Selection) {
		name := cleanText(item.Find(".product-description-list__label"))
		value := cleanText(item.Find(".product-description-list__value"))
		if name != "" && value != "" {
			attrs = append(attrs, model.Attribute{Name: name, Value: value})
		}
	})

	// Legacy table layout.
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		name := cleanText(cells.Eq(0))
		if name == "" {
			return
		}
		attrs = append(attrs, model.Attribute{
			Name:  name,
			Value: cleanText(cells.Eq(1)),
		})
	})

	return attrs
}

func suppliers(doc *goquery.Document) []model.Supplier {
	var result []model.Supplier
	doc.Find(".supplier").Each(func(_ int, s *goquery.Selection) {
		supplier := model.Supplier{
			DealerID:    s.AttrOr("data-dealer-id", ""),
			Name:        cleanText(s.Find(".supplier__name").First()),
			Phone:       cleanText(s.Find(".supplier__phone").First()),
			Address:     cleanText(s.Find(".supplier__address").First()),
			Description: cleanText(s.Find(".supplier__description").First()),
		}
		s.Find(".supplier__offer").Each(func(_ int, offer *goquery.Selection) {
			supplier.Offers = append(supplier.Offers, supplierOffer(offer))
		})
		result = append(result, supplier)
	})
	return result
}

func supplierOffer(offer *goquery.Selection) model.SupplierOffer {
	var tiers []model.PriceInfo
	offer.Find(".price-row").Each(func(_ int, row *goquery.Selection) {
		tier, ok := priceTier(row)
		if ok {
			tiers = append(tiers, tier)
		}
	})
	return model.SupplierOffer{
		PriceTiers:   tiers,
		Stock:        offer.AttrOr("data-stock", ""),
		DeliveryTime: offer.AttrOr("data-delivery", ""),
		PackageInfo:  offer.AttrOr("data-package", ""),
		PurchaseURL:  offer.AttrOr("data-purchase-url", ""),
	}
}

// priceTier parses one row of the tiered price table. A row whose price is
// missing, unparseable or negative is dropped rather than recorded with a
// placeholder zero.
func priceTier(row *goquery.Selection) (model.PriceInfo, bool) {
	raw, ok := row.Attr("data-price")
	if !ok || strings.TrimSpace(raw) == "" {
		return model.PriceInfo{}, false
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || price < 0 {
		return model.PriceInfo{}, false
	}

	qnt := 1
	if q, err := strconv.Atoi(strings.TrimSpace(row.AttrOr("data-quantity", ""))); err == nil && q >= 1 {
		qnt = q
	}

	var discount *float64
	if d, err := strconv.ParseFloat(strings.TrimSpace(row.AttrOr("data-discount", "")), 64); err == nil {
		discount = &d
	}

	return model.PriceInfo{Quantity: qnt, Discount: discount, Price: price}, true
}

// descriptionListValue finds a modern-layout item whose label contains the
// given text and returns its value.
func descriptionListValue(doc *goquery.Document, label string) string {
	var value string
	doc.Find(".product-description-list__item").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if !strings.Contains(cleanText(item.Find(".product-description-list__label")), label) {
			return true
		}
		value = cleanText(item.Find(".product-description-list__value"))
		return false
	})
	return value
}

// tableValue finds a legacy table row whose first cell contains the given
// label and returns the cell next to it.
func tableValue(doc *goquery.Document, label string) string {
	var value string
	doc.Find("table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return true
		}
		if !strings.Contains(cleanText(cells.Eq(0)), label) {
			return true
		}
		value = cleanText(cells.Eq(1))
		return false
	})
	return value
}

func breadcrumbCategory(doc *goquery.Document) string {
	items := doc.Find(".aui-breadcrumbs__item.js-breadcrumb")
	if items.Length() > 0 {
		last := items.Last()
		if name := last.Find("[itemprop=name]"); name.Length() > 0 {
			return cleanText(name)
		}
		return cleanText(last)
	}
	return cleanText(doc.Find(".breadcrumbs li:last-child"))
}

// createdAt pulls the placement date out of the "размещено ..." footer text.
// The date and time are the last two whitespace-separated fields.
func createdAt(doc *goquery.Document) string {
	text := findTextContaining(doc, "размещено")
	if text == "" {
		return ""
	}
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return fields[len(fields)-2] + " " + fields[len(fields)-1]
}

// findTextContaining walks the document's text nodes and returns the first
// one whose lower-cased content contains substr.
func findTextContaining(doc *goquery.Document, substr string) string {
	var found string
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.TextNode && strings.Contains(strings.ToLower(n.Data), substr) {
			found = strings.TrimSpace(n.Data)
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	for _, n := range doc.Nodes {
		if walk(n) {
			break
		}
	}
	return found
}
