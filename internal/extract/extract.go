// Package extract holds the pure HTML-to-record mapping functions.
//
// Everything in this package is site-specific: the selectors target one
// catalog site's markup and are the only place stringly-typed DOM traversal
// is allowed. Swapping the target site means swapping this package; the
// orchestrator and walker never look at HTML themselves.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseError indicates a page fetched successfully but could not be mapped
// to a record. Callers skip the page and continue.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// resolveURL joins href against base the way a browser would. A broken base
// or href yields the href unchanged so downstream fetches surface the error.
func resolveURL(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}

func newDocument(pageURL, html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &ParseError{URL: pageURL, Err: err}
	}
	return doc, nil
}

func cleanText(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}
