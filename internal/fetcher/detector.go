package fetcher

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Detector decides whether a probed page needs JavaScript rendering before
// extraction. It looks at simple HTML signals: a suspiciously small body,
// known shell-page keywords, or the absence of selectors the extractors
// depend on.
type Detector struct {
	minHTMLBytes int
	selectors    []string
	keywords     []string
}

// NewDetector builds a Detector with the configured thresholds. All three
// signal groups are optional; a Detector with no signals never promotes.
func NewDetector(minBytes int, selectors, keywords []string) *Detector {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		lowered = append(lowered, kw)
	}
	return &Detector{
		minHTMLBytes: minBytes,
		selectors:    selectors,
		keywords:     lowered,
	}
}

// NeedsRender inspects the page for signals that a headless fetch is
// required. A nil Detector promotes everything, so a render transport
// configured without a detector is used unconditionally.
func (d *Detector) NeedsRender(html string) bool {
	if d == nil {
		return true
	}
	switch {
	case d.minHTMLBytes > 0 && len(html) < d.minHTMLBytes:
		return true
	case d.containsKeywords(html):
		return true
	default:
		return d.missingSelectors(html)
	}
}

func (d *Detector) containsKeywords(html string) bool {
	if html == "" || len(d.keywords) == 0 {
		return false
	}
	lowered := strings.ToLower(html)
	for _, kw := range d.keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

func (d *Detector) missingSelectors(html string) bool {
	if len(d.selectors) == 0 || html == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}
