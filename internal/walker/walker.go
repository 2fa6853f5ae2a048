// Package walker drives listing-page pagination for a single subcategory.
package walker

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pulscan/catalog-crawler/internal/model"
)

// pageMarker is the query-string fragment the site appends to paginated
// listing URLs. Requests past the last page redirect back to the bare URL,
// which drops the marker.
const pageMarker = "?page="

// Fetcher is the subset of the fetch client the walker needs.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, allowRedirects bool) (html, finalURL string, err error)
}

// ExtractLinks maps one listing page to its product links.
type ExtractLinks func(html, baseURL string) ([]model.ProductLink, error)

// Collect walks the listing pages of subcategoryURL strictly in increasing
// page order and returns every product link found before exhaustion.
//
// Three conditions terminate the walk without error: a page with zero
// links (end of catalog), a request for page > 1 that redirects back to
// the unpaginated base URL (the redirected page's duplicate content is
// discarded), and a final URL identical to the previous page's (safety
// stop against sites that never signal exhaustion).
func Collect(
	ctx context.Context,
	fetch Fetcher,
	extract ExtractLinks,
	subcategoryURL string,
	logger *zap.Logger,
) ([]model.ProductLink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		links   []model.ProductLink
		prevURL string
	)
	for page := 1; ; page++ {
		pageURL := subcategoryURL
		if page > 1 {
			pageURL = fmt.Sprintf("%s%s%d", subcategoryURL, pageMarker, page)
		}

		html, finalURL, err := fetch.Fetch(ctx, pageURL, true)
		if err != nil {
			return nil, fmt.Errorf("walk %s page %d: %w", subcategoryURL, page, err)
		}

		if page > 1 && !strings.Contains(finalURL, pageMarker) {
			logger.Debug("pagination exhausted by redirect",
				zap.String("subcategory", subcategoryURL),
				zap.Int("page", page),
				zap.String("final_url", finalURL),
			)
			break
		}
		if finalURL == prevURL {
			logger.Warn("final url repeating, stopping pagination walk",
				zap.String("subcategory", subcategoryURL),
				zap.Int("page", page),
				zap.String("final_url", finalURL),
			)
			break
		}
		prevURL = finalURL

		pageLinks, err := extract(html, subcategoryURL)
		if err != nil {
			return nil, fmt.Errorf("walk %s page %d: %w", subcategoryURL, page, err)
		}
		logger.Info("listing page walked",
			zap.String("subcategory", subcategoryURL),
			zap.Int("page", page),
			zap.Int("links", len(pageLinks)),
		)
		if len(pageLinks) == 0 {
			break
		}
		links = append(links, pageLinks...)
	}
	return links, nil
}
