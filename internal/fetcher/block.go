package fetcher

import "strings"

// BlockPolicy decides whether a response body looks like an anti-bot block
// page. The default is a substring scan over the lower-cased body, which is
// a heuristic with known false positives and negatives; the phrase list is
// configuration, not contract.
type BlockPolicy struct {
	phrases []string
}

// NewBlockPolicy builds a policy from the configured phrases. Phrases are
// trimmed and lower-cased; an empty list yields a nil policy, which never
// matches.
func NewBlockPolicy(phrases []string) *BlockPolicy {
	cleaned := make([]string, 0, len(phrases))
	for _, raw := range phrases {
		phrase := strings.ToLower(strings.TrimSpace(raw))
		if phrase == "" {
			continue
		}
		cleaned = append(cleaned, phrase)
	}
	if len(cleaned) == 0 {
		return nil
	}
	return &BlockPolicy{phrases: cleaned}
}

// Blocked reports whether the body matches any block-indicator phrase.
func (p *BlockPolicy) Blocked(html string) bool {
	if p == nil || html == "" {
		return false
	}
	lowered := strings.ToLower(html)
	for _, phrase := range p.phrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
