// Package priority ranks scrape targets into tiers for schedulers
// deciding which pages to enqueue next. Classification is a pure
// function of the target's name fields and client cardinality.
package priority

import (
	"strings"

	"github.com/growthdesk/scout/internal/scout"
)

// Tier is a coarse priority rank; 1 is highest, 4 lowest.
type Tier int

// Tiers form the cross product of hotlist keyword match and client
// cardinality. Keyword relevance dominates: a hotlist page is worth
// scraping even when only one client follows it.
const (
	TierHotlistMultiClient  Tier = 1 // keyword match, cardinality >= threshold
	TierHotlist             Tier = 2 // keyword match, cardinality < threshold
	TierMultiClient         Tier = 3 // no match, cardinality >= threshold
	TierLongTail            Tier = 4 // no match, cardinality < threshold
)

// DefaultKeywords is the stock hotlist used when none is configured.
func DefaultKeywords() []string {
	return []string{
		"hustl", "afri", "afro", "black", "melanin",
		"blvck", "culture", "kulture", "brown", "noir", "ebony",
	}
}

// DefaultClientThreshold is the stock cardinality cutoff.
const DefaultClientThreshold = 2

// Classifier assigns priority tiers.
type Classifier struct {
	keywords        []string
	clientThreshold int
}

// New builds a Classifier. Empty keywords fall back to the default
// hotlist; a non-positive threshold falls back to the default.
func New(keywords []string, clientThreshold int) *Classifier {
	if len(keywords) == 0 {
		keywords = DefaultKeywords()
	}
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	if clientThreshold <= 0 {
		clientThreshold = DefaultClientThreshold
	}
	return &Classifier{keywords: lowered, clientThreshold: clientThreshold}
}

// Classify returns the tier for a target given its name fields and the
// number of distinct clients referencing it. Keyword matching is
// case-insensitive substring containment, so a short root like "afri"
// matches many longer names.
func (c *Classifier) Classify(username, fullName string, clientCount int) Tier {
	matched := c.matches(username, fullName)
	multi := clientCount >= c.clientThreshold
	switch {
	case matched && multi:
		return TierHotlistMultiClient
	case matched:
		return TierHotlist
	case multi:
		return TierMultiClient
	default:
		return TierLongTail
	}
}

// ClassifyPage is a convenience wrapper over Classify for page records.
func (c *Classifier) ClassifyPage(page scout.Page) Tier {
	return c.Classify(page.Username, page.Scraped.FullName, page.Linkage.ClientCount)
}

func (c *Classifier) matches(username, fullName string) bool {
	haystack := strings.ToLower(username + " " + fullName)
	for _, kw := range c.keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
