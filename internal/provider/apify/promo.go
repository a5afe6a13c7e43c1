package apify

import (
	"fmt"
	"regexp"
	"strings"
)

// promoKeywords are bio phrases signalling openness to paid promotion.
var promoKeywords = []string{
	"collab", "collaboration", "business inquiries", "partnerships",
	"dm for business", "sponsorship", "brand deals", "promotion",
	"advertising", "marketing", "dm for collab",
}

var emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

// DetectPromoSignals scans a bio for promo-openness indicators and
// returns a status plus the matched signals. Status is "warm" when any
// indicator matched, "unknown" otherwise.
func DetectPromoSignals(bio string) (string, []string) {
	bioLower := strings.ToLower(bio)
	var signals []string
	for _, kw := range promoKeywords {
		if strings.Contains(bioLower, kw) {
			signals = append(signals, fmt.Sprintf("bio mentions %q", kw))
		}
	}
	if emailPattern.MatchString(bio) {
		signals = append(signals, "business email in bio")
	}
	if len(signals) > 0 {
		return "warm", signals
	}
	return "unknown", nil
}

// ExtractEmail returns the first email address found in the text, or "".
func ExtractEmail(text string) string {
	return emailPattern.FindString(text)
}
