package stream

import (
	"regexp"

	"github.com/microsoft/secure-azureai-agent/pkg/models"
)

// piiPatterns are masked in recorded thread content. Credit cards go before
// phone numbers so a card is never half-matched as a phone.
var piiPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"phone", regexp.MustCompile(`(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
}

// maskPII replaces personal data with a <kind> marker.
func maskPII(s string) string {
	for _, p := range piiPatterns {
		s = p.re.ReplaceAllString(s, "<"+p.kind+">")
	}
	return s
}

func maskDetails(details []models.MessageDetail) []models.MessageDetail {
	out := make([]models.MessageDetail, len(details))
	for i, d := range details {
		d.Content = maskPII(d.Content)
		d.Arguments = maskPII(d.Arguments)
		if s, ok := d.Result.(string); ok {
			d.Result = maskPII(s)
		}
		out[i] = d
	}
	return out
}
