// Package policy masks personal data and credentials before text leaves the
// process or reaches storage.
package policy

import "regexp"

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Card runs before phone so long digit runs are not classified as phones.
var piiRules = []rule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

var secretRules = []rule{
	{regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`), "[REDACTED_KEY]"},
	{regexp.MustCompile(`(?i)([?&](?:key|api_key|access_token)=)[^&\s"']+`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._\-]+`), "${1}[REDACTED]"},
}

func apply(rules []rule, input string) (string, bool) {
	out := input
	changed := false
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.replacement)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// RedactPII masks email addresses, card numbers and phone numbers.
func RedactPII(input string) (redacted string, changed bool) {
	return apply(piiRules, input)
}

// RedactSecrets masks API keys and bearer tokens, e.g. in transport errors
// that echo a request URL.
func RedactSecrets(input string) string {
	out, _ := apply(secretRules, input)
	return out
}
