package recovery

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// overflowPatterns matches provider error text indicating the assembled
// request exceeded the input limit. Deliberately permissive: upstream
// error text is not standardized across providers.
var overflowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)context window (is )?full`),
	regexp.MustCompile(`(?i)maximum context length`),
	regexp.MustCompile(`(?i)context[_ ]length[_ ]exceeded`),
	regexp.MustCompile(`(?i)too many tokens`),
	regexp.MustCompile(`(?i)input (is )?too long`),
	regexp.MustCompile(`(?i)prompt is too long`),
	regexp.MustCompile(`(?i)exceeds? (the )?(token|context) limit`),
	regexp.MustCompile(`(?i)request (is )?too large`),
	regexp.MustCompile(`(?i)reduce the length`),
}

// IsOverflowError reports whether the error indicates a context overflow.
// When the error text embeds a JSON API error body, the structured
// error.type and error.message fields are inspected as well.
func IsOverflowError(err error) bool {
	if err == nil {
		return false
	}
	text := err.Error()

	if matchesOverflow(text) {
		return true
	}

	// API clients often stringify the whole response body. Pull the
	// structured message out so patterns are not defeated by escaping.
	if start := strings.IndexByte(text, '{'); start >= 0 {
		body := text[start:]
		if gjson.Valid(body) {
			if msg := gjson.Get(body, "error.message"); msg.Exists() && matchesOverflow(msg.String()) {
				return true
			}
			if typ := gjson.Get(body, "error.type"); typ.String() == "context_length_exceeded" {
				return true
			}
		}
	}

	return false
}

func matchesOverflow(text string) bool {
	for _, re := range overflowPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
