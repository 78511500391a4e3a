package mailbox

import "regexp"

// Extraction patterns ordered from most to least specific. The first
// match wins, so a labelled 4-digit code beats a bare 6-digit number
// elsewhere in the body.
var codePatterns = []*regexp.Regexp{
	// "code: 482913", "OTP: 4821", Arabic labels رمز / كود
	regexp.MustCompile(`(?i)(?:verification\s+code|one[- ]time\s+code|code|otp|رمز|كود)\s*[:：]?\s*(\d{4,8})`),
	// "your code is 482913", "your OSN code is 739201"
	regexp.MustCompile(`(?i)your\s+(?:\S+\s+)?code\s+is\s*[:：]?\s*(\d{4,8})`),
	// standalone 6-digit token
	regexp.MustCompile(`(?:^|\D)(\d{6})(?:\D|$)`),
	// 4-digit fallback; known risk of picking up unrelated numbers
	regexp.MustCompile(`(?:^|\D)(\d{4})(?:\D|$)`),
}

// extractCode applies the pattern list to a normalized body and returns
// the first captured code, or "" when nothing matched.
func extractCode(body string) string {
	for _, pattern := range codePatterns {
		if m := pattern.FindStringSubmatch(body); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}
