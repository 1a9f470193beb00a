package cache

import "strings"

// NormalizeCode strips the sh/sz market prefix, removes punctuation, and
// keeps the leading 6 digits, per §4.H.
func NormalizeCode(code string) string {
	c := strings.ToLower(strings.TrimSpace(code))
	c = strings.TrimPrefix(c, "sh")
	c = strings.TrimPrefix(c, "sz")
	var digits strings.Builder
	for _, r := range c {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
			if digits.Len() == 6 {
				break
			}
		}
	}
	return digits.String()
}

// WithMarketPrefix adds the sh/sz market prefix: codes starting with
// 5, 6 or 9 are Shanghai ("sh"), everything else is Shenzhen ("sz").
func WithMarketPrefix(code string) string {
	c := NormalizeCode(code)
	if c == "" {
		return c
	}
	switch c[0] {
	case '5', '6', '9':
		return "sh" + c
	default:
		return "sz" + c
	}
}
