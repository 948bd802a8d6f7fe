package util

import (
	"regexp"
	"strings"
)

var phoneRe = regexp.MustCompile(`[^\d\+]+`)

// NormalizePhone strips formatting noise from user-entered phone numbers.
// Numbers dialed with the 00 international prefix become +-prefixed.
func NormalizePhone(raw string) string {
	s := phoneRe.ReplaceAllString(strings.TrimSpace(raw), "")
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	return s
}
