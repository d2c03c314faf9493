package service

import (
	"fmt"
	"strings"
	"time"
)

// ProvisionalEmail builds the synthetic address that anchors an unmatched
// spreadsheet name to a real identity record. Pure: the clock is an input so
// collision behaviour under rapid repeated calls is testable.
func ProvisionalEmail(fullName string, now time.Time) string {
	tokens := strings.Fields(strings.ToLower(fullName))
	first := "unknown"
	if len(tokens) > 0 {
		first = sanitizeToken(tokens[0])
	}
	local := first
	if len(tokens) > 1 {
		if last := sanitizeToken(tokens[len(tokens)-1]); last != "" {
			local = first + "." + last
		}
	}
	if local == "" {
		local = "unknown"
	}
	return fmt.Sprintf("%s.%d@provisional.import", local, now.UnixNano())
}

func sanitizeToken(token string) string {
	var b strings.Builder
	for _, r := range token {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
