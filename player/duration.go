package player

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatDuration renders a millisecond count as colon-separated text.
// Values under an hour render as M:SS, everything else as H:MM:SS.
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	s := total % 60
	m := (total / 60) % 60
	h := total / 3600
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ParseDuration is the inverse of FormatDuration. Each colon-separated
// component is worth 60x the component to its right; the result is scaled
// to milliseconds. Malformed input yields 0.
func ParseDuration(text string) int64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	var total int64
	for _, part := range strings.Split(text, ":") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total * 1000
}

// NormalizeDuration re-renders heterogeneous duration text ("03:7", "1:02:03",
// " 45 ") into the single format FormatDuration produces.
func NormalizeDuration(text string) string {
	return FormatDuration(ParseDuration(text))
}
