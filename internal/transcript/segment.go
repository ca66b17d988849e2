// Package transcript turns timestamped recognizer segments into the
// time-labelled text blocks printed in the archival document.
package transcript

import (
	"fmt"
	"strings"
)

// Segment is one recognized stretch of speech. Times are in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Flatten joins the trimmed segment texts with single spaces. It is used as the
// preview text when the recognizer does not supply a flattened transcript.
func Flatten(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if text := strings.TrimSpace(s.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Clock renders a number of seconds as MM:SS. Minutes are not wrapped into
// hours, so 3725 seconds renders as "62:05".
func Clock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func label(from, to float64) string {
	return "[" + Clock(from) + " - " + Clock(to) + "]"
}
