package media

import (
	"fmt"
	"strings"
	"time"
)

// Segment is one timed span of transcribed speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// FormatSRT renders segments as a standard SRT document. Segments with blank
// text are dropped and numbering stays contiguous.
func FormatSRT(segments []Segment) string {
	var b strings.Builder
	idx := 1
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", idx, srtTimestamp(seg.Start), srtTimestamp(seg.End), text)
		idx++
	}
	return b.String()
}

// PlainText joins the segment texts into one paragraph per segment, which is
// what the summarizer consumes.
func PlainText(segments []Segment) string {
	var lines []string
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

// StripSRT reduces an SRT document to its text lines so subtitle tracks can
// feed the summarizer the same way transcriptions do.
func StripSRT(content string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || indexLineRe.MatchString(trimmed) || srtTimeRe.MatchString(line) {
			continue
		}
		lines = append(lines, trimmed)
	}
	return strings.Join(lines, "\n")
}

func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
