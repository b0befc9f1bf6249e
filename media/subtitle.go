package media

import (
	"regexp"
	"strings"
)

var (
	srtTimeRe   = regexp.MustCompile(`\d{2}:\d{2}:\d{2},\d{3} --> \d{2}:\d{2}:\d{2},\d{3}`)
	indexLineRe = regexp.MustCompile(`^\d+$`)
)

// ScoreSubtitle rates subtitle content on a 1-10 scale. The heuristic starts
// from a neutral 5 and adjusts for content length, timeline completeness,
// average line length, CJK density and track source.
func ScoreSubtitle(content, source string) int {
	score := 5

	if len(content) < 100 {
		score -= 3
	} else if len(content) > 1000 {
		score++
	}

	switch matches := len(srtTimeRe.FindAllString(content, -1)); {
	case matches == 0:
		score -= 4
	case matches < 5:
		score -= 2
	default:
		score++
	}

	var textLines []string
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || indexLineRe.MatchString(trimmed) || srtTimeRe.MatchString(line) {
			continue
		}
		textLines = append(textLines, line)
	}

	if len(textLines) > 0 {
		total := 0
		cjk := 0
		for _, line := range textLines {
			total += len([]rune(line))
			for _, r := range line {
				if r >= 0x4e00 && r <= 0x9fff {
					cjk++
				}
			}
		}
		avg := float64(total) / float64(len(textLines))
		if avg < 5 {
			score -= 2
		} else if avg > 20 {
			score++
		}
		if total > 0 && float64(cjk)/float64(total) > 0.3 {
			score++
		}
	}

	switch source {
	case "manual":
		score += 2
	case "auto":
		score--
	}

	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

// ShouldUseSubtitle decides whether a scored track is good enough to replace a
// local transcription. Manual tracks get a lower bar than auto-generated ones.
func ShouldUseSubtitle(score int, source string, threshold int) bool {
	if source == "manual" {
		floor := threshold - 2
		if floor < 5 {
			floor = 5
		}
		return score >= floor
	}
	return score >= threshold
}
