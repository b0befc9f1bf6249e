package media

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// makeSRT builds a well-formed SRT document with n cues.
func makeSRT(n int, line string) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%d\n00:00:%02d,000 --> 00:00:%02d,500\n%s\n\n", i+1, i, i, line)
	}
	return b.String()
}

func TestScoreSubtitle(t *testing.T) {
	t.Run("well-formed manual subtitle scores high", func(t *testing.T) {
		content := makeSRT(40, "this is a reasonably long subtitle line")
		score := ScoreSubtitle(content, "manual")
		// 5 +1 length +1 timeline +1 avg line +2 manual
		assert.Equal(t, 10, score)
	})

	t.Run("same content as auto scores lower", func(t *testing.T) {
		content := makeSRT(40, "this is a reasonably long subtitle line")
		manual := ScoreSubtitle(content, "manual")
		auto := ScoreSubtitle(content, "auto")
		assert.Less(t, auto, manual)
	})

	t.Run("short content is penalized", func(t *testing.T) {
		score := ScoreSubtitle("1\n00:00:00,000 --> 00:00:01,000\nhi\n", "manual")
		assert.LessOrEqual(t, score, 4)
	})

	t.Run("missing timeline is heavily penalized", func(t *testing.T) {
		content := strings.Repeat("plain text without any timestamps whatsoever\n", 30)
		score := ScoreSubtitle(content, "auto")
		assert.LessOrEqual(t, score, 3)
	})

	t.Run("cjk content gets a bonus", func(t *testing.T) {
		latin := makeSRT(40, "subtitle line text here")
		cjk := makeSRT(40, "這是一段相當長的中文字幕內容文字")
		assert.GreaterOrEqual(t, ScoreSubtitle(cjk, "auto"), ScoreSubtitle(latin, "auto"))
	})

	t.Run("score stays within bounds", func(t *testing.T) {
		assert.GreaterOrEqual(t, ScoreSubtitle("", "auto"), 1)
		assert.LessOrEqual(t, ScoreSubtitle(makeSRT(100, "很長很長的中文字幕行內容在這裡出現了"), "manual"), 10)
	})
}

func TestShouldUseSubtitle(t *testing.T) {
	// Manual tracks get a lower acceptance bar.
	assert.True(t, ShouldUseSubtitle(5, "manual", 7))
	assert.False(t, ShouldUseSubtitle(4, "manual", 7))
	assert.False(t, ShouldUseSubtitle(6, "auto", 7))
	assert.True(t, ShouldUseSubtitle(7, "auto", 7))

	// The manual floor never drops below 5 even for a low threshold.
	assert.False(t, ShouldUseSubtitle(4, "manual", 3))
	assert.True(t, ShouldUseSubtitle(5, "manual", 3))
}
