package filename

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentKey(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"2025.03.14 - Weekly Review.md", "Weekly Review"},
		{"2025.03.15 - Weekly Review.srt", "Weekly Review"},
		{"2025.03.14 - [Auto] Weekly Review.md", "Weekly Review"},
		{"[Auto] Weekly Review.md", "Weekly Review"},
		{"[Auto][newsdesk] Weekly Review.md", "Weekly Review"},
		{"Weekly Review.md", "Weekly Review"},
		{"no extension", "no extension"},
		// Date-like text mid-name is untouched.
		{"Review of 2025.03.14 events.md", "Review of 2025.03.14 events"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContentKey(tt.name), "input %q", tt.name)
	}
}

func TestContentKey_Idempotent(t *testing.T) {
	key := ContentKey("2025.03.14 - [Auto] Weekly Review.md")
	assert.Equal(t, key, ContentKey(key))
}

func TestSameContent(t *testing.T) {
	assert.True(t, SameContent("2025.03.14 - Talk.md", "2025.06.01 - Talk.md"))
	assert.True(t, SameContent("2025.03.14 - [Auto] Talk.md", "Talk.srt"))
	assert.False(t, SameContent("2025.03.14 - Talk.md", "2025.03.14 - Other.md"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "unknown", Sanitize(""))
	assert.Equal(t, "a_b", Sanitize(`a/b`))
	assert.Equal(t, "hello_world", Sanitize("hello   world"))
	assert.Equal(t, "clip_1", Sanitize("clip: [1]?"))
	// CJK text passes through.
	assert.Equal(t, "區塊鏈應用", Sanitize("區塊鏈應用"))
	// Leading and trailing separators are trimmed.
	assert.Equal(t, "title", Sanitize("..title__"))
	// Spaced dash separators survive sanitization.
	assert.Equal(t, "Show - Episode_12", Sanitize("Show - Episode 12"))
}

func TestSanitize_TruncatesLongNames(t *testing.T) {
	long := strings.Repeat("a", 100) + strings.Repeat("b", 100)
	got := Sanitize(long)
	assert.Less(t, len(got), len(long))
	assert.Contains(t, got, "...")
	assert.True(t, strings.HasPrefix(got, "a"))
	assert.True(t, strings.HasSuffix(got, "b"))
}

func TestValidArtifact(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "missing.md")
	assert.False(t, ValidArtifact(missing, 10))

	small := filepath.Join(dir, "small.md")
	require.NoError(t, os.WriteFile(small, []byte("hi"), 0o644))
	assert.False(t, ValidArtifact(small, 10))

	blank := filepath.Join(dir, "blank.md")
	require.NoError(t, os.WriteFile(blank, []byte(strings.Repeat(" ", 50)), 0o644))
	assert.False(t, ValidArtifact(blank, 10))

	good := filepath.Join(dir, "good.md")
	require.NoError(t, os.WriteFile(good, []byte(strings.Repeat("content ", 10)), 0o644))
	assert.True(t, ValidArtifact(good, 10))
}

func TestFindMatches(t *testing.T) {
	dir := t.TempDir()
	body := strings.Repeat("line of subtitle text\n", 10)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "2025.01.01 - Talk.srt"), []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2025.02.02 - [Auto] Talk.srt"), []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2025.01.01 - Other.srt"), []byte(body), 0o644))
	// Same key but too small to trust.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2025.03.03 - Talk.srt"), []byte("x"), 0o644))
	// Same key, wrong extension.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2025.01.01 - Talk.md"), []byte(body), 0o644))

	matches := FindMatches(dir, "2025.09.09 - Talk.srt", []string{".srt"}, 100)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, "Talk", ContentKey(filepath.Base(m)))
		assert.True(t, strings.HasSuffix(m, ".srt"))
	}
}

func TestFindMatches_MissingDir(t *testing.T) {
	assert.Nil(t, FindMatches(filepath.Join(t.TempDir(), "nope"), "a.md", nil, 0))
}

func TestFindExistingMedia(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2025.01.01 - My Talk.mp4"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	assert.Equal(t, filepath.Join(dir, "2025.01.01 - My Talk.mp4"), FindExistingMedia(dir, "My Talk"))
	assert.Empty(t, FindExistingMedia(dir, "Other Talk"))
	assert.Empty(t, FindExistingMedia(dir, ""))
	// A text file never counts as media even when the title matches.
	assert.Empty(t, FindExistingMedia(dir, "notes"))
}
