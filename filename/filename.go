// Package filename derives content-equivalence keys from artifact names and
// sanitizes titles into safe file names. Generated artifacts are named
// "YYYY.MM.DD - <title>" (automated runs insert an "[Auto]" marker), so two
// runs of the same source on different days produce different literal names;
// the content key strips that noise so they compare equal.
package filename

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const maxBaseNameLen = 80

var (
	datePrefixRe = regexp.MustCompile(`^\d{4}\.\d{2}\.\d{2} - `)
	autoMarkerRe = regexp.MustCompile(`^\[Auto\](\[[^\]]*\])?\s*`)

	forbiddenRe  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	symbolRe     = regexp.MustCompile("[\\[\\]{}()!@#$%^&+=~`]")
	disallowedRe = regexp.MustCompile(`[^\x{4e00}-\x{9fff}\x{3400}-\x{4dbf}\w\s\-_.]`)
	spaceRunRe   = regexp.MustCompile(`\s+`)
	underRunRe   = regexp.MustCompile(`_+`)
)

// ContentKey returns the normalized content part of a file name: extension,
// leading date stamp and automation marker removed. Names without a
// recognized prefix normalize to their own stem. Pure function, no I/O.
func ContentKey(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	rest := datePrefixRe.ReplaceAllString(stem, "")
	rest = autoMarkerRe.ReplaceAllString(rest, "")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return stem
	}
	return rest
}

// SameContent reports whether two file names refer to logically the same
// content, ignoring date and automation prefixes.
func SameContent(a, b string) bool {
	return ContentKey(a) == ContentKey(b)
}

// Sanitize turns an arbitrary title into a safe file base name: forbidden and
// symbol characters replaced, whitespace and underscore runs collapsed, and
// the result capped by byte length with head/tail truncation for long titles.
func Sanitize(name string) string {
	if name == "" {
		return "unknown"
	}

	name = forbiddenRe.ReplaceAllString(name, "_")
	name = symbolRe.ReplaceAllString(name, "_")
	name = disallowedRe.ReplaceAllString(name, "_")
	name = spaceRunRe.ReplaceAllString(name, "_")
	name = underRunRe.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")

	if len(name) > maxBaseNameLen*2 {
		keepStart := maxBaseNameLen * 6 / 10
		keepEnd := maxBaseNameLen - keepStart - 3
		name = truncateBytes(name, keepStart*2) + "..." + tailBytes(name, keepEnd*2)
	}

	// Dash separators collapse into "_-_" above; restore them for
	// readability.
	name = strings.ReplaceAll(name, "_-_", " - ")

	if name == "" {
		return "unknown"
	}
	return name
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tailBytes keeps at most the last n bytes of s without splitting a rune.
func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !isRuneStart(s[start]) {
		start++
	}
	return s[start:]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// ValidArtifact reports whether path holds a usable text artifact: present,
// larger than minSize bytes, and not blank. Guards against empty or partial
// writes left behind by a crash.
func ValidArtifact(path string, minSize int64) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() <= minSize {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(data))) > 0
}

// FindMatches scans dir for valid artifacts whose content key equals the key
// of name, optionally restricted to the given extensions.
func FindMatches(dir, name string, exts []string, minSize int64) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	key := ContentKey(name)
	var matches []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if len(exts) > 0 && !hasExt(entry.Name(), exts) {
			continue
		}
		if ContentKey(entry.Name()) != key {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !ValidArtifact(path, minSize) {
			continue
		}
		matches = append(matches, path)
	}
	return matches
}

var mediaExts = []string{".mp3", ".wav", ".m4a", ".aac", ".ogg", ".flac", ".mp4", ".webm", ".mkv"}

// FindExistingMedia looks for an already-downloaded media file whose name
// contains the given title. Returns "" when none is found.
func FindExistingMedia(dir, title string) string {
	if title == "" {
		return ""
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() || !hasExt(entry.Name(), mediaExts) {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if strings.Contains(stem, title) {
			return filepath.Join(dir, entry.Name())
		}
	}
	return ""
}

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
