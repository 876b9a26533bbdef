package fetcher

import (
	"regexp"
	"strings"
)

var (
	subtitleTagRe       = regexp.MustCompile(`<[^>]*>`)
	subtitleTimestampRe = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2})?[.,]\d{3}\s+-->`)
	cueIndexRe          = regexp.MustCompile(`^\d+$`)
)

// ParseSubtitles converts VTT or SRT caption text to plain prose: headers,
// cue indices, timestamp lines, and inline tags are dropped, and
// consecutive duplicate lines (the rolling-caption artifact) collapse to
// one.
func ParseSubtitles(raw string) string {
	var out []string
	prev := ""
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isSubtitleMetadata(line) {
			continue
		}
		line = strings.TrimSpace(subtitleTagRe.ReplaceAllString(line, ""))
		if line == "" || line == prev {
			continue
		}
		out = append(out, line)
		prev = line
	}
	return strings.Join(out, "\n")
}

func isSubtitleMetadata(line string) bool {
	switch {
	case line == "WEBVTT",
		strings.HasPrefix(line, "Kind:"),
		strings.HasPrefix(line, "Language:"),
		strings.HasPrefix(line, "NOTE"),
		strings.HasPrefix(line, "STYLE"):
		return true
	case cueIndexRe.MatchString(line):
		return true
	case subtitleTimestampRe.MatchString(line), strings.Contains(line, "-->"):
		return true
	}
	return false
}
