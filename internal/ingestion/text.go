// Package ingestion normalizes user supplied text before it is stored or sent to the model.
package ingestion

import (
	"regexp"
	"strings"
)

var (
	spaceRun     = regexp.MustCompile(`[ \t\f\v]+`)
	blankLineRun = regexp.MustCompile(`\n\n\n+`)
)

// bulletMarkers are glyphs pasted from job boards and word processors that mean "- "
var bulletMarkers = []string{"• ", "· ", "▪ ", "◦ ", "– "}

// CleanText normalizes pasted text while preserving its structure: line endings become LF,
// glyph bullets become "- ", runs of spaces collapse, and at most one blank line separates
// paragraphs. Markdown headings and bullet indentation are kept.
func CleanText(content string) string {
	if content == "" {
		return ""
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	content = strings.ReplaceAll(content, "\u00a0", " ")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = cleanLine(line)
	}

	result := strings.Join(lines, "\n")
	result = blankLineRun.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}

// cleanLine cleans a single line, keeping its leading indentation
func cleanLine(line string) string {
	line = strings.TrimRight(line, " \t")
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" {
		return ""
	}

	// headings lose their indentation
	if strings.HasPrefix(trimmed, "#") {
		return spaceRun.ReplaceAllString(trimmed, " ")
	}

	indent := line[:len(line)-len(trimmed)]
	indent = strings.ReplaceAll(indent, "\t", "  ")
	return indent + spaceRun.ReplaceAllString(normalizeBullet(trimmed), " ")
}

// normalizeBullet rewrites a leading glyph bullet as a markdown bullet
func normalizeBullet(line string) string {
	for _, marker := range bulletMarkers {
		if rest, ok := strings.CutPrefix(line, marker); ok {
			return "- " + strings.TrimLeft(rest, " ")
		}
	}
	if rest, ok := strings.CutPrefix(line, "* "); ok {
		return "- " + strings.TrimLeft(rest, " ")
	}
	return line
}
