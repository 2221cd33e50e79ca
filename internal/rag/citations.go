package rag

import (
	"regexp"
	"strconv"
	"strings"

	"kb-rag/internal/models"
)

// Marker grammar: "[Source: <document name>, Page <n>]". Model output is
// fuzzy, so whitespace around the fields is tolerated; the document name may
// itself contain commas.
var markerRe = regexp.MustCompile(`\[Source:\s*(.+?),\s*Page\s*(\d+)\s*\]`)

// ParseCitations extracts every well-formed citation marker from generated
// text, deduplicated in order of first appearance. Score is not part of the
// marker and is left zero.
func ParseCitations(text string) []models.Source {
	var out []models.Source
	seen := map[models.Source]bool{}
	for _, m := range markerRe.FindAllStringSubmatch(text, -1) {
		page, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		src := models.Source{DocumentName: strings.TrimSpace(m[1]), PageNumber: page}
		if seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}
