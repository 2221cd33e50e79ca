package rag

import (
	"fmt"
	"strings"

	"kb-rag/internal/models"
)

const sectionSeparator = "\n\n"

// Assemble merges retrieved chunks into one context block bounded by
// maxChars. Chunks are taken in the given (descending score) order until the
// next one would overflow the budget; an overflowing chunk is dropped whole,
// never truncated. The returned sources are the citations actually present
// in the block, deduplicated in inclusion order.
func Assemble(retrieved []models.ScoredChunk, maxChars int) (string, []models.Source) {
	var block strings.Builder
	var citations []models.Source
	seen := map[models.Source]bool{}

	for _, sc := range retrieved {
		src := models.Source{DocumentName: sc.Chunk.DocumentName, PageNumber: sc.Chunk.PageNumber}
		section := FormatMarker(src) + "\n" + sc.Chunk.Text
		needed := len(section)
		if block.Len() > 0 {
			needed += len(sectionSeparator)
		}
		if block.Len()+needed > maxChars {
			break
		}
		if block.Len() > 0 {
			block.WriteString(sectionSeparator)
		}
		block.WriteString(section)
		if !seen[src] {
			seen[src] = true
			src.Score = sc.Score
			citations = append(citations, src)
		}
	}
	return block.String(), citations
}

// FormatMarker renders the inline citation tag used both in assembled context
// and expected back in generated answers.
func FormatMarker(src models.Source) string {
	return fmt.Sprintf("[Source: %s, Page %d]", src.DocumentName, src.PageNumber)
}
