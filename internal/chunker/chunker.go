package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// Piece is one window of cleaned page text, in page order.
type Piece struct {
	Text  string
	Index int
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	controlRe    = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// Clean normalizes whitespace and strips control characters. Chunk expects
// its input to already be cleaned; callers run Clean on extracted page text
// and on query text before embedding.
func Clean(text string) string {
	text = controlRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// Chunk slides a window of chunkSize characters over text, advancing by
// chunkSize-overlap each step. The final chunk may be shorter; it is never
// padded. Windows are counted in runes, never split mid-rune, so the same
// input always yields byte-identical chunks.
func Chunk(text string, chunkSize, overlap int) ([]Piece, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must satisfy 0 <= overlap < chunk size, got overlap=%d size=%d", overlap, chunkSize)
	}
	if text == "" {
		return nil, nil
	}

	var pieces []Piece
	runes := []rune(text)
	n := len(runes)
	start := 0
	for i := 0; start < n; i++ {
		end := start + chunkSize
		if end > n {
			end = n
		}
		pieces = append(pieces, Piece{Text: string(runes[start:end]), Index: i})
		if end == n {
			break
		}
		start = end - overlap
	}
	return pieces, nil
}

// Reassemble concatenates pieces with their overlap removed, reconstructing
// the original text. Used to verify chunk coverage.
func Reassemble(pieces []Piece, overlap int) string {
	var b strings.Builder
	for i, p := range pieces {
		if i == 0 {
			b.WriteString(p.Text)
			continue
		}
		runes := []rune(p.Text)
		if len(runes) > overlap {
			b.WriteString(string(runes[overlap:]))
		}
	}
	return b.String()
}
