package workers

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Chunk budget tuned for text-embedding-3-small: ~1000 tokens keeps every
// chunk well inside the model's 8191-token input limit.
const MaxChunkTokens = 1000

// ExtractedChunk is one unit of chunked page text paired with its locator.
type ExtractedChunk struct {
	Content    string
	ChunkIndex int
	PageNumber int
	TokenCount int
}

// ExtractPDFChunks walks the PDF page by page and chunks each page's text at
// sentence boundaries under the token budget. Chunk indices are contiguous
// from 0 across the whole document. checkCancel, when non-nil, runs before
// each page; returning an error aborts the walk with that error.
func ExtractPDFChunks(path string, maxTokens int, checkCancel func() error) ([]ExtractedChunk, error) {
	if maxTokens <= 0 {
		maxTokens = MaxChunkTokens
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var out []ExtractedChunk
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		if checkCancel != nil {
			if err := checkCancel(); err != nil {
				return nil, err
			}
		}
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract text from page %d: %w", pageNum, err)
		}
		out = append(out, ChunkPageText(text, pageNum, len(out), maxTokens)...)
	}
	return out, nil
}

// ChunkPageText splits one page's text into chunks at sentence boundaries.
// A sentence that alone exceeds the budget still becomes its own chunk; no
// sentence is ever split mid-way.
func ChunkPageText(text string, pageNumber, startIndex, maxTokens int) []ExtractedChunk {
	sentences := SplitSentences(text)

	var (
		out           []ExtractedChunk
		currentChunk  []string
		currentTokens int
	)
	flush := func() {
		if len(currentChunk) == 0 {
			return
		}
		content := strings.Join(currentChunk, " ")
		out = append(out, ExtractedChunk{
			Content:    content,
			ChunkIndex: startIndex + len(out),
			PageNumber: pageNumber,
			TokenCount: currentTokens,
		})
		currentChunk, currentTokens = nil, 0
	}

	for _, sentence := range sentences {
		tokens := CountTokens(sentence)
		if currentTokens+tokens > maxTokens && len(currentChunk) > 0 {
			flush()
		}
		currentChunk = append(currentChunk, sentence)
		currentTokens += tokens
	}
	flush()
	return out
}

// CountTokens approximates the embedding tokenizer by whitespace words.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

// SplitSentences breaks text after `.`, `!` or `?` followed by whitespace.
// The terminator stays with its sentence; whitespace between sentences is
// dropped.
func SplitSentences(text string) []string {
	var (
		out     []string
		current strings.Builder
	)
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(runes) && isSpace(runes[i+1]) {
			if s := strings.TrimSpace(current.String()); s != "" {
				out = append(out, s)
			}
			current.Reset()
			for i+1 < len(runes) && isSpace(runes[i+1]) {
				i++
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f', '\v', ' ':
		return true
	}
	return false
}
