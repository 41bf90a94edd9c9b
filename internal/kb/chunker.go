package kb

import (
	"strings"
)

// Chunker splits document content into overlapping chunks. Splitting is
// deterministic over (content, size, overlap): the same input always yields
// the same chunk boundaries.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given target chunk size and overlap,
// both in characters. Overlap must be smaller than size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// boundaryTolerance is how far back from the target cut the chunker will
// look for a paragraph or sentence boundary, as a fraction of chunk size.
const boundaryTolerance = 0.2

// Split chunks content for the given document. Cuts prefer paragraph breaks,
// then sentence ends, when one falls within the tolerance window of the
// target size; otherwise the cut lands on the character boundary.
func (c *Chunker) Split(documentID, content string) []Chunk {
	runes := []rune(content)
	if len(strings.TrimSpace(content)) == 0 {
		return nil
	}
	if len(runes) <= c.size {
		return []Chunk{{
			ID:         ChunkID(documentID, 0),
			DocumentID: documentID,
			Content:    content,
			Metadata:   map[string]any{"chunk_index": 0, "chunk_count": 1},
		}}
	}

	window := int(float64(c.size) * boundaryTolerance)
	var pieces []string
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			pieces = append(pieces, string(runes[start:]))
			break
		}
		cut := c.findBoundary(runes, start, end, window)
		pieces = append(pieces, string(runes[start:cut]))
		next := cut - c.overlap
		if next <= start {
			next = cut // overlap would stall progress
		}
		start = next
	}

	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, Chunk{
			ID:         ChunkID(documentID, i),
			DocumentID: documentID,
			Content:    piece,
			Metadata:   map[string]any{"chunk_index": i, "chunk_count": len(pieces)},
		})
	}
	return chunks
}

// findBoundary looks backwards from end for a paragraph break, then a
// sentence end, within the tolerance window. Returns the cut position.
func (c *Chunker) findBoundary(runes []rune, start, end, window int) int {
	low := end - window
	if low < start+1 {
		low = start + 1
	}

	// paragraph break: blank line
	for i := end; i > low; i-- {
		if i >= 2 && runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	// sentence end: terminator followed by whitespace
	for i := end; i > low; i-- {
		r := runes[i-1]
		if (r == '.' || r == '!' || r == '?') && i < len(runes) && isSpace(runes[i]) {
			return i
		}
	}
	return end
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
