package kb

import (
	"regexp"
	"strings"
	"sync"
)

// tokenPattern matches case-folded word-character runs of length >= 2, the
// same tokenizer the delegation engine scores lexicons with.
var tokenPattern = regexp.MustCompile(`\w{2,}`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// KeywordIndex is an inverted index from token to the chunks containing it.
// Single writer, many readers.
type KeywordIndex struct {
	mu       sync.RWMutex
	postings map[string]map[string]int // token -> chunk id -> occurrences
	byChunk  map[string]map[string]int // chunk id -> token -> occurrences
}

// NewKeywordIndex creates an empty keyword index.
func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{
		postings: make(map[string]map[string]int),
		byChunk:  make(map[string]map[string]int),
	}
}

// Add indexes a chunk's text. Re-adding a chunk id replaces its postings.
func (k *KeywordIndex) Add(chunkID, text string) {
	counts := make(map[string]int)
	for _, tok := range tokenize(text) {
		counts[tok]++
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.removeLocked(chunkID)
	k.byChunk[chunkID] = counts
	for tok, n := range counts {
		m, ok := k.postings[tok]
		if !ok {
			m = make(map[string]int)
			k.postings[tok] = m
		}
		m[chunkID] = n
	}
}

// Remove drops a chunk from the index.
func (k *KeywordIndex) Remove(chunkID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.removeLocked(chunkID)
}

func (k *KeywordIndex) removeLocked(chunkID string) {
	counts, ok := k.byChunk[chunkID]
	if !ok {
		return
	}
	for tok := range counts {
		if m, ok := k.postings[tok]; ok {
			delete(m, chunkID)
			if len(m) == 0 {
				delete(k.postings, tok)
			}
		}
	}
	delete(k.byChunk, chunkID)
}

// Query returns per-chunk hit counts for the query tokens: the number of
// distinct query tokens each chunk contains.
func (k *KeywordIndex) Query(tokens []string) map[string]int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	hits := make(map[string]int)
	for _, tok := range tokens {
		for chunkID := range k.postings[tok] {
			hits[chunkID]++
		}
	}
	return hits
}

// ChunkIDs returns every indexed chunk id.
func (k *KeywordIndex) ChunkIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.byChunk))
	for id := range k.byChunk {
		out = append(out, id)
	}
	return out
}

// Len returns the number of indexed chunks.
func (k *KeywordIndex) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.byChunk)
}

// Snapshot returns a copy of the postings for persistence.
func (k *KeywordIndex) Snapshot() map[string]map[string]int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]map[string]int, len(k.byChunk))
	for chunkID, counts := range k.byChunk {
		cp := make(map[string]int, len(counts))
		for tok, n := range counts {
			cp[tok] = n
		}
		out[chunkID] = cp
	}
	return out
}

// Restore replaces the index content from a persisted snapshot.
func (k *KeywordIndex) Restore(snapshot map[string]map[string]int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.postings = make(map[string]map[string]int)
	k.byChunk = make(map[string]map[string]int, len(snapshot))
	for chunkID, counts := range snapshot {
		cp := make(map[string]int, len(counts))
		for tok, n := range counts {
			cp[tok] = n
			m, ok := k.postings[tok]
			if !ok {
				m = make(map[string]int)
				k.postings[tok] = m
			}
			m[chunkID] = n
		}
		k.byChunk[chunkID] = cp
	}
}
