package kb

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/execdesk/execdesk/internal/common/errors"
)

// vectorEntry is one stored chunk with its embedding.
type vectorEntry struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Vector     []float32      `json:"vector"`
}

// VectorStore holds chunk embeddings with optional JSON persistence under
// dir/vectors/<collection>.json. An empty dir keeps the store in memory.
type VectorStore struct {
	mu         sync.RWMutex
	entries    map[string]*vectorEntry
	dir        string
	collection string
}

// NewVectorStore opens (or creates) the vector collection.
func NewVectorStore(dir, collection string) (*VectorStore, error) {
	s := &VectorStore{
		entries:    make(map[string]*vectorEntry),
		dir:        dir,
		collection: collection,
	}
	if dir == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Join(dir, "vectors"), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create vector store directory")
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *VectorStore) path() string {
	return filepath.Join(s.dir, "vectors", s.collection+".json")
}

func (s *VectorStore) load() error {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to read vector store")
	}
	var entries []*vectorEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return errors.Wrap(err, "corrupt vector store file")
	}
	for _, e := range entries {
		s.entries[e.ChunkID] = e
	}
	return nil
}

// persistLocked writes the collection to disk. Caller holds the write lock.
func (s *VectorStore) persistLocked() error {
	if s.dir == "" {
		return nil
	}
	entries := make([]*vectorEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ChunkID < entries[j].ChunkID })

	data, err := json.Marshal(entries)
	if err != nil {
		return errors.Wrap(err, "failed to marshal vector store")
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write vector store")
	}
	return os.Rename(tmp, s.path())
}

// Add stores chunks with their embeddings. Chunks and vectors are parallel
// slices. Existing chunk ids are overwritten.
func (s *VectorStore) Add(chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.BadRequest("chunks and vectors must have equal length")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ch := range chunks {
		s.entries[ch.ID] = &vectorEntry{
			ChunkID:    ch.ID,
			DocumentID: ch.DocumentID,
			Content:    ch.Content,
			Metadata:   ch.Metadata,
			Vector:     vectors[i],
		}
	}
	return s.persistLocked()
}

// Remove drops the given chunk ids.
func (s *VectorStore) Remove(chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chunkIDs {
		delete(s.entries, id)
	}
	return s.persistLocked()
}

// Hit is one nearest-neighbor result.
type Hit struct {
	ChunkID    string
	DocumentID string
	Content    string
	Metadata   map[string]any
	Similarity float64 // 1 - cosine distance, clamped to [0, 1]
}

// Query returns the topK most similar chunks to the query vector, most
// similar first. The optional filter restricts candidates.
func (s *VectorStore) Query(vector []float32, topK int, filter func(documentID string, metadata map[string]any) bool) []Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]Hit, 0, len(s.entries))
	for _, e := range s.entries {
		if filter != nil && !filter(e.DocumentID, e.Metadata) {
			continue
		}
		sim := CosineSimilarity(vector, e.Vector)
		hits = append(hits, Hit{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Content:    e.Content,
			Metadata:   e.Metadata,
			Similarity: sim,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Get returns one stored chunk with its vector.
func (s *VectorStore) Get(chunkID string) (Chunk, []float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[chunkID]
	if !ok {
		return Chunk{}, nil, false
	}
	return Chunk{ID: e.ChunkID, DocumentID: e.DocumentID, Content: e.Content, Metadata: e.Metadata}, e.Vector, true
}

// ChunksForDocument returns the ids of a document's stored chunks.
func (s *VectorStore) ChunksForDocument(documentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, e := range s.entries {
		if e.DocumentID == documentID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// All returns every stored chunk with its vector, for compaction.
func (s *VectorStore) All() ([]Chunk, [][]float32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	chunks := make([]Chunk, 0, len(ids))
	vectors := make([][]float32, 0, len(ids))
	for _, id := range ids {
		e := s.entries[id]
		chunks = append(chunks, Chunk{ID: e.ChunkID, DocumentID: e.DocumentID, Content: e.Content, Metadata: e.Metadata})
		vectors = append(vectors, e.Vector)
	}
	return chunks, vectors
}

// Len returns the number of stored chunks.
func (s *VectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Reset drops every entry, for compaction rebuilds.
func (s *VectorStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*vectorEntry)
	return s.persistLocked()
}

// CosineSimilarity computes 1 - cosine distance, clamped to [0, 1]. A zero
// vector on either side yields 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// cosine in [-1, 1]; clamp the similarity to [0, 1]
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
