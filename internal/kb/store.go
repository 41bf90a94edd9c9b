package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/execdesk/execdesk/internal/common/config"
	"github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/common/logger"
)

// Filter restricts search candidates. A nil filter matches everything.
type Filter func(documentID string, metadata map[string]any) bool

// Store is the hybrid retrieval index: documents chunked into both a vector
// store and an inverted keyword index, searchable with a tunable mix of the
// two. Internally synchronized; safe for concurrent callers.
//
// Multi-index mutations take locks in a fixed order: version index, then
// vector store, then keyword index.
type Store struct {
	chunker  *Chunker
	vectors  *VectorStore
	keywords *KeywordIndex
	cache    *EmbeddingCache
	embedder Embedder
	logger   *logger.Logger

	dir string

	// mu guards documents and the on-disk version index.
	mu        sync.RWMutex
	documents map[string]*Document

	// healthMu guards fatalErr, the first persistence failure observed.
	healthMu sync.Mutex
	fatalErr error
}

// NewStore opens the knowledge store rooted at cfg.PersistDirectory. An
// empty directory keeps everything in memory.
func NewStore(cfg config.KnowledgeConfig, embedder Embedder, log *logger.Logger) (*Store, error) {
	vectors, err := NewVectorStore(cfg.PersistDirectory, cfg.Collection)
	if err != nil {
		return nil, err
	}
	var cache *EmbeddingCache
	if cfg.CacheEnabled {
		cache, err = NewEmbeddingCache(cfg.PersistDirectory, cfg.Collection, log)
		if err != nil {
			return nil, err
		}
	}

	s := &Store{
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		vectors:   vectors,
		keywords:  NewKeywordIndex(),
		cache:     cache,
		embedder:  embedder,
		logger:    log,
		dir:       cfg.PersistDirectory,
		documents: make(map[string]*Document),
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	// A missing or unreadable keyword index file is not fatal; the index is
	// rebuilt from the persisted chunk set.
	if !s.loadKeywordIndex() {
		chunks, _ := vectors.All()
		for _, ch := range chunks {
			s.keywords.Add(ch.ID, ch.Content)
		}
	}

	log.Info("opened knowledge store",
		zap.Int("documents", len(s.documents)),
		zap.Int("chunks", vectors.Len()))
	return s, nil
}

func (s *Store) documentsPath() string { return filepath.Join(s.dir, "documents.json") }
func (s *Store) keywordIndexPath() string {
	return filepath.Join(s.dir, "keyword_index.json")
}
func (s *Store) versionsDir() string   { return filepath.Join(s.dir, "versions") }
func (s *Store) versionIndexPath() string {
	return filepath.Join(s.dir, "version_index.json")
}

func (s *Store) load() error {
	if s.dir == "" {
		return nil
	}
	data, err := os.ReadFile(s.documentsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "failed to read documents file")
	}
	var docs []*Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return errors.Wrap(err, "corrupt documents file")
	}
	for _, d := range docs {
		s.documents[d.ID] = d
	}

	// Reattach archived versions from the version index.
	idx, err := s.readVersionIndex()
	if err != nil {
		return err
	}
	for docID, versions := range idx {
		doc, ok := s.documents[docID]
		if !ok {
			continue
		}
		sort.Ints(versions)
		for _, v := range versions {
			snap, err := s.readVersionFile(docID, v)
			if err != nil {
				s.logger.Warn("skipping unreadable version snapshot",
					zap.String("document_id", docID), zap.Int("version", v), zap.Error(err))
				continue
			}
			doc.PreviousVersions = append(doc.PreviousVersions, *snap)
		}
	}
	return nil
}

// loadKeywordIndex restores the inverted index from its serialized form.
// Reports whether a usable snapshot was found.
func (s *Store) loadKeywordIndex() bool {
	if s.dir == "" {
		return false
	}
	data, err := os.ReadFile(s.keywordIndexPath())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read keyword index, rebuilding", zap.Error(err))
		}
		return false
	}
	var snapshot map[string]map[string]int
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.logger.Warn("corrupt keyword index, rebuilding", zap.Error(err))
		return false
	}
	s.keywords.Restore(snapshot)
	return true
}

func (s *Store) persistKeywordIndex() error {
	if s.dir == "" {
		return nil
	}
	data, err := json.Marshal(s.keywords.Snapshot())
	if err != nil {
		return s.recordFatal(errors.Wrap(err, "failed to marshal keyword index"))
	}
	tmp := s.keywordIndexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return s.recordFatal(errors.Wrap(err, "failed to write keyword index"))
	}
	if err := os.Rename(tmp, s.keywordIndexPath()); err != nil {
		return s.recordFatal(errors.Wrap(err, "failed to replace keyword index"))
	}
	return nil
}

// recordFatal latches the first persistence failure; Health reports the
// store degraded from then on. Returns err for call-site chaining.
func (s *Store) recordFatal(err error) error {
	s.healthMu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	s.healthMu.Unlock()
	return err
}

// Health reports nil while the store's persistence layer is intact.
func (s *Store) Health() error {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	return s.fatalErr
}

// persistDocumentsLocked writes the current document set. Caller holds mu.
func (s *Store) persistDocumentsLocked() error {
	if s.dir == "" {
		return nil
	}
	docs := make([]*Document, 0, len(s.documents))
	for _, d := range s.documents {
		// previous versions live in their own files
		cp := *d
		cp.PreviousVersions = nil
		docs = append(docs, &cp)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	data, err := json.Marshal(docs)
	if err != nil {
		return s.recordFatal(errors.Wrap(err, "failed to marshal documents"))
	}
	tmp := s.documentsPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return s.recordFatal(errors.Wrap(err, "failed to write documents file"))
	}
	if err := os.Rename(tmp, s.documentsPath()); err != nil {
		return s.recordFatal(errors.Wrap(err, "failed to replace documents file"))
	}
	return nil
}

func (s *Store) readVersionIndex() (map[string][]int, error) {
	idx := make(map[string][]int)
	if s.dir == "" {
		return idx, nil
	}
	data, err := os.ReadFile(s.versionIndexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, errors.Wrap(err, "failed to read version index")
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, errors.Wrap(err, "corrupt version index")
	}
	return idx, nil
}

func (s *Store) writeVersionIndex(idx map[string][]int) error {
	if s.dir == "" {
		return nil
	}
	data, err := json.Marshal(idx)
	if err != nil {
		return s.recordFatal(errors.Wrap(err, "failed to marshal version index"))
	}
	tmp := s.versionIndexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return s.recordFatal(errors.Wrap(err, "failed to write version index"))
	}
	if err := os.Rename(tmp, s.versionIndexPath()); err != nil {
		return s.recordFatal(errors.Wrap(err, "failed to replace version index"))
	}
	return nil
}

func (s *Store) versionFilePath(docID string, version int) string {
	return filepath.Join(s.versionsDir(), fmt.Sprintf("%s_v%d.json", docID, version))
}

func (s *Store) readVersionFile(docID string, version int) (*Version, error) {
	data, err := os.ReadFile(s.versionFilePath(docID, version))
	if err != nil {
		return nil, err
	}
	var v Version
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// archiveVersion writes one snapshot file and updates the version index.
func (s *Store) archiveVersion(docID string, snap Version) error {
	if s.dir == "" {
		return nil
	}
	if err := os.MkdirAll(s.versionsDir(), 0o755); err != nil {
		return s.recordFatal(errors.Wrap(err, "failed to create versions directory"))
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return s.recordFatal(errors.Wrap(err, "failed to marshal version snapshot"))
	}
	if err := os.WriteFile(s.versionFilePath(docID, snap.Version), data, 0o644); err != nil {
		return s.recordFatal(errors.Wrap(err, "failed to write version snapshot"))
	}
	idx, err := s.readVersionIndex()
	if err != nil {
		return err
	}
	idx[docID] = appendUniqueInt(idx[docID], snap.Version)
	return s.writeVersionIndex(idx)
}

func appendUniqueInt(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

// embed resolves vectors for texts, consulting the cache first.
func (s *Store) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if s.cache != nil {
			if vec, ok := s.cache.Get(text); ok {
				out[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) > 0 {
		vecs, err := s.embedder.Embed(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			out[missIdx[j]] = vec
			if s.cache != nil {
				s.cache.Put(missTexts[j], vec)
			}
		}
	}
	return out, nil
}

// AddDocument ingests content: chunk, embed, index. Returns the stored
// document at version 1.
func (s *Store) AddDocument(ctx context.Context, sourceType SourceType, sourceName, content string, metadata map[string]any) (*Document, error) {
	if content == "" {
		return nil, errors.ValidationError("content", "must not be empty")
	}
	if _, ok := ParseSourceType(string(sourceType)); !ok {
		return nil, errors.ValidationError("source_type", fmt.Sprintf("unknown source type %q", sourceType))
	}

	now := time.Now().UTC()
	doc := &Document{
		ID:         uuid.New().String(),
		SourceType: sourceType,
		SourceName: sourceName,
		Content:    content,
		Metadata:   withContentMetadata(metadata, content, now),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.indexDocument(ctx, doc); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.documents[doc.ID] = doc
	err := s.persistDocumentsLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.logger.Info("added document",
		zap.String("document_id", doc.ID),
		zap.String("source", sourceName),
		zap.Int("size", len(content)))
	return cloneDocument(doc), nil
}

// stageChunks chunks and embeds content without touching the indices or the
// document store. Update and rollback stage before they unindex anything, so
// a failing embedding backend cannot leave a half-updated document behind.
func (s *Store) stageChunks(ctx context.Context, docID, content string) ([]Chunk, [][]float32, error) {
	chunks := s.chunker.Split(docID, content)
	if len(chunks) == 0 {
		return nil, nil, errors.ValidationError("content", "produced no chunks")
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vecs, err := s.embed(ctx, texts)
	if err != nil {
		return nil, nil, err
	}
	return chunks, vecs, nil
}

// applyChunks writes staged chunks to both indices.
func (s *Store) applyChunks(chunks []Chunk, vecs [][]float32) error {
	if err := s.vectors.Add(chunks, vecs); err != nil {
		return err
	}
	for _, ch := range chunks {
		s.keywords.Add(ch.ID, ch.Content)
	}
	return nil
}

// indexDocument chunks and embeds a document's content and writes both
// indices.
func (s *Store) indexDocument(ctx context.Context, doc *Document) error {
	chunks, vecs, err := s.stageChunks(ctx, doc.ID, doc.Content)
	if err != nil {
		return err
	}
	return s.applyChunks(chunks, vecs)
}

// deindexDocument removes a document's chunks from both indices.
func (s *Store) deindexDocument(docID string) error {
	chunkIDs := s.vectors.ChunksForDocument(docID)
	if err := s.vectors.Remove(chunkIDs); err != nil {
		return err
	}
	for _, id := range chunkIDs {
		s.keywords.Remove(id)
	}
	return nil
}

// GetDocument returns a copy of a stored document.
func (s *Store) GetDocument(documentID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return nil, errors.NotFound("document", documentID)
	}
	return cloneDocument(doc), nil
}

// ListDocuments returns all documents sorted by creation time.
func (s *Store) ListDocuments() []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Document, 0, len(s.documents))
	for _, d := range s.documents {
		out = append(out, cloneDocument(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// UpdateDocument replaces a document's content, bumping the version and
// archiving the prior state for rollback.
func (s *Store) UpdateDocument(ctx context.Context, documentID, newContent string) (*Document, error) {
	if newContent == "" {
		return nil, errors.ValidationError("content", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return nil, errors.NotFound("document", documentID)
	}

	// Stage the replacement first: embedding is the only step that can hit a
	// remote backend, and a failure here must leave the document and both
	// indices untouched.
	chunks, vecs, err := s.stageChunks(ctx, documentID, newContent)
	if err != nil {
		return nil, err
	}

	snap := Version{
		Version:   doc.Version,
		Content:   doc.Content,
		Metadata:  doc.Metadata,
		Timestamp: time.Now().UTC(),
	}
	if err := s.archiveVersion(documentID, snap); err != nil {
		return nil, err
	}

	if err := s.deindexDocument(documentID); err != nil {
		return nil, err
	}
	if err := s.applyChunks(chunks, vecs); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc.PreviousVersions = append(doc.PreviousVersions, snap)
	doc.Version++
	doc.Content = newContent
	doc.Metadata = withContentMetadata(doc.Metadata, newContent, now)
	doc.UpdatedAt = now

	if err := s.persistDocumentsLocked(); err != nil {
		return nil, err
	}

	s.logger.Info("updated document",
		zap.String("document_id", documentID),
		zap.Int("version", doc.Version))
	return cloneDocument(doc), nil
}

// Rollback restores a previously archived version. The current state is
// archived first, so rollbacks themselves can be rolled back.
func (s *Store) Rollback(ctx context.Context, documentID string, version int) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return nil, errors.NotFound("document", documentID)
	}

	var target *Version
	for i := range doc.PreviousVersions {
		if doc.PreviousVersions[i].Version == version {
			target = &doc.PreviousVersions[i]
			break
		}
	}
	if target == nil {
		return nil, errors.NotFound("document version", fmt.Sprintf("%s@v%d", documentID, version))
	}

	// Stage the restored content before unindexing the current state, same
	// as UpdateDocument.
	chunks, vecs, err := s.stageChunks(ctx, documentID, target.Content)
	if err != nil {
		return nil, err
	}

	snap := Version{
		Version:   doc.Version,
		Content:   doc.Content,
		Metadata:  doc.Metadata,
		Timestamp: time.Now().UTC(),
	}
	if err := s.archiveVersion(documentID, snap); err != nil {
		return nil, err
	}

	if err := s.deindexDocument(documentID); err != nil {
		return nil, err
	}
	if err := s.applyChunks(chunks, vecs); err != nil {
		return nil, err
	}

	doc.PreviousVersions = append(doc.PreviousVersions, snap)
	doc.Version++
	doc.Content = target.Content
	doc.Metadata = target.Metadata
	doc.UpdatedAt = time.Now().UTC()

	if err := s.persistDocumentsLocked(); err != nil {
		return nil, err
	}

	s.logger.Info("rolled back document",
		zap.String("document_id", documentID),
		zap.Int("restored_version", version),
		zap.Int("new_version", doc.Version))
	return cloneDocument(doc), nil
}

// DeleteDocument removes a document, its chunks and its archived versions.
func (s *Store) DeleteDocument(documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return errors.NotFound("document", documentID)
	}

	if err := s.deindexDocument(documentID); err != nil {
		return err
	}
	delete(s.documents, documentID)
	if err := s.persistDocumentsLocked(); err != nil {
		return err
	}

	if s.dir != "" {
		idx, err := s.readVersionIndex()
		if err != nil {
			return err
		}
		for _, v := range idx[documentID] {
			if err := os.Remove(s.versionFilePath(documentID, v)); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to remove version snapshot",
					zap.String("document_id", documentID), zap.Int("version", v), zap.Error(err))
			}
		}
		delete(idx, documentID)
		if err := s.writeVersionIndex(idx); err != nil {
			return err
		}
	}

	s.logger.Info("deleted document", zap.String("document_id", documentID))
	return nil
}

// Search runs the hybrid query: a convex combination of semantic similarity
// and keyword overlap. Weights are normalized to sum to 1; a weight of 1 on
// either side short-circuits to that pure leg.
func (s *Store) Search(ctx context.Context, query string, limit int, semanticWeight, keywordWeight float64, filter Filter) ([]Result, error) {
	if semanticWeight < 0 || semanticWeight > 1 {
		return nil, errors.ValidationError("semantic_weight", "must be in [0, 1]")
	}
	if keywordWeight < 0 || keywordWeight > 1 {
		return nil, errors.ValidationError("keyword_weight", "must be in [0, 1]")
	}
	if query == "" {
		return []Result{}, nil
	}
	if limit <= 0 {
		limit = 5
	}
	if semanticWeight == 0 && keywordWeight == 0 {
		semanticWeight, keywordWeight = 1, 0
	}
	total := semanticWeight + keywordWeight
	wS := semanticWeight / total
	wK := keywordWeight / total

	switch {
	case wS == 1:
		hits, err := s.semanticLeg(ctx, query, limit, filter)
		if err != nil {
			return nil, err
		}
		return resultsFromHits(hits, SearchSemantic, 1), nil
	case wK == 1:
		return s.keywordLeg(query, limit, filter), nil
	}

	// Both legs run in parallel, each over-fetching 2x the requested limit
	// so the merge has enough candidates from either side.
	candidates := limit * 2
	var semHits []Hit
	var kwResults []Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semHits, err = s.semanticLeg(gctx, query, candidates, filter)
		return err
	})
	g.Go(func() error {
		kwResults = s.keywordLeg(query, candidates, filter)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]*Result)
	for _, h := range semHits {
		merged[h.ChunkID] = &Result{
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			Content:    h.Content,
			Metadata:   h.Metadata,
			Score:      wS * h.Similarity,
			SearchType: SearchSemantic,
		}
	}
	for i := range kwResults {
		kw := &kwResults[i]
		if r, ok := merged[kw.ChunkID]; ok {
			r.Score += wK * kw.Score
			r.SearchType = SearchHybrid
		} else {
			merged[kw.ChunkID] = &Result{
				ChunkID:    kw.ChunkID,
				DocumentID: kw.DocumentID,
				Content:    kw.Content,
				Metadata:   kw.Metadata,
				Score:      wK * kw.Score,
				SearchType: SearchKeyword,
			}
		}
	}

	out := make([]Result, 0, len(merged))
	for _, r := range merged {
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// semanticLeg embeds the query and runs the nearest-neighbor lookup.
func (s *Store) semanticLeg(ctx context.Context, query string, topK int, filter Filter) ([]Hit, error) {
	vecs, err := s.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	var f func(string, map[string]any) bool
	if filter != nil {
		f = filter
	}
	return s.vectors.Query(vecs[0], topK, f), nil
}

// keywordLeg scores chunks by distinct-token overlap with the query:
// min(1, hits / len(tokens)).
func (s *Store) keywordLeg(query string, topK int, filter Filter) []Result {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return []Result{}
	}
	hits := s.keywords.Query(tokens)

	out := make([]Result, 0, len(hits))
	for chunkID, n := range hits {
		ch, _, ok := s.vectors.Get(chunkID)
		if !ok {
			continue
		}
		if filter != nil && !filter(ch.DocumentID, ch.Metadata) {
			continue
		}
		score := float64(n) / float64(len(tokens))
		if score > 1 {
			score = 1
		}
		out = append(out, Result{
			ChunkID:    chunkID,
			DocumentID: ch.DocumentID,
			Content:    ch.Content,
			Metadata:   ch.Metadata,
			Score:      score,
			SearchType: SearchKeyword,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func resultsFromHits(hits []Hit, searchType SearchType, weight float64) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			Content:    h.Content,
			Metadata:   h.Metadata,
			Score:      weight * h.Similarity,
			SearchType: searchType,
		})
	}
	return out
}

// Compact rewrites the vector collection and rebuilds the keyword index
// from the live chunk set, dropping orphan postings.
func (s *Store) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks, vecs := s.vectors.All()
	live := make([]Chunk, 0, len(chunks))
	liveVecs := make([][]float32, 0, len(vecs))
	for i, ch := range chunks {
		if _, ok := s.documents[ch.DocumentID]; ok {
			live = append(live, ch)
			liveVecs = append(liveVecs, vecs[i])
		}
	}
	if err := s.vectors.Reset(); err != nil {
		return err
	}
	if err := s.vectors.Add(live, liveVecs); err != nil {
		return err
	}

	s.keywords.Restore(nil)
	for _, ch := range live {
		s.keywords.Add(ch.ID, ch.Content)
	}

	if s.cache != nil {
		s.cache.Flush()
	}
	s.logger.Info("compacted knowledge store",
		zap.Int("chunks", len(live)),
		zap.Int("dropped", len(chunks)-len(live)))
	return nil
}

// Stats summarizes the index for the health endpoint.
type Stats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Cached    int `json:"cached_embeddings"`
}

// Stats returns current index counts.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	docs := len(s.documents)
	s.mu.RUnlock()
	st := Stats{Documents: docs, Chunks: s.vectors.Len()}
	if s.cache != nil {
		st.Cached = s.cache.Len()
	}
	return st
}

// Close flushes the keyword index and any pending cache writes.
func (s *Store) Close() {
	if err := s.persistKeywordIndex(); err != nil {
		s.logger.Warn("failed to persist keyword index", zap.Error(err))
	}
	if s.cache != nil {
		s.cache.Flush()
	}
}

func withContentMetadata(metadata map[string]any, content string, now time.Time) map[string]any {
	out := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		out[k] = v
	}
	out["size"] = len(content)
	out["indexed_at"] = now.Format(time.RFC3339)
	return out
}

func cloneDocument(d *Document) *Document {
	cp := *d
	cp.PreviousVersions = append([]Version(nil), d.PreviousVersions...)
	if d.Metadata != nil {
		cp.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
