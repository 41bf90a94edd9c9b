package kb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execdesk/execdesk/internal/common/config"
	"github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/common/logger"
)

func testConfig(dir string) config.KnowledgeConfig {
	return config.KnowledgeConfig{
		PersistDirectory: dir,
		Collection:       "test",
		ChunkSize:        200,
		ChunkOverlap:     40,
		EmbeddingDim:     64,
		CacheEnabled:     dir != "",
	}
}

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := NewStore(testConfig(dir), NewHashEmbedder(64), logger.NewNop())
	require.NoError(t, err)
	return s
}

func TestAddAndGetDocument(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	doc, err := s.AddDocument(ctx, SourceText, "notes", "The deploy pipeline runs on kubernetes.", map[string]any{"team": "platform"})
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, "platform", doc.Metadata["team"])
	assert.NotNil(t, doc.Metadata["size"])

	got, err := s.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Content, got.Content)

	_, err = s.GetDocument("missing")
	assert.Error(t, err)
}

func TestAddDocumentValidation(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	_, err := s.AddDocument(ctx, SourceText, "n", "", nil)
	assert.Error(t, err, "empty content rejected")

	_, err = s.AddDocument(ctx, "carrier-pigeon", "n", "content", nil)
	assert.Error(t, err, "unknown source type rejected")
}

func TestSearchSemantic(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	_, err := s.AddDocument(ctx, SourceText, "eng", "kubernetes deploy pipeline and api latency tuning", nil)
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, SourceText, "fin", "quarterly budget forecast and cash runway planning", nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "kubernetes deploy pipeline", 2, 1, 0, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, SearchSemantic, results[0].SearchType)
	assert.Contains(t, results[0].Content, "kubernetes")
}

func TestSearchKeyword(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	_, err := s.AddDocument(ctx, SourceText, "eng", "kubernetes deploy pipeline", nil)
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, SourceText, "fin", "budget forecast", nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "kubernetes pipeline", 5, 0, 1, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, SearchKeyword, results[0].SearchType)
	assert.Equal(t, 1.0, results[0].Score, "all query tokens matched")
}

func TestSearchHybrid(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	_, err := s.AddDocument(ctx, SourceText, "eng", "kubernetes deploy pipeline latency", nil)
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, SourceText, "fin", "budget forecast runway", nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "kubernetes deploy", 5, 0.5, 0.5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	// the engineering chunk matches both legs
	assert.Equal(t, SearchHybrid, results[0].SearchType)
	assert.Contains(t, results[0].Content, "kubernetes")
}

func TestSearchWeightHandling(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	_, err := s.Search(ctx, "q", 5, -0.1, 0.5, nil)
	assert.Error(t, err, "negative weight rejected")
	_, err = s.Search(ctx, "q", 5, 0.5, 1.2, nil)
	assert.Error(t, err, "weight above 1 rejected")

	results, err := s.Search(ctx, "", 5, 1, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results, "empty query returns empty list")

	// both-zero weights default to pure semantic
	_, err = s.AddDocument(ctx, SourceText, "n", "some content here", nil)
	require.NoError(t, err)
	results, err = s.Search(ctx, "some content", 5, 0, 0, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, SearchSemantic, results[0].SearchType)
}

func TestSearchFilter(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	docA, err := s.AddDocument(ctx, SourceText, "a", "kubernetes deploy pipeline", nil)
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, SourceText, "b", "kubernetes deploy checklist", nil)
	require.NoError(t, err)

	only := func(docID string, _ map[string]any) bool { return docID == docA.ID }
	results, err := s.Search(ctx, "kubernetes deploy", 10, 0, 1, only)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, docA.ID, results[0].DocumentID)

	none := func(string, map[string]any) bool { return false }
	results, err = s.Search(ctx, "kubernetes deploy", 10, 0, 1, none)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUpdateAndRollback(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	doc, err := s.AddDocument(ctx, SourceText, "notes", "original content about budgets", nil)
	require.NoError(t, err)

	updated, err := s.UpdateDocument(ctx, doc.ID, "revised content about deployments")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	require.Len(t, updated.PreviousVersions, 1)
	assert.Equal(t, 1, updated.PreviousVersions[0].Version)
	assert.Equal(t, "original content about budgets", updated.PreviousVersions[0].Content)

	// the old content is no longer findable by keyword
	results, err := s.Search(ctx, "budgets", 5, 0, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	results, err = s.Search(ctx, "deployments", 5, 0, 1, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	rolled, err := s.Rollback(ctx, doc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, rolled.Version, "rollback creates a new version")
	assert.Equal(t, "original content about budgets", rolled.Content)

	results, err = s.Search(ctx, "budgets", 5, 0, 1, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results, "rolled-back content is indexed again")

	_, err = s.Rollback(ctx, doc.ID, 99)
	assert.Error(t, err)
}

// flakyEmbedder delegates to a real embedder until fail is set.
type flakyEmbedder struct {
	inner Embedder
	fail  bool
}

func (e *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.Transient("embedding backend down", nil)
	}
	return e.inner.Embed(ctx, texts)
}

func (e *flakyEmbedder) Dimension() int { return e.inner.Dimension() }

func TestUpdateFailureLeavesDocumentIntact(t *testing.T) {
	emb := &flakyEmbedder{inner: NewHashEmbedder(64)}
	s, err := NewStore(testConfig(""), emb, logger.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	doc, err := s.AddDocument(ctx, SourceText, "notes", "the original deploy runbook", nil)
	require.NoError(t, err)

	emb.fail = true
	_, err = s.UpdateDocument(ctx, doc.ID, "a replacement that never lands")
	require.Error(t, err)
	emb.fail = false

	got, err := s.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version, "failed update must not bump the version")
	assert.Equal(t, "the original deploy runbook", got.Content)
	assert.Empty(t, got.PreviousVersions)

	results, err := s.Search(ctx, "runbook", 5, 0, 1, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results, "original content still indexed")
	results, err = s.Search(ctx, "replacement", 5, 0, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, results, "failed content never indexed")
}

func TestPureSemanticExactMatchScoresNearPerfect(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	exact := "kubernetes cluster autoscaling policy for the staging environment"
	_, err := s.AddDocument(ctx, SourceText, "runbook", exact, nil)
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, SourceText, "budget", "quarterly budget forecast and cash runway", nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, exact, 5, 1, 0, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, exact, results[0].Content)
	assert.GreaterOrEqual(t, results[0].Score, 0.99, "exact chunk match ranks first with a near-perfect score")
	assert.Equal(t, SearchSemantic, results[0].SearchType)
}

func TestDeleteDocument(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	doc, err := s.AddDocument(ctx, SourceText, "notes", "searchable content here", nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteDocument(doc.ID))
	_, err = s.GetDocument(doc.ID)
	assert.Error(t, err)

	results, err := s.Search(ctx, "searchable content", 5, 0, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.Error(t, s.DeleteDocument(doc.ID), "double delete is not found")
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := newTestStore(t, dir)
	doc, err := s.AddDocument(ctx, SourceText, "notes", "persistent kubernetes knowledge", nil)
	require.NoError(t, err)
	_, err = s.UpdateDocument(ctx, doc.ID, "persistent kubernetes knowledge, revised")
	require.NoError(t, err)
	s.Close()

	reopened := newTestStore(t, dir)
	got, err := reopened.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	require.Len(t, got.PreviousVersions, 1, "archived versions survive restart")

	results, err := reopened.Search(ctx, "kubernetes", 5, 0, 1, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results, "keyword index survives restart")

	_, err = os.Stat(filepath.Join(dir, "keyword_index.json"))
	assert.NoError(t, err, "Close serializes the keyword index")
}

func TestKeywordIndexRebuiltWhenSnapshotMissing(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := newTestStore(t, dir)
	_, err := s.AddDocument(ctx, SourceText, "notes", "terraform modules for staging", nil)
	require.NoError(t, err)
	// no Close: the serialized index never hits disk

	reopened := newTestStore(t, dir)
	results, err := reopened.Search(ctx, "terraform", 5, 0, 1, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results, "index rebuilt from persisted chunks")
}

func TestCompactDropsOrphans(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	doc, err := s.AddDocument(ctx, SourceText, "a", "alpha content", nil)
	require.NoError(t, err)
	_, err = s.AddDocument(ctx, SourceText, "b", "beta content", nil)
	require.NoError(t, err)

	// simulate an orphan: document record gone, chunks still indexed
	s.mu.Lock()
	delete(s.documents, doc.ID)
	s.mu.Unlock()

	require.NoError(t, s.Compact(ctx))
	assert.Equal(t, 1, s.vectors.Len())
	results, err := s.Search(ctx, "alpha", 5, 0, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, results, "orphan postings removed")
}

func TestEmbeddingCacheHits(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	ctx := context.Background()

	_, err := s.AddDocument(ctx, SourceText, "a", "cached content", nil)
	require.NoError(t, err)
	before := s.cache.Len()
	assert.Greater(t, before, 0)

	// same text again: no new cache entries beyond the already-cached text
	_, err = s.AddDocument(ctx, SourceText, "b", "cached content", nil)
	require.NoError(t, err)
	assert.Equal(t, before, s.cache.Len())
}

func TestHealthDegradedAfterPersistFailure(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	ctx := context.Background()

	_, err := s.AddDocument(ctx, SourceText, "notes", "healthy content", nil)
	require.NoError(t, err)
	require.NoError(t, s.Health())

	// rip the persistence directory out from under the store
	require.NoError(t, os.RemoveAll(dir))
	s.Close()

	assert.Error(t, s.Health(), "persistence failure degrades the store")
}

func TestLimitLargerThanIndex(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	_, err := s.AddDocument(ctx, SourceText, "a", "only document in the index", nil)
	require.NoError(t, err)

	results, err := s.Search(ctx, "document index", 100, 0, 1, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1, "oversized limit returns everything available")
}
