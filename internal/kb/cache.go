package kb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/common/logger"
)

// cacheFlushEvery is how many insertions accumulate before the cache is
// written back to disk.
const cacheFlushEvery = 100

// EmbeddingCache maps hashed chunk text to its embedding so re-ingesting
// unchanged content skips the embedding backend. Single writer, persisted as
// JSON when a directory is configured.
type EmbeddingCache struct {
	mu      sync.Mutex
	vectors map[string][]float32
	path    string
	dirty   int
	logger  *logger.Logger
}

// NewEmbeddingCache opens (or creates) the cache for a collection. An empty
// dir keeps the cache in memory only.
func NewEmbeddingCache(dir, collection string, log *logger.Logger) (*EmbeddingCache, error) {
	c := &EmbeddingCache{
		vectors: make(map[string][]float32),
		logger:  log,
	}
	if dir == "" {
		return c, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}
	c.path = filepath.Join(dir, collection+"_embedding_cache.json")

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, errors.Wrap(err, "failed to read embedding cache")
	}
	if err := json.Unmarshal(data, &c.vectors); err != nil {
		// A corrupt cache is not fatal: start fresh.
		log.Warn("discarding corrupt embedding cache", zap.String("path", c.path), zap.Error(err))
		c.vectors = make(map[string][]float32)
	}
	return c, nil
}

// Key returns the stable cache key for a text.
func Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached vector for a text, if present.
func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.vectors[Key(text)]
	return vec, ok
}

// Put stores a vector, flushing to disk every cacheFlushEvery insertions.
func (c *EmbeddingCache) Put(text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors[Key(text)] = vec
	c.dirty++
	if c.dirty >= cacheFlushEvery {
		c.flushLocked()
	}
}

// Flush writes pending entries to disk.
func (c *EmbeddingCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirty > 0 {
		c.flushLocked()
	}
}

func (c *EmbeddingCache) flushLocked() {
	if c.path == "" {
		c.dirty = 0
		return
	}
	data, err := json.Marshal(c.vectors)
	if err != nil {
		c.logger.Warn("failed to marshal embedding cache", zap.Error(err))
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Warn("failed to write embedding cache", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.logger.Warn("failed to replace embedding cache", zap.Error(err))
		return
	}
	c.dirty = 0
}

// Len returns the number of cached vectors.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.vectors)
}
