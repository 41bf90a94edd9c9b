// Package kb implements the hybrid retrieval index: chunked documents with
// vector embeddings and an inverted keyword index, queried with a tunable
// semantic/keyword mix.
package kb

import (
	"fmt"
	"time"
)

// SourceType describes where a document's content came from.
type SourceType string

const (
	SourceFile SourceType = "file"
	SourceText SourceType = "text"
	SourceURL  SourceType = "url"
)

// ParseSourceType validates a source type string.
func ParseSourceType(s string) (SourceType, bool) {
	switch SourceType(s) {
	case SourceFile, SourceText, SourceURL:
		return SourceType(s), true
	}
	return "", false
}

// Version is one archived snapshot of a document's prior state.
type Version struct {
	Version   int            `json:"version"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Document is ingested content plus its version history. Chunks are derived
// deterministically from the content and are not stored on the document.
type Document struct {
	ID               string         `json:"id"`
	SourceType       SourceType     `json:"source_type"`
	SourceName       string         `json:"source_name"`
	Content          string         `json:"content"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Version          int            `json:"version"`
	PreviousVersions []Version      `json:"previous_versions,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Chunk is one indexed slice of a document.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ChunkID derives the stable id for a document's nth chunk. Stable ids keep
// re-chunking idempotent across restarts for identical input.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

// SearchType records which retrieval leg produced a result.
type SearchType string

const (
	SearchSemantic SearchType = "semantic"
	SearchKeyword  SearchType = "keyword"
	SearchHybrid   SearchType = "hybrid"
)

// Result is one ranked retrieval hit.
type Result struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Score      float64        `json:"score"`
	SearchType SearchType     `json:"search_type"`
}
