package models

import (
	"time"
)

// Document is an opaque content payload entering the ingestion pipeline.
// Content may be empty when StorageURL points at an object-storage location;
// the extracting stage resolves it before chunking. Immutable after entry.
type Document struct {
	Content     string         `json:"content"`
	Source      string         `json:"source"`
	StorageURL  string         `json:"storage_url,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Chunk is an ordered fragment of one document. Attributes carry the
// document's metadata bag plus anything the splitter adds (e.g. the nearest
// heading for markdown/html strategies).
type Chunk struct {
	Text       string         `json:"text"`
	Source     string         `json:"source"`
	Index      int            `json:"index"`
	TokenCount int            `json:"token_count"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ChunkMetadata holds the LLM-extracted fields attached to a chunk when
// enrichment is enabled.
type ChunkMetadata struct {
	Summary    string   `json:"summary"`
	Keywords   []string `json:"keywords"`
	Topic      string   `json:"topic"`
	Complexity string   `json:"complexity"` // simple | medium | complex
	Entities   []string `json:"entities"`
	Sentiment  string   `json:"sentiment"`
}

// EnrichedChunk pairs a chunk with its extracted metadata. Metadata is nil
// when enrichment was disabled or failed for this chunk; downstream code must
// not assume presence.
type EnrichedChunk struct {
	Chunk
	Metadata *ChunkMetadata `json:"metadata,omitempty"`
}

// IngestResult summarizes one completed ingestion run.
type IngestResult struct {
	TotalDocuments   int     `json:"total_documents"`
	TotalChunks      int     `json:"total_chunks"`
	TotalVectors     int     `json:"total_vectors"`
	CollectionName   string  `json:"collection_name"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// QASource describes one retrieved chunk referenced by an answer.
type QASource struct {
	Source         string         `json:"source"`
	RelevanceScore float64        `json:"relevance_score"`
	Snippet        string         `json:"snippet"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// QAResponse is the full answer envelope returned by the QA service.
type QAResponse struct {
	Answer           string     `json:"answer"`
	QueryType        string     `json:"query_type"`
	DocumentsUsed    int        `json:"documents_used"`
	Sources          []QASource `json:"sources"`
	RetrievalTimeMs  float64    `json:"retrieval_time_ms"`
	GenerationTimeMs float64    `json:"generation_time_ms"`
	TotalTimeMs      float64    `json:"total_time_ms"`
	Model            string     `json:"model"`
}

// SearchHit is a retrieval-only result (no generation).
type SearchHit struct {
	Content  string         `json:"content"`
	Source   string         `json:"source"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UploadAck is the immediate response to an accepted upload.
type UploadAck struct {
	UploadID  string    `json:"upload_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
