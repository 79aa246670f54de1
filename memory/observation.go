// Package memory implements the two per-agent durable resources: the
// episodic MemoryStream (observations with embeddings and blended
// recency/importance/relevance scoring) and the KnowledgeGraph (a directed
// multigraph of typed entities whose mutations write through storage).
package memory

import (
	"encoding/json"
	"math"
	"time"

	"github.com/smallnest/agentgraphgo/storage"
)

// Content kinds an observation can hold.
const (
	ContentMessage     = "message"
	ContentToolResult  = "tool_result"
	ContentLLMResponse = "llm_response"
)

// DecayRate is the recency decay constant (per hour since last access).
const DecayRate = 0.999

// Observation is a single record in a memory stream.
type Observation struct {
	ID          int64
	Created     time.Time
	Accessed    time.Time
	Importance  float64
	Embedding   []float32
	ContentKind string
	Content     json.RawMessage
}

// Recency returns exp(-DecayRate * hours since last access), in (0, 1].
func (o *Observation) Recency(now time.Time) float64 {
	hours := now.Sub(o.Accessed).Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Exp(-DecayRate * hours)
}

// Relevance returns cosine similarity to the query vector.
func (o *Observation) Relevance(queryVec []float32) float64 {
	return storage.CosineSimilarity32(queryVec, o.Embedding)
}

// Score blends recency, importance and relevance with equal weight. This
// governs the in-memory fallback path; the storage backends rank by vector
// distance.
func (o *Observation) Score(queryVec []float32, now time.Time) float64 {
	return (o.Recency(now) + o.Importance + o.Relevance(queryVec)) / 3
}

func observationFromRecord(rec storage.ObservationRecord) Observation {
	return Observation{
		ID:          rec.ID,
		Created:     rec.Created,
		Accessed:    rec.Accessed,
		Importance:  rec.Importance,
		Embedding:   rec.Embedding,
		ContentKind: rec.ContentKind,
		Content:     rec.Content,
	}
}

func (o *Observation) toRecord() *storage.ObservationRecord {
	return &storage.ObservationRecord{
		ID:          o.ID,
		ContentKind: o.ContentKind,
		Content:     o.Content,
		Importance:  o.Importance,
		Created:     o.Created,
		Accessed:    o.Accessed,
		Embedding:   o.Embedding,
	}
}
