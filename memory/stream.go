package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/smallnest/agentgraphgo/storage"
)

// MemoryStream is an append-only episodic memory with vector retrieval.
// With a storage backend bound, every observation is durably stored before
// retrieval can return it. Without one, a small in-memory fallback serves
// the unit-test path using the blended recency/importance/relevance score.
type MemoryStream struct {
	backend  storage.Backend
	id       int64
	embedder Embedder

	local       []Observation
	nextLocalID int64
}

// NewMemoryStream creates a stream bound to durable storage. The stream id
// must come from a prior MSEnsure call.
func NewMemoryStream(backend storage.Backend, id int64, embedder Embedder) *MemoryStream {
	return &MemoryStream{backend: backend, id: id, embedder: embedder}
}

// NewInMemoryStream creates an unbacked stream. Observations live only as
// long as the process.
func NewInMemoryStream(embedder Embedder) *MemoryStream {
	return &MemoryStream{embedder: embedder, nextLocalID: 1}
}

// ID returns the storage id, or 0 for an unbacked stream.
func (m *MemoryStream) ID() int64 { return m.id }

// Add embeds the JSON-serialised content and appends it as an observation
// with the given importance in [0, 1].
func (m *MemoryStream) Add(ctx context.Context, contentKind string, content any, importance float64) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal observation content: %w", err)
	}
	vec, err := m.embedder.Embed(ctx, string(data))
	if err != nil {
		return fmt.Errorf("embed observation: %w", err)
	}

	now := time.Now().UTC()
	obs := Observation{
		Created:     now,
		Accessed:    now,
		Importance:  importance,
		Embedding:   vec,
		ContentKind: contentKind,
		Content:     data,
	}

	if m.backend == nil {
		obs.ID = m.nextLocalID
		m.nextLocalID++
		m.local = append(m.local, obs)
		return nil
	}

	id, err := m.backend.MSAddObservation(ctx, m.id, obs.toRecord())
	if err != nil {
		return err
	}
	obs.ID = id
	return nil
}

// Retrieve embeds the query and returns up to k observations, most similar
// first by the backend's ranking, re-sorted chronologically. Accessed
// timestamps of the returned observations are refreshed.
func (m *MemoryStream) Retrieve(ctx context.Context, query string, k int, from, to *time.Time) ([]Observation, error) {
	queryVec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	now := time.Now().UTC()

	if m.backend == nil {
		return m.retrieveLocal(queryVec, k, from, to, now), nil
	}

	records, err := m.backend.MSSearch(ctx, m.id, queryVec, k, from, to)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(records))
	out := make([]Observation, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		out[i] = observationFromRecord(rec)
		out[i].Accessed = now
	}
	if err := m.backend.MSUpdateAccessed(ctx, ids, now); err != nil {
		return nil, err
	}
	sortChronological(out)
	return out, nil
}

func (m *MemoryStream) retrieveLocal(queryVec []float32, k int, from, to *time.Time, now time.Time) []Observation {
	type scored struct {
		idx   int
		score float64
	}
	var candidates []scored
	for i := range m.local {
		obs := &m.local[i]
		if from != nil && obs.Created.Before(*from) {
			continue
		}
		if to != nil && obs.Created.After(*to) {
			continue
		}
		candidates = append(candidates, scored{idx: i, score: obs.Score(queryVec, now)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Observation, len(candidates))
	for i, c := range candidates {
		m.local[c.idx].Accessed = now
		out[i] = m.local[c.idx]
	}
	sortChronological(out)
	return out
}

// Recent returns the n most recent observations in chronological
// (oldest-first) order without a vector lookup.
func (m *MemoryStream) Recent(ctx context.Context, n int) ([]Observation, error) {
	if m.backend == nil {
		start := len(m.local) - n
		if start < 0 {
			start = 0
		}
		out := make([]Observation, len(m.local)-start)
		copy(out, m.local[start:])
		return out, nil
	}
	records, err := m.backend.MSGetRecent(ctx, m.id, n)
	if err != nil {
		return nil, err
	}
	out := make([]Observation, len(records))
	for i, rec := range records {
		out[i] = observationFromRecord(rec)
	}
	return out, nil
}

// Len returns the number of observations in an unbacked stream. For backed
// streams it returns 0; use the backend directly for counts.
func (m *MemoryStream) Len() int { return len(m.local) }

// Metadata fetches the persisted scalar map for the stream.
func (m *MemoryStream) Metadata(ctx context.Context) (storage.StreamMetadata, error) {
	if m.backend == nil {
		return storage.StreamMetadata{}, nil
	}
	return m.backend.MSGetMetadata(ctx, m.id)
}

// SetMetadata persists the scalar map for the stream.
func (m *MemoryStream) SetMetadata(ctx context.Context, md storage.StreamMetadata) error {
	if m.backend == nil {
		return nil
	}
	return m.backend.MSUpdateMetadata(ctx, m.id, md)
}

func sortChronological(obs []Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		if obs[i].Created.Equal(obs[j].Created) {
			return obs[i].ID < obs[j].ID
		}
		return obs[i].Created.Before(obs[j].Created)
	})
}
