// Package storage defines the durable-state contract the engine depends on:
// project CRUD, incremental knowledge-graph mutation, and observation append
// plus vector search. storage/sqlite provides the embedded backend and
// storage/postgres the hosted one; both satisfy Backend.
//
// Absence is modelled as a nil/empty return, not an error. Every failure is
// a typed *Error; see errors.go.
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/smallnest/agentgraphgo/graph"
)

// EmbeddingDim is the fixed dimensionality of observation vectors. All
// observations within a stream share it; changing the embedding model means
// migrating stored vectors.
const EmbeddingDim = 384

// ProjectInfo is the listing row for a project.
type ProjectInfo struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntityRecord is a stored knowledge-graph entity.
type EntityRecord struct {
	ID         int64
	Name       string
	Properties map[string]string
}

// RelationshipRecord is a stored knowledge-graph relationship.
type RelationshipRecord struct {
	ID         int64
	From       string
	Type       string
	To         string
	Properties map[string]string
}

// KGSnapshot is a full knowledge graph as read from storage.
type KGSnapshot struct {
	ID            int64
	Entities      []EntityRecord
	Relationships []RelationshipRecord
}

// ObservationRecord is a stored memory-stream observation together with its
// embedding vector.
type ObservationRecord struct {
	ID          int64
	StreamID    int64
	ContentKind string
	Content     json.RawMessage
	Importance  float64
	Created     time.Time
	Accessed    time.Time
	Embedding   []float32
}

// StreamMetadata is the small scalar map persisted per memory stream.
type StreamMetadata struct {
	LastReflectionPoint int
}

// Backend is the storage contract. Implementations serialise concurrent
// writers; callers treat every method as a suspension point.
type Backend interface {
	// Projects.
	ListProjects(ctx context.Context) ([]ProjectInfo, error)
	// GetProject returns nil when the project does not exist.
	GetProject(ctx context.Context, id string) (*graph.Project, error)
	// SaveProject upserts the project, replacing its nodes and edges
	// atomically and bumping updated_at.
	SaveProject(ctx context.Context, p *graph.Project) error
	// DeleteProject cascades to knowledge graphs, memory streams,
	// observations and vectors.
	DeleteProject(ctx context.Context, id string) error
	ProjectExists(ctx context.Context, id string) (bool, error)

	// Knowledge graphs. A KG is keyed by (project, design node).
	KGEnsure(ctx context.Context, projectID, nodeID string) (int64, error)
	KGAddEntity(ctx context.Context, kgID int64, name string, props map[string]string) (int64, error)
	KGSetEntityProperty(ctx context.Context, kgID int64, name, prop, value string) error
	KGRemoveEntityProperty(ctx context.Context, kgID int64, name, prop string) error
	// KGRemoveEntity also removes all relationships incident to the entity.
	KGRemoveEntity(ctx context.Context, kgID int64, name string) error
	KGAddRelationship(ctx context.Context, kgID int64, from, relType, to string, props map[string]string) (int64, error)
	KGSetRelationshipProperty(ctx context.Context, kgID int64, from, relType, to, prop, value string) error
	KGRemoveRelationshipProperty(ctx context.Context, kgID int64, from, relType, to, prop string) error
	KGRemoveRelationship(ctx context.Context, kgID int64, from, relType, to string) error
	// KGLoadFull returns nil when no KG exists for the node.
	KGLoadFull(ctx context.Context, projectID, nodeID string) (*KGSnapshot, error)

	// Memory streams.
	MSEnsure(ctx context.Context, projectID, nodeID string) (int64, error)
	// MSAddObservation writes the record and its vector row in one
	// transaction and returns the observation id.
	MSAddObservation(ctx context.Context, streamID int64, obs *ObservationRecord) (int64, error)
	// MSSearch returns up to k observations nearest to queryVec, optionally
	// bounded by creation time.
	MSSearch(ctx context.Context, streamID int64, queryVec []float32, k int, from, to *time.Time) ([]ObservationRecord, error)
	MSUpdateAccessed(ctx context.Context, ids []int64, at time.Time) error
	// MSGetRecent returns the n most recent observations oldest-first.
	MSGetRecent(ctx context.Context, streamID int64, n int) ([]ObservationRecord, error)
	MSGetMetadata(ctx context.Context, streamID int64) (StreamMetadata, error)
	MSUpdateMetadata(ctx context.Context, streamID int64, md StreamMetadata) error

	Close() error
}
