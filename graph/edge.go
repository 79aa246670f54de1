package graph

import "github.com/google/uuid"

// EdgeKind classifies what a connection between two nodes means.
type EdgeKind string

const (
	// EdgeMessage carries a message list at runtime; legal between *_out and
	// *_in / trigger ports.
	EdgeMessage EdgeKind = "message"
	// EdgeResource statically binds an agent to a knowledge graph, memory
	// stream or toolbox node.
	EdgeResource EdgeKind = "resource"
	// EdgeDelegate connects an agent's ask port to another agent; the builder
	// turns it into a synchronous tool call.
	EdgeDelegate EdgeKind = "delegate"
)

var knownEdgeKinds = map[EdgeKind]bool{
	EdgeMessage:  true,
	EdgeResource: true,
	EdgeDelegate: true,
}

// Edge is a typed connection between two node ports.
type Edge struct {
	ID         string   `json:"id"`
	SourceNode string   `json:"source_node"`
	SourcePort string   `json:"source_port"`
	TargetNode string   `json:"target_node"`
	TargetPort string   `json:"target_port"`
	Kind       EdgeKind `json:"edge_type"`
}

// NewEdge creates an edge with a fresh short id.
func NewEdge(kind EdgeKind, sourceNode, sourcePort, targetNode, targetPort string) *Edge {
	return &Edge{
		ID:         uuid.NewString()[:8],
		SourceNode: sourceNode,
		SourcePort: sourcePort,
		TargetNode: targetNode,
		TargetPort: targetPort,
		Kind:       kind,
	}
}
