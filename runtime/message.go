// Package runtime compiles a design-time agent graph into an executable form
// and routes messages through it: depth-first walks over a precomputed
// routing table, trigger-gated message buffers, scheduled events, and LLM
// agents with tool-call loops backed by durable knowledge graphs and memory
// streams.
package runtime

import "context"

// Message is the unit routed between nodes.
type Message struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// Executable is any node that participates in routing. The concrete type
// today is Agent; future logic nodes implement the same contract.
//
// Execute performs one turn over the input list and returns the produced
// messages. Implementations must not mutate the input slice: it is shared by
// reference across sibling targets of the same walk.
type Executable interface {
	ID() string
	Name() string
	Execute(ctx context.Context, msgs []Message) ([]Message, error)
}
