package runtime

import (
	"time"

	"github.com/smallnest/agentgraphgo/memory"
)

// TargetKind classifies a routing-table entry.
type TargetKind string

const (
	// TargetExecutable runs the target node and walks its output downstream.
	TargetExecutable TargetKind = "executable"
	// TargetBufferIn appends the messages to a buffer's pending list.
	TargetBufferIn TargetKind = "buffer_in"
	// TargetBufferTrigger flushes a buffer and walks the flushed list.
	TargetBufferTrigger TargetKind = "buffer_trigger"
	// TargetExit marks delivery to the user sink; the walk itself does
	// nothing for it, delivery happens via the exit set when the source
	// node produces output.
	TargetExit TargetKind = "exit"
)

// RouteTarget is one successor of a source node in the routing table.
type RouteTarget struct {
	Kind   TargetKind
	NodeID string
}

// MessageBuffer accumulates messages until a trigger flushes them. Access is
// serialised by the runtime mutex.
type MessageBuffer struct {
	pending []Message
}

// Append adds messages to the pending list in arrival order.
func (b *MessageBuffer) Append(msgs []Message) {
	b.pending = append(b.pending, msgs...)
}

// Flush empties the buffer and returns the prior pending list.
func (b *MessageBuffer) Flush() []Message {
	out := b.pending
	b.pending = nil
	return out
}

// Pending returns the number of buffered messages.
func (b *MessageBuffer) Pending() int { return len(b.pending) }

// ScheduledEventConfig is a scheduled_event node compiled for the scheduler.
type ScheduledEventConfig struct {
	NodeID         string
	Name           string
	TriggerType    string // "once" or "interval"
	RunAt          time.Time
	Interval       time.Duration
	MessageContent string
}

// ExecutionGraph is the runtime projection of a design graph: only what is
// needed to route and execute messages.
type ExecutionGraph struct {
	ProjectID string

	// Executables by design node id; the canonical map delegate tools look
	// targets up in.
	Executables map[string]Executable

	// Buffers by message_buffer node id.
	Buffers map[string]*MessageBuffer

	// Routing maps a source node id to its ordered successor targets. Order
	// matches edge declaration order in the design graph.
	Routing map[string][]RouteTarget

	// TextEntries and VoiceEntries are input event node ids in declaration
	// order.
	TextEntries  []string
	VoiceEntries []string

	// ScheduledEvents are the timer configs registered on deploy.
	ScheduledEvents []ScheduledEventConfig

	// ExitIDs are the executables whose output is delivered to the user
	// sink.
	ExitIDs map[string]bool

	// KGs and Streams expose the bound resources by their design node id,
	// for state inspection.
	KGs     map[string]*memory.KnowledgeGraph
	Streams map[string]*memory.MemoryStream
}

// Agents returns the agent executables of the graph.
func (eg *ExecutionGraph) Agents() []*Agent {
	var out []*Agent
	for _, ex := range eg.Executables {
		if a, ok := ex.(*Agent); ok {
			out = append(out, a)
		}
	}
	return out
}
