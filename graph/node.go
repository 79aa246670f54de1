package graph

import (
	"github.com/google/uuid"
)

// NodeKind identifies what a node in the design graph represents.
type NodeKind string

const (
	NodeAgent          NodeKind = "agent"
	NodeKnowledgeGraph NodeKind = "knowledge_graph"
	NodeMemoryStream   NodeKind = "memory_stream"
	NodeToolbox        NodeKind = "toolbox"
	NodeTextInput      NodeKind = "text_input"
	NodeVoiceInput     NodeKind = "voice_input"
	NodeTextOutput     NodeKind = "text_output"
	NodeScheduledEvent NodeKind = "scheduled_event"
	NodeMessageBuffer  NodeKind = "message_buffer"
)

// knownNodeKinds is the closed set accepted by validation.
var knownNodeKinds = map[NodeKind]bool{
	NodeAgent:          true,
	NodeKnowledgeGraph: true,
	NodeMemoryStream:   true,
	NodeToolbox:        true,
	NodeTextInput:      true,
	NodeVoiceInput:     true,
	NodeTextOutput:     true,
	NodeScheduledEvent: true,
	NodeMessageBuffer:  true,
}

// Position is the 2D placement of a node in the visual editor. The engine
// persists it and never interprets it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Ports enumerates the connection points a node kind exposes.
type Ports struct {
	Inputs        []string `json:"inputs"`
	Outputs       []string `json:"outputs"`
	Bidirectional []string `json:"bidirectional"`
}

// NodeConfig holds the per-node settings. The set of meaningful fields
// depends on the node kind; unused fields stay at their zero value and are
// omitted from JSON.
type NodeConfig struct {
	Name string `json:"name"`

	// Agent settings.
	Model          string `json:"model,omitempty"`
	APIURL         string `json:"api_url,omitempty"`
	APIKey         string `json:"api_key,omitempty"`
	SystemTemplate string `json:"system_template,omitempty"`

	// Toolbox settings. Entries may be tool names or preset names.
	Tools []string `json:"tools,omitempty"`

	// Memory stream settings.
	MaxObservations int `json:"max_observations,omitempty"`

	// Scheduled event settings.
	TriggerType     string `json:"trigger_type,omitempty"` // "once" or "interval"
	RunAt           string `json:"run_at,omitempty"`       // RFC 3339, for "once"
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
	MessageContent  string `json:"message_content,omitempty"`
}

// Node is a single element of the design graph.
type Node struct {
	ID       string     `json:"id"`
	Kind     NodeKind   `json:"type"`
	Position Position   `json:"position"`
	Config   NodeConfig `json:"config"`
}

// NewNode creates a node with a fresh short id and kind defaults applied to
// any config field left empty.
func NewNode(kind NodeKind, config NodeConfig) *Node {
	applyDefaults(kind, &config)
	return &Node{
		ID:     uuid.NewString()[:8],
		Kind:   kind,
		Config: config,
	}
}

func applyDefaults(kind NodeKind, cfg *NodeConfig) {
	switch kind {
	case NodeAgent:
		if cfg.Model == "" {
			cfg.Model = "gpt-4"
		}
		if cfg.APIURL == "" {
			cfg.APIURL = "http://127.0.0.1:1234/v1"
		}
		if cfg.SystemTemplate == "" {
			cfg.SystemTemplate = "agent"
		}
	case NodeKnowledgeGraph:
		if cfg.Name == "" {
			cfg.Name = "Knowledge Graph"
		}
	case NodeMemoryStream:
		if cfg.Name == "" {
			cfg.Name = "Memory Stream"
		}
		if cfg.MaxObservations == 0 {
			cfg.MaxObservations = 1000
		}
	case NodeToolbox:
		if cfg.Name == "" {
			cfg.Name = "Toolbox"
		}
	case NodeTextInput:
		if cfg.Name == "" {
			cfg.Name = "Text Input"
		}
	case NodeVoiceInput:
		if cfg.Name == "" {
			cfg.Name = "Voice Input"
		}
	case NodeTextOutput:
		if cfg.Name == "" {
			cfg.Name = "Text Output"
		}
	case NodeScheduledEvent:
		if cfg.Name == "" {
			cfg.Name = "Scheduled Event"
		}
		if cfg.TriggerType == "" {
			cfg.TriggerType = "interval"
		}
		if cfg.IntervalSeconds == 0 {
			cfg.IntervalSeconds = 30
		}
		if cfg.MessageContent == "" {
			cfg.MessageContent = "Review your current state and pending tasks."
		}
	case NodeMessageBuffer:
		if cfg.Name == "" {
			cfg.Name = "Message Buffer"
		}
	}
}

// Ports returns the port set fixed by the node's kind.
func (n *Node) Ports() Ports {
	return PortsFor(n.Kind)
}

// PortsFor returns the port set for a node kind. Unknown kinds expose no
// ports.
func PortsFor(kind NodeKind) Ports {
	switch kind {
	case NodeAgent:
		return Ports{
			Inputs:        []string{"message_in", "answer"},
			Outputs:       []string{"message_out", "ask"},
			Bidirectional: []string{"knowledge", "memory", "tools"},
		}
	case NodeKnowledgeGraph, NodeMemoryStream, NodeToolbox:
		return Ports{Bidirectional: []string{"connection"}}
	case NodeTextInput, NodeVoiceInput, NodeScheduledEvent:
		return Ports{Outputs: []string{"message_out"}}
	case NodeTextOutput:
		return Ports{Inputs: []string{"message_in"}}
	case NodeMessageBuffer:
		return Ports{
			Inputs:  []string{"message_in", "trigger"},
			Outputs: []string{"message_out"},
		}
	}
	return Ports{}
}

func (p Ports) hasInput(name string) bool {
	for _, s := range p.Inputs {
		if s == name {
			return true
		}
	}
	for _, s := range p.Bidirectional {
		if s == name {
			return true
		}
	}
	return false
}

func (p Ports) hasOutput(name string) bool {
	for _, s := range p.Outputs {
		if s == name {
			return true
		}
	}
	for _, s := range p.Bidirectional {
		if s == name {
			return true
		}
	}
	return false
}
