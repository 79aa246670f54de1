// Package tools implements the callable tool layer agents expose to the
// model: a toolbox of named definitions with function-calling schemas, a
// registry of built-in tools (knowledge graph, memory recall, system, web,
// wikipedia), and the preset tool sets agents are configured with.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smallnest/agentgraphgo/llm"
	"github.com/smallnest/agentgraphgo/memory"
)

// Host is the agent surface a tool body runs against. Knowledge and Memory
// return nil when the agent has no such resource bound.
type Host interface {
	AgentName() string
	Knowledge() *memory.KnowledgeGraph
	Memory() *memory.MemoryStream
}

// Definition is one callable tool: its function-calling schema plus the body.
// Bodies receive already-decoded arguments; a returned error is reported to
// the model as a tool result, never propagated.
type Definition struct {
	Name        string
	Description string
	Parameters  llm.Parameters
	Run         func(ctx context.Context, host Host, args map[string]any) (string, error)
}

// Schema returns the function-calling shape exposed to models.
func (d *Definition) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Type: "function",
		Function: llm.FunctionSchema{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		},
	}
}

// Toolbox is an ordered collection of tool definitions. Order is preserved so
// schemas reach the model in a stable sequence.
type Toolbox struct {
	defs  []*Definition
	index map[string]*Definition
}

// NewToolbox builds a toolbox from the given definitions. Duplicate names
// keep the first definition.
func NewToolbox(defs ...*Definition) *Toolbox {
	tb := &Toolbox{index: make(map[string]*Definition)}
	for _, d := range defs {
		tb.Add(d)
	}
	return tb
}

// Add appends a definition unless the name is already present.
func (tb *Toolbox) Add(d *Definition) {
	if _, ok := tb.index[d.Name]; ok {
		return
	}
	tb.defs = append(tb.defs, d)
	tb.index[d.Name] = d
}

// Has reports whether a tool with the given name is registered.
func (tb *Toolbox) Has(name string) bool {
	_, ok := tb.index[name]
	return ok
}

// Names returns the tool names in registration order.
func (tb *Toolbox) Names() []string {
	out := make([]string, 0, len(tb.defs))
	for _, d := range tb.defs {
		out = append(out, d.Name)
	}
	return out
}

// Len returns the number of registered tools.
func (tb *Toolbox) Len() int { return len(tb.defs) }

// Schemas returns the function-calling schemas in registration order.
func (tb *Toolbox) Schemas() []llm.ToolSchema {
	if len(tb.defs) == 0 {
		return nil
	}
	out := make([]llm.ToolSchema, 0, len(tb.defs))
	for _, d := range tb.defs {
		out = append(out, d.Schema())
	}
	return out
}

// Invoke decodes the raw JSON arguments and runs the named tool. Arguments
// that fail to decode as an object are handed to the tool as
// {"input": <raw>}, matching how models sometimes emit bare strings.
func (tb *Toolbox) Invoke(ctx context.Context, host Host, name, argsJSON string) (string, error) {
	d, ok := tb.index[name]
	if !ok {
		return "", fmt.Errorf("tool %q not registered", name)
	}
	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			args = map[string]any{"input": argsJSON}
		}
	}
	return d.Run(ctx, host, args)
}

// Argument decoding helpers. Models send JSON, so numbers arrive as float64
// and everything else needs a tolerant conversion.

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		case float64:
			return fmt.Sprintf("%v", s)
		}
	}
	return ""
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case string:
			var parsed int
			if _, err := fmt.Sscanf(n, "%d", &parsed); err == nil {
				return parsed
			}
		}
	}
	return def
}

// timeArg parses an optional timestamp argument. Accepts RFC 3339 and plain
// dates; returns nil when absent or unparseable.
func timeArg(args map[string]any, key string) *time.Time {
	s := stringArg(args, key)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// jsonResult renders a structured tool result the way models expect: compact
// JSON, falling back to fmt on marshal failure.
func jsonResult(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
