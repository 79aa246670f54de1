package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smallnest/agentgraphgo/events"
	"github.com/smallnest/agentgraphgo/llm"
	"github.com/smallnest/agentgraphgo/log"
	"github.com/smallnest/agentgraphgo/memory"
	"github.com/smallnest/agentgraphgo/tools"
)

const (
	// defaultContextWindow is how many recent observations a stateful agent
	// feeds back into each turn.
	defaultContextWindow = 25
	// defaultImportance scores turn-generated observations.
	defaultImportance = 0.5
	// previewLen caps content previews attached to events.
	previewLen = 120
)

// AgentConfig collects everything an agent needs; the builder fills it from
// the design graph.
type AgentConfig struct {
	ID        string
	Name      string
	Adapter   llm.Adapter
	Toolbox   *tools.Toolbox
	Knowledge *memory.KnowledgeGraph
	// Memory nil means the agent runs stateless: input messages form the
	// whole context and nothing is persisted.
	Memory        *memory.MemoryStream
	Bus           *events.Bus
	Templates     *TemplateRegistry
	TemplateName  string
	Logger        log.Logger
	ContextWindow int
}

// Agent executes one conversational turn per invocation: system prompt,
// context assembly, then an LLM round-trip that loops while the model keeps
// requesting tool calls.
type Agent struct {
	id        string
	name      string
	adapter   llm.Adapter
	toolbox   *tools.Toolbox
	kg        *memory.KnowledgeGraph
	ms        *memory.MemoryStream
	bus       *events.Bus
	templates *TemplateRegistry
	tmplName  string
	logger    log.Logger
	window    int
}

var (
	_ Executable = (*Agent)(nil)
	_ tools.Host = (*Agent)(nil)
)

// NewAgent creates an agent from its config, applying defaults for anything
// optional left unset.
func NewAgent(cfg AgentConfig) *Agent {
	a := &Agent{
		id:        cfg.ID,
		name:      cfg.Name,
		adapter:   cfg.Adapter,
		toolbox:   cfg.Toolbox,
		kg:        cfg.Knowledge,
		ms:        cfg.Memory,
		bus:       cfg.Bus,
		templates: cfg.Templates,
		tmplName:  cfg.TemplateName,
		logger:    cfg.Logger,
		window:    cfg.ContextWindow,
	}
	if a.toolbox == nil {
		a.toolbox = tools.NewToolbox()
	}
	if a.bus == nil {
		a.bus = events.NewBus()
	}
	if a.templates == nil {
		a.templates = NewTemplateRegistry()
	}
	if a.tmplName == "" {
		a.tmplName = "agent"
	}
	if a.logger == nil {
		a.logger = log.GetDefaultLogger()
	}
	if a.window <= 0 {
		a.window = defaultContextWindow
	}
	return a
}

// ID returns the design node id.
func (a *Agent) ID() string { return a.id }

// Name returns the configured agent name.
func (a *Agent) Name() string { return a.name }

// AgentName implements tools.Host.
func (a *Agent) AgentName() string { return a.name }

// Knowledge implements tools.Host.
func (a *Agent) Knowledge() *memory.KnowledgeGraph { return a.kg }

// Memory implements tools.Host.
func (a *Agent) Memory() *memory.MemoryStream { return a.ms }

// Toolbox returns the agent's toolbox; the builder adds delegate tools to it
// after construction.
func (a *Agent) Toolbox() *tools.Toolbox { return a.toolbox }

// Stateful reports whether a memory stream is bound.
func (a *Agent) Stateful() bool { return a.ms != nil }

func (a *Agent) emit(t events.Type, data map[string]any) {
	a.bus.Emit(events.Event{
		Type:      t,
		AgentID:   a.id,
		AgentName: a.name,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func preview(s string) string {
	if len(s) > previewLen {
		return s[:previewLen] + "..."
	}
	return s
}

// Execute runs one turn. Adapter failures abort the turn and return an empty
// list; they are emitted as events, never propagated. Tool failures are fed
// back to the model as error-text tool results and the loop continues.
func (a *Agent) Execute(ctx context.Context, msgs []Message) ([]Message, error) {
	system, err := a.templates.Render(a.tmplName, a.name, time.Now())
	if err != nil {
		a.emit(events.ErrorOccurred, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("render system prompt: %w", err)
	}

	for _, m := range msgs {
		a.emit(events.MessageReceived, map[string]any{
			"sender":  m.Sender,
			"content": preview(m.Content),
		})
	}

	turns, err := a.buildContext(ctx, msgs)
	if err != nil {
		a.emit(events.ErrorOccurred, map[string]any{"error": err.Error()})
		a.logger.Error("agent %s: context assembly failed: %v", a.name, err)
		return nil, nil
	}
	history := append([]llm.Turn{llm.SystemTurn(system)}, turns...)

	for {
		resp, err := a.chat(ctx, history)
		if err != nil {
			a.emit(events.ErrorOccurred, map[string]any{"error": err.Error()})
			a.logger.Error("agent %s: llm call failed: %v", a.name, err)
			return nil, nil
		}
		if a.ms != nil {
			if err := a.ms.Add(ctx, memory.ContentLLMResponse, resp, defaultImportance); err != nil {
				a.logger.Warn("agent %s: persisting response failed: %v", a.name, err)
			}
		}
		history = append(history, llm.AssistantTurn(resp))

		if !resp.HasToolCalls() {
			if resp.Content == "" {
				return nil, nil
			}
			return []Message{{Sender: a.name, Content: resp.Content}}, nil
		}

		for _, call := range resp.ToolCalls {
			result := a.runTool(ctx, call)
			history = append(history, llm.ToolTurn(call.ID, result))
			if a.ms != nil {
				tr := llm.ToolResult{Role: llm.RoleTool, ToolCallID: call.ID, Content: result}
				if err := a.ms.Add(ctx, memory.ContentToolResult, tr, defaultImportance); err != nil {
					a.logger.Warn("agent %s: persisting tool result failed: %v", a.name, err)
				}
			}
		}
	}
}

// buildContext assembles the turn list that follows the system prompt. In
// stateful mode the inputs are persisted and the recent window is replayed;
// in stateless mode the inputs are the whole context.
func (a *Agent) buildContext(ctx context.Context, msgs []Message) ([]llm.Turn, error) {
	if a.ms == nil {
		turns := make([]llm.Turn, 0, len(msgs))
		for _, m := range msgs {
			turns = append(turns, llm.UserTurn(formatMessage(m)))
		}
		return turns, nil
	}

	for _, m := range msgs {
		obs := llm.Message{Role: llm.RoleUser, Content: formatMessage(m)}
		if err := a.ms.Add(ctx, memory.ContentMessage, obs, defaultImportance); err != nil {
			return nil, fmt.Errorf("persist input message: %w", err)
		}
	}
	recent, err := a.ms.Recent(ctx, a.window)
	if err != nil {
		return nil, fmt.Errorf("fetch recent observations: %w", err)
	}
	return turnsFromObservations(recent), nil
}

// formatMessage renders a routed message the way the model sees it.
func formatMessage(m Message) string {
	return fmt.Sprintf("[%s]: %s", m.Sender, m.Content)
}

// turnsFromObservations replays stored observations as conversation turns.
// Records that fail to decode are skipped.
func turnsFromObservations(obs []memory.Observation) []llm.Turn {
	turns := make([]llm.Turn, 0, len(obs))
	for _, o := range obs {
		switch o.ContentKind {
		case memory.ContentMessage:
			var m llm.Message
			if json.Unmarshal(o.Content, &m) == nil {
				turns = append(turns, llm.Turn{Role: m.Role, Content: m.Content})
			}
		case memory.ContentLLMResponse:
			var r llm.Response
			if json.Unmarshal(o.Content, &r) == nil {
				turns = append(turns, llm.AssistantTurn(&r))
			}
		case memory.ContentToolResult:
			var tr llm.ToolResult
			if json.Unmarshal(o.Content, &tr) == nil {
				turns = append(turns, llm.ToolTurn(tr.ToolCallID, tr.Content))
			}
		}
	}
	return turns
}

func (a *Agent) chat(ctx context.Context, history []llm.Turn) (*llm.Response, error) {
	a.emit(events.LLMCallStarted, map[string]any{"turns": len(history)})
	start := time.Now()
	resp, err := a.adapter.ChatCompletion(ctx, history, a.toolbox.Schemas())
	if err != nil {
		return nil, err
	}
	a.emit(events.LLMCallCompleted, map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
		"preview":     preview(resp.Content),
		"tool_calls":  len(resp.ToolCalls),
	})
	return resp, nil
}

// runTool resolves and executes one tool call, always producing result text.
func (a *Agent) runTool(ctx context.Context, call llm.ToolCall) string {
	name := call.Function.Name
	a.emit(events.ToolSelected, map[string]any{
		"tool": name,
		"args": preview(call.Function.Arguments),
	})

	var result string
	if !a.toolbox.Has(name) {
		result = fmt.Sprintf("Tool '%s' not found.", name)
	} else if out, err := a.toolbox.Invoke(ctx, a, name, call.Function.Arguments); err != nil {
		result = fmt.Sprintf("Error: %v", err)
	} else {
		result = out
	}

	a.emit(events.ToolExecutionComplete, map[string]any{
		"tool":   name,
		"result": preview(result),
	})
	return result
}
