package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallnest/agentgraphgo/events"
	"github.com/smallnest/agentgraphgo/graph"
	"github.com/smallnest/agentgraphgo/llm"
	"github.com/smallnest/agentgraphgo/log"
	"github.com/smallnest/agentgraphgo/memory"
	"github.com/smallnest/agentgraphgo/storage"
	"github.com/smallnest/agentgraphgo/tools"
)

// AdapterFactory creates the LLM adapter for an agent node. The default
// factory builds an OpenAI-compatible adapter from the node config; tests
// swap in stubs.
type AdapterFactory func(node *graph.Node) (llm.Adapter, error)

// Builder compiles a design graph into an ExecutionGraph. It is pure with
// respect to in-memory state; its only side effects are the idempotent
// kg_ensure/ms_ensure storage upserts.
type Builder struct {
	backend   storage.Backend
	embedder  memory.Embedder
	registry  *tools.Registry
	bus       *events.Bus
	templates *TemplateRegistry
	adapters  AdapterFactory
	logger    log.Logger
}

type BuilderOption func(*Builder)

// WithToolRegistry overrides the tool registry toolbox nodes resolve
// against.
func WithToolRegistry(r *tools.Registry) BuilderOption {
	return func(b *Builder) { b.registry = r }
}

// WithBus sets the event bus agents emit on.
func WithBus(bus *events.Bus) BuilderOption {
	return func(b *Builder) { b.bus = bus }
}

// WithTemplates overrides the system prompt template registry.
func WithTemplates(t *TemplateRegistry) BuilderOption {
	return func(b *Builder) { b.templates = t }
}

// WithAdapterFactory overrides how agent adapters are constructed.
func WithAdapterFactory(f AdapterFactory) BuilderOption {
	return func(b *Builder) { b.adapters = f }
}

// WithBuilderLogger sets the logger.
func WithBuilderLogger(l log.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a builder. backend may be nil, in which case knowledge
// graphs and memory streams live in memory only — useful for tests and
// throwaway deployments.
func NewBuilder(backend storage.Backend, embedder memory.Embedder, opts ...BuilderOption) *Builder {
	b := &Builder{
		backend:  backend,
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.embedder == nil {
		b.embedder = memory.NewHashEmbedder()
	}
	if b.registry == nil {
		b.registry = tools.NewRegistry()
	}
	if b.bus == nil {
		b.bus = events.NewBus()
	}
	if b.templates == nil {
		b.templates = NewTemplateRegistry()
	}
	if b.adapters == nil {
		b.adapters = func(node *graph.Node) (llm.Adapter, error) {
			cfg := node.Config
			return llm.NewOpenAIAdapter(cfg.Model, cfg.APIURL, cfg.APIKey), nil
		}
	}
	if b.logger == nil {
		b.logger = log.GetDefaultLogger()
	}
	return b
}

// Bus returns the event bus agents built by this builder emit on.
func (b *Builder) Bus() *events.Bus { return b.bus }

// Build compiles the design graph for the given project.
func (b *Builder) Build(ctx context.Context, design *graph.AgentGraph, projectID string) (*ExecutionGraph, error) {
	eg := &ExecutionGraph{
		ProjectID:   projectID,
		Executables: make(map[string]Executable),
		Buffers:     make(map[string]*MessageBuffer),
		Routing:     make(map[string][]RouteTarget),
		ExitIDs:     make(map[string]bool),
		KGs:         make(map[string]*memory.KnowledgeGraph),
		Streams:     make(map[string]*memory.MemoryStream),
	}

	if err := b.buildResources(ctx, design, projectID, eg); err != nil {
		return nil, deploymentErrorf("resources", err)
	}
	if err := b.buildAgents(ctx, design, eg); err != nil {
		return nil, deploymentErrorf("agents", err)
	}
	if err := b.buildDelegates(design, eg); err != nil {
		return nil, deploymentErrorf("delegate tools", err)
	}

	for _, n := range design.NodesOfKind(graph.NodeMessageBuffer) {
		eg.Buffers[n.ID] = &MessageBuffer{}
	}
	for _, n := range design.NodesOfKind(graph.NodeTextInput) {
		eg.TextEntries = append(eg.TextEntries, n.ID)
	}
	for _, n := range design.NodesOfKind(graph.NodeVoiceInput) {
		eg.VoiceEntries = append(eg.VoiceEntries, n.ID)
	}
	if err := b.buildScheduledEvents(design, eg); err != nil {
		return nil, deploymentErrorf("scheduled events", err)
	}
	b.buildRouting(design, eg)

	return eg, nil
}

// buildResources creates the KG and memory stream handles, persisted when a
// backend is configured.
func (b *Builder) buildResources(ctx context.Context, design *graph.AgentGraph, projectID string, eg *ExecutionGraph) error {
	for _, n := range design.NodesOfKind(graph.NodeKnowledgeGraph) {
		if b.backend == nil {
			eg.KGs[n.ID] = memory.NewKnowledgeGraph()
			continue
		}
		kgID, err := b.backend.KGEnsure(ctx, projectID, n.ID)
		if err != nil {
			return fmt.Errorf("kg ensure %s: %w", n.ID, err)
		}
		snap, err := b.backend.KGLoadFull(ctx, projectID, n.ID)
		if err != nil {
			return fmt.Errorf("kg load %s: %w", n.ID, err)
		}
		var kg *memory.KnowledgeGraph
		if snap != nil {
			kg = memory.LoadKnowledgeGraph(snap)
		} else {
			kg = memory.NewKnowledgeGraph()
		}
		kg.Bind(b.backend, kgID)
		eg.KGs[n.ID] = kg
	}

	for _, n := range design.NodesOfKind(graph.NodeMemoryStream) {
		if b.backend == nil {
			eg.Streams[n.ID] = memory.NewInMemoryStream(b.embedder)
			continue
		}
		msID, err := b.backend.MSEnsure(ctx, projectID, n.ID)
		if err != nil {
			return fmt.Errorf("ms ensure %s: %w", n.ID, err)
		}
		if _, err := b.backend.MSGetMetadata(ctx, msID); err != nil {
			return fmt.Errorf("ms metadata %s: %w", n.ID, err)
		}
		eg.Streams[n.ID] = memory.NewMemoryStream(b.backend, msID, b.embedder)
	}
	return nil
}

// buildAgents instantiates one Agent per agent node, bound to its resources
// via the design graph's resource edges.
func (b *Builder) buildAgents(ctx context.Context, design *graph.AgentGraph, eg *ExecutionGraph) error {
	for _, n := range design.NodesOfKind(graph.NodeAgent) {
		cfg := n.Config

		if !b.templates.Has(cfg.SystemTemplate) {
			return fmt.Errorf("agent %s: template %q not registered", cfg.Name, cfg.SystemTemplate)
		}

		var kg *memory.KnowledgeGraph
		if peers := design.ResourcePeers(n.ID, graph.NodeKnowledgeGraph); len(peers) > 0 {
			kg = eg.KGs[peers[0].ID]
		}
		var ms *memory.MemoryStream
		if peers := design.ResourcePeers(n.ID, graph.NodeMemoryStream); len(peers) > 0 {
			ms = eg.Streams[peers[0].ID]
		}

		toolbox := tools.NewToolbox()
		for _, tb := range design.ResourcePeers(n.ID, graph.NodeToolbox) {
			built, err := b.registry.Build(tb.Config.Tools)
			if err != nil {
				return fmt.Errorf("agent %s: toolbox %s: %w", cfg.Name, tb.Config.Name, err)
			}
			for _, name := range built.Names() {
				toolbox.Add(b.registry.Get(name))
			}
		}

		adapter, err := b.adapters(n)
		if err != nil {
			return fmt.Errorf("agent %s: adapter: %w", cfg.Name, err)
		}

		eg.Executables[n.ID] = NewAgent(AgentConfig{
			ID:           n.ID,
			Name:         cfg.Name,
			Adapter:      adapter,
			Toolbox:      toolbox,
			Knowledge:    kg,
			Memory:       ms,
			Bus:          b.bus,
			Templates:    b.templates,
			TemplateName: cfg.SystemTemplate,
			Logger:       b.logger,
		})
	}
	return nil
}

// buildDelegates synthesises an ask_<name> tool per delegate edge. The tool
// resolves the target through the executables map at call time, so agents
// never hold direct references to each other.
func (b *Builder) buildDelegates(design *graph.AgentGraph, eg *ExecutionGraph) error {
	for _, e := range design.Edges {
		if e.Kind != graph.EdgeDelegate {
			continue
		}
		source, ok := eg.Executables[e.SourceNode].(*Agent)
		if !ok {
			return fmt.Errorf("delegate edge %s: source %s is not an agent", e.ID, e.SourceNode)
		}
		target := design.GetNode(e.TargetNode)
		if target == nil {
			return fmt.Errorf("delegate edge %s: target %s missing", e.ID, e.TargetNode)
		}
		source.Toolbox().Add(delegateTool(target.Config.Name, e.TargetNode, eg.Executables))
	}
	return nil
}

// delegateTool builds the synthesised tool that lets one agent ask another
// and receive its reply synchronously.
func delegateTool(targetName, targetID string, executables map[string]Executable) *tools.Definition {
	return &tools.Definition{
		Name:        "ask_" + sanitizeName(targetName),
		Description: fmt.Sprintf("Ask the agent '%s' a question and receive its answer.", targetName),
		Parameters: llm.Parameters{
			Type: "object",
			Properties: map[string]llm.Property{
				"question": {Type: "string", Description: "The question to ask"},
			},
			Required: []string{"question"},
		},
		Run: func(ctx context.Context, host tools.Host, args map[string]any) (string, error) {
			target, ok := executables[targetID]
			if !ok {
				return "", fmt.Errorf("agent '%s' is no longer deployed", targetName)
			}
			question, _ := args["question"].(string)
			replies, err := target.Execute(ctx, []Message{{Sender: host.AgentName(), Content: question}})
			if err != nil {
				return "", err
			}
			if len(replies) == 0 {
				return "No response", nil
			}
			return replies[0].Content, nil
		},
	}
}

// sanitizeName lowercases a display name and squashes anything that is not
// alphanumeric into underscores.
func sanitizeName(name string) string {
	var sb strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && sb.Len() > 0 {
				sb.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "_")
}

func (b *Builder) buildScheduledEvents(design *graph.AgentGraph, eg *ExecutionGraph) error {
	for _, n := range design.NodesOfKind(graph.NodeScheduledEvent) {
		cfg := n.Config
		ev := ScheduledEventConfig{
			NodeID:         n.ID,
			Name:           cfg.Name,
			TriggerType:    cfg.TriggerType,
			Interval:       time.Duration(cfg.IntervalSeconds) * time.Second,
			MessageContent: cfg.MessageContent,
		}
		if cfg.RunAt != "" {
			at, err := time.Parse(time.RFC3339, cfg.RunAt)
			if err != nil {
				return fmt.Errorf("scheduled event %s: bad run_at %q: %w", cfg.Name, cfg.RunAt, err)
			}
			ev.RunAt = at
		}
		eg.ScheduledEvents = append(eg.ScheduledEvents, ev)
	}
	return nil
}

// buildRouting fills the routing table from the message edges, preserving
// edge declaration order per source.
func (b *Builder) buildRouting(design *graph.AgentGraph, eg *ExecutionGraph) {
	for _, e := range design.Edges {
		if e.Kind != graph.EdgeMessage || e.SourcePort != "message_out" {
			continue
		}
		target := design.GetNode(e.TargetNode)
		if target == nil {
			continue
		}
		var rt RouteTarget
		switch {
		case target.Kind == graph.NodeAgent:
			rt = RouteTarget{Kind: TargetExecutable, NodeID: e.TargetNode}
		case target.Kind == graph.NodeMessageBuffer && e.TargetPort == "trigger":
			rt = RouteTarget{Kind: TargetBufferTrigger, NodeID: e.TargetNode}
		case target.Kind == graph.NodeMessageBuffer:
			rt = RouteTarget{Kind: TargetBufferIn, NodeID: e.TargetNode}
		case target.Kind == graph.NodeTextOutput:
			rt = RouteTarget{Kind: TargetExit, NodeID: e.TargetNode}
			eg.ExitIDs[e.SourceNode] = true
		default:
			continue
		}
		eg.Routing[e.SourceNode] = append(eg.Routing[e.SourceNode], rt)
	}
}
