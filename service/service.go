// Package service exposes the engine's RPC-layer entry points as plain
// methods: project CRUD, design-graph editing, deployment and messaging.
// Wire framing is left to the caller.
//
// Editing is refused while the target project is deployed; undeploy first.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallnest/agentgraphgo/graph"
	"github.com/smallnest/agentgraphgo/log"
	"github.com/smallnest/agentgraphgo/runtime"
	"github.com/smallnest/agentgraphgo/scheduler"
	"github.com/smallnest/agentgraphgo/storage"
)

var (
	// ErrProjectNotFound is returned when an operation names a project id
	// that does not exist.
	ErrProjectNotFound = errors.New("project not found")
	// ErrProjectDeployed is returned for design mutations on a project that
	// is currently deployed.
	ErrProjectDeployed = errors.New("project is deployed; undeploy before editing")
	// ErrNodeNotFound is returned when a graph operation names a missing
	// node.
	ErrNodeNotFound = errors.New("node not found")
	// ErrEdgeNotFound is returned when a graph operation names a missing
	// edge.
	ErrEdgeNotFound = errors.New("edge not found")
)

// GraphState is the deployment snapshot returned to introspection callers.
type GraphState struct {
	Deployed  bool                `json:"deployed"`
	ProjectID string              `json:"project_id,omitempty"`
	Agents    []runtime.AgentInfo `json:"agents,omitempty"`
}

// Service ties the storage backend and the runtime together behind the
// engine's public operations.
type Service struct {
	backend storage.Backend
	rt      *runtime.Runtime
	logger  log.Logger
}

type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a service over a backend and a runtime.
func New(backend storage.Backend, rt *runtime.Runtime, opts ...Option) *Service {
	s := &Service{backend: backend, rt: rt}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.GetDefaultLogger()
	}
	return s
}

// Runtime exposes the underlying runtime, mainly so callers can subscribe to
// its event bus.
func (s *Service) Runtime() *runtime.Runtime { return s.rt }

// ---- projects ----

// ListProjects lists stored projects, most recently updated first.
func (s *Service) ListProjects(ctx context.Context) ([]storage.ProjectInfo, error) {
	return s.backend.ListProjects(ctx)
}

// CreateProject creates and persists an empty named project.
func (s *Service) CreateProject(ctx context.Context, name string) (*graph.Project, error) {
	p := graph.NewProject(name)
	if err := s.backend.SaveProject(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("created project %s (%s)", p.ID, p.Name)
	return p, nil
}

// LoadProject returns the stored project, or ErrProjectNotFound.
func (s *Service) LoadProject(ctx context.Context, id string) (*graph.Project, error) {
	p, err := s.backend.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return p, nil
}

// SaveProject persists the project. Refused while the project is deployed.
func (s *Service) SaveProject(ctx context.Context, p *graph.Project) error {
	if s.rt.Deployed() && s.rt.ProjectID() == p.ID {
		return ErrProjectDeployed
	}
	if err := p.Graph.Validate(); err != nil {
		return err
	}
	return s.backend.SaveProject(ctx, p)
}

// DeleteProject removes the project and all of its knowledge graphs, memory
// streams and observations. Refused while the project is deployed.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if s.rt.Deployed() && s.rt.ProjectID() == id {
		return ErrProjectDeployed
	}
	return s.backend.DeleteProject(ctx, id)
}

// ---- deployment ----

// DeployProject loads the project and deploys its design graph, replacing
// any previous deployment.
func (s *Service) DeployProject(ctx context.Context, id string) error {
	p, err := s.LoadProject(ctx, id)
	if err != nil {
		return err
	}
	return s.rt.Deploy(ctx, p.Graph, p.ID)
}

// UndeployProject tears down the active deployment. Idempotent.
func (s *Service) UndeployProject() {
	s.rt.Undeploy()
}

// ---- design graph CRUD ----

// mutate loads the project, applies fn, validates and saves. The mutation is
// discarded when validation fails.
func (s *Service) mutate(ctx context.Context, projectID string, fn func(*graph.AgentGraph) error) error {
	if s.rt.Deployed() && s.rt.ProjectID() == projectID {
		return ErrProjectDeployed
	}
	p, err := s.LoadProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := fn(p.Graph); err != nil {
		return err
	}
	if err := p.Graph.Validate(); err != nil {
		return err
	}
	return s.backend.SaveProject(ctx, p)
}

// AddNode creates a node of the given kind, applies kind defaults to the
// config, and persists the project.
func (s *Service) AddNode(ctx context.Context, projectID string, kind graph.NodeKind, config graph.NodeConfig, pos graph.Position) (*graph.Node, error) {
	var node *graph.Node
	err := s.mutate(ctx, projectID, func(g *graph.AgentGraph) error {
		node = graph.NewNode(kind, config)
		node.Position = pos
		g.AddNode(node)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// RemoveNode removes the node and every edge touching it.
func (s *Service) RemoveNode(ctx context.Context, projectID, nodeID string) error {
	return s.mutate(ctx, projectID, func(g *graph.AgentGraph) error {
		if !g.RemoveNode(nodeID) {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
		}
		return nil
	})
}

// UpdateNodePosition moves a node in the visual editor.
func (s *Service) UpdateNodePosition(ctx context.Context, projectID, nodeID string, pos graph.Position) error {
	return s.mutate(ctx, projectID, func(g *graph.AgentGraph) error {
		n := g.GetNode(nodeID)
		if n == nil {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
		}
		n.Position = pos
		return nil
	})
}

// UpdateNodeConfig replaces a node's configuration.
func (s *Service) UpdateNodeConfig(ctx context.Context, projectID, nodeID string, config graph.NodeConfig) error {
	return s.mutate(ctx, projectID, func(g *graph.AgentGraph) error {
		n := g.GetNode(nodeID)
		if n == nil {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
		}
		n.Config = config
		return nil
	})
}

// AddEdge connects two nodes. The edge is validated against both endpoints'
// port sets before the project is saved.
func (s *Service) AddEdge(ctx context.Context, projectID string, kind graph.EdgeKind, sourceNode, sourcePort, targetNode, targetPort string) (*graph.Edge, error) {
	var edge *graph.Edge
	err := s.mutate(ctx, projectID, func(g *graph.AgentGraph) error {
		edge = graph.NewEdge(kind, sourceNode, sourcePort, targetNode, targetPort)
		g.AddEdge(edge)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// RemoveEdge removes the edge with the given id.
func (s *Service) RemoveEdge(ctx context.Context, projectID, edgeID string) error {
	return s.mutate(ctx, projectID, func(g *graph.AgentGraph) error {
		if !g.RemoveEdge(edgeID) {
			return fmt.Errorf("%w: %s", ErrEdgeNotFound, edgeID)
		}
		return nil
	})
}

// ---- messaging ----

// SendTextMessage routes a user message into the deployed graph.
func (s *Service) SendTextMessage(ctx context.Context, sender, content string) ([]runtime.AgentResponse, error) {
	return s.rt.SendTextMessage(ctx, sender, content)
}

// SendVoiceMessage routes a transcribed voice message into the deployed
// graph.
func (s *Service) SendVoiceMessage(ctx context.Context, sender, content string) ([]runtime.AgentResponse, error) {
	return s.rt.SendVoiceMessage(ctx, sender, content)
}

// ---- introspection ----

// GetAgentGraphState reports the current deployment and its agents.
func (s *Service) GetAgentGraphState() GraphState {
	st := GraphState{
		Deployed:  s.rt.Deployed(),
		ProjectID: s.rt.ProjectID(),
	}
	if st.Deployed {
		st.Agents = s.rt.RunningAgents()
	}
	return st
}

// GetNodeKGData returns the stored knowledge graph for a design node, or nil
// when none exists.
func (s *Service) GetNodeKGData(ctx context.Context, projectID, nodeID string) (*storage.KGSnapshot, error) {
	return s.backend.KGLoadFull(ctx, projectID, nodeID)
}

// ScheduledTasks lists the scheduler tasks registered for an event node.
func (s *Service) ScheduledTasks(agentID string) []scheduler.Task {
	return s.rt.Scheduler().TasksForAgent(agentID)
}

// PauseScheduledTask disables a task without removing it.
func (s *Service) PauseScheduledTask(taskID string) bool {
	return s.rt.Scheduler().Pause(taskID)
}

// ResumeScheduledTask re-enables a paused task.
func (s *Service) ResumeScheduledTask(taskID string) bool {
	return s.rt.Scheduler().Resume(taskID)
}
