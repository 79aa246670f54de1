package graph

import "fmt"

// ValidationError describes a malformed graph element. The engine surfaces
// it to the caller and leaves its own state unchanged.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Reason)
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks structural well-formedness: known kinds, edges referencing
// existing nodes, legal ports, and message edges running from *_out ports to
// *_in or trigger ports.
func (g *AgentGraph) Validate() error {
	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return validationErrorf("node with empty id")
		}
		if seen[n.ID] {
			return validationErrorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		if !knownNodeKinds[n.Kind] {
			return validationErrorf("node %q has unknown kind %q", n.ID, n.Kind)
		}
	}

	resourceBindings := make(map[string]map[NodeKind]int)

	for _, e := range g.Edges {
		if !knownEdgeKinds[e.Kind] {
			return validationErrorf("edge %q has unknown kind %q", e.ID, e.Kind)
		}
		src := g.GetNode(e.SourceNode)
		if src == nil {
			return validationErrorf("edge %q references missing source node %q", e.ID, e.SourceNode)
		}
		dst := g.GetNode(e.TargetNode)
		if dst == nil {
			return validationErrorf("edge %q references missing target node %q", e.ID, e.TargetNode)
		}
		if !src.Ports().hasOutput(e.SourcePort) {
			return validationErrorf("edge %q uses invalid source port %q on %s node %q",
				e.ID, e.SourcePort, src.Kind, src.ID)
		}
		if !dst.Ports().hasInput(e.TargetPort) {
			return validationErrorf("edge %q uses invalid target port %q on %s node %q",
				e.ID, e.TargetPort, dst.Kind, dst.ID)
		}

		switch e.Kind {
		case EdgeMessage:
			if e.SourcePort != "message_out" {
				return validationErrorf("message edge %q must leave a message_out port, got %q", e.ID, e.SourcePort)
			}
			if e.TargetPort != "message_in" && e.TargetPort != "trigger" {
				return validationErrorf("message edge %q must enter message_in or trigger, got %q", e.ID, e.TargetPort)
			}
		case EdgeDelegate:
			if src.Kind != NodeAgent || dst.Kind != NodeAgent {
				return validationErrorf("delegate edge %q must connect two agents", e.ID)
			}
			if e.SourcePort != "ask" {
				return validationErrorf("delegate edge %q must leave the ask port, got %q", e.ID, e.SourcePort)
			}
		case EdgeResource:
			agent, resource := src, dst
			if agent.Kind != NodeAgent {
				agent, resource = dst, src
			}
			if agent.Kind != NodeAgent {
				return validationErrorf("resource edge %q has no agent endpoint", e.ID)
			}
			switch resource.Kind {
			case NodeKnowledgeGraph, NodeMemoryStream, NodeToolbox:
			default:
				return validationErrorf("resource edge %q binds agent %q to a %s node", e.ID, agent.ID, resource.Kind)
			}
			if resource.Kind != NodeToolbox {
				if resourceBindings[agent.ID] == nil {
					resourceBindings[agent.ID] = make(map[NodeKind]int)
				}
				resourceBindings[agent.ID][resource.Kind]++
				if resourceBindings[agent.ID][resource.Kind] > 1 {
					return validationErrorf("agent %q is bound to more than one %s", agent.ID, resource.Kind)
				}
			}
		}
	}
	return nil
}

// ValidateForDeploy runs Validate and additionally rejects graphs the
// runtime cannot do anything with.
func (g *AgentGraph) ValidateForDeploy() error {
	if len(g.Nodes) == 0 {
		return validationErrorf("cannot deploy an empty graph")
	}
	if err := g.Validate(); err != nil {
		return err
	}
	if len(g.NodesOfKind(NodeAgent)) == 0 {
		return validationErrorf("cannot deploy a graph with no agents")
	}
	return nil
}
