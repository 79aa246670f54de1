// Package graph holds the design-time model of an agent graph: nodes, typed
// edges, projects and validation. The runtime package compiles this model
// into an executable form on deploy; nothing here executes anything.
package graph

// AgentGraph is the user-authored design graph. Node and edge order is
// preserved; edge-declaration order determines routing fan-out order at
// runtime.
type AgentGraph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// NewAgentGraph returns an empty graph.
func NewAgentGraph() *AgentGraph {
	return &AgentGraph{}
}

// GetNode returns the node with the given id, or nil.
func (g *AgentGraph) GetNode(id string) *Node {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// GetEdge returns the edge with the given id, or nil.
func (g *AgentGraph) GetEdge(id string) *Edge {
	for _, e := range g.Edges {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// AddNode appends a node to the graph.
func (g *AgentGraph) AddNode(n *Node) {
	g.Nodes = append(g.Nodes, n)
}

// RemoveNode removes a node and every edge touching it. It reports whether
// the node existed.
func (g *AgentGraph) RemoveNode(id string) bool {
	idx := -1
	for i, n := range g.Nodes {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	g.Nodes = append(g.Nodes[:idx], g.Nodes[idx+1:]...)

	kept := g.Edges[:0]
	for _, e := range g.Edges {
		if e.SourceNode != id && e.TargetNode != id {
			kept = append(kept, e)
		}
	}
	g.Edges = kept
	return true
}

// AddEdge appends an edge to the graph.
func (g *AgentGraph) AddEdge(e *Edge) {
	g.Edges = append(g.Edges, e)
}

// RemoveEdge removes the edge with the given id, reporting whether it
// existed.
func (g *AgentGraph) RemoveEdge(id string) bool {
	for i, e := range g.Edges {
		if e.ID == id {
			g.Edges = append(g.Edges[:i], g.Edges[i+1:]...)
			return true
		}
	}
	return false
}

// NodesOfKind returns all nodes of the given kind in declaration order.
func (g *AgentGraph) NodesOfKind(kind NodeKind) []*Node {
	var out []*Node
	for _, n := range g.Nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// EdgesFrom returns the edges whose source is the given node, in declaration
// order, optionally filtered by kind (empty kind matches all).
func (g *AgentGraph) EdgesFrom(nodeID string, kind EdgeKind) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.SourceNode != nodeID {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	return out
}

// EdgesTouching returns the edges with the given node as either endpoint,
// optionally filtered by kind.
func (g *AgentGraph) EdgesTouching(nodeID string, kind EdgeKind) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.SourceNode != nodeID && e.TargetNode != nodeID {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ResourcePeers returns the nodes of the given kind bound to an agent via
// resource edges, in declaration order. Resource edges are treated as
// undirected.
func (g *AgentGraph) ResourcePeers(agentID string, kind NodeKind) []*Node {
	var out []*Node
	for _, e := range g.EdgesTouching(agentID, EdgeResource) {
		peerID := e.TargetNode
		if peerID == agentID {
			peerID = e.SourceNode
		}
		if peer := g.GetNode(peerID); peer != nil && peer.Kind == kind {
			out = append(out, peer)
		}
	}
	return out
}
