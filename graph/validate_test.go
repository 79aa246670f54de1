package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validGraph() (*AgentGraph, *Node, *Node, *Node) {
	g := NewAgentGraph()
	in := NewNode(NodeTextInput, NodeConfig{})
	agent := NewNode(NodeAgent, NodeConfig{Name: "scout"})
	out := NewNode(NodeTextOutput, NodeConfig{})
	g.AddNode(in)
	g.AddNode(agent)
	g.AddNode(out)
	g.AddEdge(NewEdge(EdgeMessage, in.ID, "message_out", agent.ID, "message_in"))
	g.AddEdge(NewEdge(EdgeMessage, agent.ID, "message_out", out.ID, "message_in"))
	return g, in, agent, out
}

func TestValidateOK(t *testing.T) {
	g, _, _, _ := validGraph()
	assert.NoError(t, g.Validate())
	assert.NoError(t, g.ValidateForDeploy())
}

func TestValidateUnknownKinds(t *testing.T) {
	g := NewAgentGraph()
	g.AddNode(&Node{ID: "x1", Kind: "widget"})
	err := g.Validate()
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestValidateMissingEndpoint(t *testing.T) {
	g, _, agent, _ := validGraph()
	g.AddEdge(NewEdge(EdgeMessage, agent.ID, "message_out", "ghost", "message_in"))
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing target node")
}

func TestValidateBadPorts(t *testing.T) {
	g, in, agent, _ := validGraph()
	g.AddEdge(NewEdge(EdgeMessage, in.ID, "bogus_out", agent.ID, "message_in"))
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid source port")
}

func TestValidateMessageEdgeIntoOutputPort(t *testing.T) {
	g := NewAgentGraph()
	a := NewNode(NodeAgent, NodeConfig{Name: "a"})
	b := NewNode(NodeAgent, NodeConfig{Name: "b"})
	g.AddNode(a)
	g.AddNode(b)
	// answer is an input port but message edges may only enter message_in or trigger.
	g.AddEdge(NewEdge(EdgeMessage, a.ID, "message_out", b.ID, "answer"))
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message_in or trigger")
}

func TestValidateDuplicateResourceBinding(t *testing.T) {
	g, _, agent, _ := validGraph()
	kg1 := NewNode(NodeKnowledgeGraph, NodeConfig{})
	kg2 := NewNode(NodeKnowledgeGraph, NodeConfig{})
	g.AddNode(kg1)
	g.AddNode(kg2)
	g.AddEdge(NewEdge(EdgeResource, agent.ID, "knowledge", kg1.ID, "connection"))
	g.AddEdge(NewEdge(EdgeResource, agent.ID, "knowledge", kg2.ID, "connection"))
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than one knowledge_graph")
}

func TestValidateMultipleToolboxesAllowed(t *testing.T) {
	g, _, agent, _ := validGraph()
	tb1 := NewNode(NodeToolbox, NodeConfig{Tools: []string{"recall"}})
	tb2 := NewNode(NodeToolbox, NodeConfig{Tools: []string{"get_date_time"}})
	g.AddNode(tb1)
	g.AddNode(tb2)
	g.AddEdge(NewEdge(EdgeResource, agent.ID, "tools", tb1.ID, "connection"))
	g.AddEdge(NewEdge(EdgeResource, agent.ID, "tools", tb2.ID, "connection"))
	assert.NoError(t, g.Validate())
}

func TestValidateDelegateBetweenAgentsOnly(t *testing.T) {
	g, in, agent, _ := validGraph()
	g.AddEdge(NewEdge(EdgeDelegate, in.ID, "message_out", agent.ID, "answer"))
	err := g.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "two agents")
}

func TestValidateForDeployEmptyGraph(t *testing.T) {
	g := NewAgentGraph()
	err := g.ValidateForDeploy()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty graph")
}

func TestProjectExportRoundTrip(t *testing.T) {
	p := NewProject("demo")
	g, _, _, _ := validGraph()
	p.Graph = g
	p.TTSSettings = []byte(`{"voice":"af_bella"}`)

	data, err := p.ExportJSON()
	require.NoError(t, err)

	got, err := ImportProjectJSON(data)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Name, got.Name)
	require.Len(t, got.Graph.Nodes, 3)
	require.Len(t, got.Graph.Edges, 2)
	assert.JSONEq(t, `{"voice":"af_bella"}`, string(got.TTSSettings))
	assert.Equal(t, NodeAgent, got.Graph.Nodes[1].Kind)
	assert.Equal(t, "scout", got.Graph.Nodes[1].Config.Name)
}
