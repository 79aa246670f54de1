package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/agentgraphgo/graph"
	"github.com/smallnest/agentgraphgo/llm"
	"github.com/smallnest/agentgraphgo/scheduler"
)

type exitRecord struct {
	SourceID string
	Sender   string
	Content  string
}

type exitRecorder struct {
	mu      sync.Mutex
	records []exitRecord
}

func (r *exitRecorder) fn(sourceID, sender, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, exitRecord{sourceID, sender, content})
}

func (r *exitRecorder) all() []exitRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]exitRecord(nil), r.records...)
}

func newTestRuntime(f *stubFactory, tick time.Duration) (*Runtime, *exitRecorder) {
	rec := &exitRecorder{}
	rt := NewRuntime(newStubBuilder(f),
		WithRuntimeScheduler(scheduler.New(scheduler.WithTick(tick))),
		WithGraphMessageFunc(rec.fn),
	)
	return rt, rec
}

func TestSimplePing(t *testing.T) {
	g, _, agent, _ := pipelineGraph(t)
	f := &stubFactory{fallback: &stubAdapter{responses: []*llm.Response{textResponse("hello")}}}
	rt, rec := newTestRuntime(f, 50*time.Millisecond)
	defer rt.Close()

	require.NoError(t, rt.Deploy(context.Background(), g, "p1"))

	replies, err := rt.SendTextMessage(context.Background(), "Alice", "hi")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, agent.ID, replies[0].AgentID)
	assert.Equal(t, "hello", replies[0].Response)

	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, exitRecord{agent.ID, "Ada", "hello"}, records[0])
}

func TestSendWithoutDeployment(t *testing.T) {
	rt, _ := newTestRuntime(nil, 50*time.Millisecond)
	defer rt.Close()

	_, err := rt.SendTextMessage(context.Background(), "Alice", "hi")
	assert.ErrorIs(t, err, ErrNotDeployed)
	_, err = rt.SendVoiceMessage(context.Background(), "Alice", "hi")
	assert.ErrorIs(t, err, ErrNotDeployed)
}

func TestVoiceFallsThroughToTextEntries(t *testing.T) {
	g, _, agent, _ := pipelineGraph(t)
	f := &stubFactory{fallback: &stubAdapter{responses: []*llm.Response{textResponse("heard you")}}}
	rt, _ := newTestRuntime(f, 50*time.Millisecond)
	defer rt.Close()

	require.NoError(t, rt.Deploy(context.Background(), g, "p1"))

	replies, err := rt.SendVoiceMessage(context.Background(), "Alice", "hi")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, agent.ID, replies[0].AgentID)
}

func TestFallbackDispatchWithoutInputNodes(t *testing.T) {
	g := graph.NewAgentGraph()
	agent := graph.NewNode(graph.NodeAgent, graph.NodeConfig{Name: "Ada"})
	g.AddNode(agent)

	adapter := &stubAdapter{responses: []*llm.Response{textResponse("direct")}}
	rt, _ := newTestRuntime(&stubFactory{fallback: adapter}, 50*time.Millisecond)
	defer rt.Close()

	require.NoError(t, rt.Deploy(context.Background(), g, "p1"))

	replies, err := rt.SendTextMessage(context.Background(), "Alice", "hi")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "direct", replies[0].Response)
}

func TestBufferGatesOnTrigger(t *testing.T) {
	g := graph.NewAgentGraph()
	in := graph.NewNode(graph.NodeTextInput, graph.NodeConfig{})
	sched := graph.NewNode(graph.NodeScheduledEvent, graph.NodeConfig{
		Name: "S", TriggerType: "interval", IntervalSeconds: 1, MessageContent: "go",
	})
	buf := graph.NewNode(graph.NodeMessageBuffer, graph.NodeConfig{})
	agent := graph.NewNode(graph.NodeAgent, graph.NodeConfig{Name: "Ada"})
	out := graph.NewNode(graph.NodeTextOutput, graph.NodeConfig{})
	for _, n := range []*graph.Node{in, sched, buf, agent, out} {
		g.AddNode(n)
	}
	g.AddEdge(graph.NewEdge(graph.EdgeMessage, in.ID, "message_out", buf.ID, "message_in"))
	g.AddEdge(graph.NewEdge(graph.EdgeMessage, sched.ID, "message_out", buf.ID, "trigger"))
	g.AddEdge(graph.NewEdge(graph.EdgeMessage, buf.ID, "message_out", agent.ID, "message_in"))
	g.AddEdge(graph.NewEdge(graph.EdgeMessage, agent.ID, "message_out", out.ID, "message_in"))

	adapter := &stubAdapter{responses: []*llm.Response{textResponse("received batch")}}
	rt, _ := newTestRuntime(&stubFactory{fallback: adapter}, 50*time.Millisecond)
	defer rt.Close()

	require.NoError(t, rt.Deploy(context.Background(), g, "p1"))

	for _, content := range []string{"a", "b", "c"} {
		replies, err := rt.SendTextMessage(context.Background(), "User", content)
		require.NoError(t, err)
		assert.Empty(t, replies, "buffered sends produce no immediate reply")
	}
	assert.Equal(t, 0, adapter.callCount())

	time.Sleep(1200 * time.Millisecond)

	require.Equal(t, 1, adapter.callCount(), "one agent call per trigger flush")
	turns := adapter.call(0)
	var contents []string
	for _, turn := range turns[1:] {
		contents = append(contents, turn.Content)
	}
	assert.Equal(t, []string{"[User]: a", "[User]: b", "[User]: c", "[S]: go"}, contents)
}

func TestEmptyBufferTriggerDoesNothing(t *testing.T) {
	g := graph.NewAgentGraph()
	sched := graph.NewNode(graph.NodeScheduledEvent, graph.NodeConfig{
		Name: "S", TriggerType: "interval", IntervalSeconds: 1, MessageContent: "go",
	})
	buf := graph.NewNode(graph.NodeMessageBuffer, graph.NodeConfig{})
	agent := graph.NewNode(graph.NodeAgent, graph.NodeConfig{Name: "Ada"})
	for _, n := range []*graph.Node{sched, buf, agent} {
		g.AddNode(n)
	}
	g.AddEdge(graph.NewEdge(graph.EdgeMessage, sched.ID, "message_out", buf.ID, "trigger"))
	g.AddEdge(graph.NewEdge(graph.EdgeMessage, buf.ID, "message_out", agent.ID, "message_in"))

	adapter := &stubAdapter{}
	rt, _ := newTestRuntime(&stubFactory{fallback: adapter}, 50*time.Millisecond)
	defer rt.Close()

	require.NoError(t, rt.Deploy(context.Background(), g, "p1"))
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, 0, adapter.callCount())
}

func TestDelegateTool(t *testing.T) {
	g := graph.NewAgentGraph()
	in := graph.NewNode(graph.NodeTextInput, graph.NodeConfig{})
	a := graph.NewNode(graph.NodeAgent, graph.NodeConfig{Name: "A"})
	b := graph.NewNode(graph.NodeAgent, graph.NodeConfig{Name: "B"})
	for _, n := range []*graph.Node{in, a, b} {
		g.AddNode(n)
	}
	g.AddEdge(graph.NewEdge(graph.EdgeMessage, in.ID, "message_out", a.ID, "message_in"))
	g.AddEdge(graph.NewEdge(graph.EdgeDelegate, a.ID, "ask", b.ID, "answer"))

	adapterA := &stubAdapter{responses: []*llm.Response{
		toolCallResponse("c1", "ask_b", `{"question":"2+2?"}`),
		textResponse("B says 4"),
	}}
	adapterB := &stubAdapter{responses: []*llm.Response{textResponse("4")}}
	f := &stubFactory{byName: map[string]llm.Adapter{"A": adapterA, "B": adapterB}}
	rt, _ := newTestRuntime(f, 50*time.Millisecond)
	defer rt.Close()

	require.NoError(t, rt.Deploy(context.Background(), g, "p1"))

	replies, err := rt.SendTextMessage(context.Background(), "User", "ask b something")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "B says 4", replies[0].Response)

	// B saw the question attributed to A.
	require.Equal(t, 1, adapterB.callCount())
	bTurns := adapterB.call(0)
	assert.Equal(t, "[A]: 2+2?", bTurns[1].Content)

	// A's follow-up call carries B's answer as the tool result.
	require.Equal(t, 2, adapterA.callCount())
	aTurns := adapterA.call(1)
	last := aTurns[len(aTurns)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "4", last.Content)
}

func TestUndeployCancelsTimers(t *testing.T) {
	g := graph.NewAgentGraph()
	sched := graph.NewNode(graph.NodeScheduledEvent, graph.NodeConfig{
		Name: "S", TriggerType: "interval", IntervalSeconds: 1, MessageContent: "tick",
	})
	agent := graph.NewNode(graph.NodeAgent, graph.NodeConfig{Name: "Ada"})
	g.AddNode(sched)
	g.AddNode(agent)
	g.AddEdge(graph.NewEdge(graph.EdgeMessage, sched.ID, "message_out", agent.ID, "message_in"))

	adapter := &stubAdapter{}
	rt, _ := newTestRuntime(&stubFactory{fallback: adapter}, 20*time.Millisecond)
	defer rt.Close()

	require.NoError(t, rt.Deploy(context.Background(), g, "p1"))
	time.Sleep(2500 * time.Millisecond)
	invocations := adapter.callCount()
	assert.GreaterOrEqual(t, invocations, 2)

	rt.Undeploy()
	time.Sleep(2 * time.Second)
	assert.Equal(t, invocations, adapter.callCount(), "no invocations after undeploy")
	assert.Equal(t, 0, rt.Scheduler().Len())
}

func TestRedeployYieldsIdenticalRoutingAndEmptyBuffers(t *testing.T) {
	g := graph.NewAgentGraph()
	in := graph.NewNode(graph.NodeTextInput, graph.NodeConfig{})
	buf := graph.NewNode(graph.NodeMessageBuffer, graph.NodeConfig{})
	agent := graph.NewNode(graph.NodeAgent, graph.NodeConfig{Name: "Ada"})
	out := graph.NewNode(graph.NodeTextOutput, graph.NodeConfig{})
	for _, n := range []*graph.Node{in, buf, agent, out} {
		g.AddNode(n)
	}
	g.AddEdge(graph.NewEdge(graph.EdgeMessage, in.ID, "message_out", buf.ID, "message_in"))
	g.AddEdge(graph.NewEdge(graph.EdgeMessage, buf.ID, "message_out", agent.ID, "message_in"))
	g.AddEdge(graph.NewEdge(graph.EdgeMessage, agent.ID, "message_out", out.ID, "message_in"))

	rt, _ := newTestRuntime(nil, 50*time.Millisecond)
	defer rt.Close()
	ctx := context.Background()

	require.NoError(t, rt.Deploy(ctx, g, "p1"))
	firstRouting := rt.Graph().Routing

	// Leave something in the buffer, then cycle the deployment.
	_, err := rt.SendTextMessage(ctx, "Alice", "pending")
	require.NoError(t, err)
	assert.Equal(t, 1, rt.Graph().Buffers[buf.ID].Pending())

	rt.Undeploy()
	assert.False(t, rt.Deployed())
	rt.Undeploy() // idempotent

	require.NoError(t, rt.Deploy(ctx, g, "p1"))
	assert.Equal(t, firstRouting, rt.Graph().Routing)
	assert.Equal(t, 0, rt.Graph().Buffers[buf.ID].Pending())
}

func TestDeployReplacesExistingDeployment(t *testing.T) {
	g1, _, _, _ := pipelineGraph(t)
	g2, _, agent2, _ := pipelineGraph(t)

	f := &stubFactory{fallback: &stubAdapter{responses: []*llm.Response{textResponse("hi")}}}
	rt, _ := newTestRuntime(f, 50*time.Millisecond)
	defer rt.Close()
	ctx := context.Background()

	require.NoError(t, rt.Deploy(ctx, g1, "p1"))
	require.NoError(t, rt.Deploy(ctx, g2, "p2"))

	assert.Equal(t, "p2", rt.ProjectID())
	agents := rt.RunningAgents()
	require.Len(t, agents, 1)
	assert.Equal(t, agent2.ID, agents[0].ID)
}

func TestDeployRejectsInvalidGraph(t *testing.T) {
	rt, _ := newTestRuntime(nil, 50*time.Millisecond)
	defer rt.Close()

	err := rt.Deploy(context.Background(), graph.NewAgentGraph(), "p1")
	require.Error(t, err)
	var verr *graph.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.False(t, rt.Deployed())
}

func TestRunningAgentsSortedByName(t *testing.T) {
	g := graph.NewAgentGraph()
	for _, name := range []string{"Zoe", "Ada", "Mel"} {
		g.AddNode(graph.NewNode(graph.NodeAgent, graph.NodeConfig{Name: name}))
	}
	rt, _ := newTestRuntime(nil, 50*time.Millisecond)
	defer rt.Close()

	require.NoError(t, rt.Deploy(context.Background(), g, "p1"))
	agents := rt.RunningAgents()
	require.Len(t, agents, 3)
	assert.Equal(t, []string{"Ada", "Mel", "Zoe"},
		[]string{agents[0].Name, agents[1].Name, agents[2].Name})
}
