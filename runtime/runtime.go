package runtime

import (
	"context"
	"sort"
	"sync"

	"github.com/smallnest/agentgraphgo/events"
	"github.com/smallnest/agentgraphgo/graph"
	"github.com/smallnest/agentgraphgo/log"
	"github.com/smallnest/agentgraphgo/scheduler"
)

// AgentResponse is one top-level reply returned to the message entry points
// for RPC acknowledgement.
type AgentResponse struct {
	AgentID  string `json:"agent_id"`
	Response string `json:"response"`
}

// AgentInfo describes a deployed agent.
type AgentInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Stateful bool   `json:"stateful"`
}

// GraphMessageFunc receives exit messages: the producing node id, the
// message sender name, and the content. Called once per message.
type GraphMessageFunc func(sourceID, senderName, content string)

// Runtime owns at most one deployed execution graph and routes messages
// through it. All turns are serialised behind its mutex: at most one agent
// turn is active at a time, which keeps ordering deterministic and lets
// resources go lock-free.
type Runtime struct {
	mu        sync.Mutex
	builder   *Builder
	sched     *scheduler.Scheduler
	logger    log.Logger
	onMessage GraphMessageFunc

	exec      *ExecutionGraph
	taskIDs   []string
	schedOnce sync.Once
}

type RuntimeOption func(*Runtime)

// WithRuntimeScheduler injects a scheduler; tests use it to shrink the tick.
func WithRuntimeScheduler(s *scheduler.Scheduler) RuntimeOption {
	return func(rt *Runtime) { rt.sched = s }
}

// WithRuntimeLogger sets the logger.
func WithRuntimeLogger(l log.Logger) RuntimeOption {
	return func(rt *Runtime) { rt.logger = l }
}

// WithGraphMessageFunc sets the exit delivery callback.
func WithGraphMessageFunc(fn GraphMessageFunc) RuntimeOption {
	return func(rt *Runtime) { rt.onMessage = fn }
}

// NewRuntime creates a runtime around a builder.
func NewRuntime(builder *Builder, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{builder: builder}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.sched == nil {
		rt.sched = scheduler.New()
	}
	if rt.logger == nil {
		rt.logger = log.GetDefaultLogger()
	}
	return rt
}

// OnGraphMessage replaces the exit delivery callback.
func (rt *Runtime) OnGraphMessage(fn GraphMessageFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.onMessage = fn
}

// Bus returns the event bus deployed agents emit on.
func (rt *Runtime) Bus() *events.Bus { return rt.builder.Bus() }

// Scheduler exposes the task scheduler for state queries.
func (rt *Runtime) Scheduler() *scheduler.Scheduler { return rt.sched }

// Deployed reports whether an execution graph is active.
func (rt *Runtime) Deployed() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.exec != nil
}

// ProjectID returns the deployed project id, or "".
func (rt *Runtime) ProjectID() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.exec == nil {
		return ""
	}
	return rt.exec.ProjectID
}

// Graph returns the active execution graph, or nil. Callers must not mutate
// it.
func (rt *Runtime) Graph() *ExecutionGraph {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.exec
}

// Deploy validates and compiles the design graph, replacing any previous
// deployment, and registers its scheduled events. On failure the runtime is
// left undeployed.
func (rt *Runtime) Deploy(ctx context.Context, design *graph.AgentGraph, projectID string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.exec != nil {
		rt.undeployLocked()
	}

	if err := design.ValidateForDeploy(); err != nil {
		return err
	}

	eg, err := rt.builder.Build(ctx, design, projectID)
	if err != nil {
		return err
	}

	rt.exec = eg
	rt.registerScheduledEvents(eg)
	rt.schedOnce.Do(func() { rt.sched.Start(context.Background()) })
	rt.logger.Info("deployed project %s: %d executables, %d buffers, %d timers",
		projectID, len(eg.Executables), len(eg.Buffers), len(eg.ScheduledEvents))
	return nil
}

// registerScheduledEvents wires each timer config to a walk from its node.
// Callbacks capture the execution graph they were registered for and become
// no-ops once it is replaced.
func (rt *Runtime) registerScheduledEvents(eg *ExecutionGraph) {
	for _, ev := range eg.ScheduledEvents {
		ev := ev
		taskID := eg.ProjectID + ":" + ev.NodeID
		cb := func(ctx context.Context) error {
			rt.mu.Lock()
			defer rt.mu.Unlock()
			if rt.exec != eg {
				return nil
			}
			msg := Message{Sender: ev.Name, Content: ev.MessageContent}
			rt.walk(ctx, ev.NodeID, []Message{msg}, nil)
			return nil
		}

		switch ev.TriggerType {
		case "once":
			if ev.RunAt.IsZero() {
				rt.logger.Warn("scheduled event %s: once trigger without run_at, skipping", ev.Name)
				continue
			}
			rt.sched.ScheduleOnce(taskID, ev.NodeID, cb, ev.RunAt)
		default:
			rt.sched.ScheduleInterval(taskID, ev.NodeID, cb, ev.Interval, false)
		}
		rt.taskIDs = append(rt.taskIDs, taskID)
	}
}

// Undeploy cancels the deployment's scheduled tasks and drops the execution
// graph. Buffered messages are lost. Idempotent.
func (rt *Runtime) Undeploy() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.undeployLocked()
}

func (rt *Runtime) undeployLocked() {
	for _, id := range rt.taskIDs {
		rt.sched.Cancel(id)
	}
	rt.taskIDs = nil
	rt.exec = nil
}

// Close undeploys and stops the scheduler.
func (rt *Runtime) Close() {
	rt.Undeploy()
	rt.sched.Stop()
}

// RunningAgents lists the deployed agents, sorted by name.
func (rt *Runtime) RunningAgents() []AgentInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.exec == nil {
		return nil
	}
	out := make([]AgentInfo, 0, len(rt.exec.Executables))
	for _, a := range rt.exec.Agents() {
		out = append(out, AgentInfo{ID: a.ID(), Name: a.Name(), Stateful: a.Stateful()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SendTextMessage routes a user message through the text-input entry points
// and returns the top-level agent replies.
func (rt *Runtime) SendTextMessage(ctx context.Context, sender, content string) ([]AgentResponse, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.exec == nil {
		return nil, ErrNotDeployed
	}
	return rt.dispatch(ctx, rt.exec.TextEntries, Message{Sender: sender, Content: content}), nil
}

// SendVoiceMessage routes a transcribed voice message through the
// voice-input entry points, falling through to the text path when no voice
// input node exists.
func (rt *Runtime) SendVoiceMessage(ctx context.Context, sender, content string) ([]AgentResponse, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.exec == nil {
		return nil, ErrNotDeployed
	}
	entries := rt.exec.VoiceEntries
	if len(entries) == 0 {
		entries = rt.exec.TextEntries
	}
	return rt.dispatch(ctx, entries, Message{Sender: sender, Content: content}), nil
}

// dispatch feeds a message through the given entry nodes. With no entry
// nodes at all, it walks directly into every executable — a fallback for
// graphs built without input nodes during development.
func (rt *Runtime) dispatch(ctx context.Context, entries []string, msg Message) []AgentResponse {
	msgs := []Message{msg}
	var collected []AgentResponse

	if len(entries) > 0 {
		for _, entryID := range entries {
			rt.walk(ctx, entryID, msgs, &collected)
		}
		return collected
	}

	ids := make([]string, 0, len(rt.exec.Executables))
	for id := range rt.exec.Executables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rt.runExecutable(ctx, id, msgs, &collected)
	}
	return collected
}

// walk is the single routing primitive: depth-first over the routing table,
// siblings in edge-declaration order, each subtree completing before the
// next sibling starts. collect is non-nil only at the top level of an entry
// dispatch, where direct executable replies are returned to the caller.
func (rt *Runtime) walk(ctx context.Context, sourceID string, msgs []Message, collect *[]AgentResponse) {
	for _, target := range rt.exec.Routing[sourceID] {
		switch target.Kind {
		case TargetExecutable:
			rt.runExecutable(ctx, target.NodeID, msgs, collect)

		case TargetBufferIn:
			buf, ok := rt.exec.Buffers[target.NodeID]
			if !ok {
				rt.logger.Error("routing: buffer %s missing", target.NodeID)
				continue
			}
			buf.Append(msgs)

		case TargetBufferTrigger:
			buf, ok := rt.exec.Buffers[target.NodeID]
			if !ok {
				rt.logger.Error("routing: buffer %s missing", target.NodeID)
				continue
			}
			flushed := buf.Flush()
			if len(flushed) == 0 {
				continue
			}
			// The trigger message itself rides along behind the flushed
			// pending list.
			payload := make([]Message, 0, len(flushed)+len(msgs))
			payload = append(payload, flushed...)
			payload = append(payload, msgs...)
			rt.walk(ctx, target.NodeID, payload, nil)

		case TargetExit:
			// Delivery happens when the producing executable runs; the walk
			// itself has nothing to do here.
		}
	}
}

// runExecutable executes one target and recurses into its subtree. A failed
// or missing executable aborts only this branch; siblings proceed.
func (rt *Runtime) runExecutable(ctx context.Context, id string, msgs []Message, collect *[]AgentResponse) {
	ex, ok := rt.exec.Executables[id]
	if !ok {
		rt.logger.Error("routing: executable %s missing", id)
		return
	}
	out, err := ex.Execute(ctx, msgs)
	if err != nil {
		rt.logger.Error("executable %s (%s): %v", ex.Name(), id, err)
		return
	}
	if len(out) == 0 {
		return
	}
	if collect != nil {
		for _, m := range out {
			*collect = append(*collect, AgentResponse{AgentID: id, Response: m.Content})
		}
	}
	if rt.exec.ExitIDs[id] {
		rt.deliver(id, out)
	}
	rt.walk(ctx, id, out, nil)
}

// deliver invokes the exit callback once per message.
func (rt *Runtime) deliver(sourceID string, msgs []Message) {
	if rt.onMessage == nil {
		return
	}
	for _, m := range msgs {
		rt.onMessage(sourceID, m.Sender, m.Content)
	}
}
