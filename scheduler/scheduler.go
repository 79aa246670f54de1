// Package scheduler implements the cooperative timer loop that drives
// one-shot and interval callbacks for deployed agent graphs. Tasks run
// serially within the loop; a slow callback delays later tasks rather than
// overlapping them.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/smallnest/agentgraphgo/log"
)

// TaskKind distinguishes one-shot from repeating tasks.
type TaskKind int

const (
	TaskOnce TaskKind = iota
	TaskInterval
)

func (k TaskKind) String() string {
	if k == TaskOnce {
		return "once"
	}
	return "interval"
}

// Callback is a scheduled action. Errors are logged, never propagated.
type Callback func(ctx context.Context) error

// Task is one scheduled unit of work.
type Task struct {
	ID       string
	AgentID  string
	Kind     TaskKind
	Callback Callback
	RunAt    time.Time     // once only
	Interval time.Duration // interval only
	LastRun  time.Time     // zero means never ran
	Enabled  bool
	RunCount int
}

// ShouldRun reports whether the task is due at now.
func (t *Task) ShouldRun(now time.Time) bool {
	if !t.Enabled {
		return false
	}
	switch t.Kind {
	case TaskOnce:
		return t.RunCount == 0 && !now.Before(t.RunAt)
	case TaskInterval:
		return t.LastRun.IsZero() || now.Sub(t.LastRun) >= t.Interval
	}
	return false
}

// Scheduler owns a set of tasks and a tick loop.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	tick   time.Duration
	logger log.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick overrides the default 1s tick. Tests use short ticks.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// WithLogger overrides the package-default logger.
func WithLogger(l log.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a stopped scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:  make(map[string]*Task),
		tick:   time.Second,
		logger: log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(loopCtx)
}

// Stop halts the tick loop and waits for the current tick to finish.
// Scheduled tasks are kept; Start resumes them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	// Snapshot under lock; callbacks run unlocked and may mutate the task
	// set (an agent turn can schedule or cancel tasks).
	s.mu.Lock()
	var due []*Task
	for _, t := range s.tasks {
		if t.ShouldRun(now) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		if ctx.Err() != nil {
			return
		}
		if err := s.invoke(ctx, t); err != nil {
			// Failed runs do not advance task state: interval tasks retry
			// next tick and a failed once task stays eligible.
			s.logger.Error("scheduled task %s (%s) failed: %v", t.ID, t.Kind, err)
			continue
		}
		s.mu.Lock()
		if current, ok := s.tasks[t.ID]; ok {
			current.RunCount++
			current.LastRun = now
			if current.Kind == TaskOnce {
				current.Enabled = false
			}
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) invoke(ctx context.Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task %s panicked: %v", t.ID, r)
		}
	}()
	return t.Callback(ctx)
}

// ScheduleOnce registers a one-shot task due at runAt. An existing task with
// the same id is replaced.
func (s *Scheduler) ScheduleOnce(id, agentID string, cb Callback, runAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = &Task{
		ID:       id,
		AgentID:  agentID,
		Kind:     TaskOnce,
		Callback: cb,
		RunAt:    runAt,
		Enabled:  true,
	}
}

// ScheduleInterval registers a repeating task. With startImmediately the
// task fires on the first tick; otherwise the first run happens one full
// interval after creation.
func (s *Scheduler) ScheduleInterval(id, agentID string, cb Callback, interval time.Duration, startImmediately bool) {
	t := &Task{
		ID:       id,
		AgentID:  agentID,
		Kind:     TaskInterval,
		Callback: cb,
		Interval: interval,
		Enabled:  true,
	}
	if !startImmediately {
		t.LastRun = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id] = t
}

// Cancel removes a task, reporting whether it existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	return true
}

// Pause disables a task without removing it.
func (s *Scheduler) Pause(id string) bool {
	return s.setEnabled(id, false)
}

// Resume re-enables a paused task.
func (s *Scheduler) Resume(id string) bool {
	return s.setEnabled(id, true)
}

func (s *Scheduler) setEnabled(id string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	t.Enabled = enabled
	return true
}

// TasksForAgent returns copies of all tasks registered for the agent.
func (s *Scheduler) TasksForAgent(agentID string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.AgentID == agentID {
			out = append(out, *t)
		}
	}
	return out
}

// ClearAgentTasks removes every task registered for the agent and returns
// how many were removed.
func (s *Scheduler) ClearAgentTasks(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tasks {
		if t.AgentID == agentID {
			delete(s.tasks, id)
			n++
		}
	}
	return n
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
