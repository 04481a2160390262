package hooks

import (
	"log"
	"sync"
	"time"
)

// HookPhase marks where in a single handler's execution a lifecycle event
// was raised.
type HookPhase string

const (
	PhasePreExecution  HookPhase = "pre_execution"
	PhaseExecuting     HookPhase = "executing"
	PhasePostExecution HookPhase = "post_execution"
	PhaseFailed        HookPhase = "failed"
	PhaseSkipped       HookPhase = "skipped"
)

// LifecycleEvent is delivered to every registered Observer for each phase
// transition of a handler's execution within one fire.
type LifecycleEvent struct {
	Handler   string
	HookType  HookType
	Phase     HookPhase
	Timestamp time.Time
	Error     string
	HasError  bool
	Duration  time.Duration
	HasDuration bool
}

// Observer receives lifecycle events. Implementations must not block: the
// bus invokes observers synchronously, in registration order, inline with
// the dispatcher's own execution.
type Observer interface {
	OnEvent(event LifecycleEvent)
}

// Lifecycle fans lifecycle events out to registered observers and tracks
// which handlers are currently between PreExecution and a terminal phase.
type Lifecycle struct {
	mu        sync.RWMutex
	observers []Observer

	activeMu sync.Mutex
	active   map[string]time.Time
}

// NewLifecycle builds an empty lifecycle bus.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{active: make(map[string]time.Time)}
}

// RegisterObserver appends an observer; it may be called at any time,
// including while fires are in progress.
func (l *Lifecycle) RegisterObserver(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

func (l *Lifecycle) notify(event LifecycleEvent) {
	l.mu.RLock()
	observers := make([]Observer, len(l.observers))
	copy(observers, l.observers)
	l.mu.RUnlock()
	for _, o := range observers {
		o.OnEvent(event)
	}
}

// PreExecution records the start of a handler's run and notifies observers.
func (l *Lifecycle) PreExecution(hookType HookType, handler string) {
	now := time.Now()
	l.activeMu.Lock()
	l.active[handler] = now
	l.activeMu.Unlock()
	l.notify(LifecycleEvent{Handler: handler, HookType: hookType, Phase: PhasePreExecution, Timestamp: now})
}

// Executing notifies observers that a handler has begun running, after the
// pre-execution bookkeeping (rate limit, ShouldRun) has passed.
func (l *Lifecycle) Executing(hookType HookType, handler string) {
	l.notify(LifecycleEvent{Handler: handler, HookType: hookType, Phase: PhaseExecuting, Timestamp: time.Now()})
}

// PostExecution records a successful completion and notifies observers with
// its duration.
func (l *Lifecycle) PostExecution(hookType HookType, handler string) {
	now := time.Now()
	d, ok := l.popActive(handler)
	event := LifecycleEvent{Handler: handler, HookType: hookType, Phase: PhasePostExecution, Timestamp: now}
	if ok {
		event.Duration = d
		event.HasDuration = true
	}
	l.notify(event)
}

// Failed records a failed completion and notifies observers with the error
// and, when available, its duration.
func (l *Lifecycle) Failed(hookType HookType, handler string, err error) {
	now := time.Now()
	d, ok := l.popActive(handler)
	event := LifecycleEvent{Handler: handler, HookType: hookType, Phase: PhaseFailed, Timestamp: now, Error: err.Error(), HasError: true}
	if ok {
		event.Duration = d
		event.HasDuration = true
	}
	l.notify(event)
}

// Skipped notifies observers a handler was not run for this fire (disabled,
// ShouldRun false, or rate-limited).
func (l *Lifecycle) Skipped(hookType HookType, handler string) {
	l.notify(LifecycleEvent{Handler: handler, HookType: hookType, Phase: PhaseSkipped, Timestamp: time.Now()})
}

func (l *Lifecycle) popActive(handler string) (time.Duration, bool) {
	l.activeMu.Lock()
	defer l.activeMu.Unlock()
	start, ok := l.active[handler]
	if !ok {
		return 0, false
	}
	delete(l.active, handler)
	return time.Since(start), true
}

// ActiveExecutions returns a snapshot of handlers currently between
// PreExecution and a terminal phase, keyed by handler name.
func (l *Lifecycle) ActiveExecutions() map[string]time.Time {
	l.activeMu.Lock()
	defer l.activeMu.Unlock()
	out := make(map[string]time.Time, len(l.active))
	for k, v := range l.active {
		out[k] = v
	}
	return out
}

// LoggingObserver formats lifecycle events through a *log.Logger, matching
// the rest of the engine's ambient-logging convention.
type LoggingObserver struct {
	logger *log.Logger
}

// NewLoggingObserver builds an observer writing through logger.
func NewLoggingObserver(logger *log.Logger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

// OnEvent logs one line per phase transition.
func (o *LoggingObserver) OnEvent(event LifecycleEvent) {
	switch event.Phase {
	case PhasePreExecution:
		o.logger.Printf("handler %s: starting for %s", event.Handler, event.HookType)
	case PhaseExecuting:
		o.logger.Printf("handler %s: executing for %s", event.Handler, event.HookType)
	case PhasePostExecution:
		if event.HasDuration {
			o.logger.Printf("handler %s: completed for %s in %s", event.Handler, event.HookType, event.Duration)
		} else {
			o.logger.Printf("handler %s: completed for %s", event.Handler, event.HookType)
		}
	case PhaseFailed:
		o.logger.Printf("handler %s: failed for %s: %s", event.Handler, event.HookType, event.Error)
	case PhaseSkipped:
		o.logger.Printf("handler %s: skipped for %s", event.Handler, event.HookType)
	}
}
