package hooks

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"
)

// handlerEntry is the dispatcher's internal registration record, shared
// across every HookType → []name index it appears under.
type handlerEntry struct {
	handler   Handler
	priority  HookPriority
	seq       uint64 // registration order, breaks priority ties
	stats     HookStats
	statsMu   sync.Mutex
	enabled   bool
	rateLimit *slidingWindowLimiter
}

// slidingWindowLimiter enforces "at most MaxCalls within the trailing
// Window" by keeping the timestamps of calls still inside the window.
type slidingWindowLimiter struct {
	mu       sync.Mutex
	maxCalls uint32
	window   time.Duration
	calls    []time.Time
}

func newSlidingWindowLimiter(rl RateLimit) *slidingWindowLimiter {
	return &slidingWindowLimiter{maxCalls: rl.MaxCalls, window: rl.Window}
}

// allow purges expired timestamps, checks capacity, and on success appends
// the current call to the window.
func (l *slidingWindowLimiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-l.window)
	kept := l.calls[:0]
	for _, t := range l.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.calls = kept
	if uint32(len(l.calls)) >= l.maxCalls {
		return false
	}
	l.calls = append(l.calls, now)
	return true
}

const maxHistoryEntries = 1000

// Dispatcher registers handlers against hook types and fires them in
// priority order. It is safe for concurrent use: registration mutations
// serialize against readers but never block an in-flight fire, which
// snapshots its handler list before running.
type Dispatcher struct {
	mu       sync.RWMutex
	entries  map[string]*handlerEntry
	byType   map[HookType][]string
	seqCount uint64

	lifecycle *Lifecycle

	globalTimeoutMu sync.RWMutex
	globalTimeout   time.Duration

	enabledMu sync.RWMutex
	enabled   bool

	historyMu sync.Mutex
	history   []ExecutionHistory

	concurrencyMu sync.RWMutex
	concurrency   map[HookType]chan struct{}
	maxConcurrent int

	logger *log.Logger
}

// NewDispatcher builds a dispatcher with the given default global timeout
// and logger. A maxConcurrentHooks of 0 disables the concurrency gate.
func NewDispatcher(globalTimeout time.Duration, maxConcurrentHooks int, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		entries:       make(map[string]*handlerEntry),
		byType:        make(map[HookType][]string),
		lifecycle:     NewLifecycle(),
		globalTimeout: globalTimeout,
		enabled:       true,
		concurrency:   make(map[HookType]chan struct{}),
		maxConcurrent: maxConcurrentHooks,
		logger:        logger,
	}
}

// Lifecycle returns the dispatcher's observer bus.
func (d *Dispatcher) Lifecycle() *Lifecycle { return d.lifecycle }

// Register adds a handler under one or more hook types at the given
// priority. The handler's name must be globally unique.
func (d *Dispatcher) Register(hookTypes []HookType, handler Handler, priority HookPriority) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := handler.Name()
	if _, exists := d.entries[name]; exists {
		return &RegistrationFailedError{Message: "handler '" + name + "' already registered"}
	}

	d.seqCount++
	entry := &handlerEntry{handler: handler, priority: priority, seq: d.seqCount, enabled: true}
	d.entries[name] = entry

	for _, ht := range hookTypes {
		d.byType[ht] = append(d.byType[ht], name)
		d.sortByPriorityLocked(ht)
	}
	return nil
}

func (d *Dispatcher) sortByPriorityLocked(ht HookType) {
	names := d.byType[ht]
	sort.SliceStable(names, func(i, j int) bool {
		ei, ej := d.entries[names[i]], d.entries[names[j]]
		if ei.priority != ej.priority {
			return ei.priority < ej.priority
		}
		return ei.seq < ej.seq
	})
}

// Unregister removes a handler entirely, from every hook type it was
// registered under.
func (d *Dispatcher) Unregister(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[name]; !exists {
		return &HandlerNotFoundError{Name: name}
	}
	delete(d.entries, name)
	for ht, names := range d.byType {
		filtered := names[:0]
		for _, n := range names {
			if n != name {
				filtered = append(filtered, n)
			}
		}
		d.byType[ht] = filtered
	}
	return nil
}

// SetHandlerEnabled toggles whether a registered handler participates in
// fires without unregistering it.
func (d *Dispatcher) SetHandlerEnabled(name string, enabled bool) error {
	d.mu.RLock()
	entry, exists := d.entries[name]
	d.mu.RUnlock()
	if !exists {
		return &HandlerNotFoundError{Name: name}
	}
	entry.statsMu.Lock()
	entry.enabled = enabled
	entry.statsMu.Unlock()
	return nil
}

// SetRateLimit attaches or clears a sliding-window rate limit for a handler.
// Passing a zero RateLimit clears any existing limit.
func (d *Dispatcher) SetRateLimit(name string, rl RateLimit) error {
	d.mu.RLock()
	entry, exists := d.entries[name]
	d.mu.RUnlock()
	if !exists {
		return &HandlerNotFoundError{Name: name}
	}
	entry.statsMu.Lock()
	defer entry.statsMu.Unlock()
	if rl.MaxCalls == 0 {
		entry.rateLimit = nil
		return nil
	}
	entry.rateLimit = newSlidingWindowLimiter(rl)
	return nil
}

// SetGlobalTimeout sets the per-handler timeout enforced on every fire.
func (d *Dispatcher) SetGlobalTimeout(timeout time.Duration) {
	d.globalTimeoutMu.Lock()
	d.globalTimeout = timeout
	d.globalTimeoutMu.Unlock()
}

func (d *Dispatcher) getGlobalTimeout() time.Duration {
	d.globalTimeoutMu.RLock()
	defer d.globalTimeoutMu.RUnlock()
	return d.globalTimeout
}

// SetEnabled toggles the dispatcher as a whole; a disabled dispatcher's
// Execute returns the input data unchanged without running any handler.
func (d *Dispatcher) SetEnabled(enabled bool) {
	d.enabledMu.Lock()
	d.enabled = enabled
	d.enabledMu.Unlock()
}

func (d *Dispatcher) isEnabled() bool {
	d.enabledMu.RLock()
	defer d.enabledMu.RUnlock()
	return d.enabled
}

// HandlerInfo summarizes one registered handler for operator listings.
type HandlerInfo struct {
	Name     string
	Priority HookPriority
	Enabled  bool
	Stats    HookStats
}

// ListHandlers returns a snapshot of every registered handler.
func (d *Dispatcher) ListHandlers() []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]HandlerInfo, 0, len(d.entries))
	for name, entry := range d.entries {
		entry.statsMu.Lock()
		out = append(out, HandlerInfo{Name: name, Priority: entry.priority, Enabled: entry.enabled, Stats: entry.stats})
		entry.statsMu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetStats returns a registered handler's accumulated statistics.
func (d *Dispatcher) GetStats(name string) (HookStats, error) {
	d.mu.RLock()
	entry, exists := d.entries[name]
	d.mu.RUnlock()
	if !exists {
		return HookStats{}, &HandlerNotFoundError{Name: name}
	}
	entry.statsMu.Lock()
	defer entry.statsMu.Unlock()
	return entry.stats, nil
}

// GetHistory returns up to limit most-recent execution history entries,
// newest first.
func (d *Dispatcher) GetHistory(limit int) []ExecutionHistory {
	d.historyMu.Lock()
	defer d.historyMu.Unlock()
	n := len(d.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ExecutionHistory, limit)
	for i := 0; i < limit; i++ {
		out[i] = d.history[n-1-i]
	}
	return out
}

func (d *Dispatcher) appendHistory(entry ExecutionHistory) {
	go func() {
		d.historyMu.Lock()
		defer d.historyMu.Unlock()
		d.history = append(d.history, entry)
		if len(d.history) > maxHistoryEntries {
			d.history = d.history[len(d.history)-maxHistoryEntries:]
		}
	}()
}

func (d *Dispatcher) concurrencyGate(ht HookType) chan struct{} {
	if d.maxConcurrent <= 0 {
		return nil
	}
	d.concurrencyMu.RLock()
	gate, ok := d.concurrency[ht]
	d.concurrencyMu.RUnlock()
	if ok {
		return gate
	}
	d.concurrencyMu.Lock()
	defer d.concurrencyMu.Unlock()
	if gate, ok = d.concurrency[ht]; ok {
		return gate
	}
	gate = make(chan struct{}, d.maxConcurrent)
	d.concurrency[ht] = gate
	return gate
}

// Execute fires every enabled, eligible handler registered for hookType, in
// priority order, threading the data through each handler's result. Handler
// registrations made after the fire snapshots its name list do not
// participate; handlers unregistered mid-fire still finish if already
// started.
func (d *Dispatcher) Execute(ctx context.Context, hctx *HookContext, hookType HookType, data json.RawMessage) (json.RawMessage, error) {
	if !d.isEnabled() {
		return data, nil
	}

	if gate := d.concurrencyGate(hookType); gate != nil {
		select {
		case gate <- struct{}{}:
			defer func() { <-gate }()
		case <-ctx.Done():
			return data, ctx.Err()
		}
	}

	d.mu.RLock()
	names := make([]string, len(d.byType[hookType]))
	copy(names, d.byType[hookType])
	d.mu.RUnlock()

	current := data
	for _, name := range names {
		d.mu.RLock()
		entry, exists := d.entries[name]
		d.mu.RUnlock()
		if !exists {
			continue
		}

		entry.statsMu.Lock()
		enabled := entry.enabled
		entry.statsMu.Unlock()
		if !enabled {
			d.lifecycle.Skipped(hookType, name)
			continue
		}

		if entry.rateLimit != nil && !entry.rateLimit.allow() {
			d.lifecycle.Skipped(hookType, name)
			return current, &RateLimitExceededError{Handler: name, Limit: entry.rateLimit.maxCalls, Window: entry.rateLimit.window}
		}

		payload := NewHookPayload(hookType, current)
		if !entry.handler.ShouldRun(hctx, payload) {
			d.lifecycle.Skipped(hookType, name)
			continue
		}

		result, err := d.runHandler(ctx, hctx, entry, hookType, name, payload)
		if err != nil {
			return current, err
		}

		switch result.Kind {
		case ResultContinue, ResultRetry:
			// Retry is treated as Continue; re-issue semantics are future work.
		case ResultStop:
			if len(result.Data) > 0 {
				return result.Data, nil
			}
			return current, nil
		case ResultReplace:
			current = result.Data
		case ResultError:
			return current, NewHandlerExecutionFailedMessage(name, result.ErrorMessage)
		}
	}
	return current, nil
}

func (d *Dispatcher) runHandler(ctx context.Context, hctx *HookContext, entry *handlerEntry, hookType HookType, name string, payload HookPayload) (ExecutionResult, error) {
	d.lifecycle.PreExecution(hookType, name)
	d.lifecycle.Executing(hookType, name)

	timeout := d.getGlobalTimeout()
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	type outcome struct {
		result ExecutionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := entry.handler.Execute(runCtx, hctx, payload)
		done <- outcome{result: r, err: err}
	}()

	select {
	case o := <-done:
		duration := time.Since(start)
		if o.err != nil {
			entry.statsMu.Lock()
			entry.stats.RecordFailure(duration)
			entry.statsMu.Unlock()
			d.lifecycle.Failed(hookType, name, o.err)
			d.appendHistory(ExecutionHistory{Timestamp: start, HookType: hookType, Handler: name, Duration: duration, Outcome: OutcomeError})
			return ExecutionResult{}, NewHandlerExecutionFailed(name, o.err)
		}
		if o.result.Kind == ResultError {
			entry.statsMu.Lock()
			entry.stats.RecordFailure(duration)
			entry.statsMu.Unlock()
			d.lifecycle.Failed(hookType, name, NewHandlerExecutionFailedMessage(name, o.result.ErrorMessage))
			d.appendHistory(ExecutionHistory{Timestamp: start, HookType: hookType, Handler: name, Duration: duration, Outcome: OutcomeError})
			return o.result, nil
		}
		entry.statsMu.Lock()
		entry.stats.RecordSuccess(duration)
		entry.statsMu.Unlock()
		d.lifecycle.PostExecution(hookType, name)
		d.appendHistory(ExecutionHistory{Timestamp: start, HookType: hookType, Handler: name, Duration: duration, Outcome: OutcomeSuccess})
		return o.result, nil
	case <-runCtx.Done():
		duration := time.Since(start)
		entry.statsMu.Lock()
		entry.stats.RecordFailure(duration)
		entry.statsMu.Unlock()
		timeoutErr := &TimeoutError{Handler: name, Duration: duration}
		d.lifecycle.Failed(hookType, name, timeoutErr)
		d.appendHistory(ExecutionHistory{Timestamp: start, HookType: hookType, Handler: name, Duration: duration, Outcome: OutcomeTimeout})
		return ExecutionResult{}, timeoutErr
	}
}
