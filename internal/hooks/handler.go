package hooks

import "context"

// Handler is the protocol every hook handler implements: a stable Name used
// as the registry key, an optional gate (ShouldRun) evaluated before each
// fire, and Execute which does the work and returns the dispatcher's next
// instruction.
type Handler interface {
	Name() string
	ShouldRun(ctx *HookContext, payload HookPayload) bool
	Execute(ctx context.Context, hctx *HookContext, payload HookPayload) (ExecutionResult, error)
}

// BaseHandler supplies the default ShouldRun (always true) so concrete
// handlers only need to implement Name and Execute.
type BaseHandler struct{}

// ShouldRun always permits execution; embed BaseHandler and override when a
// handler needs a gate.
func (BaseHandler) ShouldRun(*HookContext, HookPayload) bool { return true }

// chainHandler runs first, and only runs second if first returned Continue.
type chainHandler struct {
	name   string
	first  Handler
	second Handler
}

// Chain composes two handlers under one registry name: first always runs;
// second runs only if first's result is Continue. The combined result is
// second's result when it ran, otherwise first's.
func Chain(name string, first, second Handler) Handler {
	return &chainHandler{name: name, first: first, second: second}
}

func (h *chainHandler) Name() string { return h.name }

func (h *chainHandler) ShouldRun(ctx *HookContext, payload HookPayload) bool {
	return h.first.ShouldRun(ctx, payload)
}

func (h *chainHandler) Execute(ctx context.Context, hctx *HookContext, payload HookPayload) (ExecutionResult, error) {
	result, err := h.first.Execute(ctx, hctx, payload)
	if err != nil || result.Kind != ResultContinue {
		return result, err
	}
	next := payload
	if len(result.Data) > 0 {
		next.Data = result.Data
	}
	return h.second.Execute(ctx, hctx, next)
}

// Predicate decides, given the context and payload, whether a conditionally
// wrapped handler should run.
type Predicate func(ctx *HookContext, payload HookPayload) bool

type conditionalHandler struct {
	inner Handler
	pred  Predicate
}

// Conditional wraps a handler so it short-circuits to Continue whenever pred
// returns false, without invoking the inner handler.
func Conditional(inner Handler, pred Predicate) Handler {
	return &conditionalHandler{inner: inner, pred: pred}
}

func (h *conditionalHandler) Name() string { return h.inner.Name() }

func (h *conditionalHandler) ShouldRun(ctx *HookContext, payload HookPayload) bool {
	if !h.pred(ctx, payload) {
		return false
	}
	return h.inner.ShouldRun(ctx, payload)
}

func (h *conditionalHandler) Execute(ctx context.Context, hctx *HookContext, payload HookPayload) (ExecutionResult, error) {
	if !h.pred(hctx, payload) {
		return Continue(), nil
	}
	return h.inner.Execute(ctx, hctx, payload)
}

// SyncHandler is a blocking handler implementation that does not itself
// manage concurrency; SyncToAsync runs it on a separate goroutine so the
// dispatcher's own goroutine is never blocked by it.
type SyncHandler interface {
	Name() string
	ShouldRun(ctx *HookContext, payload HookPayload) bool
	ExecuteSync(hctx *HookContext, payload HookPayload) (ExecutionResult, error)
}

type syncToAsyncHandler struct {
	inner SyncHandler
}

// SyncToAsync adapts a blocking SyncHandler into the async Handler protocol
// by running ExecuteSync on its own goroutine and waiting for either its
// result or the caller's context to end.
func SyncToAsync(inner SyncHandler) Handler {
	return &syncToAsyncHandler{inner: inner}
}

func (h *syncToAsyncHandler) Name() string { return h.inner.Name() }

func (h *syncToAsyncHandler) ShouldRun(ctx *HookContext, payload HookPayload) bool {
	return h.inner.ShouldRun(ctx, payload)
}

type syncResult struct {
	result ExecutionResult
	err    error
}

func (h *syncToAsyncHandler) Execute(ctx context.Context, hctx *HookContext, payload HookPayload) (ExecutionResult, error) {
	done := make(chan syncResult, 1)
	go func() {
		result, err := h.inner.ExecuteSync(hctx, payload)
		done <- syncResult{result: result, err: err}
	}()
	select {
	case r := <-done:
		return r.result, r.err
	case <-ctx.Done():
		return ExecutionResult{}, ctx.Err()
	}
}
