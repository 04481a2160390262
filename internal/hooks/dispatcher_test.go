package hooks

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func newTestDispatcher(globalTimeout time.Duration) *Dispatcher {
	return NewDispatcher(globalTimeout, 0, nil)
}

type recordingHandler struct {
	name string
	fn   func(ctx context.Context, hctx *HookContext, payload HookPayload) (ExecutionResult, error)
}

func (h *recordingHandler) Name() string { return h.name }
func (h *recordingHandler) ShouldRun(*HookContext, HookPayload) bool { return true }
func (h *recordingHandler) Execute(ctx context.Context, hctx *HookContext, payload HookPayload) (ExecutionResult, error) {
	return h.fn(ctx, hctx, payload)
}

func TestDispatcherRegistrationRoundTrip(t *testing.T) {
	d := newTestDispatcher(0)
	h := &recordingHandler{name: "h1", fn: func(context.Context, *HookContext, HookPayload) (ExecutionResult, error) {
		return Continue(), nil
	}}
	if err := d.Register([]HookType{RequestReceived}, h, PriorityNormal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Register([]HookType{RequestReceived}, h, PriorityNormal); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	infos := d.ListHandlers()
	if len(infos) != 1 || infos[0].Name != "h1" {
		t.Fatalf("unexpected handler listing: %+v", infos)
	}
	if err := d.Unregister("h1"); err != nil {
		t.Fatalf("unexpected error unregistering: %v", err)
	}
	if err := d.Unregister("h1"); err == nil {
		t.Fatalf("expected unregistering a missing handler to fail")
	}
}

func TestDispatcherPriorityOrder(t *testing.T) {
	d := newTestDispatcher(0)
	var order []string
	record := func(name string) *recordingHandler {
		return &recordingHandler{name: name, fn: func(context.Context, *HookContext, HookPayload) (ExecutionResult, error) {
			order = append(order, name)
			return Continue(), nil
		}}
	}
	_ = d.Register([]HookType{RequestReceived}, record("low"), PriorityLow)
	_ = d.Register([]HookType{RequestReceived}, record("high"), PriorityHigh)
	_ = d.Register([]HookType{RequestReceived}, record("normal"), PriorityNormal)

	_, err := d.Execute(context.Background(), NewHookContext(), RequestReceived, []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"high", "normal", "low"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Fatalf("expected priority order %v, got %v", want, order)
	}
}

// Scenario: logging pass-through — a Continue handler must not alter the
// payload flowing to the next stage.
func TestScenarioLoggingPassThrough(t *testing.T) {
	d := newTestDispatcher(0)
	var seen json.RawMessage
	logHandler := &recordingHandler{name: "logger", fn: func(ctx context.Context, hctx *HookContext, payload HookPayload) (ExecutionResult, error) {
		seen = payload.Data
		return Continue(), nil
	}}
	_ = d.Register([]HookType{RequestReceived}, logHandler, PriorityNormal)

	input := []byte(`{"method":"tools/call"}`)
	out, err := d.Execute(context.Background(), NewHookContext(), RequestReceived, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != string(input) {
		t.Fatalf("expected pass-through data unchanged, got %s", out)
	}
	if string(seen) != string(input) {
		t.Fatalf("expected logging handler to observe original payload, got %s", seen)
	}
}

// Scenario: validation reject — a handler returning an Error result must
// abort the chain with a HandlerExecutionFailedError.
func TestScenarioValidationReject(t *testing.T) {
	d := newTestDispatcher(0)
	validator := &recordingHandler{name: "validator", fn: func(context.Context, *HookContext, HookPayload) (ExecutionResult, error) {
		return ErrorResult("VALIDATION_FAILED", []byte(`{"field":"name"}`)), nil
	}}
	never := &recordingHandler{name: "never", fn: func(context.Context, *HookContext, HookPayload) (ExecutionResult, error) {
		t.Fatalf("handler after a validation failure must not run")
		return Continue(), nil
	}}
	_ = d.Register([]HookType{RequestReceived}, validator, PriorityHigh)
	_ = d.Register([]HookType{RequestReceived}, never, PriorityNormal)

	_, err := d.Execute(context.Background(), NewHookContext(), RequestReceived, []byte(`{}`))
	if err == nil {
		t.Fatalf("expected validation failure to abort the dispatch")
	}
	var failed *HandlerExecutionFailedError
	if !isHandlerExecutionFailed(err, &failed) {
		t.Fatalf("expected HandlerExecutionFailedError, got %T: %v", err, err)
	}
	if failed.Source.Error() != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED message, got %v", failed.Source)
	}
}

func isHandlerExecutionFailed(err error, out **HandlerExecutionFailedError) bool {
	if e, ok := err.(*HandlerExecutionFailedError); ok {
		*out = e
		return true
	}
	return false
}

// Scenario: transform pipeline — three chained Replace results must apply
// in registration/priority order.
func TestScenarioTransformPipeline(t *testing.T) {
	d := newTestDispatcher(0)

	rename := &recordingHandler{name: "rename", fn: func(ctx context.Context, hctx *HookContext, payload HookPayload) (ExecutionResult, error) {
		var obj map[string]any
		_ = json.Unmarshal(payload.Data, &obj)
		obj["renamed"] = obj["original"]
		delete(obj, "original")
		out, _ := json.Marshal(obj)
		return Replace(out), nil
	}}
	uppercase := &recordingHandler{name: "uppercase", fn: func(ctx context.Context, hctx *HookContext, payload HookPayload) (ExecutionResult, error) {
		var obj map[string]any
		_ = json.Unmarshal(payload.Data, &obj)
		if s, ok := obj["renamed"].(string); ok {
			obj["renamed"] = "HELLO"
			_ = s
		}
		out, _ := json.Marshal(obj)
		return Replace(out), nil
	}}
	addRemove := &recordingHandler{name: "add_remove", fn: func(ctx context.Context, hctx *HookContext, payload HookPayload) (ExecutionResult, error) {
		var obj map[string]any
		_ = json.Unmarshal(payload.Data, &obj)
		obj["stamped"] = true
		out, _ := json.Marshal(obj)
		return Replace(out), nil
	}}

	_ = d.Register([]HookType{RequestReceived}, rename, PriorityHighest)
	_ = d.Register([]HookType{RequestReceived}, uppercase, PriorityHigh)
	_ = d.Register([]HookType{RequestReceived}, addRemove, PriorityNormal)

	out, err := d.Execute(context.Background(), NewHookContext(), RequestReceived, []byte(`{"original":"hello"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var final map[string]any
	if err := json.Unmarshal(out, &final); err != nil {
		t.Fatalf("final payload not valid json: %v", err)
	}
	if final["renamed"] != "HELLO" {
		t.Fatalf("expected renamed field uppercased, got %+v", final)
	}
	if _, exists := final["original"]; exists {
		t.Fatalf("expected original field removed, got %+v", final)
	}
	if stamped, _ := final["stamped"].(bool); !stamped {
		t.Fatalf("expected stamped field added, got %+v", final)
	}
}

// Scenario: priority and stop — handler A continues, B stops, C never runs.
func TestScenarioPriorityAndStop(t *testing.T) {
	d := newTestDispatcher(0)
	var ran []string
	a := &recordingHandler{name: "a", fn: func(context.Context, *HookContext, HookPayload) (ExecutionResult, error) {
		ran = append(ran, "a")
		return Continue(), nil
	}}
	b := &recordingHandler{name: "b", fn: func(context.Context, *HookContext, HookPayload) (ExecutionResult, error) {
		ran = append(ran, "b")
		return Stop([]byte(`{"stopped":true}`)), nil
	}}
	c := &recordingHandler{name: "c", fn: func(context.Context, *HookContext, HookPayload) (ExecutionResult, error) {
		ran = append(ran, "c")
		return Continue(), nil
	}}
	_ = d.Register([]HookType{RequestReceived}, a, PriorityHighest)
	_ = d.Register([]HookType{RequestReceived}, b, PriorityHigh)
	_ = d.Register([]HookType{RequestReceived}, c, PriorityNormal)

	out, err := d.Execute(context.Background(), NewHookContext(), RequestReceived, []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ran) != 2 || ran[0] != "a" || ran[1] != "b" {
		t.Fatalf("expected exactly a then b to run, got %v", ran)
	}
	if string(out) != `{"stopped":true}` {
		t.Fatalf("expected stop's data returned, got %s", out)
	}
}

// Scenario: timeout — a 200ms handler sleep must trip a 50ms global timeout.
func TestScenarioTimeout(t *testing.T) {
	d := newTestDispatcher(50 * time.Millisecond)
	slow := &recordingHandler{name: "slow", fn: func(ctx context.Context, hctx *HookContext, payload HookPayload) (ExecutionResult, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return Continue(), nil
		case <-ctx.Done():
			return ExecutionResult{}, ctx.Err()
		}
	}}
	_ = d.Register([]HookType{RequestReceived}, slow, PriorityNormal)

	start := time.Now()
	_, err := d.Execute(context.Background(), NewHookContext(), RequestReceived, []byte(`{}`))
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
	if elapsed > 150*time.Millisecond {
		t.Fatalf("expected dispatch to abort near the 50ms timeout, took %s", elapsed)
	}
}

// Scenario: rate limit — 3 calls/second; the first 3 fires within 100ms
// succeed, the 4th is rejected, and it recovers after the window elapses.
func TestScenarioRateLimit(t *testing.T) {
	d := newTestDispatcher(0)
	h := &recordingHandler{name: "limited", fn: func(context.Context, *HookContext, HookPayload) (ExecutionResult, error) {
		return Continue(), nil
	}}
	_ = d.Register([]HookType{RequestReceived}, h, PriorityNormal)
	if err := d.SetRateLimit("limited", RateLimit{MaxCalls: 3, Window: time.Second}); err != nil {
		t.Fatalf("unexpected error setting rate limit: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := d.Execute(context.Background(), NewHookContext(), RequestReceived, []byte(`{}`)); err != nil {
			t.Fatalf("call %d: expected success within rate limit, got %v", i, err)
		}
	}
	_, err := d.Execute(context.Background(), NewHookContext(), RequestReceived, []byte(`{}`))
	if err == nil {
		t.Fatalf("expected 4th call within the window to be rate limited")
	}
	if _, ok := err.(*RateLimitExceededError); !ok {
		t.Fatalf("expected *RateLimitExceededError, got %T: %v", err, err)
	}

	time.Sleep(1100 * time.Millisecond)
	if _, err := d.Execute(context.Background(), NewHookContext(), RequestReceived, []byte(`{}`)); err != nil {
		t.Fatalf("expected rate limit to recover after the window elapsed, got %v", err)
	}
}

func TestDispatcherStatsConsistency(t *testing.T) {
	d := newTestDispatcher(0)
	h := &recordingHandler{name: "counted", fn: func(context.Context, *HookContext, HookPayload) (ExecutionResult, error) {
		return Continue(), nil
	}}
	_ = d.Register([]HookType{RequestReceived}, h, PriorityNormal)
	for i := 0; i < 5; i++ {
		_, _ = d.Execute(context.Background(), NewHookContext(), RequestReceived, []byte(`{}`))
	}
	stats, err := d.GetStats("counted")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalExecutions != 5 || stats.SuccessfulExecutions != 5 {
		t.Fatalf("expected 5 successful executions, got %+v", stats)
	}
}

func TestDispatcherDisabledSkipsAllHandlers(t *testing.T) {
	d := newTestDispatcher(0)
	h := &recordingHandler{name: "never", fn: func(context.Context, *HookContext, HookPayload) (ExecutionResult, error) {
		t.Fatalf("disabled dispatcher must not run any handler")
		return Continue(), nil
	}}
	_ = d.Register([]HookType{RequestReceived}, h, PriorityNormal)
	d.SetEnabled(false)

	input := []byte(`{"untouched":true}`)
	out, err := d.Execute(context.Background(), NewHookContext(), RequestReceived, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != string(input) {
		t.Fatalf("expected input returned unchanged when disabled, got %s", out)
	}
}

func TestDispatcherConcurrentFiresDoNotCorruptStats(t *testing.T) {
	d := newTestDispatcher(0)
	h := &recordingHandler{name: "concurrent", fn: func(context.Context, *HookContext, HookPayload) (ExecutionResult, error) {
		return Continue(), nil
	}}
	_ = d.Register([]HookType{RequestReceived}, h, PriorityNormal)

	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			_, _ = d.Execute(context.Background(), NewHookContext(), RequestReceived, []byte(`{}`))
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	stats, err := d.GetStats("concurrent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalExecutions != n {
		t.Fatalf("expected %d total executions, got %d", n, stats.TotalExecutions)
	}
}
