package hooks

import (
	"context"
	"strings"
	"testing"
)

type stubExecutor struct {
	script string
	reply  string
	err    error
}

func (s *stubExecutor) Execute(ctx context.Context, script string) (string, error) {
	s.script = script
	return s.reply, s.err
}

func TestScriptHandlerBuildScriptPrelude(t *testing.T) {
	hctx := NewHookContextBuilder().WithUserID("u1").Build()
	hctx.SetState("tenant", []byte(`"acme"`))

	cfg := ScriptConfig{
		Script:      "puts done",
		ContextKeys: []string{"request_id", "user", "tenant"},
		Variables:   map[string]string{"mode": "strict"},
	}
	exec := &stubExecutor{reply: "ok"}
	h := NewScriptExecutorHandler("script1", cfg, exec)

	payload := NewHookPayload(ToolPreExecution, []byte(`{"tool":"echo"}`))
	if _, err := h.Execute(context.Background(), hctx, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	script := exec.script
	if !strings.Contains(script, `set hook_type "tool_pre_execution"`) {
		t.Fatalf("expected hook_type line in prelude, got: %s", script)
	}
	if !strings.Contains(script, `set hook_data {"tool":"echo"}`) {
		t.Fatalf("expected hook_data line in prelude, got: %s", script)
	}
	if !strings.Contains(script, "set request_id \""+payload.ExecutionID+"\"") {
		t.Fatalf("expected request_id line in prelude, got: %s", script)
	}
	if !strings.Contains(script, `set user "u1"`) {
		t.Fatalf("expected user line in prelude, got: %s", script)
	}
	if !strings.Contains(script, `set tenant "acme"`) {
		t.Fatalf("expected context-key state line in prelude, got: %s", script)
	}
	if !strings.Contains(script, `set mode "strict"`) {
		t.Fatalf("expected configured variable line in prelude, got: %s", script)
	}
	if !strings.HasSuffix(script, "puts done") {
		t.Fatalf("expected script body appended last, got: %s", script)
	}
}

func TestScriptHandlerExecutorErrorWraps(t *testing.T) {
	exec := &stubExecutor{err: context.DeadlineExceeded}
	h := NewScriptExecutorHandler("script2", ScriptConfig{Script: "noop"}, exec)
	_, err := h.Execute(context.Background(), NewHookContext(), NewHookPayload(RequestReceived, []byte(`{}`)))
	if err == nil {
		t.Fatalf("expected executor error to propagate")
	}
	if _, ok := err.(*HandlerExecutionFailedError); !ok {
		t.Fatalf("expected *HandlerExecutionFailedError, got %T", err)
	}
}

func TestParseHandlerReplyEmptyIsContinue(t *testing.T) {
	r, err := parseHandlerReply("")
	if err != nil || r.Kind != ResultContinue {
		t.Fatalf("expected Continue for empty reply, got %+v err=%v", r, err)
	}
}

func TestParseHandlerReplyPlainTextOkIsContinue(t *testing.T) {
	for _, text := range []string{"ok", "OK", "continue", "Continue"} {
		r, err := parseHandlerReply(text)
		if err != nil || r.Kind != ResultContinue {
			t.Fatalf("expected Continue for %q, got %+v err=%v", text, r, err)
		}
	}
}

func TestParseHandlerReplyPlainTextOtherIsReplace(t *testing.T) {
	r, err := parseHandlerReply("hello world")
	if err != nil || r.Kind != ResultReplace {
		t.Fatalf("expected Replace for arbitrary text, got %+v err=%v", r, err)
	}
	if string(r.Data) != `"hello world"` {
		t.Fatalf("expected quoted string data, got %s", r.Data)
	}
}

func TestParseHandlerReplyTypedStop(t *testing.T) {
	r, err := parseHandlerReply(`{"type":"stop","data":{"x":1}}`)
	if err != nil || r.Kind != ResultStop {
		t.Fatalf("expected Stop, got %+v err=%v", r, err)
	}
}

func TestParseHandlerReplyTypedReplaceRequiresData(t *testing.T) {
	if _, err := parseHandlerReply(`{"type":"replace"}`); err == nil {
		t.Fatalf("expected error when replace reply omits data")
	}
}

func TestParseHandlerReplyTypedError(t *testing.T) {
	r, err := parseHandlerReply(`{"type":"error","message":"bad input","details":{"field":"x"}}`)
	if err != nil || r.Kind != ResultError || r.ErrorMessage != "bad input" {
		t.Fatalf("expected ErrorResult, got %+v err=%v", r, err)
	}
}

func TestParseHandlerReplyUntaggedJSONIsReplace(t *testing.T) {
	r, err := parseHandlerReply(`{"foo":"bar"}`)
	if err != nil || r.Kind != ResultReplace {
		t.Fatalf("expected Replace for untagged JSON object, got %+v err=%v", r, err)
	}
}

func TestParseHandlerReplyUntaggedJSONArrayIsReplace(t *testing.T) {
	r, err := parseHandlerReply(`[1,2,3]`)
	if err != nil || r.Kind != ResultReplace {
		t.Fatalf("expected Replace for a JSON array, got %+v err=%v", r, err)
	}
}
