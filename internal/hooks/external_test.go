package hooks

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestExternalCommandHandlerEchoesStdoutAsReply(t *testing.T) {
	cfg := ExternalCommandConfig{Command: "/bin/sh", Args: []string{"-c", "cat && echo done >&2"}, TimeoutMs: 2000}
	h := NewExternalCommandHandler("echo-handler", cfg)

	payload := NewHookPayload(RequestReceived, []byte("ok"))
	result, err := h.Execute(context.Background(), NewHookContext(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != ResultContinue {
		t.Fatalf("expected stdout \"ok\" to parse as Continue, got %+v", result)
	}
}

func TestExternalCommandHandlerNonZeroExitIsErrorResult(t *testing.T) {
	cfg := ExternalCommandConfig{Command: "/bin/sh", Args: []string{"-c", "exit 3"}, TimeoutMs: 2000}
	h := NewExternalCommandHandler("fail-handler", cfg)

	result, err := h.Execute(context.Background(), NewHookContext(), NewHookPayload(RequestReceived, []byte(`{}`)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != ResultError {
		t.Fatalf("expected ErrorResult for non-zero exit, got %+v", result)
	}
}

func TestExternalCommandHandlerKillsOnTimeout(t *testing.T) {
	cfg := ExternalCommandConfig{Command: "/bin/sh", Args: []string{"-c", "sleep 5"}, TimeoutMs: 50}
	h := NewExternalCommandHandler("timeout-handler", cfg)

	start := time.Now()
	_, err := h.Execute(context.Background(), NewHookContext(), NewHookPayload(RequestReceived, []byte(`{}`)))
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("expected the child to be killed promptly, took %s", elapsed)
	}
}

func TestExternalCommandHandlerBuildArgsSubstitutesPlaceholders(t *testing.T) {
	cfg := ExternalCommandConfig{Command: "/bin/true", Args: []string{"{hook_type}", "{handler_name}", "{user}"}}
	h := NewExternalCommandHandler("args-handler", cfg)
	hctx := NewHookContextBuilder().WithUserID("u9").Build()
	payload := NewHookPayload(ToolPostExecution, []byte(`{}`))

	args := h.buildArgs(hctx, payload)
	if len(args) != 3 || args[0] != "tool_post_execution" || args[1] != "args-handler" || args[2] != "u9" {
		t.Fatalf("unexpected substituted args: %v", args)
	}
}

func TestExternalCommandHandlerBuildEnvIncludesHookFields(t *testing.T) {
	cfg := ExternalCommandConfig{Command: "/bin/true", Env: map[string]string{"EXTRA": "1"}}
	h := NewExternalCommandHandler("env-handler", cfg)
	payload := NewHookPayload(RequestReceived, []byte(`{"a":1}`))

	env := h.buildEnv(NewHookContext(), payload)
	joined := make(map[string]bool, len(env))
	for _, e := range env {
		joined[e] = true
	}
	if !joined["EXTRA=1"] {
		t.Fatalf("expected configured env var present, got %v", env)
	}
	if !joined["HOOK_TYPE=request_received"] {
		t.Fatalf("expected HOOK_TYPE set, got %v", env)
	}
	if !joined["HOOK_DATA={\"a\":1}"] {
		t.Fatalf("expected HOOK_DATA set, got %v", env)
	}

	pathVar := "PATH=" + os.Getenv("PATH")
	if !joined[pathVar] {
		t.Fatalf("expected inherited PATH to survive in the child environment, got %v", env)
	}
}

// Resolving "sh" via PATH (rather than an absolute path) only succeeds if
// buildEnv preserves the inherited environment instead of replacing it.
func TestExternalCommandHandlerResolvesCommandViaInheritedPath(t *testing.T) {
	cfg := ExternalCommandConfig{Command: "sh", Args: []string{"-c", "echo ok"}, TimeoutMs: 2000}
	h := NewExternalCommandHandler("path-handler", cfg)

	result, err := h.Execute(context.Background(), NewHookContext(), NewHookPayload(RequestReceived, []byte(`{}`)))
	if err != nil {
		t.Fatalf("unexpected error resolving 'sh' via inherited PATH: %v", err)
	}
	if result.Kind != ResultContinue {
		t.Fatalf("expected Continue from 'echo ok', got %+v", result)
	}
}
