package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/tokligence/hookengine/internal/ratelimit"
)

// spawnLimiter bounds how many subprocesses any single external-command
// handler name may launch per second, independent of its configured
// RateLimit. A handler registered on several hook types fires from each
// independently; without a shared ceiling a burst across hook types could
// still fork unboundedly.
var spawnLimiter = ratelimit.NewKeyedLimiter(20, 10)

// ExternalCommandHandler spawns a fresh subprocess per fire, piping the hook
// payload to its stdin and interpreting its stdout by the same reply rules
// as ScriptHandler. Unlike the process this is adapted from, it kills the
// child explicitly on timeout rather than relying on it being reaped when
// dropped.
type ExternalCommandHandler struct {
	BaseHandler
	name   string
	config ExternalCommandConfig
}

// NewExternalCommandHandler builds a handler bound to config.
func NewExternalCommandHandler(name string, config ExternalCommandConfig) *ExternalCommandHandler {
	return &ExternalCommandHandler{name: name, config: config}
}

func (h *ExternalCommandHandler) Name() string { return h.name }

func (h *ExternalCommandHandler) Execute(ctx context.Context, hctx *HookContext, payload HookPayload) (ExecutionResult, error) {
	if !spawnLimiter.Allow(h.name) {
		return ExecutionResult{}, &ResourceLimitExceededError{Message: fmt.Sprintf("external command handler '%s' exceeded subprocess spawn rate", h.name)}
	}

	runCtx, cancel := context.WithTimeout(ctx, h.config.Timeout())
	defer cancel()

	args := h.buildArgs(hctx, payload)
	cmd := exec.CommandContext(runCtx, h.config.Command, args...)
	cmd.Env = h.buildEnv(hctx, payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = bytes.NewReader(payload.Data)

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return ExecutionResult{}, &TimeoutError{Handler: h.name, Duration: h.config.Timeout()}
	}
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		details, _ := json.Marshal(map[string]any{"exit_code": exitCode, "stderr": stderr.String()})
		return ErrorResult(fmt.Sprintf("command exited with code %d: %s", exitCode, stderr.String()), details), nil
	}

	return parseHandlerReply(stdout.String())
}

func (h *ExternalCommandHandler) buildEnv(hctx *HookContext, payload HookPayload) []string {
	env := make([]string, 0, len(os.Environ())+len(h.config.Env)+6)
	env = append(env, os.Environ()...)
	for k, v := range h.config.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	env = append(env,
		"HOOK_TYPE="+payload.HookType.String(),
		"HOOK_HANDLER="+h.name,
		"HOOK_REQUEST_ID="+payload.ExecutionID,
		"HOOK_DATA="+string(payload.Data),
	)
	if userID, ok := hctx.UserID(); ok {
		env = append(env, "HOOK_USER="+userID)
	}
	return env
}

func (h *ExternalCommandHandler) buildArgs(hctx *HookContext, payload HookPayload) []string {
	userID, _ := hctx.UserID()
	replacer := strings.NewReplacer(
		"{hook_type}", payload.HookType.String(),
		"{handler_name}", h.name,
		"{request_id}", payload.ExecutionID,
		"{user}", userID,
	)
	args := make([]string, len(h.config.Args))
	for i, a := range h.config.Args {
		args[i] = replacer.Replace(a)
	}
	return args
}
