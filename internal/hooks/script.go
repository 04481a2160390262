package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ScriptExecutor sends a prelude+script to a co-resident interpreter and
// returns its textual reply. The interpreter itself (TCL or otherwise) is
// out of scope here; hosts supply their own implementation.
type ScriptExecutor interface {
	Execute(ctx context.Context, script string) (string, error)
}

// ScriptHandler wraps a ScriptExecutor as a Handler, building an interpreter
// prelude from the hook payload and context, then translating the textual
// reply into an ExecutionResult.
type ScriptHandler struct {
	BaseHandler
	name     string
	config   ScriptConfig
	executor ScriptExecutor
}

// NewScriptExecutorHandler builds a handler that runs config.Script through
// executor, with hook data and configured context keys made available as
// variables in the prelude.
func NewScriptExecutorHandler(name string, config ScriptConfig, executor ScriptExecutor) *ScriptHandler {
	return &ScriptHandler{name: name, config: config, executor: executor}
}

func (h *ScriptHandler) Name() string { return h.name }

func (h *ScriptHandler) Execute(ctx context.Context, hctx *HookContext, payload HookPayload) (ExecutionResult, error) {
	script := h.buildScript(hctx, payload)
	reply, err := h.executor.Execute(ctx, script)
	if err != nil {
		return ExecutionResult{}, NewHandlerExecutionFailed(h.name, err)
	}
	return parseHandlerReply(reply)
}

func (h *ScriptHandler) buildScript(hctx *HookContext, payload HookPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "set hook_type %q\n", payload.HookType.String())
	fmt.Fprintf(&b, "set hook_data {%s}\n", string(payload.Data))

	for _, key := range h.config.ContextKeys {
		switch key {
		case "request_id":
			fmt.Fprintf(&b, "set request_id %q\n", payload.ExecutionID)
		case "user":
			if userID, ok := hctx.UserID(); ok {
				fmt.Fprintf(&b, "set user %q\n", userID)
			}
		default:
			if v, ok := hctx.GetState(key); ok {
				fmt.Fprintf(&b, "set %s %s\n", key, scriptLiteral(v))
			}
		}
	}

	for name, value := range h.config.Variables {
		fmt.Fprintf(&b, "set %s %q\n", name, value)
	}

	b.WriteString(h.config.Script)
	return b.String()
}

// scriptLiteral renders a JSON value as a script-language literal: quoted
// strings, bare numbers and booleans, empty string for null, raw JSON
// otherwise.
func scriptLiteral(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return strconv.Quote(string(raw))
	}
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case nil:
		return `""`
	default:
		return string(raw)
	}
}

// parseHandlerReply is the shared reply-parsing contract for both the
// script handler and the external-command handler (§4.E / §4.F): a JSON
// object carrying "type" translates directly; JSON without "type" becomes a
// Replace; anything else is treated as plain text, where empty/"ok"/
// "continue" means Continue and any other text means Replace(text).
func parseHandlerReply(reply string) (ExecutionResult, error) {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return Continue(), nil
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &asMap); err == nil {
		if typeRaw, ok := asMap["type"]; ok {
			var kind string
			if err := json.Unmarshal(typeRaw, &kind); err != nil {
				return ExecutionResult{}, &SerializationError{Source: err}
			}
			switch kind {
			case "continue":
				return Continue(), nil
			case "stop":
				return Stop(asMap["data"]), nil
			case "replace":
				data, ok := asMap["data"]
				if !ok {
					return ExecutionResult{}, &InvalidConfigurationError{Message: "replace reply missing data"}
				}
				return Replace(data), nil
			case "error":
				var message string
				if m, ok := asMap["message"]; ok {
					_ = json.Unmarshal(m, &message)
				}
				return ErrorResult(message, asMap["details"]), nil
			default:
				return Replace([]byte(trimmed)), nil
			}
		}
		return Replace([]byte(trimmed)), nil
	}

	var asValue any
	if err := json.Unmarshal([]byte(trimmed), &asValue); err == nil {
		return Replace([]byte(trimmed)), nil
	}

	switch strings.ToLower(trimmed) {
	case "ok", "continue":
		return Continue(), nil
	default:
		quoted, err := json.Marshal(trimmed)
		if err != nil {
			return ExecutionResult{}, &SerializationError{Source: err}
		}
		return Replace(quoted), nil
	}
}
