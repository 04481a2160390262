package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/tokligence/hookengine/internal/hooks"
	"github.com/tokligence/hookengine/internal/hookslog"
)

// LogFormat selects how the Logging handler renders its message.
type LogFormat string

const (
	FormatJSON    LogFormat = "json"
	FormatPretty  LogFormat = "pretty"
	FormatCompact LogFormat = "compact"
)

func parseFormat(name string) LogFormat {
	switch LogFormat(name) {
	case FormatJSON, FormatCompact:
		return LogFormat(name)
	default:
		return FormatPretty
	}
}

// LoggingHandler emits one log record per invocation, optionally stamping
// the payload data with a summary of what was logged.
type LoggingHandler struct {
	hooks.BaseHandler
	name            string
	level           hookslog.Level
	format          LogFormat
	includeInResult bool
	logger          *log.Logger
}

// NewLoggingHandler builds a Logging handler from its configuration fields.
func NewLoggingHandler(name string, fields map[string]any, logger *log.Logger) *LoggingHandler {
	if logger == nil {
		logger = hookslog.New(nil, "hooks.logging")
	}
	return &LoggingHandler{
		name:            name,
		level:           hookslog.ParseLevel(getString(fields, "level", "info")),
		format:          parseFormat(getString(fields, "format", "pretty")),
		includeInResult: getBool(fields, "include_in_result", false),
		logger:          logger,
	}
}

func (h *LoggingHandler) Name() string { return h.name }

func (h *LoggingHandler) Execute(ctx context.Context, hctx *hooks.HookContext, payload hooks.HookPayload) (hooks.ExecutionResult, error) {
	message := h.formatMessage(hctx, payload)
	h.logger.Printf("[%s] %s", h.level, message)

	if !h.includeInResult {
		return hooks.Continue(), nil
	}

	stamp := map[string]any{
		"logged":    true,
		"level":     h.level.String(),
		"message":   message,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	if obj, ok := asObject(payload.Data); ok {
		obj["_log"] = stamp
		return hooks.Replace(mustMarshal(obj)), nil
	}

	var original any
	_ = json.Unmarshal(payload.Data, &original)
	return hooks.Replace(mustMarshal(map[string]any{"_original": original, "_log": stamp})), nil
}

func (h *LoggingHandler) formatMessage(hctx *hooks.HookContext, payload hooks.HookPayload) string {
	userID, _ := hctx.UserID()
	switch h.format {
	case FormatJSON:
		obj := map[string]any{
			"hook_type": payload.HookType.String(),
			"handler":   h.name,
			"data":      json.RawMessage(payload.Data),
			"context": map[string]any{
				"request_id": payload.ExecutionID,
				"user":       userID,
			},
		}
		return string(mustMarshal(obj))
	case FormatCompact:
		return fmt.Sprintf("[%s] %s: %s", payload.HookType, h.name, string(payload.Data))
	default:
		pretty, err := json.MarshalIndent(json.RawMessage(payload.Data), "", "  ")
		if err != nil {
			pretty = payload.Data
		}
		return fmt.Sprintf("Hook: %s | Handler: %s | Data: %s", payload.HookType, h.name, string(pretty))
	}
}
