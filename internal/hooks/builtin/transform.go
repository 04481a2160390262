package builtin

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/tokligence/hookengine/internal/hooks"
)

type transformOp struct {
	Type        string
	Field       string
	To          string
	Value       any
	Length      int
	Replacement string
	Merge       map[string]any
}

// TransformHandler applies an ordered pipeline of field-level operations to
// object-shaped payload data. Unknown operation types are skipped, not
// errored; non-object data passes through unchanged.
type TransformHandler struct {
	hooks.BaseHandler
	name string
	ops  []transformOp
}

// NewTransformHandler builds a Transform handler from its configuration
// fields.
func NewTransformHandler(name string, fields map[string]any) *TransformHandler {
	h := &TransformHandler{name: name}
	raw, ok := fields["transforms"].([]any)
	if !ok {
		return h
	}
	for _, item := range raw {
		spec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		op := transformOp{
			Type:        getString(spec, "type", ""),
			Field:       getString(spec, "field", ""),
			To:          getString(spec, "to", ""),
			Value:       spec["value"],
			Replacement: getString(spec, "replacement", "***REDACTED***"),
		}
		if spec["from"] != nil {
			if s, ok := spec["from"].(string); ok {
				op.Field = s
			}
		}
		if v, ok := spec["length"]; ok {
			if f, ok := getFloat(v); ok {
				op.Length = int(f)
			}
		}
		if m, ok := spec["data"].(map[string]any); ok {
			op.Merge = m
		}
		h.ops = append(h.ops, op)
	}
	return h
}

func (h *TransformHandler) Name() string { return h.name }

func (h *TransformHandler) Execute(ctx context.Context, hctx *hooks.HookContext, payload hooks.HookPayload) (hooks.ExecutionResult, error) {
	obj, ok := asObject(payload.Data)
	if !ok {
		return hooks.Continue(), nil
	}
	for _, op := range h.ops {
		applyTransformOp(obj, op)
	}
	return hooks.Replace(mustMarshal(obj)), nil
}

func applyTransformOp(obj map[string]any, op transformOp) {
	switch op.Type {
	case "rename_field":
		if v, ok := obj[op.Field]; ok {
			delete(obj, op.Field)
			obj[op.To] = v
		}
	case "remove_field":
		delete(obj, op.Field)
	case "add_field":
		obj[op.Field] = op.Value
	case "base64_encode":
		if s, ok := obj[op.Field].(string); ok {
			obj[op.Field] = base64.StdEncoding.EncodeToString([]byte(s))
		}
	case "base64_decode":
		if s, ok := obj[op.Field].(string); ok {
			decoded, err := base64.StdEncoding.DecodeString(s)
			if err == nil && isValidUTF8(decoded) {
				obj[op.Field] = string(decoded)
			}
		}
	case "lowercase":
		if s, ok := obj[op.Field].(string); ok {
			obj[op.Field] = strings.ToLower(s)
		}
	case "uppercase":
		if s, ok := obj[op.Field].(string); ok {
			obj[op.Field] = strings.ToUpper(s)
		}
	case "truncate":
		if s, ok := obj[op.Field].(string); ok {
			runes := []rune(s)
			if len(runes) > op.Length {
				obj[op.Field] = string(runes[:op.Length])
			}
		}
	case "redact":
		if _, ok := obj[op.Field]; ok {
			obj[op.Field] = op.Replacement
		}
	case "merge":
		for k, v := range op.Merge {
			obj[k] = v
		}
	default:
		// unknown operation, pass through
	}
}

func isValidUTF8(b []byte) bool {
	return strings.ToValidUTF8(string(b), "") == string(b)
}
