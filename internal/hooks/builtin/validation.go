package builtin

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tokligence/hookengine/internal/hooks"
)

type constraint struct {
	Min       *float64
	Max       *float64
	MinLength *int
	MaxLength *int
	Pattern   *regexp.Regexp
}

// ValidationHandler checks the payload (or, by default, its data field)
// against an optional JSON-Schema and a set of custom rules: required/
// forbidden fields, field types, and per-field constraints. It never
// returns a Go error for a failed validation — failures are reported as an
// ExecutionResult error carrying a structured code, matching the built-in
// family's "never panic" contract.
type ValidationHandler struct {
	hooks.BaseHandler
	name string

	schema *jsonschema.Schema

	requiredFields    []string
	forbiddenFields   []string
	fieldTypes        map[string]string
	constraints       map[string]constraint
	validatePayload   bool
	addValidationStat bool
}

// NewValidationHandler builds a Validation handler from its configuration
// fields. A schema that fails to compile is silently disabled, consistent
// with never panicking on malformed configuration.
func NewValidationHandler(name string, fields map[string]any) *ValidationHandler {
	h := &ValidationHandler{
		name:              name,
		requiredFields:    getStringSlice(fields, "required_fields"),
		forbiddenFields:   getStringSlice(fields, "forbidden_fields"),
		fieldTypes:        make(map[string]string),
		constraints:       make(map[string]constraint),
		validatePayload:   getBool(fields, "validate_payload", true),
		addValidationStat: getBool(fields, "add_validation_status", false),
	}

	if ft := getMap(fields, "field_types"); ft != nil {
		for k, v := range ft {
			if s, ok := v.(string); ok {
				h.fieldTypes[k] = s
			}
		}
	}

	if cs := getMap(fields, "constraints"); cs != nil {
		for field, raw := range cs {
			spec, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			c := constraint{}
			if v, ok := spec["min"]; ok {
				if f, ok := getFloat(v); ok {
					c.Min = &f
				}
			}
			if v, ok := spec["max"]; ok {
				if f, ok := getFloat(v); ok {
					c.Max = &f
				}
			}
			if v, ok := spec["min_length"]; ok {
				if f, ok := getFloat(v); ok {
					n := int(f)
					c.MinLength = &n
				}
			}
			if v, ok := spec["max_length"]; ok {
				if f, ok := getFloat(v); ok {
					n := int(f)
					c.MaxLength = &n
				}
			}
			if v, ok := spec["pattern"]; ok {
				if s, ok := v.(string); ok {
					if re, err := regexp.Compile(s); err == nil {
						c.Pattern = re
					}
				}
			}
			h.constraints[field] = c
		}
	}

	if raw, ok := fields["schema"]; ok {
		h.schema = compileSchema(raw)
	}

	return h
}

func compileSchema(schemaValue any) *jsonschema.Schema {
	raw := mustMarshal(schemaValue)
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	const resourceURL = "mem://hook-validation-schema.json"
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		return nil
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil
	}
	return schema
}

func (h *ValidationHandler) Name() string { return h.name }

func (h *ValidationHandler) Execute(ctx context.Context, hctx *hooks.HookContext, payload hooks.HookPayload) (hooks.ExecutionResult, error) {
	data := []byte(payload.Data)
	if !h.validatePayload {
		data = mustMarshal(payload)
	}
	target := rawToAny(data)

	if h.schema != nil {
		if err := h.schema.Validate(target); err != nil {
			details := mustMarshal(map[string]any{
				"code":   "SCHEMA_VALIDATION_FAILED",
				"errors": []string{err.Error()},
			})
			return hooks.ErrorResult("schema validation failed", details), nil
		}
	}

	if errs := h.validateRules(data); len(errs) > 0 {
		details := mustMarshal(map[string]any{"code": "VALIDATION_FAILED", "errors": errs})
		return hooks.ErrorResult("validation failed", details), nil
	}

	if !h.addValidationStat {
		return hooks.Continue(), nil
	}

	obj, ok := asObject(payload.Data)
	if !ok {
		obj = map[string]any{"_original": rawToAny(payload.Data)}
	}
	obj["_validated"] = map[string]any{
		"handler":      h.name,
		"timestamp":    time.Now().Format(time.RFC3339),
		"schema_used":  h.schema != nil,
	}
	return hooks.Replace(mustMarshal(obj)), nil
}

func (h *ValidationHandler) validateRules(data []byte) []string {
	var errs []string
	obj, isObject := asObject(data)

	for _, field := range h.requiredFields {
		if !isObject {
			errs = append(errs, fmt.Sprintf("Missing required field: %s", field))
			continue
		}
		if _, ok := obj[field]; !ok {
			errs = append(errs, fmt.Sprintf("Missing required field: %s", field))
		}
	}

	if isObject {
		for _, field := range h.forbiddenFields {
			if _, ok := obj[field]; ok {
				errs = append(errs, fmt.Sprintf("forbidden field present: %s", field))
			}
		}

		for field, expected := range h.fieldTypes {
			v, ok := obj[field]
			if !ok {
				continue
			}
			if actual := jsonTypeName(v); actual != expected {
				errs = append(errs, fmt.Sprintf("field %s: expected type %s, got %s", field, expected, actual))
			}
		}

		for field, c := range h.constraints {
			v, ok := obj[field]
			if !ok {
				continue
			}
			errs = append(errs, checkConstraint(field, v, c)...)
		}
	}

	return errs
}

func checkConstraint(field string, v any, c constraint) []string {
	var errs []string
	switch t := v.(type) {
	case float64:
		if c.Min != nil && t < *c.Min {
			errs = append(errs, fmt.Sprintf("field %s: %v below minimum %v", field, t, *c.Min))
		}
		if c.Max != nil && t > *c.Max {
			errs = append(errs, fmt.Sprintf("field %s: %v above maximum %v", field, t, *c.Max))
		}
	case string:
		if c.MinLength != nil && len([]rune(t)) < *c.MinLength {
			errs = append(errs, fmt.Sprintf("field %s: length below minimum %d", field, *c.MinLength))
		}
		if c.MaxLength != nil && len([]rune(t)) > *c.MaxLength {
			errs = append(errs, fmt.Sprintf("field %s: length above maximum %d", field, *c.MaxLength))
		}
		if c.Pattern != nil && !c.Pattern.MatchString(t) {
			errs = append(errs, fmt.Sprintf("field %s: does not match pattern", field))
		}
	case []any:
		if c.MinLength != nil && len(t) < *c.MinLength {
			errs = append(errs, fmt.Sprintf("field %s: length below minimum %d", field, *c.MinLength))
		}
		if c.MaxLength != nil && len(t) > *c.MaxLength {
			errs = append(errs, fmt.Sprintf("field %s: length above maximum %d", field, *c.MaxLength))
		}
	}
	return errs
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return strings.ToLower(fmt.Sprintf("%T", v))
	}
}
