package builtin

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/tokligence/hookengine/internal/hookmetrics"
	"github.com/tokligence/hookengine/internal/hooks"
)

const startTimeStateKey = "start_time_ms"

// MetricsHandler records counters, gauges and timers as hooks fire, and
// exposes them outside the handler protocol via Snapshot/Reset; the
// snapshot can be rendered as Prometheus text with
// hookmetrics.FormatPrometheus.
type MetricsHandler struct {
	hooks.BaseHandler
	name       string
	metricType string
	metricKey  string
	valuePath  string
	export     bool

	mu       sync.Mutex
	counters map[string]uint64
	gauges   map[string]float64
	timers   map[string][]float64 // milliseconds
}

// NewMetricsHandler builds a Metrics handler from its configuration fields.
func NewMetricsHandler(name string, fields map[string]any) *MetricsHandler {
	return &MetricsHandler{
		name:       name,
		metricType: getString(fields, "metric_type", "counter"),
		metricKey:  getString(fields, "metric_key", ""),
		valuePath:  getString(fields, "value_path", ""),
		export:     getBool(fields, "export", false),
		counters:   make(map[string]uint64),
		gauges:     make(map[string]float64),
		timers:     make(map[string][]float64),
	}
}

func (h *MetricsHandler) Name() string { return h.name }

func (h *MetricsHandler) Execute(ctx context.Context, hctx *hooks.HookContext, payload hooks.HookPayload) (hooks.ExecutionResult, error) {
	key := h.metricKey
	if key == "" {
		key = "hook." + payload.HookType.String()
	}

	switch h.metricType {
	case "gauge":
		value := h.extractValue(payload)
		h.mu.Lock()
		h.gauges[key] = value
		h.mu.Unlock()
		if h.export {
			return hooks.Replace(mustMarshal(map[string]any{
				"data":    rawToAny(payload.Data),
				"metrics": map[string]any{"type": "gauge", "key": key, "value": value},
			})), nil
		}
		return hooks.Continue(), nil

	case "timer":
		raw, ok := hctx.GetState(startTimeStateKey)
		if !ok {
			return hooks.Continue(), nil
		}
		startMs, err := parseFloatState(raw)
		if err != nil {
			return hooks.Continue(), nil
		}
		nowMs := float64(payload.Timestamp.UnixMilli())
		duration := nowMs - startMs
		h.mu.Lock()
		h.timers[key] = append(h.timers[key], duration)
		samples := h.timers[key]
		avg := average(samples)
		h.mu.Unlock()
		if h.export {
			return hooks.Replace(mustMarshal(map[string]any{
				"data": rawToAny(payload.Data),
				"metrics": map[string]any{
					"type": "timer", "key": key, "current_ms": duration,
					"average_ms": avg, "count": len(samples),
				},
			})), nil
		}
		return hooks.Continue(), nil

	default: // counter
		h.mu.Lock()
		h.counters[key]++
		count := h.counters[key]
		h.mu.Unlock()
		if h.export {
			return hooks.Replace(mustMarshal(map[string]any{
				"data":    rawToAny(payload.Data),
				"metrics": map[string]any{"type": "counter", "key": key, "value": count},
			})), nil
		}
		return hooks.Continue(), nil
	}
}

func (h *MetricsHandler) extractValue(payload hooks.HookPayload) float64 {
	if obj, ok := asObject(payload.Data); ok {
		if v, ok := obj["value"]; ok {
			if f, ok := getFloat(v); ok {
				return f
			}
		}
	}
	if h.valuePath != "" {
		if v, ok := resolveJSONPointer(payload.Data, h.valuePath); ok {
			if f, ok := getFloat(v); ok {
				return f
			}
		}
	}
	return 0
}

// Snapshot returns the current state of every tracked metric.
func (h *MetricsHandler) Snapshot() hookmetrics.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	counters := make(map[string]uint64, len(h.counters))
	for k, v := range h.counters {
		counters[k] = v
	}
	gauges := make(map[string]float64, len(h.gauges))
	for k, v := range h.gauges {
		gauges[k] = v
	}
	timers := make(map[string]hookmetrics.TimerStat, len(h.timers))
	for k, samples := range h.timers {
		timers[k] = hookmetrics.TimerStat{Count: uint64(len(samples)), AverageMs: average(samples)}
	}
	return hookmetrics.Snapshot{Counters: counters, Gauges: gauges, Timers: timers}
}

// Reset clears every tracked metric.
func (h *MetricsHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counters = make(map[string]uint64)
	h.gauges = make(map[string]float64)
	h.timers = make(map[string][]float64)
}

func average(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

func rawToAny(data []byte) any {
	if v, ok := asObject(data); ok {
		return v
	}
	return string(data)
}

func parseFloatState(raw json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	return 0, strconv.ErrSyntax
}

// resolveJSONPointer resolves a minimal RFC-6901-style JSON pointer
// ("/a/b/0") against decoded JSON data.
func resolveJSONPointer(data []byte, pointer string) (any, bool) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, false
	}
	if pointer == "" || pointer == "/" {
		return root, true
	}
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	cur := root
	for _, part := range parts {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
