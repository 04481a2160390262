// Package hookmetrics renders a hook metrics snapshot in Prometheus text
// format, adapted from the gateway's own request-metrics exporter.
package hookmetrics

import (
	"fmt"
	"sort"
	"strings"
)

// TimerStat summarizes one timer metric's accumulated samples.
type TimerStat struct {
	Count      uint64
	AverageMs  float64
}

// Snapshot is the point-in-time state of the metrics built-in handler.
type Snapshot struct {
	Counters map[string]uint64
	Gauges   map[string]float64
	Timers   map[string]TimerStat
}

// FormatPrometheus formats a hook metrics snapshot in Prometheus text
// format. See https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP hook_counter_total Counter metrics recorded by hook handlers\n")
	sb.WriteString("# TYPE hook_counter_total counter\n")
	for _, key := range sortedKeys(snap.Counters) {
		sb.WriteString(fmt.Sprintf("hook_counter_total{key=\"%s\"} %d\n", key, snap.Counters[key]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP hook_gauge Gauge metrics recorded by hook handlers\n")
	sb.WriteString("# TYPE hook_gauge gauge\n")
	for _, key := range sortedKeys(snap.Gauges) {
		sb.WriteString(fmt.Sprintf("hook_gauge{key=\"%s\"} %g\n", key, snap.Gauges[key]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP hook_timer_duration_ms_average Average recorded timer duration in milliseconds\n")
	sb.WriteString("# TYPE hook_timer_duration_ms_average gauge\n")
	for _, key := range sortedKeys(snap.Timers) {
		sb.WriteString(fmt.Sprintf("hook_timer_duration_ms_average{key=\"%s\"} %g\n", key, snap.Timers[key].AverageMs))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP hook_timer_samples_total Number of samples recorded per timer\n")
	sb.WriteString("# TYPE hook_timer_samples_total counter\n")
	for _, key := range sortedKeys(snap.Timers) {
		sb.WriteString(fmt.Sprintf("hook_timer_samples_total{key=\"%s\"} %d\n", key, snap.Timers[key].Count))
	}
	sb.WriteString("\n")

	return sb.String()
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
