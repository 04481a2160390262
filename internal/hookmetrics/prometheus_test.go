package hookmetrics

import (
	"strings"
	"testing"
)

func TestFormatPrometheusEmitsSortedKeysAndTypes(t *testing.T) {
	snap := Snapshot{
		Counters: map[string]uint64{"b": 2, "a": 1},
		Gauges:   map[string]float64{"q": 3.5},
		Timers:   map[string]TimerStat{"t": {Count: 4, AverageMs: 12.5}},
	}
	out := FormatPrometheus(snap)

	aIdx := strings.Index(out, `key="a"`)
	bIdx := strings.Index(out, `key="b"`)
	if aIdx == -1 || bIdx == -1 || aIdx > bIdx {
		t.Fatalf("expected counter keys sorted a before b, got:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE hook_counter_total counter") {
		t.Fatalf("expected counter TYPE comment, got:\n%s", out)
	}
	if !strings.Contains(out, `hook_gauge{key="q"} 3.5`) {
		t.Fatalf("expected gauge line, got:\n%s", out)
	}
	if !strings.Contains(out, `hook_timer_duration_ms_average{key="t"} 12.5`) {
		t.Fatalf("expected timer average line, got:\n%s", out)
	}
	if !strings.Contains(out, `hook_timer_samples_total{key="t"} 4`) {
		t.Fatalf("expected timer sample count line, got:\n%s", out)
	}
}

func TestFormatPrometheusEmptySnapshotStillHasHeaders(t *testing.T) {
	out := FormatPrometheus(Snapshot{})
	if !strings.Contains(out, "# HELP hook_counter_total") {
		t.Fatalf("expected headers present even for an empty snapshot, got:\n%s", out)
	}
}
