package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordersCountByLabel(t *testing.T) {
	m := NewMetrics()
	m.RecordStage("SourcesReady", true, 20*time.Millisecond)
	m.RecordStage("SourcesReady", true, 10*time.Millisecond)
	m.RecordStage("KernelBuilt", false, time.Second)
	m.RecordCommand("ninja", 0)
	m.RecordCommand("ninja", 1)

	if got := testutil.ToFloat64(m.stageRuns.WithLabelValues("SourcesReady", "ok")); got != 2 {
		t.Fatalf("unexpected SourcesReady ok count: %v", got)
	}
	if got := testutil.ToFloat64(m.stageRuns.WithLabelValues("KernelBuilt", "failed")); got != 1 {
		t.Fatalf("unexpected KernelBuilt failed count: %v", got)
	}
	if got := testutil.ToFloat64(m.commands.WithLabelValues("ninja", "1")); got != 1 {
		t.Fatalf("unexpected ninja exit=1 count: %v", got)
	}
	if got := testutil.CollectAndCount(m.stageDuration); got != 2 {
		t.Fatalf("unexpected histogram series count: %d", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordStage("Linked", true, time.Millisecond)
	m.RecordCommand("cmake", 0)
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("nil write: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.RecordStage("Linked", true, time.Millisecond)

	path := filepath.Join(t.TempDir(), "selfectl.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `selfectl_stage_runs_total{outcome="ok",stage="Linked"} 1`) {
		t.Fatalf("unexpected textfile:\n%s", data)
	}
}

func TestDefaultIsShared(t *testing.T) {
	if Default() != Default() {
		t.Fatalf("expected one default metrics set")
	}
}
