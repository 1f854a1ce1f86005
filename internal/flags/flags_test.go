package flags

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/danmuck/selfectl/internal/config"
	"github.com/danmuck/selfectl/internal/resolve"
)

func contextualized(props config.Properties) *resolve.Contextualized {
	return &resolve.Contextualized{Properties: props}
}

func TestEmitSelectsBooleansSorted(t *testing.T) {
	cfg := contextualized(config.Properties{
		"KernelPrinting":          config.BoolValue(true),
		"KernelDebugBuild":        config.BoolValue(false),
		"KernelRetypeFanOutLimit": config.IntValue(256),
		"KernelARMPlatform":       config.StringValue("sabre"),
		"KernelFastpath":          config.BoolValue(true),
	})

	want := []Flag{
		{Name: "KernelDebugBuild", Enabled: false},
		{Name: "KernelFastpath", Enabled: true},
		{Name: "KernelPrinting", Enabled: true},
	}
	if diff := cmp.Diff(want, Emit(cfg)); diff != "" {
		t.Fatalf("emit mismatch (-want +got):\n%s", diff)
	}
}

func TestEmitIgnoresInsertionOrder(t *testing.T) {
	a := config.Properties{}
	b := config.Properties{}
	names := []string{"Z", "A", "M", "B", "Y"}
	for i, n := range names {
		a[n] = config.BoolValue(i%2 == 0)
	}
	for i := len(names) - 1; i >= 0; i-- {
		b[names[i]] = config.BoolValue(i%2 == 0)
	}

	var outA, outB bytes.Buffer
	if err := Write(&outA, Emit(contextualized(a))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Write(&outB, Emit(contextualized(b))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Equal(outA.Bytes(), outB.Bytes()) {
		t.Fatalf("output differs:\n%s\n---\n%s", outA.String(), outB.String())
	}
	if outA.String() != "A=off\nB=off\nM=on\nY=on\nZ=on\n" {
		t.Fatalf("unexpected rendering:\n%s", outA.String())
	}
}

func TestRenderers(t *testing.T) {
	flags := []Flag{{Name: "KernelDebugBuild", Enabled: false}, {Name: "KernelPrinting", Enabled: true}}
	if got := BuildTags(flags); got != "KernelPrinting" {
		t.Fatalf("unexpected tags: %q", got)
	}
	if diff := cmp.Diff([]string{"-DKernelDebugBuild=0", "-DKernelPrinting=1"}, Defines(flags)); diff != "" {
		t.Fatalf("defines mismatch:\n%s", diff)
	}
	if got := BuildTags(nil); got != "" {
		t.Fatalf("expected empty tags, got %q", got)
	}
}
