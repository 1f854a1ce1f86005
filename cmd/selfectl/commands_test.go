package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/selfectl/internal/envload"
	"github.com/danmuck/selfectl/internal/observability"
	"github.com/danmuck/selfectl/internal/testutil/testlog"
	"github.com/danmuck/selfectl/internal/tools"
)

const projectDocument = `[sel4]
kernel = { path = "deps/seL4" }
tools = { path = "deps/seL4_tools" }
util_libs = { path = "deps/util_libs" }

[sel4.config]
KernelRetypeFanOutLimit = 256

[sel4.config.arm]
KernelArch = "arm"

[sel4.config.aarch32]
KernelSel4Arch = "aarch32"

[sel4.config.sabre]
KernelARMPlatform = "sabre"

[sel4.config.debug]
KernelPrinting = true

[sel4.config.release]
KernelPrinting = false

[build.sabre.debug]
root_task_image = "out/root"
`

type cliFakeRunner struct {
	commands []tools.Command
	fail     string
}

func (r *cliFakeRunner) Run(_ context.Context, cmd tools.Command) (tools.Output, error) {
	r.commands = append(r.commands, cmd)
	if cmd.Name == r.fail {
		return tools.Output{ExitCode: 1, Stderr: []byte(cmd.Name + " broke")}, errors.New("exit status 1")
	}
	if cmd.Name == "ninja" && cmd.Args[len(cmd.Args)-1] == "all" {
		image := filepath.Join(cmd.Dir, "images", "root_task-image-arm-sabre")
		if err := os.MkdirAll(filepath.Dir(image), 0o755); err != nil {
			return tools.Output{}, err
		}
		if err := os.WriteFile(image, []byte("elf"), 0o644); err != nil {
			return tools.Output{}, err
		}
	}
	return tools.Output{}, nil
}

func (r *cliFakeRunner) names() []string {
	out := make([]string, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd.Name)
	}
	return out
}

type project struct {
	dir    string
	runner *cliFakeRunner
	app    *app
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newProject(t *testing.T, document string) *project {
	t.Helper()
	testlog.Start(t)
	for _, key := range []string{envload.EnvConfigPath, envload.EnvPlatform, envload.EnvOverrideArch, envload.EnvOverrideSeL4, envload.EnvProfile} {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	for _, sub := range []string{"deps/seL4", "deps/seL4_tools", "deps/util_libs", "out"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "out", "root"), []byte("root"), 0o644); err != nil {
		t.Fatalf("write root image: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, envload.ConfigFileName), []byte(document), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	p := &project{dir: dir, runner: &cliFakeRunner{}, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	p.app = &app{
		runner:  p.runner,
		stdout:  p.stdout,
		stderr:  p.stderr,
		metrics: observability.NewMetrics(),
		workDir: dir,
	}
	return p
}

func (p *project) run(args ...string) int {
	p.stdout.Reset()
	p.stderr.Reset()
	return p.app.execute(context.Background(), args)
}

func TestBuildApplicationPrintsImages(t *testing.T) {
	p := newProject(t, projectDocument)

	if code := p.run("build", "-a", "aarch32", "-p", "sabre"); code != exitOK {
		t.Fatalf("unexpected exit %d: %s", code, p.stderr.String())
	}
	out := p.stdout.String()
	if !strings.Contains(out, "build_dir: "+filepath.Join(p.dir, "target", "sel4", "build")) {
		t.Fatalf("unexpected build dir output:\n%s", out)
	}
	if !strings.Contains(out, filepath.Join("images", "root_task-image-arm-sabre")) {
		t.Fatalf("expected image path in output:\n%s", out)
	}
	if strings.Contains(out, "root_image:") {
		t.Fatalf("arm build has no separate root image:\n%s", out)
	}
	want := []string{"cmake", "ninja", "ninja"}
	if got := p.runner.names(); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected commands: %v", got)
	}
}

func TestSimulateBootsBuiltImage(t *testing.T) {
	p := newProject(t, projectDocument)

	if code := p.run("simulate", "-a", "aarch32"); code != exitOK {
		t.Fatalf("unexpected exit %d: %s", code, p.stderr.String())
	}
	last := p.runner.commands[len(p.runner.commands)-1]
	if last.Name != "qemu-system-arm" {
		t.Fatalf("expected qemu last, got %s", last.Name)
	}
	if last.Args[0] != "-kernel" || !strings.HasSuffix(last.Args[1], "root_task-image-arm-sabre") {
		t.Fatalf("unexpected qemu args: %v", last.Args)
	}
	if last.Stdout != p.stdout {
		t.Fatalf("qemu output not streamed to stdout")
	}
}

func TestSimulateRejectsLibraryMode(t *testing.T) {
	p := newProject(t, projectDocument)
	if code := p.run("simulate", "-a", "aarch32", "--lib"); code != exitUsage {
		t.Fatalf("expected usage exit, got %d", code)
	}
	if len(p.runner.commands) != 0 {
		t.Fatalf("expected no commands, got %v", p.runner.names())
	}
}

func TestSimulateFailureExitCode(t *testing.T) {
	p := newProject(t, projectDocument)
	p.runner.fail = "qemu-system-arm"
	if code := p.run("simulate", "-a", "aarch32"); code != exitSimulationFailure {
		t.Fatalf("expected simulation exit, got %d: %s", code, p.stderr.String())
	}
}

func TestResolvePrintsMergedConfig(t *testing.T) {
	p := newProject(t, projectDocument)

	if code := p.run("resolve", "-a", "aarch32", "-p", "sabre"); code != exitOK {
		t.Fatalf("unexpected exit %d: %s", code, p.stderr.String())
	}
	out := p.stdout.String()
	for _, want := range []string{"KernelPrinting = true", "KernelARMPlatform = 'sabre'", "fingerprint = "} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestFlagsFormats(t *testing.T) {
	p := newProject(t, projectDocument)

	if code := p.run("flags", "-a", "aarch32", "--format", "defines"); code != exitOK {
		t.Fatalf("unexpected exit %d: %s", code, p.stderr.String())
	}
	if got := strings.TrimSpace(p.stdout.String()); got != "-DKernelPrinting=1" {
		t.Fatalf("unexpected defines: %q", got)
	}

	if code := p.run("flags", "-a", "aarch32", "--release"); code != exitOK {
		t.Fatalf("unexpected exit %d: %s", code, p.stderr.String())
	}
	if got := p.stdout.String(); got != "KernelPrinting=off\n" {
		t.Fatalf("unexpected lines: %q", got)
	}

	if code := p.run("flags", "-a", "aarch32", "--format", "yaml"); code != exitUsage {
		t.Fatalf("expected usage exit, got %d", code)
	}
}

func TestExitCodesFromCommands(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		args []string
		fail string
		want int
	}{
		{name: "unknown flag", doc: projectDocument, args: []string{"build", "--bogus"}, want: exitUsage},
		{name: "conflicting profiles", doc: projectDocument, args: []string{"build", "-a", "aarch32", "--debug", "--release"}, want: exitUsage},
		{name: "extra argument", doc: projectDocument, args: []string{"build", "now"}, want: exitUsage},
		{name: "schema error", doc: "[sel4]\nkernel = 1\n", args: []string{"resolve", "-a", "aarch32"}, want: exitSchema},
		{name: "invalid context", doc: projectDocument, args: []string{"resolve", "-a", "aarch32", "--arch", "x86"}, want: exitResolution},
		{name: "missing recipe", doc: projectDocument, args: []string{"build", "-a", "aarch32", "--release"}, want: exitMissingRecipe},
		{name: "missing config", doc: projectDocument, args: []string{"resolve", "-a", "aarch32", "--config", "nope.toml"}, want: exitIO},
		{name: "configure failure", doc: projectDocument, args: []string{"build", "-a", "aarch32"}, fail: "cmake", want: exitStageBase + 2},
		{name: "kernel build failure", doc: projectDocument, args: []string{"build", "-a", "aarch32"}, fail: "ninja", want: exitStageBase + 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newProject(t, tc.doc)
			p.runner.fail = tc.fail
			if code := p.run(tc.args...); code != tc.want {
				t.Fatalf("expected exit %d, got %d: %s", tc.want, code, p.stderr.String())
			}
		})
	}
}

func TestInitWritesTemplateOnce(t *testing.T) {
	p := newProject(t, projectDocument)
	target := filepath.Join(p.dir, "fresh", "sel4.toml")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if code := p.run("init", target, "--template", "local"); code != exitOK {
		t.Fatalf("unexpected exit %d: %s", code, p.stderr.String())
	}
	if code := p.run("init", target); code != exitIO {
		t.Fatalf("expected refusal, got %d", code)
	}
	if code := p.run("init", target, "--force"); code != exitOK {
		t.Fatalf("unexpected exit %d: %s", code, p.stderr.String())
	}
	if code := p.run("init", target, "--template", "nope", "--force"); code != exitUsage {
		t.Fatalf("expected usage exit, got %d", code)
	}
}

func TestMetricsFileWrittenOnFailure(t *testing.T) {
	p := newProject(t, projectDocument)
	p.runner.fail = "ninja"
	metrics := filepath.Join(p.dir, "selfectl.prom")

	if code := p.run("build", "-a", "aarch32", "--metrics-file", metrics); code != exitStageBase+3 {
		t.Fatalf("unexpected exit %d", code)
	}
	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(data), `selfectl_stage_runs_total{outcome="failed",stage="KernelBuilt"} 1`) {
		t.Fatalf("missing stage failure sample:\n%s", data)
	}
}

func TestSettingsFileApplies(t *testing.T) {
	p := newProject(t, projectDocument)
	settings := "out_dir = 'custom'\njobs = 3\nrequired_properties = ['KernelPrinting']\n"
	if err := os.WriteFile(filepath.Join(p.dir, settingsFileName), []byte(settings), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	if code := p.run("build", "-a", "aarch32"); code != exitOK {
		t.Fatalf("unexpected exit %d: %s", code, p.stderr.String())
	}
	if !strings.Contains(p.stdout.String(), "build_dir: "+filepath.Join(p.dir, "custom", "build")) {
		t.Fatalf("settings out_dir ignored:\n%s", p.stdout.String())
	}
	ninja := p.runner.commands[1]
	if strings.Join(ninja.Args, " ") != "-j 3 kernel.elf" {
		t.Fatalf("settings jobs ignored: %v", ninja.Args)
	}

	if code := p.run("build", "-a", "aarch32", "--jobs", "1"); code != exitOK {
		t.Fatalf("unexpected exit %d: %s", code, p.stderr.String())
	}
	if got := p.runner.commands[len(p.runner.commands)-1].Args; strings.Join(got, " ") != "-j 1 all" {
		t.Fatalf("flag should beat settings: %v", got)
	}
}

func TestRequiredPropertyFromSettings(t *testing.T) {
	p := newProject(t, projectDocument)
	if err := os.WriteFile(filepath.Join(p.dir, settingsFileName), []byte("required_properties = ['KernelNeverSet']\n"), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	if code := p.run("resolve", "-a", "aarch32"); code != exitResolution {
		t.Fatalf("expected resolution exit, got %d", code)
	}
}
