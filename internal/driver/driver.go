// Package driver runs the staged native build for one resolved context:
// source positioning, kernel configure, kernel build, an optional root task
// build, and the final link, verifying artifacts at each boundary.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/selfectl/internal/config"
	"github.com/danmuck/selfectl/internal/envload"
	"github.com/danmuck/selfectl/internal/observability"
	"github.com/danmuck/selfectl/internal/resolve"
	"github.com/danmuck/selfectl/internal/sources"
	"github.com/danmuck/selfectl/internal/tools"
)

// SourcePositioner places the three source trees on disk.
type SourcePositioner interface {
	PositionAll(ctx context.Context, locs config.SourceLocations) (sources.Resolved, error)
}

type Config struct {
	Runner     tools.CommandRunner
	Positioner SourcePositioner
	// Root of everything the driver writes: source checkouts and build dirs.
	OutDir string
	// Parallelism handed to ninja; zero lets ninja decide.
	Jobs int
	// Path of the configuration document, exported to the root task build.
	ConfigPath string
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
	// Optional live copies of child process output.
	Stdout io.Writer
	Stderr io.Writer
}

type Driver struct {
	runner     tools.CommandRunner
	positioner SourcePositioner
	outDir     string
	jobs       int
	configPath string
	metrics    *observability.Metrics
	logger     zerolog.Logger
	stdout     io.Writer
	stderr     io.Writer
}

// Result describes a finished run.
type Result struct {
	RunID       string
	Context     resolve.Context
	Mode        resolve.Mode
	BuildDir    string
	KernelImage string
	RootImage   string
	Library     string
	States      []Stage
}

func New(cfg Config) *Driver {
	runner := cfg.Runner
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Driver{
		runner:     runner,
		positioner: cfg.Positioner,
		outDir:     cfg.OutDir,
		jobs:       cfg.Jobs,
		configPath: cfg.ConfigPath,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		stdout:     cfg.Stdout,
		stderr:     cfg.Stderr,
	}
}

// run carries the state of one invocation.
type run struct {
	*Driver
	cfg      *resolve.Contextualized
	mode     resolve.Mode
	logger   zerolog.Logger
	state    *State
	dirs     sources.Resolved
	buildDir string
	result   *Result
}

// Run executes every stage for cfg in order. Any failure is terminal and is
// returned as a *StageFailure; pre-flight problems are returned before any
// process is spawned.
func (d *Driver) Run(ctx context.Context, cfg *resolve.Contextualized, mode resolve.Mode) (*Result, error) {
	if err := Preflight(cfg, mode); err != nil {
		return nil, err
	}
	if d.positioner == nil {
		return nil, errors.New("driver: no source positioner configured")
	}

	runID := uuid.NewString()
	r := &run{
		Driver: d,
		cfg:    cfg,
		mode:   mode,
		logger: d.logger.With().Str("run_id", runID).Str("context", cfg.Context.String()).Str("mode", mode.String()).Logger(),
		state:  newState(),
		result: &Result{RunID: runID, Context: cfg.Context, Mode: mode},
	}
	r.logger.Info().Msg("driver run start")

	steps := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{SourcesReady, r.positionSources},
		{KernelConfigured, r.configureKernel},
		{KernelBuilt, r.buildKernel},
		{RootTaskBuilt, r.buildRootTask},
		{Linked, r.link},
	}
	for _, step := range steps {
		if step.stage == RootTaskBuilt && mode != resolve.ModeApplication {
			continue
		}
		if err := r.stage(ctx, step.stage, step.fn); err != nil {
			return nil, err
		}
	}

	r.state.advance(Done)
	r.result.States = append([]Stage(nil), r.state.History...)
	r.logger.Info().Str("build_dir", r.buildDir).Msg("driver run done")
	return r.result, nil
}

func (r *run) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	start := time.Now()
	r.logger.Info().Str("stage", stage.String()).Msg("stage start")

	err := fn(ctx)
	r.metrics.RecordStage(stage.String(), err == nil, time.Since(start))
	if err != nil {
		failure := r.failure(stage, err)
		r.logger.Error().Err(err).Str("stage", stage.String()).Str("reason", string(failure.Reason)).Msg("stage failed")
		return failure
	}
	r.state.advance(stage)
	r.logger.Info().Str("stage", stage.String()).Dur("duration", time.Since(start)).Msg("stage done")
	return nil
}

func (r *run) failure(stage Stage, err error) *StageFailure {
	var failure *StageFailure
	if errors.As(err, &failure) {
		return failure
	}
	out := &StageFailure{Stage: stage, Reason: ReasonIO, Context: r.cfg.Context, Err: err}
	var cmdErr *tools.CommandError
	if errors.As(err, &cmdErr) {
		out.Reason = ReasonExitStatus
		out.ExitCode = cmdErr.ExitCode
		out.Stderr = cmdErr.Stderr
	}
	return out
}

func (r *run) missing(stage Stage, path string, err error) *StageFailure {
	return &StageFailure{Stage: stage, Reason: ReasonArtifactMissing, Artifact: path, Context: r.cfg.Context, Err: err}
}

func (r *run) positionSources(ctx context.Context) error {
	dirs, err := r.positioner.PositionAll(ctx, r.cfg.Sources)
	if err != nil {
		return err
	}
	r.dirs = dirs
	return nil
}

func (r *run) prebuilt() bool {
	return r.mode == resolve.ModeLibrary && r.cfg.BuildDir != ""
}

func (r *run) configureKernel(ctx context.Context) error {
	if r.prebuilt() {
		r.buildDir = r.cfg.BuildDir
		r.logger.Info().Str("build_dir", r.buildDir).Msg("using prebuilt build dir")
		return nil
	}

	args := CMakeOptions(r.cfg, r.mode, r.dirs)
	outDir, err := filepath.Abs(r.outDir)
	if err != nil {
		return err
	}
	r.buildDir = filepath.Join(outDir, "build", BuildDirName(r.cfg, r.mode, args))
	r.result.BuildDir = r.buildDir
	if info, err := os.Stat(r.buildDir); err == nil && !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", r.buildDir)
	}
	if err := os.MkdirAll(r.buildDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(r.buildDir, "CMakeLists.txt"), []byte(cmakeLists(r.mode)), 0o644); err != nil {
		return err
	}

	env := []string{"SEL4_TOOLS_DIR=" + r.dirs.ToolsDir}
	if r.mode == resolve.ModeApplication {
		utilLibsBin := filepath.Join(r.buildDir, "util_libs")
		if err := os.MkdirAll(utilLibsBin, 0o755); err != nil {
			return err
		}
		env = append(env,
			"ROOT_TASK_PATH="+r.cfg.Build.RootTask.RootTaskImagePath,
			"UTIL_LIBS_SOURCE_PATH="+r.dirs.UtilLibsDir,
			"UTIL_LIBS_BIN_PATH="+utilLibsBin,
		)
	}

	cmakeArgs := append(args, "-G", "Ninja", ".")
	return r.exec(ctx, tools.Command{Name: "cmake", Args: cmakeArgs, Dir: r.buildDir, Env: r.withToolchain(env)})
}

func (r *run) buildKernel(ctx context.Context) error {
	if r.prebuilt() {
		return nil
	}
	target := "libsel4.a"
	if r.mode == resolve.ModeApplication {
		target = "kernel.elf"
	}
	return r.ninja(ctx, target)
}

func (r *run) buildRootTask(ctx context.Context) error {
	recipe := r.cfg.Build.RootTask
	if recipe.MakeRootTaskCommand != "" {
		cmd := tools.Shell(recipe.MakeRootTaskCommand)
		cmd.Dir = r.cfg.BaseDir
		cmd.Env = r.withToolchain(r.rootTaskEnv())
		if err := r.exec(ctx, cmd); err != nil {
			return err
		}
	}
	if err := verifyArtifact(recipe.RootTaskImagePath); err != nil {
		return r.missing(RootTaskBuilt, recipe.RootTaskImagePath, err)
	}
	r.logger.Info().Str("artifact", recipe.RootTaskImagePath).Msg("root task image verified")
	return nil
}

func (r *run) link(ctx context.Context) error {
	if r.mode == resolve.ModeLibrary {
		lib := LibraryPath(r.buildDir)
		if err := verifyArtifact(lib); err != nil {
			return r.missing(Linked, lib, err)
		}
		r.result.BuildDir = r.buildDir
		r.result.Library = lib
		return nil
	}

	if err := r.ninja(ctx, "all"); err != nil {
		return err
	}
	kernel, root := Images(r.cfg, r.buildDir)
	for _, image := range []string{kernel, root} {
		if image == "" {
			continue
		}
		if err := verifyArtifact(image); err != nil {
			return r.missing(Linked, image, err)
		}
	}
	r.result.KernelImage = kernel
	r.result.RootImage = root
	return nil
}

func (r *run) ninja(ctx context.Context, target string) error {
	args := []string{}
	if r.jobs > 0 {
		args = append(args, "-j", strconv.Itoa(r.jobs))
	}
	args = append(args, target)
	return r.exec(ctx, tools.Command{Name: "ninja", Args: args, Dir: r.buildDir, Env: r.withToolchain(nil)})
}

func (r *run) rootTaskEnv() []string {
	ctx := r.cfg.Context
	env := []string{
		envload.EnvPlatform + "=" + ctx.Platform,
		envload.EnvOverrideArch + "=" + ctx.Arch,
		envload.EnvOverrideSeL4 + "=" + ctx.SeL4Arch,
		envload.EnvProfile + "=" + ctx.Profile,
	}
	if r.configPath != "" {
		env = append(env, envload.EnvConfigPath+"="+r.configPath)
	}
	return env
}

func (r *run) withToolchain(env []string) []string {
	if dir := r.cfg.Build.ToolchainDir; dir != "" {
		env = append(env, tools.PrependPath(dir))
	}
	return env
}

func (r *run) exec(ctx context.Context, cmd tools.Command) error {
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	r.logger.Info().Str("cmd", cmd.String()).Str("dir", cmd.Dir).Msg("driver exec")
	out, err := tools.RunChecked(ctx, r.runner, cmd)
	r.metrics.RecordCommand(cmd.Name, out.ExitCode)
	if err != nil && len(out.Stderr) > 0 {
		r.logger.Debug().Str("cmd", cmd.Name).Bytes("stderr", out.Stderr).Msg("driver exec stderr")
	}
	return err
}
