package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/selfectl/internal/config"
	"github.com/danmuck/selfectl/internal/driver"
	"github.com/danmuck/selfectl/internal/envload"
	"github.com/danmuck/selfectl/internal/flags"
	"github.com/danmuck/selfectl/internal/logging"
	"github.com/danmuck/selfectl/internal/observability"
	"github.com/danmuck/selfectl/internal/resolve"
	"github.com/danmuck/selfectl/internal/simulate"
	"github.com/danmuck/selfectl/internal/sources"
	"github.com/danmuck/selfectl/internal/tools"
)

type app struct {
	runner  tools.CommandRunner
	stdout  io.Writer
	stderr  io.Writer
	metrics *observability.Metrics
	// Directory the search for sel4.toml starts from; empty means the
	// process working directory.
	workDir string

	metricsFile string
}

type options struct {
	sel4Arch     string
	arch         string
	platform     string
	debug        bool
	release      bool
	configPath   string
	settingsPath string
	lib          bool
	outDir       string
	jobs         int
	metricsFile  string
	verbose      bool
}

func (o *options) mode() resolve.Mode {
	if o.lib {
		return resolve.ModeLibrary
	}
	return resolve.ModeApplication
}

func (o *options) profile() (string, error) {
	switch {
	case o.debug && o.release:
		return "", usageError(errors.New("--debug and --release are mutually exclusive"))
	case o.debug:
		return "debug", nil
	case o.release:
		return "release", nil
	default:
		return "", nil
	}
}

func newRootCmd(a *app) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "selfectl",
		Short:         "Resolve seL4 build configuration and drive kernel builds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.sel4Arch, "sel4_arch", "a", "", "kernel architecture (aarch32, aarch64, arm_hyp, ia32, x86_64, riscv32, riscv64)")
	pf.StringVar(&opts.arch, "arch", "", "architecture family; derived from --sel4_arch when omitted")
	pf.StringVarP(&opts.platform, "platform", "p", "", "target platform")
	pf.BoolVar(&opts.debug, "debug", false, "select the debug profile (default)")
	pf.BoolVar(&opts.release, "release", false, "select the release profile")
	pf.StringVar(&opts.configPath, "config", "", "path to sel4.toml; searched upward from the working directory when omitted")
	pf.StringVar(&opts.settingsPath, "settings", "", "path to the tool settings file (default selfectl.toml beside sel4.toml)")
	pf.BoolVar(&opts.lib, "lib", false, "build libsel4 only, without a root task")
	pf.StringVar(&opts.outDir, "out", "", "output directory (default <config dir>/target/sel4)")
	pf.IntVar(&opts.jobs, "jobs", 0, "parallel jobs passed to ninja")
	pf.StringVar(&opts.metricsFile, "metrics-file", "", "write prometheus textfile metrics here")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging and live build output")

	root.AddCommand(
		newBuildCmd(a, opts),
		newSimulateCmd(a, opts),
		newResolveCmd(a, opts),
		newFlagsCmd(a, opts),
		newInitCmd(a),
	)
	return root
}

func newBuildCmd(a *app, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build the kernel and root task image, or libsel4 with --lib",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.load(cmd, opts, opts.mode())
			if err != nil {
				return err
			}
			res, err := a.build(cmd, s)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "build_dir: %s\n", res.BuildDir)
			if res.Library != "" {
				fmt.Fprintf(a.stdout, "library: %s\n", res.Library)
				return nil
			}
			fmt.Fprintf(a.stdout, "kernel: %s\n", res.KernelImage)
			if res.RootImage != "" {
				fmt.Fprintf(a.stdout, "root_image: %s\n", res.RootImage)
			}
			return nil
		},
	}
}

func newSimulateCmd(a *app, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Build the image and boot it under qemu",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.lib {
				return usageError(errors.New("simulate needs a root task, --lib is not allowed"))
			}
			s, err := a.load(cmd, opts, resolve.ModeApplication)
			if err != nil {
				return err
			}
			if _, err := simulate.Binary(s.cfg); err != nil {
				return err
			}
			res, err := a.build(cmd, s)
			if err != nil {
				return err
			}
			qemu, err := simulate.Command(s.cfg, res.KernelImage, res.RootImage)
			if err != nil {
				return err
			}
			s.logger.Info().Str("cmd", qemu.String()).Msg("simulate start")
			return simulate.Run(cmd.Context(), a.runner, qemu, a.stdout, a.stderr)
		},
	}
}

func newResolveCmd(a *app, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Print the resolved configuration for the selected context",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.load(cmd, opts, opts.mode())
			if err != nil {
				return err
			}
			out, err := s.cfg.MarshalTOML()
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(out)
			return err
		},
	}
}

func newFlagsCmd(a *app, opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Print the boolean feature flags of the resolved configuration",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.load(cmd, opts, resolve.ModeLibrary)
			if err != nil {
				return err
			}
			emitted := flags.Emit(s.cfg)
			switch format {
			case "lines":
				return flags.Write(a.stdout, emitted)
			case "tags":
				_, err := fmt.Fprintln(a.stdout, flags.BuildTags(emitted))
				return err
			case "defines":
				for _, define := range flags.Defines(emitted) {
					if _, err := fmt.Fprintln(a.stdout, define); err != nil {
						return err
					}
				}
				return nil
			default:
				return usageError(fmt.Errorf("unknown format %q (supported: lines, tags, defines)", format))
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "lines", "output format: lines | tags | defines")
	return cmd
}

func newInitCmd(a *app) *cobra.Command {
	var (
		template string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter sel4.toml",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(_ *cobra.Command, args []string) error {
			path := envload.ConfigFileName
			if len(args) == 1 {
				path = args[0]
			}
			if !filepath.IsAbs(path) {
				dir, err := a.dir()
				if err != nil {
					return err
				}
				path = filepath.Join(dir, path)
			}
			if _, err := config.Template(template); err != nil {
				return usageError(err)
			}
			if err := config.WriteTemplate(path, template, force); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&template, "template", "default", "template kind: default | local")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

// session is everything one command needs after flags, env, and files are
// combined.
type session struct {
	cfg        *resolve.Contextualized
	mode       resolve.Mode
	configPath string
	baseDir    string
	outDir     string
	jobs       int
	verbose    bool
	logger     zerolog.Logger
}

func (a *app) dir() (string, error) {
	if a.workDir != "" {
		return a.workDir, nil
	}
	return os.Getwd()
}

func (a *app) load(cmd *cobra.Command, opts *options, mode resolve.Mode) (*session, error) {
	profile, err := opts.profile()
	if err != nil {
		return nil, err
	}
	workDir, err := a.dir()
	if err != nil {
		return nil, err
	}
	envload.LoadDotEnv(workDir)

	configPath, source, err := envload.Locate(workDir, opts.configPath)
	if err != nil {
		return nil, err
	}
	var model *config.Model
	baseDir := workDir
	if source == envload.SourceNone {
		model, err = config.Default()
	} else {
		baseDir = filepath.Dir(configPath)
		model, err = config.Load(configPath)
	}
	if err != nil {
		return nil, err
	}

	st, err := loadSettings(settingsPath(opts.settingsPath, baseDir))
	if err != nil {
		return nil, usageError(err)
	}
	switch {
	case opts.verbose:
		err = logging.SetLevel("debug")
	case st.LogLevel != "":
		err = logging.SetLevel(st.LogLevel)
	}
	if err != nil {
		return nil, usageError(err)
	}

	s := &session{
		mode:       mode,
		configPath: configPath,
		baseDir:    baseDir,
		outDir:     firstNonEmpty(opts.outDir, st.OutDir, filepath.Join(baseDir, "target", "sel4")),
		jobs:       st.Jobs,
		verbose:    opts.verbose,
	}
	if cmd.Flags().Changed("jobs") {
		if opts.jobs < 0 {
			return nil, usageError(fmt.Errorf("--jobs must be >= 0, got %d", opts.jobs))
		}
		s.jobs = opts.jobs
	}
	a.metricsFile = firstNonEmpty(opts.metricsFile, st.MetricsFile)

	logger := log.With().Str("component", "selfectl").Logger()
	logger.Debug().Str("config", configPath).Str("source", string(source)).Str("out_dir", s.outDir).Msg("config located")

	ctx, err := envload.Selectors(envload.Args{
		Arch:     opts.arch,
		SeL4Arch: opts.sel4Arch,
		Platform: opts.platform,
		Profile:  profile,
	}, logger)
	if err != nil {
		return nil, err
	}

	s.cfg, err = resolve.Resolve(model, ctx, resolve.Options{
		Mode:     mode,
		Required: st.RequiredProperties,
		BaseDir:  baseDir,
	})
	if err != nil {
		return nil, err
	}
	s.logger = logger.With().Str("context", ctx.String()).Logger()
	s.logger.Debug().Str("fingerprint", s.cfg.Fingerprint()).Msg("config resolved")
	return s, nil
}

func (a *app) build(cmd *cobra.Command, s *session) (*driver.Result, error) {
	var live io.Writer
	if s.verbose {
		live = a.stderr
	}
	positioner, err := sources.NewPositioner(sources.PositionerConfig{
		Root:     filepath.Join(s.outDir, "source"),
		Runner:   a.runner,
		Logger:   s.logger,
		Metrics:  a.metrics,
		Progress: live,
	})
	if err != nil {
		return nil, err
	}
	d := driver.New(driver.Config{
		Runner:     a.runner,
		Positioner: positioner,
		OutDir:     s.outDir,
		Jobs:       s.jobs,
		ConfigPath: s.configPath,
		Metrics:    a.metrics,
		Logger:     s.logger,
		Stdout:     live,
		Stderr:     live,
	})
	return d.Run(cmd.Context(), s.cfg, s.mode)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
