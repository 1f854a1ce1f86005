// Package sources positions the kernel, tools, and util_libs trees a build
// needs: local paths are validated, git sources are cloned or moved to their
// declared target. Positioning is idempotent.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danmuck/selfectl/internal/config"
	"github.com/danmuck/selfectl/internal/observability"
	"github.com/danmuck/selfectl/internal/tools"
)

var (
	ErrSourceMissing    = errors.New("sources: source missing")
	ErrCheckoutConflict = errors.New("sources: checkout conflict")
	ErrInvalidRoot      = errors.New("sources: invalid checkout root")
)

// Directory name prefixes for git checkouts, keyed by document name.
var nameHints = map[string]string{
	"kernel":    "kernel",
	"tools":     "seL4_tools",
	"util_libs": "util_libs",
}

type PositionerConfig struct {
	// Directory git checkouts are placed under.
	Root    string
	Runner  tools.CommandRunner
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	// Optional live copy of git's stderr (progress output).
	Progress io.Writer
}

type Positioner struct {
	root     string
	runner   tools.CommandRunner
	logger   zerolog.Logger
	metrics  *observability.Metrics
	progress io.Writer
}

// Resolved holds the on-disk location of each positioned source.
type Resolved struct {
	KernelDir   string
	ToolsDir    string
	UtilLibsDir string
}

func NewPositioner(cfg PositionerConfig) (*Positioner, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrInvalidRoot)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}

	runner := cfg.Runner
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Positioner{
		root:     filepath.Clean(rootAbs),
		runner:   runner,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		progress: cfg.Progress,
	}, nil
}

func (p *Positioner) Root() string {
	return p.root
}

// PositionAll positions the three sources in order and stops at the first
// failure.
func (p *Positioner) PositionAll(ctx context.Context, locs config.SourceLocations) (Resolved, error) {
	var out Resolved
	dirs := []*string{&out.KernelDir, &out.ToolsDir, &out.UtilLibsDir}
	for i, named := range locs.Each() {
		dir, err := p.Position(ctx, named.Name, named.Source)
		if err != nil {
			return Resolved{}, fmt.Errorf("source=%s: %w", named.Name, err)
		}
		*dirs[i] = dir
	}
	return out, nil
}

// Position returns the directory holding src, cloning or checking out as
// needed.
func (p *Positioner) Position(ctx context.Context, name string, src config.RepoSource) (string, error) {
	if err := src.Validate(); err != nil {
		return "", err
	}
	if !src.IsGit() {
		return p.positionPath(src.Path)
	}
	return p.positionGit(ctx, name, *src.Git)
}

func (p *Positioner) positionPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s does not exist", ErrSourceMissing, abs)
	} else if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrSourceMissing, abs)
	}
	return abs, nil
}

// Destination is where a git source named name is checked out.
func (p *Positioner) Destination(name string, src config.GitSource) string {
	hint, ok := nameHints[name]
	if !ok {
		hint = name
	}
	value := strings.NewReplacer("/", "_", string(os.PathSeparator), "_").Replace(src.Target.Value)
	return filepath.Join(p.root, fmt.Sprintf("%s-%s-%s", hint, src.Target.Kind, value))
}

func (p *Positioner) positionGit(ctx context.Context, name string, src config.GitSource) (string, error) {
	dest := p.Destination(name, src)
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return "", err
	}

	empty, err := absentOrEmpty(dest)
	if err != nil {
		return "", err
	}
	if empty {
		if err := p.clone(ctx, src, dest); err != nil {
			return "", err
		}
		return dest, nil
	}

	if _, err := os.Stat(filepath.Join(dest, ".git")); err != nil {
		return "", fmt.Errorf("%w: %s exists but is not a git repository", ErrCheckoutConflict, dest)
	}

	if p.atTarget(ctx, dest, src.Target) {
		p.logger.Debug().Str("source", name).Str("dir", dest).Msg("sources already positioned")
		return dest, nil
	}
	if err := p.checkout(ctx, src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (p *Positioner) clone(ctx context.Context, src config.GitSource, dest string) error {
	switch src.Target.Kind {
	case config.TargetRev:
		if _, err := p.runGit(ctx, "clone", src.URL, dest); err != nil {
			return err
		}
		_, err := p.runGit(ctx, "-C", dest, "reset", "--hard", src.Target.Value)
		return err
	default:
		_, err := p.runGit(ctx, "clone", "--depth=1", "--single-branch", "--branch", src.Target.Value, src.URL, dest)
		return err
	}
}

func (p *Positioner) checkout(ctx context.Context, src config.GitSource, dest string) error {
	target := src.Target
	switch target.Kind {
	case config.TargetBranch:
		if _, err := p.runGit(ctx, "-C", dest, "fetch", "--depth=1", "origin", target.Value); err != nil {
			return err
		}
		_, err := p.runGit(ctx, "-C", dest, "checkout", "-B", target.Value, "FETCH_HEAD")
		return err
	case config.TargetTag:
		if _, err := p.runGit(ctx, "-C", dest, "fetch", "--depth=1", "origin", "tag", target.Value); err != nil {
			return err
		}
		_, err := p.runGit(ctx, "-C", dest, "checkout", "--detach", "refs/tags/"+target.Value)
		return err
	default:
		if _, err := p.runGit(ctx, "-C", dest, "fetch", "origin"); err != nil {
			return err
		}
		_, err := p.runGit(ctx, "-C", dest, "checkout", "--detach", target.Value)
		return err
	}
}

// atTarget reports whether dest already has target checked out. Any probe
// failure counts as "not positioned".
func (p *Positioner) atTarget(ctx context.Context, dest string, target config.GitTarget) bool {
	if target.Kind == config.TargetBranch {
		out, err := p.probe(ctx, "-C", dest, "rev-parse", "--abbrev-ref", "HEAD")
		return err == nil && out == target.Value
	}

	head, err := p.probe(ctx, "-C", dest, "rev-parse", "HEAD")
	if err != nil {
		return false
	}
	ref := target.Value
	if target.Kind == config.TargetTag {
		ref = "refs/tags/" + target.Value
	}
	want, err := p.probe(ctx, "-C", dest, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	return err == nil && want != "" && head == want
}

func (p *Positioner) probe(ctx context.Context, args ...string) (string, error) {
	out, err := tools.RunChecked(ctx, p.runner, tools.Command{Name: "git", Args: args})
	p.metrics.RecordCommand("git", out.ExitCode)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out.Stdout)), nil
}

func (p *Positioner) runGit(ctx context.Context, args ...string) (tools.Output, error) {
	cmd := tools.Command{Name: "git", Args: args, Stderr: p.progress}
	p.logger.Info().Str("cmd", cmd.String()).Msg("sources exec")
	out, err := tools.RunChecked(ctx, p.runner, cmd)
	p.metrics.RecordCommand("git", out.ExitCode)
	if err != nil {
		return out, fmt.Errorf("sources command failed: %w", err)
	}
	return out, nil
}

func absentOrEmpty(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	} else if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%w: %s exists and is not a directory", ErrCheckoutConflict, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
