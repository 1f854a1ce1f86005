// Package envload reads the selector environment and finds the
// configuration document.
package envload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/danmuck/selfectl/internal/resolve"
)

const (
	EnvConfigPath   = "SEL4_CONFIG_PATH"
	EnvPlatform     = "SEL4_PLATFORM"
	EnvOverrideArch = "SEL4_OVERRIDE_ARCH"
	EnvOverrideSeL4 = "SEL4_OVERRIDE_SEL4_ARCH"
	EnvProfile      = "SEL4_PROFILE"
	ConfigFileName  = "sel4.toml"
	defaultProfile  = "debug"
	dotEnvFileName  = ".env"
)

var (
	ErrConfigNotFound = errors.New("envload: config document not found")
	ErrNoSeL4Arch     = errors.New("envload: no sel4 arch selected")
	ErrNoPlatform     = errors.New("envload: no platform selected")
)

// LoadDotEnv loads .env from dir when present. Variables already in the
// environment are kept.
func LoadDotEnv(dir string) {
	_ = godotenv.Load(filepath.Join(dir, dotEnvFileName))
}

// Source records where a config path came from.
type Source string

const (
	SourceFlag Source = "flag"
	SourceEnv  Source = "env"
	SourceWalk Source = "walk"
	SourceNone Source = "none"
)

// Locate picks the configuration document: the explicit path, then
// SEL4_CONFIG_PATH, then the nearest sel4.toml at or above start. SourceNone
// with an empty path means the caller should use the embedded default.
func Locate(start, explicit string) (string, Source, error) {
	if explicit != "" {
		path, err := existingFile(explicit)
		return path, SourceFlag, err
	}
	if v := strings.TrimSpace(os.Getenv(EnvConfigPath)); v != "" {
		path, err := existingFile(v)
		return path, SourceEnv, err
	}
	if path, ok := walkUp(start); ok {
		return path, SourceWalk, nil
	}
	return "", SourceNone, nil
}

func existingFile(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrConfigNotFound, abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrConfigNotFound, abs)
	}
	return abs, nil
}

func walkUp(start string) (string, bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Args are selectors given on the command line. Empty fields fall back to the
// environment.
type Args struct {
	Arch     string
	SeL4Arch string
	Platform string
	Profile  string
}

// Selectors builds the resolution context. Arguments beat the environment;
// a missing arch is derived from the sel4 arch, a missing sel4 arch from the
// host, and a missing platform from the arch default.
func Selectors(args Args, logger zerolog.Logger) (resolve.Context, error) {
	ctx := resolve.Context{
		SeL4Arch: pick(args.SeL4Arch, EnvOverrideSeL4),
		Arch:     pick(args.Arch, EnvOverrideArch),
		Platform: pick(args.Platform, EnvPlatform),
		Profile:  pick(args.Profile, EnvProfile),
	}

	if ctx.SeL4Arch == "" {
		ctx.SeL4Arch = resolve.SeL4ArchForGOARCH(runtime.GOARCH)
		if ctx.SeL4Arch == "" {
			return resolve.Context{}, fmt.Errorf("%w: host %s has no default", ErrNoSeL4Arch, runtime.GOARCH)
		}
		logger.Warn().Str("sel4_arch", ctx.SeL4Arch).Msg("sel4 arch not set, using host architecture")
	}
	if ctx.Arch == "" {
		arch, ok := resolve.ArchForSeL4Arch(ctx.SeL4Arch)
		if !ok {
			return resolve.Context{}, fmt.Errorf("%w: unknown sel4 arch %q", ErrNoSeL4Arch, ctx.SeL4Arch)
		}
		ctx.Arch = arch
	}
	if ctx.Platform == "" {
		platform, ok := resolve.DefaultPlatform(ctx.Arch)
		if !ok {
			return resolve.Context{}, fmt.Errorf("%w: arch %s has no default platform", ErrNoPlatform, ctx.Arch)
		}
		logger.Warn().Str("platform", platform).Str("arch", ctx.Arch).Msg("platform not set, using arch default")
		ctx.Platform = platform
	}
	if ctx.Profile == "" {
		ctx.Profile = defaultProfile
	}
	return ctx, nil
}

func pick(arg, env string) string {
	if v := strings.TrimSpace(arg); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(env))
}
