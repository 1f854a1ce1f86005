package envload

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/danmuck/selfectl/internal/resolve"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvConfigPath, EnvPlatform, EnvOverrideArch, EnvOverrideSeL4, EnvProfile} {
		t.Setenv(key, "")
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("[sel4]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLocateWalksUp(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	touch(t, filepath.Join(root, ConfigFileName))
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	path, src, err := Locate(nested, "")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if src != SourceWalk || path != filepath.Join(root, ConfigFileName) {
		t.Fatalf("unexpected result: %s %s", path, src)
	}
}

func TestLocatePrecedence(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	walked := filepath.Join(root, ConfigFileName)
	fromEnv := filepath.Join(root, "env", "sel4.toml")
	explicit := filepath.Join(root, "flag", "sel4.toml")
	touch(t, walked)
	touch(t, fromEnv)
	touch(t, explicit)

	t.Setenv(EnvConfigPath, fromEnv)
	path, src, err := Locate(root, explicit)
	if err != nil || src != SourceFlag || path != explicit {
		t.Fatalf("expected flag path, got %s %s %v", path, src, err)
	}
	path, src, err = Locate(root, "")
	if err != nil || src != SourceEnv || path != fromEnv {
		t.Fatalf("expected env path, got %s %s %v", path, src, err)
	}
}

func TestLocateMissingExplicit(t *testing.T) {
	clearEnv(t)
	_, _, err := Locate(t.TempDir(), filepath.Join(t.TempDir(), "nope.toml"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestLocateNone(t *testing.T) {
	clearEnv(t)
	path, src, err := Locate(t.TempDir(), "")
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	// A sel4.toml above the temp dir would be found; only assert when none was.
	if src == SourceNone && path != "" {
		t.Fatalf("expected empty path, got %q", path)
	}
}

func TestSelectorsArgumentsBeatEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvOverrideSeL4, "x86_64")
	t.Setenv(EnvPlatform, "pc99")
	t.Setenv(EnvProfile, "release")

	ctx, err := Selectors(Args{SeL4Arch: "aarch32", Platform: "sabre"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("selectors: %v", err)
	}
	want := resolve.Context{Arch: "arm", SeL4Arch: "aarch32", Platform: "sabre", Profile: "release"}
	if ctx != want {
		t.Fatalf("unexpected context: %+v", ctx)
	}
}

func TestSelectorsDefaults(t *testing.T) {
	clearEnv(t)
	ctx, err := Selectors(Args{SeL4Arch: "x86_64"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("selectors: %v", err)
	}
	want := resolve.Context{Arch: "x86", SeL4Arch: "x86_64", Platform: "pc99", Profile: "debug"}
	if ctx != want {
		t.Fatalf("unexpected context: %+v", ctx)
	}
}

func TestSelectorsRiscvNeedsPlatform(t *testing.T) {
	clearEnv(t)
	_, err := Selectors(Args{SeL4Arch: "riscv64"}, zerolog.Nop())
	if !errors.Is(err, ErrNoPlatform) {
		t.Fatalf("expected ErrNoPlatform, got %v", err)
	}
	_, err = Selectors(Args{SeL4Arch: "mips"}, zerolog.Nop())
	if !errors.Is(err, ErrNoSeL4Arch) {
		t.Fatalf("expected ErrNoSeL4Arch, got %v", err)
	}
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SEL4_PLATFORM=tx1\nSEL4_PROFILE=release\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(EnvPlatform, "sabre")
	os.Unsetenv(EnvProfile)

	LoadDotEnv(dir)
	if got := os.Getenv(EnvPlatform); got != "sabre" {
		t.Fatalf("existing env overridden: %q", got)
	}
	if got := os.Getenv(EnvProfile); got != "release" {
		t.Fatalf("expected .env value, got %q", got)
	}
}
