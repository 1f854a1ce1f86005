package driver

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danmuck/selfectl/internal/config"
	"github.com/danmuck/selfectl/internal/resolve"
	"github.com/danmuck/selfectl/internal/sources"
)

//go:embed CMakeLists_kernel.txt
var cmakeListsKernel string

//go:embed CMakeLists_lib.txt
var cmakeListsLib string

func cmakeLists(mode resolve.Mode) string {
	if mode == resolve.ModeApplication {
		return cmakeListsKernel
	}
	return cmakeListsLib
}

// CMakeOptions translates cfg into cmake -D arguments, sorted by name.
// Every property becomes one cache variable of the same name; booleans are
// ON/OFF, everything else a string.
func CMakeOptions(cfg *resolve.Contextualized, mode resolve.Mode, dirs sources.Resolved) []string {
	opts := map[string]string{
		"CMAKE_TOOLCHAIN_FILE:FILEPATH": filepath.Join(dirs.KernelDir, "gcc.cmake"),
		"KERNEL_PATH:PATH":              dirs.KernelDir,
	}
	if prefix := cfg.Build.CrossCompilerPrefix; prefix != "" {
		opts["CROSS_COMPILER_PREFIX:STRING"] = prefix
	}
	if triple := resolve.TargetTriple(cfg.Context.SeL4Arch); triple != "" {
		opts["TRIPLE:STRING"] = triple
	}
	if mode == resolve.ModeLibrary {
		opts["LibSel4FunctionAttributes:STRING"] = "public"
	}

	names := map[string]string{}
	for key := range opts {
		name, _, _ := strings.Cut(key, ":")
		names[name] = key
	}
	for _, k := range cfg.Properties.Keys() {
		v := cfg.Properties[k]
		if prev, ok := names[k]; ok {
			delete(opts, prev)
		}
		opts[k+":"+cacheType(v)] = cacheValue(v)
	}

	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, "-D"+k+"="+opts[k])
	}
	return args
}

func cacheType(v config.Value) string {
	if v.Kind == config.KindBoolean {
		return "BOOL"
	}
	return "STRING"
}

func cacheValue(v config.Value) string {
	if v.Kind == config.KindBoolean {
		if v.Bool {
			return "ON"
		}
		return "OFF"
	}
	return v.String()
}

// BuildDirName digests everything that shapes the configured tree, so
// distinct contexts never share a build directory.
func BuildDirName(cfg *resolve.Contextualized, mode resolve.Mode, cmakeArgs []string) string {
	h := sha256.New()
	h.Write([]byte(cfg.Fingerprint()))
	h.Write([]byte{0})
	h.Write([]byte(mode.String()))
	h.Write([]byte{0})
	for _, arg := range cmakeArgs {
		h.Write([]byte(arg))
		h.Write([]byte{0})
	}
	h.Write([]byte(cmakeLists(mode)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
