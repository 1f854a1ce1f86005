package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const settingsFileName = "selfectl.toml"

// settings tune the tool itself. The build configuration lives in sel4.toml.
type settings struct {
	OutDir             string
	Jobs               int
	MetricsFile        string
	LogLevel           string
	RequiredProperties []string
}

type settingsFile struct {
	OutDir             string   `toml:"out_dir"`
	Jobs               int      `toml:"jobs"`
	MetricsFile        string   `toml:"metrics_file"`
	LogLevel           string   `toml:"log_level"`
	RequiredProperties []string `toml:"required_properties"`
}

// settingsPath picks the explicit path or selfectl.toml beside the config
// document. An empty result means no settings file applies.
func settingsPath(explicit, baseDir string) string {
	if explicit != "" {
		return explicit
	}
	candidate := filepath.Join(baseDir, settingsFileName)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return ""
}

func loadSettings(path string) (settings, error) {
	var cfg settings
	if path == "" {
		return cfg, nil
	}

	var raw settingsFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return settings{}, fmt.Errorf("load settings: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return settings{}, fmt.Errorf("load settings: unknown key %s", undecoded[0])
	}

	base := filepath.Dir(path)
	if meta.IsDefined("out_dir") {
		dir := strings.TrimSpace(raw.OutDir)
		if dir == "" {
			return settings{}, fmt.Errorf("parse out_dir: must not be empty")
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(base, dir)
		}
		cfg.OutDir = dir
	}

	if meta.IsDefined("jobs") {
		if raw.Jobs < 0 {
			return settings{}, fmt.Errorf("parse jobs: must be >= 0, got %d", raw.Jobs)
		}
		cfg.Jobs = raw.Jobs
	}

	if meta.IsDefined("metrics_file") {
		file := strings.TrimSpace(raw.MetricsFile)
		if file != "" && !filepath.IsAbs(file) {
			file = filepath.Join(base, file)
		}
		cfg.MetricsFile = file
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("required_properties") {
		cfg.RequiredProperties = normalizeNames(raw.RequiredProperties)
	}

	return cfg, nil
}

func normalizeNames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, name := range in {
		v := strings.TrimSpace(name)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
