package resolve

import (
	"github.com/pelletier/go-toml/v2"
)

// MarshalTOML renders the resolved configuration for inspection.
func (c *Contextualized) MarshalTOML() ([]byte, error) {
	sel4 := map[string]any{
		"kernel":    c.Sources.Kernel.Document(),
		"tools":     c.Sources.Tools.Document(),
		"util_libs": c.Sources.UtilLibs.Document(),
		"config":    c.Properties.Document(),
	}
	if c.BuildDir != "" {
		sel4["build_dir"] = c.BuildDir
	}

	build := map[string]any{}
	if c.Build.CrossCompilerPrefix != "" {
		build["cross_compiler_prefix"] = c.Build.CrossCompilerPrefix
	}
	if c.Build.ToolchainDir != "" {
		build["toolchain_dir"] = c.Build.ToolchainDir
	}
	if c.Build.RootTask != nil {
		build["root_task"] = c.Build.RootTask.Document()
	}

	doc := map[string]any{
		"context": map[string]any{
			"arch":      c.Context.Arch,
			"sel4_arch": c.Context.SeL4Arch,
			"platform":  c.Context.Platform,
			"profile":   c.Context.Profile,
		},
		"fingerprint": c.Fingerprint(),
		"sel4":        sel4,
		"build":       build,
		"metadata":    c.Metadata.Document(),
	}
	return toml.Marshal(doc)
}
