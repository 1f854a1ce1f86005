package config

import (
	"github.com/pelletier/go-toml/v2"
)

// MarshalTOML renders the model back into the document format. Parsing the
// output yields an equal model.
func (m *Model) MarshalTOML() ([]byte, error) {
	sel4 := map[string]any{
		"kernel":    m.Sources.Kernel.Document(),
		"tools":     m.Sources.Tools.Document(),
		"util_libs": m.Sources.UtilLibs.Document(),
	}
	if m.BuildDir != "" {
		sel4["build_dir"] = m.BuildDir
	}
	if !m.Config.IsEmpty() {
		sel4["config"] = encodePropertyTables(m.Config)
	}

	doc := map[string]any{"sel4": sel4}
	if len(m.Build) > 0 {
		build := make(map[string]any, len(m.Build))
		for platform, pb := range m.Build {
			build[platform] = encodePlatformBuild(pb)
		}
		doc["build"] = build
	}
	if !m.Metadata.IsEmpty() {
		doc["metadata"] = encodePropertyTables(m.Metadata)
	}
	return toml.Marshal(doc)
}

// MarshalProperties renders one flat property table.
func MarshalProperties(props Properties) ([]byte, error) {
	return toml.Marshal(props.Document())
}

// Document is the source's table form.
func (s RepoSource) Document() map[string]any {
	if s.Git == nil {
		return map[string]any{sourceKeyPath: s.Path}
	}
	out := map[string]any{sourceKeyGit: s.Git.URL}
	out[string(s.Git.Target.Kind)] = s.Git.Target.Value
	return out
}

func encodePropertyTables(tables PropertyTables) map[string]any {
	out := tables.Global.Document()
	for name, props := range tables.Named {
		out[name] = props.Document()
	}
	return out
}

// Document converts the table into plain TOML values.
func (p Properties) Document() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		switch v.Kind {
		case KindInteger:
			out[k] = v.Int
		case KindBoolean:
			out[k] = v.Bool
		default:
			out[k] = v.Str
		}
	}
	return out
}

func encodePlatformBuild(pb PlatformBuild) map[string]any {
	out := map[string]any{}
	if pb.CrossCompilerPrefix != "" {
		out[buildKeyCrossCompiler] = pb.CrossCompilerPrefix
	}
	if pb.ToolchainDir != "" {
		out[buildKeyToolchainDir] = pb.ToolchainDir
	}
	if pb.Debug != nil {
		out[ProfileDebug] = pb.Debug.Document()
	}
	if pb.Release != nil {
		out[ProfileRelease] = pb.Release.Document()
	}
	return out
}

func (r BuildRecipe) Document() map[string]any {
	out := map[string]any{recipeImageKey: r.RootTaskImagePath}
	if r.MakeRootTaskCommand != "" {
		out[recipeCommandKey] = r.MakeRootTaskCommand
	}
	return out
}
