package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// ValueKind identifies which scalar a Value carries.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInteger
	KindBoolean
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// Value is one scalar property value: a string, an integer, or a boolean.
type Value struct {
	Kind ValueKind
	Str  string
	Int  int64
	Bool bool
}

func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func IntValue(i int64) Value     { return Value{Kind: KindInteger, Int: i} }
func BoolValue(b bool) Value     { return Value{Kind: KindBoolean, Bool: b} }

// String renders the value the way it is handed to external tools.
func (v Value) String() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

// Properties is one flat table of scalar properties.
type Properties map[string]Value

// Keys returns property names in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// PropertyTables holds the unnamed global table plus every named table of
// one property tree. Names are not classified here: a table becomes an arch,
// platform, or profile table only when a context addresses it.
type PropertyTables struct {
	Global Properties
	Named  map[string]Properties
}

// Table returns the named table, if declared.
func (t PropertyTables) Table(name string) (Properties, bool) {
	props, ok := t.Named[name]
	return props, ok
}

// Names returns declared table names in sorted order.
func (t PropertyTables) Names() []string {
	names := make([]string, 0, len(t.Named))
	for name := range t.Named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t PropertyTables) IsEmpty() bool {
	return len(t.Global) == 0 && len(t.Named) == 0
}

type TargetKind string

const (
	TargetBranch TargetKind = "branch"
	TargetTag    TargetKind = "tag"
	TargetRev    TargetKind = "rev"
)

// GitTarget is the revision a git source must be positioned at.
type GitTarget struct {
	Kind  TargetKind
	Value string
}

type GitSource struct {
	URL    string
	Target GitTarget
}

// RepoSource is exactly one of a local path or a git checkout.
type RepoSource struct {
	Path string
	Git  *GitSource
}

func PathSource(path string) RepoSource {
	return RepoSource{Path: path}
}

func GitSourceAt(url string, kind TargetKind, value string) RepoSource {
	return RepoSource{Git: &GitSource{URL: url, Target: GitTarget{Kind: kind, Value: value}}}
}

// Validate reports ErrAmbiguousSource when both forms are set and
// ErrMissingSource when neither is.
func (s RepoSource) Validate() error {
	hasPath := s.Path != ""
	hasGit := s.Git != nil
	switch {
	case hasPath && hasGit:
		return ErrAmbiguousSource
	case !hasPath && !hasGit:
		return ErrMissingSource
	}
	return nil
}

func (s RepoSource) IsGit() bool {
	return s.Git != nil
}

// RelativeTo evaluates a relative local path against base. Git sources and
// absolute paths are returned unchanged.
func (s RepoSource) RelativeTo(base string) RepoSource {
	out := s
	if s.Git != nil {
		git := *s.Git
		out.Git = &git
	}
	out.Path = RelativeTo(s.Path, base)
	return out
}

func (s RepoSource) String() string {
	if s.Git != nil {
		return fmt.Sprintf("git %s %s=%s", s.Git.URL, s.Git.Target.Kind, s.Git.Target.Value)
	}
	return "path " + s.Path
}

// SourceLocations names the three source trees a build needs.
type SourceLocations struct {
	Kernel   RepoSource
	Tools    RepoSource
	UtilLibs RepoSource
}

// NamedSource pairs a source with its document key.
type NamedSource struct {
	Name   string
	Source RepoSource
}

// Each returns the sources in positioning order.
func (s SourceLocations) Each() []NamedSource {
	return []NamedSource{
		{Name: "kernel", Source: s.Kernel},
		{Name: "tools", Source: s.Tools},
		{Name: "util_libs", Source: s.UtilLibs},
	}
}

func (s SourceLocations) RelativeTo(base string) SourceLocations {
	return SourceLocations{
		Kernel:   s.Kernel.RelativeTo(base),
		Tools:    s.Tools.RelativeTo(base),
		UtilLibs: s.UtilLibs.RelativeTo(base),
	}
}

// BuildRecipe describes how the root task image for one platform/profile is
// produced. The command is optional; the image path is not.
type BuildRecipe struct {
	MakeRootTaskCommand string
	RootTaskImagePath   string
}

type PlatformBuild struct {
	CrossCompilerPrefix string
	ToolchainDir        string
	Debug               *BuildRecipe
	Release             *BuildRecipe
}

// Recipe returns the recipe declared for profile, or nil.
func (b PlatformBuild) Recipe(profile string) *BuildRecipe {
	switch profile {
	case ProfileDebug:
		return b.Debug
	case ProfileRelease:
		return b.Release
	default:
		return nil
	}
}

const (
	ProfileDebug   = "debug"
	ProfileRelease = "release"
)

// Model is the complete document covering every context it declares. It is
// read-only once constructed.
type Model struct {
	Sources  SourceLocations
	BuildDir string
	Config   PropertyTables
	Metadata PropertyTables
	Build    map[string]PlatformBuild
}

// Platforms returns the platforms with a [build.<platform>] table, sorted.
func (m *Model) Platforms() []string {
	out := make([]string, 0, len(m.Build))
	for name := range m.Build {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Load reads and validates the document at path.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	model, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return model, nil
}

// RelativeTo evaluates a relative path against base, leaving absolute and
// empty paths alone.
func RelativeTo(path, base string) string {
	if path == "" || base == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
