package resolve

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/danmuck/selfectl/internal/config"
)

type Mode int

const (
	ModeLibrary Mode = iota
	ModeApplication
)

func (m Mode) String() string {
	if m == ModeApplication {
		return "application"
	}
	return "library"
}

type Options struct {
	Mode Mode
	// Property names that must be present after the merge.
	Required []string
	// Directory relative paths in the document are evaluated against.
	BaseDir string
}

// BuildSettings is the [build.<platform>] data selected for one context.
type BuildSettings struct {
	CrossCompilerPrefix string
	ToolchainDir        string
	RootTask            *config.BuildRecipe
}

// Contextualized is the flat configuration for one context. It is rebuilt per
// query and never mutated in place.
type Contextualized struct {
	Context    Context
	BaseDir    string
	Sources    config.SourceLocations
	BuildDir   string
	Properties config.Properties
	Metadata   config.Properties
	Build      BuildSettings
}

// Resolve merges the model's tables for ctx. Later layers win on key
// collision: global, arch, sel4 arch, platform, profile. A layer with no
// declared table is skipped. On error no partial result is returned.
func Resolve(model *config.Model, ctx Context, opts Options) (*Contextualized, error) {
	if err := ctx.Validate(); err != nil {
		return nil, &ResolutionError{Kind: InvalidContext, Context: ctx, Reason: err.Error()}
	}
	if err := checkPlatformName(model, ctx); err != nil {
		return nil, err
	}

	sources, err := resolveSources(model.Sources, ctx)
	if err != nil {
		return nil, err
	}

	out := &Contextualized{
		Context:    ctx,
		BaseDir:    opts.BaseDir,
		Sources:    sources.RelativeTo(opts.BaseDir),
		BuildDir:   config.RelativeTo(model.BuildDir, opts.BaseDir),
		Properties: merge(model.Config, ctx),
		Metadata:   merge(model.Metadata, ctx),
	}

	if pb, ok := model.Build[ctx.Platform]; ok {
		out.Build.CrossCompilerPrefix = pb.CrossCompilerPrefix
		out.Build.ToolchainDir = config.RelativeTo(pb.ToolchainDir, opts.BaseDir)
		if recipe := pb.Recipe(ctx.Profile); recipe != nil {
			out.Build.RootTask = &config.BuildRecipe{
				MakeRootTaskCommand: recipe.MakeRootTaskCommand,
				RootTaskImagePath:   config.RelativeTo(recipe.RootTaskImagePath, opts.BaseDir),
			}
		}
	}
	if opts.Mode == ModeApplication && out.Build.RootTask == nil {
		return nil, &ResolutionError{
			Kind:    MissingBuildRecipe,
			Context: ctx,
			Table:   fmt.Sprintf("build.%s.%s", ctx.Platform, ctx.Profile),
			Reason:  "application builds need a root task recipe",
			Err:     ErrMissingBuildRecipe,
		}
	}

	if key, ok := CheckRequired(out.Properties, opts.Required); !ok {
		return nil, &ResolutionError{
			Kind:    IncompleteRequiredProperty,
			Context: ctx,
			Key:     key,
			Reason:  "required property not set by any applicable table",
		}
	}
	return out, nil
}

// Layers returns the table names consulted for ctx, lowest precedence first.
func Layers(ctx Context) []string {
	return []string{ctx.Arch, ctx.SeL4Arch, ctx.Platform, ctx.Profile}
}

func merge(tables config.PropertyTables, ctx Context) config.Properties {
	out := tables.Global.Clone()
	for _, name := range Layers(ctx) {
		props, ok := tables.Table(name)
		if !ok {
			continue
		}
		for k, v := range props {
			out[k] = v
		}
	}
	return out
}

func checkPlatformName(model *config.Model, ctx Context) error {
	_, inConfig := model.Config.Table(ctx.Platform)
	_, inMetadata := model.Metadata.Table(ctx.Platform)
	if !inConfig && !inMetadata {
		return nil
	}
	var category string
	switch {
	case slices.Contains(Arches, ctx.Platform):
		category = "arch"
	case slices.Contains(SeL4Arches, ctx.Platform):
		category = "sel4_arch"
	case slices.Contains(Profiles, ctx.Platform):
		category = "profile"
	default:
		return nil
	}
	return &ResolutionError{
		Kind:    AmbiguousTableName,
		Context: ctx,
		Table:   ctx.Platform,
		Reason:  fmt.Sprintf("table name is both the requested platform and a known %s name", category),
	}
}

func resolveSources(src config.SourceLocations, ctx Context) (config.SourceLocations, error) {
	for _, named := range src.Each() {
		err := named.Source.Validate()
		if err == nil {
			continue
		}
		kind := MissingSource
		if errors.Is(err, config.ErrAmbiguousSource) {
			kind = AmbiguousSource
		}
		return config.SourceLocations{}, &ResolutionError{
			Kind:    kind,
			Context: ctx,
			Table:   "sel4." + named.Name,
			Reason:  err.Error(),
			Err:     err,
		}
	}
	return src, nil
}

// CheckRequired reports the first key of required missing from props.
func CheckRequired(props config.Properties, required []string) (string, bool) {
	for _, key := range required {
		if _, ok := props[key]; !ok {
			return key, false
		}
	}
	return "", true
}

// Property looks up one resolved value.
func (c *Contextualized) Property(key string) (config.Value, bool) {
	v, ok := c.Properties[key]
	return v, ok
}

// StringProperty returns a property's textual form when it is set.
func (c *Contextualized) StringProperty(key string) (string, bool) {
	v, ok := c.Properties[key]
	if !ok {
		return "", false
	}
	return v.String(), true
}

// Enabled reports whether key is a boolean property set to true.
func (c *Contextualized) Enabled(key string) bool {
	v, ok := c.Properties[key]
	return ok && v.Kind == config.KindBoolean && v.Bool
}

// Fingerprint is a stable digest of everything the resolution produced.
func (c *Contextualized) Fingerprint() string {
	h := sha256.New()
	c.writeCanonical(h)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Contextualized) writeCanonical(w io.Writer) {
	fmt.Fprintf(w, "context %s\n", c.Context)
	for _, named := range c.Sources.Each() {
		fmt.Fprintf(w, "source %s %s\n", named.Name, named.Source)
	}
	fmt.Fprintf(w, "build_dir %s\n", c.BuildDir)
	fmt.Fprintf(w, "cross_compiler_prefix %s\n", c.Build.CrossCompilerPrefix)
	fmt.Fprintf(w, "toolchain_dir %s\n", c.Build.ToolchainDir)
	if rt := c.Build.RootTask; rt != nil {
		fmt.Fprintf(w, "root_task %q %s\n", rt.MakeRootTaskCommand, rt.RootTaskImagePath)
	}
	for _, k := range c.Properties.Keys() {
		v := c.Properties[k]
		fmt.Fprintf(w, "property %s:%s=%s\n", k, v.Kind, v)
	}
	for _, k := range c.Metadata.Keys() {
		v := c.Metadata[k]
		fmt.Fprintf(w, "metadata %s:%s=%s\n", k, v.Kind, v)
	}
}
