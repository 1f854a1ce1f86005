package config

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	recipeCommandKey      = "make_root_task"
	recipeCommandLongKey  = "make_root_task_command"
	recipeImageKey        = "root_task_image"
	recipeImageLongKey    = "root_task_image_path"
	sourceKeyPath         = "path"
	sourceKeyGit          = "git"
	buildKeyCrossCompiler = "cross_compiler_prefix"
	buildKeyToolchainDir  = "toolchain_dir"
)

var (
	topLevelKeys = []string{"sel4", "build", "metadata"}
	sel4Keys     = []string{"kernel", "tools", "util_libs", "build_dir", "config"}
	sourceKeys   = []string{sourceKeyPath, sourceKeyGit, string(TargetBranch), string(TargetTag), string(TargetRev)}
	buildKeys    = []string{buildKeyCrossCompiler, buildKeyToolchainDir, ProfileDebug, ProfileRelease}
	recipeKeys   = []string{recipeCommandKey, recipeCommandLongKey, recipeImageKey, recipeImageLongKey}
)

// Parse decodes a TOML document and validates it against the schema. The
// first violation is returned as a *SchemaError; no partial model is built.
func Parse(data []byte) (*Model, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, schemaWrap("", err, fmt.Sprintf("toml decode: %v", err))
	}
	return FromDocument(doc)
}

// FromDocument validates an already decoded document tree.
func FromDocument(doc map[string]any) (*Model, error) {
	if err := checkKeys("", doc, topLevelKeys); err != nil {
		return nil, err
	}

	sel4, err := requiredTable(doc, "", "sel4")
	if err != nil {
		return nil, err
	}
	if err := checkKeys("sel4", sel4, sel4Keys); err != nil {
		return nil, err
	}

	model := &Model{Build: map[string]PlatformBuild{}}

	for _, named := range []struct {
		key string
		dst *RepoSource
	}{
		{"kernel", &model.Sources.Kernel},
		{"tools", &model.Sources.Tools},
		{"util_libs", &model.Sources.UtilLibs},
	} {
		table, err := requiredTable(sel4, "sel4", named.key)
		if err != nil {
			return nil, err
		}
		src, err := parseRepoSource(join("sel4", named.key), table)
		if err != nil {
			return nil, err
		}
		*named.dst = src
	}

	if model.BuildDir, err = optionalString(sel4, "sel4", "build_dir"); err != nil {
		return nil, err
	}

	if model.Config, err = optionalPropertyTables(sel4, "sel4", "config"); err != nil {
		return nil, err
	}
	if model.Metadata, err = optionalPropertyTables(doc, "", "metadata"); err != nil {
		return nil, err
	}

	if raw, ok := doc["build"]; ok {
		buildTable, ok := raw.(map[string]any)
		if !ok {
			return nil, typeMismatch("build", "table", raw)
		}
		for _, platform := range sortedKeys(buildTable) {
			loc := join("build", platform)
			platformTable, ok := buildTable[platform].(map[string]any)
			if !ok {
				return nil, typeMismatch(loc, "table", buildTable[platform])
			}
			pb, err := parsePlatformBuild(loc, platformTable)
			if err != nil {
				return nil, err
			}
			model.Build[platform] = pb
		}
	}

	return model, nil
}

func parseRepoSource(loc string, table map[string]any) (RepoSource, error) {
	if err := checkKeys(loc, table, sourceKeys); err != nil {
		return RepoSource{}, err
	}
	path, err := optionalString(table, loc, sourceKeyPath)
	if err != nil {
		return RepoSource{}, err
	}
	url, err := optionalString(table, loc, sourceKeyGit)
	if err != nil {
		return RepoSource{}, err
	}

	switch {
	case path != "" && url != "":
		return RepoSource{}, schemaWrap(loc, ErrAmbiguousSource, "exactly one of `git` or `path` is allowed, both were given")
	case path == "" && url == "":
		return RepoSource{}, schemaWrap(loc, ErrMissingSource, "exactly one of `git` or `path` is required, neither was given")
	}

	var targets []GitTarget
	for _, kind := range []TargetKind{TargetBranch, TargetTag, TargetRev} {
		value, err := optionalString(table, loc, string(kind))
		if err != nil {
			return RepoSource{}, err
		}
		if value != "" {
			targets = append(targets, GitTarget{Kind: kind, Value: value})
		}
	}

	if path != "" {
		if len(targets) > 0 {
			return RepoSource{}, schemaWrap(join(loc, string(targets[0].Kind)), ErrUnknownKey, "a `path` source does not take a git target")
		}
		return PathSource(path), nil
	}

	if len(targets) != 1 {
		return RepoSource{}, schemaErr(loc, fmt.Sprintf("a `git` source needs exactly one of `branch`, `tag`, or `rev`, found %d", len(targets)))
	}
	return GitSourceAt(url, targets[0].Kind, targets[0].Value), nil
}

func parsePlatformBuild(loc string, table map[string]any) (PlatformBuild, error) {
	if err := checkKeys(loc, table, buildKeys); err != nil {
		return PlatformBuild{}, err
	}
	var pb PlatformBuild
	var err error
	if pb.CrossCompilerPrefix, err = optionalString(table, loc, buildKeyCrossCompiler); err != nil {
		return PlatformBuild{}, err
	}
	if pb.ToolchainDir, err = optionalString(table, loc, buildKeyToolchainDir); err != nil {
		return PlatformBuild{}, err
	}
	if pb.Debug, err = parseRecipe(table, loc, ProfileDebug); err != nil {
		return PlatformBuild{}, err
	}
	if pb.Release, err = parseRecipe(table, loc, ProfileRelease); err != nil {
		return PlatformBuild{}, err
	}
	return pb, nil
}

func parseRecipe(parent map[string]any, parentLoc, profile string) (*BuildRecipe, error) {
	raw, ok := parent[profile]
	if !ok {
		return nil, nil
	}
	loc := join(parentLoc, profile)
	table, ok := raw.(map[string]any)
	if !ok {
		return nil, typeMismatch(loc, "table", raw)
	}
	if err := checkKeys(loc, table, recipeKeys); err != nil {
		return nil, err
	}

	command, err := aliasedString(table, loc, recipeCommandKey, recipeCommandLongKey)
	if err != nil {
		return nil, err
	}
	image, err := aliasedString(table, loc, recipeImageKey, recipeImageLongKey)
	if err != nil {
		return nil, err
	}
	if image == "" {
		return nil, schemaErr(join(loc, recipeImageKey), "required string is missing")
	}
	return &BuildRecipe{MakeRootTaskCommand: command, RootTaskImagePath: image}, nil
}

func optionalPropertyTables(parent map[string]any, parentLoc, key string) (PropertyTables, error) {
	tables := PropertyTables{Global: Properties{}, Named: map[string]Properties{}}
	raw, ok := parent[key]
	if !ok {
		return tables, nil
	}
	loc := join(parentLoc, key)
	table, ok := raw.(map[string]any)
	if !ok {
		return PropertyTables{}, typeMismatch(loc, "table", raw)
	}

	for _, name := range sortedKeys(table) {
		entryLoc := join(loc, name)
		switch v := table[name].(type) {
		case map[string]any:
			props, err := scalarTable(entryLoc, v)
			if err != nil {
				return PropertyTables{}, err
			}
			tables.Named[name] = props
		default:
			value, err := scalarValue(entryLoc, v)
			if err != nil {
				return PropertyTables{}, err
			}
			tables.Global[name] = value
		}
	}
	return tables, nil
}

func scalarTable(loc string, table map[string]any) (Properties, error) {
	props := make(Properties, len(table))
	for _, key := range sortedKeys(table) {
		value, err := scalarValue(join(loc, key), table[key])
		if err != nil {
			return nil, err
		}
		props[key] = value
	}
	return props, nil
}

func scalarValue(loc string, raw any) (Value, error) {
	switch v := raw.(type) {
	case string:
		return StringValue(v), nil
	case int64:
		return IntValue(v), nil
	case bool:
		return BoolValue(v), nil
	case map[string]any:
		return Value{}, schemaWrap(loc, ErrNotScalar, "nested tables are not allowed beneath a config table")
	default:
		return Value{}, schemaWrap(loc, ErrNotScalar, fmt.Sprintf("found %s, expected a single string, integer, or boolean", typeName(raw)))
	}
}

func requiredTable(parent map[string]any, parentLoc, key string) (map[string]any, error) {
	loc := join(parentLoc, key)
	raw, ok := parent[key]
	if !ok {
		return nil, schemaErr(loc, "required table is missing")
	}
	table, ok := raw.(map[string]any)
	if !ok {
		return nil, typeMismatch(loc, "table", raw)
	}
	return table, nil
}

func optionalString(table map[string]any, parentLoc, key string) (string, error) {
	raw, ok := table[key]
	if !ok {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", typeMismatch(join(parentLoc, key), "string", raw)
	}
	if strings.TrimSpace(s) == "" {
		return "", schemaErr(join(parentLoc, key), "string must not be empty")
	}
	return s, nil
}

func aliasedString(table map[string]any, loc, short, long string) (string, error) {
	_, hasShort := table[short]
	_, hasLong := table[long]
	if hasShort && hasLong {
		return "", schemaWrap(join(loc, long), ErrDuplicateKey, fmt.Sprintf("`%s` and `%s` name the same setting", short, long))
	}
	if hasLong {
		return optionalString(table, loc, long)
	}
	return optionalString(table, loc, short)
}

func checkKeys(loc string, table map[string]any, allowed []string) error {
	for _, key := range sortedKeys(table) {
		if !slices.Contains(allowed, key) {
			return schemaWrap(join(loc, key), ErrUnknownKey, fmt.Sprintf("unsupported key, expected one of %s", strings.Join(allowed, ", ")))
		}
	}
	return nil
}

func typeMismatch(loc, expected string, found any) error {
	return schemaErr(loc, fmt.Sprintf("found %s, expected %s", typeName(found), expected))
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case int64:
		return "integer"
	case float64:
		return "float"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "table"
	default:
		return "datetime"
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func join(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
