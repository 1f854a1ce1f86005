// Package flags projects resolved boolean properties into compile-time
// feature flags.
package flags

import (
	"bufio"
	"io"
	"sort"
	"strings"

	"github.com/danmuck/selfectl/internal/config"
	"github.com/danmuck/selfectl/internal/resolve"
)

type Flag struct {
	Name    string
	Enabled bool
}

// String renders the flag as Name=on or Name=off.
func (f Flag) String() string {
	if f.Enabled {
		return f.Name + "=on"
	}
	return f.Name + "=off"
}

// Emit selects the boolean properties of cfg, sorted by name. Equal inputs
// always produce equal output.
func Emit(cfg *resolve.Contextualized) []Flag {
	out := make([]Flag, 0, len(cfg.Properties))
	for name, v := range cfg.Properties {
		if v.Kind != config.KindBoolean {
			continue
		}
		out = append(out, Flag{Name: name, Enabled: v.Bool})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuildTags joins the enabled flag names for `go build -tags`.
func BuildTags(flags []Flag) string {
	names := make([]string, 0, len(flags))
	for _, f := range flags {
		if f.Enabled {
			names = append(names, f.Name)
		}
	}
	return strings.Join(names, ",")
}

// Defines renders every flag as a C preprocessor define.
func Defines(flags []Flag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		v := "0"
		if f.Enabled {
			v = "1"
		}
		out = append(out, "-D"+f.Name+"="+v)
	}
	return out
}

// Write prints one flag per line.
func Write(w io.Writer, flags []Flag) error {
	bw := bufio.NewWriter(w)
	for _, f := range flags {
		if _, err := bw.WriteString(f.String() + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
