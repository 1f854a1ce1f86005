// Package simulate boots a built image under qemu.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/selfectl/internal/config"
	"github.com/danmuck/selfectl/internal/resolve"
	"github.com/danmuck/selfectl/internal/tools"
)

var (
	ErrUnsupportedArch = errors.New("simulate: no qemu binary for kernel arch")
	ErrMissingArch     = errors.New("simulate: KernelArch property required")
	ErrFailed          = errors.New("simulate: qemu failed")
)

// x86 feature properties and the qemu cpu flag each toggles.
var cpuToggles = []struct {
	property string
	flag     string
}{
	{"KernelVTX", "vme"},
	{"KernelHugePage", "pdpe1gb"},
	{"KernelFPUXSave", "xsave"},
	{"KernelXSaveXSaveOpt", "xsaveopt"},
	{"KernelXSaveXSaveC", "xsavec"},
	{"KernelFSGSBaseInst", "fsgsbase"},
	{"KernelSupportPCID", "invpcid"},
}

// Binary picks the qemu system emulator for the resolved KernelArch.
func Binary(cfg *resolve.Contextualized) (string, error) {
	v, ok := cfg.Property("KernelArch")
	if !ok {
		return "", ErrMissingArch
	}
	if v.Kind != config.KindString {
		return "", fmt.Errorf("%w: KernelArch must be a string, found %s", ErrMissingArch, v.Kind)
	}
	switch v.Str {
	case "x86", "x86_64":
		return "qemu-system-x86_64", nil
	case "arm", "aarch32":
		return "qemu-system-arm", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedArch, v.Str)
	}
}

// CPUFlags derives the -cpu argument from x86 feature properties. An absent
// property disables its flag; a non-boolean value enables it.
func CPUFlags(cfg *resolve.Contextualized) string {
	var flags []string
	if v, ok := cfg.Property("KernelX86MicroArch"); ok && v.Kind == config.KindString && strings.EqualFold(v.Str, "nehalem") {
		flags = append(flags, "Nehalem")
	}
	for _, toggle := range cpuToggles {
		sign := "-"
		if v, ok := cfg.Property(toggle.property); ok && (v.Kind != config.KindBoolean || v.Bool) {
			sign = "+"
		}
		flags = append(flags, sign+toggle.flag)
	}
	return strings.Join(flags, ",")
}

// Command builds the qemu invocation for the given images. rootImage may be
// empty when the kernel image already contains the root task.
func Command(cfg *resolve.Contextualized, kernelImage, rootImage string) (tools.Command, error) {
	binary, err := Binary(cfg)
	if err != nil {
		return tools.Command{}, err
	}
	args := []string{"-kernel", kernelImage}
	if rootImage != "" {
		args = append(args, "-initrd", rootImage)
	}
	args = append(args,
		"-nographic",
		"-serial", "mon:stdio",
		"-m", "size=1024M",
		"-cpu", CPUFlags(cfg),
	)
	return tools.Command{Name: binary, Args: args}, nil
}

// Run executes cmd with its output streamed to stdout and stderr.
func Run(ctx context.Context, runner tools.CommandRunner, cmd tools.Command, stdout, stderr io.Writer) error {
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if _, err := tools.RunChecked(ctx, runner, cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrFailed, err)
	}
	return nil
}
