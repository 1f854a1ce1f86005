package driver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/danmuck/selfectl/internal/resolve"
)

// Properties that name the kernel platform, in lookup order.
var platformProperties = []string{"KernelX86Platform", "KernelARMPlatform", "KernelRiscVPlatform"}

// Preflight rejects configurations that cannot produce a build before any
// process is spawned.
func Preflight(cfg *resolve.Contextualized, mode resolve.Mode) error {
	if _, ok := cfg.Properties["KernelPlatform"]; ok {
		return fmt.Errorf("%w: KernelPlatform is derived by the kernel build, set one of %v instead", ErrForbiddenProperty, platformProperties)
	}
	if mode == resolve.ModeLibrary {
		return nil
	}

	if cfg.Build.RootTask == nil {
		return fmt.Errorf("%w: build.%s.%s", resolve.ErrMissingBuildRecipe, cfg.Context.Platform, cfg.Context.Profile)
	}
	if cfg.BuildDir != "" {
		return fmt.Errorf("%w: %s", ErrPrebuiltBuildDir, cfg.BuildDir)
	}
	if _, ok := cfg.StringProperty("KernelSel4Arch"); !ok {
		return fmt.Errorf("%w: KernelSel4Arch", ErrMissingProperty)
	}
	if _, ok := kernelPlatform(cfg); !ok {
		return fmt.Errorf("%w: one of %v", ErrMissingProperty, platformProperties)
	}
	return nil
}

func kernelPlatform(cfg *resolve.Contextualized) (string, bool) {
	for _, key := range platformProperties {
		if v, ok := cfg.StringProperty(key); ok {
			return v, true
		}
	}
	return "", false
}

// Images returns the bootable images an application build leaves in
// buildDir. x86 boots a separate kernel and root task image; the other
// architectures boot one combined image and root is empty.
func Images(cfg *resolve.Contextualized, buildDir string) (kernel string, root string) {
	sel4Arch, _ := cfg.StringProperty("KernelSel4Arch")
	platform, _ := kernelPlatform(cfg)
	images := filepath.Join(buildDir, "images")
	if cfg.Context.Arch == "x86" {
		return filepath.Join(images, fmt.Sprintf("kernel-%s-%s", sel4Arch, platform)),
			filepath.Join(images, fmt.Sprintf("root_task-image-%s-%s", sel4Arch, platform))
	}
	return filepath.Join(images, fmt.Sprintf("root_task-image-%s-%s", cfg.Context.Arch, platform)), ""
}

// LibraryPath is the static library a library build leaves in buildDir.
func LibraryPath(buildDir string) string {
	return filepath.Join(buildDir, "libsel4", "libsel4.a")
}

// verifyArtifact succeeds only for an existing regular file.
func verifyArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}
