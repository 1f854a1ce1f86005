package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed default_config.toml
var defaultDocument string

// DefaultDocument returns the embedded default document text.
func DefaultDocument() string {
	return defaultDocument
}

// Default parses the embedded default document. Callers that have no
// document of their own pass the result explicitly.
func Default() (*Model, error) {
	model, err := Parse([]byte(defaultDocument))
	if err != nil {
		return nil, fmt.Errorf("embedded default config invalid: %w", err)
	}
	return model, nil
}

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "default":
		return defaultDocument, nil
	case "local":
		return localTemplate, nil
	default:
		return "", fmt.Errorf("unknown template kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrTemplateExists, path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o644)
}

const localTemplate = `[sel4]
kernel = { path = "./deps/seL4" }
tools = { path = "./deps/seL4_tools" }
util_libs = { path = "./deps/util_libs" }

[sel4.config]
KernelRetypeFanOutLimit = 256

[sel4.config.arm]
KernelArch = "arm"

[sel4.config.aarch32]
KernelSel4Arch = "aarch32"
KernelArmSel4Arch = "aarch32"

[sel4.config.sabre]
KernelARMPlatform = "sabre"

[sel4.config.debug]
KernelDebugBuild = true
KernelPrinting = true

[sel4.config.release]
KernelDebugBuild = false
KernelPrinting = false

[build.sabre]
cross_compiler_prefix = "arm-linux-gnueabihf-"

[build.sabre.debug]
make_root_task = "cargo xbuild --target=armv7-unknown-linux-gnueabihf"
root_task_image = "target/armv7-unknown-linux-gnueabihf/debug/example"

[build.sabre.release]
make_root_task = "cargo xbuild --target=armv7-unknown-linux-gnueabihf --release"
root_task_image = "target/armv7-unknown-linux-gnueabihf/release/example"
`
