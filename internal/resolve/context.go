package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Closed vocabularies. Platform names stay open and project-defined.
var (
	Arches     = []string{"arm", "x86", "riscv"}
	SeL4Arches = []string{"aarch32", "aarch64", "arm_hyp", "ia32", "x86_64", "riscv32", "riscv64"}
	Profiles   = []string{"debug", "release"}
)

var contextValidate = validator.New()

// Context selects which named tables apply to one resolution.
type Context struct {
	Arch     string `validate:"required,oneof=arm x86 riscv"`
	SeL4Arch string `validate:"required,oneof=aarch32 aarch64 arm_hyp ia32 x86_64 riscv32 riscv64"`
	Platform string `validate:"required,excludesall=/"`
	Profile  string `validate:"required,oneof=debug release"`
}

func (c Context) String() string {
	return fmt.Sprintf("(%s, %s, %s, %s)", c.Arch, c.SeL4Arch, c.Platform, c.Profile)
}

func (c Context) IsDebug() bool {
	return c.Profile == "debug"
}

// Validate checks every field against its vocabulary and the arch against the
// family of the sel4 arch.
func (c Context) Validate() error {
	if err := contextValidate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return describeFieldError(fieldErrs[0])
		}
		return err
	}
	if want, _ := ArchForSeL4Arch(c.SeL4Arch); want != c.Arch {
		return fmt.Errorf("sel4_arch %q belongs to arch %q, not %q", c.SeL4Arch, want, c.Arch)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) error {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "oneof":
		return fmt.Errorf("%s %q is not one of: %s", field, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Errorf("%s %q is invalid", field, fe.Value())
	}
}

// ArchForSeL4Arch maps a kernel architecture to its arch family.
func ArchForSeL4Arch(sel4Arch string) (string, bool) {
	switch sel4Arch {
	case "aarch32", "aarch64", "arm_hyp":
		return "arm", true
	case "ia32", "x86_64":
		return "x86", true
	case "riscv32", "riscv64":
		return "riscv", true
	default:
		return "", false
	}
}

// DefaultPlatform is the platform assumed when none is selected. riscv has no
// default.
func DefaultPlatform(arch string) (string, bool) {
	switch arch {
	case "arm":
		return "sabre", true
	case "x86":
		return "pc99", true
	default:
		return "", false
	}
}

// SeL4ArchForGOARCH maps a Go architecture name to the matching kernel
// architecture, or "" when there is none.
func SeL4ArchForGOARCH(goarch string) string {
	switch goarch {
	case "arm":
		return "aarch32"
	case "arm64":
		return "aarch64"
	case "386":
		return "ia32"
	case "amd64":
		return "x86_64"
	case "riscv64":
		return "riscv64"
	default:
		return ""
	}
}

// TargetTriple is the compiler triple handed to the kernel build.
func TargetTriple(sel4Arch string) string {
	switch sel4Arch {
	case "aarch32", "arm_hyp":
		return "arm-linux-gnueabihf"
	case "aarch64":
		return "aarch64-linux-gnu"
	case "ia32":
		return "i686-linux-gnu"
	case "x86_64":
		return "x86_64-linux-gnu"
	case "riscv32":
		return "riscv32-unknown-elf"
	case "riscv64":
		return "riscv64-unknown-elf"
	default:
		return ""
	}
}
