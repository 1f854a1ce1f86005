package driver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/selfectl/internal/resolve"
)

var (
	ErrForbiddenProperty = errors.New("driver: forbidden property")
	ErrMissingProperty   = errors.New("driver: missing property")
	ErrPrebuiltBuildDir  = errors.New("driver: prebuilt build_dir not usable for application builds")
)

type FailureReason string

const (
	ReasonExitStatus      FailureReason = "exit_status"
	ReasonArtifactMissing FailureReason = "artifact_missing"
	ReasonIO              FailureReason = "io"
)

// StageFailure is a terminal failure of one stage. Later stages did not run
// and nothing was rolled back.
type StageFailure struct {
	Stage    Stage
	Reason   FailureReason
	ExitCode int32
	Stderr   string
	Artifact string
	Context  resolve.Context
	Err      error
}

func (e *StageFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "driver: stage %s failed (%s) for %s", e.Stage, e.Reason, e.Context)
	switch e.Reason {
	case ReasonExitStatus:
		fmt.Fprintf(&b, " exit=%d", e.ExitCode)
	case ReasonArtifactMissing:
		fmt.Fprintf(&b, " artifact=%s", e.Artifact)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *StageFailure) Unwrap() error {
	return e.Err
}
