package main

import (
	"errors"
	"io/fs"

	"github.com/danmuck/selfectl/internal/config"
	"github.com/danmuck/selfectl/internal/driver"
	"github.com/danmuck/selfectl/internal/envload"
	"github.com/danmuck/selfectl/internal/resolve"
	"github.com/danmuck/selfectl/internal/simulate"
)

const (
	exitOK                = 0
	exitFailure           = 1
	exitUsage             = 2
	exitSchema            = 3
	exitResolution        = 4
	exitMissingRecipe     = 5
	exitIO                = 6
	exitStageBase         = 10
	exitSimulationFailure = 20
)

// exitError carries an explicit exit code up to main.
type exitError struct {
	Code int
	Err  error
}

func (e *exitError) Error() string {
	return e.Err.Error()
}

func (e *exitError) Unwrap() error {
	return e.Err
}

func usageError(err error) error {
	return &exitError{Code: exitUsage, Err: err}
}

// exitCode maps an error chain to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var stageErr *driver.StageFailure
	if errors.As(err, &stageErr) {
		return exitStageBase + int(stageErr.Stage)
	}

	var schemaErr *config.SchemaError
	switch {
	case errors.Is(err, resolve.ErrMissingBuildRecipe):
		return exitMissingRecipe
	case errors.As(err, &schemaErr):
		return exitSchema
	case errors.Is(err, simulate.ErrFailed),
		errors.Is(err, simulate.ErrMissingArch),
		errors.Is(err, simulate.ErrUnsupportedArch):
		return exitSimulationFailure
	}

	var resolveErr *resolve.ResolutionError
	switch {
	case errors.As(err, &resolveErr),
		errors.Is(err, config.ErrAmbiguousSource),
		errors.Is(err, config.ErrMissingSource),
		errors.Is(err, envload.ErrNoSeL4Arch),
		errors.Is(err, envload.ErrNoPlatform),
		errors.Is(err, driver.ErrForbiddenProperty),
		errors.Is(err, driver.ErrMissingProperty),
		errors.Is(err, driver.ErrPrebuiltBuildDir):
		return exitResolution
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, envload.ErrConfigNotFound) || errors.Is(err, config.ErrTemplateExists) {
		return exitIO
	}
	return exitFailure
}
