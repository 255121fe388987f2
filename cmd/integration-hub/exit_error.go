package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-sspm/integration-hub/internal/integration"
)

const (
	exitFailure = 1
	// exitConfig is returned when a request or configuration was rejected;
	// rerunning without changes will fail again.
	exitConfig = 2
	// exitTempFail (EX_TEMPFAIL) asks the scheduler to retry later.
	exitTempFail = 75
	exitCanceled = 130
)

// exitError carries an explicit process exit code through cobra.
type exitError struct {
	code   int
	err    error
	silent bool
}

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// silentExit ends the process with code without printing anything.
func silentExit(code int) error {
	return &exitError{code: code, silent: true}
}

func (e *exitError) Error() string {
	if e == nil {
		return ""
	}
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// exitCodeFor classifies err by its integration error kind.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, integration.ErrCanceled):
		return exitCanceled
	case errors.Is(err, integration.ErrUnavailable), errors.Is(err, integration.ErrRateLimit):
		return exitTempFail
	case errors.Is(err, integration.ErrValidation):
		return exitConfig
	default:
		return exitFailure
	}
}
