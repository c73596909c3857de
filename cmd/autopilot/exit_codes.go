package main

import (
	"errors"
	"strings"

	apierrors "github.com/odvcencio/autopilot/pkg/errors"
)

const (
	exitFailure = 1
	exitUsage   = 2
	exitGateway = 3
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitFailure
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

// classify picks the exit code for a pipeline error from its error code.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch apierrors.GetCode(err) {
	case apierrors.ErrCodePlanParse, apierrors.ErrCodePlanInvalid, apierrors.ErrCodeInvalidInput,
		apierrors.ErrCodeConfigLoad, apierrors.ErrCodeConfigInvalid, apierrors.ErrCodeTemplateNotFound:
		return withExitCode(err, exitUsage)
	case apierrors.ErrCodeGateway, apierrors.ErrCodeGatewayAuth, apierrors.ErrCodeGatewayRateLimit:
		return withExitCode(err, exitGateway)
	}
	return withExitCode(err, exitFailure)
}

func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	// Flag and argument errors from cobra.
	return exitUsage
}

// describeError formats err for the terminal, adding remediation tips for
// structured errors.
func describeError(err error) string {
	e, ok := apierrors.As(err)
	if !ok {
		return err.Error()
	}
	msg := err.Error()
	if e.UserMessage != "" {
		msg = e.UserMessage
	}
	if len(e.Remediation) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for _, tip := range e.Remediation {
		b.WriteString("\n  hint: ")
		b.WriteString(tip)
	}
	return b.String()
}
