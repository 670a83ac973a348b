package cmd

import (
	"context"
	"errors"

	"github.com/quodlibetor/s3glob/pkg/glob"
	"github.com/quodlibetor/s3glob/pkg/provider"
)

// Exit codes (spec §6). Replaces the teacher's internal exit-code registry
// (github.com/fulmenhq/gofulmen/foundry), which has no place in a standalone
// public tool, with a local table matching the spec exactly.
const (
	exitOK            = 0
	exitNoMatches     = 1
	exitPatternSyntax = 2
	exitAccessDenied  = 3
	exitIOError       = 4
	exitCancelled     = 130
)

// errNoMatches is the sentinel ls/dl wrap to drive exitCodeFor's NoMatches
// classification without every call site constructing a cliError by hand.
var errNoMatches = errors.New("no objects matched the pattern")

// cliError pairs a message with the exit code the CLI should terminate
// with, letting RunE return a single error value that root's execution
// wrapper can translate into os.Exit(code).
type cliError struct {
	code int
	msg  string
	err  error
}

func (e *cliError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *cliError) Unwrap() error {
	return e.err
}

// exitError builds a cliError, matching the teacher's exitError(code,
// message, err) call shape used throughout internal/cmd/crawl.go.
func exitError(code int, message string, err error) error {
	return &cliError{code: code, msg: message, err: err}
}

// exitCodeFor maps a run's terminal error onto spec §6/§7's exit-code
// taxonomy.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}

	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}

	var synErr *glob.PatternSyntaxError
	switch {
	case errors.As(err, &synErr):
		return exitPatternSyntax
	case errors.Is(err, errNoMatches):
		return exitNoMatches
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return exitCancelled
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err), provider.IsBucketNotFound(err):
		return exitAccessDenied
	}
	return exitIOError
}
