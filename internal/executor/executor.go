// Package executor runs PHP scripts and turns what the interpreter did into
// user-facing text.
//
// The package is split in two halves:
//
//   - Executor implementations (local, docker) spawn an interpreter against a
//     script file and report raw stdout, stderr, exit status, and wall time.
//   - Scratch, Wrap, and Interpret prepare the script file beforehand and map
//     the raw result afterwards. They do not depend on a particular backend.
package executor

import (
	"context"
	"time"
)

// ExecutionRequest names the script to run.
type ExecutionRequest struct {
	// ScriptPath is passed to the interpreter as its sole argument.
	ScriptPath string `json:"scriptPath"`
	// Timeout bounds the run; zero means the interpreter may run forever.
	Timeout time.Duration `json:"timeout"`
}

// ExecutionResult is the raw outcome of one interpreter process.
type ExecutionResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	// SpawnErr is set when the process could not be started or was killed
	// (binary not found, permission denied, timeout).
	SpawnErr string        `json:"spawnErr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Executor runs one script per call. Implementations must be safe for
// concurrent use: overlapping evaluations are expected.
//
// A non-nil error means the backend itself failed before any process ran
// (for example, no sandbox container could be acquired). Interpreter-level
// failures are reported through the result, not the error.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}
