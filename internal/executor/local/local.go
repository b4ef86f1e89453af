// Package local runs PHP with the interpreter installed on the host.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/sakif/phpinline/internal/executor"
)

const (
	// timeoutExitCode mirrors the exit status of the unix timeout command.
	timeoutExitCode = 124
	// waitDelay bounds how long a killed interpreter's grandchildren may keep
	// the output pipes open.
	waitDelay = 500 * time.Millisecond
)

var _ executor.Executor = (*Executor)(nil)

// Executor spawns `<php> <script>` as a child process. Nothing is written to
// the child's stdin.
type Executor struct {
	interpreter func() string
	logger      *slog.Logger
}

// New creates an Executor. interpreter is consulted on every run so a changed
// phpPath setting applies to the next evaluation.
func New(interpreter func() string, logger *slog.Logger) *Executor {
	return &Executor{interpreter: interpreter, logger: logger}
}

// Execute runs the script and waits for it to exit.
func (e *Executor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	if req.ScriptPath == "" {
		return nil, errors.New("local: script path is required")
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	php := e.interpreter()
	cmd := exec.CommandContext(ctx, php, req.ScriptPath)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("spawning interpreter",
		slog.String("php", php),
		slog.String("script", req.ScriptPath),
	)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	res := &executor.ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}

	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = timeoutExitCode
		res.SpawnErr = fmt.Sprintf("execution timed out after %s", req.Timeout)
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.SpawnErr = err.Error()
		}
	}

	e.logger.Debug("interpreter finished",
		slog.String("script", req.ScriptPath),
		slog.Int("exitCode", res.ExitCode),
		slog.Duration("duration", elapsed),
	)
	return res, nil
}
