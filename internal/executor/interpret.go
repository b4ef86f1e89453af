package executor

import (
	"fmt"
	"strings"
)

// FailurePrefix starts every failure text.
const FailurePrefix = "Error: "

// Labels that replace scratch file paths in diagnostics.
const (
	BufferLabel    = "[buffer]"
	SelectionLabel = "[selection]"
)

const (
	openTag      = "<?php"
	shortEchoTag = "<?="
)

// Wrap surrounds an unsaved buffer with script tags so the interpreter
// executes it instead of echoing it as inline HTML. Text that already opens
// with a tag is returned unchanged.
func Wrap(text string) string {
	head := strings.TrimLeft(text, " \t\r\n\ufeff")
	if strings.HasPrefix(head, openTag) || strings.HasPrefix(head, shortEchoTag) {
		return text
	}
	return openTag + "\n" + text + "\n?>"
}

// Interpret maps a raw result to display text. A run failed when stderr is
// non-empty, the process could not be spawned, or it exited non-zero. Failure
// text is FailurePrefix followed by the first non-empty of: stderr, the spawn
// error, stdout (PHP prints fatals there), or the exit status.
//
// When scriptPath is a scratch file, pass the label that should stand in for
// it; every occurrence of the path in the failure text is replaced. Pass an
// empty label for files the user owns.
func Interpret(res *ExecutionResult, scriptPath, label string) (string, bool) {
	stderr := strings.TrimSpace(res.Stderr)
	stdout := strings.TrimSpace(res.Stdout)

	if stderr == "" && res.SpawnErr == "" && res.ExitCode == 0 {
		return stdout, false
	}

	var diag string
	switch {
	case stderr != "":
		diag = stderr
	case res.SpawnErr != "":
		diag = res.SpawnErr
	case stdout != "":
		diag = stdout
	default:
		diag = fmt.Sprintf("exit status %d", res.ExitCode)
	}

	if label != "" && scriptPath != "" {
		diag = strings.ReplaceAll(diag, scriptPath, label)
	}
	return FailurePrefix + diag, true
}
