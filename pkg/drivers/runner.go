package drivers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandResult is the captured outcome of one command.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Lines returns stdout followed by stderr, split into lines without trailing
// blanks.
func (r *CommandResult) Lines() []string {
	var lines []string
	for _, stream := range []string{r.Stdout, r.Stderr} {
		for _, line := range strings.Split(strings.ReplaceAll(stream, "\r\n", "\n"), "\n") {
			line = strings.TrimRight(line, " \t\r")
			if line != "" {
				lines = append(lines, line)
			}
		}
	}
	if lines == nil {
		lines = []string{}
	}
	return lines
}

// Runner executes external commands. A non-zero exit is reported through
// CommandResult.ExitCode; the error is reserved for commands that could not
// run at all.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*CommandResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Env is appended to the inherited environment.
	Env []string
}

// Run executes name with args and captures both output streams.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s interrupted: %w", name, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to execute %s: %w", name, err)
	}

	return result, nil
}

// lookPath is replaced in tests.
var lookPath = exec.LookPath
