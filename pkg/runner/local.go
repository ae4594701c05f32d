package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single script run when LocalRunner.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// LocalRunner runs scripts with a python interpreter on this machine.
type LocalRunner struct {
	// Python is the interpreter binary; "python3" when empty.
	Python  string
	Workdir string
	Timeout time.Duration
}

// Run writes script to a temporary file and executes it. A non-zero exit
// becomes an *ExecutionError whose message is the last line of stderr,
// which for python is the exception summary.
func (r *LocalRunner) Run(ctx context.Context, script string) (*Result, error) {
	f, err := os.CreateTemp("", "convoy_*.py")
	if err != nil {
		return nil, fmt.Errorf("create script file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return nil, fmt.Errorf("write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close script file: %w", err)
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	python := r.Python
	if python == "" {
		python = "python3"
	}
	cmd := exec.CommandContext(runCtx, python, path)
	if r.Workdir != "" {
		cmd.Dir = r.Workdir
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &ExecutionError{Message: fmt.Sprintf("execution timed out after %s", timeout)}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("start %s: %w", python, runErr)
		}
		msg := lastLine(stderrBuf.String())
		if msg == "" {
			msg = fmt.Sprintf("interpreter exited with code %d", exitErr.ExitCode())
		}
		return nil, &ExecutionError{Message: msg}
	}

	df, rest, err := readFrame(stdoutBuf.String())
	if err != nil {
		return nil, &ExecutionError{Message: err.Error()}
	}
	return &Result{Stdout: rest, Frame: df}, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
