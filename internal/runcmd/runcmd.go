// Package runcmd is the one place ipkg spawns child processes. Every
// caller passes an explicit argv list — there is no shell expansion
// and no reflective command dispatch; recipes and internal callers
// name the command they want verbatim.
package runcmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"

	"github.com/pmuller/ipkg/internal/ipkgerr"
)

// Options controls how a command runs. Zero value is usable: inherit
// the parent's environment, no stdin, stdout discarded, stderr
// captured for the error report.
type Options struct {
	// Dir is the working directory. Empty means the caller's.
	Dir string

	// Env is the full environment for the child ("KEY=value" entries).
	// Nil inherits the parent process environment.
	Env []string

	// StdinData, when non-empty, is written to the child's stdin
	// through a pipe before the process is awaited.
	StdinData []byte

	// Stdin is used when StdinData is empty. May be nil.
	Stdin io.Reader

	Stdout io.Writer
	Stderr io.Writer
}

// Run executes argv[0] with argv[1:] as arguments and waits for it.
// The exit code is returned on success (always 0) and carried in the
// error message on non-zero exit. Failures surface as ExecutionFailed:
// command not found, spawn failure, or non-zero exit, with captured
// stderr attached when the caller did not redirect it.
func Run(ctx context.Context, argv []string, opts Options) (int, error) {
	if len(argv) == 0 {
		return -1, ipkgerr.New(ipkgerr.InvalidInput, "empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env

	if len(opts.StdinData) > 0 {
		cmd.Stdin = bytes.NewReader(opts.StdinData)
	} else {
		cmd.Stdin = opts.Stdin
	}
	cmd.Stdout = opts.Stdout

	// Capture stderr for error reporting unless the caller claimed it.
	var stderrBuf bytes.Buffer
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	} else {
		cmd.Stderr = &stderrBuf
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e := ipkgerr.Wrap(ipkgerr.ExecutionFailed, err,
			"command %q exited with status %d", strings.Join(argv, " "), exitErr.ExitCode())
		if s := strings.TrimSpace(stderrBuf.String()); s != "" {
			e = e.WithOperands(s)
		}
		return exitErr.ExitCode(), e
	}
	if errors.Is(err, exec.ErrNotFound) {
		return -1, ipkgerr.Wrap(ipkgerr.ExecutionFailed, err, "command %q not found", argv[0])
	}
	return -1, ipkgerr.Wrap(ipkgerr.ExecutionFailed, err, "command %q failed to start", strings.Join(argv, " "))
}

// Output runs argv and returns its trimmed stdout, for the handful of
// callers that inspect a tool's output (e.g. otool -L during Mach-O
// rewriting).
func Output(ctx context.Context, argv []string, opts Options) (string, error) {
	var buf bytes.Buffer
	opts.Stdout = &buf
	if _, err := Run(ctx, argv, opts); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
