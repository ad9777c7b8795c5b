// Package runner executes job commands through the host command interpreter.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
)

const maxLineSize = 1024 * 1024

// Runner runs a command to completion and reports how it ended.
//
// Run returns nil when the command exits 0, an *ExitError for a non-zero exit
// and any other error for spawn or wait failures. Every line of the merged
// stdout/stderr stream is passed to onLine. If ctx is cancelled first, Run
// returns ctx.Err() without killing the child.
type Runner interface {
	Run(ctx context.Context, command string, onLine func(line string)) error
}

// ExitError reports a command that ran and exited with a non-zero code
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// ExitCode extracts the exit code from a Run result: 0 for nil, the code for
// an *ExitError and -1 for anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

// ShellRunner runs commands with /bin/sh -c, or cmd.exe /c on Windows
type ShellRunner struct {
	shell  string
	flag   string
	logger *slog.Logger
}

// NewShellRunner creates a runner for the current platform
func NewShellRunner(logger *slog.Logger) *ShellRunner {
	if logger == nil {
		logger = slog.Default()
	}
	shell, flag := interpreter(runtime.GOOS)
	return &ShellRunner{shell: shell, flag: flag, logger: logger}
}

func interpreter(goos string) (string, string) {
	if goos == "windows" {
		return "cmd.exe", "/c"
	}
	return "/bin/sh", "-c"
}

// Run starts the command and blocks until it exits or ctx is done
func (r *ShellRunner) Run(ctx context.Context, command string, onLine func(line string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create output pipe: %w", err)
	}

	// Not CommandContext: a cancelled worker lets the child finish.
	cmd := exec.Command(r.shell, r.flag, command)
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("failed to start command: %w", err)
	}
	pw.Close()

	done := make(chan error, 1)
	go func() {
		if err := drain(pr, onLine); err != nil {
			r.logger.Warn("failed to read command output", "pid", cmd.Process.Pid, "error", err)
		}
		pr.Close()
		done <- result(cmd.Wait())
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		pid := cmd.Process.Pid
		go func() {
			err := <-done
			r.logger.Info("command finished after cancellation",
				"pid", pid,
				"exit_code", ExitCode(err),
			)
		}()
		return ctx.Err()
	}
}

// drain feeds every line to onLine and always reads the pipe to EOF so the
// child never blocks on a full pipe. A line longer than maxLineSize is passed
// on in maxLineSize pieces.
func drain(r io.Reader, onLine func(string)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	emit := func(b []byte) {
		if onLine != nil {
			onLine(string(b))
		}
	}

	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		line = append(line, chunk...)

		switch {
		case err == nil:
			line = bytes.TrimSuffix(line[:len(line)-1], []byte("\r"))
			for len(line) > maxLineSize {
				emit(line[:maxLineSize])
				line = line[maxLineSize:]
			}
			emit(line)
			line = line[:0]
		case errors.Is(err, bufio.ErrBufferFull):
			for len(line) > maxLineSize {
				emit(line[:maxLineSize])
				line = append(line[:0], line[maxLineSize:]...)
			}
		case errors.Is(err, io.EOF):
			for len(line) > maxLineSize {
				emit(line[:maxLineSize])
				line = line[maxLineSize:]
			}
			if len(line) > 0 {
				emit(line)
			}
			return nil
		default:
			_, _ = io.Copy(io.Discard, br)
			return err
		}
	}
}

// result maps the wait error to the Run contract. Output read failures are
// only logged; the exit status alone decides success.
func result(waitErr error) error {
	if waitErr == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("failed to wait for command: %w", waitErr)
}
