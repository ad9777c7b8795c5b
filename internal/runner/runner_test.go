package runner

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell tests use /bin/sh")
	}
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *lineCollector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestInterpreter(t *testing.T) {
	shell, flag := interpreter("windows")
	if shell != "cmd.exe" || flag != "/c" {
		t.Errorf("expected cmd.exe /c, got %s %s", shell, flag)
	}

	shell, flag = interpreter("linux")
	if shell != "/bin/sh" || flag != "-c" {
		t.Errorf("expected /bin/sh -c, got %s %s", shell, flag)
	}
}

func TestShellRunner_Success(t *testing.T) {
	skipOnWindows(t)
	r := NewShellRunner(nil)
	var out lineCollector

	err := r.Run(context.Background(), "echo hello; echo world", out.add)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	lines := out.snapshot()
	if len(lines) != 2 || lines[0] != "hello" || lines[1] != "world" {
		t.Errorf("expected [hello world], got %v", lines)
	}
}

func TestShellRunner_MergesStderr(t *testing.T) {
	skipOnWindows(t)
	r := NewShellRunner(nil)
	var out lineCollector

	if err := r.Run(context.Background(), "echo oops 1>&2", out.add); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if got := out.snapshot(); len(got) != 1 || got[0] != "oops" {
		t.Errorf("expected stderr line, got %v", got)
	}
}

func TestShellRunner_NonZeroExit(t *testing.T) {
	skipOnWindows(t)
	r := NewShellRunner(nil)

	err := r.Run(context.Background(), "exit 3", nil)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != 3 {
		t.Errorf("expected code 3, got %d", exitErr.Code)
	}
	if ExitCode(err) != 3 {
		t.Errorf("expected ExitCode 3, got %d", ExitCode(err))
	}
}

func TestShellRunner_UnknownCommandFails(t *testing.T) {
	skipOnWindows(t)
	r := NewShellRunner(nil)

	err := r.Run(context.Background(), "definitely-not-a-command-queuectl", nil)
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if ExitCode(err) != 127 {
		t.Errorf("expected exit code 127, got %d", ExitCode(err))
	}
}

func TestShellRunner_SpawnFailure(t *testing.T) {
	r := &ShellRunner{shell: "/nonexistent/shell", flag: "-c", logger: NewShellRunner(nil).logger}

	err := r.Run(context.Background(), "true", nil)
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if ExitCode(err) != -1 {
		t.Errorf("expected ExitCode -1 for spawn failure, got %d", ExitCode(err))
	}
	if !strings.Contains(err.Error(), "failed to start command") {
		t.Errorf("expected start failure, got %v", err)
	}
}

func TestShellRunner_CancelledContextBeforeStart(t *testing.T) {
	r := NewShellRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.Run(ctx, "echo never", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestShellRunner_CancelDoesNotKillChild(t *testing.T) {
	skipOnWindows(t)
	r := NewShellRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())

	lines := make(chan string, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := r.Run(ctx, "sleep 0.3; echo finished", func(line string) { lines <- line })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("expected Run to return promptly on cancel, took %v", elapsed)
	}

	select {
	case line := <-lines:
		if line != "finished" {
			t.Errorf("expected finished, got %q", line)
		}
	case <-time.After(3 * time.Second):
		t.Error("expected child to keep running and emit output after cancellation")
	}
}

func TestDrain_SplitsOverlongLine(t *testing.T) {
	var out lineCollector
	input := strings.Repeat("a", 2*maxLineSize+10)

	if err := drain(strings.NewReader(input), out.add); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	lines := out.snapshot()
	if len(lines) != 3 {
		t.Fatalf("expected 3 pieces, got %d", len(lines))
	}
	for i, want := range []int{maxLineSize, maxLineSize, 10} {
		if len(lines[i]) != want {
			t.Errorf("piece %d: expected length %d, got %d", i, want, len(lines[i]))
		}
	}
}

func TestDrain_LineAtLimit(t *testing.T) {
	var out lineCollector
	input := strings.Repeat("a", maxLineSize) + "\n" + "b\r\n" + "tail"

	if err := drain(strings.NewReader(input), out.add); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	lines := out.snapshot()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if len(lines[0]) != maxLineSize {
		t.Errorf("expected first line of length %d, got %d", maxLineSize, len(lines[0]))
	}
	if lines[1] != "b" || lines[2] != "tail" {
		t.Errorf("expected [b tail], got %q", lines[1:])
	}
}

func TestDrain_NewlineTerminatedOverlongLine(t *testing.T) {
	var out lineCollector
	input := strings.Repeat("a", maxLineSize+5) + "\nnext\n"

	if err := drain(strings.NewReader(input), out.add); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	lines := out.snapshot()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if len(lines[0]) != maxLineSize || lines[1] != "aaaaa" || lines[2] != "next" {
		t.Errorf("unexpected split: %d %q %q", len(lines[0]), lines[1], lines[2])
	}
}

func TestDrain_ReadError(t *testing.T) {
	boom := errors.New("boom")
	if err := drain(iotest.ErrReader(boom), nil); !errors.Is(err, boom) {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestShellRunner_OverlongLineStillSucceeds(t *testing.T) {
	skipOnWindows(t)
	r := NewShellRunner(nil)
	var out lineCollector

	err := r.Run(context.Background(), `head -c 2097152 /dev/zero | tr '\0' a; exit 0`, out.add)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	total := 0
	for _, line := range out.snapshot() {
		if len(line) > maxLineSize {
			t.Errorf("expected pieces of at most %d bytes, got %d", maxLineSize, len(line))
		}
		total += len(line)
	}
	if total != 2097152 {
		t.Errorf("expected 2097152 bytes of output, got %d", total)
	}
}

func TestShellRunner_OverlongLineKeepsExitCode(t *testing.T) {
	skipOnWindows(t)
	r := NewShellRunner(nil)

	err := r.Run(context.Background(), `head -c 2097152 /dev/zero | tr '\0' a; exit 4`, nil)
	if ExitCode(err) != 4 {
		t.Errorf("expected exit code 4, got %v", err)
	}
}

func TestShellRunner_LargeMultiLineOutput(t *testing.T) {
	skipOnWindows(t)
	r := NewShellRunner(nil)
	var out lineCollector

	if err := r.Run(context.Background(), "seq 1 50000", out.add); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	lines := out.snapshot()
	if len(lines) != 50000 {
		t.Fatalf("expected 50000 lines, got %d", len(lines))
	}
	if lines[0] != "1" || lines[49999] != "50000" {
		t.Errorf("expected 1..50000, got %s..%s", lines[0], lines[49999])
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Error("expected 0 for nil")
	}
	if ExitCode(&ExitError{Code: 2}) != 2 {
		t.Error("expected 2 for ExitError")
	}
	if ExitCode(errors.New("boom")) != -1 {
		t.Error("expected -1 for other errors")
	}
}
