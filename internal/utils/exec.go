package utils

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner starts an external tool and waits for it. Implementations
// must kill the process when ctx is done.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second
	return cmd.Run()
}

func HasCommand(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// TailWriter keeps the last max bytes written to it.
type TailWriter struct {
	max int
	buf []byte
}

func NewTailWriter(max int) *TailWriter {
	return &TailWriter{max: max}
}

func (w *TailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = w.buf[over:]
	}
	return len(p), nil
}

func (w *TailWriter) String() string {
	return strings.TrimSpace(string(w.buf))
}

// LineWriter calls fn for every complete line written to it.
type LineWriter struct {
	fn      func(line string)
	partial []byte
}

func NewLineWriter(fn func(line string)) *LineWriter {
	return &LineWriter{fn: fn}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.partial = append(w.partial, p...)
	for {
		i := indexLineBreak(w.partial)
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(w.partial[:i]))
		w.partial = w.partial[i+1:]
		if line != "" {
			w.fn(line)
		}
	}
	return len(p), nil
}

// Flush emits a trailing line without a newline.
func (w *LineWriter) Flush() {
	if line := strings.TrimSpace(string(w.partial)); line != "" {
		w.fn(line)
	}
	w.partial = nil
}

func indexLineBreak(b []byte) int {
	for i, c := range b {
		if c == '\n' || c == '\r' {
			return i
		}
	}
	return -1
}
