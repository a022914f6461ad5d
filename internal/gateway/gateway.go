// Package gateway runs external processes and normalizes every outcome into a
// Result. Nothing crosses this boundary as a panic or a bare Go error: a
// nonzero exit, a spawn failure, and a missing executable all come back as an
// unsuccessful Result carrying the diagnostic text.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/capsules-dev/capsules/internal/errors"
	"github.com/capsules-dev/capsules/internal/logging"
)

// Result is the uniform outcome of an external command.
type Result struct {
	Success      bool     `json:"success"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Output       string   `json:"output,omitempty"`
	Command      []string `json:"-"`
}

// Err returns nil for a successful result, otherwise a COMMAND_FAILED error
// carrying the diagnostic text.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return errors.NewCommandFailed(r.Command, r.ErrorMessage)
}

// Succeeded builds a successful Result.
func Succeeded(argv []string, output string) Result {
	return Result{Success: true, Output: output, Command: argv}
}

// Failed builds an unsuccessful Result.
func Failed(argv []string, msg string) Result {
	return Result{Success: false, ErrorMessage: msg, Command: argv}
}

// SpawnOptions configures a detached process.
type SpawnOptions struct {
	// LogPath receives the process's stdout and stderr. The file is truncated
	// on every spawn. Empty discards output.
	LogPath string
}

// Gateway invokes external processes.
type Gateway interface {
	// Capture runs argv to completion and returns its trimmed stdout.
	Capture(ctx context.Context, argv []string) Result

	// Stream runs argv to completion, forwarding each line of combined
	// stdout/stderr to sink as it is produced.
	Stream(ctx context.Context, argv []string, sink func(line string)) Result

	// Spawn starts argv in its own session and returns as soon as the
	// process has started. It never waits for completion.
	Spawn(argv []string, opts SpawnOptions) Result
}

// streamTailLines is how many trailing lines of streamed output are kept as
// the diagnostic text of a failed streamed command.
const streamTailLines = 20

// maxLineBytes bounds a single line of streamed output.
const maxLineBytes = 1024 * 1024

// Exec is the os/exec backed Gateway.
type Exec struct {
	logger *slog.Logger
}

// NewExec creates an os/exec Gateway. A nil logger discards command logs.
func NewExec(logger *slog.Logger) *Exec {
	return &Exec{logger: logging.OrDiscard(logger)}
}

// Capture implements Gateway.
func (g *Exec) Capture(ctx context.Context, argv []string) Result {
	if len(argv) == 0 {
		return Failed(argv, "empty command")
	}
	g.logger.Debug("running command", "command", strings.Join(argv, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		g.logger.Error("command failed", "command", strings.Join(argv, " "), "error", msg)
		return Failed(argv, msg)
	}
	return Succeeded(argv, strings.TrimSpace(stdout.String()))
}

// Stream implements Gateway.
func (g *Exec) Stream(ctx context.Context, argv []string, sink func(line string)) Result {
	if len(argv) == 0 {
		return Failed(argv, "empty command")
	}
	if sink == nil {
		sink = func(line string) { g.logger.Info(line) }
	}
	g.logger.Debug("streaming command", "command", strings.Join(argv, " "))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return Failed(argv, err.Error())
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		g.logger.Error("command failed to start", "command", strings.Join(argv, " "), "error", err)
		return Failed(argv, err.Error())
	}

	tail, scanErr := forwardLines(pipe, sink, streamTailLines)
	if scanErr != nil {
		g.logger.Warn("command output not fully forwarded", "command", strings.Join(argv, " "), "error", scanErr)
		tail = append(tail, "output not forwarded past this point: "+scanErr.Error())
	}

	if err := cmd.Wait(); err != nil {
		msg := strings.Join(tail, "\n")
		if msg == "" {
			msg = err.Error()
		} else {
			msg = fmt.Sprintf("%v: %s", err, msg)
		}
		g.logger.Error("command failed", "command", strings.Join(argv, " "), "error", err)
		return Failed(argv, msg)
	}
	return Succeeded(argv, "")
}

// forwardLines sends every non-empty line from r to sink and returns the last
// keep lines. If a line overflows the scanner the rest of r is drained
// unread, so the writer never blocks, and the scan error is returned.
func forwardLines(r io.Reader, sink func(string), keep int) ([]string, error) {
	var tail []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		sink(line)
		tail = append(tail, line)
		if len(tail) > keep {
			tail = tail[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return tail, err
	}
	return tail, nil
}

// Spawn implements Gateway.
func (g *Exec) Spawn(argv []string, opts SpawnOptions) Result {
	if len(argv) == 0 {
		return Failed(argv, "empty command")
	}
	g.logger.Debug("spawning command", "command", strings.Join(argv, " "), "log", opts.LogPath)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	var logFile *os.File
	if opts.LogPath != "" {
		f, err := os.Create(opts.LogPath)
		if err != nil {
			return Failed(argv, fmt.Sprintf("open log file: %v", err))
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		g.logger.Error("spawn failed", "command", strings.Join(argv, " "), "error", err)
		return Failed(argv, err.Error())
	}

	// Reap the child and release the log file.
	go func() {
		_ = cmd.Wait()
		if logFile != nil {
			logFile.Close()
		}
	}()

	return Succeeded(argv, "")
}
