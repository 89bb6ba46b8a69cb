// Package runner executes model-proposed shell commands with timeout, output
// streaming, event emission, and an append-only per-day execution log.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"milo/internal/bus"
	"milo/internal/logging"
)

// Record captures one command execution.
type Record struct {
	Command    string    `json:"command"`
	Cwd        string    `json:"cwd"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMS int64     `json:"duration_ms"`
	TimeoutMS  int       `json:"timeout_ms"`
	ExitCode   *int      `json:"exit_code"` // nil on timeout or spawn error
	Success    bool      `json:"success"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
}

// Options controls one execution.
type Options struct {
	Cwd        string
	TimeoutMS  int // <= 0 means unlimited
	OnStdout   func(chunk string)
	OnStderr   func(chunk string)
	LogEnabled bool
}

const minTimeoutMS = 1000

// Runner executes commands and appends records to the command log.
type Runner struct {
	events *bus.Bus
	log    *Log
	logger logging.Logger
}

// New creates a Runner emitting to events and logging to commandLog (which
// may be nil to disable logging entirely).
func New(events *bus.Bus, commandLog *Log) *Runner {
	return &Runner{
		events: events,
		log:    commandLog,
		logger: logging.NewComponentLogger("CommandRunner"),
	}
}

// Run executes command under the platform shell. Failures never surface as
// errors; everything is captured in the returned Record.
func (r *Runner) Run(ctx context.Context, command string, opts Options) Record {
	record := Record{
		Command:   command,
		Cwd:       opts.Cwd,
		StartedAt: time.Now().UTC(),
		TimeoutMS: opts.TimeoutMS,
	}

	r.emit(bus.Event{
		Phase:   bus.PhaseRunningCommand,
		Message: fmt.Sprintf("Running: %s", command),
		Command: command,
		Status:  bus.StatusStart,
	})

	runCtx := ctx
	var cancel context.CancelFunc
	timedOut := false
	effectiveTimeout := 0
	if opts.TimeoutMS > 0 {
		effectiveTimeout = opts.TimeoutMS
		if effectiveTimeout < minTimeoutMS {
			effectiveTimeout = minTimeoutMS
		}
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(effectiveTimeout)*time.Millisecond)
		defer cancel()
	}

	shell, flag := platformShell()
	cmd := exec.CommandContext(runCtx, shell, flag, command)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}

	var stdoutBuf, stderrBuf strings.Builder
	stdoutPipe, err := cmd.StdoutPipe()
	if err == nil {
		var stderrPipe io.ReadCloser
		stderrPipe, err = cmd.StderrPipe()
		if err == nil {
			err = cmd.Start()
			if err == nil {
				var wg sync.WaitGroup
				wg.Add(2)
				go r.pump(stdoutPipe, &stdoutBuf, opts.OnStdout, command, &wg)
				go r.pump(stderrPipe, &stderrBuf, opts.OnStderr, command, &wg)
				wg.Wait()
				err = cmd.Wait()
			}
		}
	}

	record.EndedAt = time.Now().UTC()
	record.DurationMS = record.EndedAt.Sub(record.StartedAt).Milliseconds()
	record.Stdout = stdoutBuf.String()
	record.Stderr = stderrBuf.String()

	if runCtx.Err() == context.DeadlineExceeded {
		timedOut = true
	}

	switch {
	case timedOut:
		// The kill timer is clamped, but the message reports the requested value.
		record.Stderr += fmt.Sprintf("Process timed out after %dms.", opts.TimeoutMS)
		record.Success = false
	case err != nil:
		if exitErr, ok := err.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			record.ExitCode = &code
		} else {
			// Spawn or pipe error; no exit code.
			record.Stderr += err.Error()
		}
		record.Success = false
	default:
		zero := 0
		record.ExitCode = &zero
		record.Success = true
	}

	phase := bus.PhaseFinished
	if !record.Success {
		phase = bus.PhaseError
	}
	r.emit(bus.Event{
		Phase:    phase,
		Message:  fmt.Sprintf("Command finished: %s", command),
		Command:  command,
		Status:   bus.StatusEnd,
		ExitCode: record.ExitCode,
		Success:  bus.BoolPtr(record.Success),
	})

	if opts.LogEnabled && r.log != nil {
		if err := r.log.Append(record); err != nil {
			r.logger.Warn("command log append failed: %v", err)
		}
	}
	return record
}

func (r *Runner) pump(pipe io.Reader, buf *strings.Builder, callback func(string), command string, wg *sync.WaitGroup) {
	defer wg.Done()
	reader := bufio.NewReader(pipe)
	chunk := make([]byte, 4096)
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			text := string(chunk[:n])
			buf.WriteString(text)
			if callback != nil {
				callback(text)
			}
			r.emit(bus.Event{
				Phase:   bus.PhaseRunningCommand,
				Message: tail(text, 500),
				Command: command,
				Status:  bus.StatusProgress,
			})
		}
		if err != nil {
			return
		}
	}
}

func (r *Runner) emit(event bus.Event) {
	if r.events != nil {
		r.events.Emit(event)
	}
}

func platformShell() (string, string) {
	if runtime.GOOS == "windows" {
		return "cmd", "/C"
	}
	return "sh", "-c"
}

func tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
