package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"milo/internal/logging"
)

// process wraps an MCP server child process speaking newline-delimited
// JSON-RPC on its stdio.
type process struct {
	command string
	args    []string
	env     []string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	log     logging.Logger

	mu      sync.Mutex
	running bool
}

func newProcess(command string, args []string, env map[string]string, log logging.Logger) *process {
	p := &process{command: command, args: args, log: log}
	if len(env) > 0 {
		p.env = os.Environ()
		for k, v := range env {
			p.env = append(p.env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return p
}

func (p *process) start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("process already running")
	}

	trimmed := strings.TrimSpace(p.command)
	if trimmed == "" {
		return fmt.Errorf("command is required")
	}
	resolved, err := exec.LookPath(trimmed)
	if err != nil {
		return fmt.Errorf("command not found: %w", err)
	}

	p.cmd = exec.CommandContext(ctx, resolved, p.args...)
	p.cmd.Env = p.env
	if p.stdin, err = p.cmd.StdinPipe(); err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if p.stdout, err = p.cmd.StdoutPipe(); err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if p.stderr, err = p.cmd.StderrPipe(); err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	p.running = true
	p.log.Info("MCP server started: %s (pid %d)", p.command, p.cmd.Process.Pid)

	go p.drainStderr()
	return nil
}

func (p *process) stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stdin := p.stdin
	cmd := p.cmd
	p.mu.Unlock()

	// Closing stdin asks a well-behaved server to exit.
	if stdin != nil {
		_ = stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		p.log.Info("MCP server exited: %v", err)
		return nil
	case <-time.After(timeout):
		p.log.Warn("MCP server did not exit within %v, killing", timeout)
		if cmd.Process != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
}

func (p *process) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.stdin == nil {
		return fmt.Errorf("process not running")
	}
	_, err := p.stdin.Write(data)
	return err
}

func (p *process) drainStderr() {
	if p.stderr == nil {
		return
	}
	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		p.log.Debug("[stderr] %s", scanner.Text())
	}
}
