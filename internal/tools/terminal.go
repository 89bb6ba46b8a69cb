package tools

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"milo/internal/logging"
)

const terminalReadLimit = 16000

// TerminalSession is one background process with buffered output.
type terminalSession struct {
	id      string
	command string
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	mu     sync.Mutex
	output strings.Builder
	done   bool
	err    error
}

// TerminalRegistry tracks background processes spawned by the model, keyed by
// opaque handle. Sessions outlive the turn that created them and are reaped
// explicitly via Kill or on Shutdown.
type TerminalRegistry struct {
	mu       sync.Mutex
	sessions map[string]*terminalSession
	log      logging.Logger
}

// NewTerminalRegistry creates an empty registry.
func NewTerminalRegistry(log logging.Logger) *TerminalRegistry {
	return &TerminalRegistry{
		sessions: make(map[string]*terminalSession),
		log:      logging.OrNop(log),
	}
}

// Spawn starts command under the platform shell in cwd and returns the
// session handle. Output accumulates in the session buffer until drained by
// Read.
func (r *TerminalRegistry) Spawn(command, cwd string) (string, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd", "/C", command)
	} else {
		cmd = exec.Command("sh", "-c", command)
	}
	cmd.Dir = cwd

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}

	sess := &terminalSession{
		id:      uuid.NewString(),
		command: command,
		cmd:     cmd,
		stdin:   stdin,
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("spawn %q: %w", command, err)
	}
	r.log.Info("terminal session %s spawned: %s", sess.id, firstLine(command))

	var pumps sync.WaitGroup
	for _, pipe := range []io.Reader{stdout, stderr} {
		pumps.Add(1)
		go func(pipe io.Reader) {
			defer pumps.Done()
			buf := make([]byte, 4096)
			for {
				n, err := pipe.Read(buf)
				if n > 0 {
					sess.mu.Lock()
					sess.output.Write(buf[:n])
					sess.mu.Unlock()
				}
				if err != nil {
					return
				}
			}
		}(pipe)
	}
	go func() {
		pumps.Wait()
		err := cmd.Wait()
		sess.mu.Lock()
		sess.done = true
		sess.err = err
		sess.mu.Unlock()
	}()

	r.mu.Lock()
	r.sessions[sess.id] = sess
	r.mu.Unlock()
	return sess.id, nil
}

// Input writes text to the session's stdin. A trailing newline is added when
// missing so line-oriented programs see a complete line.
func (r *TerminalRegistry) Input(id, text string) error {
	sess, err := r.lookup(id)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if _, err := io.WriteString(sess.stdin, text); err != nil {
		return fmt.Errorf("write to terminal session %s: %w", id, err)
	}
	return nil
}

// Read drains the session's buffered output and reports whether the process
// has exited.
func (r *TerminalRegistry) Read(id string) (output string, running bool, err error) {
	sess, err := r.lookup(id)
	if err != nil {
		return "", false, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	output = truncate(sess.output.String(), terminalReadLimit)
	sess.output.Reset()
	if sess.done && sess.err != nil {
		output += fmt.Sprintf("\n(process exited: %v)", sess.err)
	}
	return output, !sess.done, nil
}

// Kill terminates the session's process and removes it from the registry.
func (r *TerminalRegistry) Kill(id string) error {
	sess, err := r.lookup(id)
	if err != nil {
		return err
	}
	_ = sess.stdin.Close()
	if sess.cmd.Process != nil {
		_ = sess.cmd.Process.Kill()
	}
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	r.log.Info("terminal session %s killed", id)
	return nil
}

// Shutdown kills every live session. Called on agent exit.
func (r *TerminalRegistry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		_ = r.Kill(id)
	}
}

func (r *TerminalRegistry) lookup(id string) (*terminalSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("unknown terminal session %q", id)
	}
	return sess, nil
}
