// Package render owns the external rendering subprocesses.
//
// Each conversation gets at most one renderer process, driven by
// line-oriented commands on stdin. Completion of a command batch is
// detected by echoing a sentinel token and waiting for it on stdout.
// A session is a strict single-worker state machine: one command batch in
// flight, later calls queue in FIFO order.
package render

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/proteosurf/proteosurf/internal/metrics"
)

// State is the lifecycle phase of a session.
type State int

const (
	StateUninitialized State = iota
	StateStarting
	StateReady
	StateBusy
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// SessionStartError reports a renderer that failed to spawn or signal
// readiness in time.
type SessionStartError struct {
	Reason string
	Err    error
}

func (e *SessionStartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render session start: %s: %v", e.Reason, e.Err)
	}
	return "render session start: " + e.Reason
}

func (e *SessionStartError) Unwrap() error { return e.Err }

// RenderError reports a failed command or snapshot. The owning session is
// closed before the error propagates; the next call reopens it.
type RenderError struct {
	Op     string
	Reason string
	Err    error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("render %s: %s", e.Op, e.Reason)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Config holds the per-session renderer settings.
type Config struct {
	Binary         string
	Args           []string
	ScratchDir     string
	StartTimeout   time.Duration
	CommandTimeout time.Duration
	GracePeriod    time.Duration
	Logger         *slog.Logger
}

type request struct {
	script string
	reply  chan error
}

// Session wraps one renderer subprocess.
type Session struct {
	cfg Config

	mu         sync.Mutex
	state      State
	loaded     string // accession of the currently opened structure
	lastActive time.Time
	created    time.Time

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	lines    chan string   // renderer stdout, line by line
	reqs     chan *request // FIFO command queue
	quit     chan struct{}
	done     chan struct{} // worker exited, process reaped
	procDone chan struct{} // cmd.Wait returned
	starting chan struct{} // closed when an in-flight Open settles
}

// NewSession prepares an unstarted session.
func NewSession(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Session{
		cfg:     cfg,
		state:   StateUninitialized,
		created: time.Now(),
	}
}

// State reports the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Loaded reports the accession of the structure the renderer has open.
func (s *Session) Loaded() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// SetLoaded records the structure the renderer has open. Representation
// state does not survive a reap, so this resets with the process.
func (s *Session) SetLoaded(accession string) {
	s.mu.Lock()
	s.loaded = accession
	s.mu.Unlock()
}

// IdleFor reports how long ago the last command was submitted.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

// Touch refreshes the idle clock without submitting a command.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Open spawns the renderer and waits for it to answer a sentinel echo
// within the start timeout. A concurrent Open during startup blocks until
// the first opener settles, so a following Execute queues instead of
// failing on a still-starting session.
func (s *Session) Open() error {
	s.mu.Lock()
	switch s.state {
	case StateReady, StateBusy:
		s.mu.Unlock()
		return nil
	case StateStarting:
		starting := s.starting
		s.mu.Unlock()
		<-starting
		switch s.State() {
		case StateReady, StateBusy:
			return nil
		default:
			return &SessionStartError{Reason: "renderer not ready"}
		}
	case StateClosing:
		s.mu.Unlock()
		return &SessionStartError{Reason: "session is closing"}
	}
	s.state = StateStarting
	starting := make(chan struct{})
	s.starting = starting
	s.mu.Unlock()
	defer close(starting)

	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.setState(StateClosed)
		return &SessionStartError{Reason: "stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.setState(StateClosed)
		return &SessionStartError{Reason: "stdout pipe", Err: err}
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		s.setState(StateClosed)
		return &SessionStartError{Reason: "spawn " + s.cfg.Binary, Err: err}
	}

	lines := make(chan string, 64)
	procDone := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	go func() {
		cmd.Wait()
		close(procDone)
	}()

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.lines = lines
	s.procDone = procDone
	s.reqs = make(chan *request, 16)
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	s.lastActive = time.Now()
	s.loaded = ""
	s.mu.Unlock()

	// Readiness probe: the renderer must echo a sentinel.
	if err := s.roundTrip("", s.cfg.StartTimeout); err != nil {
		s.kill()
		s.setState(StateClosed)
		return &SessionStartError{Reason: "renderer not ready", Err: err}
	}

	s.setState(StateReady)
	metrics.RenderSessions.Inc()
	s.cfg.Logger.Info("render session started", "binary", s.cfg.Binary, "pid", cmd.Process.Pid)
	go s.run()
	return nil
}

// Execute submits a command script and blocks until the renderer has
// processed it. Calls from concurrent goroutines complete in submission
// order. A crash mid-command closes the session and returns RenderError.
func (s *Session) Execute(script string) error {
	s.mu.Lock()
	switch s.state {
	case StateReady, StateBusy:
		s.lastActive = time.Now()
	default:
		st := s.state
		s.mu.Unlock()
		return &RenderError{Op: "execute", Reason: "session is " + st.String()}
	}
	reqs, done := s.reqs, s.done
	s.mu.Unlock()

	req := &request{script: script, reply: make(chan error, 1)}
	select {
	case reqs <- req:
	case <-done:
		return &RenderError{Op: "execute", Reason: "session closed"}
	}

	var err error
	select {
	case err = <-req.reply:
	case <-done:
		// Worker exited while we were queued; drain left a reply if it
		// saw the request at all.
		select {
		case err = <-req.reply:
		default:
			err = &RenderError{Op: "execute", Reason: "session closed"}
		}
	}
	if err != nil {
		metrics.RenderCommands.WithLabelValues("error").Inc()
	} else {
		metrics.RenderCommands.WithLabelValues("ok").Inc()
	}
	return err
}

// Snapshot renders the current view to a scratch PNG and returns its
// bytes. The scratch file is removed before returning.
func (s *Session) Snapshot(width, height int, transparent bool) ([]byte, error) {
	path := filepath.Join(s.cfg.ScratchDir, "snap-"+uuid.New().String()+".png")
	bg := "false"
	if transparent {
		bg = "true"
	}
	script := fmt.Sprintf("save %s width %d height %d transparentBackground %s", path, width, height, bg)
	if err := s.Execute(script); err != nil {
		return nil, err
	}
	defer os.Remove(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &RenderError{Op: "snapshot", Reason: "image file unreadable", Err: err}
	}
	return data, nil
}

// Close shuts the renderer down, gracefully first, then by force.
// Safe to call from any state and more than once.
func (s *Session) Close() {
	s.mu.Lock()
	switch s.state {
	case StateUninitialized, StateClosed:
		s.state = StateClosed
		s.mu.Unlock()
		return
	case StateStarting:
		// The opener owns the process and its channels; wait for it to
		// settle, then close through the normal path.
		starting := s.starting
		s.mu.Unlock()
		<-starting
		s.Close()
		return
	case StateClosing:
		done := s.done
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	s.state = StateClosing
	quit := s.quit
	done := s.done
	s.mu.Unlock()

	close(quit)
	select {
	case <-done:
	case <-time.After(s.cfg.GracePeriod + s.cfg.GracePeriod/2):
		s.kill()
	}
	s.setState(StateClosed)
}

// run is the single worker that owns stdin. At most one command batch is
// in flight; the rest of the queue waits.
func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			s.shutdown()
			return
		case req := <-s.reqs:
			s.setState(StateBusy)
			err := s.roundTrip(req.script, s.cfg.CommandTimeout)
			if err != nil {
				req.reply <- &RenderError{Op: "execute", Reason: "renderer failed", Err: err}
				s.fail()
				return
			}
			s.setState(StateReady)
			req.reply <- nil
		}
	}
}

// roundTrip writes the script plus a sentinel echo and waits for the
// sentinel to come back on stdout.
func (s *Session) roundTrip(script string, timeout time.Duration) error {
	marker := "__done_" + uuid.New().String()[:8] + "__"
	var b strings.Builder
	if script != "" {
		b.WriteString(script)
		if !strings.HasSuffix(script, "\n") {
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "echo %s\n", marker)

	if _, err := io.WriteString(s.stdin, b.String()); err != nil {
		return fmt.Errorf("write command: %w", err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return fmt.Errorf("renderer exited mid-command")
			}
			if strings.Contains(line, marker) {
				return nil
			}
		case <-deadline.C:
			return fmt.Errorf("command timed out after %s", timeout)
		}
	}
}

// shutdown asks the renderer to exit and kills it if it lingers, then
// fails any queued requests.
func (s *Session) shutdown() {
	io.WriteString(s.stdin, "exit\n")
	s.stdin.Close()
	select {
	case <-s.procDone:
	case <-time.After(s.cfg.GracePeriod):
		s.kill()
	}
	s.drain()
	s.setState(StateClosed)
	metrics.RenderSessions.Dec()
	s.cfg.Logger.Info("render session closed")
}

// fail handles a crashed or wedged renderer: kill, drain, mark closed.
func (s *Session) fail() {
	s.kill()
	s.drain()
	s.setState(StateClosed)
	metrics.RenderSessions.Dec()
	s.cfg.Logger.Warn("render session failed")
}

func (s *Session) drain() {
	for {
		select {
		case req := <-s.reqs:
			req.reply <- &RenderError{Op: "execute", Reason: "session closed"}
		default:
			return
		}
	}
}

func (s *Session) kill() {
	s.mu.Lock()
	cmd := s.cmd
	procDone := s.procDone
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		if procDone != nil {
			<-procDone
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
