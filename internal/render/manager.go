package render

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CapacityError reports that the concurrent-session cap is reached.
type CapacityError struct {
	Max int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("render session cap reached (%d); retry after an idle session is reaped", e.Max)
}

// ManagerConfig configures the session pool.
type ManagerConfig struct {
	Session      Config
	MaxSessions  int
	IdleTimeout  time.Duration
	ReapInterval time.Duration // defaults to IdleTimeout/4
	Logger       *slog.Logger
}

// Manager owns one Session per conversation, enforces the session cap and
// reaps idle sessions in the background.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	sessions map[string]*Session

	stop     chan struct{}
	reaperWG sync.WaitGroup
}

// NewManager starts the idle reaper and returns the pool.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = cfg.IdleTimeout / 4
		if cfg.ReapInterval <= 0 {
			cfg.ReapInterval = time.Minute
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	m.reaperWG.Add(1)
	go m.reap()
	return m
}

// Acquire returns the conversation's session, opening or transparently
// reopening it as needed. A reopened session has lost its representation
// state; callers observe that through Loaded() returning "".
func (m *Manager) Acquire(conversationID string) (*Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[conversationID]
	if !ok {
		if len(m.sessions) >= m.cfg.MaxSessions {
			m.mu.Unlock()
			return nil, &CapacityError{Max: m.cfg.MaxSessions}
		}
		sess = NewSession(m.cfg.Session)
		m.sessions[conversationID] = sess
	}
	if sess.State() == StateClosed {
		// Crashed or reaped; replace in place so queued state is fresh.
		sess = NewSession(m.cfg.Session)
		m.sessions[conversationID] = sess
	}
	// Refresh the idle clock under the pool lock so the reaper cannot
	// close a session between Acquire returning and its first command.
	sess.Touch()
	m.mu.Unlock()

	// Open outside the pool lock; the session serializes itself.
	if err := sess.Open(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Execute runs a command script on the conversation's session. A session
// closed out from under the command (reaped after Acquire) is reopened
// once before the error surfaces.
func (m *Manager) Execute(conversationID, script string) error {
	for attempt := 0; ; attempt++ {
		sess, err := m.Acquire(conversationID)
		if err != nil {
			return err
		}
		err = sess.Execute(script)
		if attempt == 0 && closedBeforeRun(err) {
			continue
		}
		return err
	}
}

// Snapshot captures the conversation's current view, with the same
// reopen-once behavior as Execute.
func (m *Manager) Snapshot(conversationID string, width, height int, transparent bool) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		sess, err := m.Acquire(conversationID)
		if err != nil {
			return nil, err
		}
		data, err := sess.Snapshot(width, height, transparent)
		if attempt == 0 && closedBeforeRun(err) {
			continue
		}
		return data, err
	}
}

// closedBeforeRun reports a command rejected because its session was
// already closed when the command arrived. A renderer that crashed while
// running the command carries the process error and is not retried.
func closedBeforeRun(err error) bool {
	var rerr *RenderError
	if !errors.As(err, &rerr) {
		return false
	}
	return rerr.Err == nil && (rerr.Reason == "session closed" || rerr.Reason == "session is closed")
}

// CloseAll shuts down the reaper and every session. Used on server exit.
func (m *Manager) CloseAll() {
	close(m.stop)
	m.reaperWG.Wait()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// reap closes sessions that have been idle past the timeout. Racing with
// a concurrent Execute is fine: the session transitions to closed and the
// caller's next Acquire reopens it.
func (m *Manager) reap() {
	defer m.reaperWG.Done()
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			var idle []*Session
			for id, s := range m.sessions {
				switch s.State() {
				case StateClosed:
					delete(m.sessions, id)
				case StateReady:
					if s.IdleFor() > m.cfg.IdleTimeout {
						idle = append(idle, s)
						delete(m.sessions, id)
						m.cfg.Logger.Info("reaping idle render session", "conversation", id)
					}
				}
			}
			m.mu.Unlock()
			for _, s := range idle {
				s.Close()
			}
		}
	}
}
