package render

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRenderer writes a shell script that speaks the session protocol:
// echoes sentinel lines back, writes PNG bytes for save commands and
// appends log lines to logPath so tests can observe execution order.
func fakeRenderer(t *testing.T, dir string) (binary, logPath string) {
	t.Helper()
	logPath = filepath.Join(dir, "renderer.log")
	script := fmt.Sprintf(`#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    "echo "*) echo "${line#echo }" ;;
    "save "*) set -- $line; printf 'PNGDATA' > "$2" ;;
    "log "*)  echo "${line#log }" >> %s ;;
    "sleep "*) sleep "${line#sleep }" ;;
    "crash") exit 3 ;;
    "exit") exit 0 ;;
  esac
done
`, logPath)
	binary = filepath.Join(dir, "fake-renderer")
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o755))
	return binary, logPath
}

// slowStartRenderer answers the protocol only after a startup delay,
// holding the session in the starting state long enough to race against.
func slowStartRenderer(t *testing.T, dir string) (binary, logPath string) {
	t.Helper()
	logPath = filepath.Join(dir, "renderer.log")
	script := fmt.Sprintf(`#!/bin/sh
sleep 0.3
while IFS= read -r line; do
  case "$line" in
    "echo "*) echo "${line#echo }" ;;
    "log "*)  echo "${line#log }" >> %s ;;
    "exit") exit 0 ;;
  esac
done
`, logPath)
	binary = filepath.Join(dir, "slow-renderer")
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o755))
	return binary, logPath
}

func testConfig(t *testing.T) (Config, string) {
	dir := t.TempDir()
	binary, logPath := fakeRenderer(t, dir)
	return Config{
		Binary:         binary,
		ScratchDir:     dir,
		StartTimeout:   5 * time.Second,
		CommandTimeout: 5 * time.Second,
		GracePeriod:    300 * time.Millisecond,
	}, logPath
}

func TestSessionExecuteAndSnapshot(t *testing.T) {
	cfg, logPath := testConfig(t)
	s := NewSession(cfg)
	require.Equal(t, StateUninitialized, s.State())

	require.NoError(t, s.Open())
	require.Equal(t, StateReady, s.State())
	require.NoError(t, s.Open(), "opening an open session is a no-op")

	require.NoError(t, s.Execute("log hello"))
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(data))

	png, err := s.Snapshot(640, 480, false)
	require.NoError(t, err)
	require.Equal(t, "PNGDATA", string(png))

	// The scratch image is removed once read.
	snaps, err := filepath.Glob(filepath.Join(cfg.ScratchDir, "snap-*.png"))
	require.NoError(t, err)
	require.Empty(t, snaps)

	s.Close()
	require.Equal(t, StateClosed, s.State())
	s.Close() // idempotent

	err = s.Execute("log after close")
	var rerr *RenderError
	require.ErrorAs(t, err, &rerr)
}

func TestSessionStartFailures(t *testing.T) {
	var serr *SessionStartError

	s := NewSession(Config{Binary: "/nonexistent/renderer", StartTimeout: time.Second})
	err := s.Open()
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StateClosed, s.State())

	// A renderer that never echoes the sentinel misses the start timeout.
	dir := t.TempDir()
	mute := filepath.Join(dir, "mute")
	require.NoError(t, os.WriteFile(mute, []byte("#!/bin/sh\nsleep 30\n"), 0o755))
	s = NewSession(Config{Binary: mute, StartTimeout: 100 * time.Millisecond, GracePeriod: 100 * time.Millisecond})
	err = s.Open()
	require.ErrorAs(t, err, &serr)
	require.Equal(t, StateClosed, s.State())
}

func TestSessionCrashSurfacesRenderError(t *testing.T) {
	cfg, _ := testConfig(t)
	s := NewSession(cfg)
	require.NoError(t, s.Open())

	err := s.Execute("crash")
	var rerr *RenderError
	require.ErrorAs(t, err, &rerr)

	require.Eventually(t, func() bool { return s.State() == StateClosed },
		2*time.Second, 10*time.Millisecond)

	err = s.Execute("log dead")
	require.ErrorAs(t, err, &rerr)
}

func TestSessionCommandTimeout(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.CommandTimeout = 100 * time.Millisecond
	s := NewSession(cfg)
	require.NoError(t, s.Open())

	err := s.Execute("sleep 10")
	var rerr *RenderError
	require.ErrorAs(t, err, &rerr)
	require.Eventually(t, func() bool { return s.State() == StateClosed },
		2*time.Second, 10*time.Millisecond)
}

func TestSessionSerializesBatches(t *testing.T) {
	cfg, logPath := testConfig(t)
	s := NewSession(cfg)
	require.NoError(t, s.Open())
	defer s.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- s.Execute(fmt.Sprintf("log start-%d\nlog end-%d", n, n))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Batches never interleave: every start line is immediately followed
	// by its own end line.
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 8)
	for i := 0; i < len(lines); i += 2 {
		require.Equal(t, "start", lines[i][:5])
		require.Equal(t, "end"+lines[i][5:], lines[i+1])
	}
}

func TestSessionOpenWaitsForStartingPeer(t *testing.T) {
	dir := t.TempDir()
	binary, logPath := slowStartRenderer(t, dir)
	s := NewSession(Config{
		Binary:         binary,
		ScratchDir:     dir,
		StartTimeout:   5 * time.Second,
		CommandTimeout: 5 * time.Second,
		GracePeriod:    300 * time.Millisecond,
	})
	defer s.Close()

	first := make(chan error, 1)
	go func() { first <- s.Open() }()

	// A second caller landing mid-startup must block until the session is
	// ready so its command queues instead of erroring.
	require.Eventually(t, func() bool { return s.State() == StateStarting },
		2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Open())
	require.NoError(t, s.Execute("log queued"))
	require.NoError(t, <-first)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Equal(t, "queued\n", string(data))
}

func TestSessionCloseDuringStartup(t *testing.T) {
	dir := t.TempDir()
	binary, _ := slowStartRenderer(t, dir)
	s := NewSession(Config{
		Binary:       binary,
		ScratchDir:   dir,
		StartTimeout: 5 * time.Second,
		GracePeriod:  100 * time.Millisecond,
	})

	opened := make(chan error, 1)
	go func() { opened <- s.Open() }()
	require.Eventually(t, func() bool { return s.State() == StateStarting },
		2*time.Second, 5*time.Millisecond)

	// Close must wait out the startup rather than touching channels the
	// opener has not published yet.
	s.Close()
	require.Equal(t, StateClosed, s.State())
	<-opened
}

func managerConfig(t *testing.T) (ManagerConfig, string) {
	cfg, logPath := testConfig(t)
	return ManagerConfig{
		Session:      cfg,
		MaxSessions:  4,
		IdleTimeout:  time.Minute,
		ReapInterval: time.Minute,
	}, logPath
}

func TestManagerCapacity(t *testing.T) {
	cfg, _ := managerConfig(t)
	cfg.MaxSessions = 1
	m := NewManager(cfg)
	defer m.CloseAll()

	first, err := m.Acquire("conv-a")
	require.NoError(t, err)

	_, err = m.Acquire("conv-b")
	var cerr *CapacityError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 1, cerr.Max)

	// The same conversation reuses its session and is not capped.
	again, err := m.Acquire("conv-a")
	require.NoError(t, err)
	require.Same(t, first, again)
}

func TestManagerReplacesCrashedSession(t *testing.T) {
	cfg, _ := managerConfig(t)
	m := NewManager(cfg)
	defer m.CloseAll()

	err := m.Execute("conv", "crash")
	var rerr *RenderError
	require.ErrorAs(t, err, &rerr)

	// The next call transparently reopens with a fresh process.
	require.Eventually(t, func() bool {
		return m.Execute("conv", "log revived") == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestManagerReapsIdleSessions(t *testing.T) {
	cfg, _ := managerConfig(t)
	cfg.IdleTimeout = 50 * time.Millisecond
	cfg.ReapInterval = 20 * time.Millisecond
	m := NewManager(cfg)
	defer m.CloseAll()

	sess, err := m.Acquire("conv")
	require.NoError(t, err)
	sess.SetLoaded("1ABC")

	require.Eventually(t, func() bool { return sess.State() == StateClosed },
		2*time.Second, 10*time.Millisecond)

	// Re-acquiring yields a fresh session that has lost its loaded state.
	fresh, err := m.Acquire("conv")
	require.NoError(t, err)
	require.NotSame(t, sess, fresh)
	require.Equal(t, "", fresh.Loaded())
	require.Equal(t, StateReady, fresh.State())
}

func TestManagerAcquireRefreshesIdleClock(t *testing.T) {
	cfg, _ := managerConfig(t)
	cfg.IdleTimeout = 250 * time.Millisecond
	cfg.ReapInterval = 25 * time.Millisecond
	m := NewManager(cfg)
	defer m.CloseAll()

	first, err := m.Acquire("conv")
	require.NoError(t, err)

	// Re-acquiring counts as activity: the reaper leaves the session
	// alone well past the idle timeout as long as it keeps being acquired.
	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		sess, err := m.Acquire("conv")
		require.NoError(t, err)
		require.Same(t, first, sess)
		time.Sleep(50 * time.Millisecond)
	}

	// Once the acquires stop, the reaper takes it.
	require.Eventually(t, func() bool { return first.State() == StateClosed },
		2*time.Second, 10*time.Millisecond)
}

func TestManagerExecuteReopensReapedSession(t *testing.T) {
	cfg, logPath := managerConfig(t)
	m := NewManager(cfg)
	defer m.CloseAll()

	sess, err := m.Acquire("conv")
	require.NoError(t, err)
	sess.Close() // as the idle reaper would

	require.NoError(t, m.Execute("conv", "log revived"))
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Equal(t, "revived\n", string(data))
}

func TestClosedBeforeRunClassification(t *testing.T) {
	require.False(t, closedBeforeRun(nil))
	require.False(t, closedBeforeRun(errors.New("plain")))
	require.False(t, closedBeforeRun(&RenderError{Op: "execute", Reason: "renderer failed", Err: errors.New("exit 3")}))
	require.True(t, closedBeforeRun(&RenderError{Op: "execute", Reason: "session closed"}))
	require.True(t, closedBeforeRun(&RenderError{Op: "execute", Reason: "session is closed"}))
}

func TestManagerCloseAll(t *testing.T) {
	cfg, _ := managerConfig(t)
	m := NewManager(cfg)

	s1, err := m.Acquire("a")
	require.NoError(t, err)
	s2, err := m.Acquire("b")
	require.NoError(t, err)

	m.CloseAll()
	require.Equal(t, StateClosed, s1.State())
	require.Equal(t, StateClosed, s2.State())

	var rerr *RenderError
	require.True(t, errors.As(s1.Execute("log x"), &rerr))
}
