package backends

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	defaultMaxFails    = 5
	defaultFastFailSec = 5.0
	backoffReset       = 30 * time.Second // reset backoff if process ran this long
	sigtermTimeout     = 3 * time.Second
	supervisorStopWait = 10 * time.Second
)

// Supervisor keeps a backend's helper daemon (go-librespot, bluealsa-aplay)
// running, restarting it with backoff when it exits.
type Supervisor struct {
	name string
	cmd  string
	args []string

	maxFails    int
	fastFailSec float64
	maxBackoff  time.Duration

	mu         sync.Mutex
	currentPID int
	backoff    time.Duration
	failCount  int
	stopCh     chan struct{}
	doneCh     chan struct{}
	running    bool
}

// NewSupervisor creates a Supervisor for command. The binary is looked up in
// PATH and /usr/bin when started.
func NewSupervisor(name, command string, args ...string) *Supervisor {
	return &Supervisor{
		name:        name,
		cmd:         command,
		args:        args,
		maxFails:    defaultMaxFails,
		fastFailSec: defaultFastFailSec,
		maxBackoff:  defaultMaxBackoff,
		backoff:     initialBackoff,
	}
}

// Start launches the process in a supervision goroutine. ctx cancellation
// kills the process. Calling Start on a running Supervisor is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.failCount = 0
	s.backoff = initialBackoff
	s.running = true
	go s.supervise(ctx)
	return nil
}

// Stop terminates the process and waits for the supervision goroutine.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}

	select {
	case <-doneCh:
	case <-time.After(supervisorStopWait):
		slog.Warn("supervisor: stop timed out", "name", s.name)
	}
	return nil
}

// Running reports whether the supervision goroutine is alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Pid returns the current process PID, or 0 if not running.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPID
}

func (s *Supervisor) supervise(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.currentPID = 0
		doneCh := s.doneCh
		s.mu.Unlock()
		close(doneCh)
	}()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		if s.failCount >= s.maxFails {
			slog.Error("supervisor: giving up after too many fast-fails", "name", s.name, "fails", s.failCount)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		cmd := exec.Command(findBinary(s.cmd), s.args...)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		startTime := time.Now()
		slog.Info("supervisor: starting process", "name", s.name, "cmd", cmd.Path)

		if err := cmd.Start(); err != nil {
			// Binary not found is permanent
			if isNotFoundError(err) {
				slog.Error("supervisor: binary not found, giving up", "name", s.name, "cmd", cmd.Path, "err", err)
				return
			}
			slog.Error("supervisor: failed to start process", "name", s.name, "err", err)
			s.mu.Lock()
			s.failCount++
			backoff := s.backoff
			s.backoff = minDuration(s.backoff*2, s.maxBackoff)
			s.mu.Unlock()
			s.sleepOrStop(ctx, backoff)
			continue
		}

		pid := cmd.Process.Pid
		s.mu.Lock()
		s.currentPID = pid
		s.mu.Unlock()

		exitCh := make(chan error, 1)
		go func() {
			exitCh <- cmd.Wait()
		}()

		var exitErr error
		select {
		case exitErr = <-exitCh:
		case <-s.stopCh:
			s.killProcess(pid)
			<-exitCh
			return
		case <-ctx.Done():
			s.killProcess(pid)
			<-exitCh
			return
		}

		elapsed := time.Since(startTime)
		slog.Info("supervisor: process exited", "name", s.name, "pid", pid, "elapsed", elapsed, "err", exitErr)

		s.mu.Lock()
		s.currentPID = 0
		switch {
		case elapsed >= backoffReset:
			s.failCount = 0
			s.backoff = initialBackoff
		case elapsed.Seconds() < s.fastFailSec:
			s.failCount++
			s.backoff = minDuration(s.backoff*2, s.maxBackoff)
		default:
			s.failCount = 0
		}
		backoff := s.backoff
		s.mu.Unlock()

		s.sleepOrStop(ctx, backoff)
	}
}

// killProcess sends SIGTERM to the process group and escalates to SIGKILL
// after sigtermTimeout.
func (s *Supervisor) killProcess(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGTERM)

	deadline := time.Now().Add(sigtermTimeout)
	for time.Now().Before(deadline) {
		if unix.Kill(-pid, 0) != nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	slog.Warn("supervisor: SIGTERM timed out, sending SIGKILL", "name", s.name, "pid", pid)
	_ = unix.Kill(-pid, unix.SIGKILL)
}

func (s *Supervisor) sleepOrStop(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.stopCh:
	case <-ctx.Done():
	}
}

// findBinary resolves name via PATH, then /usr/bin, then /usr/local/bin.
func findBinary(name string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	for _, dir := range []string{"/usr/bin", "/usr/local/bin"} {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return name
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, os.ErrNotExist) ||
		strings.Contains(msg, "executable file not found") ||
		strings.Contains(msg, "no such file or directory")
}
