// Package process supervises the UI subprocess the gateway forwards to.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/microsoft/secure-azureai-agent/pkg/models"
	"github.com/rs/zerolog/log"
)

// Defaults applied by NewSupervisor when the corresponding option is unset.
const (
	DefaultStartGrace  = 3 * time.Second
	DefaultStopTimeout = 10 * time.Second
	DefaultLogLines    = 500
)

// Options configures a Supervisor.
type Options struct {
	Host string
	Port int
	// Managed false means the UI runs elsewhere and is always treated as running.
	Managed bool
	// Command overrides the default chainlit invocation.
	Command []string
	AppPath string
	WorkDir string
	// Env is appended to the inherited environment.
	Env         []string
	StartGrace  time.Duration
	StopTimeout time.Duration
	LogLines    int
	// OnState is called after every state transition.
	OnState func(models.ProcessStatus)
}

// Supervisor owns the lifecycle of the UI process:
// stopped -> starting -> running | failed, and running -> stopped on Stop.
// A failed process is not restarted.
type Supervisor struct {
	opts Options
	logs *LogBuffer

	mu       sync.Mutex
	status   models.ProcessStatus
	lastErr  string
	cmd      *exec.Cmd
	done     chan struct{} // closed when the process has exited
	stopping bool
}

// NewSupervisor creates a supervisor in the stopped state.
func NewSupervisor(opts Options) *Supervisor {
	if opts.StartGrace <= 0 {
		opts.StartGrace = DefaultStartGrace
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.LogLines <= 0 {
		opts.LogLines = DefaultLogLines
	}
	return &Supervisor{
		opts:   opts,
		logs:   NewLogBuffer(opts.LogLines),
		status: models.ProcessStopped,
	}
}

// Start launches the UI process and returns once it has been spawned. The
// transition to running happens after the start grace period if the
// process is still alive. Calling Start while starting or running is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == models.ProcessStarting || s.status == models.ProcessRunning {
		s.mu.Unlock()
		return nil
	}

	if !s.opts.Managed {
		s.setStatusLocked(models.ProcessRunning, "")
		s.mu.Unlock()
		log.Info().Str("target", s.Target().Addr()).Msg("Using external UI process")
		return nil
	}

	argv, err := s.command()
	if err != nil {
		s.setStatusLocked(models.ProcessFailed, err.Error())
		s.mu.Unlock()
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.opts.WorkDir
	cmd.Env = append(os.Environ(), s.opts.Env...)
	stdout := s.logs.Lines("stdout")
	stderr := s.logs.Lines("stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Orphaned grandchildren may hold the output pipes open after the
	// process itself has exited.
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		s.setStatusLocked(models.ProcessFailed, err.Error())
		s.mu.Unlock()
		return fmt.Errorf("failed to start UI process: %w", err)
	}

	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	s.stopping = false
	s.setStatusLocked(models.ProcessStarting, "")
	s.mu.Unlock()

	log.Info().
		Strs("command", argv).
		Int("pid", cmd.Process.Pid).
		Int("port", s.opts.Port).
		Msg("UI process started")

	go func() {
		waitErr := cmd.Wait()
		stdout.Flush()
		stderr.Flush()
		s.exited(cmd, waitErr)
		close(done)
	}()
	go s.probe(ctx, cmd, done)

	return nil
}

// probe promotes a still-alive process to running after the grace period.
func (s *Supervisor) probe(ctx context.Context, cmd *exec.Cmd, done <-chan struct{}) {
	timer := time.NewTimer(s.opts.StartGrace)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-done:
		return
	case <-timer.C:
	}

	s.mu.Lock()
	if s.cmd == cmd && s.status == models.ProcessStarting {
		s.setStatusLocked(models.ProcessRunning, "")
		s.mu.Unlock()
		log.Info().Int("port", s.opts.Port).Msg("UI process running")
		return
	}
	s.mu.Unlock()
}

// exited records the end of cmd. An exit that was not requested by Stop
// moves the supervisor to failed.
func (s *Supervisor) exited(cmd *exec.Cmd, waitErr error) {
	s.mu.Lock()
	if s.cmd != cmd {
		s.mu.Unlock()
		return
	}
	if s.stopping {
		s.setStatusLocked(models.ProcessStopped, "")
		s.mu.Unlock()
		log.Info().Int("pid", cmd.Process.Pid).Msg("UI process stopped")
		return
	}

	reason := "process exited"
	if waitErr != nil {
		reason = fmt.Sprintf("process exited: %v", waitErr)
	}
	wasStarting := s.status == models.ProcessStarting
	s.setStatusLocked(models.ProcessFailed, reason)
	s.mu.Unlock()

	ev := log.Error().Str("reason", reason).Bool("during_startup", wasStarting)
	recent := s.logs.Recent(20)
	lines := make([]string, 0, len(recent))
	for _, e := range recent {
		lines = append(lines, e.Line)
	}
	ev.Strs("recent_output", lines).Msg("UI process failed")
}

// Stop terminates the process: SIGTERM, then a forced kill once the stop
// timeout expires. It returns when the process has exited or ctx is done.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cmd == nil || s.status == models.ProcessFailed || s.status == models.ProcessStopped {
		if !s.opts.Managed {
			s.setStatusLocked(models.ProcessStopped, "")
		}
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	proc := s.cmd.Process
	done := s.done
	s.mu.Unlock()

	log.Info().Int("pid", proc.Pid).Msg("Stopping UI process")

	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = proc.Kill()
	}

	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		log.Warn().Int("pid", proc.Pid).Dur("timeout", s.opts.StopTimeout).Msg("UI process did not exit, killing")
		_ = proc.Kill()
	case <-ctx.Done():
		_ = proc.Kill()
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current state.
func (s *Supervisor) Status() models.ProcessStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Target describes where UI traffic is forwarded.
func (s *Supervisor) Target() models.ProxyTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.ProxyTarget{
		Host:   s.opts.Host,
		Port:   s.opts.Port,
		Live:   s.status == models.ProcessRunning,
		Status: s.status,
		Error:  s.lastErr,
	}
}

// Logs returns the captured process output.
func (s *Supervisor) Logs() *LogBuffer {
	return s.logs
}

func (s *Supervisor) setStatusLocked(st models.ProcessStatus, errMsg string) {
	s.status = st
	s.lastErr = errMsg
	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}

// command returns the configured argv or the default chainlit invocation.
func (s *Supervisor) command() ([]string, error) {
	if len(s.opts.Command) > 0 {
		return s.opts.Command, nil
	}
	python := findPython()
	if python == "" {
		return nil, errors.New("python3 not found in PATH; install Python 3.10+ or set UI_COMMAND")
	}
	return []string{
		python, "-m", "chainlit", "run", s.opts.AppPath,
		"--port", strconv.Itoa(s.opts.Port),
		"--host", "0.0.0.0",
		"--headless",
	}, nil
}

// findPython searches for a Python 3 executable.
func findPython() string {
	for _, name := range []string{"python3", "python"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}
