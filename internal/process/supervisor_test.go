package process

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/microsoft/secure-azureai-agent/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestSupervisorFailsWhenProcessExitsDuringGrace(t *testing.T) {
	requireShell(t)

	var states []models.ProcessStatus
	sup := NewSupervisor(Options{
		Host:       "localhost",
		Port:       18501,
		Managed:    true,
		Command:    []string{"sh", "-c", "echo booting; echo broken >&2; exit 3"},
		StartGrace: 2 * time.Second,
		OnState:    func(st models.ProcessStatus) { states = append(states, st) },
	})

	require.NoError(t, sup.Start(context.Background()))

	require.Eventually(t, func() bool {
		return sup.Status() == models.ProcessFailed
	}, 5*time.Second, 20*time.Millisecond)

	target := sup.Target()
	assert.False(t, target.Live)
	assert.Contains(t, target.Error, "exit status 3")
	assert.Equal(t, []models.ProcessStatus{models.ProcessStarting, models.ProcessFailed}, states)

	lines := sup.Logs().Recent(0)
	require.Len(t, lines, 2)
	got := map[string]string{}
	for _, l := range lines {
		got[l.Stream] = l.Line
	}
	assert.Equal(t, "booting", got["stdout"])
	assert.Equal(t, "broken", got["stderr"])
}

func TestSupervisorRunningThenStopped(t *testing.T) {
	requireShell(t)

	sup := NewSupervisor(Options{
		Host:        "localhost",
		Port:        18502,
		Managed:     true,
		Command:     []string{"sh", "-c", "exec sleep 30"},
		StartGrace:  100 * time.Millisecond,
		StopTimeout: 2 * time.Second,
	})

	require.NoError(t, sup.Start(context.Background()))
	assert.Equal(t, models.ProcessStarting, sup.Status())

	require.Eventually(t, func() bool {
		return sup.Status() == models.ProcessRunning
	}, 3*time.Second, 20*time.Millisecond)
	assert.True(t, sup.Target().Live)

	// Start while running is a no-op.
	require.NoError(t, sup.Start(context.Background()))

	require.NoError(t, sup.Stop(context.Background()))
	assert.Equal(t, models.ProcessStopped, sup.Status())
	assert.False(t, sup.Target().Live)
}

func TestSupervisorStopKillsAfterTimeout(t *testing.T) {
	requireShell(t)

	sup := NewSupervisor(Options{
		Managed:     true,
		Command:     []string{"sh", "-c", "trap '' TERM; while true; do sleep 0.1; done"},
		StartGrace:  100 * time.Millisecond,
		StopTimeout: 300 * time.Millisecond,
	})
	require.NoError(t, sup.Start(context.Background()))
	require.Eventually(t, func() bool {
		return sup.Status() == models.ProcessRunning
	}, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, sup.Stop(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, models.ProcessStopped, sup.Status())
}

func TestSupervisorExitWhileRunningFails(t *testing.T) {
	requireShell(t)

	sup := NewSupervisor(Options{
		Managed:    true,
		Command:    []string{"sh", "-c", "sleep 0.4"},
		StartGrace: 100 * time.Millisecond,
	})
	require.NoError(t, sup.Start(context.Background()))
	require.Eventually(t, func() bool {
		return sup.Status() == models.ProcessRunning
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return sup.Status() == models.ProcessFailed
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSupervisorSpawnError(t *testing.T) {
	sup := NewSupervisor(Options{
		Managed: true,
		Command: []string{"/nonexistent/ui-binary"},
	})
	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.ProcessFailed, sup.Status())
	assert.NotEmpty(t, sup.Target().Error)
}

func TestSupervisorUnmanaged(t *testing.T) {
	sup := NewSupervisor(Options{Host: "ui.internal", Port: 9000})
	require.NoError(t, sup.Start(context.Background()))

	target := sup.Target()
	assert.True(t, target.Live)
	assert.Equal(t, models.ProcessRunning, target.Status)
	assert.Equal(t, "ui.internal:9000", target.Addr())

	require.NoError(t, sup.Stop(context.Background()))
	assert.Equal(t, models.ProcessStopped, sup.Status())
}

func TestDefaultCommand(t *testing.T) {
	if findPython() == "" {
		t.Skip("python not available")
	}
	sup := NewSupervisor(Options{Port: 8501, AppPath: "frontend/app.py", Managed: true})
	argv, err := sup.command()
	require.NoError(t, err)
	assert.Equal(t, []string{"-m", "chainlit", "run", "frontend/app.py", "--port", "8501", "--host", "0.0.0.0", "--headless"}, argv[1:])
}

func TestLogBuffer(t *testing.T) {
	lb := NewLogBuffer(3)
	w := lb.Lines("stdout")

	_, err := w.Write([]byte("one\ntwo\r\nthr"))
	require.NoError(t, err)
	assert.Len(t, lb.Recent(0), 2)

	_, _ = w.Write([]byte("ee\nfour\n"))
	recent := lb.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "two", recent[0].Line)
	assert.Equal(t, "three", recent[1].Line)
	assert.Equal(t, "four", recent[2].Line)

	assert.Equal(t, "four", lb.Recent(1)[0].Line)

	_, _ = w.Write([]byte("tail"))
	w.Flush()
	assert.Equal(t, "tail", lb.Recent(1)[0].Line)
}
