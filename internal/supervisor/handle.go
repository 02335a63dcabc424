package supervisor

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// exitResult describes how a worker process ended.
type exitResult struct {
	// err is the error from Wait, nil for a clean exit 0.
	err error

	// code is the exit code, or -1 if the process was signalled or the
	// code is unknown.
	code int
}

// workerHandle represents exactly one live worker process with its attached
// stream readers. At most one handle is live at a time; the supervisor never
// creates a new one until the previous handle's exited channel has fired,
// which happens only after both readers have drained and the process has
// been reaped.
type workerHandle struct {
	cmd *exec.Cmd

	// exited receives exactly one value, after stream readers have finished
	// and the process has been reaped.
	exited chan exitResult

	readers sync.WaitGroup
}

// spawnWorker starts the worker process, performs the one-shot configuration
// handshake on its stdin, and attaches the stream readers.
//
// onLine is invoked from the stdout reader goroutine for each complete line
// (truncated=true for a line that exceeded the buffer cap). onDiag is
// invoked for each stderr line.
func spawnWorker(cfg Config, startup *StartupConfig, onLine func(line []byte, truncated bool), onDiag func(line string)) (*workerHandle, error) {
	handshake, err := startup.MarshalLine()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(cfg.Binary, cfg.Args...) //nolint:gosec // Binary path comes from validated config
	// New process group so stop() can signal the worker and any children it forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cfg.Name, err)
	}

	h := &workerHandle{
		cmd:    cmd,
		exited: make(chan exitResult, 1),
	}

	// One-shot handshake: the configuration object plus newline, then the
	// input is closed. The worker reads exactly one line before scanning.
	// A write failure here means the worker died instantly; the exit
	// monitor below reports that, so the error is not fatal on its own.
	if _, werr := stdin.Write(handshake); werr != nil {
		onDiag(fmt.Sprintf("config handshake write failed: %v", werr))
	}
	_ = stdin.Close() //nolint:errcheck // Write side already done with the pipe

	h.readers.Add(2)
	go func() {
		defer h.readers.Done()
		if scanErr := scanLines(stdout, maxLineBytes, onLine); scanErr != nil {
			onDiag(fmt.Sprintf("stdout read error: %v", scanErr))
		}
	}()
	go func() {
		defer h.readers.Done()
		if scanErr := scanLines(stderr, maxLineBytes, func(line []byte, truncated bool) {
			if !truncated {
				onDiag(string(line))
			}
		}); scanErr != nil {
			onDiag(fmt.Sprintf("stderr read error: %v", scanErr))
		}
	}()

	// Exit monitor: readers drain to EOF when the process dies, then Wait
	// reaps it and closes the pipe fds. Ordering matters - the handle is
	// only reported exited once everything attached to it is released.
	go func() {
		h.readers.Wait()
		werr := cmd.Wait()
		h.exited <- exitResult{err: werr, code: exitCode(werr)}
	}()

	return h, nil
}

// pid returns the worker's process ID, or 0 if unknown.
func (h *workerHandle) pid() int {
	if h.cmd != nil && h.cmd.Process != nil {
		return h.cmd.Process.Pid
	}
	return 0
}

// terminate stops the worker: SIGTERM to the process group, SIGKILL after
// the graceful timeout. It returns the exit result once the handle is fully
// released. Safe to call on a process that has already exited.
func (h *workerHandle) terminate(gracefulTimeout time.Duration) exitResult {
	pid := h.pid()
	if pid > 0 {
		// Negative PID signals the whole process group (created via Setpgid).
		// ESRCH means the process is already gone; the exit monitor reports
		// either way, so signal errors are not actionable here.
		_ = syscall.Kill(-pid, syscall.SIGTERM) //nolint:errcheck
	}

	select {
	case res := <-h.exited:
		return res
	case <-time.After(gracefulTimeout):
	}

	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL) //nolint:errcheck
	}

	return <-h.exited
}

// exitCode extracts the exit code from a Wait error.
// Returns 0 for nil, -1 when the code cannot be determined.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
