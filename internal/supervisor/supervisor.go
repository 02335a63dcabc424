package supervisor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State represents the supervisor's lifecycle state.
type State string

const (
	// StateIdle means no worker and no pending respawn.
	StateIdle State = "idle"

	// StateStarting means a spawn has been issued but streams are not yet attached.
	StateStarting State = "starting"

	// StateRunning means the worker is alive with streams attached.
	StateRunning State = "running"

	// StateStopping means host-requested termination is in progress.
	StateStopping State = "stopping"

	// StateTerminated means the worker has exited and a respawn is pending.
	StateTerminated State = "terminated"
)

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives a copy of every relayed telemetry line.
// Implementations must not block; this is typically a batched
// time-series writer. Optional.
type Recorder interface {
	Record(payload []byte)
}

// command kinds marshalled onto the event loop.
type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
)

type command struct {
	kind    cmdKind
	startup *StartupConfig
	reply   chan struct{}
}

// Supervisor owns the worker process lifecycle and relays its decoded
// output to the host bus.
//
// All lifecycle state is owned by a single event-loop goroutine started by
// Run. Start, Stop, and the internal respawn timer are serialized through
// that loop, so no state is ever mutated from an external goroutine.
// Start and Stop are safe to call from any goroutine.
type Supervisor struct {
	cfg       Config
	publisher Publisher
	recorder  Recorder
	status    *statusReporter
	logger    Logger

	cmds chan command

	// loopDone is closed when the event loop has exited.
	loopDone chan struct{}
	runOnce  sync.Once

	// stats is a snapshot readable from outside the loop.
	stats   Stats
	statsMu sync.RWMutex
}

// New creates a supervisor. The worker is not spawned until Run is active
// and Start is called.
func New(cfg Config, publisher Publisher) *Supervisor {
	cfg.applyDefaults()

	logger := Logger(noopLogger{})
	s := &Supervisor{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		cmds:      make(chan command),
		loopDone:  make(chan struct{}),
	}
	s.status = newStatusReporter(publisher, cfg.StatusTopic, cfg.QoS, logger)
	s.stats = Stats{Name: cfg.Name, State: StateIdle, Status: StatusInactive}
	return s
}

// SetLogger sets the logger for the supervisor.
// Must be called before Run.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
	s.status.logger = logger
}

// SetRecorder sets an optional telemetry history recorder.
// Must be called before Run.
func (s *Supervisor) SetRecorder(recorder Recorder) {
	s.recorder = recorder
}

// Run executes the event loop until ctx is cancelled. Any live worker is
// torn down before Run returns. Run must be called exactly once.
func (s *Supervisor) Run(ctx context.Context) {
	s.runOnce.Do(func() {
		s.loop(ctx)
	})
}

// Start submits the startup configuration and spawns the worker.
//
// Idempotent: if a worker is already starting, running, or waiting out a
// cooldown, the call is a no-op and the existing cycle continues with its
// original configuration. The supervisor never runs two workers at once.
//
// Start blocks until the event loop accepts the command, so Run must be
// active (or about to be, e.g. launched in a goroutine just before) for it
// to return. After the loop has exited it returns ErrNotRunning.
func (s *Supervisor) Start(startup StartupConfig) error {
	if len(startup.Devices) == 0 {
		return ErrNoDevices
	}

	cmd := command{kind: cmdStart, startup: &startup, reply: make(chan struct{})}
	select {
	case s.cmds <- cmd:
		<-cmd.reply
		return nil
	case <-s.loopDone:
		return ErrNotRunning
	}
}

// Stop terminates any live worker, cancels any pending respawn, and settles
// in Idle. No further spawn occurs until the next Start. Safe to call any
// number of times, including when nothing is running; returns only after
// teardown is complete. Like Start, it blocks until the event loop accepts
// the command and is a no-op once the loop has exited.
func (s *Supervisor) Stop() {
	cmd := command{kind: cmdStop, reply: make(chan struct{})}
	select {
	case s.cmds <- cmd:
		<-cmd.reply
	case <-s.loopDone:
		// Loop already gone; its shutdown path tore the worker down.
	}
}

// Stats is a point-in-time snapshot of supervisor state for diagnostics.
type Stats struct {
	Name         string        `json:"name"`
	State        State         `json:"state"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	SessionID    string        `json:"session_id,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastExit     string        `json:"last_exit,omitempty"`

	startTime time.Time
}

// Stats returns current statistics for the supervised worker.
func (s *Supervisor) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()

	stats := s.stats
	if !stats.startTime.IsZero() && stats.State == StateRunning {
		stats.Uptime = time.Since(stats.startTime)
	}
	return stats
}

// loop is the single goroutine owning all lifecycle state.
func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.loopDone)

	var (
		state   = StateIdle
		handle  *workerHandle
		startup *StartupConfig
		session string

		cooldown  *time.Timer
		cooldownC <-chan time.Time
	)

	// exitedC is nil (never ready) while no worker handle exists.
	exitedC := func() <-chan exitResult {
		if handle == nil {
			return nil
		}
		return handle.exited
	}

	setState := func(next State) {
		if next == state {
			return
		}
		s.logger.Debug("lifecycle transition", "from", state, "to", next)
		state = next
		s.updateStats(func(st *Stats) {
			st.State = next
			st.Status = s.status.current()
			if next != StateRunning && next != StateStarting {
				st.PID = 0
			}
		})
	}

	cancelCooldown := func() {
		if cooldown != nil {
			cooldown.Stop()
			cooldown = nil
			cooldownC = nil
		}
	}

	scheduleCooldown := func() {
		cancelCooldown()
		cooldown = time.NewTimer(s.cfg.Cooldown)
		cooldownC = cooldown.C
		s.logger.Info("respawn scheduled", "cooldown", s.cfg.Cooldown)
	}

	spawn := func() {
		setState(StateStarting)

		h, err := spawnWorker(s.cfg, startup, s.relayLine, s.relayDiagnostic)
		if err != nil {
			// Spawn failure is treated like an immediate exit: diagnostic,
			// then the standard cooldown before the next attempt.
			s.logger.Error("worker spawn failed", "name", s.cfg.Name, "binary", s.cfg.Binary, "error", err)
			s.updateStats(func(st *Stats) { st.LastExit = err.Error() })
			s.status.set(StatusInactive, session)
			setState(StateTerminated)
			scheduleCooldown()
			return
		}

		handle = h
		s.status.set(StatusActive, session)
		setState(StateRunning)
		s.updateStats(func(st *Stats) {
			st.PID = h.pid()
			st.Status = StatusActive
			st.startTime = time.Now()
		})
		s.logger.Info("worker started", "name", s.cfg.Name, "pid", h.pid(), "session_id", session)
	}

	teardown := func() {
		cancelCooldown()
		if handle != nil {
			setState(StateStopping)
			res := handle.terminate(s.cfg.GracefulTimeout)
			s.logger.Info("worker stopped", "name", s.cfg.Name, "exit_code", res.code)
			handle = nil
		}
		s.status.set(StatusInactive, session)
		startup = nil
		session = ""
		setState(StateIdle)
		s.updateStats(func(st *Stats) {
			st.Status = StatusInactive
			st.SessionID = ""
		})
	}

	for {
		select {
		case <-ctx.Done():
			teardown()
			return

		case cmd := <-s.cmds:
			switch cmd.kind {
			case cmdStart:
				if startup != nil {
					// Already mid-cycle (starting, running, or cooling
					// down): the existing lifecycle continues untouched.
					s.logger.Debug("start ignored, worker cycle already active", "state", state)
					close(cmd.reply)
					continue
				}
				startup = cmd.startup
				session = uuid.NewString()
				s.updateStats(func(st *Stats) {
					st.SessionID = session
					st.RestartCount = 0
					st.LastExit = ""
				})
				spawn()
				close(cmd.reply)

			case cmdStop:
				teardown()
				close(cmd.reply)
			}

		case res := <-exitedC():
			handle = nil
			s.logger.Warn("worker exited",
				"name", s.cfg.Name,
				"exit_code", res.code,
				"error", res.err,
			)
			s.updateStats(func(st *Stats) {
				if res.err != nil {
					st.LastExit = res.err.Error()
				} else {
					st.LastExit = "exit status 0"
				}
			})
			s.status.set(StatusInactive, session)
			setState(StateTerminated)
			// Every exit is presumed transient; the worker runs forever
			// under normal operation, so even exit 0 gets a respawn.
			scheduleCooldown()

		case <-cooldownC:
			cooldown = nil
			cooldownC = nil
			s.updateStats(func(st *Stats) { st.RestartCount++ })
			s.logger.Info("respawning worker", "name", s.cfg.Name, "restart_count", s.Stats().RestartCount)
			spawn()
		}
	}
}

// relayLine forwards one complete stdout line to the host bus. Called from
// the stdout reader goroutine; lines arrive in receipt order and are
// forwarded immediately, content unchanged.
func (s *Supervisor) relayLine(line []byte, truncated bool) {
	if truncated {
		s.logger.Warn("discarding oversized output line", "name", s.cfg.Name, "max_bytes", maxLineBytes)
		return
	}
	if !json.Valid(line) {
		s.logger.Warn("discarding malformed output line", "name", s.cfg.Name, "line", truncateForLog(line))
		return
	}

	if err := s.publisher.Publish(s.cfg.DeltaTopic, line, s.cfg.QoS, false); err != nil {
		s.logger.Warn("failed to relay telemetry", "error", err)
	}

	if s.recorder != nil {
		s.recorder.Record(line)
	}
}

// relayDiagnostic surfaces one worker stderr line to the operator log.
// Diagnostics never influence the lifecycle state machine.
func (s *Supervisor) relayDiagnostic(line string) {
	s.logger.Info("worker diagnostic", "name", s.cfg.Name, "output", line)
}

// updateStats applies fn to the stats snapshot under lock.
func (s *Supervisor) updateStats(fn func(*Stats)) {
	s.statsMu.Lock()
	fn(&s.stats)
	s.statsMu.Unlock()
}

// logTruncateBytes caps how much of a malformed line is echoed into logs.
const logTruncateBytes = 256

func truncateForLog(line []byte) string {
	if len(line) > logTruncateBytes {
		return string(line[:logTruncateBytes]) + "..."
	}
	return string(line)
}
