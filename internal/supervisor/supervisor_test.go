package supervisor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// funcRecorder adapts a function to the Recorder interface.
type funcRecorder struct {
	mu sync.Mutex
	fn func([]byte)
}

func (r *funcRecorder) Record(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fn(payload)
}

// writeScript creates an executable shell script in a test temp dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "worker.sh")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing worker script: %v", err)
	}
	return path
}

// waitFor polls cond until it returns true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func testStartup() StartupConfig {
	return StartupConfig{
		Adapter: "hci0",
		Devices: []Device{{ID: "shunt", MAC: "C0:3B:98:12:34:56", Key: "0102030405"}},
	}
}

func testConfig(binary string) Config {
	return Config{
		Name:            "test-worker",
		Binary:          binary,
		Cooldown:        50 * time.Millisecond,
		GracefulTimeout: 2 * time.Second,
		DeltaTopic:      "victron/delta",
		StatusTopic:     "victron/status",
		QoS:             1,
	}
}

// countOnTopic counts captured publishes on a single topic.
func countOnTopic(pub *recordingPublisher, topic string) int {
	n := 0
	for _, m := range pub.messages() {
		if m.topic == topic {
			n++
		}
	}
	return n
}

func runSupervisor(t *testing.T, cfg Config, pub *recordingPublisher) (*Supervisor, context.CancelFunc) {
	t.Helper()

	s := New(cfg, pub)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("supervisor loop did not exit")
		}
	})
	return s, cancel
}

func TestSupervisor_InitialState(t *testing.T) {
	s := New(testConfig("/bin/true"), newRecordingPublisher())

	stats := s.Stats()
	if stats.State != StateIdle {
		t.Errorf("initial State = %q, want %q", stats.State, StateIdle)
	}
	if stats.Status != StatusInactive {
		t.Errorf("initial Status = %q, want %q", stats.Status, StatusInactive)
	}
	if stats.PID != 0 {
		t.Errorf("initial PID = %d, want 0", stats.PID)
	}
	if stats.RestartCount != 0 {
		t.Errorf("initial RestartCount = %d, want 0", stats.RestartCount)
	}
}

func TestSupervisor_StartRequiresDevices(t *testing.T) {
	s := New(testConfig("/bin/true"), newRecordingPublisher())

	err := s.Start(StartupConfig{Adapter: "hci0"})
	if err != ErrNoDevices {
		t.Errorf("Start() error = %v, want %v", err, ErrNoDevices)
	}
}

func TestSupervisor_RelaysValidLines(t *testing.T) {
	script := writeScript(t, `
read config
echo '{"updates":[{"values":[{"path":"electrical.batteries.0.voltage","value":12.8}]}]}'
echo 'this is not json'
echo '{"ok":true}'
sleep 60
`)
	pub := newRecordingPublisher()
	s, _ := runSupervisor(t, testConfig(script), pub)

	if err := s.Start(testStartup()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, 3*time.Second, func() bool {
		return countOnTopic(pub, "victron/delta") >= 2
	}, "telemetry relay")

	// The malformed line must have been skipped, not forwarded.
	var payloads []string
	for _, m := range pub.messages() {
		if m.topic == "victron/delta" {
			payloads = append(payloads, string(m.payload))
		}
	}
	if len(payloads) != 2 {
		t.Fatalf("relayed %d lines, want 2", len(payloads))
	}
	if payloads[1] != `{"ok":true}` {
		t.Errorf("relayed line[1] = %q, want %q", payloads[1], `{"ok":true}`)
	}
}

func TestSupervisor_SendsStartupHandshake(t *testing.T) {
	// The worker echoes its stdin back; the relayed line must be the
	// handshake we submitted.
	script := writeScript(t, `
read config
echo "$config"
sleep 60
`)
	pub := newRecordingPublisher()
	s, _ := runSupervisor(t, testConfig(script), pub)

	if err := s.Start(testStartup()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, 3*time.Second, func() bool {
		return countOnTopic(pub, "victron/delta") >= 1
	}, "handshake echo")

	var echoed string
	for _, m := range pub.messages() {
		if m.topic == "victron/delta" {
			echoed = string(m.payload)
		}
	}
	want := `{"adapter":"hci0","devices":[{"id":"shunt","mac":"C0:3B:98:12:34:56","key":"0102030405"}]}`
	if echoed != want {
		t.Errorf("echoed handshake = %q, want %q", echoed, want)
	}
}

func TestSupervisor_StatusActiveOnStart(t *testing.T) {
	script := writeScript(t, `
read config
sleep 60
`)
	pub := newRecordingPublisher()
	s, _ := runSupervisor(t, testConfig(script), pub)

	if err := s.Start(testStartup()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		return s.Stats().State == StateRunning
	}, "running state")

	stats := s.Stats()
	if stats.Status != StatusActive {
		t.Errorf("Status = %q, want %q", stats.Status, StatusActive)
	}
	if stats.PID == 0 {
		t.Error("PID = 0, want live worker pid")
	}
	if stats.SessionID == "" {
		t.Error("SessionID empty, want uuid")
	}
	if countOnTopic(pub, "victron/status") != 1 {
		t.Errorf("status publishes = %d, want 1", countOnTopic(pub, "victron/status"))
	}

	s.Stop()

	stats = s.Stats()
	if stats.State != StateIdle {
		t.Errorf("State after Stop = %q, want %q", stats.State, StateIdle)
	}
	if stats.Status != StatusInactive {
		t.Errorf("Status after Stop = %q, want %q", stats.Status, StatusInactive)
	}
	if countOnTopic(pub, "victron/status") != 2 {
		t.Errorf("status publishes = %d, want 2 (active then inactive)", countOnTopic(pub, "victron/status"))
	}
}

func TestSupervisor_RestartsAfterExit(t *testing.T) {
	// Worker exits immediately with a failure code; the supervisor must
	// respawn it after the cooldown, indefinitely.
	script := writeScript(t, `
read config
echo '{"n":1}'
exit 3
`)
	pub := newRecordingPublisher()
	s, _ := runSupervisor(t, testConfig(script), pub)

	if err := s.Start(testStartup()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, 5*time.Second, func() bool {
		return s.Stats().RestartCount >= 2
	}, "two restarts")

	stats := s.Stats()
	if stats.LastExit == "" {
		t.Error("LastExit empty, want exit status record")
	}

	// Each run relays one line.
	if n := countOnTopic(pub, "victron/delta"); n < 3 {
		t.Errorf("relayed %d lines, want >= 3 (one per run)", n)
	}

	// The liveness signal must strictly alternate: active on spawn,
	// inactive on exit, active again on respawn.
	var statuses []string
	for _, m := range pub.messages() {
		if m.topic != "victron/status" {
			continue
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(m.payload, &body); err != nil {
			t.Fatalf("status payload not JSON: %v", err)
		}
		statuses = append(statuses, body.Status)
	}
	if len(statuses) < 3 {
		t.Fatalf("got %d status publishes, want >= 3", len(statuses))
	}
	for i, st := range statuses {
		want := "active"
		if i%2 == 1 {
			want = "inactive"
		}
		if st != want {
			t.Errorf("status[%d] = %q, want %q", i, st, want)
		}
	}
}

func TestSupervisor_RestartsAfterCleanExit(t *testing.T) {
	// Exit 0 is still unexpected: the worker runs forever under normal
	// operation, so a clean exit gets the same respawn treatment.
	script := writeScript(t, `
read config
exit 0
`)
	pub := newRecordingPublisher()
	s, _ := runSupervisor(t, testConfig(script), pub)

	if err := s.Start(testStartup()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, 5*time.Second, func() bool {
		return s.Stats().RestartCount >= 1
	}, "restart after clean exit")
}

func TestSupervisor_SpawnFailureCoolsDown(t *testing.T) {
	cfg := testConfig("/nonexistent/worker/binary")
	pub := newRecordingPublisher()
	s, _ := runSupervisor(t, cfg, pub)

	began := time.Now()
	if err := s.Start(testStartup()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	stats := s.Stats()
	if stats.State != StateTerminated {
		t.Errorf("State = %q, want %q after spawn failure", stats.State, StateTerminated)
	}
	if stats.LastExit == "" {
		t.Error("LastExit empty, want spawn error")
	}

	// Spawn failures retry on the same cadence as crashes.
	waitFor(t, 5*time.Second, func() bool {
		return s.Stats().RestartCount >= 4
	}, "retries after spawn failure")

	// Every attempt fails instantly, so the restart rate is bounded by the
	// cooldown alone: the Nth retry cannot land before N cooldowns have
	// elapsed. Read the count before the clock so the inequality holds even
	// if another retry sneaks in between the two reads.
	count := s.Stats().RestartCount
	elapsed := time.Since(began)
	if minimum := time.Duration(count) * cfg.Cooldown; elapsed < minimum {
		t.Errorf("%d retries in %v, want at least %v (cooldown %v not applied)",
			count, elapsed, minimum, cfg.Cooldown)
	}
}

func TestSupervisor_StopCancelsPendingRestart(t *testing.T) {
	script := writeScript(t, `
read config
exit 1
`)
	cfg := testConfig(script)
	cfg.Cooldown = 500 * time.Millisecond
	pub := newRecordingPublisher()
	s, _ := runSupervisor(t, cfg, pub)

	if err := s.Start(testStartup()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		return s.Stats().State == StateTerminated
	}, "worker exit")

	s.Stop()

	if got := s.Stats().State; got != StateIdle {
		t.Errorf("State after Stop = %q, want %q", got, StateIdle)
	}

	// Wait past the cooldown; no respawn may occur.
	time.Sleep(cfg.Cooldown + 200*time.Millisecond)
	if got := s.Stats().RestartCount; got != 0 {
		t.Errorf("RestartCount = %d after Stop, want 0", got)
	}
	if got := s.Stats().State; got != StateIdle {
		t.Errorf("State = %q after cooldown elapsed, want %q", got, StateIdle)
	}
}

func TestSupervisor_StartIsIdempotent(t *testing.T) {
	script := writeScript(t, `
read config
sleep 60
`)
	pub := newRecordingPublisher()
	s, _ := runSupervisor(t, testConfig(script), pub)

	if err := s.Start(testStartup()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, 3*time.Second, func() bool {
		return s.Stats().State == StateRunning
	}, "running state")

	firstPID := s.Stats().PID
	firstSession := s.Stats().SessionID

	// A second Start while running must not spawn a second worker or
	// disturb the existing one.
	if err := s.Start(testStartup()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	stats := s.Stats()
	if stats.PID != firstPID {
		t.Errorf("PID changed %d -> %d, want unchanged", firstPID, stats.PID)
	}
	if stats.SessionID != firstSession {
		t.Errorf("SessionID changed, want unchanged")
	}
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	pub := newRecordingPublisher()
	s, _ := runSupervisor(t, testConfig("/bin/true"), pub)

	// Stop without any Start must be a harmless no-op.
	s.Stop()
	s.Stop()

	if got := s.Stats().State; got != StateIdle {
		t.Errorf("State = %q, want %q", got, StateIdle)
	}
}

func TestSupervisor_ContextCancelTearsDown(t *testing.T) {
	script := writeScript(t, `
read config
sleep 60
`)
	pub := newRecordingPublisher()
	s, cancel := runSupervisor(t, testConfig(script), pub)

	if err := s.Start(testStartup()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		return s.Stats().State == StateRunning
	}, "running state")

	cancel()

	waitFor(t, 5*time.Second, func() bool {
		return s.Stats().State == StateIdle
	}, "teardown on context cancel")

	if err := s.Start(testStartup()); err != ErrNotRunning {
		t.Errorf("Start() after cancel error = %v, want %v", err, ErrNotRunning)
	}
}

func TestSupervisor_RecorderReceivesLines(t *testing.T) {
	script := writeScript(t, `
read config
echo '{"n":1}'
sleep 60
`)
	pub := newRecordingPublisher()

	var recorded [][]byte
	rec := &funcRecorder{fn: func(p []byte) { recorded = append(recorded, p) }}

	s := New(testConfig(script), pub)
	s.SetRecorder(rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	if err := s.Start(testStartup()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, 3*time.Second, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(recorded) >= 1
	}, "recorder delivery")
}

func TestExitCode(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Errorf("exitCode(nil) = %d, want 0", got)
	}
}
