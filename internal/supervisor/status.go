package supervisor

import (
	"fmt"
	"time"
)

// Status is the derived worker liveness signal.
type Status string

const (
	// StatusActive indicates a live worker with attached streams.
	StatusActive Status = "active"

	// StatusInactive indicates no live worker (terminated, idle, or
	// waiting out a cooldown).
	StatusInactive Status = "inactive"
)

// Publisher is the interface for publishing bus messages.
// This is typically implemented by an MQTT client.
type Publisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// statusReporter publishes the liveness signal, suppressing consecutive
// duplicates so that multiple internal events inside one macro-transition
// produce a single publish.
//
// Not safe for concurrent use; it is only ever driven by the supervisor's
// event loop goroutine.
type statusReporter struct {
	publisher Publisher
	topic     string
	qos       byte
	logger    Logger

	last Status
}

func newStatusReporter(publisher Publisher, topic string, qos byte, logger Logger) *statusReporter {
	return &statusReporter{
		publisher: publisher,
		topic:     topic,
		qos:       qos,
		logger:    logger,
		last:      StatusInactive,
	}
}

// set publishes the given status if it differs from the last published value.
// Status messages are retained so late subscribers see the current value.
func (r *statusReporter) set(status Status, sessionID string) {
	if status == r.last {
		return
	}
	r.last = status

	payload := fmt.Sprintf(
		`{"status":"%s","session_id":"%s","timestamp":"%s"}`,
		status,
		sessionID,
		time.Now().UTC().Format(time.RFC3339),
	)

	if err := r.publisher.Publish(r.topic, []byte(payload), r.qos, true); err != nil {
		// Status delivery is best-effort; the retained flag means the next
		// successful publish restores a consistent view for subscribers.
		r.logger.Warn("failed to publish status", "status", status, "error", err)
	}
}

// current returns the last published status.
func (r *statusReporter) current() Status {
	return r.last
}
