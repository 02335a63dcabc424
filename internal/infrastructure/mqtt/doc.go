// Package mqtt provides the host-bus connection for the Victron bridge.
//
// It wraps eclipse/paho.mqtt.golang with bridge-specific patterns for
// connection management, publishing, and offline detection.
//
// # Purpose
//
// The bridge is a one-way publisher: every decoded telemetry line from the
// worker is forwarded to victron/delta, and the derived worker liveness
// signal is published retained on victron/status. The bridge's own
// availability is tracked separately on victron/system/status via a Last
// Will and Testament, so consumers can tell a dead bridge apart from a
// bridge whose worker is down.
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Publish errors are returned to the caller and wrapped with sentinel
// errors (ErrNotConnected, ErrPublishFailed) checkable via errors.Is().
// Reconnection is handled automatically by the paho client with
// exponential backoff.
package mqtt
