package mqtt

import "fmt"

// Topic prefixes for the Victron bridge's MQTT surface.
//
// The bridge publishes on three logical paths:
//   - victron/delta          decoded telemetry, forwarded verbatim from the worker
//   - victron/status         worker liveness signal (active/inactive, retained)
//   - victron/system/status  bridge process online/offline (retained, LWT)
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "victron"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "victron/system"
)

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.Delta()  // "victron/delta"
type Topics struct{}

// Delta returns the topic for decoded telemetry deltas.
//
// Example: victron/delta
func (Topics) Delta() string {
	return fmt.Sprintf("%s/delta", TopicPrefix)
}

// Status returns the topic for the worker liveness signal.
//
// Example: victron/status
func (Topics) Status() string {
	return fmt.Sprintf("%s/status", TopicPrefix)
}

// SystemStatus returns the bridge process status topic (also used for LWT).
//
// Example: victron/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
