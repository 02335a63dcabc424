// Package supervisor manages the Victron BLE decoder worker process.
//
// The worker is an external program that decodes instant-readout BLE
// advertisements from Victron devices and writes one JSON document per
// reading to stdout. This package owns its full lifecycle:
//
//   - Spawn with a one-shot JSON configuration handshake over stdin
//   - Relay each complete stdout line to the MQTT bus, unchanged
//   - Surface stderr diagnostics into the operator log
//   - Restart after any exit, with a fixed cooldown between attempts
//   - Publish a retained active/inactive liveness signal
//
// The worker is presumed to run forever; an exit for any reason, including
// a clean exit 0 or a failed spawn, schedules a respawn. Only a host-side
// Stop (or context cancellation) ends the cycle.
//
// Example usage:
//
//	sup := supervisor.New(supervisor.Config{
//	    Name:   "victron-ble",
//	    Binary: "/usr/local/bin/victron-ble-worker",
//	}, mqttClient)
//
//	go sup.Run(ctx)
//
//	err := sup.Start(supervisor.StartupConfig{
//	    Adapter: "hci0",
//	    Devices: []supervisor.Device{
//	        {ID: "shunt", MAC: "C0:3B:98:12:34:56", Key: "0102..."},
//	    },
//	})
package supervisor
