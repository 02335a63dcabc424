// Package influxdb provides optional telemetry history storage.
//
// It wraps the official influxdb-client-go v2 library. Each telemetry
// delta relayed from the decoder worker is decomposed into one point per
// reading path, so individual series (battery voltage, solar power, state
// of charge) can be queried and graphed directly.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // ErrDisabled when history storage is off; not fatal
//	}
//	defer client.Close()
//
//	sup.SetRecorder(client)
//
// # Error Handling
//
// Writes are non-blocking and batched; async write errors are delivered
// via the SetOnError callback. Connection and health check errors are
// returned directly.
package influxdb
