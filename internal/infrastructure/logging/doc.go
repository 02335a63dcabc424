// Package logging provides structured logging for the Victron bridge.
//
// It wraps log/slog with configuration-driven level, format, and output
// selection, and stamps every record with the service name and version.
// Components receive a child logger via With("component", ...) so records
// can be filtered per subsystem.
package logging
