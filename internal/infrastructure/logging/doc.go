// Package logging provides structured logging for simplepub.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the publisher.
//
// # Features
//
//   - Text output on stderr by default, stdout stays free for scripts
//   - JSON output for log shippers
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error); a normal run
//     logs at warn and is silent
//   - Thread-safe for concurrent use, the sync loop logs from its own goroutine
//
// # Configuration
//
//	logging:
//	  level: "warn"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  output: "stderr"   # stderr, stdout, discard
//
// The -d/--debug flag forces level debug.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("publish submitted", "topic", topic, "qos", qos)
//	logger.Error("sync failed", "error", err)
//
// # Security
//
// Never log broker passwords or InfluxDB tokens.
package logging
