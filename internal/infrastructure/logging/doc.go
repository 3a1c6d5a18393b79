// Package logging provides structured logging for the Lightify bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the daemon and CLI.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Rotating file output via lumberjack
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: "./logs/lightify.log"
//	    max_size: 50     # megabytes before rotation
//	    max_backups: 5
//	    max_age: 30      # days
//	    compress: true
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Info("gateway connected", "address", addr)
//
// Never log secrets such as the MQTT password or InfluxDB token.
package logging
