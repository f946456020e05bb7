// Package logging provides structured logging for the MQTT connector.
//
// This package wraps Go's standard log/slog package. The connector itself
// never writes logs directly: it emits events through its LogCallback and
// mqtt.SlogCallback forwards them to a Logger from this package.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Optional append-only file output
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/mqtt-connector/connector.log"
//
// # Usage
//
//	logger, err := logging.New(cfg.Logging, version)
//	if err != nil { ... }
//	defer logger.Close()
//	connector.SetLogCallback(mqtt.SlogCallback(logger.Logger))
//
// # Security
//
// Never log secrets, tokens or passwords. The connector's events carry the
// client ID and broker address but never credentials.
package logging
