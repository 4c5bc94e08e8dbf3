// Package logging provides structured logging for the connector.
//
// It wraps log/slog so that every component logs with the same format,
// level handling and default fields (service, version).
//
// Two identities exist: the application logger returned by New, and the
// library logger returned by NewLibrary which receives the MQTT client
// library's own diagnostics under logger=mqtt-client.
//
// # Configuration
//
//	logging:
//	  level: "info"       # debug, info, warn, error
//	  format: "json"      # json, text
//	  output: "stdout"    # stdout, stderr
//	  mqtt_level: "warn"  # level for the mqtt-client logger
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	logger.Error("failed to connect", "error", err)
//
// Never log passwords or tokens.
package logging
