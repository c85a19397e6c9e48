// Package logging provides structured logging for the device command core.
//
// It wraps log/slog so every entry carries the service name and version,
// and exposes Debug/Info/Warn/Error with the signatures the domain packages
// declare in their own Logger interfaces.
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log broker passwords, tokens or JWT secrets.
package logging
