// Package logging provides structured logging for the rulesched engine.
//
// This package wraps Go's log/slog to emit JSON records. Every engine
// component logs through a child [Logger] tagged with its component name,
// and per-job records additionally carry the job and worker thread names so
// a run can be reconstructed from engine.log after the fact.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying handler and file.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	pool := logger.WithComponent("pool")
//	pool.Info("worker started", "workers", 3)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"worker started","component":"pool","workers":3}
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewLoggerWithWriter] with a
// bytes.Buffer to assert on records.
//
// # Configuration
//
//	logging:
//	  enabled: true
//	  level: info
//	  dir: /tmp/rulesched
package logging
