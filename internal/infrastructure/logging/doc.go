// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components take a *zap.Logger and tag lines about a traced request with
// the TraceID field, so log lines can be joined with the artifact of the
// same name.
//
// Example Usage:
//
//	logger, err := logging.New(logging.DefaultConfig())
//	logger.Info("Server starting", zap.String("port", "8000"))
//	logger.Warn("trace write failed", logging.TraceID(file.ID()), zap.Error(err))
package logging
