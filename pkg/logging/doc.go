// Package logging provides a structured logging system for hyperregistry with
// unified log handling and level filtering.
//
// The package is built on Go's standard slog package. Every log entry carries
// a subsystem attribute identifying the component that emitted it (for
// example "Registry", "PropagationEngine", "HTTPServer"), which makes
// filtering a multi-component log stream practical.
//
// Usage:
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//	logging.Info("Registry", "Registered entry %s", entry.ID)
//	logging.Error("Storage", err, "Failed to persist entry %s", entry.ID)
//
// The log level is normally taken from the REGISTRY_LOG_LEVEL environment
// variable or the configuration file; ParseLevel converts the textual form.
package logging
