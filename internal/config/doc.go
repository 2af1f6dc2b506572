// Package config loads the registry configuration: defaults, the
// config.yaml overlay, and REGISTRY_* environment overrides, in that
// order. A fsnotify watcher re-reads the file on change so tunables can
// be adjusted without a restart.
package config
