// Package app bootstraps the registry process: it wires storage, bus,
// registry core, crypto, streaming, propagation, hot-swap, bridge, and
// the HTTP server together, registers the api handler surface, and runs
// the background loops under one cancellable group.
package app
