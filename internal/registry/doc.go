// Package registry implements the catalog core: validated CRUD over
// entries, the dependency/conflict checks, the LRU read cache, named hook
// points around every mutation, feature-layer registration, and the
// aggregate stats counters. Every mutation persists through the storage
// backend and then publishes a change event on the bus.
package registry
