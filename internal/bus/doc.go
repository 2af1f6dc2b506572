// Package bus implements the in-process fan-out for change events.
// Subscribers express interest with a filter over category, entry id, and
// facets; each one owns a bounded inbox and a monotonically increasing
// sequence id. Publishers never block: when an inbox is full the oldest
// event is dropped and a counter incremented. Per-entry ordering follows
// publish order; no ordering is promised across entries.
package bus
