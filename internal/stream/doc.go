// Package stream maintains the persistent conduits between entries:
// creation with key allocation, per-direction in-memory queues, heartbeat
// supervision with stale detection and reconnect, payload encryption, and
// drain-on-close. Stream records are owned here; entries are referenced
// by id only.
package stream
