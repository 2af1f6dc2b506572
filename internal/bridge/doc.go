// Package bridge folds externally discovered services into the registry.
// Each discovery is keyed by a digest over (name, type, endpoint); known
// keys update their entry in place, unknown keys register a new one, and
// keys that stop appearing for the TTL are marked inactive. The bridge
// also serves the read-only unified status aggregate.
package bridge
