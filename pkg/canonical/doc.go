// Package canonical implements the deterministic serialization used for
// entry checksums. Object keys are sorted, number formatting is stable,
// and the output is valid JSON, so the same payload always hashes to the
// same SHA-256 digest regardless of map iteration order.
package canonical
