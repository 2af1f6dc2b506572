// Package resilience guards calls out of the registry core: storage,
// streams, propagation deliveries, and external adapters. Each guarded
// call gets a per-request timeout, exponential-backoff retries for
// retryable errors, and a per-dependency circuit breaker that fails fast
// while a dependency is known to be down.
package resilience
