// Package propagation executes rule-driven update fan-out between
// entries. Four modes: immediate (deliver before returning), eventual
// (enqueue, best-effort), cascade (depth-first over propagation targets
// with per-hop rules and a cycle guard), and consensus (local quorum of
// acknowledgments with rollback on failure). Every session is tracked
// with a status and progress; deliveries go through the resilience layer.
package propagation
