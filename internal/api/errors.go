package api

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError reports that an entry or request violates one or more
// invariants. Violations are collected exhaustively rather than failing
// on the first problem, so a caller can fix everything in one pass.
type ValidationError struct {
	// Resource identifies what was being validated (e.g. "entry", "feature_layer").
	Resource string

	// Violations lists every invariant breach found, one message each.
	Violations []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("%s failed validation", e.Resource)
	}
	return fmt.Sprintf("%s failed validation: %s", e.Resource, strings.Join(e.Violations, "; "))
}

// IsValidation checks if an error is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NewValidationError creates a ValidationError for the given resource
// with the collected violation messages.
func NewValidationError(resource string, violations []string) *ValidationError {
	return &ValidationError{Resource: resource, Violations: violations}
}

// NotFoundError reports that a requested resource does not exist.
type NotFoundError struct {
	// ResourceType categorizes the missing resource
	// (e.g. "entry", "stream", "session", "transition").
	ResourceType string

	// ResourceID is the identifier that failed to resolve.
	ResourceID string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceID)
}

// IsNotFound checks if an error is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// NewNotFoundError creates a NotFoundError for the given resource type and id.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

// ConflictError reports a uniqueness collision or a concurrent-update
// conflict. For concurrent updates both versions are attached so that a
// manual resolver can inspect them.
type ConflictError struct {
	// Reason describes the collision (e.g. "duplicate (namespace,name,version)").
	Reason string

	// EntryID is the entry involved, when known.
	EntryID string

	// Ours is the incoming payload for concurrent-update conflicts; nil otherwise.
	Ours map[string]interface{}

	// Theirs is the stored payload for concurrent-update conflicts; nil otherwise.
	Theirs map[string]interface{}
}

// Error implements the error interface for ConflictError.
func (e *ConflictError) Error() string {
	if e.EntryID != "" {
		return fmt.Sprintf("conflict on %s: %s", e.EntryID, e.Reason)
	}
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// IsConflict checks if an error is or wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// NewConflictError creates a ConflictError with the given reason.
func NewConflictError(entryID, reason string) *ConflictError {
	return &ConflictError{EntryID: entryID, Reason: reason}
}

// DependentsExistError reports that a delete would orphan entries whose
// dependency lists reference the target. The caller may retry with force.
type DependentsExistError struct {
	// EntryID is the entry whose deletion was refused.
	EntryID string

	// Dependents lists the ids of entries that depend on EntryID.
	Dependents []string
}

// Error implements the error interface for DependentsExistError.
func (e *DependentsExistError) Error() string {
	return fmt.Sprintf("entry %s has %d dependents: %s",
		e.EntryID, len(e.Dependents), strings.Join(e.Dependents, ", "))
}

// IsDependentsExist checks if an error is or wraps a DependentsExistError.
func IsDependentsExist(err error) bool {
	var de *DependentsExistError
	return errors.As(err, &de)
}

// NewDependentsExistError creates a DependentsExistError for the given
// entry and its dependents.
func NewDependentsExistError(entryID string, dependents []string) *DependentsExistError {
	return &DependentsExistError{EntryID: entryID, Dependents: dependents}
}

// CycleError reports a dependency cycle. Path holds the offending ids in
// traversal order, repeating the first id at the end.
type CycleError struct {
	Path []string
}

// Error implements the error interface for CycleError.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// IsCycle checks if an error is or wraps a CycleError.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// NewCycleError creates a CycleError with the offending path.
func NewCycleError(path []string) *CycleError {
	return &CycleError{Path: path}
}

// StorageError wraps a backend failure. The store is guaranteed unchanged
// when one of these surfaces from a mutating call.
type StorageError struct {
	// Op names the storage operation that failed (e.g. "save", "search").
	Op string

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying driver error for errors.Is/As chains.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorage checks if an error is or wraps a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// NewStorageError wraps err as a StorageError for the given operation.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// TimeoutError reports that a guarded call exceeded its deadline.
// Timeouts are retryable.
type TimeoutError struct {
	// Op names the operation that timed out.
	Op string

	// Timeout is the deadline that was exceeded.
	Timeout time.Duration
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

// IsTimeout checks if an error is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// NewTimeoutError creates a TimeoutError for the given operation and deadline.
func NewTimeoutError(op string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{Op: op, Timeout: timeout}
}

// CircuitOpenError reports that the circuit breaker guarding a dependency
// is open and the call was failed fast without being attempted.
type CircuitOpenError struct {
	// Dependency names the guarded dependency (e.g. "storage", "stream:abc").
	Dependency string
}

// Error implements the error interface for CircuitOpenError.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s", e.Dependency)
}

// IsCircuitOpen checks if an error is or wraps a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

// NewCircuitOpenError creates a CircuitOpenError for the given dependency.
func NewCircuitOpenError(dependency string) *CircuitOpenError {
	return &CircuitOpenError{Dependency: dependency}
}

// HotSwapAbortedError reports that a hot-swap failed verification and was
// rolled back. The alias still points at FromVersion when this surfaces.
type HotSwapAbortedError struct {
	EntryID     string
	FromVersion string
	ToVersion   string
	Reason      string
}

// Error implements the error interface for HotSwapAbortedError.
func (e *HotSwapAbortedError) Error() string {
	return fmt.Sprintf("hot-swap of %s from %s to %s aborted: %s",
		e.EntryID, e.FromVersion, e.ToVersion, e.Reason)
}

// IsHotSwapAborted checks if an error is or wraps a HotSwapAbortedError.
func IsHotSwapAborted(err error) bool {
	var he *HotSwapAbortedError
	return errors.As(err, &he)
}

// NewHotSwapAbortedError creates a HotSwapAbortedError.
func NewHotSwapAbortedError(entryID, fromVersion, toVersion, reason string) *HotSwapAbortedError {
	return &HotSwapAbortedError{
		EntryID:     entryID,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Reason:      reason,
	}
}

// ConsensusRejectedError reports that a consensus propagation missed its
// quorum with every delivery settled. Unlike a timeout the outcome is
// definitive; the session is already rolled back when this surfaces.
type ConsensusRejectedError struct {
	EntryID string
	Acks    int
	Quorum  int
}

// Error implements the error interface for ConsensusRejectedError.
func (e *ConsensusRejectedError) Error() string {
	return fmt.Sprintf("consensus for %s rejected: %d/%d acknowledgments",
		e.EntryID, e.Acks, e.Quorum)
}

// IsConsensusRejected checks if an error is or wraps a ConsensusRejectedError.
func IsConsensusRejected(err error) bool {
	var ce *ConsensusRejectedError
	return errors.As(err, &ce)
}

// NewConsensusRejectedError creates a ConsensusRejectedError.
func NewConsensusRejectedError(entryID string, acks, quorum int) *ConsensusRejectedError {
	return &ConsensusRejectedError{EntryID: entryID, Acks: acks, Quorum: quorum}
}

// EncryptionError reports a missing key or invalid ciphertext. Never retried.
type EncryptionError struct {
	// Op names the crypto operation ("encrypt", "decrypt", "rotate", "load_key").
	Op string

	// Reason describes the failure.
	Reason string
}

// Error implements the error interface for EncryptionError.
func (e *EncryptionError) Error() string {
	return fmt.Sprintf("encryption %s failed: %s", e.Op, e.Reason)
}

// IsEncryption checks if an error is or wraps an EncryptionError.
func IsEncryption(err error) bool {
	var ee *EncryptionError
	return errors.As(err, &ee)
}

// NewEncryptionError creates an EncryptionError.
func NewEncryptionError(op, reason string) *EncryptionError {
	return &EncryptionError{Op: op, Reason: reason}
}

// NetworkError reports a failed call to a remote collaborator. Retried
// with backoff.
type NetworkError struct {
	// Endpoint is the address the call targeted.
	Endpoint string

	Err error
}

// Error implements the error interface for NetworkError.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure reaching %s: %v", e.Endpoint, e.Err)
}

// Unwrap exposes the wrapped error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetwork checks if an error is or wraps a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// NewNetworkError creates a NetworkError.
func NewNetworkError(endpoint string, err error) *NetworkError {
	return &NetworkError{Endpoint: endpoint, Err: err}
}

// RetryableError marks a wrapped error as transient so the resilience
// layer retries it even when it is not a timeout or network failure.
type RetryableError struct {
	Err error
}

// Error implements the error interface for RetryableError.
func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// MarkRetryable wraps err so IsRetryable reports true for it.
func MarkRetryable(err error) *RetryableError {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether the resilience layer should retry err.
// Timeouts, explicitly marked errors, and transient storage failures
// qualify; validation and conflict errors never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsValidation(err) || IsConflict(err) || IsEncryption(err) {
		return false
	}
	if IsTimeout(err) || IsNetwork(err) {
		return true
	}
	var re *RetryableError
	return errors.As(err, &re)
}
