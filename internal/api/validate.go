package api

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
)

// NewEntry constructs an entry with identity filled in and invariants
// checked. An empty id is replaced with a fresh UUID, the tenant defaults,
// timestamps are set, and the checksum is computed. Returns a
// ValidationError enumerating every violation when the result would be
// invalid.
func NewEntry(namespace, name, version string, category Category) (*Entry, error) {
	now := time.Now().UTC()
	e := &Entry{
		ID:        uuid.NewString(),
		Namespace: namespace,
		Name:      name,
		Version:   version,
		Category:  category,
		TenantID:  DefaultTenant,
		Status:    StatusRegistered,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.RefreshChecksum(); err != nil {
		return nil, err
	}
	if violations := ValidateEntry(e); len(violations) > 0 {
		return nil, NewValidationError("entry", violations)
	}
	return e, nil
}

// RefreshChecksum recomputes and stores the entry's checksum and size.
func (e *Entry) RefreshChecksum() error {
	sum, err := e.ComputeChecksum()
	if err != nil {
		return NewValidationError("entry", []string{fmt.Sprintf("payload not canonicalizable: %v", err)})
	}
	e.Checksum = sum
	return nil
}

// ValidateEntry enumerates every invariant violation on the entry. It
// never fails fast; an empty result means the entry is valid.
func ValidateEntry(e *Entry) []string {
	var violations []string

	if e.ID == "" {
		violations = append(violations, "id must not be empty")
	}
	if e.Namespace == "" {
		violations = append(violations, "namespace must not be empty")
	}
	if e.Name == "" {
		violations = append(violations, "name must not be empty")
	}
	if e.Version == "" {
		violations = append(violations, "version must not be empty")
	} else if _, err := semver.NewVersion(e.Version); err != nil {
		violations = append(violations, fmt.Sprintf("version %q is not valid semver", e.Version))
	}
	if !e.Category.IsValid() {
		violations = append(violations, fmt.Sprintf("category %q is not in the taxonomy", e.Category))
	}
	if !e.Status.IsValid() {
		violations = append(violations, fmt.Sprintf("status %q is not a known status", e.Status))
	}
	if !e.UpdatedAt.IsZero() && !e.CreatedAt.IsZero() && e.UpdatedAt.Before(e.CreatedAt) {
		violations = append(violations, "updated_at must not precede created_at")
	}

	violations = append(violations, validateScores(e.GEFS)...)

	// dependencies and conflicts must be disjoint
	conflictSet := make(map[string]bool, len(e.Conflicts))
	for _, id := range e.Conflicts {
		conflictSet[id] = true
	}
	for _, dep := range e.Dependencies {
		if conflictSet[dep] {
			violations = append(violations, fmt.Sprintf("entry %s appears in both dependencies and conflicts", dep))
		}
	}

	if e.Checksum != "" {
		if sum, err := e.ComputeChecksum(); err != nil {
			violations = append(violations, fmt.Sprintf("payload not canonicalizable: %v", err))
		} else if sum != e.Checksum {
			violations = append(violations, "checksum does not match payload")
		}
	}

	if e.PropagationMode != "" && !e.PropagationMode.IsValid() {
		violations = append(violations, fmt.Sprintf("propagation mode %q is not a known mode", e.PropagationMode))
	}

	return violations
}

func validateScores(g GEFS) []string {
	var violations []string
	scores := []struct {
		name  string
		value float64
	}{
		{"quality", g.Quality},
		{"reliability", g.Reliability},
		{"performance", g.Performance},
		{"security", g.Security},
		{"compatibility", g.Compatibility},
		{"documentation", g.Documentation},
	}
	for _, s := range scores {
		if s.value < 0 || s.value > 100 {
			violations = append(violations, fmt.Sprintf("gefs %s score %.2f outside [0,100]", s.name, s.value))
		}
	}
	return violations
}

// ValidateSubregistry enumerates invariant violations on a subregistry.
func ValidateSubregistry(sub *Subregistry) []string {
	var violations []string
	if sub.Namespace == "" {
		violations = append(violations, "namespace must not be empty")
	}
	if sub.Name == "" {
		violations = append(violations, "name must not be empty")
	}
	if sub.Version == "" {
		violations = append(violations, "version must not be empty")
	} else if _, err := semver.NewVersion(sub.Version); err != nil {
		violations = append(violations, fmt.Sprintf("version %q is not valid semver", sub.Version))
	}
	if sub.Endpoint == "" {
		violations = append(violations, "endpoint must not be empty")
	}
	return violations
}

// ValidateFeatureLayer enumerates invariant violations on a feature layer.
func ValidateFeatureLayer(fl *FeatureLayer) []string {
	var violations []string
	if fl.Namespace == "" {
		violations = append(violations, "namespace must not be empty")
	}
	if fl.Name == "" {
		violations = append(violations, "name must not be empty")
	}
	if fl.Version == "" {
		violations = append(violations, "version must not be empty")
	} else if _, err := semver.NewVersion(fl.Version); err != nil {
		violations = append(violations, fmt.Sprintf("version %q is not valid semver", fl.Version))
	}
	for i, flag := range fl.Flags {
		if flag.ID == "" {
			violations = append(violations, fmt.Sprintf("flag %d: id must not be empty", i))
		}
		if !flag.Maturity.IsValid() {
			violations = append(violations, fmt.Sprintf("flag %s: maturity %q is not alpha/beta/ga/deprecated", flag.ID, flag.Maturity))
		}
		if flag.Weight < 0 {
			violations = append(violations, fmt.Sprintf("flag %s: weight must not be negative", flag.ID))
		}
	}
	return violations
}
