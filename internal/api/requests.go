package api

import "time"

// SearchFilters is the filter grammar shared by storage, registry, HTTP,
// and CLI search paths. Equality fields are ANDed; Facets are ANDed
// across keys and ORed within a key's value list.
type SearchFilters struct {
	Namespace string              `json:"namespace,omitempty"`
	Category  Category            `json:"type,omitempty"`
	Status    EntryStatus         `json:"status,omitempty"`
	Facets    map[string][]string `json:"facets,omitempty"`
}

// SearchRequest is the body of POST /v1/registry/search.
type SearchRequest struct {
	// Query is a free-text substring matched against name and namespace.
	Query   string        `json:"query,omitempty"`
	Filters SearchFilters `json:"filters,omitempty"`
	Limit   int           `json:"limit,omitempty"`
}

// SearchResponse carries the hits and the total matching count before the
// limit was applied.
type SearchResponse struct {
	Hits  []*Entry `json:"hits"`
	Total int      `json:"total"`
}

// UpdateOptions modifies update semantics.
type UpdateOptions struct {
	// AllowDowngrade permits replacing an entry with a lower version.
	AllowDowngrade bool

	// ConcurrencyToken is the updated_at the caller last observed. When
	// set, the update is rejected with a ConflictError if the stored
	// entry has moved past it (subject to the conflict policy).
	ConcurrencyToken time.Time
}

// DeleteOptions modifies delete semantics.
type DeleteOptions struct {
	// Force deletes even when dependents exist. Their dependency lists
	// are left untouched.
	Force bool
}

// RelationshipRequest is the body of POST /v1/registry/relationships.
type RelationshipRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

// PropagateRequest is the body of POST /v1/registry/propagate.
type PropagateRequest struct {
	EntryID string                 `json:"entry_id"`
	Update  map[string]interface{} `json:"update"`
	Mode    PropagationMode        `json:"mode"`

	// Quorum is required for consensus mode: 1 <= Quorum <= len(targets).
	Quorum int `json:"quorum,omitempty"`

	// Timeout bounds consensus acknowledgment waits and immediate-mode
	// delivery. Zero means the engine default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// HotSwapRequest is the body of POST /v1/registry/hotswap.
type HotSwapRequest struct {
	EntryID  string `json:"entry_id"`
	NewEntry *Entry `json:"new_entry"`

	// VerifyDeadline bounds the verification phase. Zero means the
	// manager default.
	VerifyDeadline time.Duration `json:"verify_deadline,omitempty"`
}

// RegistryStats is the aggregate counter payload of GET /v1/registry/stats.
type RegistryStats struct {
	TotalRegistered    int64   `json:"total_registered"`
	TotalActive        int64   `json:"total_active"`
	TotalQueries       int64   `json:"total_queries"`
	AvgQueryTimeMs     float64 `json:"avg_query_time_ms"`
	CacheHits          int64   `json:"cache_hits"`
	CacheMisses        int64   `json:"cache_misses"`
	HotswapsCompleted  int64   `json:"hotswaps_completed"`
	HotswapsRolledBack int64   `json:"hotswaps_rolled_back"`
}

// ComponentHealth is one subsystem's line in the health payload.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthStatus is the payload of GET /v1/registry/health.
type HealthStatus struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
}

// UnifiedStatus is the read-only aggregate the bridge exposes.
type UnifiedStatus struct {
	Bridge struct {
		SyncedComponents int `json:"synced_components"`
	} `json:"bridge"`
	Orchestrator struct {
		ServicesDiscovered int `json:"services_discovered"`
	} `json:"orchestrator"`
	Registry struct {
		TotalEntries int64          `json:"total_entries"`
		Categories   map[string]int `json:"categories"`
	} `json:"registry"`
	Timestamp time.Time `json:"timestamp"`
}
