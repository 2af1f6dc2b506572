package api

import (
	"time"

	"hyperregistry/pkg/canonical"
)

// DefaultTenant is assigned when an entry omits its tenant.
const DefaultTenant = "default"

// Relationship links an entry to another entry by id with a free-form kind
// (e.g. "feeds", "monitors", "extends"). Relationships never imply
// ownership; ids are resolved through the registry.
type Relationship struct {
	TargetID string `json:"target_id"`
	Kind     string `json:"kind"`
}

// Entry is the unit of registration in the catalog. Identity is the
// (Namespace, Name, Version) triple plus a globally unique ID; everything
// an entry carries beyond identity is opaque payload, graph edges, quality
// scores, and the flags the streaming, propagation, and hot-swap
// subsystems consult.
type Entry struct {
	// Identity
	ID        string   `json:"id"`
	Namespace string   `json:"namespace"`
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Category  Category `json:"category"`
	TenantID  string   `json:"tenant_id"`

	// Provenance and integrity
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	Checksum  string    `json:"checksum,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`

	// Payload
	Data           map[string]interface{} `json:"data,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Specifications map[string]interface{} `json:"specifications,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
	Tags           []string               `json:"tags,omitempty"`

	// Graph
	Dependencies  []string       `json:"dependencies,omitempty"`
	Conflicts     []string       `json:"conflicts,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`

	// Lifecycle
	Status EntryStatus `json:"status"`

	// Quality
	GEFS GEFS `json:"gefs"`

	// Subsystem flags
	StreamingEnabled   bool            `json:"streaming_enabled,omitempty"`
	HotSwapEnabled     bool            `json:"hotswap_enabled,omitempty"`
	PropagationTargets []string        `json:"propagation_targets,omitempty"`
	PropagationMode    PropagationMode `json:"propagation_mode,omitempty"`
}

// ComputeChecksum returns the SHA-256 over the canonical serialization of
// the entry's payload and metadata. The checksum ignores identity and
// lifecycle fields so that status transitions do not invalidate it.
func (e *Entry) ComputeChecksum() (string, error) {
	payload := map[string]interface{}{
		"data":           mapOrEmpty(e.Data),
		"metadata":       mapOrEmpty(e.Metadata),
		"specifications": mapOrEmpty(e.Specifications),
		"config":         mapOrEmpty(e.Config),
		"tags":           sliceOrEmpty(e.Tags),
	}
	return canonical.Checksum(payload)
}

func mapOrEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Clone returns a deep copy of the entry. Mutating the copy never affects
// the original; the cache hands out clones so callers cannot corrupt it.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Data = cloneMap(e.Data)
	cp.Metadata = cloneMap(e.Metadata)
	cp.Specifications = cloneMap(e.Specifications)
	cp.Config = cloneMap(e.Config)
	cp.Tags = append([]string(nil), e.Tags...)
	cp.Dependencies = append([]string(nil), e.Dependencies...)
	cp.Conflicts = append([]string(nil), e.Conflicts...)
	cp.Relationships = append([]Relationship(nil), e.Relationships...)
	cp.PropagationTargets = append([]string(nil), e.PropagationTargets...)
	return &cp
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = cloneMap(val)
		case []interface{}:
			out[k] = append([]interface{}(nil), val...)
		default:
			out[k] = v
		}
	}
	return out
}

// Facets extracts the facet relation rows for the entry from
// config.facets and metadata.facets. Both shapes are accepted:
// map[string][]string and map[string]interface{} holding string lists.
// Values within a key are deduplicated preserving first occurrence.
func (e *Entry) Facets() map[string][]string {
	out := map[string][]string{}
	mergeFacetSource(out, e.Config["facets"])
	mergeFacetSource(out, e.Metadata["facets"])
	return out
}

func mergeFacetSource(dst map[string][]string, src interface{}) {
	switch facets := src.(type) {
	case map[string][]string:
		for k, vals := range facets {
			dst[k] = mergeFacetValues(dst[k], vals)
		}
	case map[string]interface{}:
		for k, raw := range facets {
			var vals []string
			switch list := raw.(type) {
			case []string:
				vals = list
			case []interface{}:
				for _, item := range list {
					if s, ok := item.(string); ok {
						vals = append(vals, s)
					}
				}
			case string:
				vals = []string{list}
			}
			dst[k] = mergeFacetValues(dst[k], vals)
		}
	}
}

func mergeFacetValues(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := existing
	for _, v := range existing {
		seen[v] = true
	}
	for _, v := range incoming {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// GEFS is the six-component quality rating attached to every entry.
// All scores are in [0,100].
type GEFS struct {
	Quality       float64 `json:"quality"`
	Reliability   float64 `json:"reliability"`
	Performance   float64 `json:"performance"`
	Security      float64 `json:"security"`
	Compatibility float64 `json:"compatibility"`
	Documentation float64 `json:"documentation"`
}

// GEFS component weights. They sum to 1.0.
const (
	WeightQuality       = 0.25
	WeightReliability   = 0.20
	WeightPerformance   = 0.20
	WeightSecurity      = 0.15
	WeightCompatibility = 0.10
	WeightDocumentation = 0.10
)

// Overall returns the weighted sum of the six scores.
func (g GEFS) Overall() float64 {
	return g.Quality*WeightQuality +
		g.Reliability*WeightReliability +
		g.Performance*WeightPerformance +
		g.Security*WeightSecurity +
		g.Compatibility*WeightCompatibility +
		g.Documentation*WeightDocumentation
}

// Grade maps the overall score to its letter band.
func (g GEFS) Grade() string {
	score := g.Overall()
	switch {
	case score >= 95:
		return "A+"
	case score >= 90:
		return "A"
	case score >= 85:
		return "A-"
	case score >= 80:
		return "B+"
	case score >= 75:
		return "B"
	case score >= 70:
		return "B-"
	case score >= 65:
		return "C+"
	case score >= 60:
		return "C"
	default:
		return "F"
	}
}

// Maturity classifies a feature flag's release stage.
type Maturity string

const (
	MaturityAlpha      Maturity = "alpha"
	MaturityBeta       Maturity = "beta"
	MaturityGA         Maturity = "ga"
	MaturityDeprecated Maturity = "deprecated"
)

// IsValid reports whether the maturity is one of the four known stages.
func (m Maturity) IsValid() bool {
	switch m {
	case MaturityAlpha, MaturityBeta, MaturityGA, MaturityDeprecated:
		return true
	}
	return false
}

// FeatureFlag is a single flag inside a FeatureLayer.
type FeatureFlag struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Maturity Maturity `json:"maturity"`
	Enabled  bool     `json:"enabled"`
	Weight   float64  `json:"weight"`
	Tags     []string `json:"tags,omitempty"`
}

// FeatureLayer is a composite classification. Registering one produces a
// registry entry in the feature_layer category and contributes its facets
// to the facet index.
type FeatureLayer struct {
	ID        string              `json:"id"`
	Namespace string              `json:"namespace"`
	Name      string              `json:"name"`
	Version   string              `json:"version"`
	Flags     []FeatureFlag       `json:"flags,omitempty"`
	Facets    map[string][]string `json:"facets,omitempty"`
}

// BuildFacets merges the layer's explicit facets with facets derived from
// its flags (flag category, maturity, and tags). Within each key, values
// keep first-occurrence order and duplicates are removed.
func (fl *FeatureLayer) BuildFacets() map[string][]string {
	out := map[string][]string{}
	for k, vals := range fl.Facets {
		out[k] = mergeFacetValues(nil, vals)
	}
	for _, flag := range fl.Flags {
		if flag.Category != "" {
			out["flag_category"] = mergeFacetValues(out["flag_category"], []string{flag.Category})
		}
		if flag.Maturity != "" {
			out["maturity"] = mergeFacetValues(out["maturity"], []string{string(flag.Maturity)})
		}
		if len(flag.Tags) > 0 {
			out["flag_tags"] = mergeFacetValues(out["flag_tags"], flag.Tags)
		}
	}
	return out
}

// Subregistry is a delegated catalog. Registering one produces a
// registry entry in the subregistry category pointing at the remote
// endpoint.
type Subregistry struct {
	ID          string `json:"id"`
	Namespace   string `json:"namespace"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Endpoint    string `json:"endpoint"`
	Description string `json:"description,omitempty"`
}

// StreamDirection describes how payloads flow through a stream.
type StreamDirection string

const (
	DirectionUnidirectional StreamDirection = "unidirectional"
	DirectionBidirectional  StreamDirection = "bidirectional"
	DirectionMulticast      StreamDirection = "multicast"
	DirectionBroadcast      StreamDirection = "broadcast"
)

// IsValid reports whether the direction is one of the four known values.
func (d StreamDirection) IsValid() bool {
	switch d {
	case DirectionUnidirectional, DirectionBidirectional, DirectionMulticast, DirectionBroadcast:
		return true
	}
	return false
}

// StreamStatus tracks the lifecycle of a stream.
type StreamStatus string

const (
	StreamConnecting StreamStatus = "connecting"
	StreamConnected  StreamStatus = "connected"
	StreamStale      StreamStatus = "stale"
	StreamClosed     StreamStatus = "closed"
)

// StreamMetrics counts traffic on one stream.
type StreamMetrics struct {
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
}

// Stream is a persistent conduit between two entries.
type Stream struct {
	StreamID         string          `json:"stream_id"`
	SourceID         string          `json:"source_id"`
	TargetID         string          `json:"target_id"`
	Protocol         string          `json:"protocol"`
	Direction        StreamDirection `json:"direction"`
	EncryptionKeyRef string          `json:"encryption_key_ref,omitempty"`
	Status           StreamStatus    `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	LastActivity     time.Time       `json:"last_activity"`
	Metrics          StreamMetrics   `json:"metrics"`
}

// PropagationMode selects how an update fans out from its source entry.
type PropagationMode string

const (
	PropagationImmediate PropagationMode = "immediate"
	PropagationEventual  PropagationMode = "eventual"
	PropagationCascade   PropagationMode = "cascade"
	PropagationConsensus PropagationMode = "consensus"
)

// IsValid reports whether the mode is one of the four known values.
func (m PropagationMode) IsValid() bool {
	switch m {
	case PropagationImmediate, PropagationEventual, PropagationCascade, PropagationConsensus:
		return true
	}
	return false
}

// SessionStatus tracks a propagation session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionDone       SessionStatus = "done"
	SessionFailed     SessionStatus = "failed"
	SessionRolledBack SessionStatus = "rolled_back"
)

// PropagationSession is a tracked execution of one propagation plan.
type PropagationSession struct {
	SessionID     string          `json:"session_id"`
	SourceEntryID string          `json:"source_entry_id"`
	Mode          PropagationMode `json:"mode"`
	Path          []string        `json:"path,omitempty"`
	Status        SessionStatus   `json:"status"`
	Progress      float64         `json:"progress"`
	CreatedAt     time.Time       `json:"created_at"`
	Error         string          `json:"error,omitempty"`
}

// HotSwapPhase is one step of a version transition.
type HotSwapPhase string

const (
	PhaseStaging    HotSwapPhase = "staging"
	PhaseDraining   HotSwapPhase = "draining"
	PhaseSwitching  HotSwapPhase = "switching"
	PhaseVerifying  HotSwapPhase = "verifying"
	PhaseDone       HotSwapPhase = "done"
	PhaseRolledBack HotSwapPhase = "rolled_back"
)

// HotSwapTransition records one version replacement, in flight or finished.
type HotSwapTransition struct {
	TransitionID    string       `json:"transition_id"`
	EntryID         string       `json:"entry_id"`
	FromVersion     string       `json:"from_version"`
	ToVersion       string       `json:"to_version"`
	Phase           HotSwapPhase `json:"phase"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     time.Time    `json:"completed_at,omitempty"`
	RollbackVersion string       `json:"rollback_version,omitempty"`
}

// DiscoveredService is a candidate entry produced by a discovery
// collaborator (environment scan, DNS, port probe). The bridge reconciles
// these into registry entries.
type DiscoveredService struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Endpoint string            `json:"endpoint"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
