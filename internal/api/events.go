package api

import "time"

// ChangeKind classifies a change event.
type ChangeKind string

const (
	ChangeCreated         ChangeKind = "created"
	ChangeUpdated         ChangeKind = "updated"
	ChangeDeleted         ChangeKind = "deleted"
	ChangeDrain           ChangeKind = "drain"
	ChangeHotSwapRollback ChangeKind = "hotswap_rollback"
)

// ChangeEvent is published on the subscription bus whenever an entry
// mutates. SequenceID is assigned per subscriber at delivery time;
// redeliveries of the same event carry the same SequenceID so consumers
// can deduplicate.
type ChangeEvent struct {
	Kind       ChangeKind             `json:"kind"`
	EntryID    string                 `json:"entry_id"`
	Namespace  string                 `json:"namespace"`
	Category   Category               `json:"category"`
	SequenceID uint64                 `json:"sequence_id"`
	Diff       map[string]interface{} `json:"diff,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// SubscriptionFilter expresses subscriber interest. Zero-valued fields
// match everything; set fields are ANDed together.
type SubscriptionFilter struct {
	Category Category            `json:"category,omitempty"`
	EntryID  string              `json:"entry_id,omitempty"`
	Facets   map[string][]string `json:"facets,omitempty"`
}

// Matches reports whether the event passes the filter. Facet filters are
// evaluated against the facets snapshot attached to the event's diff under
// the "facets" key, when present.
func (f SubscriptionFilter) Matches(ev ChangeEvent) bool {
	if f.Category != "" && f.Category != ev.Category {
		return false
	}
	if f.EntryID != "" && f.EntryID != ev.EntryID {
		return false
	}
	if len(f.Facets) > 0 {
		raw, ok := ev.Diff["facets"]
		if !ok {
			return false
		}
		facets, ok := raw.(map[string][]string)
		if !ok {
			return false
		}
		for key, wanted := range f.Facets {
			if !anyOverlap(facets[key], wanted) {
				return false
			}
		}
	}
	return true
}

func anyOverlap(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
