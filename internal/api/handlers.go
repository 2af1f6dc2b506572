package api

import (
	"context"
	"sync"
)

// RegistryHandler is the catalog surface. The registry core implements it
// through an adapter registered at bootstrap.
type RegistryHandler interface {
	// Register validates and persists a new entry, then publishes a
	// created event. The entry's id is assigned if empty.
	Register(ctx context.Context, entry *Entry) error

	// Get returns the entry by id, cache-first.
	Get(ctx context.Context, id string) (*Entry, error)

	// Search returns entries matching the filters in insertion order.
	Search(ctx context.Context, filters SearchFilters) ([]*Entry, error)

	// Count returns the number of entries matching the filters.
	Count(ctx context.Context, filters SearchFilters) (int, error)

	// Update replaces an existing entry.
	Update(ctx context.Context, entry *Entry, opts UpdateOptions) error

	// Delete removes an entry, refusing when dependents exist unless forced.
	Delete(ctx context.Context, id string, opts DeleteOptions) error

	// ResolveDependencies returns the transitive dependency closure of
	// the entry, depth-first and deduplicated. Cycles fail with CycleError.
	ResolveDependencies(ctx context.Context, id string) ([]string, error)

	// AddRelationship records a (source, target, kind) edge on the source entry.
	AddRelationship(ctx context.Context, source, target, kind string) error

	// RegisterFeatureLayer materializes a feature layer as an entry and
	// populates the facet index. Returns the produced entry id.
	RegisterFeatureLayer(ctx context.Context, layer *FeatureLayer) (string, error)

	// RegisterSubregistry materializes a delegated catalog as an entry in
	// the subregistry category. Returns the produced entry id.
	RegisterSubregistry(ctx context.Context, sub *Subregistry) (string, error)

	// SetStatus transitions an entry's lifecycle status.
	SetStatus(ctx context.Context, id string, status EntryStatus) error

	// Stats returns the aggregate counters.
	Stats() RegistryStats

	// RecordHotSwap feeds the hot-swap outcome counters.
	RecordHotSwap(rolledBack bool)

	// ExportJSON writes an atomic snapshot of all entries to path.
	ExportJSON(ctx context.Context, path string) error
}

// BusHandler is the subscription bus surface.
type BusHandler interface {
	// Subscribe registers interest and returns a subscriber id plus the
	// receive channel. The channel is closed on Unsubscribe.
	Subscribe(filter SubscriptionFilter) (string, <-chan ChangeEvent)

	// Unsubscribe removes the subscriber and closes its channel.
	Unsubscribe(id string)

	// Publish fans the event out to every matching subscriber. Never blocks.
	Publish(ev ChangeEvent)
}

// StreamingHandler is the streaming engine surface.
type StreamingHandler interface {
	CreateStream(ctx context.Context, sourceID, targetID, protocol string, direction StreamDirection) (*Stream, error)
	GetStream(id string) (*Stream, error)
	ListStreams() []*Stream

	// Send delivers a payload over the stream in the source-to-target
	// direction; reverse sends on bidirectional streams use SendReverse.
	Send(ctx context.Context, streamID string, payload map[string]interface{}) error
	SendReverse(ctx context.Context, streamID string, payload map[string]interface{}) error

	// Receive returns the next payload queued in the given direction.
	Receive(ctx context.Context, streamID string, reverse bool) (map[string]interface{}, error)

	// CloseStream drains outstanding messages up to the deadline then
	// marks the stream closed and releases its key.
	CloseStream(ctx context.Context, streamID string) error
}

// PropagationHandler is the propagation engine surface.
type PropagationHandler interface {
	// Propagate executes or enqueues a propagation plan and returns the
	// session id. Immediate and consensus modes complete before returning.
	Propagate(ctx context.Context, req PropagateRequest) (string, error)

	// GetSession returns the tracked session.
	GetSession(id string) (*PropagationSession, error)
}

// HotSwapHandler is the hot-swap manager surface.
type HotSwapHandler interface {
	// Swap replaces the entry's active version with req.NewEntry. At most
	// one swap runs per entry id; extra requests queue.
	Swap(ctx context.Context, req HotSwapRequest) (string, error)

	// GetTransition returns the transition record.
	GetTransition(id string) (*HotSwapTransition, error)

	// ResolveAlias returns the entry id the name@namespace alias points at.
	ResolveAlias(namespace, name string) (string, error)
}

// BridgeHandler is the integration bridge surface.
type BridgeHandler interface {
	// Reconcile folds one batch of discoveries into the registry.
	Reconcile(ctx context.Context, discovered []DiscoveredService) error

	// UnifiedStatus returns the read-only aggregate for health endpoints.
	UnifiedStatus(ctx context.Context) (*UnifiedStatus, error)
}

// Handler registry variables store the registered implementations.
// All access is protected by handlerMutex.
var (
	registryHandler    RegistryHandler
	busHandler         BusHandler
	streamingHandler   StreamingHandler
	propagationHandler PropagationHandler
	hotSwapHandler     HotSwapHandler
	bridgeHandler      BridgeHandler

	handlerMutex sync.RWMutex
)

// RegisterRegistry registers the registry handler. Thread-safe; a second
// registration replaces the first.
func RegisterRegistry(h RegistryHandler) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	registryHandler = h
}

// GetRegistry returns the registered registry handler, or nil before bootstrap.
func GetRegistry() RegistryHandler {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return registryHandler
}

// RegisterBus registers the subscription bus handler.
func RegisterBus(h BusHandler) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	busHandler = h
}

// GetBus returns the registered bus handler, or nil before bootstrap.
func GetBus() BusHandler {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return busHandler
}

// RegisterStreaming registers the streaming engine handler.
func RegisterStreaming(h StreamingHandler) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	streamingHandler = h
}

// GetStreaming returns the registered streaming handler, or nil before bootstrap.
func GetStreaming() StreamingHandler {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return streamingHandler
}

// RegisterPropagation registers the propagation engine handler.
func RegisterPropagation(h PropagationHandler) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	propagationHandler = h
}

// GetPropagation returns the registered propagation handler, or nil before bootstrap.
func GetPropagation() PropagationHandler {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return propagationHandler
}

// RegisterHotSwap registers the hot-swap manager handler.
func RegisterHotSwap(h HotSwapHandler) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	hotSwapHandler = h
}

// GetHotSwap returns the registered hot-swap handler, or nil before bootstrap.
func GetHotSwap() HotSwapHandler {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return hotSwapHandler
}

// RegisterBridge registers the integration bridge handler.
func RegisterBridge(h BridgeHandler) {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	bridgeHandler = h
}

// GetBridge returns the registered bridge handler, or nil before bootstrap.
func GetBridge() BridgeHandler {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return bridgeHandler
}

// ResetHandlers clears every registered handler. Test helper.
func ResetHandlers() {
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	registryHandler = nil
	busHandler = nil
	streamingHandler = nil
	propagationHandler = nil
	hotSwapHandler = nil
	bridgeHandler = nil
}
