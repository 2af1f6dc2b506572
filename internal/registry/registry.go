package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"hyperregistry/internal/api"
	"hyperregistry/internal/dependency"
	"hyperregistry/internal/resilience"
	"hyperregistry/internal/storage"
	"hyperregistry/pkg/logging"
)

const subsystem = "Registry"

// DefaultCacheSize bounds the entry read cache.
const DefaultCacheSize = 100000

// Options configures the registry core.
type Options struct {
	// CacheSize bounds the LRU entry cache; <= 0 selects DefaultCacheSize.
	CacheSize int
}

// Registry is the catalog core. Construct with New; one instance owns
// the storage backend and all entries in it.
type Registry struct {
	store *storage.Backend
	bus   api.BusHandler
	exec  *resilience.Executor
	cache *lru.Cache[string, *api.Entry]
	hooks *hookSet
	stats *metrics

	// pubMu spans persist through publish so subscribers observe change
	// events in store write order.
	pubMu sync.Mutex
}

// New builds the registry core around a storage backend and a bus.
func New(store *storage.Backend, b api.BusHandler, exec *resilience.Executor, opts Options) (*Registry, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *api.Entry](size)
	if err != nil {
		return nil, err
	}
	return &Registry{
		store: store,
		bus:   b,
		exec:  exec,
		cache: cache,
		hooks: newHookSet(),
		stats: &metrics{},
	}, nil
}

// AddHook attaches a hook at the given point. Hooks run in registration order.
func (r *Registry) AddHook(point HookPoint, hook Hook) {
	r.hooks.add(point, hook)
}

// Register validates and persists a new entry, then publishes a created
// event. An empty id is assigned; timestamps and checksum are filled in
// when missing.
func (r *Registry) Register(ctx context.Context, entry *api.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.TenantID == "" {
		entry.TenantID = api.DefaultTenant
	}
	if entry.Status == "" {
		entry.Status = api.StatusRegistered
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.UpdatedAt.IsZero() || entry.UpdatedAt.Before(entry.CreatedAt) {
		entry.UpdatedAt = entry.CreatedAt
	}
	if entry.Checksum == "" {
		if err := entry.RefreshChecksum(); err != nil {
			return err
		}
	}

	if violations := api.ValidateEntry(entry); len(violations) > 0 {
		return api.NewValidationError("entry", violations)
	}

	// An entry cannot be registered while any of its declared conflicts
	// is present in the catalog.
	for _, conflictID := range entry.Conflicts {
		if _, err := r.loadDirect(ctx, conflictID); err == nil {
			return api.NewConflictError(entry.ID,
				fmt.Sprintf("conflicting entry %s is registered", conflictID))
		}
	}

	if err := r.hooks.runBefore(ctx, BeforeRegister, entry); err != nil {
		return fmt.Errorf("before_register hook: %w", err)
	}

	r.pubMu.Lock()
	if err := r.persist(ctx, entry); err != nil {
		r.pubMu.Unlock()
		return err
	}
	r.cache.Add(entry.ID, entry.Clone())
	r.stats.recordRegister()
	r.publish(api.ChangeCreated, entry, nil)
	r.pubMu.Unlock()

	r.hooks.runAfter(ctx, AfterRegister, entry)

	logging.Info(subsystem, "Registered %s/%s@%s as %s", entry.Namespace, entry.Name, entry.Version, entry.ID)
	return nil
}

// Get returns the entry by id, cache-first. The returned entry is a copy;
// mutations do not leak into the cache.
func (r *Registry) Get(ctx context.Context, id string) (*api.Entry, error) {
	start := time.Now()
	defer func() { r.stats.recordQuery(time.Since(start)) }()

	if cached, ok := r.cache.Get(id); ok {
		r.stats.recordCache(true)
		return cached.Clone(), nil
	}
	r.stats.recordCache(false)

	entry, err := r.loadDirect(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Add(id, entry.Clone())
	return entry, nil
}

func (r *Registry) loadDirect(ctx context.Context, id string) (*api.Entry, error) {
	var entry *api.Entry
	err := r.exec.Execute(ctx, "storage", func(ctx context.Context) error {
		var err error
		entry, err = r.store.Load(ctx, id)
		return err
	})
	return entry, err
}

// Search returns entries matching the filters in insertion order.
func (r *Registry) Search(ctx context.Context, filters api.SearchFilters) ([]*api.Entry, error) {
	start := time.Now()
	defer func() { r.stats.recordQuery(time.Since(start)) }()

	var out []*api.Entry
	err := r.exec.Execute(ctx, "storage", func(ctx context.Context) error {
		var err error
		out, err = r.store.Search(ctx, filters)
		return err
	})
	return out, err
}

// Count returns the number of entries matching the filters.
func (r *Registry) Count(ctx context.Context, filters api.SearchFilters) (int, error) {
	var n int
	err := r.exec.Execute(ctx, "storage", func(ctx context.Context) error {
		var err error
		n, err = r.store.Count(ctx, filters)
		return err
	})
	return n, err
}

// Update replaces an existing entry. Version downgrades are rejected
// unless opts.AllowDowngrade is set; a stale ConcurrencyToken fails with
// a ConflictError carrying both versions.
func (r *Registry) Update(ctx context.Context, entry *api.Entry, opts api.UpdateOptions) error {
	existing, err := r.loadDirect(ctx, entry.ID)
	if err != nil {
		return err
	}

	if !opts.ConcurrencyToken.IsZero() && !existing.UpdatedAt.Equal(opts.ConcurrencyToken) {
		return &api.ConflictError{
			EntryID: entry.ID,
			Reason:  "entry was modified concurrently",
			Ours:    entry.Data,
			Theirs:  existing.Data,
		}
	}

	if !opts.AllowDowngrade {
		if err := rejectDowngrade(existing.Version, entry.Version); err != nil {
			return err
		}
	}

	entry.CreatedAt = existing.CreatedAt
	entry.UpdatedAt = time.Now().UTC()
	if entry.UpdatedAt.Before(entry.CreatedAt) {
		entry.UpdatedAt = entry.CreatedAt
	}
	if err := entry.RefreshChecksum(); err != nil {
		return err
	}
	if violations := api.ValidateEntry(entry); len(violations) > 0 {
		return api.NewValidationError("entry", violations)
	}

	if err := r.hooks.runBefore(ctx, BeforeUpdate, entry); err != nil {
		return fmt.Errorf("before_update hook: %w", err)
	}

	r.pubMu.Lock()
	if err := r.persist(ctx, entry); err != nil {
		r.pubMu.Unlock()
		return err
	}
	r.cache.Add(entry.ID, entry.Clone())
	r.publish(api.ChangeUpdated, entry, diffEntries(existing, entry))
	r.pubMu.Unlock()

	r.hooks.runAfter(ctx, AfterUpdate, entry)

	logging.Debug(subsystem, "Updated entry %s", entry.ID)
	return nil
}

func rejectDowngrade(oldVersion, newVersion string) error {
	oldV, errOld := semver.NewVersion(oldVersion)
	newV, errNew := semver.NewVersion(newVersion)
	if errOld != nil || errNew != nil {
		return nil // validation reports malformed versions separately
	}
	if newV.LessThan(oldV) {
		return api.NewValidationError("entry", []string{
			fmt.Sprintf("version downgrade %s -> %s requires allow_downgrade", oldVersion, newVersion),
		})
	}
	return nil
}

// Delete removes an entry. When dependents exist the delete is refused
// unless opts.Force is set; forced deletes leave dependents' dependency
// lists untouched.
func (r *Registry) Delete(ctx context.Context, id string, opts api.DeleteOptions) error {
	entry, err := r.loadDirect(ctx, id)
	if err != nil {
		return err
	}

	if !opts.Force {
		dependents, err := r.findDependents(ctx, id)
		if err != nil {
			return err
		}
		if len(dependents) > 0 {
			return api.NewDependentsExistError(id, dependents)
		}
	}

	if err := r.hooks.runBefore(ctx, BeforeDelete, entry); err != nil {
		return fmt.Errorf("before_delete hook: %w", err)
	}

	r.pubMu.Lock()
	if err := r.exec.Execute(ctx, "storage", func(ctx context.Context) error {
		return r.store.Delete(ctx, id)
	}); err != nil {
		r.pubMu.Unlock()
		return err
	}
	r.cache.Remove(id)
	r.publish(api.ChangeDeleted, entry, nil)
	r.pubMu.Unlock()

	r.hooks.runAfter(ctx, AfterDelete, entry)

	logging.Info(subsystem, "Deleted entry %s", id)
	return nil
}

func (r *Registry) findDependents(ctx context.Context, id string) ([]string, error) {
	graph, err := r.buildGraph(ctx)
	if err != nil {
		return nil, err
	}
	return graph.Dependents(id), nil
}

func (r *Registry) buildGraph(ctx context.Context) (*dependency.Graph, error) {
	entries, err := r.Search(ctx, api.SearchFilters{})
	if err != nil {
		return nil, err
	}
	g := dependency.New()
	for _, e := range entries {
		g.Add(e.ID, e.Dependencies)
	}
	return g, nil
}

// ResolveDependencies returns the transitive dependency closure of the
// entry, depth-first and deduplicated. A cycle fails with CycleError.
func (r *Registry) ResolveDependencies(ctx context.Context, id string) ([]string, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	graph, err := r.buildGraph(ctx)
	if err != nil {
		return nil, err
	}
	return graph.Resolve(id)
}

// AddRelationship records a (source, target, kind) edge on the source entry.
func (r *Registry) AddRelationship(ctx context.Context, source, target, kind string) error {
	entry, err := r.loadDirect(ctx, source)
	if err != nil {
		return err
	}
	for _, rel := range entry.Relationships {
		if rel.TargetID == target && rel.Kind == kind {
			return nil // already recorded
		}
	}
	entry.Relationships = append(entry.Relationships, api.Relationship{TargetID: target, Kind: kind})
	return r.Update(ctx, entry, api.UpdateOptions{})
}

// SetStatus transitions an entry's lifecycle status and publishes the update.
func (r *Registry) SetStatus(ctx context.Context, id string, status api.EntryStatus) error {
	if !status.IsValid() {
		return api.NewValidationError("entry", []string{fmt.Sprintf("status %q is not a known status", status)})
	}
	entry, err := r.loadDirect(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status == status {
		return nil
	}
	entry.Status = status
	return r.Update(ctx, entry, api.UpdateOptions{})
}

// RegisterFeatureLayer materializes a feature layer as an entry in the
// feature_layer category. The layer's built facets (explicit plus
// flag-derived) populate the facet index through the entry's config.
func (r *Registry) RegisterFeatureLayer(ctx context.Context, layer *api.FeatureLayer) (string, error) {
	if violations := api.ValidateFeatureLayer(layer); len(violations) > 0 {
		return "", api.NewValidationError("feature_layer", violations)
	}

	blob, err := json.Marshal(layer)
	if err != nil {
		return "", api.NewValidationError("feature_layer", []string{err.Error()})
	}
	var layerData map[string]interface{}
	if err := json.Unmarshal(blob, &layerData); err != nil {
		return "", api.NewValidationError("feature_layer", []string{err.Error()})
	}

	entry := &api.Entry{
		ID:        layer.ID,
		Namespace: layer.Namespace,
		Name:      layer.Name,
		Version:   layer.Version,
		Category:  api.CategoryFeatureLayer,
		Data:      layerData,
		Config: map[string]interface{}{
			"facets": facetsToConfig(layer.BuildFacets()),
		},
	}
	if err := r.Register(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// RegisterSubregistry materializes a delegated catalog as an entry in
// the subregistry category. The remote endpoint lands in metadata.
func (r *Registry) RegisterSubregistry(ctx context.Context, sub *api.Subregistry) (string, error) {
	if violations := api.ValidateSubregistry(sub); len(violations) > 0 {
		return "", api.NewValidationError("subregistry", violations)
	}

	entry := &api.Entry{
		ID:        sub.ID,
		Namespace: sub.Namespace,
		Name:      sub.Name,
		Version:   sub.Version,
		Category:  api.CategorySubregistry,
		Metadata: map[string]interface{}{
			"endpoint": sub.Endpoint,
		},
	}
	if sub.Description != "" {
		entry.Metadata["description"] = sub.Description
	}
	if err := r.Register(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

func facetsToConfig(facets map[string][]string) map[string]interface{} {
	out := make(map[string]interface{}, len(facets))
	for k, vals := range facets {
		list := make([]interface{}, len(vals))
		for i, v := range vals {
			list[i] = v
		}
		out[k] = list
	}
	return out
}

// Stats returns the aggregate counters. TotalActive is computed live.
func (r *Registry) Stats() api.RegistryStats {
	n, err := r.store.Count(context.Background(), api.SearchFilters{Status: api.StatusActive})
	if err != nil {
		n = 0
	}
	return r.stats.snapshot(int64(n))
}

// RecordHotSwap feeds the hot-swap outcome counters.
func (r *Registry) RecordHotSwap(rolledBack bool) {
	r.stats.recordHotSwap(rolledBack)
}

// ExportJSON writes an atomic snapshot of all entries to path.
func (r *Registry) ExportJSON(ctx context.Context, path string) error {
	return r.exec.Execute(ctx, "storage", func(ctx context.Context) error {
		return r.store.ExportJSON(ctx, path)
	})
}

func (r *Registry) persist(ctx context.Context, entry *api.Entry) error {
	return r.exec.Execute(ctx, "storage", func(ctx context.Context) error {
		return r.store.Save(ctx, entry)
	})
}

func (r *Registry) publish(kind api.ChangeKind, entry *api.Entry, diff map[string]interface{}) {
	if r.bus == nil {
		return
	}
	if diff == nil {
		diff = map[string]interface{}{}
	}
	if facets := entry.Facets(); len(facets) > 0 {
		diff["facets"] = facets
	}
	r.bus.Publish(api.ChangeEvent{
		Kind:      kind,
		EntryID:   entry.ID,
		Namespace: entry.Namespace,
		Category:  entry.Category,
		Diff:      diff,
		Timestamp: time.Now().UTC(),
	})
}

// diffEntries reports the top-level fields that changed between two
// revisions. Payload maps are compared by checksum, not deep-diffed.
func diffEntries(oldE, newE *api.Entry) map[string]interface{} {
	diff := map[string]interface{}{}
	if oldE.Version != newE.Version {
		diff["version"] = map[string]interface{}{"from": oldE.Version, "to": newE.Version}
	}
	if oldE.Status != newE.Status {
		diff["status"] = map[string]interface{}{"from": string(oldE.Status), "to": string(newE.Status)}
	}
	if oldE.Checksum != newE.Checksum {
		diff["payload"] = "changed"
	}
	return diff
}
