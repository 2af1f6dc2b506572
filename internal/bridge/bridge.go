package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"hyperregistry/internal/api"
	"hyperregistry/pkg/logging"
)

const subsystem = "Bridge"

// DefaultTTL is how long a discovery stays fresh without reappearing.
const DefaultTTL = 600 * time.Second

// DefaultNamespace holds entries materialized from discoveries.
const DefaultNamespace = "nx.services"

const createdBy = "orchestrator"

// ExternalKey is the stable digest identifying one discovered service
// across reconcile batches.
func ExternalKey(name, serviceType, endpoint string) string {
	sum := sha256.Sum256([]byte(name + serviceType + endpoint))
	return hex.EncodeToString(sum[:])
}

// Options configures the bridge.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Namespace     string

	// Sources are polled on every sweep tick; their batches feed Reconcile.
	Sources []DiscoverySource
}

type tracked struct {
	entryID  string
	lastSeen time.Time
}

// Bridge implements api.BridgeHandler.
type Bridge struct {
	reg  api.RegistryHandler
	opts Options

	mu    sync.Mutex
	known map[string]*tracked // external key -> tracked entry
}

// New builds the bridge.
func New(reg api.RegistryHandler, opts Options) *Bridge {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = opts.TTL / 10
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	return &Bridge{
		reg:   reg,
		opts:  opts,
		known: make(map[string]*tracked),
	}
}

// RegisterWithAPI registers the bridge as the api.BridgeHandler.
func (b *Bridge) RegisterWithAPI() {
	api.RegisterBridge(b)
}

// Reconcile folds one discovery batch into the registry: new keys become
// entries, known keys refresh and update in place.
func (b *Bridge) Reconcile(ctx context.Context, discovered []api.DiscoveredService) error {
	now := time.Now().UTC()

	for _, svc := range discovered {
		key := ExternalKey(svc.Name, svc.Type, svc.Endpoint)

		b.mu.Lock()
		rec, seen := b.known[key]
		b.mu.Unlock()

		if !seen {
			// The key may already exist durably from a previous process;
			// adopt that entry instead of colliding on re-register.
			id, err := b.adopt(ctx, key)
			if err != nil {
				return fmt.Errorf("adopting discovery %s: %w", svc.Name, err)
			}
			if id == "" {
				id, err = b.register(ctx, svc, key)
				if err != nil {
					return fmt.Errorf("registering discovery %s: %w", svc.Name, err)
				}
			} else if err := b.refresh(ctx, id, svc); err != nil {
				return fmt.Errorf("refreshing adopted discovery %s: %w", svc.Name, err)
			}
			b.mu.Lock()
			b.known[key] = &tracked{entryID: id, lastSeen: now}
			b.mu.Unlock()
			continue
		}

		if err := b.refresh(ctx, rec.entryID, svc); err != nil {
			return fmt.Errorf("refreshing discovery %s: %w", svc.Name, err)
		}
		b.mu.Lock()
		rec.lastSeen = now
		b.mu.Unlock()
	}
	return nil
}

// adopt finds the registry entry already carrying the external key, if
// any. Returns the empty string when the key is genuinely new.
func (b *Bridge) adopt(ctx context.Context, key string) (string, error) {
	entries, err := b.reg.Search(ctx, api.SearchFilters{
		Namespace: b.opts.Namespace,
		Category:  api.CategoryServices,
	})
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Metadata["external_key"] == key {
			logging.Info(subsystem, "Adopted existing entry %s for external key %s", e.ID, key)
			return e.ID, nil
		}
	}
	return "", nil
}

func (b *Bridge) register(ctx context.Context, svc api.DiscoveredService, key string) (string, error) {
	entry, err := api.NewEntry(b.opts.Namespace, svc.Name, "1.0.0", api.CategoryServices)
	if err != nil {
		return "", err
	}
	entry.Status = api.StatusActive
	entry.CreatedBy = createdBy
	entry.Metadata = map[string]interface{}{
		"external_key": key,
		"endpoint":     svc.Endpoint,
		"service_type": svc.Type,
		"owner":        createdBy,
	}
	for k, v := range svc.Metadata {
		entry.Metadata[k] = v
	}
	if err := entry.RefreshChecksum(); err != nil {
		return "", err
	}

	if err := b.reg.Register(ctx, entry); err != nil {
		return "", err
	}
	logging.Info(subsystem, "Discovered service %s registered as %s", svc.Name, entry.ID)
	return entry.ID, nil
}

// refresh rewrites the entry's discovery metadata when it drifted and
// reactivates entries that had expired.
func (b *Bridge) refresh(ctx context.Context, entryID string, svc api.DiscoveredService) error {
	entry, err := b.reg.Get(ctx, entryID)
	if err != nil {
		return err
	}

	changed := entry.Status == api.StatusInactive
	if entry.Metadata["endpoint"] != svc.Endpoint {
		entry.Metadata["endpoint"] = svc.Endpoint
		changed = true
	}
	if entry.Metadata["service_type"] != svc.Type {
		entry.Metadata["service_type"] = svc.Type
		changed = true
	}
	for k, v := range svc.Metadata {
		if entry.Metadata[k] != v {
			entry.Metadata[k] = v
			changed = true
		}
	}
	if !changed {
		return nil
	}

	if entry.Status == api.StatusInactive {
		entry.Status = api.StatusActive
	}
	if err := entry.RefreshChecksum(); err != nil {
		return err
	}
	return b.reg.Update(ctx, entry, api.UpdateOptions{})
}

// Sweep marks entries inactive whose discovery has not reappeared within
// the TTL. Returns how many were expired.
func (b *Bridge) Sweep(ctx context.Context) int {
	cutoff := time.Now().Add(-b.opts.TTL)

	b.mu.Lock()
	var stale []*tracked
	for _, rec := range b.known {
		if rec.lastSeen.Before(cutoff) {
			stale = append(stale, rec)
		}
	}
	b.mu.Unlock()

	expired := 0
	for _, rec := range stale {
		entry, err := b.reg.Get(ctx, rec.entryID)
		if err != nil {
			continue
		}
		if entry.Status == api.StatusInactive {
			continue
		}
		if err := b.reg.SetStatus(ctx, rec.entryID, api.StatusInactive); err != nil {
			logging.Error(subsystem, err, "Expiring entry %s", rec.entryID)
			continue
		}
		expired++
		logging.Info(subsystem, "Entry %s expired after %s without rediscovery", rec.entryID, b.opts.TTL)
	}
	return expired
}

// Run polls the discovery sources and sweeps expired entries on the
// configured interval until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(b.opts.SweepInterval)
	defer ticker.Stop()

	logging.Info(subsystem, "Reconcile loop started (ttl %s, %d sources)", b.opts.TTL, len(b.opts.Sources))
	for {
		select {
		case <-ctx.Done():
			logging.Info(subsystem, "Reconcile loop stopped")
			return
		case <-ticker.C:
			b.poll(ctx)
			b.Sweep(ctx)
		}
	}
}

func (b *Bridge) poll(ctx context.Context) {
	for _, src := range b.opts.Sources {
		batch, err := src.Discover(ctx)
		if err != nil {
			logging.Error(subsystem, err, "Discovery source %s", src.Name())
			continue
		}
		if err := b.Reconcile(ctx, batch); err != nil {
			logging.Error(subsystem, err, "Reconciling %s batch", src.Name())
		}
	}
}

// UnifiedStatus returns the read-only aggregate across the bridge, the
// discovery collaborator, and the registry.
func (b *Bridge) UnifiedStatus(ctx context.Context) (*api.UnifiedStatus, error) {
	entries, err := b.reg.Search(ctx, api.SearchFilters{})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	synced := len(b.known)
	b.mu.Unlock()

	status := &api.UnifiedStatus{Timestamp: time.Now().UTC()}
	status.Bridge.SyncedComponents = synced
	status.Orchestrator.ServicesDiscovered = synced
	status.Registry.TotalEntries = int64(len(entries))
	status.Registry.Categories = make(map[string]int)
	for _, e := range entries {
		status.Registry.Categories[string(e.Category)]++
	}
	return status, nil
}
