package bridge

import (
	"context"
	"os"
	"strings"

	"hyperregistry/internal/api"
)

// DiscoverySource produces discovery batches for the bridge to reconcile.
// Port and DNS scanners are external collaborators implementing this.
type DiscoverySource interface {
	// Name identifies the source in logs.
	Name() string

	// Discover returns the currently visible services.
	Discover(ctx context.Context) ([]api.DiscoveredService, error)
}

// DefaultEnvPrefix marks environment variables the EnvSource reads.
const DefaultEnvPrefix = "REGISTRY_SERVICE_"

// EnvSource discovers services declared as environment variables of the
// form REGISTRY_SERVICE_<NAME>=<type>,<endpoint>. Malformed values are
// skipped.
type EnvSource struct {
	Prefix string
}

// Name implements DiscoverySource.
func (s EnvSource) Name() string { return "env" }

// Discover implements DiscoverySource.
func (s EnvSource) Discover(ctx context.Context) ([]api.DiscoveredService, error) {
	prefix := s.Prefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	var out []api.DiscoveredService
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		typ, endpoint, ok := strings.Cut(value, ",")
		if !ok || typ == "" || endpoint == "" {
			continue
		}
		out = append(out, api.DiscoveredService{
			Name:     strings.ToLower(strings.TrimPrefix(key, prefix)),
			Type:     strings.TrimSpace(typ),
			Endpoint: strings.TrimSpace(endpoint),
		})
	}
	return out, nil
}
