package registry

// Adapter wires the registry core into the api handler registry. The
// Registry already satisfies api.RegistryHandler; the adapter exists so
// bootstrap reads the same for every subsystem.

import "hyperregistry/internal/api"

// RegisterWithAPI registers the registry as the api.RegistryHandler.
func (r *Registry) RegisterWithAPI() {
	api.RegisterRegistry(r)
}
