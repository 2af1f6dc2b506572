package bus

import "hyperregistry/internal/api"

// RegisterWithAPI registers the bus as the api.BusHandler.
func (b *Bus) RegisterWithAPI() {
	api.RegisterBus(b)
}
