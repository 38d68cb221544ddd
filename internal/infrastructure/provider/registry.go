package provider

import "findash/internal/domain/connection"

// Registry resolves the client serving each provider kind
type Registry struct {
	clients map[connection.ProviderKind]ClientInterface
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{clients: make(map[connection.ProviderKind]ClientInterface)}
}

// Register binds a client to a provider kind, replacing any previous one.
func (r *Registry) Register(kind connection.ProviderKind, client ClientInterface) {
	r.clients[kind] = client
}

// For returns the client of a provider kind. An empty kind means standard.
func (r *Registry) For(kind connection.ProviderKind) (ClientInterface, bool) {
	if kind == "" {
		kind = connection.ProviderStandard
	}
	c, ok := r.clients[kind]
	return c, ok
}
