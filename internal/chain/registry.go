package chain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"agentgate/internal/config"
)

// Registry manages chain clients keyed by network name.
type Registry struct {
	defaultNetwork string
	clients        map[string]*Client
}

// NewRegistry loads network definitions and instantiates concrete clients. A
// bare rpc_url without a definitions file yields a single "default" network.
func NewRegistry(cfg config.ChainConfig) (*Registry, error) {
	defs, err := LoadNetworkDefinitions(cfg.Definitions)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]*Client)
	for name, def := range defs.Networks {
		client, err := NewClient(Config{
			Name:    name,
			RPCURL:  def.RPCURL,
			ChainID: def.ChainID,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize network %s: %w", name, err)
		}
		clients[name] = client
	}

	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := NewClient(Config{Name: "default", RPCURL: cfg.RPCURL})
		if err != nil {
			return nil, err
		}
		clients["default"] = client
	}

	if len(clients) == 0 {
		return nil, errors.New("no chain rpc endpoints configured")
	}

	defaultNetwork := strings.TrimSpace(cfg.Network)
	if defaultNetwork == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultNetwork = names[0]
	}
	if _, ok := clients[defaultNetwork]; !ok {
		return nil, fmt.Errorf("default network %s is not defined", defaultNetwork)
	}

	return &Registry{defaultNetwork: defaultNetwork, clients: clients}, nil
}

// DefaultClient returns the client for the configured default network.
func (r *Registry) DefaultClient() (*Client, error) {
	if r == nil {
		return nil, errors.New("chain registry not initialized")
	}
	client, ok := r.clients[r.defaultNetwork]
	if !ok {
		return nil, fmt.Errorf("default network %s missing from registry", r.defaultNetwork)
	}
	return client, nil
}

// Client returns the chain client for the named network.
func (r *Registry) Client(name string) (*Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Networks returns the sorted list of registered network names.
func (r *Registry) Networks() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
