// Package adapters maps storage backend names to billy filesystems used for
// building node trees and reading file content.
package adapters

import (
	"fmt"
	"sync"

	"github.com/go-git/go-billy/v5"
)

// Provider opens the storage backend for a root directory
type Provider func(root string) (billy.Filesystem, error)

// Registry ties backend names to providers
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// Default is the process wide registry used by the CLI
var Default = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Register ties a provider to a backend name. The first registration for a
// name wins and later ones are ignored.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		return
	}
	r.providers[name] = p
}

// GetProvider returns the provider registered for name
func (r *Registry) GetProvider(name string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no storage provider for %q", name)
	}
	return p, nil
}

// Open looks up name and opens its backend for root
func (r *Registry) Open(name, root string) (billy.Filesystem, error) {
	p, err := r.GetProvider(name)
	if err != nil {
		return nil, err
	}
	fsys, err := p(root)
	if err != nil {
		return nil, fmt.Errorf("open %s storage for %s: %w", name, root, err)
	}
	return fsys, nil
}
