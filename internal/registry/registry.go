// Package registry holds the fixed set of collateral assets accepted by the
// engine and the price adapter bound to each one.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"SynthLedger/internal/oracle"
)

// ConfigurationMismatchError reports asset and feed lists of different length
// at construction time.
type ConfigurationMismatchError struct {
	Assets int
	Feeds  int
}

func (e *ConfigurationMismatchError) Error() string {
	return fmt.Sprintf("registry: %d assets but %d feeds", e.Assets, e.Feeds)
}

// UnsupportedAssetError reports a lookup for an asset the registry does not
// hold.
type UnsupportedAssetError struct {
	Asset string
}

func (e *UnsupportedAssetError) Error() string {
	return fmt.Sprintf("registry: unsupported asset %q", e.Asset)
}

// Registry maps collateral asset identifiers to their price adapters. The set
// is fixed after construction; lookups are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*oracle.Adapter
	order    []string
}

// New builds a registry from parallel asset and feed lists. Lists of unequal
// length are rejected with ConfigurationMismatchError. A repeated asset keeps
// the last feed given for it.
func New(assets []string, feeds []oracle.PriceFeed) (*Registry, error) {
	if len(assets) != len(feeds) {
		return nil, &ConfigurationMismatchError{Assets: len(assets), Feeds: len(feeds)}
	}
	r := &Registry{adapters: make(map[string]*oracle.Adapter, len(assets))}
	for i, asset := range assets {
		if _, seen := r.adapters[asset]; !seen {
			r.order = append(r.order, asset)
		}
		r.adapters[asset] = oracle.NewAdapter(asset, feeds[i])
	}
	return r, nil
}

// IsSupported reports whether asset is registered.
func (r *Registry) IsSupported(asset string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[asset]
	return ok
}

// AdapterOf returns the price adapter for asset.
func (r *Registry) AdapterOf(asset string) (*oracle.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[asset]
	if !ok {
		return nil, &UnsupportedAssetError{Asset: asset}
	}
	return a, nil
}

// Assets returns the registered asset identifiers in registration order.
func (r *Registry) Assets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SortedAssets returns the registered asset identifiers sorted
// lexicographically, for stable report output.
func (r *Registry) SortedAssets() []string {
	out := r.Assets()
	sort.Strings(out)
	return out
}
