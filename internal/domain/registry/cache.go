package registry

import (
	"sync"

	"github.com/mlanders/beacon-tv-remote-backend/internal/provider"
)

// Cache is the process-wide, address-keyed cache of the most recent scan
// cycle. It is fully replaced on every discovery call; entries only serve
// as short-lived connect/pair lookup aids, never as a source of truth.
// Concurrent discoveries race last-writer-wins by design of the callers.
type Cache struct {
	mu      sync.RWMutex
	devices map[string]*provider.DiscoveredDevice
}

// NewCache creates an empty discovery cache.
func NewCache() *Cache {
	return &Cache{
		devices: make(map[string]*provider.DiscoveredDevice),
	}
}

// ReplaceAll clears the cache and rebuilds it from one scan cycle. Stale
// addresses from the previous cycle never survive a replacement.
func (c *Cache) ReplaceAll(devices []*provider.DiscoveredDevice) {
	next := make(map[string]*provider.DiscoveredDevice, len(devices))
	for _, dev := range devices {
		next[dev.Address] = dev
	}

	c.mu.Lock()
	c.devices = next
	c.mu.Unlock()
}

// Get returns the cached device at an address, if present in the current
// cycle.
func (c *Cache) Get(address string) (*provider.DiscoveredDevice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dev, ok := c.devices[address]
	return dev, ok
}

// FindByIdentity returns the cached device whose main identifier or any
// service identifier equals id.
func (c *Cache) FindByIdentity(id string) (*provider.DiscoveredDevice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, dev := range c.devices {
		for _, candidate := range dev.AllIdentifiers() {
			if candidate == id {
				return dev, true
			}
		}
	}
	return nil, false
}

// Len returns the number of cached devices.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.devices)
}
