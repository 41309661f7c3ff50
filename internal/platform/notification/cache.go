package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Provider bundles the delivery clients configured for one hospital. Any
// field may be nil when the hospital has not configured that channel.
type Provider struct {
	Email    EmailSender
	SMS      SMSSender
	WhatsApp WhatsAppSender
}

// ProviderFactory builds a hospital's clients from its stored credentials.
type ProviderFactory func(ctx context.Context, hospitalID uuid.UUID) (*Provider, error)

// maxStaleBuilds bounds how often Get rebuilds when invalidations keep
// landing during construction. The last build is returned uncached.
const maxStaleBuilds = 3

// ClientCache holds one Provider per hospital. Entries are built on first
// use and dropped by Invalidate when the hospital's credentials change.
type ClientCache struct {
	factory ProviderFactory

	mu      sync.Mutex
	clients map[uuid.UUID]*Provider
	// building serialises construction per hospital without holding mu.
	building map[uuid.UUID]*sync.Mutex
	// gens and epoch are bumped by Invalidate and InvalidateAll. A build that
	// started under an older value is not cached.
	gens  map[uuid.UUID]uint64
	epoch uint64
}

type generation struct{ epoch, hospital uint64 }

func NewClientCache(factory ProviderFactory) *ClientCache {
	return &ClientCache{
		factory:  factory,
		clients:  make(map[uuid.UUID]*Provider),
		building: make(map[uuid.UUID]*sync.Mutex),
		gens:     make(map[uuid.UUID]uint64),
	}
}

// Get returns the cached Provider for hospitalID, building it if needed.
func (c *ClientCache) Get(ctx context.Context, hospitalID uuid.UUID) (*Provider, error) {
	c.mu.Lock()
	if p, ok := c.clients[hospitalID]; ok {
		c.mu.Unlock()
		return p, nil
	}
	lock, ok := c.building[hospitalID]
	if !ok {
		lock = &sync.Mutex{}
		c.building[hospitalID] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	var p *Provider
	for attempt := 0; attempt < maxStaleBuilds; attempt++ {
		c.mu.Lock()
		if cached, ok := c.clients[hospitalID]; ok {
			c.mu.Unlock()
			return cached, nil
		}
		started := c.generationLocked(hospitalID)
		c.mu.Unlock()

		built, err := c.factory(ctx, hospitalID)
		if err != nil {
			return nil, fmt.Errorf("build notification provider for hospital %s: %w", hospitalID, err)
		}
		if built == nil {
			return nil, errors.New("notification provider factory returned nil")
		}
		p = built

		c.mu.Lock()
		if c.generationLocked(hospitalID) == started {
			c.clients[hospitalID] = p
			c.mu.Unlock()
			return p, nil
		}
		c.mu.Unlock()
	}
	return p, nil
}

func (c *ClientCache) generationLocked(hospitalID uuid.UUID) generation {
	return generation{epoch: c.epoch, hospital: c.gens[hospitalID]}
}

// Invalidate drops the cached clients for one hospital. A build already in
// flight for it is discarded.
func (c *ClientCache) Invalidate(hospitalID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[hospitalID]++
	_, ok := c.clients[hospitalID]
	delete(c.clients, hospitalID)
	return ok
}

// InvalidateAll drops every cached client.
func (c *ClientCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.clients = make(map[uuid.UUID]*Provider)
}

// Len reports how many hospitals currently have cached clients.
func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}
