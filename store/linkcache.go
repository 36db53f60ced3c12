// Copyright 2025 The duesync Authors
// This file is part of the duesync library.
//
// The duesync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The duesync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the duesync library. If not, see <http://www.gnu.org/licenses/>.

package store

import (
	"context"
	"sync"

	"github.com/brasilcomex/duesync/due"
)

// LinkCache front-loads the invoice-binding table so discovery can skip
// already-resolved keys without a round trip each. New bindings buffer and
// flush in batches; Flush must run before the process exits.
type LinkCache struct {
	store *Store

	mu      sync.Mutex
	links   map[string]string
	pending []due.LinkRow
}

// flushThreshold triggers a write-through once enough bindings accumulate.
const flushThreshold = 50

// NewLinkCache hydrates the cache from the store.
func NewLinkCache(ctx context.Context, s *Store) (*LinkCache, error) {
	known, err := s.KnownLinks(ctx)
	if err != nil {
		return nil, err
	}
	links := make(map[string]string, len(known))
	for _, l := range known {
		links[l.ChaveNF] = l.NumeroDue
	}
	return &LinkCache{store: s, links: links}, nil
}

// Contains reports whether the invoice key already has a binding.
func (c *LinkCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.links[key]
	return ok
}

// Get returns the bound declaration number for an invoice key.
func (c *LinkCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	numero, ok := c.links[key]
	return numero, ok
}

// PutKnown records a binding that is already persisted, keeping the cache
// consistent after a declaration transaction carried the link row itself.
func (c *LinkCache) PutKnown(key, numero string) {
	c.mu.Lock()
	c.links[key] = numero
	c.mu.Unlock()
}

// Put records a binding and schedules it for persistence. The cache updates
// immediately so concurrent discovery workers see the binding at once.
func (c *LinkCache) Put(ctx context.Context, key, numero string) error {
	c.mu.Lock()
	c.links[key] = numero
	c.pending = append(c.pending, due.LinkRow{ChaveNF: key, NumeroDue: numero})
	var toFlush []due.LinkRow
	if len(c.pending) >= flushThreshold {
		toFlush = c.pending
		c.pending = nil
	}
	c.mu.Unlock()

	if toFlush == nil {
		return nil
	}
	return c.store.UpsertLinks(ctx, toFlush)
}

// Flush persists any buffered bindings.
func (c *LinkCache) Flush(ctx context.Context) error {
	c.mu.Lock()
	toFlush := c.pending
	c.pending = nil
	c.mu.Unlock()
	return c.store.UpsertLinks(ctx, toFlush)
}

// Len reports the number of cached bindings.
func (c *LinkCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.links)
}
