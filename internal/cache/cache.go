// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package cache implements the process-wide Results Cache described
// in spec §4.5: a bounded LRU+TTL cache of query result batches keyed
// by a normalized SQL fingerprint, tagged with the freshness epoch of
// every dataset the query touched at the time it was built. A cached
// entry is only ever treated as a hit when every one of its tags still
// matches the dataset's current epoch — no background purge is
// required, since a bumped epoch makes the entry unreachable on the
// next read (spec §3).
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/spiceai/ade/internal/epoch"
	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/metrics"
	"github.com/spiceai/ade/internal/types"
)

// Tag names one dataset a cached query touched, and the dataset's
// freshness epoch at the time the entry was built (spec §4.5).
type Tag struct {
	Dataset ident.Table
	Epoch   epoch.Epoch
}

// EpochLookup resolves a dataset's current freshness epoch. The
// registry that owns every dataset's epoch.Counter supplies this.
type EpochLookup func(ident.Table) (epoch.Epoch, bool)

// entry is the value stored per fingerprint.
type entry struct {
	batches   []types.Batch
	tags      []Tag
	createdAt time.Time
	size      int64
}

// Cache is the process-wide Results Cache. The zero value is not
// usable; construct with New.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, *entry]
	ttl      time.Duration
	maxBytes int64
	curBytes int64
	epochs   EpochLookup
}

// Options configures a Cache.
type Options struct {
	// MaxEntries bounds the cache by item count; 0 means unbounded by
	// count (MaxBytes still applies).
	MaxEntries int
	// MaxBytes bounds the cache by total admitted payload size
	// (spec §4.5, "admission is allowed up to cache_max_size bytes").
	MaxBytes int64
	// ItemTTL is the maximum age of an entry before it expires
	// regardless of epoch coherence.
	ItemTTL time.Duration
	// Epochs resolves a dataset's current epoch for coherence checks.
	Epochs EpochLookup
}

// New constructs a Cache per opts.
func New(opts Options) *Cache {
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1 << 20 // effectively unbounded by count; MaxBytes governs
	}
	c := &Cache{
		ttl:      opts.ItemTTL,
		maxBytes: opts.MaxBytes,
		epochs:   opts.Epochs,
	}
	// OnEvict keeps curBytes consistent whenever the underlying LRU
	// removes an entry, whether by count-based eviction or by an
	// explicit Remove/RemoveOldest call elsewhere in this file. Every
	// call path that can trigger it already holds c.mu, so the
	// callback must not re-acquire it.
	l, err := lru.NewWithEvict(maxEntries, func(_ string, v *entry) {
		c.curBytes -= v.size
	})
	if err != nil {
		// Only returns an error for a non-positive size, which cannot
		// happen given the clamp above.
		panic(err)
	}
	c.lru = l
	return c
}

// Result is the outcome of a Lookup.
type Result struct {
	Batches []types.Batch
	Hit     bool
}

// Lookup returns the cached result for fingerprint if present, fresh,
// and epoch-coherent (spec §4.5). A stale hit (expired TTL or a tag
// whose dataset has advanced past the tagged epoch) is evicted and
// reported as a miss.
func (c *Cache) Lookup(fingerprint string) Result {
	c.mu.Lock()
	e, ok := c.lru.Get(fingerprint)
	c.mu.Unlock()
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return Result{}
	}

	if !c.valid(e) {
		c.mu.Lock()
		c.lru.Remove(fingerprint)
		c.mu.Unlock()
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return Result{}
	}

	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return Result{Batches: e.batches, Hit: true}
}

// valid reports whether e has not expired and every tagged dataset is
// still at the tagged epoch (spec §3: "cache entries tagged with
// epoch e are unreachable once the dataset's epoch exceeds e").
func (c *Cache) valid(e *entry) bool {
	if c.ttl > 0 && time.Since(e.createdAt) > c.ttl {
		return false
	}
	if c.epochs == nil {
		return true
	}
	for _, tag := range e.tags {
		current, ok := c.epochs(tag.Dataset)
		if !ok || current != tag.Epoch {
			return false
		}
	}
	return true
}

// Store admits a query result under fingerprint, tagged by tags. An
// entry whose size alone exceeds MaxBytes is never admitted.
func (c *Cache) Store(fingerprint string, batches []types.Batch, tags []Tag, size int64) {
	if c.maxBytes > 0 && size > c.maxBytes {
		return
	}

	e := &entry{
		batches:   batches,
		tags:      append([]Tag(nil), tags...),
		createdAt: time.Now(),
		size:      size,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(fingerprint); ok {
		c.curBytes -= old.size
	}

	for c.maxBytes > 0 && c.curBytes+size > c.maxBytes {
		_, _, evicted := c.lru.RemoveOldest()
		if !evicted {
			break
		}
		metrics.CacheEvictions.WithLabelValues("capacity").Inc()
	}

	c.curBytes += size
	c.lru.Add(fingerprint, e)
}

// Invalidate drops every entry tagged for dataset, regardless of
// epoch. The coherence protocol never requires this (a stale tag is
// enough to make an entry unreachable on read), but an explicit
// invalidation lets a full dataset deregistration reclaim cache space
// immediately rather than waiting for LRU or TTL.
func (c *Cache) Invalidate(dataset ident.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		for _, tag := range e.tags {
			if tag.Dataset.Equal(dataset) {
				c.lru.Remove(key)
				metrics.CacheEvictions.WithLabelValues("invalidate").Inc()
				break
			}
		}
	}
}

// Len reports the number of entries currently admitted, stale or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
