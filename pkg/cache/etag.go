// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package cache provides the in-memory ETag cache of backend responses.
package cache

import (
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/purchasekit/go-response-trust/pkg/verification"
)

const cleanupInterval = 10 * time.Minute

// Entry is a cached response.
type Entry struct {
	StoredAt           time.Time
	Header             http.Header
	ETag               string
	Body               []byte
	StatusCode         int
	VerificationResult verification.Result
}

// ETagCache stores responses by request key, each tagged with its verification result.
//
// ETagCache is safe for concurrent use.
type ETagCache struct {
	items *gocache.Cache
}

// NewETagCache creates a new cache. A zero ttl keeps entries until they are removed.
func NewETagCache(ttl time.Duration) *ETagCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}

	return &ETagCache{
		items: gocache.New(ttl, cleanupInterval),
	}
}

// Key returns the cache key of a request.
func Key(method, path string) string {
	return method + " " + path
}

// Get returns the entry stored under key.
func (c *ETagCache) Get(key string) (Entry, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return Entry{}, false
	}

	entry, ok := v.(Entry)

	return entry, ok
}

// Store stores the entry under key. Entries without an ETag are ignored.
func (c *ETagCache) Store(key string, entry Entry) {
	if entry.ETag == "" {
		return
	}

	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}

	c.items.Set(key, entry, gocache.DefaultExpiration)
}

// Delete removes the entry stored under key.
func (c *ETagCache) Delete(key string) {
	c.items.Delete(key)
}

// ETagFor returns the ETag to offer with a request for key.
//
// When verification is enabled only verified entries are offered: a "not modified"
// answer must not promote a body which was never verified.
func (c *ETagCache) ETagFor(key string, verificationEnabled bool) string {
	entry, ok := c.Get(key)
	if !ok {
		return ""
	}

	if verificationEnabled && !entry.VerificationResult.IsVerified() {
		return ""
	}

	return entry.ETag
}

// Len returns the number of entries, including expired entries not yet cleaned up.
func (c *ETagCache) Len() int {
	return c.items.ItemCount()
}

// Clear removes all entries.
func (c *ETagCache) Clear() {
	c.items.Flush()
}

// InvalidateUnverified removes every entry which was not stored as verified and
// returns the number of removed entries.
func (c *ETagCache) InvalidateUnverified() int {
	removed := 0

	for key, item := range c.items.Items() {
		entry, ok := item.Object.(Entry)
		if ok && entry.VerificationResult.IsVerified() {
			continue
		}

		c.items.Delete(key)

		removed++
	}

	return removed
}
