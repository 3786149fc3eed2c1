// Package cache memoizes compiled artifacts for the compiled languages,
// keyed by a hash of language, compiler flags, and source text. The cache is
// bounded: an entry-count LRU with an additional total-byte ceiling.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/parsify-dev/codexec/internal/language"
	"github.com/parsify-dev/codexec/internal/runtime"
)

// Stats are cumulative cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
}

// Key derives the deterministic cache key for a compilation unit.
func Key(id language.ID, code string, flags []string) string {
	h := sha256.New()
	h.Write([]byte(id))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(flags, "\x00")))
	h.Write([]byte{0})
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}

type entry struct {
	key      string
	artifact *runtime.Artifact
	prev     *entry
	next     *entry
}

// ArtifactCache is a mutex-guarded LRU over immutable artifacts. Concurrent
// compilation of the same key is collapsed per-key: late arrivals wait for
// the in-flight compile rather than duplicating it. Correctness does not
// depend on the collapse; a duplicated compile would only waste work.
type ArtifactCache struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64

	head, tail *entry
	items      map[string]*entry
	bytes      int64

	inflight map[string]chan struct{}

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache bounded by entry count and total artifact bytes.
// Bounds below 1 are raised to 1.
func New(maxEntries int, maxBytes int64) *ArtifactCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	if maxBytes < 1 {
		maxBytes = 1
	}
	return &ArtifactCache{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		items:      make(map[string]*entry, maxEntries),
		inflight:   make(map[string]chan struct{}),
	}
}

// Get returns the cached artifact for key, promoting it on hit.
func (c *ArtifactCache) Get(key string) (*runtime.Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.moveToFront(e)
		c.hits++
		return e.artifact, true
	}
	c.misses++
	return nil, false
}

// GetOrCompile returns the cached artifact for key or produces it with
// compile. Only successful artifacts are stored; a failed compile is
// returned to every waiter and cached nowhere.
func (c *ArtifactCache) GetOrCompile(ctx context.Context, key string, compile func(ctx context.Context) (*runtime.Artifact, error)) (*runtime.Artifact, error) {
	for {
		c.mu.Lock()
		if e, ok := c.items[key]; ok {
			c.moveToFront(e)
			c.hits++
			art := e.artifact
			c.mu.Unlock()
			return art, nil
		}
		if wait, ok := c.inflight[key]; ok {
			c.mu.Unlock()
			select {
			case <-wait:
				continue // re-check the cache; compile may have failed
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		c.misses++
		done := make(chan struct{})
		c.inflight[key] = done
		c.mu.Unlock()

		art, err := compile(ctx)

		c.mu.Lock()
		delete(c.inflight, key)
		close(done)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.insert(key, art)
		c.mu.Unlock()
		return art, nil
	}
}

// Put stores an artifact, evicting least-recently-used entries as needed.
func (c *ArtifactCache) Put(key string, art *runtime.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(key, art)
}

// Purge drops every entry. Called on facade dispose.
func (c *ArtifactCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head, c.tail = nil, nil
	c.items = make(map[string]*entry, c.maxEntries)
	c.bytes = 0
}

// Stats returns a snapshot of the cache counters.
func (c *ArtifactCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.items),
		Bytes:     c.bytes,
	}
}

// insert assumes c.mu is held.
func (c *ArtifactCache) insert(key string, art *runtime.Artifact) {
	if e, ok := c.items[key]; ok {
		c.bytes += int64(art.Size) - int64(e.artifact.Size)
		e.artifact = art
		c.moveToFront(e)
	} else {
		e := &entry{key: key, artifact: art}
		c.items[key] = e
		c.pushFront(e)
		c.bytes += int64(art.Size)
	}
	for len(c.items) > c.maxEntries || c.bytes > c.maxBytes {
		if !c.evict() {
			return
		}
	}
}

func (c *ArtifactCache) pushFront(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *ArtifactCache) moveToFront(e *entry) {
	if c.head == e {
		return
	}
	c.remove(e)
	c.pushFront(e)
}

func (c *ArtifactCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *ArtifactCache) evict() bool {
	if c.tail == nil {
		return false
	}
	e := c.tail
	c.remove(e)
	delete(c.items, e.key)
	c.bytes -= int64(e.artifact.Size)
	c.evictions++
	return true
}
