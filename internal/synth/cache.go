package synth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/ykdojo/super-voice-assistant-sub000/internal/logger"
)

// Cache is a thread-safe in-memory store for fully synthesized PCM,
// used by the one-shot SynthesizeAll path. Keys are
// sha256(voice + ":" + text), so a voice change automatically misses
// until the voice is switched back. Nothing is ever written to disk.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]byte // hash -> raw PCM
	voice   string
	log     *logger.Logger
	hits    int64
	misses  int64
}

// NewCache creates a cache keyed for the given voice.
func NewCache(voice string, log *logger.Logger) *Cache {
	return &Cache{
		entries: make(map[string][]byte),
		voice:   voice,
		log:     log,
	}
}

// Get returns cached PCM for text and true, or nil and false.
func (c *Cache) Get(text string) ([]byte, bool) {
	key := c.hashKey(text)

	c.mu.RLock()
	data, ok := c.entries[key]
	c.mu.RUnlock()

	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if ok {
		c.log.Debug("synth cache hit: %d bytes", len(data))
	}
	return data, ok
}

// Put stores PCM for text.
func (c *Cache) Put(text string, pcm []byte) {
	key := c.hashKey(text)

	c.mu.Lock()
	c.entries[key] = pcm
	size := len(c.entries)
	c.mu.Unlock()

	c.log.Debug("synth cache store: %d bytes (%d entries)", len(pcm), size)
}

// Has reports whether text is cached.
func (c *Cache) Has(text string) bool {
	key := c.hashKey(text)
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string][]byte)
	c.hits = 0
	c.misses = 0
	c.mu.Unlock()
}

func (c *Cache) hashKey(text string) string {
	h := sha256.Sum256([]byte(c.voice + ":" + text))
	return hex.EncodeToString(h[:])
}
