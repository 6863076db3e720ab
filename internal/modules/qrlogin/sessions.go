package qrlogin

import (
	"sync"
	"time"

	"messenger/internal/domain"
)

// sessionEntry guards one session with its own mutex, so racing
// scan/confirm calls on the same session serialize against each other
// without a global lock. The used/rejected flags are only flipped while
// the entry is locked; that is the atomic check-and-set the handshake
// depends on.
type sessionEntry struct {
	mu      sync.Mutex
	session domain.QRSession
}

type sessionCache struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

func newSessionCache() *sessionCache {
	return &sessionCache{entries: make(map[string]*sessionEntry)}
}

func (c *sessionCache) get(sessionID string) *sessionEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.entries[sessionID]
}

// getOrPut returns the existing entry or inserts the given session.
// Resolves the race between a durable-store reload and a concurrent
// insert of the same session.
func (c *sessionCache) getOrPut(session domain.QRSession) *sessionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[session.SessionID]; ok {
		return entry
	}
	entry := &sessionEntry{session: session}
	c.entries[session.SessionID] = entry
	return entry
}

func (c *sessionCache) put(session domain.QRSession) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[session.SessionID] = &sessionEntry{session: session}
}

func (c *sessionCache) remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, sessionID)
}

// countLive counts sessions that are neither consumed nor past expiry;
// this is what the Generate capacity guard compares against.
func (c *sessionCache) countLive(now time.Time) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for _, entry := range c.entries {
		entry.mu.Lock()
		live := !entry.session.IsUsed && !entry.session.IsRejected && !entry.session.IsExpired(now)
		entry.mu.Unlock()
		if live {
			count++
		}
	}
	return count
}

// expiredIDs snapshots the ids of sessions past their expiry.
func (c *sessionCache) expiredIDs(now time.Time) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []string
	for id, entry := range c.entries {
		entry.mu.Lock()
		expired := entry.session.IsExpired(now)
		entry.mu.Unlock()
		if expired {
			out = append(out, id)
		}
	}
	return out
}
