package token

import (
	"hash/fnv"
	"sync"

	"messenger/internal/domain"
)

const registryLockStripes = 64

// registry is the fast in-process tier of the refresh-token store,
// keyed by token id. Values are copied in and out so concurrent callers
// never share a mutable record; replacements happen atomically under
// the lock.
//
// The striped per-token locks serialize the operations that cross into
// the durable tier: a revocation and a cache-miss load of the same
// token id must not interleave, or a stale active record read before
// the revoke could be repopulated after it.
type registry struct {
	mu      sync.RWMutex
	records map[string]domain.RefreshTokenRecord
	stripes [registryLockStripes]sync.Mutex
}

func newRegistry() *registry {
	return &registry{records: make(map[string]domain.RefreshTokenRecord)}
}

// keyLock returns the stripe lock owning the token id. Callers never
// hold more than one stripe at a time.
func (r *registry) keyLock(tokenID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tokenID))
	return &r.stripes[h.Sum32()%registryLockStripes]
}

func (r *registry) get(tokenID string) (domain.RefreshTokenRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[tokenID]
	return rec, ok
}

func (r *registry) put(rec domain.RefreshTokenRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[rec.TokenID] = rec
}

func (r *registry) delete(tokenID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, tokenID)
}

// byUser returns a snapshot of every cached record for the user,
// narrowed to one device when deviceID is non-empty.
func (r *registry) byUser(userID int64, deviceID string) []domain.RefreshTokenRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.RefreshTokenRecord
	for _, rec := range r.records {
		if rec.UserID != userID {
			continue
		}
		if deviceID != "" && rec.DeviceID != deviceID {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}
