package keyring

import (
	"sort"
	"sync"
	"time"
)

// AutoUpdateStatus classifies what auto_update did to the keyring file.
type AutoUpdateStatus int

const (
	// StatusNone means the ring was loaded unchanged; no key was created or appended.
	StatusNone AutoUpdateStatus = iota
	// StatusCreate means a brand-new ring with one key was created.
	StatusCreate
	// StatusUpdate means a new key was appended to an existing ring.
	StatusUpdate
)

// Ring is the mutable, process-wide set of keys. All access is serialized by
// mu; callers should copy out the keys they need and release quickly —
// never hold the lock across Kerberos or other blocking I/O.
type Ring struct {
	mu   sync.RWMutex
	keys []Key
}

// NewRing builds a ring from a set of keys, sorting by CreatedAt per the
// ring invariant (oldest first).
func NewRing(keys []Key) *Ring {
	sorted := make([]Key, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	return &Ring{keys: sorted}
}

// Keys returns a defensive copy of every key in the ring, newest first —
// the order the token codec tries them on decrypt.
func (r *Ring) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Key, len(r.keys))
	for i, k := range r.keys {
		out[len(r.keys)-1-i] = k
	}
	return out
}

// EncryptingKey returns the current encrypting key: the newest key whose
// ValidAfter has passed. Returns ok=false if no key's ValidAfter has passed
// yet, which includes an empty ring.
func (r *Ring) EncryptingKey(now time.Time) (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best Key
	found := false
	for _, k := range r.keys {
		if !k.ValidAfter.After(now) {
			if !found || k.CreatedAt.After(best.CreatedAt) {
				best = k
				found = true
			}
		}
	}
	return best, found
}

// Newest returns the most recently created key, or ok=false if the ring is
// empty.
func (r *Ring) Newest(now time.Time) (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.keys) == 0 {
		return Key{}, false
	}
	return r.keys[len(r.keys)-1], true
}

// Append adds a newly minted key to the end of the ring, maintaining
// created_at order (callers always append strictly newer keys).
func (r *Ring) Append(k Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, k)
}

// snapshot copies out the full key slice under the lock, oldest first, for
// persistence.
func (r *Ring) snapshot() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Key, len(r.keys))
	copy(out, r.keys)
	return out
}

// Store persists a keyring to a path and loads it back. Implemented by
// internal/keyring/store.go; declared here so AutoUpdate can be tested
// against a fake without pulling in the filesystem.
type Store interface {
	Load(path string) (*Ring, error)
	Save(path string, r *Ring) error
	Exists(path string) (bool, error)
}

// AutoUpdate is the central keyring lifecycle routine, handling three cases:
//
//   - missing file + updateEnabled: create a ring with one fresh key
//     (ValidAfter = now), persist it, report StatusCreate.
//   - existing file + updateEnabled + newest key older than lifetime:
//     append a key valid lifetime/10 in the future, persist, StatusUpdate.
//   - missing file without updateEnabled: a nil ring, StatusNone, no error.
//   - otherwise: load the ring unchanged, StatusNone.
//
// updateErr reports a failure of the append/persist step distinctly from a
// load failure, so a transient write failure still yields a usable, if
// stale, ring.
func AutoUpdate(store Store, path string, updateEnabled bool, lifetime time.Duration, now time.Time) (ring *Ring, status AutoUpdateStatus, updateErr error, err error) {
	exists, err := store.Exists(path)
	if err != nil {
		return nil, StatusNone, nil, err
	}

	if !exists {
		if !updateEnabled {
			return nil, StatusNone, nil, nil
		}
		k, genErr := Generate(now, now)
		if genErr != nil {
			return nil, StatusNone, nil, genErr
		}
		r := NewRing([]Key{k})
		if saveErr := store.Save(path, r); saveErr != nil {
			return r, StatusCreate, saveErr, nil
		}
		return r, StatusCreate, nil, nil
	}

	r, err := store.Load(path)
	if err != nil {
		return nil, StatusNone, nil, err
	}

	if updateEnabled {
		newest, ok := r.Newest(now)
		if ok && now.Sub(newest.CreatedAt) > lifetime {
			k, genErr := Generate(now, now.Add(lifetime/10))
			if genErr != nil {
				return r, StatusNone, genErr, nil
			}
			r.Append(k)
			if saveErr := store.Save(path, r); saveErr != nil {
				return r, StatusUpdate, saveErr, nil
			}
			return r, StatusUpdate, nil, nil
		}
	}

	return r, StatusNone, nil, nil
}
