package keyring

import (
	"testing"
	"time"
)

// memStore is an in-memory Store fake so AutoUpdate's lifecycle logic can be
// tested without touching the filesystem.
type memStore struct {
	data map[string][]Key
}

func newMemStore() *memStore { return &memStore{data: map[string][]Key{}} }

func (m *memStore) Exists(path string) (bool, error) {
	_, ok := m.data[path]
	return ok, nil
}

func (m *memStore) Load(path string) (*Ring, error) {
	return NewRing(m.data[path]), nil
}

func (m *memStore) Save(path string, r *Ring) error {
	m.data[path] = r.snapshot()
	return nil
}

func TestAutoUpdateBootstrap(t *testing.T) {
	store := newMemStore()
	now := time.Unix(1_700_000_000, 0)

	r, status, updateErr, err := AutoUpdate(store, "/ring", true, 30*24*time.Hour, now)
	if err != nil || updateErr != nil {
		t.Fatalf("unexpected error: err=%v updateErr=%v", err, updateErr)
	}
	if status != StatusCreate {
		t.Fatalf("status = %v, want StatusCreate", status)
	}
	if len(r.snapshot()) != 1 {
		t.Fatalf("ring has %d keys, want 1", len(r.snapshot()))
	}
}

func TestAutoUpdateConverges(t *testing.T) {
	store := newMemStore()
	lifetime := 30 * 24 * time.Hour
	t0 := time.Unix(1_700_000_000, 0)

	if _, status, _, err := AutoUpdate(store, "/ring", true, lifetime, t0); err != nil || status != StatusCreate {
		t.Fatalf("bootstrap call: status=%v err=%v", status, err)
	}

	// Second call shortly after: ring must still have exactly one key.
	t1 := t0.Add(time.Hour)
	r, status, _, err := AutoUpdate(store, "/ring", true, lifetime, t1)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if status != StatusNone {
		t.Fatalf("second call status = %v, want StatusNone", status)
	}
	if len(r.snapshot()) != 1 {
		t.Fatalf("second call: ring has %d keys, want 1", len(r.snapshot()))
	}

	// Third call with simulated time past the lifetime: ring must grow to
	// two keys, and the new key's ValidAfter must be in the future.
	t2 := t0.Add(lifetime + time.Hour)
	r, status, updateErr, err := AutoUpdate(store, "/ring", true, lifetime, t2)
	if err != nil || updateErr != nil {
		t.Fatalf("third call: err=%v updateErr=%v", err, updateErr)
	}
	if status != StatusUpdate {
		t.Fatalf("third call status = %v, want StatusUpdate", status)
	}
	keys := r.snapshot()
	if len(keys) != 2 {
		t.Fatalf("third call: ring has %d keys, want 2", len(keys))
	}
	newest := keys[len(keys)-1]
	if !newest.ValidAfter.After(t2) {
		t.Fatalf("newest key ValidAfter = %v, want after %v", newest.ValidAfter, t2)
	}
}

func TestRingAddingKeyNeverInvalidatesOlderKeys(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	k1, _ := Generate(now, now)
	r := NewRing([]Key{k1})

	enc, ok := r.EncryptingKey(now)
	if !ok || enc.Bytes != k1.Bytes {
		t.Fatalf("expected k1 to be the encrypting key")
	}

	k2, _ := Generate(now.Add(time.Hour), now.Add(2*time.Hour))
	r.Append(k2)

	// k1 must still be present and usable for decryption even though it is
	// no longer the newest/current encrypting key.
	found := false
	for _, k := range r.Keys() {
		if k.Bytes == k1.Bytes {
			found = true
		}
	}
	if !found {
		t.Fatal("k1 missing from ring after appending k2")
	}

	// Before k2's ValidAfter, k1 remains the encrypting key.
	enc, ok = r.EncryptingKey(now.Add(time.Hour))
	if !ok || enc.Bytes != k1.Bytes {
		t.Fatalf("expected k1 to still be encrypting key before k2 is valid")
	}

	// After k2's ValidAfter, k2 becomes the encrypting key.
	enc, ok = r.EncryptingKey(now.Add(3 * time.Hour))
	if !ok || enc.Bytes != k2.Bytes {
		t.Fatalf("expected k2 to be the encrypting key once valid")
	}
}
