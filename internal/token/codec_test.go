package token

import (
	"testing"
	"time"

	"github.com/webauth/webkdcd/internal/attrlist"
	"github.com/webauth/webkdcd/internal/keyring"
)

func testRing(t *testing.T, now time.Time) *keyring.Ring {
	t.Helper()
	k, err := keyring.Generate(now, now)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return keyring.NewRing([]keyring.Key{k})
}

func TestRoundTripAllKinds(t *testing.T) {
	now := time.Now().UTC()
	ring := testRing(t, now)

	kinds := []string{"app", "id", "proxy", "webkdc-proxy", "cred", "req", "login", "error", "webkdc-service"}
	for _, kind := range kinds {
		attrs := attrlist.New(4)
		attrs.AddStr("s", "alice@REALM")

		sealed, err := Create(kind, attrs, time.Time{}, ring)
		if err != nil {
			t.Fatalf("%s: Create: %v", kind, err)
		}
		parsed, err := Parse(sealed, 0, ring)
		if err != nil {
			t.Fatalf("%s: Parse: %v", kind, err)
		}
		gotKind, _ := parsed.GetStr("t")
		if gotKind != kind {
			t.Errorf("%s: got kind %q", kind, gotKind)
		}
		gotSubj, _ := parsed.GetStr("s")
		if gotSubj != "alice@REALM" {
			t.Errorf("%s: got subject %q", kind, gotSubj)
		}
	}
}

func TestOldTokenSurvivesKeyRotation(t *testing.T) {
	now := time.Now().UTC()
	ring := testRing(t, now)

	attrs := attrlist.New(1)
	sealed, err := Create("login", attrs, time.Time{}, ring)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Roll in a new key; old tokens must still parse against the grown ring.
	newKey, err := keyring.Generate(now.Add(time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	ring.Append(newKey)

	if _, err := Parse(sealed, 0, ring); err != nil {
		t.Fatalf("Parse after rotation: %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	now := time.Now().UTC()
	ring := testRing(t, now)

	attrs := attrlist.New(1)
	attrs.AddTime("et", now.Add(-time.Second))

	sealed, err := Create("id", attrs, now.Add(-time.Hour), ring)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = Parse(sealed, 0, ring)
	if err != ErrTokenExpired {
		t.Fatalf("Parse error = %v, want ErrTokenExpired", err)
	}
}

func TestStaleToken(t *testing.T) {
	now := time.Now().UTC()
	ring := testRing(t, now)

	attrs := attrlist.New(1)
	sealed, err := Create("login", attrs, now.Add(-time.Hour), ring)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = Parse(sealed, 5*time.Minute, ring)
	if err != ErrTokenStale {
		t.Fatalf("Parse error = %v, want ErrTokenStale", err)
	}
}

func TestBitFlipAlwaysBadHMAC(t *testing.T) {
	now := time.Now().UTC()
	ring := testRing(t, now)

	attrs := attrlist.New(1)
	attrs.AddStr("u", "alice")
	sealed, err := Create("login", attrs, time.Time{}, ring)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < len(sealed); i++ {
		mutated := make([]byte, len(sealed))
		copy(mutated, sealed)
		mutated[i] ^= 0x01
		if _, err := Parse(mutated, 0, ring); err != ErrBadHMAC && err != ErrBadVersion {
			t.Fatalf("byte %d: Parse error = %v, want ErrBadHMAC (or ErrBadVersion for the version byte)", i, err)
		}
	}
}

func TestAppendsDefaultKindAttribute(t *testing.T) {
	now := time.Now().UTC()
	ring := testRing(t, now)

	attrs := attrlist.New(1)
	sealed, err := Create("webkdc-proxy", attrs, time.Time{}, ring)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	parsed, err := Parse(sealed, 0, ring)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if kind, _ := parsed.GetStr("t"); kind != "webkdc-proxy" {
		t.Fatalf("t = %q, want webkdc-proxy", kind)
	}
}
