package login

import (
	"context"
	"testing"
	"time"

	"github.com/webauth/webkdcd/internal/keyring"
	"github.com/webauth/webkdcd/internal/krb5"
	"github.com/webauth/webkdcd/internal/token"
	"github.com/webauth/webkdcd/internal/werror"
)

func testRing(t *testing.T) *keyring.Ring {
	t.Helper()
	now := time.Now().UTC()
	k, err := keyring.Generate(now, now)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return keyring.NewRing([]keyring.Key{k})
}

func TestPasswordLoginSuccess(t *testing.T) {
	ring := testRing(t)
	factory := func() krb5.Adapter {
		return &krb5.Fake{
			Principals: map[string]string{"alice@EXAMPLE.COM:secret": "alice"},
			Expiry:     10 * time.Hour,
		}
	}
	cfg := Config{ServerPrincipal: "webkdc/example.com@EXAMPLE.COM", ProxyTokenMaxLifetime: time.Hour}

	res, werr := Password(context.Background(), cfg, factory, ring, "alice@EXAMPLE.COM", "secret")
	if werr != nil {
		t.Fatalf("Password: %v", werr)
	}
	if res.Proxy.Subject != "alice" {
		t.Errorf("Subject = %q, want alice", res.Proxy.Subject)
	}
	if res.Proxy.ProxySubject != cfg.ServerPrincipal {
		t.Errorf("ProxySubject = %q, want %q", res.Proxy.ProxySubject, cfg.ServerPrincipal)
	}

	// The max-lifetime cap of one hour must win over the fake's 10-hour TGT.
	if res.Proxy.Expiration.After(time.Now().Add(cfg.ProxyTokenMaxLifetime + time.Minute)) {
		t.Errorf("Expiration %v exceeds the configured max lifetime", res.Proxy.Expiration)
	}

	parsed, err := token.Parse(res.Sealed, 0, ring)
	if err != nil {
		t.Fatalf("Parse sealed token: %v", err)
	}
	roundTripped, err := token.ParseWebKDCProxyToken(parsed)
	if err != nil {
		t.Fatalf("ParseWebKDCProxyToken: %v", err)
	}
	if roundTripped.Subject != "alice" {
		t.Errorf("round-tripped Subject = %q, want alice", roundTripped.Subject)
	}
}

func TestPasswordLoginBadPassword(t *testing.T) {
	ring := testRing(t)
	factory := func() krb5.Adapter {
		return &krb5.Fake{Principals: map[string]string{"alice@EXAMPLE.COM:secret": "alice"}}
	}
	cfg := Config{ServerPrincipal: "webkdc/example.com@EXAMPLE.COM"}

	_, werr := Password(context.Background(), cfg, factory, ring, "alice@EXAMPLE.COM", "wrong")
	if werr == nil {
		t.Fatal("expected an error")
	}
	if werr.Code != werror.LoginFailed {
		t.Fatalf("Code = %v, want LoginFailed", werr.Code)
	}
}

func TestPasswordLoginSelfVerifyFailure(t *testing.T) {
	ring := testRing(t)
	factory := func() krb5.Adapter {
		return &krb5.Fake{
			Principals:     map[string]string{"alice@EXAMPLE.COM:secret": "alice"},
			FailSelfVerify: true,
		}
	}
	cfg := Config{
		ServerPrincipal:  "webkdc/example.com@EXAMPLE.COM",
		ServerKeytabPath: "/etc/webkdc.keytab",
	}

	_, werr := Password(context.Background(), cfg, factory, ring, "alice@EXAMPLE.COM", "secret")
	if werr == nil {
		t.Fatal("expected an error when TGT self-verification fails")
	}
	if werr.Code != werror.ServerFailure {
		t.Fatalf("Code = %v, want ServerFailure (a failed self-check must never be folded into login_failed)", werr.Code)
	}
}

func TestPasswordLoginNoLifetimeCap(t *testing.T) {
	ring := testRing(t)
	factory := func() krb5.Adapter {
		return &krb5.Fake{
			Principals: map[string]string{"bob@EXAMPLE.COM:pw": "bob"},
			Expiry:     30 * time.Minute,
		}
	}
	cfg := Config{ServerPrincipal: "webkdc/example.com@EXAMPLE.COM"}

	res, werr := Password(context.Background(), cfg, factory, ring, "bob@EXAMPLE.COM", "pw")
	if werr != nil {
		t.Fatalf("Password: %v", werr)
	}
	if res.Proxy.Expiration.After(time.Now().Add(31 * time.Minute)) {
		t.Errorf("Expiration %v should track the TGT's own 30-minute expiry", res.Proxy.Expiration)
	}
}
