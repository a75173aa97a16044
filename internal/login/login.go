// Package login implements the C7 login pipeline: turning a username and
// password into a sealed webkdc-proxy token, the Go equivalent of the
// original's mwk_do_login/do_login pair.
package login

import (
	"context"
	"time"

	"github.com/webauth/webkdcd/internal/keyring"
	"github.com/webauth/webkdcd/internal/krb5"
	"github.com/webauth/webkdcd/internal/token"
	"github.com/webauth/webkdcd/internal/werror"
)

// Result is the outcome of a successful password login: a sealed
// webkdc-proxy token plus its decoded view, so callers can inspect the
// subject and expiration without re-parsing.
type Result struct {
	Sealed []byte
	Proxy  token.WebKDCProxyToken
}

// Config carries the pieces of server configuration the pipeline needs that
// aren't already captured by the krb5.Adapter or keyring.Ring it's given.
type Config struct {
	// ServerPrincipal is this WebKDC's own Kerberos principal, stamped
	// into the proxy token as "ps" and used as the target principal
	// during TGT self-verification.
	ServerPrincipal string

	// ServerKeytabPath is this WebKDC's own keytab, used to verify the
	// self AP-REQ built against ServerPrincipal right after the AS-REQ
	// succeeds. Empty disables self-verification.
	ServerKeytabPath string

	// ProxyTokenMaxLifetime caps the webkdc-proxy token's lifetime
	// regardless of the TGT's own expiration; zero means "no cap beyond
	// the TGT's expiration".
	ProxyTokenMaxLifetime time.Duration
}

// AdapterFactory returns a fresh, unauthenticated krb5.Adapter for one login
// attempt. A factory rather than a shared instance keeps concurrent logins
// from racing over one Context's credential state.
type AdapterFactory func() krb5.Adapter

// Password runs the password login pipeline: AS-REQ with the given
// credentials, classify any failure, resolve the canonical local principal,
// export the resulting TGT, and seal it into a webkdc-proxy token under
// ring's current encrypting key.
func Password(ctx context.Context, cfg Config, newAdapter AdapterFactory, ring *keyring.Ring, username, password string) (*Result, *werror.Error) {
	adapter := newAdapter()
	defer adapter.Free()

	if err := adapter.InitViaPassword(ctx, username, password, cfg.ServerKeytabPath, cfg.ServerPrincipal); err != nil {
		return nil, krb5.Classify(err)
	}

	principal, err := adapter.GetPrincipal(true)
	if err != nil {
		return nil, werror.Wrap(werror.ServerFailure, err)
	}

	proxyData, tgtExpiry, err := adapter.ExportCred()
	if err != nil {
		return nil, werror.Wrap(werror.ServerFailure, err)
	}

	now := time.Now().UTC()
	expiration := tgtExpiry
	if cfg.ProxyTokenMaxLifetime > 0 {
		if cap := now.Add(cfg.ProxyTokenMaxLifetime); cap.Before(expiration) {
			expiration = cap
		}
	}

	proxy := token.WebKDCProxyToken{
		ProxySubject: cfg.ServerPrincipal,
		ProxyType:    "krb5",
		Subject:      principal,
		ProxyData:    proxyData,
		Creation:     now,
		Expiration:   expiration,
	}
	attrs := token.NewWebKDCProxyToken(proxy)
	sealed, cErr := token.Create(token.KindWebKDCProxy, attrs, now, ring)
	if cErr != nil {
		return nil, werror.Wrap(werror.ServerFailure, cErr)
	}

	return &Result{Sealed: sealed, Proxy: proxy}, nil
}
