package issuance

import (
	"context"
	"time"

	"github.com/webauth/webkdcd/internal/attrlist"
	"github.com/webauth/webkdcd/internal/keyring"
	"github.com/webauth/webkdcd/internal/krb5"
	"github.com/webauth/webkdcd/internal/login"
	"github.com/webauth/webkdcd/internal/token"
	"github.com/webauth/webkdcd/internal/werror"
)

// Config carries the request-handler-level settings.
type Config struct {
	ServiceTokenLifetime  time.Duration
	ProxyTokenMaxLifetime time.Duration
	TokenMaxTTL           time.Duration
	ServerPrincipal       string // this WebKDC's own principal, for krb5 requesters
	ServerKeytabPath      string
}

// Env bundles the C2/C4 collaborators the issuance state machines need.
type Env struct {
	Ring       *keyring.Ring
	NewAdapter krb5.AdapterFactory
	Config     Config
}

type authenticatedRequester struct {
	kind       string // "service" | "krb5"
	subject    string // for krb5: the AP-REQ's client principal
	sessionKey [16]byte
	hasSession bool
}

// authenticateRequester validates a RequesterCredential and, for a service
// requester, recovers its session key so the caller can decode the
// accompanying request token.
func (e *Env) authenticateRequester(ctx context.Context, cred RequesterCredential) (*authenticatedRequester, *werror.Error) {
	switch cred.Type {
	case "krb5":
		adapter := e.NewAdapter()
		defer adapter.Free()
		client, err := adapter.RdReq(ctx, cred.APReq, e.Config.ServerKeytabPath, cred.ServerPrincipal)
		if err != nil {
			return nil, werror.Wrap(werror.RequesterKrb5CredInvalid, err)
		}
		return &authenticatedRequester{kind: "krb5", subject: client}, nil

	case "service":
		attrs, err := token.Parse(cred.ServiceToken, 0, e.Ring)
		if err != nil {
			return nil, classifyTokenError(err, werror.ServiceTokenInvalid, werror.ServiceTokenExpired, 0)
		}
		svc, perr := token.ParseWebKDCServiceToken(attrs)
		if perr != nil {
			return nil, werror.Wrap(werror.ServiceTokenInvalid, perr)
		}
		out := &authenticatedRequester{kind: "service", subject: svc.Subject, sessionKey: svc.SessionKey, hasSession: true}
		return out, nil

	default:
		return nil, werror.New(werror.InvalidRequest)
	}
}

// classifyTokenError maps a token-codec sentinel error onto the werror code
// pair appropriate for the token kind being decoded, defaulting to
// invalidCode for anything that isn't specifically an expiration.
func classifyTokenError(err error, invalidCode, expiredCode werror.Code, staleCode werror.Code) *werror.Error {
	switch err {
	case token.ErrTokenExpired:
		return werror.Wrap(expiredCode, err)
	case token.ErrTokenStale:
		if staleCode != 0 {
			return werror.Wrap(staleCode, err)
		}
		return werror.Wrap(invalidCode, err)
	default:
		return werror.Wrap(invalidCode, err)
	}
}

// resolveSubjectProxy decodes sub's webkdc-proxy tokens (keyring-encrypted)
// and returns the one matching proxyType, per the "multiple <proxyToken>
// children" supplement
func resolveSubjectProxy(ring *keyring.Ring, sub *SubjectCredential, proxyType string) (token.WebKDCProxyToken, *werror.Error) {
	var last *werror.Error
	for _, sealed := range sub.ProxyTokens {
		attrs, err := token.Parse(sealed, 0, ring)
		if err != nil {
			last = classifyTokenError(err, werror.ProxyTokenInvalid, werror.ProxyTokenExpired, 0)
			continue
		}
		proxy, perr := token.ParseWebKDCProxyToken(attrs)
		if perr != nil {
			last = werror.Wrap(werror.ProxyTokenInvalid, perr)
			continue
		}
		if proxy.ProxyType == proxyType {
			return proxy, nil
		}
	}
	if last != nil {
		return token.WebKDCProxyToken{}, last
	}
	return token.WebKDCProxyToken{}, werror.New(werror.ProxyTokenRequired)
}

// doLogin runs the C7 login pipeline for a login subject credential.
func (e *Env) doLogin(ctx context.Context, sub *SubjectCredential) (token.WebKDCProxyToken, *werror.Error) {
	attrs, err := token.Parse(sub.LoginToken, e.Config.TokenMaxTTL, e.Ring)
	if err != nil {
		return token.WebKDCProxyToken{}, classifyTokenError(err, werror.LoginTokenInvalid, werror.LoginTokenInvalid, werror.LoginTokenStale)
	}
	lt, perr := token.ParseLoginToken(attrs)
	if perr != nil {
		return token.WebKDCProxyToken{}, werror.Wrap(werror.LoginTokenInvalid, perr)
	}

	cfg := login.Config{
		ServerPrincipal:       e.Config.ServerPrincipal,
		ServerKeytabPath:      e.Config.ServerKeytabPath,
		ProxyTokenMaxLifetime: e.Config.ProxyTokenMaxLifetime,
	}
	res, werr := login.Password(ctx, cfg, e.NewAdapter, e.Ring, lt.Username, lt.Password)
	if werr != nil {
		return token.WebKDCProxyToken{}, werr
	}
	return res.Proxy, nil
}

func sealUnderSession(kind string, attrs *attrlist.List, sessionKey [16]byte) ([]byte, *werror.Error) {
	sealed, err := token.CreateWithKey(kind, attrs, time.Time{}, sessionKey)
	if err != nil {
		return nil, werror.Wrap(werror.ServerFailure, err)
	}
	return sealed, nil
}
