package issuance

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/webauth/webkdcd/internal/token"
	"github.com/webauth/webkdcd/internal/werror"
)

// MaxTokensReturned is the getTokensRequest batch limit.
const MaxTokensReturned = 10

// GetTokens implements the getTokensRequest verb: authenticate the
// requester, optionally resolve a subject credential, then mint each
// requested token in order. An early failure aborts the whole batch — no
// partial success.
func (e *Env) GetTokens(ctx context.Context, req GetTokensRequest) (*GetTokensResponse, *werror.Error) {
	if len(req.Tokens) == 0 || len(req.Tokens) > MaxTokensReturned {
		return nil, werror.New(werror.InvalidRequest)
	}

	requester, werr := e.authenticateRequester(ctx, req.RequesterCredential)
	if werr != nil {
		return nil, werr
	}

	if requester.kind == "service" {
		// A service requester must bind the call to its session key with a
		// req token carrying cmd="getTokensRequest".
		if len(req.RequestToken) == 0 {
			return nil, werror.New(werror.InvalidRequest)
		}
		attrs, err := token.ParseWithKey(req.RequestToken, 0, requester.sessionKey)
		if err != nil {
			return nil, classifyTokenError(err, werror.RequestTokenInvalid, werror.RequestTokenExpired, 0)
		}
		rt, perr := token.ParseRequestToken(attrs)
		if perr != nil || rt.Command != "getTokensRequest" {
			return nil, werror.New(werror.RequestTokenInvalid)
		}
	}

	results := make([]TokenResult, 0, len(req.Tokens))
	for _, spec := range req.Tokens {
		result, werr := e.issueOne(ctx, requester, req.SubjectCredential, spec)
		if werr != nil {
			return nil, werr
		}
		results = append(results, result)
	}
	return &GetTokensResponse{Tokens: results}, nil
}

func (e *Env) issueOne(ctx context.Context, requester *authenticatedRequester, sub *SubjectCredential, spec TokenSpec) (TokenResult, *werror.Error) {
	switch spec.Type {
	case "service":
		if requester.kind != "krb5" {
			return TokenResult{}, werror.New(werror.InvalidRequest)
		}
		return e.createServiceToken(requester.subject, spec.ID)

	case "id":
		// Supplemented feature: a krb5 requester paired with a login
		// subject mints the id token inline via the login pipeline,
		// rather than requiring a separate requestTokenRequest round
		// trip. This is the one "id" path open to a krb5 requester;
		// every other subject type still requires a service requester.
		if sub != nil && sub.Type == "login" {
			proxy, werr := e.doLogin(ctx, sub)
			if werr != nil {
				return TokenResult{}, werr
			}
			return e.createIDTokenFromProxy(spec, proxy, requester, spec.ID)
		}
		if requester.kind != "service" || sub == nil || sub.Type != "proxy" {
			return TokenResult{}, werror.New(werror.InvalidRequest)
		}
		proxy, werr := resolveSubjectProxy(e.Ring, sub, "krb5")
		if werr != nil {
			return TokenResult{}, werr
		}
		return e.createIDTokenFromProxy(spec, proxy, requester, spec.ID)

	case "proxy":
		if requester.kind != "service" || sub == nil || sub.Type != "proxy" {
			return TokenResult{}, werror.New(werror.InvalidRequest)
		}
		proxy, werr := resolveSubjectProxy(e.Ring, sub, spec.ProxyType)
		if werr != nil {
			return TokenResult{}, werr
		}
		return e.createProxyToken(requester.subject, proxy, requester.sessionKey, spec.ID)

	case "cred":
		if requester.kind != "service" || sub == nil || sub.Type != "proxy" {
			return TokenResult{}, werror.New(werror.InvalidRequest)
		}
		proxy, werr := resolveSubjectProxy(e.Ring, sub, "krb5")
		if werr != nil {
			return TokenResult{}, werr
		}
		return e.createCredToken(ctx, proxy, spec, requester.sessionKey)

	default:
		return TokenResult{}, werror.New(werror.InvalidRequest)
	}
}

func (e *Env) createServiceToken(subject, id string) (TokenResult, *werror.Error) {
	var sessionKey [16]byte
	if _, err := rand.Read(sessionKey[:]); err != nil {
		return TokenResult{}, werror.Wrap(werror.ServerFailure, err)
	}
	now := time.Now().UTC()
	exp := now.Add(e.Config.ServiceTokenLifetime)
	attrs := token.NewWebKDCServiceToken(token.WebKDCServiceToken{
		Subject: subject, SessionKey: sessionKey, Creation: now, Expiration: exp,
	})
	sealed, err := token.Create(token.KindWebKDCService, attrs, now, e.Ring)
	if err != nil {
		return TokenResult{}, werror.Wrap(werror.ServerFailure, err)
	}
	return TokenResult{Type: "service", ID: id, Sealed: sealed, Expires: exp}, nil
}

func (e *Env) createIDTokenFromProxy(spec TokenSpec, proxy token.WebKDCProxyToken, requester *authenticatedRequester, id string) (TokenResult, *werror.Error) {
	authType := spec.AuthenticatorType
	if authType == "" {
		authType = "webkdc"
	}
	it := token.IDToken{SubjectAuth: authType, Subject: proxy.Subject, Creation: time.Now().UTC(), Expiration: proxy.Expiration}

	if authType == "krb5" {
		adapter := e.NewAdapter()
		defer adapter.Free()
		if err := adapter.InitViaCred(context.Background(), proxy.ProxyData); err != nil {
			return TokenResult{}, werror.Wrap(werror.ServerFailure, err)
		}
		sad, err := adapter.MkReq(context.Background(), e.Config.ServerPrincipal)
		if err != nil {
			return TokenResult{}, werror.Wrap(werror.ServerFailure, err)
		}
		it.SubjectAuthData = sad
	}

	attrs := token.NewIDToken(it)
	// A service requester has a session key the downstream WebLogin
	// server already shares, so the result is wrapped under it. A krb5
	// requester (the inline login-subject path) has no such session —
	// it authenticated itself directly via AP-REQ — so the token is
	// sealed under the keyring like any other server-to-server token.
	var sealed []byte
	var err error
	if requester.hasSession {
		sealed, err = token.CreateWithKey(token.KindID, attrs, time.Time{}, requester.sessionKey)
	} else {
		sealed, err = token.Create(token.KindID, attrs, time.Now().UTC(), e.Ring)
	}
	if err != nil {
		return TokenResult{}, werror.Wrap(werror.ServerFailure, err)
	}
	return TokenResult{Type: "id", ID: id, Sealed: sealed, Expires: it.Expiration}, nil
}

func (e *Env) createProxyToken(requesterSubject string, proxy token.WebKDCProxyToken, sessionKey [16]byte, id string) (TokenResult, *werror.Error) {
	// Re-mint a fresh webkdc-proxy with the requester as the new proxy
	// subject.
	now := time.Now().UTC()
	fresh := proxy
	fresh.ProxySubject = requesterSubject
	fresh.Creation = now
	wrapped := token.NewWebKDCProxyToken(fresh)
	sealedProxy, err := token.Create(token.KindWebKDCProxy, wrapped, now, e.Ring)
	if err != nil {
		return TokenResult{}, werror.Wrap(werror.ServerFailure, err)
	}

	outer := token.ProxyToken{
		Subject: proxy.Subject, ProxyType: proxy.ProxyType,
		WrappedWebKDCProxy: sealedProxy, Creation: now, Expiration: fresh.Expiration,
	}
	attrs := token.NewProxyToken(outer)
	sealed, werr := sealUnderSession(token.KindProxy, attrs, sessionKey)
	if werr != nil {
		return TokenResult{}, werr
	}
	return TokenResult{Type: "proxy", ID: id, Sealed: sealed, Expires: outer.Expiration}, nil
}

func (e *Env) createCredToken(ctx context.Context, proxy token.WebKDCProxyToken, spec TokenSpec, sessionKey [16]byte) (TokenResult, *werror.Error) {
	adapter := e.NewAdapter()
	defer adapter.Free()

	if err := adapter.InitViaCred(ctx, proxy.ProxyData); err != nil {
		return TokenResult{}, werror.Wrap(werror.GetCredFailure, err)
	}
	ticketBlob, ticketExpiry, err := adapter.ExportTicket(ctx, spec.ServerPrincipal)
	if err != nil {
		return TokenResult{}, werror.Wrap(werror.GetCredFailure, err)
	}

	exp := ticketExpiry
	if proxy.Expiration.Before(exp) {
		exp = proxy.Expiration
	}
	now := time.Now().UTC()
	ct := token.CredToken{Subject: proxy.Subject, CredType: "krb5", CredData: ticketBlob, Creation: now, Expiration: exp}
	attrs := token.NewCredToken(ct)
	sealed, werr := sealUnderSession(token.KindCred, attrs, sessionKey)
	if werr != nil {
		return TokenResult{}, werr
	}
	return TokenResult{Type: "cred", Sealed: sealed, Expires: exp}, nil
}
