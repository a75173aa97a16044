package issuance

import (
	"context"
	"strings"
	"time"

	"github.com/webauth/webkdcd/internal/token"
	"github.com/webauth/webkdcd/internal/werror"
)

// requestOptions are the two-letter, whitespace-separated flags packed into
// a request token's "ro" attribute: "fa" (force auth) and "lc" (include
// login-canceled token).
type requestOptions struct {
	forceAuth     bool
	loginCanceled bool
}

func parseRequestOptions(ro string) requestOptions {
	var opts requestOptions
	for _, field := range strings.Fields(ro) {
		switch field {
		case "fa":
			opts.forceAuth = true
		case "lc":
			opts.loginCanceled = true
		}
	}
	return opts
}

// RequestToken implements the requestTokenRequest verb's state machine:
// authenticate the requester, resolve the subject, fold login/proxy
// failures into the response per the forceAuth/loginCanceled options.
func (e *Env) RequestToken(ctx context.Context, req RequestTokenRequest) (*RequestTokenResponse, *werror.Error) {
	requester, werr := e.authenticateRequester(ctx, req.RequesterCredential)
	if werr != nil {
		return nil, werr
	}
	if requester.kind != "service" {
		return nil, werror.New(werror.InvalidRequest)
	}

	attrs, err := token.ParseWithKey(req.RequestToken, e.Config.TokenMaxTTL, requester.sessionKey)
	if err != nil {
		return nil, classifyTokenError(err, werror.RequestTokenInvalid, werror.RequestTokenExpired, werror.RequestTokenStale)
	}
	rt, perr := token.ParseRequestToken(attrs)
	if perr != nil || rt.Command != "" {
		return nil, werror.New(werror.RequestTokenInvalid)
	}
	opts := parseRequestOptions(rt.RequestOptions)

	var proxy token.WebKDCProxyToken
	didLogin := false
	var loginFailure *werror.Error

	sub := req.SubjectCredential
	switch sub.Type {
	case "login":
		p, werr := e.doLogin(ctx, &sub)
		if werr != nil {
			if !werror.IsLoginErrorCode(werr.Code) {
				return nil, werr
			}
			loginFailure = werr
		} else {
			proxy = p
			didLogin = true
		}
	case "proxy":
		proxyType := rt.ProxyType
		if proxyType == "" {
			proxyType = "krb5"
		}
		p, werr := resolveSubjectProxy(e.Ring, &sub, proxyType)
		if werr != nil {
			// The lc option is checked at response time regardless of
			// whether a login was ever attempted, so a proxy subject that
			// fails to resolve with a login-error code (proxy_token_required)
			// folds into the same loginFailure path a failed login would.
			// Invalid or expired proxy tokens stay fatal.
			if !werror.IsLoginErrorCode(werr.Code) {
				return nil, werr
			}
			loginFailure = werr
		} else {
			proxy = p
		}
	default:
		return nil, werror.New(werror.InvalidRequest)
	}

	if loginFailure != nil {
		if opts.loginCanceled {
			return e.loginCanceledResponse(requester.sessionKey, loginFailure)
		}
		return &RequestTokenResponse{
			LoginErrorCode:    int(loginFailure.Code),
			LoginErrorMessage: loginFailure.Msg,
		}, nil
	}

	if opts.forceAuth && !didLogin {
		return &RequestTokenResponse{
			LoginErrorCode:    int(werror.LoginForced),
			LoginErrorMessage: werror.Message(werror.LoginForced),
		}, nil
	}

	var result TokenResult
	switch rt.RequestedTokenType {
	case "id":
		result, werr = e.createIDTokenFromProxy(TokenSpec{AuthenticatorType: rt.SubjectAuth}, proxy, requester, "")
	case "proxy":
		result, werr = e.createProxyToken(requester.subject, proxy, requester.sessionKey, "")
	default:
		return nil, werror.New(werror.InvalidRequest)
	}
	if werr != nil {
		if werr.Code == werror.ProxyTokenRequired {
			return &RequestTokenResponse{
				LoginErrorCode:       int(werror.ProxyTokenRequired),
				LoginErrorMessage:    werr.Msg,
				SubjectAuthenticated: didLogin,
			}, nil
		}
		if werr.Code == werror.Unauthorized {
			errToken, sealErr := e.sealErrorToken(werror.Unauthorized, werr.Msg, requester.sessionKey)
			if sealErr != nil {
				return nil, sealErr
			}
			return &RequestTokenResponse{Token: &errToken, SubjectAuthenticated: didLogin}, nil
		}
		return nil, werr
	}

	return &RequestTokenResponse{Token: &result, SubjectAuthenticated: didLogin}, nil
}

// loginCanceledResponse synthesizes a distinguished error token with
// error_code = login_canceled in place of the requested token, for the
// lc request option.
func (e *Env) loginCanceledResponse(sessionKey [16]byte, cause *werror.Error) (*RequestTokenResponse, *werror.Error) {
	errToken, werr := e.sealErrorToken(werror.LoginCanceled, werror.Message(werror.LoginCanceled), sessionKey)
	if werr != nil {
		return nil, werr
	}
	return &RequestTokenResponse{Token: &errToken}, nil
}

func (e *Env) sealErrorToken(code werror.Code, msg string, sessionKey [16]byte) (TokenResult, *werror.Error) {
	now := time.Now().UTC()
	attrs := token.NewErrorToken(token.ErrorToken{ErrorCode: int(code), ErrorMessage: msg, Creation: now})
	sealed, werr := sealUnderSession(token.KindError, attrs, sessionKey)
	if werr != nil {
		return TokenResult{}, werr
	}
	return TokenResult{Type: "error", Sealed: sealed, Expires: now, IsError: true}, nil
}
