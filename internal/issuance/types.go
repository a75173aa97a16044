// Package issuance implements the C6 request handler: the
// getTokensRequest/requestTokenRequest state machines and the
// requester×subject×requested-token compatibility matrix that routes each
// requested token kind to the right issuance path.
package issuance

import "time"

// RequesterCredential identifies who is asking: either a relying party
// presenting its own service token, or the WebKDC's own Apache module
// authenticating itself with an AP-REQ.
type RequesterCredential struct {
	Type string // "service" | "krb5"

	// ServiceToken is the sealed "webkdc-service" token, present when
	// Type == "service".
	ServiceToken []byte

	// APReq is the raw AP-REQ bytes (the "sad" the module built via
	// mk_req), present when Type == "krb5".
	APReq []byte

	// ServerPrincipal is the principal the AP-REQ was built for; RdReq
	// verifies against it.
	ServerPrincipal string
}

// SubjectCredential identifies whose identity the requested token should
// carry: either one or more previously issued webkdc-proxy tokens, or a
// fresh login token to be converted via the login pipeline.
type SubjectCredential struct {
	Type string // "proxy" | "login"

	// ProxyTokens holds the sealed "webkdc-proxy" tokens carried by the
	// <proxyToken> children of a type="proxy" subjectCredential. The
	// original accepts a list (one per proxy type held); the caller
	// selects the entry matching the requested proxy_type.
	ProxyTokens [][]byte

	// LoginToken is the sealed "login" token, present when Type == "login".
	LoginToken []byte
}

// TokenSpec is one <token type="…"> child of a getTokensRequest's <tokens>
// block.
type TokenSpec struct {
	Type              string // "service" | "id" | "proxy" | "cred"
	ID                string
	AuthenticatorType string // "webkdc" | "krb5", for Type == "id"
	ProxyType         string // for Type == "proxy" | "cred"
	CredentialType    string // for Type == "cred"
	ServerPrincipal   string // for Type == "cred"
}

// GetTokensRequest is the decoded form of a getTokensRequest envelope.
type GetTokensRequest struct {
	RequesterCredential RequesterCredential
	SubjectCredential   *SubjectCredential
	MessageID           string

	// RequestToken is the sealed "req" token carrying cmd="getTokensRequest",
	// required when RequesterCredential.Type == "service" to bind the call
	// to that service's session key.
	RequestToken []byte

	Tokens []TokenSpec
}

// TokenResult is one produced token, successful or a replacement error
// token, ready for XML rendering.
type TokenResult struct {
	Type    string
	ID      string
	Sealed  []byte
	Expires time.Time

	// IsError is set when Sealed actually holds a sealed "error" token
	// (the "unauthorized" and login-canceled folding rules) rather than the
	// requested kind.
	IsError bool
}

// GetTokensResponse is the rendering-ready result of GetTokens.
type GetTokensResponse struct {
	Tokens []TokenResult
}

// RequestTokenRequest is the decoded form of a requestTokenRequest envelope.
type RequestTokenRequest struct {
	RequesterCredential RequesterCredential
	SubjectCredential   SubjectCredential

	// RequestToken is the sealed "req" token naming the requested type and
	// options, encrypted under the requester's session key.
	RequestToken []byte
}

// RequestTokenResponse is the rendering-ready result of RequestToken. Either
// Token is populated (success) or LoginErrorCode is nonzero (the
// login_failed/login_forced/login_canceled/proxy_token_required subset
// folded into a 200 response.6 Failure policy).
type RequestTokenResponse struct {
	Token             *TokenResult
	LoginErrorCode    int
	LoginErrorMessage string

	// SubjectAuthenticated reports whether this exchange performed a fresh
	// login (used by the "fa" force-auth option).
	SubjectAuthenticated bool
}
