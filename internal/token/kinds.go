package token

import (
	"fmt"
	"time"

	"github.com/webauth/webkdcd/internal/attrlist"
)

// Kind-name constants for the "t" attribute.
const (
	KindApp           = "app"
	KindID            = "id"
	KindProxy         = "proxy"
	KindWebKDCProxy   = "webkdc-proxy"
	KindCred          = "cred"
	KindReq           = "req"
	KindError         = "error"
	KindLogin         = "login"
	KindWebKDCService = "webkdc-service"
)

// missingAttr reports which required attribute a decoded token is missing.
func missingAttr(kind, name string) error {
	return fmt.Errorf("token: %s token missing required attribute %q", kind, name)
}

// WebKDCServiceToken is the C5 view over a "webkdc-service" token: the
// ephemeral per-relying-party session key plus its validity window.
type WebKDCServiceToken struct {
	Subject    string
	SessionKey [16]byte
	Creation   time.Time
	Expiration time.Time
}

// NewWebKDCServiceToken builds the attribute list for a fresh service token.
func NewWebKDCServiceToken(t WebKDCServiceToken) *attrlist.List {
	a := attrlist.New(6)
	a.AddStr("t", KindWebKDCService)
	a.AddStr("s", t.Subject)
	a.Add("k", t.SessionKey[:])
	a.AddTime("ct", t.Creation)
	a.AddTime("et", t.Expiration)
	return a
}

// ParseWebKDCServiceToken decodes a service token's attribute list,
// enforcing its required-attribute invariant (t, s, k, ct, et).
func ParseWebKDCServiceToken(a *attrlist.List) (WebKDCServiceToken, error) {
	var out WebKDCServiceToken
	var ok bool
	if out.Subject, ok = a.GetStr("s"); !ok {
		return out, missingAttr(KindWebKDCService, "s")
	}
	ki := a.Find("k")
	if ki < 0 {
		return out, missingAttr(KindWebKDCService, "k")
	}
	key := a.Get(ki)
	if len(key) != 16 {
		return out, fmt.Errorf("token: webkdc-service session key has wrong length %d", len(key))
	}
	copy(out.SessionKey[:], key)
	if out.Creation, ok = a.GetTime("ct"); !ok {
		return out, missingAttr(KindWebKDCService, "ct")
	}
	if out.Expiration, ok = a.GetTime("et"); !ok {
		return out, missingAttr(KindWebKDCService, "et")
	}
	return out, nil
}

// WebKDCProxyToken is the C5 view over a "webkdc-proxy" token: an opaque
// Kerberos credential blob for one user, stamped with the WebKDC's own
// server principal as the minting proxy.
type WebKDCProxyToken struct {
	ProxySubject string // our server principal that minted this token
	ProxyType    string // "krb5"
	Subject      string // the user
	ProxyData    []byte // exported TGT
	Creation     time.Time
	Expiration   time.Time
}

func NewWebKDCProxyToken(t WebKDCProxyToken) *attrlist.List {
	a := attrlist.New(8)
	a.AddStr("t", KindWebKDCProxy)
	a.AddStr("s", t.Subject)
	a.AddStr("ps", t.ProxySubject)
	a.AddStr("pt", t.ProxyType)
	a.Add("pd", t.ProxyData)
	a.AddTime("ct", t.Creation)
	a.AddTime("et", t.Expiration)
	return a
}

func ParseWebKDCProxyToken(a *attrlist.List) (WebKDCProxyToken, error) {
	var out WebKDCProxyToken
	var ok bool
	if out.Subject, ok = a.GetStr("s"); !ok {
		return out, missingAttr(KindWebKDCProxy, "s")
	}
	if out.ProxySubject, ok = a.GetStr("ps"); !ok {
		return out, missingAttr(KindWebKDCProxy, "ps")
	}
	if out.ProxyType, ok = a.GetStr("pt"); !ok {
		return out, missingAttr(KindWebKDCProxy, "pt")
	}
	pdi := a.Find("pd")
	if pdi < 0 {
		return out, missingAttr(KindWebKDCProxy, "pd")
	}
	out.ProxyData = a.Get(pdi)
	if out.Creation, ok = a.GetTime("ct"); !ok {
		return out, missingAttr(KindWebKDCProxy, "ct")
	}
	if out.Expiration, ok = a.GetTime("et"); !ok {
		return out, missingAttr(KindWebKDCProxy, "et")
	}
	return out, nil
}

// ProxyToken is the C5 view over a "proxy" token: the wrapper handed to a
// relying party, carrying the original webkdc-proxy token as an opaque blob.
type ProxyToken struct {
	Subject           string
	ProxyType         string
	WrappedWebKDCProxy []byte
	Creation          time.Time
	Expiration        time.Time
}

func NewProxyToken(t ProxyToken) *attrlist.List {
	a := attrlist.New(6)
	a.AddStr("t", KindProxy)
	a.AddStr("s", t.Subject)
	a.AddStr("pt", t.ProxyType)
	a.Add("wt", t.WrappedWebKDCProxy)
	a.AddTime("ct", t.Creation)
	a.AddTime("et", t.Expiration)
	return a
}

func ParseProxyToken(a *attrlist.List) (ProxyToken, error) {
	var out ProxyToken
	var ok bool
	if out.Subject, ok = a.GetStr("s"); !ok {
		return out, missingAttr(KindProxy, "s")
	}
	if out.ProxyType, ok = a.GetStr("pt"); !ok {
		return out, missingAttr(KindProxy, "pt")
	}
	wi := a.Find("wt")
	if wi < 0 {
		return out, missingAttr(KindProxy, "wt")
	}
	out.WrappedWebKDCProxy = a.Get(wi)
	if out.Creation, ok = a.GetTime("ct"); !ok {
		return out, missingAttr(KindProxy, "ct")
	}
	if out.Expiration, ok = a.GetTime("et"); !ok {
		return out, missingAttr(KindProxy, "et")
	}
	return out, nil
}

// CredToken is the C5 view over a "cred" token: an exported Kerberos
// service ticket for one named server principal.
type CredToken struct {
	Subject    string
	CredType   string // "krb5"
	CredData   []byte // exported service ticket
	Creation   time.Time
	Expiration time.Time
}

func NewCredToken(t CredToken) *attrlist.List {
	a := attrlist.New(6)
	a.AddStr("t", KindCred)
	a.AddStr("s", t.Subject)
	a.AddStr("crt", t.CredType)
	a.Add("crd", t.CredData)
	a.AddTime("ct", t.Creation)
	a.AddTime("et", t.Expiration)
	return a
}

func ParseCredToken(a *attrlist.List) (CredToken, error) {
	var out CredToken
	var ok bool
	if out.Subject, ok = a.GetStr("s"); !ok {
		return out, missingAttr(KindCred, "s")
	}
	if out.CredType, ok = a.GetStr("crt"); !ok {
		return out, missingAttr(KindCred, "crt")
	}
	crdi := a.Find("crd")
	if crdi < 0 {
		return out, missingAttr(KindCred, "crd")
	}
	out.CredData = a.Get(crdi)
	if out.Creation, ok = a.GetTime("ct"); !ok {
		return out, missingAttr(KindCred, "ct")
	}
	if out.Expiration, ok = a.GetTime("et"); !ok {
		return out, missingAttr(KindCred, "et")
	}
	return out, nil
}

// IDToken is the C5 view over an "id" token.
type IDToken struct {
	SubjectAuth     string // "webkdc" or "krb5"
	Subject         string
	SubjectAuthData []byte // present only when SubjectAuth == "krb5"
	Creation        time.Time
	Expiration      time.Time
}

func NewIDToken(t IDToken) *attrlist.List {
	a := attrlist.New(6)
	a.AddStr("t", KindID)
	a.AddStr("sa", t.SubjectAuth)
	if t.Subject != "" {
		a.AddStr("s", t.Subject)
	}
	if len(t.SubjectAuthData) > 0 {
		a.Add("sad", t.SubjectAuthData)
	}
	a.AddTime("ct", t.Creation)
	a.AddTime("et", t.Expiration)
	return a
}

func ParseIDToken(a *attrlist.List) (IDToken, error) {
	var out IDToken
	var ok bool
	if out.SubjectAuth, ok = a.GetStr("sa"); !ok {
		return out, missingAttr(KindID, "sa")
	}
	out.Subject, _ = a.GetStr("s")
	if sadi := a.Find("sad"); sadi >= 0 {
		out.SubjectAuthData = a.Get(sadi)
	}
	if out.Creation, ok = a.GetTime("ct"); !ok {
		return out, missingAttr(KindID, "ct")
	}
	if out.Expiration, ok = a.GetTime("et"); !ok {
		return out, missingAttr(KindID, "et")
	}
	return out, nil
}

// RequestToken is the C5 view over a "req" token: either a bare command
// (used to bind a getTokensRequest call to the session key) or a full
// end-user-agent request describing the desired token type and options.
type RequestToken struct {
	Command           string // "getTokensRequest", when present this is the whole token
	RequestedTokenType string // "id" | "proxy"
	ReturnURL         string
	RequestOptions    string
	SubjectAuth       string // for requested id tokens
	ProxyType         string // for requested proxy tokens
	AppState          []byte
	Creation          time.Time
}

func NewRequestToken(t RequestToken) *attrlist.List {
	a := attrlist.New(8)
	a.AddStr("t", KindReq)
	if t.Command != "" {
		a.AddStr("cmd", t.Command)
		a.AddTime("ct", t.Creation)
		return a
	}
	a.AddStr("rtt", t.RequestedTokenType)
	a.AddStr("ru", t.ReturnURL)
	a.AddStr("ro", t.RequestOptions)
	if t.SubjectAuth != "" {
		a.AddStr("sa", t.SubjectAuth)
	}
	if t.ProxyType != "" {
		a.AddStr("pt", t.ProxyType)
	}
	if len(t.AppState) > 0 {
		a.Add("as", t.AppState)
	}
	a.AddTime("ct", t.Creation)
	return a
}

func ParseRequestToken(a *attrlist.List) (RequestToken, error) {
	var out RequestToken
	var ok bool
	if out.Creation, ok = a.GetTime("ct"); !ok {
		return out, missingAttr(KindReq, "ct")
	}
	if cmd, ok := a.GetStr("cmd"); ok {
		out.Command = cmd
		return out, nil
	}
	if out.RequestedTokenType, ok = a.GetStr("rtt"); !ok {
		return out, missingAttr(KindReq, "rtt")
	}
	if out.ReturnURL, ok = a.GetStr("ru"); !ok {
		return out, missingAttr(KindReq, "ru")
	}
	out.RequestOptions, _ = a.GetStr("ro")
	out.SubjectAuth, _ = a.GetStr("sa")
	out.ProxyType, _ = a.GetStr("pt")
	if asi := a.Find("as"); asi >= 0 {
		out.AppState = a.Get(asi)
	}
	return out, nil
}

// LoginToken is the C5 view over a "login" token.
type LoginToken struct {
	Username string
	Password string
	Creation time.Time
}

func NewLoginToken(t LoginToken) *attrlist.List {
	a := attrlist.New(4)
	a.AddStr("t", KindLogin)
	a.AddStr("u", t.Username)
	a.AddStr("p", t.Password)
	a.AddTime("ct", t.Creation)
	return a
}

func ParseLoginToken(a *attrlist.List) (LoginToken, error) {
	var out LoginToken
	var ok bool
	if out.Username, ok = a.GetStr("u"); !ok {
		return out, missingAttr(KindLogin, "u")
	}
	if out.Password, ok = a.GetStr("p"); !ok {
		return out, missingAttr(KindLogin, "p")
	}
	if out.Creation, ok = a.GetTime("ct"); !ok {
		return out, missingAttr(KindLogin, "ct")
	}
	return out, nil
}

// ErrorToken is the C5 view over an "error" token, returned in place of a
// requested token for the defined error subset.
type ErrorToken struct {
	ErrorCode    int
	ErrorMessage string
	Creation     time.Time
}

func NewErrorToken(t ErrorToken) *attrlist.List {
	a := attrlist.New(4)
	a.AddStr("t", KindError)
	a.AddStr("ec", fmt.Sprintf("%d", t.ErrorCode))
	a.AddStr("em", t.ErrorMessage)
	a.AddTime("ct", t.Creation)
	return a
}

func ParseErrorToken(a *attrlist.List) (ErrorToken, error) {
	var out ErrorToken
	ec, ok := a.GetStr("ec")
	if !ok {
		return out, missingAttr(KindError, "ec")
	}
	if _, err := fmt.Sscanf(ec, "%d", &out.ErrorCode); err != nil {
		return out, fmt.Errorf("token: error token has non-numeric ec %q", ec)
	}
	if out.ErrorMessage, ok = a.GetStr("em"); !ok {
		return out, missingAttr(KindError, "em")
	}
	if out.Creation, ok = a.GetTime("ct"); !ok {
		return out, missingAttr(KindError, "ct")
	}
	return out, nil
}
