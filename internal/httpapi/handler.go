package httpapi

import (
	"encoding/base64"
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webauth/webkdcd/internal/issuance"
	"github.com/webauth/webkdcd/internal/werror"
)

// maxRequestBodyBytes bounds the XML body read; never trust a
// Content-Length header alone.
const maxRequestBodyBytes = 1 << 20

// Handler serves the single POST /webkdc endpoint. Unlike goctl-scaffolded
// JSON handlers (httpx.Parse/OkJsonCtx), this endpoint speaks XML in and
// out, so it implements its own parse/render pair rather than routing
// through go-zero's JSON-only httpx helpers.
type Handler struct {
	Env    *issuance.Env
	Log    *zap.Logger
	Debug  bool
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	w.Header().Set("X-Request-Id", requestID)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		h.writeError(w, werror.New(werror.InvalidRequest))
		return
	}

	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(body, &probe); err != nil {
		h.writeError(w, werror.New(werror.InvalidRequest))
		return
	}

	switch probe.XMLName.Local {
	case "getTokensRequest":
		h.handleGetTokens(w, r, body, requestID)
	case "requestTokenRequest":
		h.handleRequestToken(w, r, body, requestID)
	default:
		h.writeError(w, werror.New(werror.InvalidRequest))
	}
}

func (h *Handler) handleGetTokens(w http.ResponseWriter, r *http.Request, body []byte, requestID string) {
	var env getTokensRequestXML
	if err := xml.Unmarshal(body, &env); err != nil {
		h.writeError(w, werror.New(werror.InvalidRequest))
		return
	}

	reqCred, werr := decodeRequesterCredential(env.RequesterCredential)
	if werr != nil {
		h.writeError(w, werr)
		return
	}
	subCred, werr := decodeSubjectCredential(env.SubjectCredential)
	if werr != nil {
		h.writeError(w, werr)
		return
	}
	reqToken, werr := decodeBase64(env.RequestToken)
	if werr != nil {
		h.writeError(w, werr)
		return
	}

	specs := make([]issuance.TokenSpec, 0, len(env.Tokens))
	for _, t := range env.Tokens {
		specs = append(specs, issuance.TokenSpec{
			Type: t.Type, ID: t.ID, AuthenticatorType: t.Authenticator,
			ProxyType: t.ProxyType, CredentialType: t.CredentialType, ServerPrincipal: t.ServerPrincipal,
		})
	}

	resp, werr := h.Env.GetTokens(r.Context(), issuance.GetTokensRequest{
		RequesterCredential: reqCred,
		SubjectCredential:   subCred,
		MessageID:           env.MessageID,
		RequestToken:        reqToken,
		Tokens:              specs,
	})
	if werr != nil {
		h.logFailure(r, requestID, werr)
		h.writeError(w, werr)
		return
	}

	out := getTokensResponseXML{}
	for _, tr := range resp.Tokens {
		out.Tokens = append(out.Tokens, tokenResultXML{
			Type: tr.Type, ID: tr.ID, Data: base64.StdEncoding.EncodeToString(tr.Sealed),
		})
	}
	h.writeXML(w, http.StatusOK, out)
}

func (h *Handler) handleRequestToken(w http.ResponseWriter, r *http.Request, body []byte, requestID string) {
	var env requestTokenRequestXML
	if err := xml.Unmarshal(body, &env); err != nil {
		h.writeError(w, werror.New(werror.InvalidRequest))
		return
	}

	reqCred, werr := decodeRequesterCredential(env.RequesterCredential)
	if werr != nil {
		h.writeError(w, werr)
		return
	}
	subCredPtr, werr := decodeSubjectCredential(&env.SubjectCredential)
	if werr != nil {
		h.writeError(w, werr)
		return
	}
	reqToken, werr := decodeBase64(env.RequestToken)
	if werr != nil {
		h.writeError(w, werr)
		return
	}

	resp, werr := h.Env.RequestToken(r.Context(), issuance.RequestTokenRequest{
		RequesterCredential: reqCred,
		SubjectCredential:   *subCredPtr,
		RequestToken:        reqToken,
	})
	if werr != nil {
		h.logFailure(r, requestID, werr)
		h.writeError(w, werr)
		return
	}

	out := requestTokenResponseXML{
		LoginErrorCode:    resp.LoginErrorCode,
		LoginErrorMessage: resp.LoginErrorMessage,
	}
	if resp.Token != nil {
		out.Token = base64.StdEncoding.EncodeToString(resp.Token.Sealed)
		out.TokenType = resp.Token.Type
	}
	h.writeXML(w, http.StatusOK, out)
}

func decodeRequesterCredential(x requesterCredentialXML) (issuance.RequesterCredential, *werror.Error) {
	data, werr := decodeBase64(x.Data)
	if werr != nil {
		return issuance.RequesterCredential{}, werr
	}
	out := issuance.RequesterCredential{Type: x.Type, ServerPrincipal: x.ServerPrincipal}
	switch x.Type {
	case "service":
		out.ServiceToken = data
	case "krb5":
		out.APReq = data
	default:
		return issuance.RequesterCredential{}, werror.New(werror.InvalidRequest)
	}
	return out, nil
}

func decodeSubjectCredential(x *subjectCredentialXML) (*issuance.SubjectCredential, *werror.Error) {
	if x == nil {
		return nil, nil
	}
	out := &issuance.SubjectCredential{Type: x.Type}
	switch x.Type {
	case "proxy":
		for _, pt := range x.ProxyTokens {
			data, werr := decodeBase64(pt)
			if werr != nil {
				return nil, werr
			}
			out.ProxyTokens = append(out.ProxyTokens, data)
		}
	case "login":
		data, werr := decodeBase64(x.LoginToken)
		if werr != nil {
			return nil, werr
		}
		out.LoginToken = data
	default:
		return nil, werror.New(werror.InvalidRequest)
	}
	return out, nil
}

func decodeBase64(s string) ([]byte, *werror.Error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, werror.Wrap(werror.InvalidRequest, err)
	}
	return data, nil
}

func (h *Handler) writeXML(w http.ResponseWriter, status int, v interface{}) {
	body, err := xml.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	w.Write([]byte(xml.Header))
	w.Write(body)
}

func (h *Handler) writeError(w http.ResponseWriter, werr *werror.Error) {
	h.writeXML(w, http.StatusOK, errorResponseXML{ErrorCode: int(werr.Code), ErrorMessage: werr.Msg})
}

// logFailure applies the two-tier logging gate, to avoid flooding logs on routine bad credentials.
func (h *Handler) logFailure(r *http.Request, requestID string, werr *werror.Error) {
	fields := []zap.Field{zap.String("path", r.URL.Path), zap.String("request_id", requestID), zap.Error(werr)}
	if werr.Code == werror.ServerFailure {
		h.Log.Error("webkdc request failed", fields...)
		return
	}
	if h.Debug {
		h.Log.Debug("webkdc request failed", fields...)
	}
}
