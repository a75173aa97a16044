package httpapi

import (
	"encoding/base64"
	"encoding/xml"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/webauth/webkdcd/internal/issuance"
	"github.com/webauth/webkdcd/internal/keyring"
	"github.com/webauth/webkdcd/internal/krb5"
	"github.com/webauth/webkdcd/internal/token"
)

func testHandler(t *testing.T) (*Handler, *keyring.Ring) {
	t.Helper()
	now := time.Now().UTC()
	k, err := keyring.Generate(now, now)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	ring := keyring.NewRing([]keyring.Key{k})
	env := &issuance.Env{
		Ring:       ring,
		NewAdapter: func() krb5.Adapter { return &krb5.Fake{} },
		Config: issuance.Config{
			ServiceTokenLifetime: time.Hour,
			TokenMaxTTL:          5 * time.Minute,
			ServerPrincipal:      "webkdc/example.com@EXAMPLE.COM",
			ServerKeytabPath:     "/etc/webkdc.keytab",
		},
	}
	return &Handler{Env: env, Log: zap.NewNop()}, ring
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := testHandler(t)
	req := httptest.NewRequest("GET", "/webkdc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 405 {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestBadContentType(t *testing.T) {
	h, _ := testHandler(t)
	req := httptest.NewRequest("POST", "/webkdc", strings.NewReader("<x/>"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetTokensServiceTokenRoundTrip(t *testing.T) {
	h, ring := testHandler(t)

	apReq := "apreq:service/host@EXAMPLE.COM:webkdc/example.com@EXAMPLE.COM"
	body := `<getTokensRequest>
  <requesterCredential type="krb5" serverPrincipal="webkdc/example.com@EXAMPLE.COM">` +
		base64.StdEncoding.EncodeToString([]byte(apReq)) + `</requesterCredential>
  <tokens>
    <token type="service" id="1"/>
  </tokens>
</getTokensRequest>`

	req := httptest.NewRequest("POST", "/webkdc", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/xml")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp getTokensResponseXML
	if err := xml.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v, body=%s", err, rec.Body.String())
	}
	if len(resp.Tokens) != 1 {
		t.Fatalf("got %d tokens, want 1", len(resp.Tokens))
	}
	sealed, err := base64.StdEncoding.DecodeString(resp.Tokens[0].Data)
	if err != nil {
		t.Fatalf("decode token: %v", err)
	}
	if _, err := token.Parse(sealed, 0, ring); err != nil {
		t.Fatalf("parse returned service token: %v", err)
	}
}

func TestInvalidEnvelopeNameRejected(t *testing.T) {
	h, _ := testHandler(t)
	req := httptest.NewRequest("POST", "/webkdc", strings.NewReader("<bogusRequest/>"))
	req.Header.Set("Content-Type", "text/xml")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp errorResponseXML
	if err := xml.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error response: %v", err)
	}
	if resp.ErrorCode == 0 {
		t.Fatal("expected a nonzero error code")
	}
}
