// Package krb5 adapts the WebKDC's Kerberos needs (C4) onto
// github.com/jcmturner/gokrb5/v8: password and keytab-based AS-REQs, TGT
// export/import, and the AP-REQ mk_req/rd_req pair used to mint and verify
// webkdc-service authenticators.
package krb5

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
	"golang.org/x/sys/unix"
)

// Adapter is the C4 surface the login and issuance pipelines depend on.
// A *Context implements it against a real KDC; tests substitute a fake.
type Adapter interface {
	InitViaPassword(ctx context.Context, principal, password, serverKeytabPath, serverPrincipal string) error
	InitViaKeytab(ctx context.Context, principal, keytabPath string) error
	InitViaCred(ctx context.Context, blob []byte) error
	ExportCred() ([]byte, time.Time, error)
	MkReq(ctx context.Context, serverPrincipal string) ([]byte, error)
	RdReq(ctx context.Context, apReq []byte, serverKeytabPath, serverPrincipal string) (clientPrincipal string, err error)
	ExportTicket(ctx context.Context, serverPrincipal string) (blob []byte, expiration time.Time, err error)
	GetPrincipal(localName bool) (string, error)
	Free()
}

// Context holds one principal's established credentials for the lifetime of
// a single request, mirroring the original's WEBAUTH_KRB5_CTXT handle.
// Callers must call Free (typically via defer) to destroy the underlying
// ccache and zero key material.
type Context struct {
	mu   sync.Mutex
	krb5 *config.Config
	cl   *client.Client
}

// New builds a Context from a krb5.conf path. An empty path loads
// /etc/krb5.conf.
func New(krb5ConfPath string) (*Context, error) {
	var cfg *config.Config
	var err error
	if krb5ConfPath != "" {
		cfg, err = config.Load(krb5ConfPath)
	} else {
		cfg, err = config.Load("/etc/krb5.conf")
	}
	if err != nil {
		return nil, fmt.Errorf("krb5: load config: %w", err)
	}
	return &Context{krb5: cfg}, nil
}

func splitPrincipal(principal string) (name string, realm string) {
	for i := len(principal) - 1; i >= 0; i-- {
		if principal[i] == '@' {
			return principal[:i], principal[i+1:]
		}
	}
	return principal, ""
}

// InitViaPassword performs a password AS-REQ, the Go equivalent of
// init_via_password with an in_tkt_service of serverPrincipal: once the TGT
// is obtained, it is immediately spent on a self AP-REQ/AP-REP round trip
// against serverKeytabPath, so a KDC that handed back a TGT for the wrong
// realm or under a spoofed/MITM'd response is caught before the credential
// is ever trusted. When serverKeytabPath is empty the self-verification
// step is skipped (the caller has no local keytab to check against).
func (c *Context) InitViaPassword(ctx context.Context, principal, password, serverKeytabPath, serverPrincipal string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name, realm := splitPrincipal(principal)
	if realm == "" {
		realm = c.krb5.LibDefaults.DefaultRealm
	}
	cl := client.NewWithPassword(name, realm, password, c.krb5, client.DisablePAFXFAST(true))
	if err := cl.Login(); err != nil {
		return err
	}

	if serverKeytabPath != "" {
		prev := c.cl
		c.cl = cl
		apReq, err := c.buildAPReq(serverPrincipal)
		if err != nil {
			c.cl = prev
			cl.Destroy()
			return fmt.Errorf("krb5: self-verify TGT: build AP-REQ: %w", err)
		}
		if _, err := verifyAPReq(apReq, serverKeytabPath, serverPrincipal); err != nil {
			c.cl = prev
			cl.Destroy()
			return fmt.Errorf("krb5: self-verify TGT: %w", err)
		}
	}

	c.cl = cl
	return nil
}

// InitViaKeytab performs a keytab-based AS-REQ, used by the service itself
// to authenticate to the local KDC (and by tests impersonating a target
// service).
func (c *Context) InitViaKeytab(ctx context.Context, principal, keytabPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	kt, err := keytab.Load(keytabPath)
	if err != nil {
		return fmt.Errorf("krb5: load keytab %s: %w", keytabPath, err)
	}
	name, realm := splitPrincipal(principal)
	if realm == "" {
		realm = c.krb5.LibDefaults.DefaultRealm
	}
	cl := client.NewWithKeytab(name, realm, kt, c.krb5, client.DisablePAFXFAST(true))
	if err := cl.Login(); err != nil {
		return fmt.Errorf("krb5: keytab login: %w", err)
	}
	c.cl = cl
	return nil
}

// InitViaCred imports a previously exported ccache blob (ExportCred's
// counterpart) so a delegated TGT can be used without a fresh AS-REQ. When
// the blob begins with the "KEYRING:" scheme prefix the credential is read
// from the kernel session keyring instead of being treated as ccache bytes.
func (c *Context) InitViaCred(ctx context.Context, blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := blob
	if name, ok := keyringName(blob); ok {
		read, err := readKernelKeyring(name)
		if err != nil {
			return fmt.Errorf("krb5: read kernel keyring %s: %w", name, err)
		}
		data = read
	}

	cc := new(credentials.CCache)
	if err := cc.Unmarshal(data); err != nil {
		return fmt.Errorf("krb5: unmarshal ccache: %w", err)
	}
	cl, err := client.NewFromCCache(cc, c.krb5, client.DisablePAFXFAST(true))
	if err != nil {
		return fmt.Errorf("krb5: client from ccache: %w", err)
	}
	c.cl = cl
	return nil
}

// ExportCred marshals the current credential cache to bytes (mirroring
// export_tgt), returning the TGT's expiration time alongside.
func (c *Context) ExportCred() ([]byte, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cl == nil {
		return nil, time.Time{}, ErrNoCredentials
	}
	cc, err := c.cl.CCache()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("krb5: build ccache: %w", err)
	}
	data, err := cc.Marshal()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("krb5: marshal ccache: %w", err)
	}

	tgt, _, err := c.cl.Credentials.Credentials()
	var expiry time.Time
	if err == nil && tgt != nil {
		expiry = tgt.EndTime
	} else {
		expiry = time.Now().Add(10 * time.Hour).UTC()
	}
	return data, expiry, nil
}

// MkReq builds an AP-REQ for serverPrincipal, wrapping GetServiceTicket's
// TGS-REQ and the authenticator construction the original's mk_req performs
// in one step.
func (c *Context) MkReq(ctx context.Context, serverPrincipal string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buildAPReq(serverPrincipal)
}

// buildAPReq is MkReq's body, factored out so InitViaPassword's TGT
// self-verification can call it while c.mu is already held.
func (c *Context) buildAPReq(serverPrincipal string) ([]byte, error) {
	if c.cl == nil {
		return nil, ErrNoCredentials
	}
	tkt, sessionKey, err := c.cl.GetServiceTicket(serverPrincipal)
	if err != nil {
		return nil, fmt.Errorf("krb5: get service ticket: %w", err)
	}
	auth, err := types.NewAuthenticator(c.cl.Credentials.Domain(), c.cl.Credentials.CName())
	if err != nil {
		return nil, fmt.Errorf("krb5: new authenticator: %w", err)
	}
	etype, err := etypeID.GetEtype(sessionKey.KeyType)
	if err != nil {
		return nil, fmt.Errorf("krb5: resolve etype: %w", err)
	}
	if err := auth.GenerateSeqNumberAndSubKey(etype, etype.GetKeyByteSize()); err != nil {
		return nil, fmt.Errorf("krb5: generate subkey: %w", err)
	}
	apReq, err := messages.NewAPReq(tkt, sessionKey, auth)
	if err != nil {
		return nil, fmt.Errorf("krb5: build AP-REQ: %w", err)
	}
	return apReq.Marshal()
}

// ExportTicket obtains a service ticket for serverPrincipal via TGS-REQ and
// returns the ticket's own ASN.1 encoding (Ticket.Marshal), the Go
// equivalent of the original's export_ticket used by cred-token issuance.
func (c *Context) ExportTicket(ctx context.Context, serverPrincipal string) ([]byte, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cl == nil {
		return nil, time.Time{}, ErrNoCredentials
	}
	tkt, _, err := c.cl.GetServiceTicket(serverPrincipal)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("krb5: get service ticket: %w", err)
	}
	data, err := tkt.Marshal()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("krb5: marshal ticket: %w", err)
	}

	credsTGT, _, cerr := c.cl.Credentials.Credentials()
	expiry := time.Now().Add(10 * time.Hour).UTC()
	if cerr == nil && credsTGT != nil {
		expiry = credsTGT.EndTime
	}
	return data, expiry, nil
}

// RdReq verifies an AP-REQ produced by MkReq against the server's own
// keytab, returning the authenticated client principal (the original's
// rd_req plus get_principal(canon=true) rolled together, as requester
// authentication always needs both at once).
func (c *Context) RdReq(ctx context.Context, apReqBytes []byte, serverKeytabPath, serverPrincipal string) (string, error) {
	return verifyAPReq(apReqBytes, serverKeytabPath, serverPrincipal)
}

// verifyAPReq is RdReq's body, factored out as a free function so
// InitViaPassword's TGT self-verification can call it without needing a
// Context of its own (verification only touches the target keytab, never
// c's credential state).
func verifyAPReq(apReqBytes []byte, serverKeytabPath, serverPrincipal string) (string, error) {
	var apReq messages.APReq
	if err := apReq.Unmarshal(apReqBytes); err != nil {
		return "", fmt.Errorf("krb5: unmarshal AP-REQ: %w", err)
	}
	kt, err := keytab.Load(serverKeytabPath)
	if err != nil {
		return "", fmt.Errorf("krb5: load server keytab: %w", err)
	}
	name, realm := splitPrincipal(serverPrincipal)
	_ = realm
	ok, _, err := messages.VerifyAPREQ(&apReq, kt, name, realm, false, false)
	if err != nil {
		return "", fmt.Errorf("krb5: verify AP-REQ: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("krb5: AP-REQ verification failed")
	}
	return apReq.Ticket.CName.PrincipalNameString(), nil
}

// GetPrincipal returns the authenticated principal of the credential
// established by InitViaPassword/InitViaKeytab/InitViaCred. When localName
// is true it returns the principal name with the realm stripped; no
// auth_to_local rules are applied. When false it returns name@realm.
func (c *Context) GetPrincipal(localName bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cl == nil {
		return "", ErrNoCredentials
	}
	cname := c.cl.Credentials.CName()
	if !localName {
		return cname.PrincipalNameString() + "@" + c.cl.Credentials.Domain(), nil
	}
	return cname.GetPrincipalNameString(), nil
}

// Free destroys the underlying client and its credential cache. Safe to
// call on a Context that never successfully authenticated.
func (c *Context) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cl != nil {
		c.cl.Destroy()
		c.cl = nil
	}
}

const keyringScheme = "KEYRING:"

func keyringName(blob []byte) (string, bool) {
	if len(blob) <= len(keyringScheme) || string(blob[:len(keyringScheme)]) != keyringScheme {
		return "", false
	}
	return string(blob[len(keyringScheme):]), true
}

// readKernelKeyring reads a credential previously attached to the session
// keyring under name via unix.KeyctlSearch/KeyctlRead. This is the one piece
// of the adapter with no library in the example pack to ground it on: kernel
// keyctl access is an ioctl-backed syscall family, not a protocol any HTTP
// or database client wraps, so it is implemented directly against
// golang.org/x/sys/unix rather than forced behind an unrelated dependency.
func readKernelKeyring(name string) ([]byte, error) {
	id, err := unix.KeyctlSearch(unix.KEY_SPEC_SESSION_KEYRING, "keyring", name)
	if err != nil {
		return nil, fmt.Errorf("keyctl_search: %w", err)
	}
	buf := make([]byte, 4096)
	n, err := unix.KeyctlBuffer(unix.KEYCTL_READ, id, buf, 0)
	if err != nil {
		return nil, fmt.Errorf("keyctl_read: %w", err)
	}
	return buf[:n], nil
}

// WriteKernelKeyring attaches a credential blob to the session keyring under
// name, the inverse of readKernelKeyring. Nothing in this module calls it.
// The add_key/setperm sequence has an inherent TOCTOU window
// between creating the key and restricting its permissions; this remains
// unresolved, matching upstream keyctl-backed credential caches generally.
func WriteKernelKeyring(name string, data []byte) error {
	id, err := unix.AddKey("user", name, data, unix.KEY_SPEC_SESSION_KEYRING)
	if err != nil {
		return fmt.Errorf("add_key: %w", err)
	}
	return unix.KeyctlSetperm(id, 0x3f3f0000)
}
