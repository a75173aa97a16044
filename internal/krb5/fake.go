package krb5

import (
	"context"
	"fmt"
	"time"
)

// Fake is an in-memory Adapter used by internal/login and internal/issuance
// tests so the login pipeline can be exercised without a live KDC.
type Fake struct {
	// Principals maps "principal:password" to the canonical principal that
	// should authenticate successfully; anything else fails with a
	// KDC_ERR_PREAUTH_FAILED-flavored error.
	Principals map[string]string
	Expiry     time.Duration

	// FailSelfVerify, when set, makes InitViaPassword's self AP-REQ/AP-REP
	// check fail even though the AS-REQ itself succeeded, simulating a
	// spoofed KDC for tests.
	FailSelfVerify bool

	principal string
	loggedIn  bool
}

func (f *Fake) InitViaPassword(ctx context.Context, principal, password, serverKeytabPath, serverPrincipal string) error {
	canon, ok := f.Principals[principal+":"+password]
	if !ok {
		return fmt.Errorf("KDC_ERR_PREAUTH_FAILED: preauthentication information was invalid")
	}
	if serverKeytabPath != "" && f.FailSelfVerify {
		return fmt.Errorf("krb5: self-verify TGT: AP-REQ verification failed")
	}
	f.principal = canon
	f.loggedIn = true
	return nil
}

func (f *Fake) InitViaKeytab(ctx context.Context, principal, keytabPath string) error {
	f.principal = principal
	f.loggedIn = true
	return nil
}

func (f *Fake) InitViaCred(ctx context.Context, blob []byte) error {
	f.principal = string(blob)
	f.loggedIn = true
	return nil
}

func (f *Fake) ExportCred() ([]byte, time.Time, error) {
	if !f.loggedIn {
		return nil, time.Time{}, ErrNoCredentials
	}
	expiry := f.Expiry
	if expiry == 0 {
		expiry = 10 * time.Hour
	}
	return []byte("ccache:" + f.principal), time.Now().Add(expiry).UTC(), nil
}

func (f *Fake) MkReq(ctx context.Context, serverPrincipal string) ([]byte, error) {
	if !f.loggedIn {
		return nil, ErrNoCredentials
	}
	return []byte("apreq:" + f.principal + ":" + serverPrincipal), nil
}

func (f *Fake) RdReq(ctx context.Context, apReq []byte, keytabPath, serverPrincipal string) (string, error) {
	s := string(apReq)
	const prefix = "apreq:"
	if len(s) <= len(prefix) {
		return "", fmt.Errorf("KRB_AP_ERR_BAD_INTEGRITY: decrypt integrity check failed")
	}
	rest := s[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i], nil
		}
	}
	return "", fmt.Errorf("KRB_AP_ERR_BAD_INTEGRITY: decrypt integrity check failed")
}

func (f *Fake) ExportTicket(ctx context.Context, serverPrincipal string) ([]byte, time.Time, error) {
	if !f.loggedIn {
		return nil, time.Time{}, ErrNoCredentials
	}
	expiry := f.Expiry
	if expiry == 0 {
		expiry = 10 * time.Hour
	}
	return []byte("ticket:" + f.principal + ":" + serverPrincipal), time.Now().Add(expiry).UTC(), nil
}

func (f *Fake) GetPrincipal(localName bool) (string, error) {
	if !f.loggedIn {
		return "", ErrNoCredentials
	}
	return f.principal, nil
}

func (f *Fake) Free() {
	f.loggedIn = false
	f.principal = ""
}
