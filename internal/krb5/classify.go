package krb5

import (
	"errors"
	"strings"

	"github.com/webauth/webkdcd/internal/werror"
)

// loginFailureSubstrings lists the Kerberos error text fragments that the
// login pipeline must classify as a user-caused login_failed rather than a
// server-caused krb5/server_failure. Centralizing the mapping in one table
// keeps the taxonomy stable across gokrb5 releases.
var loginFailureSubstrings = []string{
	"KDC_ERR_PREAUTH_FAILED",
	"KRB_AP_ERR_BAD_INTEGRITY",
	"KDC_ERR_C_PRINCIPAL_UNKNOWN",
	"preauthentication information was invalid",
	"decrypt integrity check failed",
	"client not found in kerberos database",
}

// Classify maps an error returned by a password-based AS-REQ (or the
// self-verification that follows it) onto werror.LoginFailed when it
// reflects a bad password or unknown principal, and werror.ServerFailure
// (wrapping a krb5-flavored cause) for anything else — matching
// init_via_password's classification contract
func Classify(err error) *werror.Error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, frag := range loginFailureSubstrings {
		if strings.Contains(strings.ToUpper(msg), strings.ToUpper(frag)) {
			return werror.Wrap(werror.LoginFailed, err)
		}
	}
	return werror.Wrap(werror.ServerFailure, err)
}

// ErrNoCredentials is returned by adapter operations performed before any
// credential has been established in the session (e.g. ExportCred before
// InitViaPassword/InitViaCred).
var ErrNoCredentials = errors.New("krb5: no credentials established in this context")
