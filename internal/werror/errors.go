// Package werror centralizes the stable numeric error-code vocabulary so
// the XML renderer and the loginErrorCode-folding path share one source of
// truth, rather than re-deriving codes at each call site. The same table
// backs Kerberos error classification, generalized to every error code in
// the system.
package werror

import "fmt"

// Code is a stable numeric application error code.
type Code int

const (
	ServerFailure Code = iota + 1
	InvalidRequest
	ServiceTokenInvalid
	ServiceTokenExpired
	ProxyTokenInvalid
	ProxyTokenExpired
	RequestTokenInvalid
	RequestTokenExpired
	RequestTokenStale
	LoginTokenInvalid
	LoginTokenStale
	RequesterKrb5CredInvalid
	LoginFailed
	LoginCanceled
	LoginForced
	ProxyTokenRequired
	Unauthorized
	GetCredFailure
)

var messages = map[Code]string{
	ServerFailure:            "internal server failure",
	InvalidRequest:           "invalid request",
	ServiceTokenInvalid:      "service token is invalid",
	ServiceTokenExpired:      "service token is expired",
	ProxyTokenInvalid:        "proxy token is invalid",
	ProxyTokenExpired:        "proxy token is expired",
	RequestTokenInvalid:      "request token is invalid",
	RequestTokenExpired:      "request token is expired",
	RequestTokenStale:        "request token is stale",
	LoginTokenInvalid:        "login token is invalid",
	LoginTokenStale:          "login token is stale",
	RequesterKrb5CredInvalid: "requester Kerberos credential is invalid",
	LoginFailed:              "login failed",
	LoginCanceled:            "login canceled",
	LoginForced:              "authentication required",
	ProxyTokenRequired:       "a proxy token of the required type was not supplied",
	Unauthorized:             "not authorized",
	GetCredFailure:           "failed to obtain credential",
}

// Error wraps a stable Code with context, preserving the original cause via
// Unwrap so callers can still errors.Is/As against it.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error from a code, defaulting Msg to the code's stable
// message.
func New(code Code) *Error {
	return &Error{Code: code, Msg: messages[code]}
}

// Wrap builds an Error from a code and an underlying cause, keeping the
// stable message for the user-facing side and the cause for logs.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Msg: messages[code], Err: err}
}

// Message returns the stable, user-facing message for a code.
func Message(code Code) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return "unknown error"
}

// IsLoginErrorCode reports whether code belongs to the subset that the
// request-handler state machine folds into a loginErrorCode/
// loginErrorMessage pair inside a normal requestTokenResponse, rather than
// a fatal errorResponse.
func IsLoginErrorCode(code Code) bool {
	switch code {
	case LoginFailed, LoginForced, LoginCanceled, ProxyTokenRequired:
		return true
	default:
		return false
	}
}
