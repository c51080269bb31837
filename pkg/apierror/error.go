// Package apierror defines the typed error returned by every datastore_sdk_go
// client. Each error carries an HTTP-style status code, a human readable
// message and a status text so callers can log or display failures without
// re-parsing response bodies. The Kind field classifies where the failure
// happened (key parsing, signing, transport, token exchange, value codec,
// missing entity, unexpected response shape, or an error reported by the
// remote service itself).
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Kind classifies an Error.
type Kind int

const (
	// KindKey reports a malformed or non-RSA private key.
	KindKey Kind = iota + 1
	// KindSigning reports a failure while encoding the signed assertion.
	KindSigning
	// KindTransport reports network, DNS, TLS or cancellation failures.
	KindTransport
	// KindAuthExchange reports a rejected or malformed token exchange.
	KindAuthExchange
	// KindCodec reports an unrecognized or unparsable property value.
	KindCodec
	// KindNotFound reports that a looked-up entity does not exist.
	KindNotFound
	// KindDeferred reports that the server postponed a lookup.
	KindDeferred
	// KindStructural reports an unexpected payload shape at any boundary.
	KindStructural
	// KindRemote passes through the store's own structured error.
	KindRemote
)

var kindNames = map[Kind]string{
	KindKey:          "key",
	KindSigning:      "signing",
	KindTransport:    "transport",
	KindAuthExchange: "auth exchange",
	KindCodec:        "codec",
	KindNotFound:     "not found",
	KindDeferred:     "deferred",
	KindStructural:   "structural",
	KindRemote:       "remote",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// NoURL is recorded on transport errors whose target URL is unknown.
const NoURL = "no url available"

// Error is the typed error surfaced by the SDK.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Status  string
	// URL is set on transport errors. Credential query values are redacted.
	URL string
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s error: %s (%d", e.Kind, e.Message, e.Code)
	if e.Status != "" {
		fmt.Fprintf(&b, " %s", e.Status)
	}
	b.WriteString(")")
	if e.URL != "" {
		fmt.Fprintf(&b, " (url: %s)", e.URL)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New synthesizes an error whose status text is derived from code.
func New(kind Kind, code int, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusText(code),
	}
}

// Wrap is like New but records cause as the wrapped error.
func Wrap(kind Kind, code int, cause error, format string, args ...any) *Error {
	e := New(kind, code, format, args...)
	e.Err = cause
	return e
}

// Remote builds a KindRemote error from the fields the store returned.
func Remote(code int, message, status string) *Error {
	return &Error{Kind: KindRemote, Code: code, Message: message, Status: status}
}

// Transport classifies a failure from the HTTP client. The target URL is
// taken from *url.Error when present.
func Transport(err error) *Error {
	target := NoURL
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.URL != "" {
		target = RedactURL(urlErr.URL)
		err = urlErr.Err
	}
	e := Wrap(KindTransport, http.StatusInternalServerError, err, "%v", err)
	e.URL = target
	return e
}

// Structural synthesizes a 500 error for unexpected payload shapes.
func Structural(format string, args ...any) *Error {
	return New(KindStructural, http.StatusInternalServerError, format, args...)
}

// credentialParams are query parameters that carry secrets.
var credentialParams = []string{"key", "access_token", "assertion"}

// RedactURL replaces credential query values in raw with "REDACTED".
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, name := range credentialParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Kind == kind
}

// IsNotFound reports whether err is a missing-entity error.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsUnauthenticated reports whether err is a 401 from any boundary. Callers
// use it to decide when to log in again.
func IsUnauthenticated(err error) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Code == http.StatusUnauthorized
}

// Code returns the status code carried by err, or 0 when err is not an *Error.
func Code(err error) int {
	if apiErr, ok := As(err); ok {
		return apiErr.Code
	}
	return 0
}
