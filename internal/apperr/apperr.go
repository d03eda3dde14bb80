// Package apperr defines the error kinds that cross the transport boundary.
// Each kind is carried as a samber/oops code so callers can attach context
// and the boundary can recover the kind with KindOf.
package apperr

import "github.com/samber/oops"

// Kind classifies a failure for the transport boundary.
type Kind string

const (
	KindInternal     Kind = "INTERNAL"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindConflict     Kind = "CONFLICT"
	KindBadRequest   Kind = "BAD_REQUEST"
	KindNotFound     Kind = "NOT_FOUND"
)

var kinds = []Kind{KindUnauthorized, KindForbidden, KindConflict, KindBadRequest, KindNotFound}

// Reasons attached to errors where a client or test needs more than the kind.
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonEmailNotVerified   = "email_not_verified"
	ReasonInvalidToken       = "invalid_token"
	ReasonTokenExpired       = "token_expired"
	ReasonTokenUsed          = "token_used"
	ReasonRefreshInvalid     = "refresh_invalid"
	ReasonRoleNotAllowed     = "role_not_allowed"
	ReasonAccessDenied       = "access_denied"
	ReasonEmailTaken         = "email_taken"
	ReasonInvalidInput       = "invalid_input"
)

const reasonKey = "reason"

// New creates an error of the given kind. reason may be empty.
func New(kind Kind, reason, msg string) error {
	b := oops.Code(string(kind))
	if reason != "" {
		b = b.With(reasonKey, reason)
	}
	return b.Errorf("%s", msg)
}

func Unauthorized(reason, msg string) error { return New(KindUnauthorized, reason, msg) }
func Forbidden(reason, msg string) error    { return New(KindForbidden, reason, msg) }
func Conflict(reason, msg string) error     { return New(KindConflict, reason, msg) }
func BadRequest(reason, msg string) error   { return New(KindBadRequest, reason, msg) }
func NotFound(msg string) error             { return New(KindNotFound, "", msg) }

// KindOf returns the kind carried by err. Errors without a known kind,
// including nil, are reported as KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return KindInternal
	}
	for _, k := range kinds {
		if oopsErr.Code() == string(k) {
			return k
		}
	}
	return KindInternal
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ReasonOf returns the reason attached to err, or "".
func ReasonOf(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	if r, ok := oopsErr.Context()[reasonKey].(string); ok {
		return r
	}
	return ""
}

// Message returns the client-facing message for err. Internal failures get
// a generic message so infrastructure details never leak.
func Message(err error) string {
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	return err.Error()
}
