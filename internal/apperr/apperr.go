// Package apperr defines the gateway's error taxonomy.
//
// Every failure a manager returns carries a Code, and every Code belongs to
// exactly one Kind. Transports map the Kind to a status code and surface the
// Code to clients so they can apply policy (for example treating
// INVITATION_NOT_FOUND on accept as already handled).
package apperr

import "errors"

// Kind groups codes into the categories callers act on.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindValidation      Kind = "validation"
	KindUnavailable     Kind = "unavailable"
)

// Code is a machine-readable error reason.
type Code string

const (
	CodeUnauthenticated   Code = "UNAUTHENTICATED"
	CodeInvalidCredential Code = "INVALID_CREDENTIAL"

	CodeForbidden     Code = "FORBIDDEN"
	CodeNotAMember    Code = "NOT_A_MEMBER"
	CodeEmailMismatch Code = "EMAIL_MISMATCH"

	CodeNotFound             Code = "NOT_FOUND"
	CodeUserNotFound         Code = "USER_NOT_FOUND"
	CodeOrganizationNotFound Code = "ORGANIZATION_NOT_FOUND"
	CodeMemberNotFound       Code = "MEMBER_NOT_FOUND"
	CodeInvitationNotFound   Code = "INVITATION_NOT_FOUND"
	CodeAPIKeyNotFound       Code = "API_KEY_NOT_FOUND"
	CodeSessionNotFound      Code = "SESSION_NOT_FOUND"

	CodeSlugTaken            Code = "SLUG_TAKEN"
	CodeEmailTaken           Code = "EMAIL_TAKEN"
	CodeAlreadyMember        Code = "ALREADY_MEMBER"
	CodeInvitationNotPending Code = "INVITATION_NOT_PENDING"
	CodeInvitationExpired    Code = "INVITATION_EXPIRED"
	CodeCannotRemoveOwner    Code = "CANNOT_REMOVE_OWNER"
	CodeCannotRemoveSelf     Code = "CANNOT_REMOVE_SELF"
	CodeCannotDemoteOwner    Code = "CANNOT_DEMOTE_OWNER"
	CodeCannotChangeOwnRole  Code = "CANNOT_CHANGE_OWN_ROLE"

	CodeInvalidInput Code = "INVALID_INPUT"
	CodeInvalidEmail Code = "INVALID_EMAIL"
	CodeInvalidRole  Code = "INVALID_ROLE"
	CodeInvalidSlug  Code = "INVALID_SLUG"

	CodeUnavailable Code = "UNAVAILABLE"
)

// Kind reports the category a code belongs to.
func (c Code) Kind() Kind {
	switch c {
	case CodeUnauthenticated, CodeInvalidCredential:
		return KindUnauthenticated
	case CodeForbidden, CodeNotAMember, CodeEmailMismatch:
		return KindForbidden
	case CodeNotFound, CodeUserNotFound, CodeOrganizationNotFound, CodeMemberNotFound,
		CodeInvitationNotFound, CodeAPIKeyNotFound, CodeSessionNotFound:
		return KindNotFound
	case CodeSlugTaken, CodeEmailTaken, CodeAlreadyMember, CodeInvitationNotPending,
		CodeInvitationExpired, CodeCannotRemoveOwner, CodeCannotRemoveSelf,
		CodeCannotDemoteOwner, CodeCannotChangeOwnRole:
		return KindConflict
	case CodeInvalidInput, CodeInvalidEmail, CodeInvalidRole, CodeInvalidSlug:
		return KindValidation
	default:
		return KindUnavailable
	}
}

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an error with a code that wraps cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Unavailable wraps a storage or transport fault.
func Unavailable(message string, cause error) *Error {
	return Wrap(CodeUnavailable, message, cause)
}

// Classify returns err unchanged when it already carries a code and
// otherwise wraps it as Unavailable.
func Classify(message string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Unavailable(message, err)
}

// Invalid builds a validation error with a custom message.
func Invalid(message string) *Error {
	return New(CodeInvalidInput, message)
}

// CodeOf returns the code carried by err, or CodeUnavailable for uncoded errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnavailable
}

// KindOf returns the category of err. Errors without a code are faults of a
// collaborator and therefore Unavailable.
func KindOf(err error) Kind {
	return CodeOf(err).Kind()
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeUnavailable {
		return e.Message
	}
	return "service unavailable"
}

// Shared sentinels used across managers.
var (
	ErrUnauthenticated      = New(CodeUnauthenticated, "authentication required")
	ErrInvalidCredential    = New(CodeInvalidCredential, "invalid credentials")
	ErrForbidden            = New(CodeForbidden, "insufficient role for this action")
	ErrNotAMember           = New(CodeNotAMember, "not a member of this organization")
	ErrEmailMismatch        = New(CodeEmailMismatch, "invitation was sent to a different email")
	ErrUserNotFound         = New(CodeUserNotFound, "user not found")
	ErrOrganizationNotFound = New(CodeOrganizationNotFound, "organization not found")
	ErrMemberNotFound       = New(CodeMemberNotFound, "member not found")
	ErrInvitationNotFound   = New(CodeInvitationNotFound, "invitation not found")
	ErrAPIKeyNotFound       = New(CodeAPIKeyNotFound, "api key not found")
	ErrSessionNotFound      = New(CodeSessionNotFound, "session not found")
	ErrSlugTaken            = New(CodeSlugTaken, "organization slug already taken")
	ErrEmailTaken           = New(CodeEmailTaken, "email already registered")
	ErrAlreadyMember        = New(CodeAlreadyMember, "user is already a member of this organization")
	ErrInvitationNotPending = New(CodeInvitationNotPending, "invitation is no longer pending")
	ErrInvitationExpired    = New(CodeInvitationExpired, "invitation has expired")
	ErrCannotRemoveOwner    = New(CodeCannotRemoveOwner, "cannot remove the only owner of an organization")
	ErrCannotRemoveSelf     = New(CodeCannotRemoveSelf, "cannot remove yourself from an organization")
	ErrCannotDemoteOwner    = New(CodeCannotDemoteOwner, "cannot demote the only owner of an organization")
	ErrCannotChangeOwnRole  = New(CodeCannotChangeOwnRole, "cannot change your own role")
	ErrInvalidEmail         = New(CodeInvalidEmail, "invalid email address")
	ErrInvalidRole          = New(CodeInvalidRole, "role must be one of owner, admin, member")
	ErrInvalidSlug          = New(CodeInvalidSlug, "slug must be 2-63 lowercase letters, digits or single dashes")
)
