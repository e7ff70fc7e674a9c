package identity

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// CategoryPolicy marks requests that are well formed but forbidden by an
// account rule (last provider, attempt budget, protected role).
const CategoryPolicy goerrors.Category = "policy_violation"

const (
	TextCodeRegistrationNotFound      = "REGISTRATION_NOT_FOUND"
	TextCodeUserNotFound              = "USER_NOT_FOUND"
	TextCodeProviderNotLinked         = "PROVIDER_NOT_LINKED"
	TextCodeRoleNotFound              = "ROLE_NOT_FOUND"
	TextCodePermissionNotFound        = "PERMISSION_NOT_FOUND"
	TextCodeSessionNotFound           = "SESSION_NOT_FOUND"
	TextCodeEmailAlreadyRegistered    = "EMAIL_ALREADY_REGISTERED"
	TextCodeProviderAlreadyLinked     = "PROVIDER_ALREADY_LINKED"
	TextCodeProviderLinkedElsewhere   = "PROVIDER_LINKED_TO_OTHER_ACCOUNT"
	TextCodePermissionAlreadyGranted  = "PERMISSION_ALREADY_GRANTED"
	TextCodeRoleAlreadyExists         = "ROLE_ALREADY_EXISTS"
	TextCodeRoleInUse                 = "ROLE_IN_USE"
	TextCodeAccountExistsLinkRequired = "ACCOUNT_EXISTS_LINK_REQUIRED"
	TextCodeConcurrentUpdate          = "CONCURRENT_UPDATE"
	TextCodeInvalidCode               = "INVALID_CODE"
	TextCodeEmailMismatchOnLink       = "EMAIL_MISMATCH_ON_LINK"
	TextCodeInvalidPermission         = "INVALID_PERMISSION"
	TextCodeEmailCannotBePrimary      = "EMAIL_CANNOT_BE_PRIMARY"
	TextCodeUnknownProvider           = "UNKNOWN_PROVIDER"
	TextCodeCannotUnlinkLastProvider  = "CANNOT_UNLINK_LAST_PROVIDER"
	TextCodeTooManyAttempts           = "TOO_MANY_ATTEMPTS"
	TextCodeProtectedRole             = "PROTECTED_ROLE"
	TextCodeCannotRevokeInherited     = "CANNOT_REVOKE_INHERITED_PERMISSION"
	TextCodeSessionExpired            = "SESSION_EXPIRED"
	TextCodeUnauthorized              = "UNAUTHORIZED"
	TextCodeInvalidCredentials        = "INVALID_CREDENTIALS"
	TextCodePermissionDenied          = "PERMISSION_DENIED"
	TextCodeMailDeliveryFailed        = "MAIL_DELIVERY_FAILED"
)

func notFound(msg, code string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryNotFound).
		WithTextCode(code).
		WithCode(goerrors.CodeNotFound)
}

func conflict(msg, code string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryConflict).
		WithTextCode(code).
		WithCode(goerrors.CodeConflict)
}

func invalid(msg, code string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryValidation).
		WithTextCode(code).
		WithCode(goerrors.CodeBadRequest)
}

func policy(msg, code string, status int) *goerrors.Error {
	return goerrors.New(msg, CategoryPolicy).
		WithTextCode(code).
		WithCode(status)
}

func unauthorized(msg, code string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryAuth).
		WithTextCode(code).
		WithCode(goerrors.CodeUnauthorized)
}

func forbidden(msg, code string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryAuthz).
		WithTextCode(code).
		WithCode(goerrors.CodeForbidden)
}

// Not found.
var (
	ErrRegistrationNotFound = notFound("no pending registration for email", TextCodeRegistrationNotFound)
	ErrUserNotFound         = notFound("user not found", TextCodeUserNotFound)
	ErrProviderNotLinked    = notFound("provider is not linked to this account", TextCodeProviderNotLinked)
	ErrRoleNotFound         = notFound("role not found", TextCodeRoleNotFound)
	ErrPermissionNotFound   = notFound("permission grant not found", TextCodePermissionNotFound)
	ErrSessionNotFound      = notFound("session not found", TextCodeSessionNotFound)
)

// Conflicts.
var (
	ErrEmailAlreadyRegistered       = conflict("email already registered", TextCodeEmailAlreadyRegistered)
	ErrProviderAlreadyLinked        = conflict("provider already linked to this account", TextCodeProviderAlreadyLinked)
	ErrProviderLinkedToOtherAccount = conflict("provider account is linked to another user", TextCodeProviderLinkedElsewhere)
	ErrPermissionAlreadyGranted     = conflict("permission already granted", TextCodePermissionAlreadyGranted)
	ErrRoleAlreadyExists            = conflict("role already exists", TextCodeRoleAlreadyExists)
	ErrRoleInUse                    = conflict("role is assigned to users", TextCodeRoleInUse)
	ErrAccountExistsLinkRequired    = conflict("an account with this email exists, sign in and link the provider", TextCodeAccountExistsLinkRequired)
	ErrConcurrentUpdate             = conflict("account was modified concurrently", TextCodeConcurrentUpdate)
)

// Validation.
var (
	ErrInvalidCode          = invalid("invalid activation code", TextCodeInvalidCode)
	ErrEmailMismatchOnLink  = invalid("provider email does not match account email", TextCodeEmailMismatchOnLink)
	ErrInvalidPermission    = invalid("invalid permission string", TextCodeInvalidPermission)
	ErrEmailCannotBePrimary = invalid("email cannot be the primary provider", TextCodeEmailCannotBePrimary)
	ErrUnknownProvider      = invalid("unknown provider", TextCodeUnknownProvider)
)

// Policy violations.
var (
	ErrCannotUnlinkLastProvider        = policy("cannot unlink the last sign-in method", TextCodeCannotUnlinkLastProvider, http.StatusUnprocessableEntity)
	ErrTooManyAttempts                 = policy("too many activation attempts, register again", TextCodeTooManyAttempts, goerrors.CodeTooManyRequests)
	ErrProtectedRole                   = policy("role is protected", TextCodeProtectedRole, goerrors.CodeForbidden)
	ErrCannotRevokeInheritedPermission = policy("permission is inherited from the role", TextCodeCannotRevokeInherited, http.StatusUnprocessableEntity)
)

// Authentication and authorization.
var (
	ErrSessionExpired     = unauthorized("session expired", TextCodeSessionExpired)
	ErrUnauthorized       = unauthorized("unauthorized", TextCodeUnauthorized)
	ErrInvalidCredentials = unauthorized("invalid credentials", TextCodeInvalidCredentials)
	ErrPermissionDenied   = forbidden("permission denied", TextCodePermissionDenied)
)

// IsPolicyViolation reports whether err carries the policy violation category.
func IsPolicyViolation(err error) bool {
	return goerrors.HasCategory(err, CategoryPolicy)
}

// IsConflict reports whether err carries the conflict category.
func IsConflict(err error) bool {
	return goerrors.HasCategory(err, goerrors.CategoryConflict)
}

func internal(err error, msg string) error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
