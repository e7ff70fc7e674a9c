package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity"
)

type validatable interface {
	Validate() error
}

func validate(v validatable, msg string) error {
	if err := v.Validate(); err != nil {
		return goerrors.FromOzzoValidation(err, msg)
	}
	return nil
}

// ActivateRequest is the payload of POST /auth/activate.
type ActivateRequest struct {
	Email string `json:"email" form:"email"`
	Code  string `json:"code" form:"code"`
}

func (r ActivateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Code, validation.Required, validation.Length(6, 6), is.Digit),
	)
}

// EmailRequest is the payload of POST /auth/activate/resend.
type EmailRequest struct {
	Email string `json:"email" form:"email"`
}

func (r EmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
	)
}

// LoginRequest is the payload of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required),
	)
}

// RefreshRequest is the payload of POST /auth/refresh and /auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// AssignRoleRequest is the payload of PUT /users/:id/role.
type AssignRoleRequest struct {
	Role string `json:"role"`
}

func (r AssignRoleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Role, validation.Required),
	)
}

// GrantRequest is the payload of POST /users/:id/permissions.
type GrantRequest struct {
	Permission string     `json:"permission"`
	Scope      string     `json:"scope"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

func (r GrantRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Permission, validation.Required, validation.By(func(any) error {
			if identity.ValidatePermission(r.Permission) != nil {
				return validation.NewError("validation_invalid_permission", "must be * or resource:action[:scope]")
			}
			return nil
		})),
		validation.Field(&r.Scope, validation.Length(0, 128)),
	)
}

// RegisterResponse never carries the activation code.
type RegisterResponse struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionsResponse lists the caller's sessions.
type SessionsResponse struct {
	Sessions []identity.SessionView `json:"sessions"`
}

// MeResponse is the body of GET /me.
type MeResponse struct {
	User      *identity.User            `json:"user"`
	Providers []identity.LinkedProvider `json:"providers"`
	SessionID string                    `json:"session_id"`
}
