package api

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity"
)

// ErrRateLimited is returned when a client exceeds the request budget.
var ErrRateLimited = goerrors.New("too many requests", goerrors.CategoryRateLimit).
	WithTextCode("RATE_LIMITED").
	WithCode(http.StatusTooManyRequests)

var categoryStatus = map[goerrors.Category]int{
	goerrors.CategoryValidation:       http.StatusBadRequest,
	goerrors.CategoryBadInput:         http.StatusBadRequest,
	goerrors.CategoryAuth:             http.StatusUnauthorized,
	goerrors.CategoryAuthz:            http.StatusForbidden,
	goerrors.CategoryNotFound:         http.StatusNotFound,
	goerrors.CategoryConflict:         http.StatusConflict,
	goerrors.CategoryRateLimit:        http.StatusTooManyRequests,
	goerrors.CategoryMethodNotAllowed: http.StatusMethodNotAllowed,
	goerrors.CategoryOperation:        http.StatusServiceUnavailable,
	identity.CategoryPolicy:           http.StatusUnprocessableEntity,
}

// StatusFor returns the HTTP status for err: the error's own code when
// set, otherwise the status of its category.
func StatusFor(err *goerrors.Error) int {
	if err.Code >= 400 && err.Code < 600 {
		return err.Code
	}
	if status, ok := categoryStatus[err.Category]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// asRichError converts any handler error into a *goerrors.Error safe to
// serialize. Sentinels are cloned, never mutated.
func asRichError(err error) *goerrors.Error {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		out := rich.Clone()
		out.Location = nil
		out.Source = nil
		return out
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return goerrors.New(fe.Message, goerrors.HTTPStatusToCategory(fe.Code)).
			WithCode(fe.Code).
			WithTextCode(goerrors.HTTPStatusToTextCode(fe.Code))
	}

	out := goerrors.New("internal server error", goerrors.CategoryInternal).
		WithTextCode(goerrors.HTTPStatusToTextCode(http.StatusInternalServerError))
	out.Location = nil
	return out
}

// ErrorHandler renders errors as {"error": {...}} JSON bodies.
func ErrorHandler(logger identity.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		rich := asRichError(err)
		status := StatusFor(rich)
		if status >= http.StatusInternalServerError {
			logger.Error("%s %s failed: %v", c.Method(), c.Path(), err)
		}
		return c.Status(status).JSON(rich.ToErrorResponse(false, nil))
	}
}

func badInput(msg, code string) *goerrors.Error {
	return goerrors.New(msg, goerrors.CategoryBadInput).
		WithTextCode(code).
		WithCode(http.StatusBadRequest)
}

var (
	ErrMalformedBody   = badInput("malformed request body", "MALFORMED_BODY")
	ErrInvalidUserID   = badInput("invalid user id", "INVALID_USER_ID")
	ErrOAuthDenied     = badInput("authorization was denied by the provider", "OAUTH_DENIED")
	ErrInvalidRedirect = badInput("redirect must be a path on this site", "INVALID_REDIRECT")
)
