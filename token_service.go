package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService issues and validates access tokens.
type TokenService interface {
	Issue(user *User, sessionID string) (token string, expiresAt time.Time, err error)
	Validate(token string) (*AccessClaims, error)
}

// JWTTokenService signs HS256 access tokens.
type JWTTokenService struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	clock      Clock
	logger     Logger
}

var _ TokenService = (*JWTTokenService)(nil)

// TokenServiceOption configures a JWTTokenService.
type TokenServiceOption func(*JWTTokenService)

// WithTokenAudience sets the audiences stamped on issued tokens. Validation
// requires the first one.
func WithTokenAudience(aud ...string) TokenServiceOption {
	return func(ts *JWTTokenService) {
		ts.audience = append(jwt.ClaimStrings(nil), aud...)
	}
}

func WithTokenClock(c Clock) TokenServiceOption {
	return func(ts *JWTTokenService) {
		ts.clock = normalizeClock(c)
	}
}

func WithTokenLogger(l Logger) TokenServiceOption {
	return func(ts *JWTTokenService) {
		ts.logger = normalizeLogger(l)
	}
}

// NewTokenService creates a JWTTokenService.
func NewTokenService(signingKey []byte, ttl time.Duration, issuer string, opts ...TokenServiceOption) *JWTTokenService {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	ts := &JWTTokenService{
		signingKey: signingKey,
		ttl:        ttl,
		issuer:     issuer,
		clock:      systemClock,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// Issue implements TokenService.
func (ts *JWTTokenService) Issue(user *User, sessionID string) (string, time.Time, error) {
	if user == nil || sessionID == "" {
		return "", time.Time{}, goerrors.New("user and session are required", goerrors.CategoryBadInput)
	}

	now := ts.clock()
	expiresAt := now.Add(ts.ttl)
	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   user.ID.String(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UID:       user.ID.String(),
		UserRole:  user.Role,
		SessionID: sessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}
	return signed, expiresAt, nil
}

// Validate implements TokenService. Expired tokens map to ErrSessionExpired,
// anything else that fails verification maps to ErrUnauthorized.
func (ts *JWTTokenService) Validate(tokenString string) (*AccessClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.clock),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		ts.logger.Debug("access token rejected: %v", err)
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}
