package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultSessionMaxAge is the lifetime of a session.
const DefaultSessionMaxAge = 30 * 24 * time.Hour

// IssuedSession is returned whenever a session is created or refreshed.
// RefreshToken is only available here; the store keeps its digest.
type IssuedSession struct {
	Session              *Session  `json:"session"`
	User                 *User     `json:"user"`
	AccessToken          string    `json:"access_token"`
	AccessTokenExpiresAt time.Time `json:"access_token_expires_at"`
	RefreshToken         string    `json:"refresh_token"`
}

// SessionView is a listed session.
type SessionView struct {
	*Session
	Current bool `json:"current"`
}

// Principal is the result of authenticating an access token.
type Principal struct {
	User    *User
	Session *Session
	Claims  *AccessClaims
}

// SessionService issues, refreshes and revokes sessions.
type SessionService struct {
	repo     RepositoryManager
	hasher   CredentialHasher
	tokens   TokenService
	maxAge   time.Duration
	clock    Clock
	logger   Logger
	activity ActivitySink
}

// SessionOption configures a SessionService.
type SessionOption func(*SessionService)

// WithSessionMaxAge sets the fixed lifetime of new sessions.
func WithSessionMaxAge(d time.Duration) SessionOption {
	return func(s *SessionService) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

func WithSessionClock(c Clock) SessionOption {
	return func(s *SessionService) {
		s.clock = c
	}
}

func WithSessionLogger(l Logger) SessionOption {
	return func(s *SessionService) {
		s.logger = l
	}
}

func WithSessionActivitySink(sink ActivitySink) SessionOption {
	return func(s *SessionService) {
		s.activity = sink
	}
}

// NewSessionService builds the service.
func NewSessionService(repo RepositoryManager, hasher CredentialHasher, tokens TokenService, opts ...SessionOption) *SessionService {
	s := &SessionService{
		repo:   repo,
		hasher: hasher,
		tokens: tokens,
		maxAge: DefaultSessionMaxAge,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.clock = normalizeClock(s.clock)
	s.logger = normalizeLogger(s.logger)
	return s
}

func (s *SessionService) recorder() activityRecorder {
	return activityRecorder{sink: s.activity, logger: s.logger, clock: s.clock}
}

// Login verifies email and password and opens a session.
func (s *SessionService) Login(ctx context.Context, email, password string, client ClientInfo) (*IssuedSession, error) {
	ctx, cancel, err := begin(ctx, "login")
	if err != nil {
		return nil, err
	}
	defer cancel()

	email = NormalizeEmail(email)
	user, err := s.repo.Users().FindByEmailTx(ctx, s.repo.DB(), email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		s.loginFailed(ctx, email, "unknown_user", client)
		return nil, ErrInvalidCredentials
	}

	if !user.HasPassword() || !s.hasher.Verify(password, *user.PasswordHash) {
		s.loginFailed(ctx, email, "bad_password", client)
		return nil, ErrInvalidCredentials
	}

	return s.open(ctx, user, ProviderEmail, client)
}

func (s *SessionService) loginFailed(ctx context.Context, email, reason string, client ClientInfo) {
	s.recorder().record(ctx, ActivityLoginFailure, ActorRef{ID: email, Type: "anonymous"}, "", map[string]any{
		"email":  email,
		"reason": reason,
		"ip":     client.IP,
	})
}

// CreateSession opens a session for an already authenticated user, such as
// after an OAuth callback.
func (s *SessionService) CreateSession(ctx context.Context, user *User, provider Provider, client ClientInfo) (*IssuedSession, error) {
	ctx, cancel, err := begin(ctx, "session creation")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if user == nil {
		return nil, ErrUserNotFound
	}
	return s.open(ctx, user, provider, client)
}

func (s *SessionService) open(ctx context.Context, user *User, provider Provider, client ClientInfo) (*IssuedSession, error) {
	token, digest, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	now := s.clock()
	session := &Session{
		ID:               NewSessionID(now),
		UserID:           user.ID,
		RefreshTokenHash: digest,
		UserAgent:        client.UserAgent,
		IP:               client.IP,
		DeviceName:       DeviceName(client.UserAgent),
		IsValid:          true,
		LastUsedAt:       now,
		ExpiresAt:        now.Add(s.maxAge),
		CreatedAt:        now,
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.repo.Sessions().CreateTx(ctx, tx, session); err != nil {
			return err
		}
		return s.repo.Users().TouchLoginTx(ctx, tx, user.ID, now)
	})
	if err != nil {
		return nil, settle(err, "session creation transaction failed")
	}
	user.LastLoginAt = &now

	access, accessExp, err := s.tokens.Issue(user, session.ID)
	if err != nil {
		return nil, err
	}

	s.recorder().record(ctx, ActivityLoginSuccess, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), map[string]any{
		"session_id": session.ID,
		"provider":   provider.String(),
		"device":     session.DeviceName,
		"ip":         client.IP,
	})

	return &IssuedSession{
		Session:              session,
		User:                 user,
		AccessToken:          access,
		AccessTokenExpiresAt: accessExp,
		RefreshToken:         token,
	}, nil
}

// Refresh rotates the refresh token. The presented token stops working
// whether or not the caller receives the response.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*IssuedSession, error) {
	ctx, cancel, err := begin(ctx, "session refresh")
	if err != nil {
		return nil, err
	}
	defer cancel()

	if refreshToken == "" {
		return nil, ErrUnauthorized
	}

	oldDigest := HashRefreshToken(refreshToken)
	token, newDigest, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	var session *Session
	var user *User
	now := s.clock()
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		session, err = s.repo.Sessions().FindByTokenHashTx(ctx, tx, oldDigest)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				return ErrUnauthorized
			}
			return err
		}
		if !session.Active(now) {
			return ErrSessionExpired
		}

		user, err = s.repo.Users().GetUserTx(ctx, tx, session.UserID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return ErrUnauthorized
			}
			return err
		}

		rotated, err := s.repo.Sessions().RotateTx(ctx, tx, session.ID, oldDigest, newDigest, now)
		if err != nil {
			return err
		}
		if !rotated {
			return ErrUnauthorized
		}
		session.RefreshTokenHash = newDigest
		session.LastUsedAt = now
		return nil
	})
	if err != nil {
		return nil, settle(err, "session refresh transaction failed")
	}

	access, accessExp, err := s.tokens.Issue(user, session.ID)
	if err != nil {
		return nil, err
	}

	s.recorder().record(ctx, ActivitySessionRefreshed, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), map[string]any{
		"session_id": session.ID,
	})

	return &IssuedSession{
		Session:              session,
		User:                 user,
		AccessToken:          access,
		AccessTokenExpiresAt: accessExp,
		RefreshToken:         token,
	}, nil
}

// Authenticate validates an access token and the session it is bound to.
func (s *SessionService) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	ctx, cancel, err := begin(ctx, "authentication")
	if err != nil {
		return nil, err
	}
	defer cancel()

	claims, err := s.tokens.Validate(accessToken)
	if err != nil {
		return nil, err
	}
	if !HasUserUUID(claims) {
		return nil, ErrUnauthorized
	}

	db := s.repo.DB()
	session, err := s.repo.Sessions().FindByIDTx(ctx, db, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if session.UserID.String() != claims.UserID() {
		return nil, ErrUnauthorized
	}
	if !session.Active(s.clock()) {
		return nil, ErrSessionExpired
	}

	user, err := s.repo.Users().GetUserTx(ctx, db, session.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	return &Principal{User: user, Session: session, Claims: claims}, nil
}

// Logout invalidates the session owning refreshToken.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	ctx, cancel, err := begin(ctx, "logout")
	if err != nil {
		return err
	}
	defer cancel()

	db := s.repo.DB()
	session, err := s.repo.Sessions().FindByTokenHashTx(ctx, db, HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrUnauthorized
		}
		return err
	}

	invalidated, err := s.repo.Sessions().InvalidateTx(ctx, db, session.ID)
	if err != nil {
		return err
	}
	if invalidated {
		s.recorder().record(ctx, ActivitySessionRevoked, ActorRef{ID: session.UserID.String(), Type: "user"}, session.UserID.String(), map[string]any{
			"session_id": session.ID,
			"reason":     "logout",
		})
	}
	return nil
}

// ListSessions returns the active sessions of userID, newest first. The
// session owning currentToken is flagged Current.
func (s *SessionService) ListSessions(ctx context.Context, userID uuid.UUID, currentToken string) ([]SessionView, error) {
	ctx, cancel, err := begin(ctx, "session listing")
	if err != nil {
		return nil, err
	}
	defer cancel()

	records, err := s.repo.Sessions().ListActiveTx(ctx, s.repo.DB(), userID, s.clock())
	if err != nil {
		return nil, err
	}

	currentDigest := ""
	if currentToken != "" {
		currentDigest = HashRefreshToken(currentToken)
	}

	out := make([]SessionView, 0, len(records))
	for _, record := range records {
		out = append(out, SessionView{
			Session: record,
			Current: currentDigest != "" && record.RefreshTokenHash == currentDigest,
		})
	}
	return out, nil
}

// ListSessionsForSession is ListSessions flagging the session by id, used
// when the caller authenticated with an access token.
func (s *SessionService) ListSessionsForSession(ctx context.Context, userID uuid.UUID, currentSessionID string) ([]SessionView, error) {
	views, err := s.ListSessions(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	for i := range views {
		views[i].Current = views[i].ID == currentSessionID
	}
	return views, nil
}

// RevokeOtherSessions invalidates every session of userID except the one
// owning currentToken and returns how many were revoked.
func (s *SessionService) RevokeOtherSessions(ctx context.Context, userID uuid.UUID, currentToken string) (int, error) {
	ctx, cancel, err := begin(ctx, "session revocation")
	if err != nil {
		return 0, err
	}
	defer cancel()

	if currentToken == "" {
		return 0, ErrUnauthorized
	}

	var current *Session
	var revoked int64
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err = s.repo.Sessions().FindByTokenHashTx(ctx, tx, HashRefreshToken(currentToken))
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				return ErrUnauthorized
			}
			return err
		}
		if current.UserID != userID || !current.Active(s.clock()) {
			return ErrUnauthorized
		}
		revoked, err = s.repo.Sessions().InvalidateOthersTx(ctx, tx, userID, current.ID)
		return err
	})
	if err != nil {
		return 0, settle(err, "session revocation transaction failed")
	}

	s.recorder().record(ctx, ActivitySessionRevoked, ActorRef{ID: userID.String(), Type: "user"}, userID.String(), map[string]any{
		"kept_session_id": current.ID,
		"revoked":         revoked,
		"reason":          "revoke_others",
	})
	return int(revoked), nil
}

// RevokeOtherSessionsByID is RevokeOtherSessions keyed by the current
// session id instead of its refresh token.
func (s *SessionService) RevokeOtherSessionsByID(ctx context.Context, userID uuid.UUID, currentSessionID string) (int, error) {
	ctx, cancel, err := begin(ctx, "session revocation")
	if err != nil {
		return 0, err
	}
	defer cancel()

	var revoked int64
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := s.repo.Sessions().FindByIDTx(ctx, tx, currentSessionID)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				return ErrUnauthorized
			}
			return err
		}
		if current.UserID != userID || !current.Active(s.clock()) {
			return ErrUnauthorized
		}
		revoked, err = s.repo.Sessions().InvalidateOthersTx(ctx, tx, userID, current.ID)
		return err
	})
	if err != nil {
		return 0, settle(err, "session revocation transaction failed")
	}

	s.recorder().record(ctx, ActivitySessionRevoked, ActorRef{ID: userID.String(), Type: "user"}, userID.String(), map[string]any{
		"kept_session_id": currentSessionID,
		"revoked":         revoked,
		"reason":          "revoke_others",
	})
	return int(revoked), nil
}

// RevokeSession signs one device out.
func (s *SessionService) RevokeSession(ctx context.Context, userID uuid.UUID, sessionID string) error {
	ctx, cancel, err := begin(ctx, "session revocation")
	if err != nil {
		return err
	}
	defer cancel()

	db := s.repo.DB()
	session, err := s.repo.Sessions().FindByIDTx(ctx, db, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return ErrSessionNotFound
	}

	invalidated, err := s.repo.Sessions().InvalidateTx(ctx, db, session.ID)
	if err != nil {
		return err
	}
	if !invalidated {
		return ErrSessionNotFound
	}

	s.recorder().record(ctx, ActivitySessionRevoked, ActorFromContext(ctx), userID.String(), map[string]any{
		"session_id": session.ID,
		"reason":     "revoked",
	})
	return nil
}

// RevokeAllSessions invalidates every session of userID.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx, cancel, err := begin(ctx, "session revocation")
	if err != nil {
		return 0, err
	}
	defer cancel()

	n, err := s.repo.Sessions().InvalidateAllTx(ctx, s.repo.DB(), userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.recorder().record(ctx, ActivitySessionRevoked, ActorFromContext(ctx), userID.String(), map[string]any{
			"revoked": n,
			"reason":  "revoke_all",
		})
	}
	return int(n), nil
}

// PurgeExpired deletes expired and invalidated sessions.
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	ctx, cancel, err := begin(ctx, "session purge")
	if err != nil {
		return 0, err
	}
	defer cancel()

	return s.repo.Sessions().DeleteExpiredTx(ctx, s.repo.DB(), s.clock())
}
