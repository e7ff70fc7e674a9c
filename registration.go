package identity

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	DefaultRegistrationTTL       = 15 * time.Minute
	DefaultMaxActivationAttempts = 5
)

// RegisterInput is the payload of a registration request.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Validate checks the input shape.
func (r RegisterInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 72)),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 120)),
	)
}

// RegistrationService runs the register -> activate flow.
type RegistrationService struct {
	repo        RepositoryManager
	hasher      CredentialHasher
	mailer      Mailer
	ttl         time.Duration
	maxAttempts int
	defaultRole string
	hashedIDs   bool
	codes       func() (string, error)
	clock       Clock
	logger      Logger
	activity    ActivitySink
}

// RegistrationOption configures a RegistrationService.
type RegistrationOption func(*RegistrationService)

// WithRegistrationTTL sets how long an activation code stays valid.
func WithRegistrationTTL(ttl time.Duration) RegistrationOption {
	return func(s *RegistrationService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxActivationAttempts sets the attempt budget per code.
func WithMaxActivationAttempts(n int) RegistrationOption {
	return func(s *RegistrationService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRegistrationDefaultRole sets the role slug of activated users.
func WithRegistrationDefaultRole(slug string) RegistrationOption {
	return func(s *RegistrationService) {
		if slug != "" {
			s.defaultRole = slug
		}
	}
}

// WithHashedUserIDs derives user ids from the email address.
func WithHashedUserIDs(enabled bool) RegistrationOption {
	return func(s *RegistrationService) {
		s.hashedIDs = enabled
	}
}

// WithCodeGenerator replaces the activation code generator.
func WithCodeGenerator(fn func() (string, error)) RegistrationOption {
	return func(s *RegistrationService) {
		if fn != nil {
			s.codes = fn
		}
	}
}

func WithRegistrationClock(c Clock) RegistrationOption {
	return func(s *RegistrationService) {
		s.clock = c
	}
}

func WithRegistrationLogger(l Logger) RegistrationOption {
	return func(s *RegistrationService) {
		s.logger = l
	}
}

func WithRegistrationActivitySink(sink ActivitySink) RegistrationOption {
	return func(s *RegistrationService) {
		s.activity = sink
	}
}

// NewRegistrationService builds the service.
func NewRegistrationService(repo RepositoryManager, hasher CredentialHasher, mailer Mailer, opts ...RegistrationOption) *RegistrationService {
	s := &RegistrationService{
		repo:        repo,
		hasher:      hasher,
		mailer:      mailer,
		ttl:         DefaultRegistrationTTL,
		maxAttempts: DefaultMaxActivationAttempts,
		defaultRole: DefaultRoleSlug,
		codes:       GenerateActivationCode,
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

func (s *RegistrationService) recorder() activityRecorder {
	return activityRecorder{sink: s.activity, logger: s.logger, clock: s.clock}
}

// Register stores a pending registration for in.Email, replacing any live
// one, and mails a fresh activation code.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (*PendingRegistration, error) {
	ctx, cancel, err := begin(ctx, "registration")
	if err != nil {
		return nil, err
	}
	defer cancel()

	in.Email = NormalizeEmail(in.Email)
	if err := in.Validate(); err != nil {
		return nil, goerrors.FromOzzoValidation(err, "invalid registration")
	}

	email := in.Email
	if _, err := s.repo.Users().FindByEmailTx(ctx, s.repo.DB(), email); err == nil {
		return nil, ErrEmailAlreadyRegistered
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, settle(err, "failed to hash password")
	}

	record := &PendingRegistration{
		Email:        email,
		PasswordHash: passwordHash,
		Name:         in.Name,
	}
	code, err := s.issueCode(ctx, record)
	if err != nil {
		return nil, err
	}

	if err := s.deliver(ctx, record, code); err != nil {
		return nil, err
	}

	s.recorder().record(ctx, ActivityRegistrationStarted, ActorRef{ID: email, Type: "anonymous"}, "", map[string]any{
		"email":      email,
		"expires_at": record.ExpiresAt,
	})
	return record, nil
}

// ResendCode replaces the code of a live pending registration and resets
// its attempt counter.
func (s *RegistrationService) ResendCode(ctx context.Context, email string) (*PendingRegistration, error) {
	ctx, cancel, err := begin(ctx, "activation code resend")
	if err != nil {
		return nil, err
	}
	defer cancel()

	record, err := s.loadLive(ctx, email)
	if err != nil {
		return nil, err
	}

	record.ID = uuid.Nil
	code, err := s.issueCode(ctx, record)
	if err != nil {
		return nil, err
	}
	if err := s.deliver(ctx, record, code); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *RegistrationService) issueCode(ctx context.Context, record *PendingRegistration) (string, error) {
	code, err := s.codes()
	if err != nil {
		return "", settle(err, "failed to generate activation code")
	}
	codeHash, err := s.hasher.Hash(code)
	if err != nil {
		return "", settle(err, "failed to hash activation code")
	}

	now := s.clock()
	record.CodeHash = codeHash
	record.Attempts = 0
	record.CreatedAt = now
	record.ExpiresAt = now.Add(s.ttl)

	if err := s.repo.PendingRegistrations().UpsertTx(ctx, s.repo.DB(), record); err != nil {
		return "", err
	}
	return code, nil
}

func (s *RegistrationService) deliver(ctx context.Context, record *PendingRegistration, code string) error {
	if s.mailer == nil {
		return nil
	}
	msg := ActivationMessage(record.Email, record.Name, code, s.ttl)
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("activation mail to %s failed: %v", record.Email, err)
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to send activation code").
			WithTextCode(TextCodeMailDeliveryFailed).
			WithCode(goerrors.CodeInternal)
	}
	return nil
}

// loadLive returns the pending registration for email, deleting it when it
// has expired.
func (s *RegistrationService) loadLive(ctx context.Context, email string) (*PendingRegistration, error) {
	db := s.repo.DB()
	record, err := s.repo.PendingRegistrations().FindByEmailTx(ctx, db, email)
	if err != nil {
		return nil, err
	}
	if record.Expired(s.clock()) {
		if _, err := s.repo.PendingRegistrations().DeleteTx(ctx, db, record.ID); err != nil {
			s.logger.Warn("failed to drop expired registration for %s: %v", record.Email, err)
		}
		return nil, ErrRegistrationNotFound
	}
	return record, nil
}

// Activate converts the pending registration for email into a verified
// user when code matches. Every call consumes one attempt.
func (s *RegistrationService) Activate(ctx context.Context, email, code string) (*User, error) {
	ctx, cancel, err := begin(ctx, "activation")
	if err != nil {
		return nil, err
	}
	defer cancel()

	record, err := s.loadLive(ctx, email)
	if err != nil {
		return nil, err
	}

	var attempts int
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		attempts, err = s.repo.PendingRegistrations().IncrementAttemptsTx(ctx, tx, record.ID)
		return err
	})
	if err != nil {
		return nil, settle(err, "activation attempt transaction failed")
	}

	if attempts > s.maxAttempts {
		if _, err := s.repo.PendingRegistrations().DeleteTx(ctx, s.repo.DB(), record.ID); err != nil {
			return nil, err
		}
		s.recorder().record(ctx, ActivityActivationFailed, ActorRef{ID: record.Email, Type: "anonymous"}, "", map[string]any{
			"email":    record.Email,
			"attempts": attempts,
			"reason":   TextCodeTooManyAttempts,
		})
		return nil, ErrTooManyAttempts
	}

	if !s.hasher.Verify(code, record.CodeHash) {
		s.recorder().record(ctx, ActivityActivationFailed, ActorRef{ID: record.Email, Type: "anonymous"}, "", map[string]any{
			"email":    record.Email,
			"attempts": attempts,
			"reason":   TextCodeInvalidCode,
		})
		return nil, ErrInvalidCode
	}

	now := s.clock()
	passwordHash := record.PasswordHash
	user := &User{
		Email:           record.Email,
		PasswordHash:    &passwordHash,
		Name:            record.Name,
		Role:            s.defaultRole,
		IsVerified:      true,
		LinkedProviders: []Provider{ProviderEmail},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if s.hashedIDs {
		if id, err := hashid.NewUUID(record.Email); err == nil {
			user.ID = id
		}
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		deleted, err := s.repo.PendingRegistrations().DeleteTx(ctx, tx, record.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrRegistrationNotFound
		}
		return s.repo.Users().InsertTx(ctx, tx, user)
	})
	if err != nil {
		return nil, settle(err, "activation transaction failed")
	}

	s.recorder().record(ctx, ActivityRegistrationActivated, ActorRef{ID: user.ID.String(), Type: "user"}, user.ID.String(), map[string]any{
		"email":    user.Email,
		"attempts": attempts,
	})
	return user, nil
}

// PurgeExpired deletes pending registrations past their expiry.
func (s *RegistrationService) PurgeExpired(ctx context.Context) (int64, error) {
	ctx, cancel, err := begin(ctx, "pending registration purge")
	if err != nil {
		return 0, err
	}
	defer cancel()

	return s.repo.PendingRegistrations().DeleteExpiredTx(ctx, s.repo.DB(), s.clock())
}
