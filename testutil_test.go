package identity

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	require.NoError(t, CreateSchema(context.Background(), db))
	return db
}

func newTestRepo(t *testing.T) RepositoryManager {
	t.Helper()
	return NewRepositoryManager(newTestDB(t))
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testHasher() CredentialHasher {
	return NewBcryptHasher(bcrypt.MinCost)
}

type recordingMailer struct {
	mu       sync.Mutex
	messages []MailMessage
}

func (m *recordingMailer) Send(_ context.Context, msg MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) last() MailMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return MailMessage{}
	}
	return m.messages[len(m.messages)-1]
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, msg MailMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type recordingSink struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type silentLogger struct{}

func (silentLogger) Debug(string, ...any) {}
func (silentLogger) Info(string, ...any)  {}
func (silentLogger) Warn(string, ...any)  {}
func (silentLogger) Error(string, ...any) {}

// seedUser inserts an active user directly.
func seedUser(t *testing.T, repo RepositoryManager, email string, providers ...Provider) *User {
	t.Helper()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	user := &User{
		Email:           email,
		Name:            "Test User",
		Role:            DefaultRoleSlug,
		IsVerified:      true,
		LinkedProviders: providers,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, p := range providers {
		if p == ProviderEmail {
			digest, err := testHasher().Hash("correct-horse-battery")
			require.NoError(t, err)
			user.PasswordHash = &digest
			continue
		}
		user.setExternalID(p, string(p)+"-"+email)
		if user.PrimaryProvider == nil {
			primary := p
			user.PrimaryProvider = &primary
		}
	}
	require.NoError(t, repo.Users().InsertTx(context.Background(), repo.DB(), user))
	return user
}
