package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/oklog/ulid/v2"
)

const refreshTokenBytes = 32

var (
	sessionEntropyMu sync.Mutex
	sessionEntropy   = ulid.Monotonic(rand.Reader, 0)
)

// GenerateRefreshToken returns an opaque token and the digest stored for it.
func GenerateRefreshToken() (token string, digest string, err error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate refresh token")
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, HashRefreshToken(token), nil
}

// HashRefreshToken returns the hex sha256 digest of token.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewSessionID returns a lexically sortable session id.
func NewSessionID(now time.Time) string {
	sessionEntropyMu.Lock()
	defer sessionEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), sessionEntropy).String()
}
