package identity

import "github.com/google/uuid"

// ParseUserID parses a user id taken from a token or request path.
func ParseUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrUserNotFound
	}
	return id, nil
}

// HasUserUUID reports whether claims carry a parseable user id.
func HasUserUUID(claims *AccessClaims) bool {
	if claims == nil {
		return false
	}
	_, err := ParseUserID(claims.UserID())
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
