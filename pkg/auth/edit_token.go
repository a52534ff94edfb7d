package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// EditTokens issues and checks per-user edit tokens. A token is an HMAC of the
// user ID, so any instance sharing the secret can verify it without storage.
type EditTokens struct {
	secret []byte
}

// NewEditTokens creates an edit token issuer
func NewEditTokens(secret string) (*EditTokens, error) {
	if secret == "" {
		return nil, errors.New("edit token secret is required")
	}
	return &EditTokens{secret: []byte(secret)}, nil
}

// Issue returns the edit token of userID
func (t *EditTokens) Issue(userID string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte("edit-token:" + userID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether token is the edit token of userID
func (t *EditTokens) Verify(userID, token string) bool {
	if userID == "" || token == "" {
		return false
	}
	return hmac.Equal([]byte(t.Issue(userID)), []byte(token))
}
