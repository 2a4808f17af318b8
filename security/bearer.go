package security

import (
	"crypto/subtle"
	"strings"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"golang.org/x/crypto/bcrypt"
)

// CheckBearer compares the bearer token of an Authorization header with the
// configured secret. A secret starting with "$2" is treated as a bcrypt hash.
// An empty secret never matches.
func CheckBearer(header, secret string) bool {
	if secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}
	if strings.HasPrefix(secret, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(secret), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

func RequireBearer(secret string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if !CheckBearer(e.Request.Header.Get("Authorization"), secret) {
			return apis.NewUnauthorizedError("Unauthorized", nil)
		}
		return e.Next()
	}
}
