package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// AdminKeyChecker verifies the admin credential. A bcrypt hash takes precedence over a
// plain key; with neither configured every key is rejected.
type AdminKeyChecker struct {
	plain []byte
	hash  []byte
}

func NewAdminKeyChecker(plain, hash string) AdminKeyChecker {
	return AdminKeyChecker{plain: []byte(plain), hash: []byte(hash)}
}

func (a AdminKeyChecker) Enabled() bool {
	return len(a.hash) > 0 || len(a.plain) > 0
}

func (a AdminKeyChecker) Check(key string) bool {
	if key == "" {
		return false
	}
	if len(a.hash) > 0 {
		return bcrypt.CompareHashAndPassword(a.hash, []byte(key)) == nil
	}
	if len(a.plain) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(a.plain, []byte(key)) == 1
}

// HashAdminKey returns the bcrypt hash to put in ADMIN_KEY_HASH.
func HashAdminKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
