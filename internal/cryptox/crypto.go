// Package cryptox hashes and verifies account passwords and file passcodes.
package cryptox

import "golang.org/x/crypto/bcrypt"

// Cost is the bcrypt work factor used for new hashes.
var Cost = bcrypt.DefaultCost

// Hash returns the bcrypt hash of secret.
func Hash(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), Cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Matches reports whether secret corresponds to hash. A malformed hash is
// treated as a mismatch.
func Matches(hash, secret string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
