package utils

import "golang.org/x/crypto/bcrypt"

// VerifyPassword checks a login attempt against the stored bcrypt hash
// of a show-office account.  Account creation lives in the tournament
// administration tooling, so this service only ever compares; it never
// hashes.  The comparison is constant-time inside bcrypt.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
