package auth

import (
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/config"
)

// dummyHash is verified for unknown usernames so a failed login takes
// the same time whether or not the account exists.
var dummyHash, _ = HashPassword("mqttroute-unknown-operator") //nolint:errcheck // rand failure leaves an empty hash, which VerifyPassword rejects

// Operators checks login credentials against the configured accounts.
type Operators struct {
	hashes map[string]string
}

// NewOperators indexes the configured accounts by username.
func NewOperators(accounts []config.OperatorConfig) *Operators {
	o := &Operators{hashes: make(map[string]string, len(accounts))}
	for _, a := range accounts {
		o.hashes[a.Username] = a.PasswordHash
	}
	return o
}

// Len returns the number of accounts.
func (o *Operators) Len() int {
	if o == nil {
		return 0
	}
	return len(o.hashes)
}

// Authenticate returns nil when password matches the account's hash and
// ErrInvalidCredentials otherwise.
func (o *Operators) Authenticate(username, password string) error {
	hash, ok := "", false
	if o != nil {
		hash, ok = o.hashes[username]
	}
	if !ok {
		VerifyPassword(password, dummyHash) //nolint:errcheck // timing only
		return ErrInvalidCredentials
	}

	match, err := VerifyPassword(password, hash)
	if err != nil || !match {
		return ErrInvalidCredentials
	}
	return nil
}
