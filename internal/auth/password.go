package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// operatorHash holds the Argon2id settings used for new operator hashes.
var operatorHash = argonHash{time: 3, memory: 64 * 1024, threads: 1}

const (
	argonSaltLen = 16
	argonKeyLen  = 32
)

// argonHash is a decoded "$argon2id$v=19$m=...,t=...,p=...$salt$key" string.
type argonHash struct {
	time    uint32
	memory  uint32
	threads uint8
	salt    []byte
	key     []byte
}

// HashPassword returns an Argon2id hash of password in PHC string form,
// suitable for the operators section of config.yaml.
func HashPassword(password string) (string, error) {
	h := operatorHash
	h.salt = make([]byte, argonSaltLen)
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	h.key = h.derive(password, argonKeyLen)
	return h.String(), nil
}

// VerifyPassword reports whether password matches encoded. An error means
// encoded is not an Argon2id hash this package can read.
func VerifyPassword(password, encoded string) (bool, error) {
	h, err := parseArgonHash(encoded)
	if err != nil {
		return false, err
	}
	candidate := h.derive(password, uint32(len(h.key))) //nolint:gosec // G115: decoded key length fits uint32
	return subtle.ConstantTimeCompare(h.key, candidate) == 1, nil
}

func (h argonHash) derive(password string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.threads, keyLen)
}

// String renders h in PHC form.
func (h argonHash) String() string {
	enc := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.time, h.threads,
		enc.EncodeToString(h.salt), enc.EncodeToString(h.key))
}

func parseArgonHash(encoded string) (argonHash, error) {
	var h argonHash

	fields := strings.Split(encoded, "$")
	// "", algorithm, version, params, salt, key
	if len(fields) != 6 || fields[0] != "" {
		return h, fmt.Errorf("password hash: not in PHC format")
	}
	if fields[1] != "argon2id" {
		return h, fmt.Errorf("password hash: unsupported algorithm %q", fields[1])
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return h, fmt.Errorf("password hash: version: %w", err)
	}
	if version != argon2.Version {
		return h, fmt.Errorf("password hash: unsupported version %d", version)
	}
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.threads); err != nil {
		return h, fmt.Errorf("password hash: parameters: %w", err)
	}
	if h.time == 0 || h.memory == 0 || h.threads == 0 {
		return h, fmt.Errorf("password hash: parameters must be positive")
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil {
		return h, fmt.Errorf("password hash: salt: %w", err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil {
		return h, fmt.Errorf("password hash: key: %w", err)
	}
	if len(h.key) == 0 {
		return h, fmt.Errorf("password hash: empty key")
	}
	return h, nil
}
