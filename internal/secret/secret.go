// Package secret checks operator-supplied shared secrets, either against a
// plain configured value or against an argon2id hash of it.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	hashTime    uint32 = 1
	hashMemory  uint32 = 64 * 1024
	hashThreads uint8  = 4
	hashKeyLen  uint32 = 32
	hashSaltLen        = 16
)

var errInvalidHash = errors.New("secret: invalid argon2id hash")

// Matcher compares candidates against the configured secret in constant time.
type Matcher struct {
	plain []byte
	hash  string
}

// NewMatcher prefers encodedHash when it is set and falls back to plain.
func NewMatcher(plain, encodedHash string) (*Matcher, error) {
	if encodedHash != "" {
		if _, err := decode(encodedHash); err != nil {
			return nil, err
		}
		return &Matcher{hash: encodedHash}, nil
	}
	if plain == "" {
		return nil, errors.New("secret: neither plain secret nor hash configured")
	}
	return &Matcher{plain: []byte(plain)}, nil
}

// Match reports whether candidate equals the configured secret. An empty
// candidate never matches.
func (m *Matcher) Match(candidate string) bool {
	if m == nil || candidate == "" {
		return false
	}
	if m.hash != "" {
		ok, err := Verify(candidate, m.hash)
		return err == nil && ok
	}
	// Hash both sides so the comparison does not leak the secret's length.
	want := sha256.Sum256(m.plain)
	got := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

// Hash returns an argon2id encoding of value suitable for BULK_UPDATE_SECRET_HASH.
func Hash(value string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(value), salt, hashTime, hashMemory, hashThreads, hashKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		hashMemory,
		hashTime,
		hashThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify checks value against an encoded argon2id hash.
func Verify(value, encoded string) (bool, error) {
	p, err := decode(encoded)
	if err != nil {
		return false, err
	}
	actual := argon2.IDKey([]byte(value), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(actual, p.key) == 1, nil
}

type params struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func decode(encoded string) (params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params{}, errInvalidHash
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return params{}, errInvalidHash
	}

	var p params
	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &threads); err != nil || threads == 0 || threads > 255 {
		return params{}, errInvalidHash
	}
	p.threads = uint8(threads)

	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return params{}, errInvalidHash
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.key) == 0 {
		return params{}, errInvalidHash
	}
	return p, nil
}
