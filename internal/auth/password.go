package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argon2Prefix  = "$argon2id$"
	argon2Version = "v=19"
)

var errMalformedHash = errors.New("malformed password hash")

// Argon2Params are the tunable Argon2id parameters. Memory is in KiB.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p Argon2Params) validate() error {
	switch {
	case p.Memory < 8*1024:
		return errors.New("argon2 memory must be at least 8192 KiB")
	case p.Iterations == 0:
		return errors.New("argon2 iterations must be greater than zero")
	case p.Parallelism == 0:
		return errors.New("argon2 parallelism must be greater than zero")
	case p.SaltLength < 8:
		return errors.New("argon2 salt length must be at least 8 bytes")
	case p.KeyLength < 16:
		return errors.New("argon2 key length must be at least 16 bytes")
	}
	return nil
}

// PasswordHasher produces Argon2id hashes in PHC string format:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
type PasswordHasher struct {
	params    Argon2Params
	dummyHash string
}

func NewPasswordHasher(params Argon2Params) (*PasswordHasher, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	h := &PasswordHasher{params: params}

	// Verified against when an email is unknown so the response time does
	// not reveal whether the account exists.
	dummy, err := h.Hash("not-a-real-password-placeholder")
	if err != nil {
		return nil, err
	}
	h.dummyHash = dummy

	return h, nil
}

func (h *PasswordHasher) Hash(plain string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plain), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("%s%s$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix,
		argon2Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// NeedsRehash reports whether stored was produced by a legacy scheme or
// with weaker parameters than the hasher's current ones.
func (h *PasswordHasher) NeedsRehash(stored string) bool {
	if !strings.HasPrefix(stored, argon2Prefix) {
		return true
	}
	params, _, key, err := decodeArgon2(stored)
	if err != nil {
		return true
	}
	return params.Memory < h.params.Memory ||
		params.Iterations < h.params.Iterations ||
		params.Parallelism < h.params.Parallelism ||
		uint32(len(key)) < h.params.KeyLength
}

// burn runs a full verification against a fixed hash and discards the result.
func (h *PasswordHasher) burn(plain string) {
	_ = VerifyPassword(plain, h.dummyHash)
}

// VerifyPassword reports whether plain matches stored. Argon2id PHC strings
// and bcrypt hashes are accepted. Malformed input yields false.
func VerifyPassword(plain, stored string) bool {
	if plain == "" || stored == "" {
		return false
	}

	switch {
	case strings.HasPrefix(stored, argon2Prefix):
		params, salt, expected, err := decodeArgon2(stored)
		if err != nil {
			return false
		}
		computed := argon2.IDKey([]byte(plain), salt, params.Iterations, params.Memory, params.Parallelism, uint32(len(expected)))
		return subtle.ConstantTimeCompare(computed, expected) == 1
	case isBcryptHash(stored):
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plain)) == nil
	default:
		return false
	}
}

func isBcryptHash(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}

func decodeArgon2(stored string) (Argon2Params, []byte, []byte, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	parts := strings.Split(stored, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2Params{}, nil, nil, errMalformedHash
	}
	if parts[2] != argon2Version {
		return Argon2Params{}, nil, nil, fmt.Errorf("unsupported argon2 version %q", parts[2])
	}

	params, err := parseArgon2Params(parts[3])
	if err != nil {
		return Argon2Params{}, nil, nil, err
	}

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("decode argon2 salt: %w", err)
	}
	key, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil {
		return Argon2Params{}, nil, nil, fmt.Errorf("decode argon2 key: %w", err)
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	if err := params.validate(); err != nil {
		return Argon2Params{}, nil, nil, err
	}

	return params, salt, key, nil
}

func parseArgon2Params(segment string) (Argon2Params, error) {
	entries := strings.Split(segment, ",")
	if len(entries) != 3 {
		return Argon2Params{}, errMalformedHash
	}

	var params Argon2Params
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return Argon2Params{}, errMalformedHash
		}

		switch key {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return Argon2Params{}, fmt.Errorf("parse argon2 memory: %w", err)
			}
			params.Memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return Argon2Params{}, fmt.Errorf("parse argon2 iterations: %w", err)
			}
			params.Iterations = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil {
				return Argon2Params{}, fmt.Errorf("parse argon2 parallelism: %w", err)
			}
			params.Parallelism = uint8(v)
		default:
			return Argon2Params{}, errMalformedHash
		}
	}

	// Guards argon2.IDKey against attacker-chosen parameters in a tampered
	// row that would allocate unbounded memory.
	if params.Memory > 1<<21 || params.Iterations > 64 {
		return Argon2Params{}, errMalformedHash
	}

	return params, nil
}
