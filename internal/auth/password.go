package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Supported password hashing algorithms.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// Argon2id parameters. The configured cost replaces the iteration count.
const (
	argonDefaultTime = 2
	argonMaxTime     = 10
	argonMemory      = 19 * 1024
	argonMaxMemory   = 256 * 1024
	argonThreads     = 1
	argonKeyLen      = 32
	argonSaltLen     = 16
)

// PasswordHasher hashes and verifies credential secrets. Hash output is
// salted, so hashing the same secret twice yields different strings.
type PasswordHasher struct {
	algorithm string
	cost      int
}

// NewPasswordHasher constructs a hasher. A zero cost selects the algorithm default.
func NewPasswordHasher(algorithm string, cost int) (*PasswordHasher, error) {
	if err := validateHashing(algorithm, cost); err != nil {
		return nil, err
	}
	if cost == 0 {
		switch algorithm {
		case AlgorithmBcrypt:
			cost = bcrypt.DefaultCost
		case AlgorithmArgon2id:
			cost = argonDefaultTime
		}
	}
	return &PasswordHasher{algorithm: algorithm, cost: cost}, nil
}

func validateHashing(algorithm string, cost int) error {
	switch algorithm {
	case AlgorithmBcrypt:
		if cost != 0 && (cost < bcrypt.MinCost || cost > bcrypt.MaxCost) {
			return fmt.Errorf("auth: bcrypt cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
		}
	case AlgorithmArgon2id:
		if cost < 0 || cost > argonMaxTime {
			return fmt.Errorf("auth: argon2id cost must be between 1 and %d, got %d", argonMaxTime, cost)
		}
	default:
		return fmt.Errorf("auth: unsupported hash algorithm %q", algorithm)
	}
	return nil
}

// Hash produces an encoded hash of secret.
func (h *PasswordHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: password is empty", ErrValidation)
	}
	if h.algorithm == AlgorithmArgon2id {
		return hashArgon2id(secret, uint32(h.cost))
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password exceeds 72 bytes", ErrValidation)
		}
		return "", err
	}
	return string(out), nil
}

// Verify reports whether secret matches encoded. Malformed or unknown
// encodings verify as false.
func (h *PasswordHasher) Verify(secret, encoded string) bool {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2id(secret, encoded)
	case strings.HasPrefix(encoded, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(secret)) == nil
	default:
		return false
	}
}

func hashArgon2id(secret string, iterations uint32) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, iterations, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, iterations, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2id(secret, encoded string) bool {
	salt, key, params, err := decodePHC(encoded)
	if err != nil {
		return false
	}
	candidate := argon2.IDKey([]byte(secret), salt, params.time, params.memory, params.threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, candidate) == 1
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// decodePHC parses $argon2id$v=19$m=...,t=...,p=...$salt$hash and rejects
// parameters outside the ranges this service would ever write.
func decodePHC(encoded string) (salt, key []byte, params argonParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return nil, nil, params, errors.New("invalid PHC hash format")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, params, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, params, fmt.Errorf("unsupported argon2 version %d", version)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return nil, nil, params, fmt.Errorf("parsing parameters: %w", err)
	}
	if params.time == 0 || params.time > argonMaxTime || params.memory == 0 || params.memory > argonMaxMemory || params.threads == 0 {
		return nil, nil, params, errors.New("argon2 parameters out of range")
	}
	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, nil, params, fmt.Errorf("decoding salt: %w", err)
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, nil, params, fmt.Errorf("decoding hash: %w", err)
	}
	if len(key) == 0 {
		return nil, nil, params, errors.New("empty hash")
	}
	return salt, key, params, nil
}
