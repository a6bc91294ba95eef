package auth

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

const (
	defaultIssuer         = "companyauth"
	defaultAudience       = "companyauth-clients"
	defaultTokenTTL       = time.Hour
	defaultBypassRole     = "Admin"
	defaultCacheSize      = 256
	defaultCacheTTL       = 30 * time.Second
	minSigningKeyLength   = 32
	maxDefaultHashWorkers = 8
)

// Settings is the process-wide auth configuration. It is built once at
// startup and read concurrently afterwards; no setter exists.
type Settings struct {
	signingKey    []byte
	issuer        string
	audience      string
	tokenTTL      time.Duration
	leeway        time.Duration
	hashAlgorithm string
	hashCost      int
	hashWorkers   int
	bypassRole    string
	cacheSize     int
	cacheTTL      time.Duration
}

// SettingsOption configures Settings during construction.
type SettingsOption func(*Settings) error

// WithIssuer sets the token issuer claim.
func WithIssuer(issuer string) SettingsOption {
	return func(s *Settings) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return errors.New("auth: issuer must not be empty")
		}
		s.issuer = issuer
		return nil
	}
}

// WithAudience sets the token audience claim.
func WithAudience(audience string) SettingsOption {
	return func(s *Settings) error {
		audience = strings.TrimSpace(audience)
		if audience == "" {
			return errors.New("auth: audience must not be empty")
		}
		s.audience = audience
		return nil
	}
}

// WithTokenTTL configures token lifetime.
func WithTokenTTL(ttl time.Duration) SettingsOption {
	return func(s *Settings) error {
		if ttl <= 0 {
			return fmt.Errorf("auth: token ttl must be positive, got %s", ttl)
		}
		s.tokenTTL = ttl
		return nil
	}
}

// WithClockSkew tolerates clock drift when checking expiry. Zero is strict.
func WithClockSkew(leeway time.Duration) SettingsOption {
	return func(s *Settings) error {
		if leeway < 0 {
			return fmt.Errorf("auth: clock skew must not be negative, got %s", leeway)
		}
		s.leeway = leeway
		return nil
	}
}

// WithHashing selects the password hashing algorithm and its cost factor.
// A zero cost keeps the algorithm default.
func WithHashing(algorithm string, cost int) SettingsOption {
	return func(s *Settings) error {
		algorithm = strings.ToLower(strings.TrimSpace(algorithm))
		if algorithm == "" {
			algorithm = AlgorithmBcrypt
		}
		if err := validateHashing(algorithm, cost); err != nil {
			return err
		}
		s.hashAlgorithm = algorithm
		s.hashCost = cost
		return nil
	}
}

// WithHashWorkers sets the size of the hashing worker pool.
func WithHashWorkers(n int) SettingsOption {
	return func(s *Settings) error {
		if n <= 0 {
			return fmt.Errorf("auth: hash workers must be positive, got %d", n)
		}
		s.hashWorkers = n
		return nil
	}
}

// WithBypassRole names the role that satisfies every policy.
func WithBypassRole(name string) SettingsOption {
	return func(s *Settings) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return errors.New("auth: bypass role must not be empty")
		}
		s.bypassRole = name
		return nil
	}
}

// WithPermissionCache sizes the role permission cache.
func WithPermissionCache(size int, ttl time.Duration) SettingsOption {
	return func(s *Settings) error {
		if size <= 0 || ttl <= 0 {
			return fmt.Errorf("auth: permission cache needs positive size and ttl, got %d/%s", size, ttl)
		}
		s.cacheSize = size
		s.cacheTTL = ttl
		return nil
	}
}

// NewSettings validates the signing key and applies options.
func NewSettings(signingKey string, opts ...SettingsOption) (*Settings, error) {
	if len(signingKey) < minSigningKeyLength {
		return nil, fmt.Errorf("auth: signing key must be at least %d bytes", minSigningKeyLength)
	}
	workers := runtime.NumCPU()
	if workers > maxDefaultHashWorkers {
		workers = maxDefaultHashWorkers
	}
	s := &Settings{
		signingKey:    []byte(signingKey),
		issuer:        defaultIssuer,
		audience:      defaultAudience,
		tokenTTL:      defaultTokenTTL,
		hashAlgorithm: AlgorithmBcrypt,
		hashWorkers:   workers,
		bypassRole:    defaultBypassRole,
		cacheSize:     defaultCacheSize,
		cacheTTL:      defaultCacheTTL,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Settings) key() []byte { return s.signingKey }

func (s *Settings) Issuer() string { return s.issuer }
func (s *Settings) Audience() string { return s.audience }
func (s *Settings) TokenTTL() time.Duration { return s.tokenTTL }
func (s *Settings) ClockSkew() time.Duration { return s.leeway }
func (s *Settings) HashAlgorithm() string { return s.hashAlgorithm }
func (s *Settings) HashCost() int { return s.hashCost }
func (s *Settings) HashWorkers() int { return s.hashWorkers }
func (s *Settings) BypassRole() string { return s.bypassRole }
func (s *Settings) CacheSize() int { return s.cacheSize }
func (s *Settings) CacheTTL() time.Duration { return s.cacheTTL }
