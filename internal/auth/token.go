package auth

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"companyauth.org/internal/ids"
)

// Claims is the payload of an issued token. Permissions is a snapshot taken
// at issuance; later grant changes do not affect it.
type Claims struct {
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject %q is not a user id", ErrTokenMalformed, c.Subject)
	}
	return id, nil
}

// HasPermission reports whether the snapshot contains name.
func (c *Claims) HasPermission(name string) bool {
	return slices.Contains(c.Permissions, name)
}

// TokenOption configures TokenIssuer and TokenValidator.
type TokenOption func(*tokenOptions)

type tokenOptions struct {
	now func() time.Time
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(o *tokenOptions) {
		if fn != nil {
			o.now = fn
		}
	}
}

func applyTokenOptions(opts []TokenOption) tokenOptions {
	o := tokenOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TokenIssuer signs HS256 tokens with the configured key.
type TokenIssuer struct {
	settings *Settings
	now      func() time.Time
}

// NewTokenIssuer constructs an issuer bound to settings.
func NewTokenIssuer(settings *Settings, opts ...TokenOption) *TokenIssuer {
	o := applyTokenOptions(opts)
	return &TokenIssuer{settings: settings, now: o.now}
}

// Issue builds and signs a token for user holding role and permissionNames.
// It returns the token and its expiry.
func (i *TokenIssuer) Issue(user User, role Role, permissionNames []string) (string, time.Time, error) {
	now := i.now().UTC()
	perms := slices.Clone(permissionNames)
	if perms == nil {
		perms = []string{}
	}
	sort.Strings(perms)

	claims := Claims{
		Email:       user.Email,
		Role:        role.Name,
		Permissions: perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    i.settings.Issuer(),
			Audience:  jwt.ClaimStrings{i.settings.Audience()},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.settings.TokenTTL())),
			ID:        ids.NewAt(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.settings.key())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// TokenValidator verifies tokens produced by TokenIssuer.
type TokenValidator struct {
	settings *Settings
	parser   *jwt.Parser
}

// NewTokenValidator constructs a validator bound to settings.
func NewTokenValidator(settings *Settings, opts ...TokenOption) *TokenValidator {
	o := applyTokenOptions(opts)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(settings.Issuer()),
		jwt.WithAudience(settings.Audience()),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(settings.ClockSkew()),
		jwt.WithTimeFunc(o.now),
	)
	return &TokenValidator{settings: settings, parser: parser}
}

// Validate checks structure, signature, issuer, audience and expiry, in
// that order of precedence, and returns the claims.
func (v *TokenValidator) Validate(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.settings.key(), nil
	})
	if err != nil {
		mapped := classifyTokenError(err)
		tokenValidations.WithLabelValues(tokenOutcome(mapped)).Inc()
		return nil, fmt.Errorf("%w: %v", mapped, err)
	}
	if _, err := claims.UserID(); err != nil {
		tokenValidations.WithLabelValues("malformed").Inc()
		return nil, err
	}
	tokenValidations.WithLabelValues("ok").Inc()
	return claims, nil
}

// classifyTokenError maps jwt errors onto the validation taxonomy. Claim
// failures are reported together by the parser, so precedence is decided here.
func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrTokenIssuerInvalid
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrTokenAudienceInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}

func tokenOutcome(err error) string {
	switch {
	case errors.Is(err, ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, ErrTokenIssuerInvalid):
		return "bad_issuer"
	case errors.Is(err, ErrTokenAudienceInvalid):
		return "bad_audience"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	default:
		return "malformed"
	}
}
