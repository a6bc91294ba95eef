package auth

import (
	"errors"
	"fmt"
)

// Store-level sentinels. Adapters return these; services translate them.
var (
	ErrNotFound = errors.New("auth: not found")
	ErrConflict = errors.New("auth: conflict")
)

// Decision outcomes surfaced to callers.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrValidation         = errors.New("auth: validation failed")
	ErrEmailAlreadyExists = errors.New("auth: email already exists")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrRoleNotFound       = errors.New("auth: role not found")
	ErrPermissionNotFound = errors.New("auth: permission not found")
	ErrRoleNameTaken      = errors.New("auth: role name already exists")
	ErrPermissionTaken    = errors.New("auth: permission name already exists")
	ErrAlreadyGranted     = errors.New("auth: permission already granted")
	ErrNotGranted         = errors.New("auth: permission not granted")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrStoreUnavailable   = errors.New("auth: store unavailable")
)

// Token validation outcomes.
var (
	ErrTokenMalformed        = errors.New("auth: token malformed")
	ErrTokenSignatureInvalid = errors.New("auth: token signature invalid")
	ErrTokenIssuerInvalid    = errors.New("auth: token issuer invalid")
	ErrTokenAudienceInvalid  = errors.New("auth: token audience invalid")
	ErrTokenExpired          = errors.New("auth: token expired")
)

// IsTokenError reports whether err is one of the token validation outcomes.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrTokenSignatureInvalid) ||
		errors.Is(err, ErrTokenIssuerInvalid) ||
		errors.Is(err, ErrTokenAudienceInvalid) ||
		errors.Is(err, ErrTokenExpired)
}

// unavailable wraps an unexpected store failure as ErrStoreUnavailable.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
