package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const maxNameLength = 100

// AuthenticationService verifies credentials, issues tokens and manages users.
type AuthenticationService struct {
	store    Store
	hashes   *HashPool
	registry *PermissionRegistry
	issuer   *TokenIssuer
	logger   *slog.Logger
}

// ServiceOption configures AuthenticationService behavior.
type ServiceOption func(*AuthenticationService) error

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *AuthenticationService) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// NewAuthenticationService constructs the service from its collaborators.
func NewAuthenticationService(store Store, hashes *HashPool, registry *PermissionRegistry, issuer *TokenIssuer, opts ...ServiceOption) (*AuthenticationService, error) {
	switch {
	case store == nil:
		return nil, errors.New("auth: store is required")
	case hashes == nil:
		return nil, errors.New("auth: hash pool is required")
	case registry == nil:
		return nil, errors.New("auth: permission registry is required")
	case issuer == nil:
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &AuthenticationService{
		store:    store,
		hashes:   hashes,
		registry: registry,
		issuer:   issuer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Login verifies email and password and issues a token carrying the user's
// role and current permissions. Unknown email and wrong password both yield
// ErrInvalidCredentials after comparable hashing work.
func (s *AuthenticationService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		loginsTotal.WithLabelValues("invalid").Inc()
		return LoginResult{}, ErrInvalidCredentials
	}

	user, err := s.store.FindUserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := s.hashes.VerifyAbsent(ctx, password); err != nil {
			return LoginResult{}, err
		}
		loginsTotal.WithLabelValues("invalid").Inc()
		return LoginResult{}, ErrInvalidCredentials
	case err != nil:
		loginsTotal.WithLabelValues("error").Inc()
		return LoginResult{}, unavailable(err)
	}

	ok, err := s.hashes.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		loginsTotal.WithLabelValues("invalid").Inc()
		return LoginResult{}, ErrInvalidCredentials
	}

	role, err := s.store.FindRoleByID(ctx, user.RoleID)
	if err != nil {
		loginsTotal.WithLabelValues("error").Inc()
		return LoginResult{}, fmt.Errorf("load role %d: %w", user.RoleID, unavailable(err))
	}
	names, err := s.registry.FreshPermissionNames(ctx, role.ID)
	if err != nil {
		loginsTotal.WithLabelValues("error").Inc()
		return LoginResult{}, err
	}
	token, expiresAt, err := s.issuer.Issue(user, role, names)
	if err != nil {
		loginsTotal.WithLabelValues("error").Inc()
		return LoginResult{}, err
	}
	loginsTotal.WithLabelValues("ok").Inc()
	s.logger.InfoContext(ctx, "login succeeded",
		slog.Int64("user_id", user.ID),
		slog.String("role", role.Name),
		slog.Int("permissions", len(names)),
	)
	return LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      summarize(user, role.Name),
	}, nil
}

// Register creates a user. The email pre-check gives a fast answer; the
// store's unique constraint settles concurrent registrations.
func (s *AuthenticationService) Register(ctx context.Context, reg Registration) (UserSummary, error) {
	reg, err := validateRegistration(reg)
	if err != nil {
		return UserSummary{}, err
	}
	role, err := s.findRole(ctx, reg.RoleID)
	if err != nil {
		return UserSummary{}, err
	}
	if err := s.ensureEmailFree(ctx, reg.Email, 0); err != nil {
		return UserSummary{}, err
	}
	hash, err := s.hashes.Hash(ctx, reg.Password)
	if err != nil {
		return UserSummary{}, err
	}
	user, err := s.store.InsertUser(ctx, User{
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		Email:        reg.Email,
		PasswordHash: hash,
		RoleID:       role.ID,
	})
	switch {
	case errors.Is(err, ErrConflict):
		return UserSummary{}, ErrEmailAlreadyExists
	case errors.Is(err, ErrNotFound):
		return UserSummary{}, ErrRoleNotFound
	case err != nil:
		return UserSummary{}, unavailable(err)
	}
	s.logger.InfoContext(ctx, "user registered", slog.Int64("user_id", user.ID), slog.String("role", role.Name))
	return summarize(user, role.Name), nil
}

// GetUser returns the summary of user id.
func (s *AuthenticationService) GetUser(ctx context.Context, id int64) (UserSummary, error) {
	user, err := s.findUser(ctx, id)
	if err != nil {
		return UserSummary{}, err
	}
	role, err := s.store.FindRoleByID(ctx, user.RoleID)
	if err != nil {
		return UserSummary{}, unavailable(err)
	}
	return summarize(user, role.Name), nil
}

// ListUsers returns every user.
func (s *AuthenticationService) ListUsers(ctx context.Context) ([]UserSummary, error) {
	users, err := s.store.FindAllUsers(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	roles, err := s.store.FindAllRoles(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	names := make(map[int64]string, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
	}
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, summarize(u, names[u.RoleID]))
	}
	return out, nil
}

// UpdateUser replaces the profile of user id. The password is re-hashed
// only when a new one is supplied.
func (s *AuthenticationService) UpdateUser(ctx context.Context, id int64, upd UserUpdate) (UserSummary, error) {
	upd, err := validateUpdate(upd)
	if err != nil {
		return UserSummary{}, err
	}
	user, err := s.findUser(ctx, id)
	if err != nil {
		return UserSummary{}, err
	}
	role, err := s.findRole(ctx, upd.RoleID)
	if err != nil {
		return UserSummary{}, err
	}
	if upd.Email != user.Email {
		if err := s.ensureEmailFree(ctx, upd.Email, id); err != nil {
			return UserSummary{}, err
		}
	}
	user.FirstName = upd.FirstName
	user.LastName = upd.LastName
	user.Email = upd.Email
	user.RoleID = role.ID
	if upd.Password != "" {
		hash, err := s.hashes.Hash(ctx, upd.Password)
		if err != nil {
			return UserSummary{}, err
		}
		user.PasswordHash = hash
	}
	updated, err := s.store.UpdateUser(ctx, user)
	switch {
	case errors.Is(err, ErrConflict):
		return UserSummary{}, ErrEmailAlreadyExists
	case errors.Is(err, ErrNotFound):
		return UserSummary{}, ErrUserNotFound
	case err != nil:
		return UserSummary{}, unavailable(err)
	}
	return summarize(updated, role.Name), nil
}

// DeleteUser removes user id. Grants belong to roles and are untouched.
func (s *AuthenticationService) DeleteUser(ctx context.Context, id int64) error {
	err := s.store.DeleteUser(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrUserNotFound
	case err != nil:
		return unavailable(err)
	}
	s.logger.InfoContext(ctx, "user deleted", slog.Int64("user_id", id))
	return nil
}

func (s *AuthenticationService) findUser(ctx context.Context, id int64) (User, error) {
	user, err := s.store.FindUserByID(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return User{}, ErrUserNotFound
	case err != nil:
		return User{}, unavailable(err)
	}
	return user, nil
}

func (s *AuthenticationService) findRole(ctx context.Context, id int64) (Role, error) {
	role, err := s.store.FindRoleByID(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return Role{}, ErrRoleNotFound
	case err != nil:
		return Role{}, unavailable(err)
	}
	return role, nil
}

// ensureEmailFree fails when email belongs to a user other than self.
func (s *AuthenticationService) ensureEmailFree(ctx context.Context, email string, self int64) error {
	existing, err := s.store.FindUserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return unavailable(err)
	case existing.ID != self:
		return ErrEmailAlreadyExists
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(reg Registration) (Registration, error) {
	upd, err := validateUpdate(UserUpdate(reg))
	if err != nil {
		return Registration{}, err
	}
	if upd.Password == "" {
		return Registration{}, fmt.Errorf("%w: password is required", ErrValidation)
	}
	return Registration(upd), nil
}

func validateUpdate(upd UserUpdate) (UserUpdate, error) {
	upd.FirstName = strings.TrimSpace(upd.FirstName)
	upd.LastName = strings.TrimSpace(upd.LastName)
	upd.Email = normalizeEmail(upd.Email)
	if upd.Email == "" {
		return UserUpdate{}, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if addr, err := mail.ParseAddress(upd.Email); err != nil || addr.Address != upd.Email {
		return UserUpdate{}, fmt.Errorf("%w: email %q is not a valid address", ErrValidation, upd.Email)
	}
	if utf8.RuneCountInString(upd.FirstName) > maxNameLength || utf8.RuneCountInString(upd.LastName) > maxNameLength {
		return UserUpdate{}, fmt.Errorf("%w: names must be at most %d characters", ErrValidation, maxNameLength)
	}
	if upd.RoleID <= 0 {
		return UserUpdate{}, fmt.Errorf("%w: role_id is required", ErrValidation)
	}
	return upd, nil
}
