// Package identity manages operator accounts and issues access tokens.
package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/auth"
)

var errBadCredentials = apperror.Unauthorized("invalid username or password")

type Service struct {
	users  UserRepository
	tokens *auth.TokenManager
	logger zerolog.Logger
	now    func() time.Time
	hash   func(string) (string, error)
}

func NewService(users UserRepository, tokens *auth.TokenManager, logger zerolog.Logger) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		logger: logger.With().Str("component", "identity").Logger(),
		now:    time.Now,
		hash:   auth.HashPassword,
	}
}

// CreateUser stores a new account without any caller checks. The CLI uses it
// to bootstrap administrators.
func (s *Service) CreateUser(ctx context.Context, in RegisterInput) (*User, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	u := &User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         in.Role,
		IsActive:     true,
	}
	if u.Role == "" {
		u.Role = auth.RoleTechnician
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("username", u.Username).Str("role", string(u.Role)).Msg("user created")
	return u, nil
}

// Register creates an account on behalf of caller. It is open while no
// accounts exist, and the first account is always an admin. Afterwards the
// caller needs user:manage.
func (s *Service) Register(ctx context.Context, in RegisterInput, caller *auth.Principal) (*User, error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		in.Role = auth.RoleAdmin
		return s.CreateUser(ctx, in)
	}
	if caller == nil {
		return nil, apperror.Unauthorized("authentication required")
	}
	if !auth.Allowed(caller.Role, auth.ActionUserManage) {
		return nil, apperror.Forbidden("permission denied: " + string(auth.ActionUserManage))
	}
	return s.CreateUser(ctx, in)
}

// Login verifies credentials and issues a token. Unknown users, wrong
// passwords and disabled accounts are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	var errs apperror.FieldErrors
	errs.Required("username", in.Username)
	errs.Required("password", in.Password)
	if err := errs.Err(); err != nil {
		return nil, err
	}

	u, err := s.users.GetByUsername(ctx, in.Username)
	if apperror.Is(err, apperror.KindNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(in.Password, u.PasswordHash) || !u.IsActive {
		s.logger.Info().Str("username", in.Username).Bool("active", u.IsActive).Msg("login rejected")
		return nil, errBadCredentials
	}

	token, expires, err := s.tokens.Issue(u.Principal())
	if err != nil {
		return nil, apperror.Internal(err)
	}
	now := s.now()
	if err := s.users.TouchLogin(ctx, u.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("record last login")
	} else {
		u.LastLoginAt = &now
	}
	return &LoginResult{User: u, Token: token, ExpiresAt: expires}, nil
}

// Me resolves the caller's account. Principals not backed by a stored
// account are described from the token alone.
func (s *Service) Me(ctx context.Context, p auth.Principal) (*User, error) {
	id, err := uuid.Parse(p.UserID)
	if err != nil {
		return &User{Username: p.Username, Role: p.Role, IsActive: true}, nil
	}
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, limit, offset)
}

// UpdateUser applies an administrative change. Callers cannot deactivate
// their own account.
func (s *Service) UpdateUser(ctx context.Context, id uuid.UUID, patch UserPatch, caller *uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != nil && *caller == id && patch.IsActive != nil && !*patch.IsActive {
		return nil, apperror.Invalid("isActive", "cannot deactivate your own account")
	}
	if err := patch.apply(u); err != nil {
		return nil, err
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
