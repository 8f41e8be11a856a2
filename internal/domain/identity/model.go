package identity

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/auth"
)

const minPasswordLength = 8

// User is an operator account. The password hash never leaves the server.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Role         auth.Role  `json:"role"`
	IsActive     bool       `json:"isActive"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (u *User) Principal() auth.Principal {
	return auth.Principal{UserID: u.ID.String(), Username: u.Username, Role: u.Role}
}

// RegisterInput is the body of POST /auth/register.
type RegisterInput struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      auth.Role `json:"role"`
}

func (in *RegisterInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
}

func (in *RegisterInput) Validate() error {
	var errs apperror.FieldErrors
	errs.Required("username", in.Username)
	if in.Email == "" {
		errs.Add("email", "is required")
	} else if _, err := mail.ParseAddress(in.Email); err != nil {
		errs.Add("email", "is not a valid email address")
	}
	if len(in.Password) < minPasswordLength {
		errs.Add("password", "must be at least 8 characters")
	}
	errs.Required("firstName", in.FirstName)
	errs.Required("lastName", in.LastName)
	if in.Role != "" && !in.Role.Valid() {
		errs.Add("role", "must be one of admin, lab_manager, technician, doctor, receptionist")
	}
	return errs.Err()
}

// LoginInput is the body of POST /auth/login.
type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	User      *User     `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// UserPatch holds the account fields an administrator may change.
type UserPatch struct {
	FirstName *string    `json:"firstName"`
	LastName  *string    `json:"lastName"`
	Role      *auth.Role `json:"role"`
	IsActive  *bool      `json:"isActive"`
}

func (p *UserPatch) apply(u *User) error {
	var errs apperror.FieldErrors
	if p.FirstName != nil {
		errs.Required("firstName", *p.FirstName)
		u.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		errs.Required("lastName", *p.LastName)
		u.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.Role != nil {
		if !p.Role.Valid() {
			errs.Add("role", "must be one of admin, lab_manager, technician, doctor, receptionist")
		}
		u.Role = *p.Role
	}
	if p.IsActive != nil {
		u.IsActive = *p.IsActive
	}
	return errs.Err()
}
