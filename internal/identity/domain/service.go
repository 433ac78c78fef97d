package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrUserNotFound       = errors.New("user_not_found")
	// ErrAmbiguousEmail is returned when more than one identity shares an
	// email address. Invite-by-email must fail explicitly rather than pick
	// one.
	ErrAmbiguousEmail  = errors.New("ambiguous_email")
	ErrAlreadyActive   = errors.New("already_active")
	ErrSessionNotFound = errors.New("session_not_found")
)

type CreateUserRequest struct {
	Username string
	Email    string
	Password string
}

type LoginRequest struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

type LoginResult struct {
	User      *User
	Session   *Session
	RawToken  string
	ExpiresAt time.Time
}

type Service interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	// CreateDormant creates an inactive identity for an invited email with a
	// generated username and an unusable random password.
	CreateDormant(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id snowflake.ID) (*User, error)
	// FindByEmail returns ErrUserNotFound when no identity matches and
	// ErrAmbiguousEmail when several do.
	FindByEmail(ctx context.Context, email string) (*User, error)
	// Activate finalizes a dormant identity: sets its credentials and flips
	// the active flag in one write. ErrAlreadyActive when already active.
	Activate(ctx context.Context, id snowflake.ID, username, password string) (*User, error)
	SetPassword(ctx context.Context, id snowflake.ID, password string) error

	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Authenticate(ctx context.Context, rawToken string) (*Session, error)
	Logout(ctx context.Context, rawToken string) error
}

type Repository interface {
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id snowflake.ID) (*User, error)
	FindByEmail(ctx context.Context, email string) ([]User, error)
}

type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByTokenHash(ctx context.Context, hash string) (*Session, error)
	Revoke(ctx context.Context, id snowflake.ID, at time.Time) error
	Touch(ctx context.Context, id snowflake.ID, at time.Time) error
}
