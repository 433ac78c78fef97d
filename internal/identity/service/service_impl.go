package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/orgkit/internal/clock"
	"github.com/smallbiznis/orgkit/internal/config"
	"github.com/smallbiznis/orgkit/internal/identity/domain"
	"github.com/smallbiznis/orgkit/internal/identity/password"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const defaultSessionTTL = 24 * time.Hour

type service struct {
	log        *zap.Logger
	repo       domain.Repository
	sessions   domain.SessionRepository
	genID      *snowflake.Node
	clock      clock.Clock
	sessionTTL time.Duration
}

func New(log *zap.Logger, repo domain.Repository, sessions domain.SessionRepository, genID *snowflake.Node, clk clock.Clock, cfg config.Config) domain.Service {
	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &service{
		log:        log,
		repo:       repo,
		sessions:   sessions,
		genID:      genID,
		clock:      clk,
		sessionTTL: ttl,
	}
}

func (s *service) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || strings.TrimSpace(req.Password) == "" {
		return nil, domain.ErrInvalidRequest
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = uuid.NewString()
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	user := &domain.User{
		ID:                  s.genID.Generate(),
		Username:            username,
		Email:               email,
		PasswordHash:        &hash,
		Active:              true,
		LastPasswordChanged: &now,
		Metadata:            datatypes.JSONMap{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *service) CreateDormant(ctx context.Context, email string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, domain.ErrInvalidRequest
	}

	// The throwaway password is never communicated; the account stays
	// unusable until activation sets real credentials.
	hash, err := password.Hash(randomSecret())
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	user := &domain.User{
		ID:           s.genID.Generate(),
		Username:     uuid.NewString(),
		Email:        email,
		PasswordHash: &hash,
		Active:       false,
		Metadata:     datatypes.JSONMap{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	users, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	switch len(users) {
	case 0:
		return nil, domain.ErrUserNotFound
	case 1:
		return &users[0], nil
	default:
		return nil, domain.ErrAmbiguousEmail
	}
}

func (s *service) Activate(ctx context.Context, id snowflake.ID, username, pass string) (*domain.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Active {
		return nil, domain.ErrAlreadyActive
	}
	if strings.TrimSpace(pass) == "" {
		return nil, domain.ErrInvalidRequest
	}

	hash, err := password.Hash(pass)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if username = strings.TrimSpace(username); username != "" {
		user.Username = username
	}
	user.PasswordHash = &hash
	user.Active = true
	user.LastPasswordChanged = &now
	user.UpdatedAt = now
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *service) SetPassword(ctx context.Context, id snowflake.ID, pass string) error {
	if strings.TrimSpace(pass) == "" {
		return domain.ErrInvalidRequest
	}

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	hash, err := password.Hash(pass)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	user.PasswordHash = &hash
	user.LastPasswordChanged = &now
	user.UpdatedAt = now
	return s.repo.Update(ctx, user)
}

func (s *service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	user, err := s.FindByEmail(ctx, req.Email)
	if err != nil {
		if err == domain.ErrUserNotFound {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.Active || user.PasswordHash == nil || !password.Verify(req.Password, *user.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	rawToken := randomSecret()
	now := s.clock.Now()
	session := &domain.Session{
		ID:               s.genID.Generate(),
		UserID:           user.ID,
		SessionTokenHash: hashToken(rawToken),
		UserAgent:        req.UserAgent,
		IPAddress:        req.IPAddress,
		ExpiresAt:        now.Add(s.sessionTTL),
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	return &domain.LoginResult{
		User:      user,
		Session:   session,
		RawToken:  rawToken,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *service) Authenticate(ctx context.Context, rawToken string) (*domain.Session, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, domain.ErrSessionNotFound
	}

	session, err := s.sessions.GetByTokenHash(ctx, hashToken(rawToken))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if session.RevokedAt != nil || now.After(session.ExpiresAt) {
		return nil, domain.ErrSessionNotFound
	}

	if err := s.sessions.Touch(ctx, session.ID, now); err != nil {
		s.log.Warn("failed to touch session", zap.Error(err))
	}
	return session, nil
}

func (s *service) Logout(ctx context.Context, rawToken string) error {
	session, err := s.sessions.GetByTokenHash(ctx, hashToken(rawToken))
	if err != nil {
		if err == domain.ErrSessionNotFound {
			return nil
		}
		return err
	}
	return s.sessions.Revoke(ctx, session.ID, s.clock.Now())
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is unrecoverable.
		panic(err)
	}
	return hex.EncodeToString(buf)
}
