// Package orgtoken issues and verifies the time-boxed, single-purpose tokens
// used by invitation activation links. A token is an HMAC over mutable
// subject state, so consuming the invitation (activating the identity or
// changing its password) invalidates every outstanding token by itself.
package orgtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orgkit/internal/clock"
)

// ErrMissingSecret is fatal at start-up; tokens cannot be issued or verified
// without a signing key.
var ErrMissingSecret = errors.New("orgtoken: signing secret is not configured")

// DefaultTTL is deliberately longer than a password-reset window since
// invitations commonly sit unread for days.
const DefaultTTL = 7 * 24 * time.Hour

// Config configures the token service.
type Config struct {
	Secret string
	TTL    time.Duration
}

// SubjectState captures the mutable identity fields a token binds to.
type SubjectState struct {
	ID              snowflake.ID
	Email           string
	Active          bool
	PasswordChanged *time.Time
}

// Service signs and checks subject-state tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// New validates the configuration and returns a token service.
func New(cfg Config, clk clock.Clock) (*Service, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clk,
	}, nil
}

// TTL returns the configured validity window.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue returns a token of the form "<base36 timestamp>-<hex mac>".
func (s *Service) Issue(state SubjectState) string {
	ts := s.clock.Now().Unix()
	return s.issueAt(state, ts)
}

func (s *Service) issueAt(state SubjectState, ts int64) string {
	stamp := strconv.FormatInt(ts, 36)
	return stamp + "-" + s.mac(state, stamp)
}

// Verify checks a token against the subject's current state. An invalid
// token and a token for a nonexistent or mismatched subject fail the same
// way, by mac comparison, so callers cannot distinguish the two.
func (s *Service) Verify(state SubjectState, token string) bool {
	stamp, mac, ok := strings.Cut(strings.TrimSpace(token), "-")
	if !ok {
		return false
	}

	expected := s.mac(state, stamp)
	if subtle.ConstantTimeCompare([]byte(mac), []byte(expected)) != 1 {
		return false
	}

	ts, err := strconv.ParseInt(stamp, 36, 64)
	if err != nil {
		return false
	}
	issued := time.Unix(ts, 0)
	now := s.clock.Now()
	if now.Before(issued.Add(-time.Minute)) {
		return false
	}
	return now.Before(issued.Add(s.ttl))
}

func (s *Service) mac(state SubjectState, stamp string) string {
	var changed int64
	if state.PasswordChanged != nil {
		changed = state.PasswordChanged.Unix()
	}
	payload := fmt.Sprintf("%s|%d|%s|%t|%d",
		stamp, state.ID, strings.ToLower(strings.TrimSpace(state.Email)), state.Active, changed)

	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
