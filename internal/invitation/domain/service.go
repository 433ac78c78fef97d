// Package domain declares the two invitation backends: the registration
// backend keys on the invitee's email and a signed activation token, the
// model backend tracks every invite as a row with an opaque guid.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/smallbiznis/orgkit/internal/identity/domain"
	"github.com/smallbiznis/orgkit/internal/orgkind"
)

var (
	ErrInvalidEmail = errors.New("invalid_email")
	// ErrInvalidToken covers expired, tampered and state-stale activation
	// tokens alike. Callers get no finer diagnosis.
	ErrInvalidToken       = errors.New("invalid_token")
	ErrInvitationNotFound = errors.New("invitation_not_found")
	// ErrAlreadyClaimed is returned when a different user already accepted
	// the invitation. Re-claims by the same user succeed silently.
	ErrAlreadyClaimed = errors.New("invitation_already_claimed")
	// ErrSelfAccept rejects the inviter accepting their own invitation.
	ErrSelfAccept = errors.New("inviter_cannot_accept")
)

// RegistrationBackend invites by email with no invitation record. Dormant
// identities are parked until the activation token link is used.
type RegistrationBackend interface {
	// InviteByEmail resolves the email to an identity, creating a dormant
	// one when none exists, and adds active users to the organization
	// directly.
	InviteByEmail(ctx context.Context, actorID snowflake.ID, org orgkind.Organization, email string) (*identitydomain.User, error)
	// SendReminder re-sends the activation link. It reports false without
	// sending when the user already activated or the throttle suppressed it.
	SendReminder(ctx context.Context, org orgkind.Organization, userID snowflake.ID) (bool, error)
	// ActivationToken issues a fresh token bound to the user's current
	// state.
	ActivationToken(user *identitydomain.User) string
	// VerifyToken checks a token against the user's current state.
	VerifyToken(user *identitydomain.User, token string) bool
	// Activate finalizes the dormant identity behind a valid token and
	// switches on any organizations parked on it.
	Activate(ctx context.Context, userID snowflake.ID, token, username, password string) (*identitydomain.User, error)
}

// ModelBackend tracks invitations as rows of the kind's invitation type.
type ModelBackend interface {
	Invite(ctx context.Context, actorID snowflake.ID, org orgkind.Organization, email string) (orgkind.Invitation, error)
	Resolve(ctx context.Context, kind *orgkind.Kind, guid string) (orgkind.Invitation, error)
	// Claim accepts the invitation for the user. Claiming is idempotent per
	// user and permanent across users.
	Claim(ctx context.Context, kind *orgkind.Kind, guid string, userID snowflake.ID) (orgkind.Invitation, error)
	// RegisterAndClaim creates an active identity and claims in one flow,
	// for invitees with no account.
	RegisterAndClaim(ctx context.Context, kind *orgkind.Kind, guid string, req identitydomain.CreateUserRequest) (*identitydomain.User, error)
	ListByOrg(ctx context.Context, org orgkind.Organization) ([]orgkind.Invitation, error)
}
