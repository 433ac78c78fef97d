// Package invitation implements the invitation backends on top of the
// membership engine and the identity service.
package invitation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orgkit/internal/config"
	identitydomain "github.com/smallbiznis/orgkit/internal/identity/domain"
	"github.com/smallbiznis/orgkit/internal/invitation/domain"
	"github.com/smallbiznis/orgkit/internal/membership"
	obsmetrics "github.com/smallbiznis/orgkit/internal/observability/metrics"
	"github.com/smallbiznis/orgkit/internal/orgkind"
	"github.com/smallbiznis/orgkit/internal/orgtoken"
	"github.com/smallbiznis/orgkit/internal/providers/email"
	"github.com/smallbiznis/orgkit/internal/ratelimit"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type registrationBackend struct {
	db       *gorm.DB
	engine   *membership.Engine
	identity identitydomain.Service
	tokens   *orgtoken.Service
	mailer   *email.AsyncSender
	throttle *ratelimit.ReminderThrottle
	policy   *config.InvitationPolicyHolder
	metrics  *obsmetrics.Metrics
	baseURL  string
	log      *zap.Logger
}

func NewRegistrationBackend(
	db *gorm.DB,
	engine *membership.Engine,
	identity identitydomain.Service,
	tokens *orgtoken.Service,
	mailer *email.AsyncSender,
	throttle *ratelimit.ReminderThrottle,
	policy *config.InvitationPolicyHolder,
	cfg config.Config,
	metrics *obsmetrics.Metrics,
	log *zap.Logger,
) domain.RegistrationBackend {
	return &registrationBackend{
		db:       db,
		engine:   engine,
		identity: identity,
		tokens:   tokens,
		mailer:   mailer,
		throttle: throttle,
		policy:   policy,
		metrics:  metrics,
		baseURL:  cfg.PublicBaseURL,
		log:      log,
	}
}

func (b *registrationBackend) InviteByEmail(ctx context.Context, actorID snowflake.ID, org orgkind.Organization, emailAddr string) (*identitydomain.User, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if !strings.Contains(emailAddr, "@") {
		return nil, domain.ErrInvalidEmail
	}

	user, err := b.identity.FindByEmail(ctx, emailAddr)
	switch {
	case err == nil:
	case errors.Is(err, identitydomain.ErrUserNotFound):
		user, err = b.identity.CreateDormant(ctx, emailAddr)
		if err != nil {
			return nil, err
		}
	default:
		// Ambiguous emails and storage failures stop the invite outright.
		return nil, err
	}

	// Membership is created at invite time for dormant and active invitees
	// alike; a dormant invitee only lacks usable credentials, not the seat.
	if _, _, err := b.engine.GetOrAddMember(ctx, org, user.ID, false); err != nil {
		return nil, err
	}

	if user.Active {
		if b.policy.Get().NotifyActiveInvitees {
			b.mailer.SendTemplate([]string{user.Email}, email.TemplateNotification, map[string]any{
				"org_name":     org.GetName(),
				"inviter_name": b.inviterName(ctx, actorID),
				"org_url":      fmt.Sprintf("%s/%s/%s", b.baseURL, b.kindRoute(org), org.GetID()),
			})
			b.metrics.RecordInvitationSent(ctx, b.kindLabel(org), email.TemplateNotification)
		}
		return user, nil
	}

	b.mailer.SendTemplate([]string{user.Email}, email.TemplateInvitation, map[string]any{
		"org_name":     org.GetName(),
		"inviter_name": b.inviterName(ctx, actorID),
		"accept_url":   b.activationURL(org, user),
	})
	b.metrics.RecordInvitationSent(ctx, b.kindLabel(org), email.TemplateInvitation)
	return user, nil
}

func (b *registrationBackend) SendReminder(ctx context.Context, org orgkind.Organization, userID snowflake.ID) (bool, error) {
	user, err := b.identity.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.Active {
		return false, nil
	}

	key := fmt.Sprintf("%s:%s", b.kindRoute(org), user.ID)
	allowed, err := b.throttle.Allow(ctx, key)
	if err != nil {
		return false, err
	}
	if !allowed {
		return false, nil
	}

	b.mailer.SendTemplate([]string{user.Email}, email.TemplateReminder, map[string]any{
		"org_name":   org.GetName(),
		"accept_url": b.activationURL(org, user),
	})
	b.metrics.RecordInvitationSent(ctx, b.kindLabel(org), email.TemplateReminder)
	return true, nil
}

func (b *registrationBackend) ActivationToken(user *identitydomain.User) string {
	return b.tokens.Issue(subjectState(user))
}

func (b *registrationBackend) VerifyToken(user *identitydomain.User, token string) bool {
	return b.tokens.Verify(subjectState(user), token)
}

func (b *registrationBackend) Activate(ctx context.Context, userID snowflake.ID, token, username, password string) (*identitydomain.User, error) {
	user, err := b.identity.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !b.tokens.Verify(subjectState(user), token) {
		b.metrics.RecordActivation(ctx, "invalid_token")
		return nil, domain.ErrInvalidToken
	}

	activated, err := b.identity.Activate(ctx, userID, username, password)
	if err != nil {
		return nil, err
	}

	if err := b.activateOrganizations(ctx, userID); err != nil {
		return nil, err
	}
	b.metrics.RecordActivation(ctx, "activated")
	b.log.Info("identity activated", zap.String("user_id", userID.String()))
	return activated, nil
}

// activateOrganizations switches on inactive organizations the user is a
// member of, across every registered kind. Organizations created while the
// account was dormant stay parked until this runs.
func (b *registrationBackend) activateOrganizations(ctx context.Context, userID snowflake.ID) error {
	for _, kind := range b.engine.Registry().Kinds() {
		orgs, err := b.engine.OrganizationsOf(ctx, kind, userID)
		if err != nil {
			return err
		}
		for _, org := range orgs {
			if org.IsActive() {
				continue
			}
			org.SetActive(true)
			if err := b.db.WithContext(ctx).Save(org).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *registrationBackend) activationURL(org orgkind.Organization, user *identitydomain.User) string {
	return fmt.Sprintf("%s/%s/register/%s/%s",
		b.baseURL, b.kindRoute(org), user.ID, b.tokens.Issue(subjectState(user)))
}

func (b *registrationBackend) kindRoute(org orgkind.Organization) string {
	kind, _, err := b.engine.Registry().KindOf(org)
	if err != nil {
		return "organization"
	}
	return kind.Name()
}

func (b *registrationBackend) kindLabel(org orgkind.Organization) string {
	kind, _, err := b.engine.Registry().KindOf(org)
	if err != nil {
		return "unknown"
	}
	return kind.Qualified()
}

func (b *registrationBackend) inviterName(ctx context.Context, actorID snowflake.ID) string {
	actor, err := b.identity.GetByID(ctx, actorID)
	if err != nil {
		return "A teammate"
	}
	return actor.Username
}

func subjectState(user *identitydomain.User) orgtoken.SubjectState {
	return orgtoken.SubjectState{
		ID:              user.ID,
		Email:           user.Email,
		Active:          user.Active,
		PasswordChanged: user.LastPasswordChanged,
	}
}
