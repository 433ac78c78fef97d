package invitation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/orgkit/internal/config"
	identitydomain "github.com/smallbiznis/orgkit/internal/identity/domain"
	"github.com/smallbiznis/orgkit/internal/invitation/domain"
	"github.com/smallbiznis/orgkit/internal/membership"
	obsmetrics "github.com/smallbiznis/orgkit/internal/observability/metrics"
	"github.com/smallbiznis/orgkit/internal/orgkind"
	"github.com/smallbiznis/orgkit/internal/providers/email"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type modelBackend struct {
	db       *gorm.DB
	engine   *membership.Engine
	identity identitydomain.Service
	mailer   *email.AsyncSender
	genID    *snowflake.Node
	metrics  *obsmetrics.Metrics
	baseURL  string
	log      *zap.Logger
}

func NewModelBackend(
	db *gorm.DB,
	engine *membership.Engine,
	identity identitydomain.Service,
	mailer *email.AsyncSender,
	genID *snowflake.Node,
	cfg config.Config,
	metrics *obsmetrics.Metrics,
	log *zap.Logger,
) domain.ModelBackend {
	return &modelBackend{
		db:       db,
		engine:   engine,
		identity: identity,
		mailer:   mailer,
		genID:    genID,
		metrics:  metrics,
		baseURL:  cfg.PublicBaseURL,
		log:      log,
	}
}

func (b *modelBackend) Invite(ctx context.Context, actorID snowflake.ID, org orgkind.Organization, emailAddr string) (orgkind.Invitation, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if !strings.Contains(emailAddr, "@") {
		return nil, domain.ErrInvalidEmail
	}

	kind, _, err := b.engine.Registry().KindOf(org)
	if err != nil {
		return nil, err
	}
	if !kind.HasInvitations() {
		return nil, fmt.Errorf("invitation: kind %s has no invitation type", kind.Qualified())
	}

	inv := kind.NewInvitation()
	inv.SetID(b.genID.Generate())
	inv.SetOrgID(org.GetID())
	inv.SetGUID(uuid.NewString())
	inv.SetEmail(emailAddr)
	inv.SetInvitedByID(actorID)
	if err := b.db.WithContext(ctx).Create(inv).Error; err != nil {
		return nil, err
	}

	inviterName := "A teammate"
	if actor, err := b.identity.GetByID(ctx, actorID); err == nil {
		inviterName = actor.Username
	}
	b.mailer.SendTemplate([]string{emailAddr}, email.TemplateInvitation, map[string]any{
		"org_name":     org.GetName(),
		"inviter_name": inviterName,
		"accept_url":   fmt.Sprintf("%s/%s/invitations/%s", b.baseURL, kind.Name(), inv.GetGUID()),
	})

	b.metrics.RecordInvitationSent(ctx, kind.Qualified(), email.TemplateInvitation)
	b.log.Info("invitation created",
		zap.String("org_id", org.GetID().String()),
		zap.String("guid", inv.GetGUID()),
	)
	return inv, nil
}

func (b *modelBackend) Resolve(ctx context.Context, kind *orgkind.Kind, guid string) (orgkind.Invitation, error) {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return nil, domain.ErrInvitationNotFound
	}
	inv := kind.NewInvitation()
	err := b.db.WithContext(ctx).First(inv, "guid = ?", guid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInvitationNotFound
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (b *modelBackend) Claim(ctx context.Context, kind *orgkind.Kind, guid string, userID snowflake.ID) (orgkind.Invitation, error) {
	inv, err := b.Resolve(ctx, kind, guid)
	if err != nil {
		return nil, err
	}
	if inv.GetInvitedByID() == userID {
		return nil, domain.ErrSelfAccept
	}
	if claimed := inv.GetInviteeID(); claimed != nil {
		if *claimed == userID {
			return inv, nil
		}
		return nil, domain.ErrAlreadyClaimed
	}

	// First writer wins; everyone else observes the claimed row.
	res := b.db.WithContext(ctx).
		Model(kind.NewInvitation()).
		Where("guid = ? AND invitee_id IS NULL", guid).
		Update("invitee_id", userID)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		inv, err = b.Resolve(ctx, kind, guid)
		if err != nil {
			return nil, err
		}
		if claimed := inv.GetInviteeID(); claimed != nil && *claimed == userID {
			return inv, nil
		}
		return nil, domain.ErrAlreadyClaimed
	}

	org, err := b.engine.GetOrganization(ctx, kind, inv.GetOrgID())
	if err != nil {
		return nil, err
	}
	if _, _, err := b.engine.GetOrAddMember(ctx, org, userID, false); err != nil {
		return nil, err
	}

	b.metrics.RecordInvitationClaimed(ctx, kind.Qualified())
	return b.Resolve(ctx, kind, guid)
}

func (b *modelBackend) RegisterAndClaim(ctx context.Context, kind *orgkind.Kind, guid string, req identitydomain.CreateUserRequest) (*identitydomain.User, error) {
	inv, err := b.Resolve(ctx, kind, guid)
	if err != nil {
		return nil, err
	}
	if inv.GetInviteeID() != nil {
		return nil, domain.ErrAlreadyClaimed
	}
	if req.Email == "" {
		req.Email = inv.GetEmail()
	}

	user, err := b.identity.CreateUser(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := b.Claim(ctx, kind, guid, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (b *modelBackend) ListByOrg(ctx context.Context, org orgkind.Organization) ([]orgkind.Invitation, error) {
	kind, _, err := b.engine.Registry().KindOf(org)
	if err != nil {
		return nil, err
	}
	if !kind.HasInvitations() {
		return nil, nil
	}

	var ids []snowflake.ID
	if err := b.db.WithContext(ctx).
		Table(kind.Table(orgkind.RoleInvitation)).
		Where("org_id = ?", org.GetID()).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	invites := make([]orgkind.Invitation, 0, len(ids))
	for _, id := range ids {
		inv := kind.NewInvitation()
		if err := b.db.WithContext(ctx).First(inv, "id = ?", id).Error; err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}
	return invites, nil
}
