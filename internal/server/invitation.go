package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	identitydomain "github.com/smallbiznis/orgkit/internal/identity/domain"
	invitationdomain "github.com/smallbiznis/orgkit/internal/invitation/domain"
	obscontext "github.com/smallbiznis/orgkit/internal/observability/context"
	orgdomain "github.com/smallbiznis/orgkit/internal/organization/domain"
	"github.com/smallbiznis/orgkit/internal/orgkind"
)

type inviteRequest struct {
	Email string `json:"email" binding:"required"`
}

type remindRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type activateRequest struct {
	Username string `json:"username"`
	Password string `json:"password" binding:"required"`
}

type registerClaimRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required"`
}

type invitationResponse struct {
	ID          string  `json:"id"`
	GUID        string  `json:"guid"`
	Email       string  `json:"email"`
	OrgID       string  `json:"org_id"`
	OrgName     string  `json:"org_name,omitempty"`
	InvitedByID string  `json:"invited_by_id"`
	InvitedBy   string  `json:"invited_by,omitempty"`
	InviteeID   *string `json:"invitee_id,omitempty"`
}

func newInvitationResponse(invite orgkind.Invitation) invitationResponse {
	resp := invitationResponse{
		ID:          invite.GetID().String(),
		GUID:        invite.GetGUID(),
		Email:       invite.GetEmail(),
		OrgID:       invite.GetOrgID().String(),
		InvitedByID: invite.GetInvitedByID().String(),
	}
	if inviteeID := invite.GetInviteeID(); inviteeID != nil {
		value := inviteeID.String()
		resp.InviteeID = &value
	}
	return resp
}

// resolveOrg loads the organization record behind a path parameter. Malformed
// ids read as not found so the API does not leak id shape.
func (s *Server) resolveOrg(c *gin.Context, kind *orgkind.Kind, raw string) (orgkind.Organization, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		AbortWithError(c, orgdomain.ErrNotFound)
		return nil, false
	}
	org, err := s.members.GetOrganization(c.Request.Context(), kind, id)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	c.Request = c.Request.WithContext(obscontext.WithOrgID(c.Request.Context(), id.String()))
	return org, true
}

func (s *Server) requireOrgAdmin(c *gin.Context, org orgkind.Organization, actorID snowflake.ID) bool {
	isAdmin, err := s.members.IsAdmin(c.Request.Context(), org, actorID)
	if err != nil {
		AbortWithError(c, err)
		return false
	}
	if !isAdmin {
		AbortWithError(c, orgdomain.ErrForbidden)
		return false
	}
	return true
}

func (s *Server) kindFromRoute(c *gin.Context) (*orgkind.Kind, bool) {
	kind, err := s.registry.LookupRoute(c.Param("kind"))
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	return kind, true
}

func (s *Server) InviteByEmail(c *gin.Context) {
	actorID, ok := s.userIDFromSession(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	org, ok := s.resolveOrg(c, s.defaultKind, c.Param("orgID"))
	if !ok {
		return
	}
	if !s.requireOrgAdmin(c, org, actorID) {
		return
	}

	user, err := s.registration.InviteByEmail(c.Request.Context(), actorID, org, strings.TrimSpace(req.Email))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"user":   newUserResponse(user),
		"active": user.Active,
	})
}

func (s *Server) SendReminder(c *gin.Context) {
	actorID, ok := s.userIDFromSession(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req remindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	org, ok := s.resolveOrg(c, s.defaultKind, c.Param("orgID"))
	if !ok {
		return
	}
	if !s.requireOrgAdmin(c, org, actorID) {
		return
	}

	sent, err := s.registration.SendReminder(c.Request.Context(), org, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sent": sent})
}

func (s *Server) CreateInvitation(c *gin.Context) {
	actorID, ok := s.userIDFromSession(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	org, ok := s.resolveOrg(c, s.defaultKind, c.Param("orgID"))
	if !ok {
		return
	}
	if !s.requireOrgAdmin(c, org, actorID) {
		return
	}

	invite, err := s.invitations.Invite(c.Request.Context(), actorID, org, strings.TrimSpace(req.Email))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newInvitationResponse(invite))
}

func (s *Server) ListInvitations(c *gin.Context) {
	actorID, ok := s.userIDFromSession(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	org, ok := s.resolveOrg(c, s.defaultKind, c.Param("orgID"))
	if !ok {
		return
	}
	if !s.requireOrgAdmin(c, org, actorID) {
		return
	}

	invites, err := s.invitations.ListByOrg(c.Request.Context(), org)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]invitationResponse, 0, len(invites))
	for _, invite := range invites {
		items = append(items, newInvitationResponse(invite))
	}
	c.JSON(http.StatusOK, gin.H{"invitations": items})
}

// ResolveInvitation returns the join-page payload: the invitation plus the
// organization name and the inviter, so the page can say who invited whom.
func (s *Server) ResolveInvitation(c *gin.Context) {
	kind, ok := s.kindFromRoute(c)
	if !ok {
		return
	}

	invite, err := s.invitations.Resolve(c.Request.Context(), kind, c.Param("guid"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := newInvitationResponse(invite)
	if org, err := s.members.GetOrganization(c.Request.Context(), kind, invite.GetOrgID()); err == nil {
		resp.OrgName = org.GetName()
	}
	if inviter, err := s.identitySvc.GetByID(c.Request.Context(), invite.GetInvitedByID()); err == nil {
		resp.InvitedBy = inviter.Username
	}

	c.JSON(http.StatusOK, resp)
}

// ClaimInvitation accepts an invitation. An authenticated caller claims with
// their session identity; an anonymous caller must register in the same
// request.
func (s *Server) ClaimInvitation(c *gin.Context) {
	kind, ok := s.kindFromRoute(c)
	if !ok {
		return
	}
	guid := c.Param("guid")

	if rawToken := sessionToken(c); rawToken != "" {
		session, err := s.identitySvc.Authenticate(c.Request.Context(), rawToken)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		invite, err := s.invitations.Claim(c.Request.Context(), kind, guid, session.UserID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, newInvitationResponse(invite))
		return
	}

	var req registerClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	user, err := s.invitations.RegisterAndClaim(c.Request.Context(), kind, guid, identitydomain.CreateUserRequest{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUserResponse(user))
}

// activationOutcome collapses the leaky activation failures into not found.
// Unknown ids, forged or spent tokens and already-active identities must all
// read the same, so the endpoint never reveals which identities exist.
func activationOutcome(err error) error {
	switch {
	case errors.Is(err, identitydomain.ErrUserNotFound),
		errors.Is(err, invitationdomain.ErrInvalidToken),
		errors.Is(err, identitydomain.ErrAlreadyActive):
		return orgdomain.ErrNotFound
	default:
		return err
	}
}

// CheckActivation validates an activation link without consuming it, so the
// registration page can decide whether to render the form.
func (s *Server) CheckActivation(c *gin.Context) {
	if _, ok := s.kindFromRoute(c); !ok {
		return
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(c.Param("userID")))
	if err != nil {
		AbortWithError(c, orgdomain.ErrNotFound)
		return
	}
	user, err := s.identitySvc.GetByID(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, activationOutcome(err))
		return
	}
	if user.Active || !s.registration.VerifyToken(user, c.Param("token")) {
		AbortWithError(c, orgdomain.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true, "email": user.Email})
}

func (s *Server) Activate(c *gin.Context) {
	if _, ok := s.kindFromRoute(c); !ok {
		return
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(c.Param("userID")))
	if err != nil {
		AbortWithError(c, orgdomain.ErrNotFound)
		return
	}

	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	user, err := s.registration.Activate(c.Request.Context(), userID, c.Param("token"), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		AbortWithError(c, activationOutcome(err))
		return
	}

	c.JSON(http.StatusOK, newUserResponse(user))
}
