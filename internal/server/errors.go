package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	identitydomain "github.com/smallbiznis/orgkit/internal/identity/domain"
	invitationdomain "github.com/smallbiznis/orgkit/internal/invitation/domain"
	"github.com/smallbiznis/orgkit/internal/membership"
	orgdomain "github.com/smallbiznis/orgkit/internal/organization/domain"
	"github.com/smallbiznis/orgkit/internal/orgkind"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, identitydomain.ErrInvalidCredentials),
		errors.Is(err, identitydomain.ErrSessionNotFound):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "authentication required"}

	case errors.Is(err, orgdomain.ErrForbidden),
		errors.Is(err, invitationdomain.ErrSelfAccept),
		errors.Is(err, membership.ErrOwnershipRequired):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: err.Error()}

	case errors.Is(err, orgdomain.ErrNotFound),
		errors.Is(err, invitationdomain.ErrInvitationNotFound),
		errors.Is(err, identitydomain.ErrUserNotFound),
		errors.Is(err, membership.ErrOrganizationNotFound),
		errors.Is(err, membership.ErrMemberNotFound),
		errors.Is(err, membership.ErrOwnerNotFound),
		errors.Is(err, orgkind.ErrUnknownKind),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "resource not found"}

	case errors.Is(err, invitationdomain.ErrAlreadyClaimed):
		return http.StatusGone, errorPayload{Type: "gone", Message: "invitation already claimed"}

	case errors.Is(err, membership.ErrMemberExists):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: "member already exists"}

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, orgdomain.ErrInvalidName),
		errors.Is(err, orgdomain.ErrInvalidUser),
		errors.Is(err, orgdomain.ErrInvalidOrganization),
		errors.Is(err, invitationdomain.ErrInvalidEmail),
		errors.Is(err, invitationdomain.ErrInvalidToken),
		errors.Is(err, identitydomain.ErrInvalidRequest),
		errors.Is(err, identitydomain.ErrAmbiguousEmail),
		errors.Is(err, identitydomain.ErrAlreadyActive),
		errors.Is(err, membership.ErrOrganizationMismatch):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: err.Error()}

	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}
