package organization

import (
	"github.com/smallbiznis/orgkit/internal/organization/domain"
	"github.com/smallbiznis/orgkit/internal/orgkind"
)

// RegisterKind declares the default organization kind. Hosts that need
// additional kinds declare their own alongside this one, each with its own
// tables.
func RegisterKind(registry *orgkind.Registry) (*orgkind.Kind, error) {
	return registry.Register(orgkind.Definition{
		Namespace:    "orgs",
		Name:         "organization",
		Organization: func() orgkind.Organization { return &domain.Organization{} },
		Member:       func() orgkind.Member { return &domain.OrganizationMember{} },
		Owner:        func() orgkind.Owner { return &domain.OrganizationOwner{} },
		Invitation:   func() orgkind.Invitation { return &domain.OrganizationInvitation{} },
	})
}
