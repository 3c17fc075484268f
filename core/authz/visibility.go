package authz

import (
	"context"
	"fmt"
	"sort"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"restotrack/core/store"
	"restotrack/core/utils"
)

// Incident visibility is the same org/assignment scoping the rest of
// the application uses: org members see their organization's
// incidents, plus anyone explicitly assigned (e.g. a contractor from
// another organization).
const rbacModel = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[role_definition]
g = _, _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub, r.dom) && r.dom == p.dom && r.obj == p.obj && r.act == p.act
`

type Resolver struct {
	enforcer  *casbin.Enforcer
	users     store.UsersStore
	incidents store.IncidentsStore
	logger    *utils.Logger
}

func NewResolver(users store.UsersStore, incidents store.IncidentsStore, logger *utils.Logger) (*Resolver, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	return &Resolver{enforcer: e, users: users, incidents: incidents, logger: logger}, nil
}

func userSubject(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

func orgDomain(orgID int64) string {
	return fmt.Sprintf("org:%d", orgID)
}

// GrantOrgMembership registers a user as a member of an organization
// and makes sure the member role can view that org's incidents.
func (r *Resolver) GrantOrgMembership(userID, organizationID int64) error {
	dom := orgDomain(organizationID)
	if _, err := r.enforcer.AddPolicy("member", dom, "incidents", "view"); err != nil {
		return err
	}
	_, err := r.enforcer.AddGroupingPolicy(userSubject(userID), "member", dom)
	return err
}

// SyncOrganization loads all active users of an organization into the
// enforcer; called at bootstrap and after membership changes.
func (r *Resolver) SyncOrganization(ctx context.Context, organizationID int64) error {
	users, err := r.users.ListOrganizationUsers(ctx, organizationID)
	if err != nil {
		return err
	}
	for _, u := range users {
		if err := r.GrantOrgMembership(u.ID, organizationID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) CanView(ctx context.Context, userID int64, inc *store.Incident) (bool, error) {
	if inc == nil {
		return false, nil
	}
	ok, err := r.enforcer.Enforce(userSubject(userID), orgDomain(inc.OrganizationID), "incidents", "view")
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	assigned, err := r.incidents.ListAssignedUserIDs(ctx, inc.ID)
	if err != nil {
		return false, err
	}
	for _, id := range assigned {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// VisibleUserIDs returns every user permitted to view the incident:
// org members allowed by policy plus directly assigned users.
func (r *Resolver) VisibleUserIDs(ctx context.Context, inc *store.Incident) ([]int64, error) {
	if inc == nil {
		return nil, nil
	}
	seen := map[int64]struct{}{}
	members, err := r.users.ListOrganizationUsers(ctx, inc.OrganizationID)
	if err != nil {
		return nil, err
	}
	for _, u := range members {
		ok, err := r.enforcer.Enforce(userSubject(u.ID), orgDomain(inc.OrganizationID), "incidents", "view")
		if err != nil {
			return nil, err
		}
		if ok {
			seen[u.ID] = struct{}{}
		}
	}
	assigned, err := r.incidents.ListAssignedUserIDs(ctx, inc.ID)
	if err != nil {
		return nil, err
	}
	for _, id := range assigned {
		seen[id] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// VisibleIncidents filters an organization-agnostic incident list down
// to what the user can see; used by the unread counters.
func (r *Resolver) VisibleIncidents(ctx context.Context, userID int64, list []store.Incident) ([]store.Incident, error) {
	var out []store.Incident
	for i := range list {
		ok, err := r.CanView(ctx, userID, &list[i])
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, list[i])
		}
	}
	return out, nil
}
