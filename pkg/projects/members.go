package projects

import (
	"context"
	"time"

	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/query"
	"github.com/skyfactor/identity/pkg/rbac"
)

// Member is a membership joined with the associated user's display fields
type Member struct {
	ProjectGroupID string   `json:"project_group_id"`
	UserID         string   `json:"user_id"`
	UserName       string   `json:"user_name"`
	UserState      string   `json:"user_state,omitempty"`
	Labels         []string `json:"labels,omitempty"`
	RoleIDs        []string `json:"roles,omitempty"`
}

// AddMember attaches a user to a group. A second add for the same pair fails
// with CONFLICT.
func (s *Service) AddMember(ctx context.Context, domainID, groupID, userID string, labels, roleIDs []string) (*Member, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.ProjectGroup.add_member", domainID); err != nil {
		return nil, err
	}
	if _, err := s.groups.GetProjectGroup(ctx, domainID, groupID); err != nil {
		return nil, err
	}
	user, err := s.users.Get(ctx, domainID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkMemberRoles(ctx, domainID, roleIDs); err != nil {
		return nil, err
	}
	m := &Membership{
		ProjectGroupID: groupID,
		UserID:         userID,
		Labels:         append([]string(nil), labels...),
		RoleIDs:        append([]string(nil), roleIDs...),
		DomainID:       domainID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.memberships.AddMembership(ctx, m); err != nil {
		return nil, err
	}
	return memberView(m, user), nil
}

// ModifyMember replaces the labels and role bindings of an existing
// membership wholesale. A missing membership fails with NOT_FOUND.
func (s *Service) ModifyMember(ctx context.Context, domainID, groupID, userID string, labels, roleIDs []string) (*Member, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.ProjectGroup.modify_member", domainID); err != nil {
		return nil, err
	}
	m, err := s.memberships.GetMembership(ctx, domainID, groupID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkMemberRoles(ctx, domainID, roleIDs); err != nil {
		return nil, err
	}
	if labels != nil {
		m.Labels = append([]string(nil), labels...)
	}
	if roleIDs != nil {
		m.RoleIDs = append([]string(nil), roleIDs...)
	}
	if err := s.memberships.UpdateMembership(ctx, m); err != nil {
		return nil, err
	}
	user, err := s.users.Get(ctx, domainID, userID)
	if err != nil {
		return nil, err
	}
	return memberView(m, user), nil
}

// RemoveMember detaches a user from a group. A missing membership fails with
// NOT_FOUND.
func (s *Service) RemoveMember(ctx context.Context, domainID, groupID, userID string) error {
	if err := rbac.AuthorizeInDomain(ctx, "identity.ProjectGroup.remove_member", domainID); err != nil {
		return err
	}
	if _, err := s.memberships.GetMembership(ctx, domainID, groupID, userID); err != nil {
		return err
	}
	return s.memberships.RemoveMembership(ctx, domainID, groupID, userID)
}

// ListMembersParams narrows a member listing
type ListMembersParams struct {
	Query  query.Query
	UserID string // exact match shortcut
}

// ListMembers returns the group's memberships joined with user display
// fields, filtered by the generic query (user_name supports contain)
func (s *Service) ListMembers(ctx context.Context, domainID, groupID string, params ListMembersParams) ([]*Member, int, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.ProjectGroup.list_members", domainID); err != nil {
		return nil, 0, err
	}
	if _, err := s.groups.GetProjectGroup(ctx, domainID, groupID); err != nil {
		return nil, 0, err
	}
	all, err := s.memberships.ListMemberships(ctx, domainID, groupID)
	if err != nil {
		return nil, 0, err
	}

	q := params.Query
	if params.UserID != "" {
		q.Filters = append(q.Filters, query.Filter{Key: "user_id", Value: params.UserID, Operator: query.OpEqual})
	}

	members := make([]*Member, 0, len(all))
	records := make([]query.Record, 0, len(all))
	for _, m := range all {
		user, err := s.users.Get(ctx, domainID, m.UserID)
		if err != nil {
			if errdefs.IsKind(err, errdefs.KindNotFound) {
				// The user was deleted out from under the membership; the
				// association still lists, with empty display fields.
				user = UserRef{UserID: m.UserID}
			} else {
				return nil, 0, err
			}
		}
		members = append(members, memberView(m, user))
		records = append(records, memberRecord(m, user))
	}

	matched, total := query.Apply(records, q)
	byUser := make(map[string]*Member, len(members))
	for _, m := range members {
		byUser[m.UserID] = m
	}
	out := make([]*Member, 0, len(matched))
	for _, rec := range matched {
		out = append(out, byUser[rec["user_id"].(string)])
	}
	return out, total, nil
}

func (s *Service) checkMemberRoles(ctx context.Context, domainID string, roleIDs []string) error {
	for _, roleID := range roleIDs {
		if _, err := s.roles.LookupRole(ctx, domainID, roleID); err != nil {
			return err
		}
	}
	return nil
}

func memberView(m *Membership, user UserRef) *Member {
	return &Member{
		ProjectGroupID: m.ProjectGroupID,
		UserID:         m.UserID,
		UserName:       user.Name,
		UserState:      user.State,
		Labels:         m.Labels,
		RoleIDs:        m.RoleIDs,
	}
}

func memberRecord(m *Membership, user UserRef) query.Record {
	labels := make([]interface{}, len(m.Labels))
	for i, l := range m.Labels {
		labels[i] = l
	}
	roles := make([]interface{}, len(m.RoleIDs))
	for i, r := range m.RoleIDs {
		roles[i] = r
	}
	return query.Record{
		"project_group_id": m.ProjectGroupID,
		"user_id":          m.UserID,
		"user_name":        user.Name,
		"labels":           labels,
		"roles":            roles,
		"created_at":       m.CreatedAt,
	}
}
