// Package users implements the user account service: lifecycle, role
// assignment and the list/find/stat query surface.
package users

import (
	"context"
	"strings"
	"time"

	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/query"
	"github.com/skyfactor/identity/pkg/rbac"
	"github.com/skyfactor/identity/pkg/validation"
)

// DomainChecker verifies a domain id exists before any scoped mutation
type DomainChecker interface {
	Exists(ctx context.Context, domainID string) error
}

// DecisionInvalidator drops cached permission decisions after a role change.
// Optional; nil skips invalidation.
type DecisionInvalidator interface {
	Invalidate(ctx context.Context, domainID, userID string) error
}

// Service exposes user operations
type Service struct {
	store     Store
	registry  *rbac.Registry
	domains   DomainChecker
	decisions DecisionInvalidator
}

// NewService creates a user Service. decisions may be nil.
func NewService(store Store, registry *rbac.Registry, domains DomainChecker, decisions DecisionInvalidator) *Service {
	return &Service{store: store, registry: registry, domains: domains, decisions: decisions}
}

// CreateRequest carries the attributes accepted at user creation
type CreateRequest struct {
	UserID   string                 `json:"user_id"`
	Password string                 `json:"password"`
	Name     string                 `json:"name"`
	Email    string                 `json:"email,omitempty"`
	Mobile   string                 `json:"mobile,omitempty"`
	Group    string                 `json:"group,omitempty"`
	Language string                 `json:"language,omitempty"`
	Timezone string                 `json:"timezone,omitempty"`
	Tags     map[string]interface{} `json:"tags,omitempty"`
	DomainID string                 `json:"domain_id"`
}

// Create registers a user in PENDING state. Duplicate user ids within the
// domain fail with NOT_UNIQUE; the same user id in another domain is fine.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*User, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.User.create", req.DomainID); err != nil {
		return nil, err
	}
	if err := s.domains.Exists(ctx, req.DomainID); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, errdefs.Validation("user_id is required")
	}
	if err := validation.ValidateName(req.Name); err != nil {
		return nil, err
	}
	if err := validation.ValidateTags(req.Tags); err != nil {
		return nil, err
	}

	user := &User{
		UserID:    req.UserID,
		Name:      req.Name,
		Password:  req.Password,
		State:     StatePending,
		Email:     req.Email,
		Mobile:    req.Mobile,
		Group:     req.Group,
		Language:  req.Language,
		Timezone:  req.Timezone,
		Tags:      req.Tags,
		DomainID:  req.DomainID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateRequest carries the mutable user attributes; nil/zero fields are
// left unchanged
type UpdateRequest struct {
	UserID   string                 `json:"user_id"`
	DomainID string                 `json:"domain_id"`
	Name     string                 `json:"name,omitempty"`
	Password string                 `json:"password,omitempty"`
	State    State                  `json:"state,omitempty"`
	Email    string                 `json:"email,omitempty"`
	Mobile   string                 `json:"mobile,omitempty"`
	Group    string                 `json:"group,omitempty"`
	Language string                 `json:"language,omitempty"`
	Timezone string                 `json:"timezone,omitempty"`
	Tags     map[string]interface{} `json:"tags,omitempty"`
}

// Update applies the non-zero fields of the request. Everything is validated
// before the first write so a rejected update leaves the user unchanged.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (*User, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.User.update", req.DomainID); err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, req.DomainID, req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Name != "" {
		if err := validation.ValidateName(req.Name); err != nil {
			return nil, err
		}
		user.Name = req.Name
	}
	if req.State != "" {
		if !req.State.Valid() {
			return nil, errdefs.Validation("invalid user state %q", req.State)
		}
		user.State = req.State
	}
	if req.Tags != nil {
		if err := validation.ValidateTags(req.Tags); err != nil {
			return nil, err
		}
		user.Tags = req.Tags
	}
	if req.Password != "" {
		user.Password = req.Password
	}
	if req.Email != "" {
		user.Email = req.Email
	}
	if req.Mobile != "" {
		user.Mobile = req.Mobile
	}
	if req.Group != "" {
		user.Group = req.Group
	}
	if req.Language != "" {
		user.Language = req.Language
	}
	if req.Timezone != "" {
		user.Timezone = req.Timezone
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Enable transitions the user to ENABLED
func (s *Service) Enable(ctx context.Context, domainID, userID string) (*User, error) {
	return s.setState(ctx, "identity.User.enable", domainID, userID, StateEnabled)
}

// Disable transitions the user to DISABLED
func (s *Service) Disable(ctx context.Context, domainID, userID string) (*User, error) {
	return s.setState(ctx, "identity.User.disable", domainID, userID, StateDisabled)
}

func (s *Service) setState(ctx context.Context, action, domainID, userID string, state State) (*User, error) {
	if err := rbac.AuthorizeInDomain(ctx, action, domainID); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, errdefs.Validation("user_id is required")
	}
	user, err := s.store.GetUser(ctx, domainID, userID)
	if err != nil {
		return nil, err
	}
	user.State = state
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Delete removes a user
func (s *Service) Delete(ctx context.Context, domainID, userID string) error {
	if err := rbac.AuthorizeInDomain(ctx, "identity.User.delete", domainID); err != nil {
		return err
	}
	return s.store.DeleteUser(ctx, domainID, userID)
}

// Get fetches one user by id
func (s *Service) Get(ctx context.Context, domainID, userID string) (*User, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.User.get", domainID); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, domainID, userID)
}

// UpdateRole replaces the user's role set after checking the role-type
// compatibility rule. Every role id must resolve within the domain.
func (s *Service) UpdateRole(ctx context.Context, domainID, userID string, roleIDs []string) (*User, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.User.update_role", domainID); err != nil {
		return nil, err
	}
	user, err := s.store.GetUser(ctx, domainID, userID)
	if err != nil {
		return nil, err
	}
	roles := make([]*rbac.Role, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		role, err := s.registry.LookupRole(ctx, domainID, roleID)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rbac.CheckAssignable(roles); err != nil {
		return nil, err
	}
	user.RoleIDs = append([]string(nil), roleIDs...)
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	if s.decisions != nil {
		// Stale decisions would keep granting revoked permissions.
		if err := s.decisions.Invalidate(ctx, domainID, userID); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// ListParams combines the generic query with the shortcut filters the list
// API accepts alongside it
type ListParams struct {
	Query  query.Query
	UserID string
	Group  string
	RoleID string
	State  State
}

// List answers a filtered user query with a total count
func (s *Service) List(ctx context.Context, domainID string, params ListParams) ([]*User, int, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.User.list", domainID); err != nil {
		return nil, 0, err
	}
	q := params.Query
	if params.UserID != "" {
		q.Filters = append(q.Filters, query.Filter{Key: "user_id", Value: params.UserID, Operator: query.OpEqual})
	}
	if params.Group != "" {
		q.Filters = append(q.Filters, query.Filter{Key: "group", Value: params.Group, Operator: query.OpEqual})
	}
	if params.RoleID != "" {
		q.Filters = append(q.Filters, query.Filter{Key: "roles", Value: params.RoleID, Operator: query.OpEqual})
	}
	if params.State != "" {
		q.Filters = append(q.Filters, query.Filter{Key: "state", Value: string(params.State), Operator: query.OpEqual})
	}

	all, err := s.store.ListUsers(ctx, domainID)
	if err != nil {
		return nil, 0, err
	}
	records := make([]query.Record, len(all))
	byID := make(map[string]*User, len(all))
	for i, u := range all {
		records[i] = Record(u)
		byID[u.UserID] = u
	}
	matched, total := query.Apply(records, q)
	out := make([]*User, 0, len(matched))
	for _, rec := range matched {
		out = append(out, byID[rec["user_id"].(string)])
	}
	return out, total, nil
}

// Find searches users by user_id or name prefix, for admin lookup surfaces
func (s *Service) Find(ctx context.Context, domainID, search string) ([]*User, int, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.User.find", domainID); err != nil {
		return nil, 0, err
	}
	all, err := s.store.ListUsers(ctx, domainID)
	if err != nil {
		return nil, 0, err
	}
	var out []*User
	for _, u := range all {
		if strings.HasPrefix(u.UserID, search) || strings.HasPrefix(u.Name, search) {
			out = append(out, u)
		}
	}
	return out, len(out), nil
}

// Stat runs an aggregation pipeline over the user collection
func (s *Service) Stat(ctx context.Context, domainID string, q query.StatQuery) ([]query.Record, error) {
	if err := rbac.AuthorizeInDomain(ctx, "identity.User.stat", domainID); err != nil {
		return nil, err
	}
	all, err := s.store.ListUsers(ctx, domainID)
	if err != nil {
		return nil, err
	}
	records := make([]query.Record, len(all))
	for i, u := range all {
		records[i] = Record(u)
	}
	return query.Stat(records, q)
}

// Record builds the query engine's attribute view of a user. The password
// never appears in it.
func Record(u *User) query.Record {
	roles := make([]interface{}, len(u.RoleIDs))
	for i, id := range u.RoleIDs {
		roles[i] = id
	}
	tags := u.Tags
	if tags == nil {
		tags = map[string]interface{}{}
	}
	return query.Record{
		"user_id":    u.UserID,
		"name":       u.Name,
		"state":      string(u.State),
		"email":      u.Email,
		"mobile":     u.Mobile,
		"group":      u.Group,
		"language":   u.Language,
		"timezone":   u.Timezone,
		"tags":       tags,
		"roles":      roles,
		"domain_id":  u.DomainID,
		"created_at": u.CreatedAt,
	}
}
