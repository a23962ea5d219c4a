// Package memory implements every identity store contract in process
// memory. It is the reference implementation the service tests run against
// and serves single-node deployments that need no durability.
package memory

import (
	"context"
	"sync"

	"github.com/skyfactor/identity/pkg/domains"
	"github.com/skyfactor/identity/pkg/errdefs"
	"github.com/skyfactor/identity/pkg/projects"
	"github.com/skyfactor/identity/pkg/providers"
	"github.com/skyfactor/identity/pkg/rbac"
	"github.com/skyfactor/identity/pkg/users"
)

// Store holds every collection behind one mutex. Check-then-insert
// uniqueness guards run under the same lock, which provides the atomicity
// the service invariants require.
type Store struct {
	mu sync.RWMutex

	domains     map[string]*domains.Domain               // domain_id
	users       map[string]*users.User                   // domain_id/user_id
	policies    map[string]*rbac.Policy                  // domain_id/policy_id
	roles       map[string]*rbac.Role                    // domain_id/role_id
	providers   map[string]*providers.Provider           // provider key
	groups      map[string]*projects.ProjectGroup        // domain_id/project_group_id
	projects    map[string]*projects.Project             // domain_id/project_id
	memberships map[string]*projects.Membership          // domain_id/group_id/user_id
	order       map[string][]string                      // collection -> insertion order of keys
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{
		domains:     make(map[string]*domains.Domain),
		users:       make(map[string]*users.User),
		policies:    make(map[string]*rbac.Policy),
		roles:       make(map[string]*rbac.Role),
		providers:   make(map[string]*providers.Provider),
		groups:      make(map[string]*projects.ProjectGroup),
		projects:    make(map[string]*projects.Project),
		memberships: make(map[string]*projects.Membership),
		order:       make(map[string][]string),
	}
}

func scopedKey(domainID, id string) string {
	return domainID + "/" + id
}

func (s *Store) pushOrder(collection, key string) {
	s.order[collection] = append(s.order[collection], key)
}

func (s *Store) dropOrder(collection, key string) {
	keys := s.order[collection]
	for i, k := range keys {
		if k == key {
			s.order[collection] = append(keys[:i], keys[i+1:]...)
			return
		}
	}
}

// --- domains.Store ---

func (s *Store) CreateDomain(_ context.Context, d *domains.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.domains[d.DomainID]; exists {
		return errdefs.NotUnique("domain", d.DomainID)
	}
	copied := *d
	s.domains[d.DomainID] = &copied
	s.pushOrder("domains", d.DomainID)
	return nil
}

func (s *Store) GetDomain(_ context.Context, domainID string) (*domains.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.domains[domainID]
	if !ok {
		return nil, errdefs.NotFound("domain", domainID)
	}
	copied := *d
	return &copied, nil
}

func (s *Store) DeleteDomain(_ context.Context, domainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[domainID]; !ok {
		return errdefs.NotFound("domain", domainID)
	}
	delete(s.domains, domainID)
	s.dropOrder("domains", domainID)
	return nil
}

func (s *Store) ListDomains(_ context.Context) ([]*domains.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domains.Domain, 0, len(s.domains))
	for _, key := range s.order["domains"] {
		if d, ok := s.domains[key]; ok {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

// --- users.Store ---

func (s *Store) CreateUser(_ context.Context, u *users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(u.DomainID, u.UserID)
	if _, exists := s.users[key]; exists {
		return errdefs.NotUnique("user", u.UserID)
	}
	copied := *u
	s.users[key] = &copied
	s.pushOrder("users", key)
	return nil
}

func (s *Store) GetUser(_ context.Context, domainID, userID string) (*users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[scopedKey(domainID, userID)]
	if !ok {
		return nil, errdefs.NotFound("user", userID)
	}
	copied := *u
	return &copied, nil
}

func (s *Store) UpdateUser(_ context.Context, u *users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(u.DomainID, u.UserID)
	if _, ok := s.users[key]; !ok {
		return errdefs.NotFound("user", u.UserID)
	}
	copied := *u
	s.users[key] = &copied
	return nil
}

func (s *Store) DeleteUser(_ context.Context, domainID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(domainID, userID)
	if _, ok := s.users[key]; !ok {
		return errdefs.NotFound("user", userID)
	}
	delete(s.users, key)
	s.dropOrder("users", key)
	return nil
}

func (s *Store) ListUsers(_ context.Context, domainID string) ([]*users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*users.User
	for _, key := range s.order["users"] {
		if u, ok := s.users[key]; ok && u.DomainID == domainID {
			copied := *u
			out = append(out, &copied)
		}
	}
	return out, nil
}

// CountUsersWithRole backs the role deletion guard
func (s *Store) CountUsersWithRole(_ context.Context, domainID, roleID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, u := range s.users {
		if u.DomainID != domainID {
			continue
		}
		for _, id := range u.RoleIDs {
			if id == roleID {
				count++
				break
			}
		}
	}
	return count, nil
}

// RoleIDsOf backs permission resolution for the rbac checker
func (s *Store) RoleIDsOf(_ context.Context, domainID, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[scopedKey(domainID, userID)]
	if !ok {
		return nil, errdefs.NotFound("user", userID)
	}
	return append([]string(nil), u.RoleIDs...), nil
}

// --- rbac.PolicyStore ---

func (s *Store) CreatePolicy(_ context.Context, p *rbac.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(p.DomainID, p.PolicyID)
	if _, exists := s.policies[key]; exists {
		return errdefs.NotUnique("policy", p.PolicyID)
	}
	copied := *p
	s.policies[key] = &copied
	s.pushOrder("policies", key)
	return nil
}

func (s *Store) GetPolicy(_ context.Context, domainID, policyID string) (*rbac.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[scopedKey(domainID, policyID)]
	if !ok {
		return nil, errdefs.NotFound("policy", policyID)
	}
	copied := *p
	return &copied, nil
}

func (s *Store) UpdatePolicy(_ context.Context, p *rbac.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(p.DomainID, p.PolicyID)
	if _, ok := s.policies[key]; !ok {
		return errdefs.NotFound("policy", p.PolicyID)
	}
	copied := *p
	s.policies[key] = &copied
	return nil
}

func (s *Store) DeletePolicy(_ context.Context, domainID, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(domainID, policyID)
	if _, ok := s.policies[key]; !ok {
		return errdefs.NotFound("policy", policyID)
	}
	delete(s.policies, key)
	s.dropOrder("policies", key)
	return nil
}

func (s *Store) ListPolicies(_ context.Context, domainID string) ([]*rbac.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*rbac.Policy
	for _, key := range s.order["policies"] {
		if p, ok := s.policies[key]; ok && p.DomainID == domainID {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

// --- rbac.RoleStore ---

func (s *Store) CreateRole(_ context.Context, r *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(r.DomainID, r.RoleID)
	if _, exists := s.roles[key]; exists {
		return errdefs.NotUnique("role", r.RoleID)
	}
	copied := *r
	s.roles[key] = &copied
	s.pushOrder("roles", key)
	return nil
}

func (s *Store) GetRole(_ context.Context, domainID, roleID string) (*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[scopedKey(domainID, roleID)]
	if !ok {
		return nil, errdefs.NotFound("role", roleID)
	}
	copied := *r
	return &copied, nil
}

func (s *Store) UpdateRole(_ context.Context, r *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(r.DomainID, r.RoleID)
	if _, ok := s.roles[key]; !ok {
		return errdefs.NotFound("role", r.RoleID)
	}
	copied := *r
	s.roles[key] = &copied
	return nil
}

func (s *Store) DeleteRole(_ context.Context, domainID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(domainID, roleID)
	if _, ok := s.roles[key]; !ok {
		return errdefs.NotFound("role", roleID)
	}
	delete(s.roles, key)
	s.dropOrder("roles", key)
	return nil
}

func (s *Store) ListRoles(_ context.Context, domainID string) ([]*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*rbac.Role
	for _, key := range s.order["roles"] {
		if r, ok := s.roles[key]; ok && r.DomainID == domainID {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out, nil
}

// --- providers.Store ---

func (s *Store) CreateProvider(_ context.Context, p *providers.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.providers[p.Provider]; exists {
		return errdefs.NotUnique("provider", p.Provider)
	}
	copied := *p
	s.providers[p.Provider] = &copied
	s.pushOrder("providers", p.Provider)
	return nil
}

func (s *Store) GetProvider(_ context.Context, key string) (*providers.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[key]
	if !ok {
		return nil, errdefs.NotFound("provider", key)
	}
	copied := *p
	return &copied, nil
}

func (s *Store) UpdateProvider(_ context.Context, p *providers.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[p.Provider]; !ok {
		return errdefs.NotFound("provider", p.Provider)
	}
	copied := *p
	s.providers[p.Provider] = &copied
	return nil
}

func (s *Store) DeleteProvider(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[key]; !ok {
		return errdefs.NotFound("provider", key)
	}
	delete(s.providers, key)
	s.dropOrder("providers", key)
	return nil
}

func (s *Store) ListProviders(_ context.Context) ([]*providers.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*providers.Provider
	for _, key := range s.order["providers"] {
		if p, ok := s.providers[key]; ok {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

// --- projects.GroupStore ---

func (s *Store) CreateProjectGroup(_ context.Context, g *projects.ProjectGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(g.DomainID, g.ProjectGroupID)
	if _, exists := s.groups[key]; exists {
		return errdefs.NotUnique("project_group", g.ProjectGroupID)
	}
	copied := *g
	s.groups[key] = &copied
	s.pushOrder("groups", key)
	return nil
}

func (s *Store) GetProjectGroup(_ context.Context, domainID, groupID string) (*projects.ProjectGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[scopedKey(domainID, groupID)]
	if !ok {
		return nil, errdefs.NotFound("project_group", groupID)
	}
	copied := *g
	return &copied, nil
}

func (s *Store) UpdateProjectGroup(_ context.Context, g *projects.ProjectGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(g.DomainID, g.ProjectGroupID)
	if _, ok := s.groups[key]; !ok {
		return errdefs.NotFound("project_group", g.ProjectGroupID)
	}
	copied := *g
	s.groups[key] = &copied
	return nil
}

func (s *Store) DeleteProjectGroup(_ context.Context, domainID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(domainID, groupID)
	if _, ok := s.groups[key]; !ok {
		return errdefs.NotFound("project_group", groupID)
	}
	delete(s.groups, key)
	s.dropOrder("groups", key)
	return nil
}

func (s *Store) ListProjectGroups(_ context.Context, domainID string) ([]*projects.ProjectGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*projects.ProjectGroup
	for _, key := range s.order["groups"] {
		if g, ok := s.groups[key]; ok && g.DomainID == domainID {
			copied := *g
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *Store) ListChildGroups(_ context.Context, domainID, groupID string) ([]*projects.ProjectGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*projects.ProjectGroup
	for _, key := range s.order["groups"] {
		if g, ok := s.groups[key]; ok && g.DomainID == domainID && g.ParentProjectGroupID == groupID {
			copied := *g
			out = append(out, &copied)
		}
	}
	return out, nil
}

// --- projects.ProjectStore ---

func (s *Store) CreateProject(_ context.Context, p *projects.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(p.DomainID, p.ProjectID)
	if _, exists := s.projects[key]; exists {
		return errdefs.NotUnique("project", p.ProjectID)
	}
	copied := *p
	s.projects[key] = &copied
	s.pushOrder("projects", key)
	return nil
}

func (s *Store) GetProject(_ context.Context, domainID, projectID string) (*projects.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[scopedKey(domainID, projectID)]
	if !ok {
		return nil, errdefs.NotFound("project", projectID)
	}
	copied := *p
	return &copied, nil
}

func (s *Store) UpdateProject(_ context.Context, p *projects.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(p.DomainID, p.ProjectID)
	if _, ok := s.projects[key]; !ok {
		return errdefs.NotFound("project", p.ProjectID)
	}
	copied := *p
	s.projects[key] = &copied
	return nil
}

func (s *Store) DeleteProject(_ context.Context, domainID, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(domainID, projectID)
	if _, ok := s.projects[key]; !ok {
		return errdefs.NotFound("project", projectID)
	}
	delete(s.projects, key)
	s.dropOrder("projects", key)
	return nil
}

func (s *Store) ListProjects(_ context.Context, domainID string) ([]*projects.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*projects.Project
	for _, key := range s.order["projects"] {
		if p, ok := s.projects[key]; ok && p.DomainID == domainID {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *Store) ListProjectsInGroup(_ context.Context, domainID, groupID string) ([]*projects.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*projects.Project
	for _, key := range s.order["projects"] {
		if p, ok := s.projects[key]; ok && p.DomainID == domainID && p.ProjectGroupID == groupID {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

// --- projects.MembershipStore ---

func membershipKey(domainID, groupID, userID string) string {
	return domainID + "/" + groupID + "/" + userID
}

func (s *Store) AddMembership(_ context.Context, m *projects.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey(m.DomainID, m.ProjectGroupID, m.UserID)
	if _, exists := s.memberships[key]; exists {
		return errdefs.Conflict("user %s is already a member of %s", m.UserID, m.ProjectGroupID)
	}
	copied := *m
	s.memberships[key] = &copied
	s.pushOrder("memberships", key)
	return nil
}

func (s *Store) GetMembership(_ context.Context, domainID, groupID, userID string) (*projects.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipKey(domainID, groupID, userID)]
	if !ok {
		return nil, errdefs.NotFound("project_group_member", userID)
	}
	copied := *m
	return &copied, nil
}

func (s *Store) UpdateMembership(_ context.Context, m *projects.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey(m.DomainID, m.ProjectGroupID, m.UserID)
	if _, ok := s.memberships[key]; !ok {
		return errdefs.NotFound("project_group_member", m.UserID)
	}
	copied := *m
	s.memberships[key] = &copied
	return nil
}

func (s *Store) RemoveMembership(_ context.Context, domainID, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey(domainID, groupID, userID)
	if _, ok := s.memberships[key]; !ok {
		return errdefs.NotFound("project_group_member", userID)
	}
	delete(s.memberships, key)
	s.dropOrder("memberships", key)
	return nil
}

func (s *Store) ListMemberships(_ context.Context, domainID, groupID string) ([]*projects.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*projects.Membership
	for _, key := range s.order["memberships"] {
		if m, ok := s.memberships[key]; ok && m.DomainID == domainID && m.ProjectGroupID == groupID {
			copied := *m
			out = append(out, &copied)
		}
	}
	return out, nil
}
