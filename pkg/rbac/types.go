package rbac

import (
	"time"
)

// RoleType classifies the scope a role operates at
type RoleType string

const (
	RoleTypeSystem  RoleType = "SYSTEM"
	RoleTypeDomain  RoleType = "DOMAIN"
	RoleTypeProject RoleType = "PROJECT"
)

// Valid reports whether the role type is one of the known values
func (rt RoleType) Valid() bool {
	switch rt {
	case RoleTypeSystem, RoleTypeDomain, RoleTypeProject:
		return true
	}
	return false
}

// PolicyType distinguishes customer-defined from managed policies
type PolicyType string

const (
	PolicyTypeCustom  PolicyType = "CUSTOM"
	PolicyTypeManaged PolicyType = "MANAGED"
)

// Policy is a named, domain-scoped ordered set of permission patterns
type Policy struct {
	PolicyID    string                 `json:"policy_id"`
	Name        string                 `json:"name"`
	Permissions []string               `json:"permissions"`
	DomainID    string                 `json:"domain_id"`
	Tags        map[string]interface{} `json:"tags,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// PolicyRef binds a role to a policy
type PolicyRef struct {
	PolicyType PolicyType `json:"policy_type"`
	PolicyID   string     `json:"policy_id"`
}

// Role is a typed bundle of policy references assignable to a user
type Role struct {
	RoleID    string                 `json:"role_id"`
	Name      string                 `json:"name"`
	RoleType  RoleType               `json:"role_type"`
	Policies  []PolicyRef            `json:"policies"`
	DomainID  string                 `json:"domain_id"`
	Tags      map[string]interface{} `json:"tags,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Principal is the authenticated caller as resolved by the auth collaborator:
// its domain and the permission patterns granted to it
type Principal struct {
	DomainID    string
	UserID      string
	Permissions PermissionSet
}
