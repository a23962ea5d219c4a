package users

import (
	"context"
	"time"
)

// State is the lifecycle state of a user account
type State string

const (
	StatePending  State = "PENDING"
	StateEnabled  State = "ENABLED"
	StateDisabled State = "DISABLED"
)

// Valid reports whether the state is one of the known values
func (s State) Valid() bool {
	switch s {
	case StatePending, StateEnabled, StateDisabled:
		return true
	}
	return false
}

// User is a domain-scoped account. UserID is unique within its domain,
// matched case-sensitively.
type User struct {
	UserID    string                 `json:"user_id"`
	Name      string                 `json:"name"`
	Password  string                 `json:"-"` // opaque credential, never serialized or logged
	State     State                  `json:"state"`
	Email     string                 `json:"email,omitempty"`
	Mobile    string                 `json:"mobile,omitempty"`
	Group     string                 `json:"group,omitempty"`
	Language  string                 `json:"language,omitempty"`
	Timezone  string                 `json:"timezone,omitempty"`
	Tags      map[string]interface{} `json:"tags,omitempty"`
	RoleIDs   []string               `json:"roles,omitempty"`
	DomainID  string                 `json:"domain_id"`
	CreatedAt time.Time              `json:"created_at"`
}

// Store persists users. CreateUser must enforce (domain_id, user_id)
// uniqueness atomically and report violations as NOT_UNIQUE.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, domainID, userID string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, domainID, userID string) error
	ListUsers(ctx context.Context, domainID string) ([]*User, error)
}
