// Package rbac provides permission evaluation and the policy/role registry
// for the identity service.
//
// # Permissions
//
// A permission is a three-segment dotted pattern naming a service, a resource
// and a verb. The final segment may be the wildcard "*":
//
//	identity.Project.*      grants every Project verb
//	identity.User.get       grants exactly User.get
//
// Requested actions are never wildcarded. A caller's granted set allows an
// action when any pattern matches (logical OR); matching is case-sensitive.
//
// # Policies and roles
//
// A Policy is a named, domain-scoped ordered set of permission patterns. A
// Role bundles policy references and carries a role type (SYSTEM, DOMAIN or
// PROJECT). A user may not hold SYSTEM and PROJECT typed roles at the same
// time; DOMAIN combines with either. Roles cannot be deleted while any user
// still references them.
//
// # Caching
//
// Resolving a role to its flattened permission set is cached in-process with
// an LRU; individual allow/deny decisions can additionally be cached in Redis
// so replicas share warm results.
package rbac
