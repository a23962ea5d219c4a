// Package projects owns the hierarchical resource tree of a domain: project
// groups linked by parent references, the projects they contain, and the
// user memberships attached to groups.
//
// The tree invariants enforced here:
//
//   - a group can never be its own parent
//   - reparenting can never place a group under one of its descendants
//   - a group with child groups or projects cannot be deleted
//
// Ancestor and descendant walks use explicit worklists so behavior stays
// bounded on deep or wide trees.
package projects
