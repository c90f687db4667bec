package auth

import "strings"

const (
	wildcard       = "*"
	resourceSuffix = ".*"
)

// PermissionSet is the precomputed lookup form of a role's permission list.
// Entries are "resource.action", "resource.*" or "*".
type PermissionSet struct {
	exact     map[string]struct{}
	resources map[string]struct{}
	all       bool
}

// NewPermissionSet indexes the given permission strings.
func NewPermissionSet(perms ...string) PermissionSet {
	s := PermissionSet{
		exact:     make(map[string]struct{}, len(perms)),
		resources: make(map[string]struct{}),
	}
	for _, p := range perms {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case p == wildcard:
			s.all = true
		case strings.HasSuffix(p, resourceSuffix):
			s.resources[strings.TrimSuffix(p, resourceSuffix)] = struct{}{}
		default:
			s.exact[p] = struct{}{}
		}
	}
	return s
}

// Allows checks the exact permission, then the resource wildcard, then "*".
func (s PermissionSet) Allows(resource, action string) bool {
	if _, ok := s.exact[Permission(resource, action)]; ok {
		return true
	}
	if _, ok := s.resources[resource]; ok {
		return true
	}
	return s.all
}

// Permission builds the permission key for an action on a resource.
func Permission(resource, action string) string {
	return resource + "." + action
}
