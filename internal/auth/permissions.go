package auth

import (
	"sort"
	"strings"
)

const (
	PermLinksIssue  = "links.issue"
	PermLinksRevoke = "links.revoke"
	PermLinksRead   = "links.read"
)

var rolePermissions = map[string][]string{
	"owner":  {PermLinksIssue, PermLinksRevoke, PermLinksRead},
	"admin":  {PermLinksIssue, PermLinksRevoke, PermLinksRead},
	"staff":  {PermLinksIssue, PermLinksRead},
	"viewer": {PermLinksRead},
}

// PermissionsForRole returns the permission set of a role; unknown roles get none.
func PermissionsForRole(role string) map[string]struct{} {
	keys := rolePermissions[strings.TrimSpace(strings.ToLower(role))]
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func sortedPermissions(perms map[string]struct{}) []string {
	out := make([]string, 0, len(perms))
	for k := range perms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
