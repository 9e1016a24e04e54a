package models

import "strings"

// PrincipalKind returns the namespace of a principal id ("user:42" ->
// "user", "group:eng" -> "group"). Unnamespaced ids are user ids.
func PrincipalKind(id string) string {
	if i := strings.Index(id, ":"); i >= 0 {
		return id[:i]
	}
	return "user"
}
