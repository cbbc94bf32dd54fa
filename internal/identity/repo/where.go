package repo

import (
	"strings"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
)

// quote renders s as a single-quoted SQL string literal for the analytical
// store, where backslash is an escape character.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

func inList(column string, set entity.Set) string {
	if len(set) == 0 {
		return ""
	}
	vals := set.Sorted()
	for i, v := range vals {
		vals[i] = quote(v)
	}
	return column + " IN (" + strings.Join(vals, ", ") + ")"
}

func or(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " OR ")
}

// BuildWhereClause renders the OR of membership tests over every non-empty
// identifier set against the identity_graph columns. It is a pure function
// of sets and returns "" when all sets are empty. Values are emitted in
// sorted order so equal inputs give byte-identical predicates.
func BuildWhereClause(sets entity.IdentifierSets) string {
	return or(
		inList("user_id", sets.UserIDs),
		inList("email", sets.Emails),
		inList("phone", sets.Phones),
		inList("anonymous_id", sets.AnonymousIDs),
		inList("device_fingerprint", sets.DeviceFingerprints),
	)
}

// BuildEventsWhereClause is the events-table counterpart; events only carry
// user and anonymous ids.
func BuildEventsWhereClause(sets entity.IdentifierSets) string {
	return or(
		inList("user_id", sets.UserIDs),
		inList("anonymous_id", sets.AnonymousIDs),
	)
}
