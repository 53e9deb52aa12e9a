package nip46

import (
	"fmt"
	"strconv"
	"strings"
)

// Permission grants a single (method, optional event kind) capability to a
// connection. A nil Kind means the grant covers every kind for the method.
type Permission struct {
	Method Method `json:"method"`
	Kind   *int   `json:"kind,omitempty"`
}

// ParsePermission parses a single "method" or "method:kind" token.
func ParsePermission(s string) (Permission, error) {
	methodStr, kindStr, hasKind := strings.Cut(s, ":")

	method, err := ParseMethod(methodStr)
	if err != nil {
		return Permission{}, err
	}

	perm := Permission{Method: method}
	if hasKind {
		kind, err := strconv.Atoi(kindStr)
		if err != nil || kind < 0 {
			return Permission{}, fmt.Errorf("invalid permission kind %q", kindStr)
		}
		perm.Kind = &kind
	}
	return perm, nil
}

// ParsePermissionList parses a comma-separated permission list as sent in
// connect requests and nostrconnect:// URIs. Invalid or unknown entries are
// skipped rather than failing the whole list: clients routinely send
// permissions this signer does not implement.
func ParsePermissionList(csv string) []Permission {
	var perms []Permission
	for _, token := range strings.Split(csv, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		perm, err := ParsePermission(token)
		if err != nil {
			continue
		}
		perms = append(perms, perm)
	}
	return perms
}

// FormatPermission renders a permission back to its "method[:kind]" form.
func FormatPermission(p Permission) string {
	if p.Kind != nil {
		return fmt.Sprintf("%s:%d", p.Method, *p.Kind)
	}
	return string(p.Method)
}

// Allowed reports whether the granted permission set allows the given
// (method, kind) pair.
//
// An EMPTY grant set allows everything. This default-open policy lets a
// freshly paired client operate before the owner has configured
// fine-grained scopes; it matches deployed NIP-46 signer behavior and is
// deliberately preserved. Review before changing: flipping this to
// default-closed bricks every connection created without explicit perms.
//
// A grant with a nil kind is a wildcard for its method.
func Allowed(granted []Permission, method Method, kind *int) bool {
	if len(granted) == 0 {
		return true
	}
	for _, g := range granted {
		if g.Method != method {
			continue
		}
		if g.Kind == nil {
			return true
		}
		if kind != nil && *g.Kind == *kind {
			return true
		}
	}
	return false
}
