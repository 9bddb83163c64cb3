package auth

import "fmt"

// Scope is a permission carried by a session or an API key.
type Scope string

const (
	ScopeTransfersWrite Scope = "transfers:write" // initiate, accept and cancel
	ScopeTransfersAdmin Scope = "transfers:admin" // list all, approve, reject

	ScopeOrganizationsRead  Scope = "organizations:read"
	ScopeOrganizationsWrite Scope = "organizations:write"
	ScopeOrganizationsAdmin Scope = "organizations:admin"

	ScopeNotificationsSend Scope = "notifications:send"
	ScopeAnalyticsRead     Scope = "analytics:read"
	ScopeAuditRead         Scope = "audit:read"
	ScopeAPIKeysManage     Scope = "api_keys:manage"

	// ScopeAdmin grants every other scope.
	ScopeAdmin Scope = "admin"
)

var allScopes = []Scope{
	ScopeTransfersWrite,
	ScopeTransfersAdmin,
	ScopeOrganizationsRead,
	ScopeOrganizationsWrite,
	ScopeOrganizationsAdmin,
	ScopeNotificationsSend,
	ScopeAnalyticsRead,
	ScopeAuditRead,
	ScopeAPIKeysManage,
	ScopeAdmin,
}

// grants lists what holding a scope implies beyond itself.
var grants = map[Scope][]Scope{
	ScopeTransfersAdmin:     {ScopeTransfersWrite},
	ScopeOrganizationsWrite: {ScopeOrganizationsRead},
	ScopeOrganizationsAdmin: {ScopeOrganizationsRead},
}

func known(s string) bool {
	for _, sc := range allScopes {
		if string(sc) == s {
			return true
		}
	}
	return false
}

// ValidateScopes rejects the first unknown scope name.
func ValidateScopes(scopes []string) error {
	for _, s := range scopes {
		if !known(s) {
			return fmt.Errorf("invalid scope: %s", s)
		}
	}
	return nil
}

func (held Scope) covers(required Scope) bool {
	if held == required || held == ScopeAdmin {
		return true
	}
	for _, g := range grants[held] {
		if g == required {
			return true
		}
	}
	return false
}

// HasScope reports whether any held scope covers required.
func HasScope(held []string, required Scope) bool {
	for _, s := range held {
		if Scope(s).covers(required) {
			return true
		}
	}
	return false
}

func HasAnyScope(held []string, required []Scope) bool {
	for _, r := range required {
		if HasScope(held, r) {
			return true
		}
	}
	return false
}

func HasAllScopes(held []string, required []Scope) bool {
	for _, r := range required {
		if !HasScope(held, r) {
			return false
		}
	}
	return true
}

// MemberScopes are what a signed-in contact person gets: manage transfers for
// their own organization and register new ones.
func MemberScopes() []string {
	return []string{string(ScopeTransfersWrite), string(ScopeOrganizationsWrite)}
}

// AdminScopes lists every scope, admin included.
func AdminScopes() []string {
	out := make([]string, len(allScopes))
	for i, s := range allScopes {
		out[i] = string(s)
	}
	return out
}

// ScopesForProfile returns the session scopes of a profile.
func ScopesForProfile(isAdmin bool) []string {
	if isAdmin {
		return AdminScopes()
	}
	return MemberScopes()
}
