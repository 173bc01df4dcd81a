/*
Package user contains the identity value types shared by the support-chat server and
its clients.

It defines the participant roles, the normalization of role names as they appear on
the wire (with or without the "ROLE_" authority prefix), and the Identity snapshot that
describes who the local principal currently is.
*/
package user

import "strings"

// Role is the principal's role in the support chat.
type Role string

const (
	// RoleGuest is an anonymous participant identified only by its client id.
	RoleGuest Role = "GUEST"

	// RoleClient is an authenticated customer.
	RoleClient Role = "CLIENT"

	// RoleEmployee is a support operator.
	RoleEmployee Role = "EMPLOYEE"
)

const authorityPrefix = "ROLE_"

// ParseRole normalizes a wire role ("EMPLOYEE", "ROLE_EMPLOYEE", "employee").
// The second result is false for empty or unknown values.
func ParseRole(s string) (Role, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, authorityPrefix)

	switch Role(s) {
	case RoleGuest, RoleClient, RoleEmployee:
		return Role(s), true
	default:
		return "", false
	}
}

// IsOperatorRole reports whether a raw wire role designates support staff.
func IsOperatorRole(s string) bool {
	r, ok := ParseRole(s)
	return ok && r == RoleEmployee
}

// IsGuestRole reports whether a raw wire role explicitly designates an anonymous
// participant. An empty role is not a declaration and yields false.
func IsGuestRole(s string) bool {
	r, ok := ParseRole(s)
	return ok && r == RoleGuest
}

// Identity is an immutable snapshot of the local principal. It is replaced wholesale
// on login, logout, refresh and restore.
type Identity struct {
	// Authenticated is false for guests.
	Authenticated bool `json:"authenticated"`

	// Username is empty for guests.
	Username string `json:"username"`

	// Role selects the transport mode established for this identity.
	Role Role `json:"role"`
}

// Guest is the identity of an anonymous participant.
var Guest = Identity{Authenticated: false, Username: "", Role: RoleGuest}

// IsGuest reports whether the identity should be treated as anonymous.
func (i Identity) IsGuest() bool {
	return !i.Authenticated || i.Role == RoleGuest || i.Role == ""
}

// IsOperator reports whether the identity is an authenticated support operator.
func (i Identity) IsOperator() bool {
	return i.Authenticated && i.Role == RoleEmployee
}

// SameSession reports whether two snapshots describe the same principal, i.e. the
// transport subscriptions established for one remain valid for the other.
func (i Identity) SameSession(other Identity) bool {
	return i.IsGuest() == other.IsGuest() &&
		i.Username == other.Username &&
		i.Role == other.Role
}

// User is a registered account as stored by the server.
type User struct {
	// ID is the account's unique identifier.
	ID string `json:"id"`

	// Username is the login name, also used as the chat sender name.
	Username string `json:"username"`

	// Role is the account's role.
	Role Role `json:"role"`
}
