/*
Package randx provides functions for generating random identifiers.

It is primarily used to generate session-scoped client ids, which route replies back to
a participant, and UUID message ids for locally rendered items.
*/
package randx

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// ClientIDMaxLength bounds client-supplied ids accepted on connect.
	ClientIDMaxLength = 64

	// clientIDChars is the set of characters accepted in a client id.
	clientIDChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"
)

// ClientID generates a new client id for a participant session.
func ClientID() string {
	return uuid.NewString()
}

// MessageID generates a standard UUID v4 to serve as a unique identifier for a message.
func MessageID() uuid.UUID {
	return uuid.New()
}

// IsValidClientID checks whether a client-supplied id may be used as a destination
// suffix. Validity criteria: non-empty, at most ClientIDMaxLength characters, and only
// alphanumerics, '-' and '_'.
func IsValidClientID(id string) bool {
	if id == "" || len(id) > ClientIDMaxLength {
		return false
	}

	for _, char := range id {
		if !strings.ContainsRune(clientIDChars, char) {
			return false
		}
	}

	return true
}
