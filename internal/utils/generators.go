package utils

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
)

// Crockford's alphabet: no I, L, O or U, so numbers survive being read aloud.
var ticketAlphabet = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// InviteTokenBytes is the entropy of an invite token (256 bits).
const InviteTokenBytes = 32

// GenerateTicketNumber returns a human readable number such as CONF-7K2M-Q9XD.
// It carries 40 random bits; uniqueness is enforced by the tickets table.
func GenerateTicketNumber() (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate ticket number: %w", err)
	}
	s := ticketAlphabet.EncodeToString(b)
	return fmt.Sprintf("CONF-%s-%s", s[:4], s[4:]), nil
}

// GenerateInviteToken returns an opaque URL-safe token.
func GenerateInviteToken() (string, error) {
	b := make([]byte, InviteTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
