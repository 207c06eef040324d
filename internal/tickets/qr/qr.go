// Package qr renders the door-scan QR code for a ticket. The code carries an
// AES-GCM sealed payload so a scanner holding the same secret can read it
// back while attendees cannot forge one.
package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"ms-conference-ticketing/internal/models"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidPayload = errors.New("invalid qr payload")

// Payload is what the scanner recovers from the code.
type Payload struct {
	TicketID     string    `json:"tid"`
	TicketNumber string    `json:"num"`
	TicketTypeID string    `json:"typ"`
	HolderID     string    `json:"uid"`
	IssuedAt     time.Time `json:"iat"`
}

type Generator struct {
	aead cipher.AEAD
	size int
}

func NewGenerator(secret string) (*Generator, error) {
	key := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("qr cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("qr cipher: %w", err)
	}
	return &Generator{aead: aead, size: 256}, nil
}

// PayloadFor builds the payload for a ticket. The holder is the attendee
// once assigned, the purchaser before that.
func PayloadFor(ticket *models.Ticket) Payload {
	holder := ticket.PurchaserID
	if ticket.AttendeeID != nil {
		holder = *ticket.AttendeeID
	}
	return Payload{
		TicketID:     ticket.ID,
		TicketNumber: ticket.TicketNumber,
		TicketTypeID: ticket.TicketTypeID,
		HolderID:     holder,
		IssuedAt:     ticket.IssuedAt.UTC(),
	}
}

// PNG returns the encoded QR image for the ticket.
func (g *Generator) PNG(ticket *models.Ticket) ([]byte, error) {
	sealed, err := g.Seal(PayloadFor(ticket))
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(sealed, qrcode.Medium, g.size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// Seal encrypts p and returns it as URL-safe base64 (nonce || ciphertext).
func (g *Generator) Seal(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := g.aead.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func (g *Generator) Open(sealed string) (*Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	ns := g.aead.NonceSize()
	if len(raw) < ns {
		return nil, ErrInvalidPayload
	}
	data, err := g.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, ErrInvalidPayload
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrInvalidPayload
	}
	return &p, nil
}
