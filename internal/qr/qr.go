// Package qr codes gate passes: an AES-encrypted payload rendered as a QR
// image at provisioning time and decrypted back on the scan path.
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

	"github.com/skip2/go-qrcode"
)

// Pass is what a gate QR carries. Only the ticket id is required; the rest
// is display context for manual verification.
type Pass struct {
	TicketID string `json:"ticket_id"`
	EventID  string `json:"event_id,omitempty"`
	IssuedAt int64  `json:"issued_at,omitempty"`
}

type Codec struct {
	secret []byte
}

func NewCodec(secret string) *Codec {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Codec{secret: hashed[:]}
}

// EncodePass renders an encrypted pass as a PNG QR image.
func (c *Codec) EncodePass(pass Pass) ([]byte, error) {
	encrypted, err := c.EncryptPass(pass)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(encrypted, qrcode.Medium, 256)
}

// EncryptPass produces the base64 payload the QR image carries.
func (c *Codec) EncryptPass(pass Pass) (string, error) {
	data, err := json.Marshal(pass)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(c.secret)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// DecryptPass reverses EncryptPass. Any malformed payload comes back as an
// error for the caller to map to an invalid-code rejection.
func (c *Codec) DecryptPass(encoded string) (*Pass, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid pass encoding: %w", err)
	}
	if len(ciphertext) < aes.BlockSize {
		return nil, errors.New("pass payload too short")
	}

	block, err := aes.NewCipher(c.secret)
	if err != nil {
		return nil, err
	}

	iv := ciphertext[:aes.BlockSize]
	data := make([]byte, len(ciphertext)-aes.BlockSize)
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(data, ciphertext[aes.BlockSize:])

	var pass Pass
	if err := json.Unmarshal(data, &pass); err != nil {
		return nil, fmt.Errorf("invalid pass payload: %w", err)
	}
	if pass.TicketID == "" {
		return nil, errors.New("pass missing ticket id")
	}
	return &pass, nil
}
