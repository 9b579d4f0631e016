package qr_test

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"

	"gate-scanner/internal/qr"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	codec := qr.NewCodec("gate-secret")
	pass := qr.Pass{TicketID: "tck_1", EventID: "evt_fri", IssuedAt: 1755993600}

	encoded, err := codec.EncryptPass(pass)
	assert.NoError(t, err)
	assert.NotEmpty(t, encoded)
	assert.NotContains(t, encoded, "tck_1")

	decoded, err := codec.DecryptPass(encoded)
	assert.NoError(t, err)
	assert.Equal(t, pass, *decoded)
}

func TestDecryptRejectsBadEncoding(t *testing.T) {
	codec := qr.NewCodec("gate-secret")

	_, err := codec.DecryptPass("not base64!!!")
	assert.Error(t, err)
}

func TestDecryptRejectsShortPayload(t *testing.T) {
	codec := qr.NewCodec("gate-secret")

	short := base64.URLEncoding.EncodeToString([]byte("tiny"))
	_, err := codec.DecryptPass(short)
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedPayload(t *testing.T) {
	codec := qr.NewCodec("gate-secret")

	encoded, err := codec.EncryptPass(qr.Pass{TicketID: "tck_1"})
	assert.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(encoded)
	assert.NoError(t, err)
	// Flip a ciphertext byte: the JSON inside no longer parses.
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.URLEncoding.EncodeToString(raw)

	_, err = codec.DecryptPass(tampered)
	assert.Error(t, err)
}

func TestDecryptWithWrongSecretFails(t *testing.T) {
	encoded, err := qr.NewCodec("gate-secret").EncryptPass(qr.Pass{TicketID: "tck_1"})
	assert.NoError(t, err)

	_, err = qr.NewCodec("other-secret").DecryptPass(encoded)
	assert.Error(t, err)
}

func TestEncodePassProducesPNG(t *testing.T) {
	codec := qr.NewCodec("gate-secret")

	img, err := codec.EncodePass(qr.Pass{TicketID: "tck_1", EventID: "evt_fri"})
	assert.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, []byte("\x89PNG")))
}
