package utils

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"ms-conference-ticketing/internal/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTicketNumber(t *testing.T) {
	pattern := regexp.MustCompile(`^CONF-[0-9A-HJKMNP-TV-Z]{4}-[0-9A-HJKMNP-TV-Z]{4}$`)
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		n, err := GenerateTicketNumber()
		require.NoError(t, err)
		assert.Regexp(t, pattern, n)
		seen[n] = true
	}
	assert.Greater(t, len(seen), 990)
}

func TestGenerateInviteToken(t *testing.T) {
	tok, err := GenerateInviteToken()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(tok)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	other, err := GenerateInviteToken()
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, apperror.Conflict("ticket already invited"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"ticket already invited"}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var body struct {
		Email string `json:"email"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@example.com"}`))
	require.NoError(t, DecodeJSON(req, &body))
	assert.Equal(t, "a@example.com", body.Email)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"unknown":1}`))
	err := DecodeJSON(req, &body)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestDecodeOptionalJSON(t *testing.T) {
	var body struct {
		UserID string `json:"userId"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	require.NoError(t, DecodeOptionalJSON(req, &body))
	assert.Empty(t, body.UserID)
	assert.ErrorIs(t, DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &body), apperror.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"userId":"u1"}`))
	require.NoError(t, DecodeOptionalJSON(req, &body))
	assert.Equal(t, "u1", body.UserID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"userId":`))
	assert.ErrorIs(t, DecodeOptionalJSON(req, &body), apperror.ErrValidation)
}
