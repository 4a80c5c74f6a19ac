package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/runners", nil)
	_, err := ExtractBearerToken(req)
	assert.ErrorIs(t, err, ErrMissingToken)

	req.Header.Set("Authorization", "Basic abc")
	_, err = ExtractBearerToken(req)
	assert.Error(t, err)

	req.Header.Set("Authorization", "Bearer   ")
	_, err = ExtractBearerToken(req)
	assert.ErrorIs(t, err, ErrMissingToken)

	req.Header.Set("Authorization", "Bearer s3cret")
	token, err := ExtractBearerToken(req)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", token)
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check("s3cret", "s3cret"))
	assert.ErrorIs(t, Check("s3creT", "s3cret"), ErrInvalidToken)
	assert.ErrorIs(t, Check("short", "s3cret"), ErrInvalidToken)
	assert.ErrorIs(t, Check("anything", ""), ErrInvalidToken)
	assert.ErrorIs(t, Check("", "s3cret"), ErrMissingToken)
}

func TestAuthenticate(t *testing.T) {
	req := httptest.NewRequest("GET", "/events", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	assert.NoError(t, Authenticate(req, "s3cret"))
	assert.ErrorIs(t, Authenticate(req, "other!"), ErrInvalidToken)
}
