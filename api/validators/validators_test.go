package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/safetransit/pkg/errors"
)

type sampleRequest struct {
	Reason string  `json:"reason" validate:"notblank"`
	Email  *string `json:"email,omitempty" validate:"omitempty,email"`
	Count  int     `json:"count"`
}

func decode(t *testing.T, body string) (sampleRequest, error) {
	t.Helper()
	var dest sampleRequest
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return dest, DecodeJSONBody(req, &dest)
}

func details(t *testing.T, err error) map[string]string {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	out, _ := typed.Details().(map[string]string)
	return out
}

func TestDecodeJSONBodyAcceptsValidInput(t *testing.T) {
	got, err := decode(t, `{"reason":" chargeback ","email":"ops@example.com","count":2}`)
	require.NoError(t, err)
	assert.Equal(t, " chargeback ", got.Reason)
	assert.Equal(t, 2, got.Count)
}

func TestDecodeJSONBodyFieldErrors(t *testing.T) {
	_, err := decode(t, `{"reason":"   ","email":"nope"}`)
	assert.Equal(t, map[string]string{
		"reason": "must not be blank",
		"email":  "must be a valid email",
	}, details(t, err))
}

func TestDecodeJSONBodyRejectsMalformedBodies(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"unknown field": `{"reason":"x","extra":true}`,
		"wrong type":    `{"reason":"x","count":"two"}`,
		"trailing data": `{"reason":"x"}{"reason":"y"}`,
		"oversized":     `{"reason":"` + strings.Repeat("a", MaxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		_, err := decode(t, body)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "%s: got %v", name, err)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25&offset=-1&page=x", nil)

	v, err := ParseQueryInt(req, "limit", 50, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 25, v)

	v, err = ParseQueryInt(req, "missing", 50, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	_, err = ParseQueryInt(req, "offset", 0, 0, 10)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ParseQueryInt(req, "page", 1, 1, 10)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseUUIDString(t *testing.T) {
	_, err := ParseUUIDString("not-a-uuid", "deposit_id")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	id, err := ParseUUIDString(" 7b0b5d6e-8a4f-4a43-9d2b-0c1f2b9b5a11 ", "deposit_id")
	require.NoError(t, err)
	assert.Equal(t, "7b0b5d6e-8a4f-4a43-9d2b-0c1f2b9b5a11", id.String())
}
