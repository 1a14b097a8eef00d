package auth

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), key)

	other, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestGenerateClaimToken(t *testing.T) {
	token, err := GenerateClaimToken()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), token)
}

func TestGenerateVerificationCode(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := GenerateVerificationCode()
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Oracle", "oracle"},
		{"spaces", "The Mad Oracle", "the_mad_oracle"},
		{"punctuation runs", "Dr. Strange!!", "dr_strange"},
		{"leading trailing", "  edge case  ", "edge_case"},
		{"digits kept", "agent 007", "agent_007"},
		{"all symbols", "!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestVerifySignature(t *testing.T) {
	secret := "topsecret"
	now := time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC)
	ts := now.UnixMilli()
	window := 300 * time.Second

	sig := Sign(secret, ts, "POST", "/api/v1/judgments", `{"direction":"UP"}`)

	err := VerifySignature(secret, sig, ts, "POST", "/api/v1/judgments", `{"direction":"UP"}`, now, window)
	assert.NoError(t, err)

	// tampered body
	err = VerifySignature(secret, sig, ts, "POST", "/api/v1/judgments", `{"direction":"DOWN"}`, now, window)
	assert.ErrorIs(t, err, ErrBadSignature)

	// wrong secret
	err = VerifySignature("other", sig, ts, "POST", "/api/v1/judgments", `{"direction":"UP"}`, now, window)
	assert.ErrorIs(t, err, ErrBadSignature)

	// stale timestamp, either direction of skew
	err = VerifySignature(secret, sig, ts, "POST", "/api/v1/judgments", `{"direction":"UP"}`, now.Add(301*time.Second), window)
	assert.ErrorIs(t, err, ErrStaleTimestamp)
	err = VerifySignature(secret, sig, ts, "POST", "/api/v1/judgments", `{"direction":"UP"}`, now.Add(-301*time.Second), window)
	assert.ErrorIs(t, err, ErrStaleTimestamp)

	// within the window
	err = VerifySignature(secret, sig, ts, "POST", "/api/v1/judgments", `{"direction":"UP"}`, now.Add(299*time.Second), window)
	assert.NoError(t, err)
}
