package callbacktoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuer_RoundTrip(t *testing.T) {
	iss := NewIssuer("s3cret", time.Hour)

	tok, err := iss.Issue("batch-1")
	require.NoError(t, err)

	batchID, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", batchID)
}

func TestIssuer_RejectsForeignAndExpiredTokens(t *testing.T) {
	iss := NewIssuer("s3cret", time.Minute)
	tok, err := iss.Issue("batch-1")
	require.NoError(t, err)

	_, err = NewIssuer("other", time.Minute).Verify(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	later := NewIssuer("s3cret", time.Minute)
	later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = later.Verify(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestIssuer_RejectsEmptyBatch(t *testing.T) {
	_, err := NewIssuer("s3cret", 0).Issue("")
	assert.Error(t, err)
}

func TestIssuer_RejectsOtherAlgorithms(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS384, Claims{BatchID: "b"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = NewIssuer("s3cret", 0).Verify(tok)
	assert.Error(t, err)
}
