// Package callbacktoken issues the short-lived tokens remote workers use to
// report node progress back for one batch.
package callbacktoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	BatchID string `json:"batch_id"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 callback tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Issue returns a token scoped to batchID.
func (i *Issuer) Issue(batchID string) (string, error) {
	if batchID == "" {
		return "", errors.New("callback token needs a batch id")
	}
	jti, err := generateJTI()
	if err != nil {
		return "", err
	}
	now := i.now()
	c := Claims{
		BatchID: batchID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   "executor",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
}

// Parse validates tok and returns its claims.
func (i *Issuer) Parse(tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || claims.BatchID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// Verify returns the batch a token is scoped to.
func (i *Issuer) Verify(tok string) (string, error) {
	c, err := i.Parse(tok)
	if err != nil {
		return "", err
	}
	return c.BatchID, nil
}
