package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"crosspost/internal/domain"
)

const callbackIssuer = "crosspost-cleanup"

// CallbackClaims bind a cleanup callback to one job, its post and its media
type CallbackClaims struct {
	PostID    string `json:"post_id"`
	MediaHash string `json:"media_hash"`
	jwt.RegisteredClaims
}

// CallbackSigner signs and verifies cleanup callback tokens with HS256
type CallbackSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCallbackSigner creates a signer. Tokens are valid for ttl after signing.
func NewCallbackSigner(secret string, ttl time.Duration) *CallbackSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CallbackSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign issues a token for job
func (s *CallbackSigner) Sign(job *domain.CleanupJob) (string, error) {
	now := s.now()
	claims := &CallbackClaims{
		PostID:    job.PostID,
		MediaHash: MediaHash(job.Media),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    callbackIssuer,
			Subject:   job.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the signature, issuer and expiry of a token and returns its claims
func (s *CallbackSigner) Verify(tokenString string) (*CallbackClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CallbackClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(callbackIssuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", domain.ErrInvalidCallback)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCallback, err)
	}

	claims, ok := token.Claims.(*CallbackClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, domain.ErrInvalidCallback
	}
	return claims, nil
}

// MediaHash fingerprints an ordered media list
func MediaHash(media []domain.MediaRef) string {
	h := sha256.New()
	for _, m := range media {
		h.Write([]byte(m.URL))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
