// Package tokenx implements the credential codec: claims are JSON-serialized
// and sealed with AES-256-GCM, so a token is confidential and tamper-evident
// at the same time. The codec is stateless; expiry is enforced by an explicit
// wall-clock check after decryption, not by the cipher.
package tokenx

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

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed reports a token that is not a sealed blob at all
	// (bad encoding, truncated, or claims that fail structural checks).
	ErrMalformed = errors.New("tokenx: malformed token")

	// ErrTampered reports a token whose authentication tag did not verify:
	// either the ciphertext was modified or it was sealed under another key.
	ErrTampered = errors.New("tokenx: token tampered or wrong key")

	// ErrExpired reports a structurally valid token past its expiry.
	ErrExpired = errors.New("tokenx: token expired")
)

// Token type markers embedded in the claims so an access blob can never be
// presented on the refresh path or vice versa.
const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// AccessClaims is the claim set carried by a short-lived access credential.
type AccessClaims struct {
	Type      string           `json:"typ"`
	Subject   string           `json:"sub"`
	Scopes    []string         `json:"scp"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
}

// RefreshClaims is the claim set carried by a long-lived refresh credential.
// ID is the single-use jti; Family ties the credential to its login session.
type RefreshClaims struct {
	Type      string           `json:"typ"`
	UserID    string           `json:"sub"`
	Family    string           `json:"fam"`
	ID        string           `json:"jti"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
}

// Codec seals and opens credentials under a single symmetric key.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives a 32-byte AES key from the configured secret with SHA-256
// and prepares the GCM AEAD. Any non-empty secret is acceptable.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("tokenx: empty secret")
	}

	key := sha256.Sum256(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("tokenx: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("tokenx: gcm init: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// IssueAccess mints an access credential for subject with the given scope set.
func (c *Codec) IssueAccess(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	return c.seal(AccessClaims{
		Type:      typeAccess,
		Subject:   subject,
		Scopes:    scopes,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
}

// ValidateAccess opens an access credential and enforces its expiry.
func (c *Codec) ValidateAccess(token string) (AccessClaims, error) {
	var claims AccessClaims
	if err := c.open(token, &claims); err != nil {
		return AccessClaims{}, err
	}

	if claims.Type != typeAccess || claims.Subject == "" || claims.ExpiresAt == nil {
		return AccessClaims{}, ErrMalformed
	}
	if time.Now().After(claims.ExpiresAt.Time) {
		return AccessClaims{}, ErrExpired
	}

	return claims, nil
}

// IssueRefresh mints a refresh credential bound to a token family with a
// fresh single-use jti.
func (c *Codec) IssueRefresh(userID, family, jti string, ttl time.Duration) (string, error) {
	now := time.Now()
	return c.seal(RefreshClaims{
		Type:      typeRefresh,
		UserID:    userID,
		Family:    family,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
}

// ValidateRefresh opens a refresh credential and enforces its expiry.
func (c *Codec) ValidateRefresh(token string) (RefreshClaims, error) {
	var claims RefreshClaims
	if err := c.open(token, &claims); err != nil {
		return RefreshClaims{}, err
	}

	if claims.Type != typeRefresh || claims.UserID == "" ||
		claims.Family == "" || claims.ID == "" || claims.ExpiresAt == nil {
		return RefreshClaims{}, ErrMalformed
	}
	if time.Now().After(claims.ExpiresAt.Time) {
		return RefreshClaims{}, ErrExpired
	}

	return claims, nil
}

// seal encrypts the JSON-encoded claims. Output layout is
// base64url(nonce || ciphertext || tag), a fresh random nonce per call.
func (c *Codec) seal(claims any) (string, error) {
	plaintext, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("tokenx: encode claims: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("tokenx: nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *Codec) open(token string, claims any) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrMalformed
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return ErrMalformed
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return ErrTampered
	}

	if err := json.Unmarshal(plaintext, claims); err != nil {
		return ErrMalformed
	}
	return nil
}
