package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nzlov/carewire/internal/transport"
)

var (
	ErrNoToken   = errors.New("auth: token required")
	ErrBadToken  = errors.New("auth: invalid token")
	ErrBadSign   = errors.New("auth: bad signature")
	ErrStaleSign = errors.New("auth: signature expired")
)

// Claims are the token fields the relay trusts.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() transport.Identity {
	return transport.Identity{UserID: c.UserID, Role: transport.Role(c.Role)}
}

// tokenFromRequest reads the token query parameter, then a bearer header.
func tokenFromRequest(r *http.Request) string {
	if tk := r.URL.Query().Get("token"); tk != "" {
		return tk
	}
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func ParseToken(secret, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrBadToken)
	}
	return claims, nil
}

// Sign is the hex HMAC-SHA256 of data and timestamp under secret.
func Sign(secret, data, timestamp string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	h.Write([]byte(timestamp))
	return hex.EncodeToString(h.Sum(nil))
}

// CheckSign verifies sign and that timestamp (unix seconds) is within skew
// of now.
func CheckSign(secret, data, timestamp, sign string, now time.Time, skew time.Duration) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: timestamp %q", ErrBadSign, timestamp)
	}
	if d := now.Sub(time.Unix(ts, 0)); d > skew || d < -skew {
		return ErrStaleSign
	}
	if !hmac.Equal([]byte(Sign(secret, data, timestamp)), []byte(sign)) {
		return ErrBadSign
	}
	return nil
}
