package models

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role represents operator roles of the ops API
type Role string

const (
	// RoleAdmin can trigger jobs
	RoleAdmin Role = "admin"
	// RoleViewer can only read point state
	RoleViewer Role = "viewer"
)

// Claims represents the JWT claims for ops API authentication
type Claims struct {
	Subject string `json:"sub_name"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken issues a signed operator token
func GenerateToken(secretKey, subject string, role Role, ttl time.Duration) (string, error) {
	if secretKey == "" {
		return "", errors.New("empty JWT secret key")
	}

	claims := &Claims{
		Subject: subject,
		Role:    string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "pdmon",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secretKey))
}
