package repository

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService issues and validates the bearer tokens guarding mutating routes
type TokenService interface {
	GenerateToken(ctx context.Context, userID string, buckets []string) (string, error)
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims represents JWT claims. An empty Buckets list grants every bucket.
type Claims struct {
	UserID  string   `json:"userID"`
	Buckets []string `json:"buckets,omitempty"`
	jwt.RegisteredClaims
}

// CanWrite reports whether the token holder may modify bucket
func (c *Claims) CanWrite(bucket string) bool {
	if len(c.Buckets) == 0 {
		return true
	}
	for _, b := range c.Buckets {
		if b == bucket || b == "*" {
			return true
		}
	}
	return false
}
