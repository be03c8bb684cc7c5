package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token audiences
const (
	AudienceUser  = "user"
	AudienceAdmin = "admin"
)

// TokenClaims is the JWT payload for both user and admin tokens.
type TokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthResponse is returned by every flow that signs a principal in.
type AuthResponse struct {
	Token string `json:"token"`
}
