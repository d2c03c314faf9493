package models

import "github.com/golang-jwt/jwt/v5"

// UserRole scopes what an authenticated caller may do.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleReviewer UserRole = "REVIEWER"
)

// JWTClaims carries the caller identity and tenant scope. Token issuance is
// owned by the platform gateway; this service only validates.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id"`
	Role     UserRole `json:"role"`
	jwt.RegisteredClaims
}
