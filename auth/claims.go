package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the JWT payload accepted by kseo. Operators mint tokens with
// GenerateToken; hosts that already run a login flow can mint compatible
// tokens with the shared secret.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Scope  string `json:"scope,omitempty"`
}
