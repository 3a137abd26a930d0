package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Role values accepted on access tokens. Only admins may mint wallets, issue
// API keys and top up balances; metered traffic authenticates with API keys,
// not JWTs.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// Claims are the only supported JWT claims shape for this service.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
