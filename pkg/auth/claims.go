package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/locad/locad-payments/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID   string
	UserType enums.UserType
	JTI      string
}

// AccessTokenClaims represents the typed JWT issued by the identity layer.
type AccessTokenClaims struct {
	UserID   string         `json:"user_id"`
	UserType enums.UserType `json:"user_type,omitempty"`
	jwt.RegisteredClaims
}
