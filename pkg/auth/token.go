package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/locad/locad-payments/pkg/config"
)

// clockSkew tolerates small drift between the identity service and this API.
const clockSkew = 30 * time.Second

var (
	jwtSigningMethod = jwt.SigningMethodHS256

	errSecretRequired = errors.New("jwt secret is required")
	errMissingUser    = errors.New("token missing user_id")
)

// ParseAccessToken verifies a bearer token issued by the identity service.
// The caller id comes from user_id, falling back to sub. A user_type claim,
// when present, must name a marketplace side; callers without one are
// resolved from the users table later.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, errSecretRequired
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, signingKey(cfg.Secret),
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(claims.UserID) == "" {
		claims.UserID = strings.TrimSpace(claims.Subject)
	}
	switch {
	case claims.UserID == "":
		return nil, errMissingUser
	case claims.UserType != "" && !claims.UserType.IsValid():
		return nil, fmt.Errorf("token has unknown user_type %q", claims.UserType)
	}
	return claims, nil
}

func signingKey(secret string) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method != jwtSigningMethod {
			return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
		}
		return []byte(secret), nil
	}
}

// MintAccessToken signs a token the way the identity service does. The
// payments API never issues tokens; tooling and tests use this.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", errSecretRequired
	case cfg.Issuer == "":
		return "", errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return "", errors.New("jwt expiration minutes must be positive")
	case strings.TrimSpace(payload.UserID) == "":
		return "", errors.New("user id is required")
	case payload.UserType != "" && !payload.UserType.IsValid():
		return "", fmt.Errorf("invalid user type %q", payload.UserType)
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := AccessTokenClaims{
		UserID:   payload.UserID,
		UserType: payload.UserType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}
