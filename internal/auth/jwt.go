package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTValidator accepts HS256 bearer tokens signed with a shared secret. The
// subject comes from "sub"; roles from "role" (string) or "roles" (array).
type JWTValidator struct {
	secret []byte
	issuer string
}

func NewJWTValidator(secret, issuer string) (*JWTValidator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTValidator{secret: []byte(secret), issuer: issuer}, nil
}

func (v *JWTValidator) Validate(_ context.Context, tokenString string) (Identity, bool) {
	identity, err := v.Parse(tokenString)
	return identity, err == nil
}

func (v *JWTValidator) Parse(tokenString string) (Identity, error) {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, options...)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("invalid token claims")
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Identity{}, fmt.Errorf("token missing sub claim")
	}
	return Identity{Subject: subject, Roles: rolesFromClaims(claims)}, nil
}

// Sign issues a token for identity. The CLI and tests use it.
func (v *JWTValidator) Sign(identity Identity, claims jwt.MapClaims) (string, error) {
	all := jwt.MapClaims{"sub": identity.Subject, "roles": identity.Roles}
	if v.issuer != "" {
		all["iss"] = v.issuer
	}
	for key, value := range claims {
		all[key] = value
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, all).SignedString(v.secret)
}

func rolesFromClaims(claims jwt.MapClaims) []string {
	var raw []string
	if role, ok := claims["role"].(string); ok {
		raw = append(raw, role)
	}
	if roles, ok := claims["roles"].([]any); ok {
		for _, role := range roles {
			if text, ok := role.(string); ok {
				raw = append(raw, text)
			}
		}
	}
	return splitRoles(raw)
}
