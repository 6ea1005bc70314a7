// Package auth verifies the bearer tokens presented by service callers such
// as the WhatsApp webhook gateway and the support dashboard.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceClaims identifies the calling service.
type ServiceClaims struct {
	Service string `json:"svc"`
	// PointOfSaleID scopes a caller to one store; empty means every store.
	PointOfSaleID string `json:"pos,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HMAC-signed service tokens.
type TokenManager struct {
	secret []byte
	issuer string
}

func NewTokenManager(secret, issuer string) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Issue signs a token for service. A non-positive ttl issues a token without expiry.
func (m *TokenManager) Issue(service, pointOfSaleID string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := ServiceClaims{
		Service:       service,
		PointOfSaleID: pointOfSaleID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  service,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   m.issuer,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing service token: %w", err)
	}
	return signed, nil
}

func (m *TokenManager) Validate(tokenStr string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ServiceClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, fmt.Errorf("parsing service token: %w", err)
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid || claims.Service == "" {
		return nil, fmt.Errorf("invalid service token claims")
	}

	return claims, nil
}
