// Package util holds token helpers shared by the HTTP middleware and the
// upload service.
package util

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

// Claims are the session claims issued by the identity provider. Subject is the user id.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func parsePublicKey(pemKey string) (any, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}

// ParseRSAPublicKey parses a PEM-encoded RSA public key.
func ParseRSAPublicKey(pemKey string) (*rsa.PublicKey, error) {
	pub, err := parsePublicKey(pemKey)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return rsaPub, nil
}

// ParseECDSAPublicKey parses a PEM-encoded ECDSA public key.
func ParseECDSAPublicKey(pemKey string) (*ecdsa.PublicKey, error) {
	pub, err := parsePublicKey(pemKey)
	if err != nil {
		return nil, err
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not ECDSA")
	}
	return ecPub, nil
}

// KeyFunc picks the verification key for alg. HMAC uses keyMaterial as the
// shared secret; RSA and ECDSA expect a PEM public key.
func KeyFunc(alg, keyMaterial string) (jwt.Keyfunc, error) {
	switch alg {
	case "HS256", "HS384", "HS512":
		secret := []byte(keyMaterial)
		return func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v (expected HMAC)", t.Header["alg"])
			}
			return secret, nil
		}, nil
	case "RS256", "RS384", "RS512":
		key, err := ParseRSAPublicKey(keyMaterial)
		if err != nil {
			return nil, err
		}
		return func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v (expected RSA)", t.Header["alg"])
			}
			return key, nil
		}, nil
	case "ES256", "ES384", "ES512":
		key, err := ParseECDSAPublicKey(keyMaterial)
		if err != nil {
			return nil, err
		}
		return func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v (expected ECDSA)", t.Header["alg"])
			}
			return key, nil
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg)
}

func algorithmOf(tokenString string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("failed to parse token header: %w", err)
	}
	alg, ok := token.Header["alg"].(string)
	if !ok {
		return "", errors.New("token header missing 'alg' field")
	}
	return alg, nil
}

// ParseWithClaims verifies tokenString into claims, choosing the key by the
// token's own alg header.
func ParseWithClaims(tokenString, keyMaterial string, claims jwt.Claims) error {
	alg, err := algorithmOf(tokenString)
	if err != nil {
		return err
	}
	keyFunc, err := KeyFunc(alg, keyMaterial)
	if err != nil {
		return err
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc)
	if err != nil {
		return fmt.Errorf("failed to validate token: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// ValidateJWT verifies a session token and returns its claims.
func ValidateJWT(tokenString, keyMaterial string) (*Claims, error) {
	claims := &Claims{}
	if err := ParseWithClaims(tokenString, keyMaterial, claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
