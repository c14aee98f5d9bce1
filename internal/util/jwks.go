package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kid string `json:"kid,omitempty"`
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Alg string `json:"alg"`
	Use string `json:"use"`
}

var ErrNoSigningKey = errors.New("no ES256 signing key in JWKS")

// SigningKeyPEM picks the first EC/ES256 key from a JWKS document and returns
// it as a PEM public key usable as SUPABASE_JWT_SECRET.
func SigningKeyPEM(raw []byte) (string, error) {
	var set JWKS
	if err := json.Unmarshal(raw, &set); err != nil {
		return "", fmt.Errorf("parse JWKS: %w", err)
	}
	for _, k := range set.Keys {
		if k.Kty == "EC" && k.Alg == "ES256" {
			return k.PEM()
		}
	}
	return "", ErrNoSigningKey
}

// PEM encodes an EC P-256 key in PKIX form.
func (k JWK) PEM() (string, error) {
	if k.Kty != "EC" || k.Crv != "P-256" {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedAlgorithm, k.Kty, k.Crv)
	}
	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return "", fmt.Errorf("decode x: %w", err)
	}
	y, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return "", fmt.Errorf("decode y: %w", err)
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
