package certificate

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pestypig/casimirbot/warpgate/pkg/contracts"
)

// TokenIssuer is the iss claim of attestation tokens.
const TokenIssuer = "warpgate/certificate"

// Claims is a signed attestation of a certificate hash. Holders of the
// public key can trust the status without re-deriving the payload.
type Claims struct {
	jwt.RegisteredClaims
	CertificateID string                    `json:"cid"`
	Hash          string                    `json:"hash"`
	Status        contracts.ViabilityStatus `json:"status"`
	PolicyVersion string                    `json:"policy_version,omitempty"`
}

// SignToken returns an EdDSA-signed JWT attesting cert.
func SignToken(cert *contracts.Certificate, key ed25519.PrivateKey, keyID string, ttl time.Duration) (string, error) {
	if !cert.HasHash() {
		return "", fmt.Errorf("certificate: cannot sign a certificate without a hash")
	}
	issued := cert.Header.IssuedAt
	if issued.IsZero() {
		issued = time.Now().UTC()
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       cert.Header.ID,
			Subject:  cert.CertificateHash,
			Issuer:   TokenIssuer,
			IssuedAt: jwt.NewNumericDate(issued),
		},
		CertificateID: cert.Header.ID,
		Hash:          cert.CertificateHash,
		Status:        cert.Payload.Status,
		PolicyVersion: cert.Payload.PolicyVersion,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(issued.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	if keyID != "" {
		token.Header["kid"] = keyID
	}
	return token.SignedString(key)
}

// ParseToken validates an attestation token against pub.
func ParseToken(tokenString string, pub ed25519.PublicKey) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return pub, nil
	}, jwt.WithIssuer(TokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("certificate: parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

// ErrTokenMismatch means an attestation does not match the certificate.
var ErrTokenMismatch = errors.New("certificate: token does not match certificate")

// MatchToken checks that claims attest exactly cert.
func MatchToken(claims *Claims, cert *contracts.Certificate) error {
	if claims == nil || cert == nil {
		return ErrTokenMismatch
	}
	if claims.Hash != cert.CertificateHash || claims.CertificateID != cert.Header.ID || claims.Status != cert.Payload.Status {
		return ErrTokenMismatch
	}
	return nil
}
