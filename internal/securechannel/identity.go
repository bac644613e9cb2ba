// Package securechannel authenticates and encrypts round messages between the
// custody parties. Each message is encrypted to its recipient and then signed
// by the sender, so recipients verify before they decrypt.
package securechannel

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"custody-node/internal/mpcerr"
	"encoding/base64"

	"github.com/go-jose/go-jose/v4"
)

// GenerateIdentity creates a fresh P-256 identity keypair for one ceremony.
func GenerateIdentity() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// ArmorPublic renders pub as a JWK string.
func ArmorPublic(pub *ecdsa.PublicKey) (string, error) {
	return armor(pub)
}

// ArmorPrivate renders priv as a JWK string, including the private scalar.
func ArmorPrivate(priv *ecdsa.PrivateKey) (string, error) {
	return armor(priv)
}

func armor(key any) (string, error) {
	jwk := jose.JSONWebKey{Key: key, Algorithm: string(jose.ES256)}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}
	jwk.KeyID = base64.RawURLEncoding.EncodeToString(tp)
	b, err := jwk.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParsePublic parses an armored P-256 public key.
func ParsePublic(s string) (*ecdsa.PublicKey, error) {
	jwk, err := parseJWK(s)
	if err != nil {
		return nil, err
	}
	var pub *ecdsa.PublicKey
	switch k := jwk.Key.(type) {
	case *ecdsa.PublicKey:
		pub = k
	case *ecdsa.PrivateKey:
		return nil, mpcerr.Validationf("expected a public key, got a private key")
	default:
		return nil, mpcerr.Validationf("unsupported identity key type %T", jwk.Key)
	}
	if pub.Curve != elliptic.P256() {
		return nil, mpcerr.Validationf("identity key must be on P-256")
	}
	return pub, nil
}

// ParsePrivate parses an armored P-256 private key.
func ParsePrivate(s string) (*ecdsa.PrivateKey, error) {
	jwk, err := parseJWK(s)
	if err != nil {
		return nil, err
	}
	priv, ok := jwk.Key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, mpcerr.Validationf("unsupported identity private key type %T", jwk.Key)
	}
	if priv.Curve != elliptic.P256() {
		return nil, mpcerr.Validationf("identity key must be on P-256")
	}
	return priv, nil
}

// Thumbprint returns the RFC 7638 thumbprint of an armored key, which
// identifies the key independently of its JSON formatting.
func Thumbprint(s string) (string, error) {
	jwk, err := parseJWK(s)
	if err != nil {
		return "", err
	}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", mpcerr.Validationf("thumbprint: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

func parseJWK(s string) (*jose.JSONWebKey, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON([]byte(s)); err != nil {
		return nil, mpcerr.Validationf("parse identity key: %v", err)
	}
	if !jwk.Valid() {
		return nil, mpcerr.Validationf("identity key is not valid")
	}
	return &jwk, nil
}
