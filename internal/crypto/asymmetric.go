package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
)

// RSABits is the modulus size for encryption key pairs.
const RSABits = 2048

// GenerateRSAKeyPair returns a PEM encoded RSA-2048 pair (SPKI public, PKCS#8 private).
func GenerateRSAKeyPair() (model.KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSABits)
	if err != nil {
		return model.KeyPair{}, err
	}
	return encodePair(&priv.PublicKey, priv)
}

// EncryptRSA wraps a short payload with RSA-OAEP/SHA-256 and returns base64.
func EncryptRSA(data []byte, publicKeyPEM string) (string, error) {
	pub, err := parseRSAPublic(publicKeyPEM)
	if err != nil {
		return "", err
	}
	if limit := pub.Size() - 2*sha256.Size - 2; len(data) > limit {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(data), limit)
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, data, nil)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptRSA unwraps a base64 RSA-OAEP/SHA-256 ciphertext.
func DecryptRSA(ciphertext string, privateKeyPEM string) ([]byte, error) {
	priv, err := parseRSAPrivate(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, raw, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

func encodePair(pub, priv any) (model.KeyPair, error) {
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return model.KeyPair{}, err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return model.KeyPair{}, err
	}
	return model.KeyPair{
		PublicKey:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
	}, nil
}

func decodePEM(s string) ([]byte, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}
	return block.Bytes, nil
}

func parsePublic(s string) (any, error) {
	der, err := decodePEM(s)
	if err != nil {
		return nil, err
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pub, nil
}

func parsePrivate(s string) (any, error) {
	der, err := decodePEM(s)
	if err != nil {
		return nil, err
	}
	priv, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return priv, nil
}

func parseRSAPublic(s string) (*rsa.PublicKey, error) {
	k, err := parsePublic(s)
	if err != nil {
		return nil, err
	}
	pub, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", ErrInvalidKey)
	}
	return pub, nil
}

func parseRSAPrivate(s string) (*rsa.PrivateKey, error) {
	k, err := parsePrivate(s)
	if err != nil {
		return nil, err
	}
	priv, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key", ErrInvalidKey)
	}
	return priv, nil
}
