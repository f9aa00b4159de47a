package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
)

// GenerateSigningKeyPair returns a PEM encoded ECDSA P-256 pair.
func GenerateSigningKeyPair() (model.KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return model.KeyPair{}, err
	}
	return encodePair(&priv.PublicKey, priv)
}

// Sign returns an ASN.1 DER ECDSA signature over SHA-256(message).
func Sign(message []byte, privateKeyPEM string) ([]byte, error) {
	k, err := parsePrivate(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	priv, ok := k.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an ECDSA private key", ErrInvalidKey)
	}
	digest := sha256.Sum256(message)
	return ecdsa.SignASN1(rand.Reader, priv, digest[:])
}

// SignBase64 is Sign with the signature encoded as standard base64.
func SignBase64(message []byte, privateKeyPEM string) (string, error) {
	sig, err := Sign(message, privateKeyPEM)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether signature (base64 DER) is valid for message under publicKeyPEM.
// It never panics: malformed signatures or keys are simply reported as false.
// Whitespace inside the base64 text is ignored.
func Verify(message []byte, signature, publicKeyPEM string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	sig := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, signature)
	if sig == "" || publicKeyPEM == "" {
		return false
	}
	der, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	k, err := parsePublic(publicKeyPEM)
	if err != nil {
		return false
	}
	pub, isECDSA := k.(*ecdsa.PublicKey)
	if !isECDSA {
		return false
	}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(pub, digest[:], der)
}
