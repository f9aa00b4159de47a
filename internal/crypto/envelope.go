package crypto

import (
	"encoding/base64"
	"fmt"
)

// Envelope is a message encrypted once with a fresh session key that is
// wrapped separately for the sender and the recipient.
type Envelope struct {
	Ciphertext   string `json:"message"`
	SenderKey    string `json:"originKey"`
	RecipientKey string `json:"targetKey"`
}

// Seal encrypts plaintext under a fresh AES-256 key and wraps that key under
// both RSA public keys, so either party can later open its own copy.
func Seal(plaintext, senderPublicKeyPEM, recipientPublicKeyPEM string) (Envelope, error) {
	key, err := RandBytes(KeySize)
	if err != nil {
		return Envelope{}, err
	}
	ct, err := EncryptGCM([]byte(plaintext), key)
	if err != nil {
		return Envelope{}, err
	}
	senderKey, err := EncryptRSA(key, senderPublicKeyPEM)
	if err != nil {
		return Envelope{}, fmt.Errorf("wrap for sender: %w", err)
	}
	recipientKey, err := EncryptRSA(key, recipientPublicKeyPEM)
	if err != nil {
		return Envelope{}, fmt.Errorf("wrap for recipient: %w", err)
	}
	return Envelope{Ciphertext: ct, SenderKey: senderKey, RecipientKey: recipientKey}, nil
}

// Open unwraps the session key with the caller's RSA private key and decrypts.
// Every failure is reported as ErrDecryptionFailed (possibly wrapped).
func Open(ciphertext, wrappedKey, privateKeyPEM string) (string, error) {
	key, err := DecryptRSA(wrappedKey, privateKeyPEM)
	if err != nil {
		return "", fmt.Errorf("%w: unwrap: %v", ErrDecryptionFailed, err)
	}
	pt, err := DecryptGCM(ciphertext, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(pt), nil
}

// OpenOrRaw is the display-path variant of Open: on failure it returns the
// ciphertext unchanged and ok=false.
func OpenOrRaw(ciphertext, wrappedKey, privateKeyPEM string) (text string, ok bool) {
	pt, err := Open(ciphertext, wrappedKey, privateKeyPEM)
	if err != nil {
		return ciphertext, false
	}
	return pt, true
}

// NewGroupKey returns fresh base64 key material for a group.
func NewGroupKey() (string, error) {
	key, err := RandBytes(KeySize)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func decodeGroupKey(groupKey string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(groupKey)
	if err != nil {
		return nil, fmt.Errorf("%w: group key is not base64", ErrInvalidKeySize)
	}
	return key, nil
}

// SealGroup encrypts plaintext directly with the shared group key.
func SealGroup(plaintext, groupKey string) (string, error) {
	key, err := decodeGroupKey(groupKey)
	if err != nil {
		return "", err
	}
	return EncryptGCM([]byte(plaintext), key)
}

// OpenGroup decrypts a group message with the shared group key.
func OpenGroup(ciphertext, groupKey string) (string, error) {
	key, err := decodeGroupKey(groupKey)
	if err != nil {
		return "", err
	}
	pt, err := DecryptGCM(ciphertext, key)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
