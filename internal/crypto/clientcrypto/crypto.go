// Package clientcrypto keeps the user's private keys on the client side,
// sealed under a password derived key.
package clientcrypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
)

// Params
const (
	KeKLen  = 32
	SaltLen = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// vaultAAD binds sealed blobs to this format version.
var vaultAAD = []byte("chatctl/vault/v1")

// ErrVaultCorrupt is returned when a blob is too short, was sealed under
// another key, or has been modified.
var ErrVaultCorrupt = errors.New("vault corrupt or wrong password")

// Vault is the key material handed out once at registration.
type Vault struct {
	UserID        string        `json:"userId"`
	Username      string        `json:"username"`
	EncryptionKey model.KeyPair `json:"encryptionKey"`
	SigningKey    model.KeyPair `json:"signingKey"`
}

func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKEK derives a KEK from password and kekSalt using Argon2id.
func DeriveKEK(password, kekSalt []byte) []byte {
	return argon2.IDKey(password, kekSalt, argonTime, argonMemory, argonThreads, KeKLen)
}

// SealVault encrypts v with kek using XChaCha20-Poly1305 and a random nonce.
// Output: nonce (24) || ciphertext || tag.
func SealVault(kek []byte, v Vault) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, err
	}
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plain)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plain, vaultAAD)
	return out, nil
}

// OpenVault reverses SealVault.
func OpenVault(kek, blob []byte) (Vault, error) {
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return Vault{}, err
	}
	if len(blob) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return Vault{}, ErrVaultCorrupt
	}
	nonce, ct := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, vaultAAD)
	if err != nil {
		return Vault{}, ErrVaultCorrupt
	}
	var v Vault
	if err := json.Unmarshal(plain, &v); err != nil {
		return Vault{}, fmt.Errorf("decode vault: %w", err)
	}
	return v, nil
}

// Lock seals v under a fresh salt and returns salt || SealVault output,
// ready to be written to disk.
func Lock(password []byte, v Vault) ([]byte, error) {
	salt, err := Rand(SaltLen)
	if err != nil {
		return nil, err
	}
	sealed, err := SealVault(DeriveKEK(password, salt), v)
	if err != nil {
		return nil, err
	}
	return append(salt, sealed...), nil
}

// Unlock reverses Lock.
func Unlock(password, blob []byte) (Vault, error) {
	if len(blob) < SaltLen {
		return Vault{}, ErrVaultCorrupt
	}
	return OpenVault(DeriveKEK(password, blob[:SaltLen]), blob[SaltLen:])
}
