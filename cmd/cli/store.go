package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/crypto/clientcrypto"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "chatctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "chatctl")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }
func vaultPath() string { return filepath.Join(cfgDir(), "vault.bin") }

func saveToken(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(tokenPath(), b, 0o600)
}

func loadToken() (tokenFile, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return tokenFile{}, errors.New("no token (login required)")
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return tokenFile{}, err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return tokenFile{}, errors.New("token expired (login required)")
	}
	return tf, nil
}

// saveVault seals the key material under password. The private keys never
// leave this file unencrypted.
func saveVault(password string, v clientcrypto.Vault) error {
	blob, err := clientcrypto.Lock([]byte(password), v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(vaultPath(), blob, 0o600)
}

func loadVault(password string) (clientcrypto.Vault, error) {
	if password == "" {
		return clientcrypto.Vault{}, errors.New("vault password required (-p or CHATCTL_PASSWORD)")
	}
	blob, err := os.ReadFile(vaultPath())
	if err != nil {
		return clientcrypto.Vault{}, fmt.Errorf("no key vault (register first): %w", err)
	}
	return clientcrypto.Unlock([]byte(password), blob)
}
