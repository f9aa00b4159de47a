// Package service contains the application services: accounts, direct and
// group messaging, and the transaction ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pkgcrypto "github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/crypto"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/limiter"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/repository"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/validation"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Account limits.
const (
	MaxUsernameLen = 50
	MinPasswordLen = 8
)

// Registration is returned once. The private halves are never stored server-side.
type Registration struct {
	UserID        uuid.UUID
	EncryptionKey model.KeyPair // RSA-OAEP, wraps session keys
	SigningKey    model.KeyPair // ECDSA P-256, signs ciphertexts
}

// AuthService defines account operations.
type AuthService interface {
	// Register creates a user and hands out freshly generated key pairs.
	Register(ctx context.Context, username, password string) (Registration, error)
	// Login authenticates the user and issues an access token. Failed
	// attempts are throttled per (username, remote).
	Login(ctx context.Context, username, password, remote string) (model.Tokens, model.User, error)
	// ParseToken validates an access token and returns its subject.
	ParseToken(token string) (uuid.UUID, error)
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	now       func() time.Time
}

// NewAuthService constructs AuthService with required dependencies.
// A nil lim disables login throttling.
func NewAuthService(users repository.UserRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	if lim == nil {
		lim = limiter.Nop{}
	}
	return &AuthServiceImpl{users: users, signKey: signKey, accessTTL: accessTTL, lim: lim, now: time.Now}
}

// Register validates the credentials, generates both key pairs and stores
// the public halves with an Argon2id password hash.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (Registration, error) {
	username = strings.TrimSpace(username)
	if err := validation.Required("username", username, "password", password); err != nil {
		return Registration{}, err
	}
	if err := validation.MaxLen("username", username, MaxUsernameLen); err != nil {
		return Registration{}, err
	}
	if err := validation.Screen(username); err != nil {
		return Registration{}, err
	}
	if len(password) < MinPasswordLen {
		return Registration{}, errs.Invalid(errs.ErrWeakPassword, "password must have at least %d characters", MinPasswordLen)
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return Registration{}, err
	}
	enc, err := pkgcrypto.GenerateRSAKeyPair()
	if err != nil {
		return Registration{}, fmt.Errorf("rsa keygen: %w", err)
	}
	sig, err := pkgcrypto.GenerateSigningKeyPair()
	if err != nil {
		return Registration{}, fmt.Errorf("ecdsa keygen: %w", err)
	}
	pwdHash, saltAuth, err := pkgcrypto.NewPasswordHash(password)
	if err != nil {
		return Registration{}, err
	}

	u := &model.User{
		ID:               uid,
		Username:         username,
		PwdHash:          pwdHash,
		SaltAuth:         saltAuth,
		PublicKey:        enc.PublicKey,
		SigningPublicKey: sig.PublicKey,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return Registration{}, errs.Invalid(err, "username %q is taken", username)
		}
		return Registration{}, err
	}
	return Registration{UserID: uid, EncryptionKey: enc, SigningKey: sig}, nil
}

// Login checks the password and issues an HS256 access token.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password, remote string) (model.Tokens, model.User, error) {
	username = strings.TrimSpace(username)
	key := limiter.Key(username, remote)

	allowed, wait, err := s.lim.Allow(ctx, key)
	if err != nil {
		return model.Tokens{}, model.User{}, fmt.Errorf("login limiter: %w", err)
	}
	if !allowed {
		return model.Tokens{}, model.User{}, rateLimited(wait)
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.User{}, err
	}
	// unknown users count as failures too, hiding their existence
	if err != nil || !pkgcrypto.VerifyPassword(password, u.SaltAuth, u.PwdHash) {
		locked, wait, ferr := s.lim.Failure(ctx, key)
		switch {
		case ferr != nil:
			return model.Tokens{}, model.User{}, fmt.Errorf("login limiter: %w", ferr)
		case locked:
			return model.Tokens{}, model.User{}, rateLimited(wait)
		}
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}
	if err := s.lim.Success(ctx, key); err != nil {
		return model.Tokens{}, model.User{}, fmt.Errorf("login limiter: %w", err)
	}

	access, exp, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

func rateLimited(wait time.Duration) error {
	return errs.Invalid(errs.ErrRateLimited, "too many failed logins, retry in %s", wait.Round(time.Second))
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// ParseToken accepts only HS256 tokens signed with our key, with 30s leeway.
func (s *AuthServiceImpl) ParseToken(token string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(30*time.Second), jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return uuid.Nil, errs.ErrUnauthorized
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, errs.ErrUnauthorized
	}
	return id, nil
}
