// Package limiter throttles repeated failed logins per (username, remote host).
package limiter

import (
	"context"
	"encoding/hex"
	"net"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether a login is currently allowed, and otherwise how long to wait.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	// Success clears the failure count of key.
	Success(ctx context.Context, key string) error
	// Failure records a failed attempt and reports whether key is now locked out.
	Failure(ctx context.Context, key string) (bool, time.Duration, error)
}

// Key identifies an attempt source without storing the raw username or address.
// The port of remote is dropped so reconnects share one counter.
func Key(username, remote string) string {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	sum := blake3.Sum256([]byte(strings.ToLower(strings.TrimSpace(username)) + "\x00" + host))
	return hex.EncodeToString(sum[:])
}

// Nop allows everything.
type Nop struct{}

func (Nop) Allow(context.Context, string) (bool, time.Duration, error)   { return true, 0, nil }
func (Nop) Success(context.Context, string) error                        { return nil }
func (Nop) Failure(context.Context, string) (bool, time.Duration, error) { return false, 0, nil }
