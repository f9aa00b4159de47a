// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., group name taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrMissingField indicates a required request field is absent or empty.
	ErrMissingField = errors.New("missing required field")

	// ErrWeakPassword indicates a password below the minimum length.
	ErrWeakPassword = errors.New("password too short")

	// ErrSelfMessage indicates a direct message addressed to its own sender.
	ErrSelfMessage = errors.New("cannot send a message to yourself")

	// ErrTooLong indicates a payload exceeding its length bound.
	ErrTooLong = errors.New("payload too long")

	// ErrUnsafeContent indicates an injection/XSS pattern was detected.
	ErrUnsafeContent = errors.New("unsafe content")

	// ErrNotMember indicates group access by a user outside the group.
	ErrNotMember = errors.New("not a group member")

	// ErrAlreadyMember indicates a duplicate (group, user) membership.
	ErrAlreadyMember = errors.New("already a group member")

	// ErrReadOnly indicates the ledger failed validation and writes are disabled.
	ErrReadOnly = errors.New("ledger read-only")

	// ErrIndexConflict indicates another writer already stored a block at the same index.
	ErrIndexConflict = errors.New("block index conflict")

	// ErrExchangeInFlight indicates a key exchange for the same pair is still running.
	ErrExchangeInFlight = errors.New("key exchange already in progress")

	// ErrNoExchange indicates no live key exchange for the pair.
	ErrNoExchange = errors.New("no key exchange in progress")

	// ErrRateLimited indicates too many failed logins from one source.
	ErrRateLimited = errors.New("too many failed logins")

	// ErrOffline indicates the addressed user has no live connection.
	ErrOffline = errors.New("recipient offline")
)
