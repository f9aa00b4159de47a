package crypto

import "errors"

var (
	// ErrInvalidKeySize is returned when a symmetric key is not 32 bytes.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidKey is returned when PEM/DER key material cannot be parsed.
	ErrInvalidKey = errors.New("invalid key")

	// ErrDecryptionFailed is returned when decryption or unwrapping fails.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrPayloadTooLarge is returned when an RSA-OAEP payload exceeds the modulus limit.
	ErrPayloadTooLarge = errors.New("payload too large for RSA-OAEP")
)
