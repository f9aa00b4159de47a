// Package qkd simulates the BB84 key exchange used to key ephemeral messages.
//
// The simulation is classical: measuring a photon in the wrong basis yields a
// deterministic bit instead of a random one. Those positions are discarded by
// sifting, so only the sifted key may be treated as secret.
package qkd

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/hkdf"
)

// DefaultBits is the photon count of one exchange.
const DefaultBits = 50

// KeySize is the length of keys returned by DeriveKey.
const KeySize = 32

// ErrInvalidInput reports mismatched lengths, non-binary bits, or unknown symbols.
var ErrInvalidInput = errors.New("qkd: invalid input")

// Basis is a polarization basis.
type Basis string

// Bases.
const (
	Rectilinear Basis = "+"
	Diagonal    Basis = "x"
)

// Photon is a polarized photon symbol.
type Photon string

// Photon symbols, two per basis.
const (
	Vertical   Photon = "↕" // rectilinear, bit 0
	Horizontal Photon = "↔" // rectilinear, bit 1
	DiagonalUp Photon = "↗" // diagonal, bit 0
	DiagonalDn Photon = "↖" // diagonal, bit 1
)

var encoding = map[Basis][2]Photon{
	Rectilinear: {Vertical, Horizontal},
	Diagonal:    {DiagonalUp, DiagonalDn},
}

func (p Photon) valid() bool {
	switch p {
	case Vertical, Horizontal, DiagonalUp, DiagonalDn:
		return true
	}
	return false
}

func (b Basis) valid() bool { return b == Rectilinear || b == Diagonal }

// GenerateBitsBases draws n uniformly random bits and bases.
func GenerateBitsBases(n int) ([]int, []Basis, error) {
	if n <= 0 {
		return nil, nil, fmt.Errorf("%w: n=%d", ErrInvalidInput, n)
	}
	bits := make([]int, n)
	bases := make([]Basis, n)
	for i := 0; i < n; i++ {
		v, err := randInt(4)
		if err != nil {
			return nil, nil, err
		}
		bits[i] = v & 1
		bases[i] = Rectilinear
		if v&2 != 0 {
			bases[i] = Diagonal
		}
	}
	return bits, bases, nil
}

// RandomBases draws n uniformly random bases.
func RandomBases(n int) ([]Basis, error) {
	_, bases, err := GenerateBitsBases(n)
	return bases, err
}

func randInt(max int64) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// EncodePhotons maps each (bit, basis) pair to its photon symbol.
func EncodePhotons(bits []int, bases []Basis) ([]Photon, error) {
	if len(bits) != len(bases) {
		return nil, fmt.Errorf("%w: %d bits, %d bases", ErrInvalidInput, len(bits), len(bases))
	}
	out := make([]Photon, len(bits))
	for i, bit := range bits {
		if (bit != 0 && bit != 1) || !bases[i].valid() {
			return nil, fmt.Errorf("%w: position %d", ErrInvalidInput, i)
		}
		out[i] = encoding[bases[i]][bit]
	}
	return out, nil
}

// MeasurePhotons reads each photon in the given basis. In the rectilinear
// basis only ↕ reads 0; in the diagonal basis only ↗ reads 0. This matches
// EncodePhotons whenever the bases agree.
func MeasurePhotons(photons []Photon, bases []Basis) ([]int, error) {
	if len(photons) != len(bases) {
		return nil, fmt.Errorf("%w: %d photons, %d bases", ErrInvalidInput, len(photons), len(bases))
	}
	out := make([]int, len(photons))
	for i, p := range photons {
		if !p.valid() || !bases[i].valid() {
			return nil, fmt.Errorf("%w: position %d", ErrInvalidInput, i)
		}
		if p != encoding[bases[i]][0] {
			out[i] = 1
		}
	}
	return out, nil
}

// CompareBasesAndGenerateKey keeps bits[i] where basesA[i] == basesB[i].
func CompareBasesAndGenerateKey(bits []int, basesA, basesB []Basis) ([]int, error) {
	if len(bits) != len(basesA) || len(basesA) != len(basesB) {
		return nil, fmt.Errorf("%w: lengths %d/%d/%d", ErrInvalidInput, len(bits), len(basesA), len(basesB))
	}
	key := make([]int, 0, len(bits))
	for i := range bits {
		if basesA[i] == basesB[i] {
			key = append(key, bits[i])
		}
	}
	return key, nil
}

// DeriveKey stretches a sifted bit string into a KeySize byte key with
// HKDF-SHA256. info binds the key to one exchange.
func DeriveKey(sifted []int, info string) ([]byte, error) {
	if len(sifted) == 0 {
		return nil, fmt.Errorf("%w: empty sifted key", ErrInvalidInput)
	}
	ikm := make([]byte, len(sifted))
	for i, b := range sifted {
		if b != 0 && b != 1 {
			return nil, fmt.Errorf("%w: bit %d", ErrInvalidInput, i)
		}
		ikm[i] = '0' + byte(b)
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}
