// Package pda derives Solana program addresses.
package pda

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known program IDs.
const (
	SystemProgramID          = "11111111111111111111111111111111"
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	RentSysvarID             = "SysvarRent111111111111111111111111111111111"
)

const (
	maxSeeds      = 16
	maxSeedLength = 32
	pdaMarker     = "ProgramDerivedAddress"
)

var (
	// ErrInvalidPublicKey is returned when an address is not 32 bytes of base58.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidSeeds is returned when seeds exceed the runtime limits or land on the curve.
	ErrInvalidSeeds = errors.New("invalid seeds")

	// ErrNoViableBump is returned when every bump seed yields an on-curve point.
	ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

	errOnCurve = fmt.Errorf("%w: address on curve", ErrInvalidSeeds)
)

// Decode parses a base58 address into its 32 raw bytes.
func Decode(address string) ([]byte, error) {
	b, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPublicKey, address, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: %s: length %d", ErrInvalidPublicKey, address, len(b))
	}
	return b, nil
}

// IsValidAddress reports whether address decodes to 32 bytes.
func IsValidAddress(address string) bool {
	_, err := Decode(address)
	return err == nil
}

// CreateProgramAddress hashes seeds with programID and rejects on-curve results.
func CreateProgramAddress(seeds [][]byte, programID []byte) ([]byte, error) {
	if len(seeds) > maxSeeds {
		return nil, fmt.Errorf("%w: %d seeds", ErrInvalidSeeds, len(seeds))
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > maxSeedLength {
			return nil, fmt.Errorf("%w: seed of %d bytes", ErrInvalidSeeds, len(seed))
		}
		h.Write(seed)
	}
	h.Write(programID)
	h.Write([]byte(pdaMarker))
	hash := h.Sum(nil)

	if isOnCurve(hash) {
		return nil, errOnCurve
	}
	return hash, nil
}

// FindProgramAddress searches bump seeds from 255 down for the first off-curve address.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := Decode(programID)
	if err != nil {
		return "", 0, err
	}

	if len(seeds) >= maxSeeds {
		return "", 0, fmt.Errorf("%w: %d seeds plus bump", ErrInvalidSeeds, len(seeds))
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return base58.Encode(addr), uint8(bump), nil
		}
		if err != errOnCurve {
			return "", 0, err
		}
	}

	return "", 0, ErrNoViableBump
}

// AssociatedTokenAddress derives the canonical token account of owner for mint.
func AssociatedTokenAddress(owner, mint string) (string, error) {
	ownerBytes, err := Decode(owner)
	if err != nil {
		return "", err
	}
	mintBytes, err := Decode(mint)
	if err != nil {
		return "", err
	}
	tokenProgram, err := Decode(TokenProgramID)
	if err != nil {
		return "", err
	}

	addr, _, err := FindProgramAddress([][]byte{ownerBytes, tokenProgram, mintBytes}, AssociatedTokenProgramID)
	return addr, err
}

// FactoryAddress derives the token factory record of authority under programID.
func FactoryAddress(programID, authority string) (string, uint8, error) {
	authBytes, err := Decode(authority)
	if err != nil {
		return "", 0, err
	}
	return FindProgramAddress([][]byte{[]byte("token_factory"), authBytes}, programID)
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
