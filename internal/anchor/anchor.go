// Package anchor encodes the factory program's on-chain layouts: account and event
// discriminators, borsh bodies and "Program data:" log lines.
package anchor

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"

	"hypertoken/internal/domain"
)

// DataLogPrefix marks event payload lines in program logs.
const DataLogPrefix = "Program data: "

// TokenFactoryAccountSize is discriminator + authority + token_count.
const TokenFactoryAccountSize = 8 + 32 + 8

var (
	// ErrUnknownDiscriminator is returned for payloads that are not factory events/accounts.
	ErrUnknownDiscriminator = errors.New("unknown discriminator")

	// ErrShortData is returned when a payload is shorter than its discriminator.
	ErrShortData = errors.New("data too short")
)

// Discriminator is the 8-byte type tag prefixed to accounts, events and instructions.
type Discriminator [8]byte

func sighash(namespace, name string) Discriminator {
	var d Discriminator
	h := sha256.Sum256([]byte(namespace + ":" + name))
	copy(d[:], h[:8])
	return d
}

// AccountDiscriminator returns sha256("account:<name>")[:8].
func AccountDiscriminator(name string) Discriminator { return sighash("account", name) }

// EventDiscriminator returns sha256("event:<name>")[:8].
func EventDiscriminator(name string) Discriminator { return sighash("event", name) }

// InstructionDiscriminator returns sha256("global:<name>")[:8].
func InstructionDiscriminator(name string) Discriminator { return sighash("global", name) }

var (
	tokenFactoryDisc         = AccountDiscriminator("TokenFactory")
	tokenCreatedDisc         = EventDiscriminator("TokenCreated")
	tokenMetadataUpdatedDisc = EventDiscriminator("TokenMetadataUpdated")
)

type pubkey [32]byte

func toPubkey(address string) (pubkey, error) {
	var pk pubkey
	b, err := base58.Decode(address)
	if err != nil {
		return pk, fmt.Errorf("decode pubkey %q: %w", address, err)
	}
	if len(b) != 32 {
		return pk, fmt.Errorf("decode pubkey %q: length %d", address, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

func (pk pubkey) String() string { return base58.Encode(pk[:]) }

type tokenFactoryLayout struct {
	Authority  pubkey
	TokenCount uint64
}

type tokenCreatedLayout struct {
	Mint          pubkey
	Name          string
	Symbol        string
	URI           string
	Decimals      uint8
	InitialSupply uint64
	Creator       pubkey
}

type tokenMetadataUpdatedLayout struct {
	Mint    pubkey
	Name    string
	Symbol  string
	URI     string
	Updater pubkey
}

func encode(disc Discriminator, body interface{}) ([]byte, error) {
	payload, err := borsh.Serialize(body)
	if err != nil {
		return nil, fmt.Errorf("borsh serialize: %w", err)
	}
	out := make([]byte, 0, len(disc)+len(payload))
	out = append(out, disc[:]...)
	return append(out, payload...), nil
}

// EncodeTokenFactory returns the account data of f.
func EncodeTokenFactory(f *domain.TokenFactory) ([]byte, error) {
	auth, err := toPubkey(f.Authority)
	if err != nil {
		return nil, err
	}
	return encode(tokenFactoryDisc, tokenFactoryLayout{Authority: auth, TokenCount: f.TokenCount})
}

// DecodeTokenFactory parses account data. Address and Bump are not part of the layout.
func DecodeTokenFactory(data []byte) (*domain.TokenFactory, error) {
	if len(data) < len(tokenFactoryDisc) {
		return nil, ErrShortData
	}
	if !bytes.Equal(data[:8], tokenFactoryDisc[:]) {
		return nil, ErrUnknownDiscriminator
	}

	var layout tokenFactoryLayout
	if err := borsh.Deserialize(&layout, data[8:]); err != nil {
		return nil, fmt.Errorf("borsh deserialize token factory: %w", err)
	}
	return &domain.TokenFactory{
		Authority:  layout.Authority.String(),
		TokenCount: layout.TokenCount,
	}, nil
}

// EncodeEvent returns the event payload: discriminator followed by the borsh body.
func EncodeEvent(ev domain.Event) ([]byte, error) {
	switch e := ev.(type) {
	case *domain.TokenCreated:
		mint, err := toPubkey(e.Mint)
		if err != nil {
			return nil, err
		}
		creator, err := toPubkey(e.Creator)
		if err != nil {
			return nil, err
		}
		return encode(tokenCreatedDisc, tokenCreatedLayout{
			Mint:          mint,
			Name:          e.Name,
			Symbol:        e.Symbol,
			URI:           e.URI,
			Decimals:      e.Decimals,
			InitialSupply: e.InitialSupply,
			Creator:       creator,
		})
	case *domain.TokenMetadataUpdated:
		mint, err := toPubkey(e.Mint)
		if err != nil {
			return nil, err
		}
		updater, err := toPubkey(e.Updater)
		if err != nil {
			return nil, err
		}
		return encode(tokenMetadataUpdatedDisc, tokenMetadataUpdatedLayout{
			Mint:    mint,
			Name:    e.Name,
			Symbol:  e.Symbol,
			URI:     e.URI,
			Updater: updater,
		})
	default:
		return nil, fmt.Errorf("encode event %T: %w", ev, ErrUnknownDiscriminator)
	}
}

// DecodeEvent parses an event payload.
func DecodeEvent(data []byte) (domain.Event, error) {
	if len(data) < 8 {
		return nil, ErrShortData
	}

	var disc Discriminator
	copy(disc[:], data[:8])
	body := data[8:]

	switch disc {
	case tokenCreatedDisc:
		var layout tokenCreatedLayout
		if err := borsh.Deserialize(&layout, body); err != nil {
			return nil, fmt.Errorf("borsh deserialize TokenCreated: %w", err)
		}
		return &domain.TokenCreated{
			Mint:          layout.Mint.String(),
			Name:          layout.Name,
			Symbol:        layout.Symbol,
			URI:           layout.URI,
			Decimals:      layout.Decimals,
			InitialSupply: layout.InitialSupply,
			Creator:       layout.Creator.String(),
		}, nil
	case tokenMetadataUpdatedDisc:
		var layout tokenMetadataUpdatedLayout
		if err := borsh.Deserialize(&layout, body); err != nil {
			return nil, fmt.Errorf("borsh deserialize TokenMetadataUpdated: %w", err)
		}
		return &domain.TokenMetadataUpdated{
			Mint:    layout.Mint.String(),
			Name:    layout.Name,
			Symbol:  layout.Symbol,
			URI:     layout.URI,
			Updater: layout.Updater.String(),
		}, nil
	default:
		return nil, ErrUnknownDiscriminator
	}
}

// EventLogLine renders ev as the "Program data:" line a validator would log.
func EventLogLine(ev domain.Event) (string, error) {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return "", err
	}
	return DataLogPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// ParseEventLogLine decodes a "Program data:" line. ok is false for lines that are not
// data lines; data lines of other programs yield ErrUnknownDiscriminator.
func ParseEventLogLine(line string) (ev domain.Event, ok bool, err error) {
	if !strings.HasPrefix(line, DataLogPrefix) {
		return nil, false, nil
	}

	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line[len(DataLogPrefix):]))
	if err != nil {
		return nil, true, fmt.Errorf("decode program data: %w", err)
	}

	ev, err = DecodeEvent(payload)
	return ev, true, err
}
