// Package tokenprogram emulates the SPL token program and the associated token account
// program on top of the runtime ledger. Every call is recorded as the SPL instruction a
// validator would execute.
package tokenprogram

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/token"
	"github.com/sirupsen/logrus"

	"hypertoken/internal/domain"
	"hypertoken/internal/pda"
	"hypertoken/internal/runtime"
)

// Program is the in-process SPL token program.
type Program struct {
	logger logrus.FieldLogger
}

// New creates a token program.
func New(logger logrus.FieldLogger) *Program {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Program{logger: logger.WithField("component", "token_program")}
}

// InitializeMint funds a new mint account and initializes it with decimals and
// the given authorities. A nil freezeAuthority leaves the mint without one.
func (p *Program) InitializeMint(tx *runtime.Tx, mint string, decimals uint8, mintAuthority string, freezeAuthority *string) error {
	exists, err := tx.MintExists(mint)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: mint %s", ErrAlreadyInUse, mint)
	}

	if _, err := tx.CreateAccount(mint, pda.TokenProgramID, token.MintAccountSize); err != nil {
		return err
	}

	var freeze *common.PublicKey
	if freezeAuthority != nil {
		pk := common.PublicKeyFromString(*freezeAuthority)
		freeze = &pk
	}
	ix := token.InitializeMint(token.InitializeMintParam{
		Decimals:   decimals,
		Mint:       common.PublicKeyFromString(mint),
		MintAuth:   common.PublicKeyFromString(mintAuthority),
		FreezeAuth: freeze,
	})

	return tx.Invoke(ix, func() error {
		tx.Log("Instruction: InitializeMint")

		auth := mintAuthority
		m := &domain.Mint{
			Address:       mint,
			Decimals:      decimals,
			MintAuthority: &auth,
			IsInitialized: true,
		}
		if freezeAuthority != nil {
			fa := *freezeAuthority
			m.FreezeAuthority = &fa
		}
		return tx.CreateMint(m)
	})
}

// MintTo mints amount raw units of mint into destination, signed by authority.
func (p *Program) MintTo(tx *runtime.Tx, mint, destination, authority string, amount uint64) error {
	ix := token.MintTo(token.MintToParam{
		Mint:   common.PublicKeyFromString(mint),
		To:     common.PublicKeyFromString(destination),
		Auth:   common.PublicKeyFromString(authority),
		Amount: amount,
	})

	return tx.Invoke(ix, func() error {
		tx.Log("Instruction: MintTo")

		m, err := p.initializedMint(tx, mint)
		if err != nil {
			return err
		}
		if !m.HasMintAuthority(authority) {
			return fmt.Errorf("%w: %s is not the mint authority of %s", ErrOwnerMismatch, authority, mint)
		}

		acct, err := tx.TokenAccount(destination)
		if err != nil {
			if errors.Is(err, runtime.ErrAccountNotFound) {
				return fmt.Errorf("%w: token account %s", ErrUninitializedState, destination)
			}
			return err
		}
		switch {
		case acct.State == domain.TokenAccountUninitialized:
			return fmt.Errorf("%w: token account %s", ErrUninitializedState, destination)
		case acct.State == domain.TokenAccountFrozen:
			return fmt.Errorf("%w: %s", ErrAccountFrozen, destination)
		case acct.Mint != mint:
			return fmt.Errorf("%w: %s holds %s", ErrMintMismatch, destination, acct.Mint)
		}

		supply, carry := bits.Add64(m.Supply, amount, 0)
		if carry != 0 {
			return fmt.Errorf("%w: supply of %s", ErrOverflow, mint)
		}
		balance, carry := bits.Add64(acct.Amount, amount, 0)
		if carry != 0 {
			return fmt.Errorf("%w: balance of %s", ErrOverflow, destination)
		}

		m.Supply = supply
		acct.Amount = balance
		if err := tx.UpdateMint(m); err != nil {
			return err
		}
		if err := tx.UpdateTokenAccount(acct); err != nil {
			return err
		}

		p.logger.WithFields(logrus.Fields{
			"mint":        mint,
			"destination": destination,
			"amount":      amount,
		}).Debug("minted")
		return nil
	})
}

func (p *Program) initializedMint(tx *runtime.Tx, mint string) (*domain.Mint, error) {
	m, err := tx.Mint(mint)
	if err != nil {
		if errors.Is(err, runtime.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: mint %s", ErrUninitializedState, mint)
		}
		return nil, err
	}
	if !m.IsInitialized {
		return nil, fmt.Errorf("%w: mint %s", ErrUninitializedState, mint)
	}
	return m, nil
}
