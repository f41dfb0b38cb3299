package tokenprogram

import (
	"fmt"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/associated_token_account"
	"github.com/blocto/solana-go-sdk/program/token"
	"github.com/sirupsen/logrus"

	"hypertoken/internal/domain"
	"hypertoken/internal/pda"
	"hypertoken/internal/runtime"
)

// AssociatedTokenProgram is the in-process associated token account program.
type AssociatedTokenProgram struct {
	tokens *Program
	logger logrus.FieldLogger
}

// NewAssociatedTokenProgram creates an associated token account program backed by tokens.
func NewAssociatedTokenProgram(tokens *Program, logger logrus.FieldLogger) *AssociatedTokenProgram {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AssociatedTokenProgram{
		tokens: tokens,
		logger: logger.WithField("component", "associated_token_program"),
	}
}

// Derive returns the associated token address of owner for mint.
func (a *AssociatedTokenProgram) Derive(owner, mint string) (string, error) {
	return pda.AssociatedTokenAddress(owner, mint)
}

// Create creates and initializes the associated token account of owner for mint,
// funded by payer. Fails with ErrAlreadyInUse if the account exists.
func (a *AssociatedTokenProgram) Create(tx *runtime.Tx, payer, owner, mint string) (string, error) {
	address, err := a.Derive(owner, mint)
	if err != nil {
		return "", fmt.Errorf("derive associated token address: %w", err)
	}

	ix := associated_token_account.CreateAssociatedTokenAccount(associated_token_account.CreateAssociatedTokenAccountParam{
		Funder:                 common.PublicKeyFromString(payer),
		Owner:                  common.PublicKeyFromString(owner),
		Mint:                   common.PublicKeyFromString(mint),
		AssociatedTokenAccount: common.PublicKeyFromString(address),
	})

	err = tx.Invoke(ix, func() error {
		tx.Log("Create")

		if _, err := a.tokens.initializedMint(tx, mint); err != nil {
			return err
		}
		exists, err := tx.TokenAccountExists(address)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: token account %s", ErrAlreadyInUse, address)
		}

		if _, err := tx.CreateAccount(address, pda.TokenProgramID, token.TokenAccountSize); err != nil {
			return err
		}

		initIx := token.InitializeAccount3(token.InitializeAccount3Param{
			Account: common.PublicKeyFromString(address),
			Mint:    common.PublicKeyFromString(mint),
			Owner:   common.PublicKeyFromString(owner),
		})
		return tx.Invoke(initIx, func() error {
			tx.Log("Instruction: InitializeAccount3")
			return tx.CreateTokenAccount(&domain.TokenAccount{
				Address: address,
				Mint:    mint,
				Owner:   owner,
				State:   domain.TokenAccountInitialized,
			})
		})
	})
	if err != nil {
		return "", err
	}

	a.logger.WithFields(logrus.Fields{
		"owner":   owner,
		"mint":    mint,
		"address": address,
	}).Debug("associated token account created")
	return address, nil
}
