// Package factory implements the token factory program: per-authority factories that
// create fungible tokens through the token program and announce metadata updates.
package factory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/sirupsen/logrus"

	"hypertoken/internal/anchor"
	"hypertoken/internal/domain"
	"hypertoken/internal/eventbus"
	"hypertoken/internal/observability"
	"hypertoken/internal/pda"
	"hypertoken/internal/runtime"
	"hypertoken/internal/storage"
)

// DefaultProgramID is the factory program id used when none is configured.
const DefaultProgramID = "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"

const maxDecimals = 9

// MintService is the token program capability the factory delegates to.
type MintService interface {
	InitializeMint(tx *runtime.Tx, mint string, decimals uint8, mintAuthority string, freezeAuthority *string) error
	MintTo(tx *runtime.Tx, mint, destination, authority string, amount uint64) error
}

// AssociatedAccountService derives and creates associated token accounts.
type AssociatedAccountService interface {
	Derive(owner, mint string) (string, error)
	Create(tx *runtime.Tx, payer, owner, mint string) (string, error)
}

// Executor runs a call as one atomic transaction.
type Executor interface {
	Execute(ctx context.Context, call runtime.Call, fn func(tx *runtime.Tx) error) (*runtime.Receipt, error)
}

// CreateTokenParams are the create_token arguments.
type CreateTokenParams struct {
	Name          string
	Symbol        string
	URI           string
	Decimals      uint8
	InitialSupply uint64
	Mint          string // optional; a fresh address is generated when empty
}

// Validate checks params in order name, symbol, decimals, supply.
func (p CreateTokenParams) Validate() error {
	if len(p.Name) == 0 {
		return ErrInvalidName
	}
	if len(p.Symbol) == 0 {
		return ErrInvalidSymbol
	}
	if p.Decimals > maxDecimals {
		return ErrInvalidDecimals
	}
	if p.InitialSupply == 0 {
		return ErrInvalidSupply
	}
	return nil
}

// UpdateTokenMetadataParams are the update_token_metadata arguments.
type UpdateTokenMetadataParams struct {
	Mint   string
	Name   string
	Symbol string
	URI    string
}

// Result is the outcome of a committed factory operation.
type Result struct {
	Receipt      *runtime.Receipt
	Factory      *domain.TokenFactory
	Mint         string
	TokenAccount string
	Record       *domain.TokenRecord
	Event        domain.Event
}

// Options for creating Service.
type Options struct {
	ProgramID string

	Executor Executor
	Mints    MintService
	Accounts AssociatedAccountService

	// Read side
	Ledger   storage.LedgerStore
	Registry storage.RegistryStore
	Events   storage.EventStore

	// Publisher receives committed events. Optional.
	Publisher eventbus.Publisher

	Logger logrus.FieldLogger
}

// Service is the token factory program.
type Service struct {
	programID string
	executor  Executor
	mints     MintService
	accounts  AssociatedAccountService
	ledger    storage.LedgerStore
	registry  storage.RegistryStore
	events    storage.EventStore
	publisher eventbus.Publisher
	logger    logrus.FieldLogger
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Executor == nil || opts.Mints == nil || opts.Accounts == nil {
		return nil, errors.New("factory: executor, mint service and account service are required")
	}
	if opts.Ledger == nil || opts.Registry == nil || opts.Events == nil {
		return nil, errors.New("factory: ledger, registry and event stores are required")
	}
	if opts.ProgramID == "" {
		opts.ProgramID = DefaultProgramID
	}
	if !pda.IsValidAddress(opts.ProgramID) {
		return nil, fmt.Errorf("factory: program id: %w", ErrInvalidAddress)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Service{
		programID: opts.ProgramID,
		executor:  opts.Executor,
		mints:     opts.Mints,
		accounts:  opts.Accounts,
		ledger:    opts.Ledger,
		registry:  opts.Registry,
		events:    opts.Events,
		publisher: opts.Publisher,
		logger:    opts.Logger.WithField("component", "factory"),
	}, nil
}

// ProgramID returns the factory program id.
func (s *Service) ProgramID() string {
	return s.programID
}

// FactoryAddress returns the factory address of authority.
func (s *Service) FactoryAddress(authority string) (string, error) {
	if !pda.IsValidAddress(authority) {
		return "", fmt.Errorf("authority: %w", ErrInvalidAddress)
	}
	addr, _, err := pda.FactoryAddress(s.programID, authority)
	return addr, err
}

// InitializeTokenFactory creates the factory of authority with token_count 0.
// A second call for the same authority fails with runtime.ErrAccountInUse.
func (s *Service) InitializeTokenFactory(ctx context.Context, authority string) (res *Result, err error) {
	start := time.Now()
	defer func() { s.observe("initialize_token_factory", start, err) }()

	if !pda.IsValidAddress(authority) {
		return nil, fmt.Errorf("authority: %w", ErrInvalidAddress)
	}
	address, bump, err := pda.FactoryAddress(s.programID, authority)
	if err != nil {
		return nil, fmt.Errorf("derive factory address: %w", err)
	}

	ix := types.Instruction{
		ProgramID: common.PublicKeyFromString(s.programID),
		Accounts: []types.AccountMeta{
			{PubKey: common.PublicKeyFromString(address), IsWritable: true},
			{PubKey: common.PublicKeyFromString(authority), IsSigner: true, IsWritable: true},
			{PubKey: common.PublicKeyFromString(pda.SystemProgramID)},
		},
		Data: anchor.InitializeTokenFactoryData(),
	}

	factory := &domain.TokenFactory{
		Address:   address,
		Authority: authority,
		Bump:      bump,
	}

	receipt, err := s.executor.Execute(ctx, runtime.Call{
		ProgramID:   s.programID,
		Payer:       authority,
		Writable:    []string{address, authority},
		Instruction: ix,
	}, func(tx *runtime.Tx) error {
		tx.Log("Instruction: InitializeTokenFactory")
		if _, err := tx.CreateAccount(address, s.programID, anchor.TokenFactoryAccountSize); err != nil {
			return err
		}
		return tx.CreateFactory(factory)
	})
	if err != nil {
		return nil, err
	}

	observability.RecordFactoryInitialized()
	s.logger.WithFields(logrus.Fields{
		"authority": authority,
		"factory":   address,
		"signature": receipt.Signature,
	}).Info("token factory initialized")

	return &Result{Receipt: receipt, Factory: factory}, nil
}

// CreateToken creates a mint with decimals, mints initial_supply into the caller's
// associated token account, bumps the caller's token_count and emits TokenCreated.
func (s *Service) CreateToken(ctx context.Context, authority string, params CreateTokenParams) (res *Result, err error) {
	start := time.Now()
	defer func() { s.observe("create_token", start, err) }()

	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !pda.IsValidAddress(authority) {
		return nil, fmt.Errorf("authority: %w", ErrInvalidAddress)
	}

	mint := params.Mint
	if mint == "" {
		mint = types.NewAccount().PublicKey.ToBase58()
	} else if !pda.IsValidAddress(mint) {
		return nil, fmt.Errorf("mint: %w", ErrInvalidAddress)
	}

	factoryAddr, _, err := pda.FactoryAddress(s.programID, authority)
	if err != nil {
		return nil, fmt.Errorf("derive factory address: %w", err)
	}
	tokenAccount, err := s.accounts.Derive(authority, mint)
	if err != nil {
		return nil, fmt.Errorf("derive token account: %w", err)
	}

	data, err := anchor.CreateTokenData(params.Name, params.Symbol, params.URI, params.Decimals, params.InitialSupply)
	if err != nil {
		return nil, fmt.Errorf("encode instruction: %w", err)
	}
	ix := types.Instruction{
		ProgramID: common.PublicKeyFromString(s.programID),
		Accounts: []types.AccountMeta{
			{PubKey: common.PublicKeyFromString(factoryAddr), IsWritable: true},
			{PubKey: common.PublicKeyFromString(mint), IsSigner: true, IsWritable: true},
			{PubKey: common.PublicKeyFromString(tokenAccount), IsWritable: true},
			{PubKey: common.PublicKeyFromString(authority), IsSigner: true, IsWritable: true},
			{PubKey: common.PublicKeyFromString(pda.RentSysvarID)},
			{PubKey: common.PublicKeyFromString(pda.SystemProgramID)},
			{PubKey: common.PublicKeyFromString(pda.TokenProgramID)},
			{PubKey: common.PublicKeyFromString(pda.AssociatedTokenProgramID)},
		},
		Data: data,
	}

	var (
		factory *domain.TokenFactory
		record  *domain.TokenRecord
		event   *domain.TokenCreated
	)
	receipt, err := s.executor.Execute(ctx, runtime.Call{
		ProgramID:   s.programID,
		Payer:       authority,
		Writable:    []string{factoryAddr, mint, tokenAccount, authority},
		Instruction: ix,
	}, func(tx *runtime.Tx) error {
		tx.Log("Instruction: CreateToken")

		f, err := tx.Factory(factoryAddr)
		if err != nil {
			return err
		}

		if err := s.mints.InitializeMint(tx, mint, params.Decimals, authority, &authority); err != nil {
			return err
		}
		created, err := s.accounts.Create(tx, authority, authority, mint)
		if err != nil {
			return err
		}
		if created != tokenAccount {
			return fmt.Errorf("associated account %s, expected %s", created, tokenAccount)
		}
		if err := s.mints.MintTo(tx, mint, tokenAccount, authority, params.InitialSupply); err != nil {
			return err
		}

		if f.TokenCount == math.MaxUint64 {
			return ErrCounterOverflow
		}
		f.TokenCount++
		if err := tx.UpdateFactory(f); err != nil {
			return err
		}

		record = &domain.TokenRecord{
			Factory:      factoryAddr,
			Index:        f.TokenCount,
			Mint:         mint,
			Creator:      authority,
			TokenAccount: tokenAccount,
		}
		tx.AppendRecord(record)

		event = &domain.TokenCreated{
			Mint:          mint,
			Name:          params.Name,
			Symbol:        params.Symbol,
			URI:           params.URI,
			Decimals:      params.Decimals,
			InitialSupply: params.InitialSupply,
			Creator:       authority,
		}
		factory = f
		return tx.Emit(event)
	})
	if err != nil {
		return nil, err
	}

	record.Signature = receipt.Signature
	record.Slot = receipt.Slot
	record.CreatedAt = receipt.BlockTime

	observability.RecordTokenCreated(params.InitialSupply)
	s.logger.WithFields(logrus.Fields{
		"authority":   authority,
		"mint":        mint,
		"symbol":      params.Symbol,
		"token_count": factory.TokenCount,
		"signature":   receipt.Signature,
	}).Info("token created")
	s.publish(ctx, receipt)

	return &Result{
		Receipt:      receipt,
		Factory:      factory,
		Mint:         mint,
		TokenAccount: tokenAccount,
		Record:       record,
		Event:        event,
	}, nil
}

// UpdateTokenMetadata emits TokenMetadataUpdated if authority is the mint authority
// of params.Mint. Nothing is persisted in program state.
func (s *Service) UpdateTokenMetadata(ctx context.Context, authority string, params UpdateTokenMetadataParams) (res *Result, err error) {
	start := time.Now()
	defer func() { s.observe("update_token_metadata", start, err) }()

	if !pda.IsValidAddress(authority) {
		return nil, fmt.Errorf("authority: %w", ErrInvalidAddress)
	}
	if !pda.IsValidAddress(params.Mint) {
		return nil, fmt.Errorf("mint: %w", ErrInvalidAddress)
	}

	data, err := anchor.UpdateTokenMetadataData(params.Name, params.Symbol, params.URI)
	if err != nil {
		return nil, fmt.Errorf("encode instruction: %w", err)
	}
	ix := types.Instruction{
		ProgramID: common.PublicKeyFromString(s.programID),
		Accounts: []types.AccountMeta{
			{PubKey: common.PublicKeyFromString(params.Mint), IsWritable: true},
			{PubKey: common.PublicKeyFromString(authority), IsSigner: true},
		},
		Data: data,
	}

	event := &domain.TokenMetadataUpdated{
		Mint:    params.Mint,
		Name:    params.Name,
		Symbol:  params.Symbol,
		URI:     params.URI,
		Updater: authority,
	}
	receipt, err := s.executor.Execute(ctx, runtime.Call{
		ProgramID:   s.programID,
		Payer:       authority,
		Writable:    []string{params.Mint},
		Instruction: ix,
	}, func(tx *runtime.Tx) error {
		tx.Log("Instruction: UpdateTokenMetadata")

		m, err := tx.Mint(params.Mint)
		if err != nil {
			return err
		}
		if !m.HasMintAuthority(authority) {
			return ErrUnauthorized
		}
		return tx.Emit(event)
	})
	if err != nil {
		return nil, err
	}

	observability.RecordMetadataUpdated()
	s.logger.WithFields(logrus.Fields{
		"authority": authority,
		"mint":      params.Mint,
		"signature": receipt.Signature,
	}).Info("token metadata updated")
	s.publish(ctx, receipt)

	return &Result{Receipt: receipt, Mint: params.Mint, Event: event}, nil
}

// publish hands committed events to the publisher. Failures are logged, the
// transaction stays committed.
func (s *Service) publish(ctx context.Context, receipt *runtime.Receipt) {
	if s.publisher == nil || len(receipt.Events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, receipt.Events); err != nil {
		s.logger.WithError(err).WithField("signature", receipt.Signature).Warn("publish events failed")
	}
}

func (s *Service) observe(operation string, start time.Time, err error) {
	errName := ""
	if err != nil {
		errName = ErrorName(err)
	}
	observability.RecordOperation(operation, errName, time.Since(start).Seconds())
}

// ErrorName returns a stable short name for err, used in metrics and API bodies.
func ErrorName(err error) string {
	if pe, ok := AsProgramError(err); ok {
		return pe.Name
	}
	switch {
	case errors.Is(err, runtime.ErrAccountInUse):
		return "AccountInUse"
	case errors.Is(err, runtime.ErrAccountNotFound):
		return "AccountNotFound"
	case errors.Is(err, ErrInvalidAddress):
		return "InvalidAddress"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Cancelled"
	default:
		return "Internal"
	}
}
