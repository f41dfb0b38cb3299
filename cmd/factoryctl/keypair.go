package main

import (
	"fmt"
	"os"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/goccy/go-json"
)

// loadKeypair reads a solana-keygen style file: a JSON array of 64 bytes.
func loadKeypair(path string) (types.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Account{}, fmt.Errorf("read keypair: %w", err)
	}

	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return types.Account{}, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	if len(ints) != 64 {
		return types.Account{}, fmt.Errorf("keypair %s: expected 64 bytes, got %d", path, len(ints))
	}

	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return types.Account{}, fmt.Errorf("keypair %s: byte %d out of range", path, i)
		}
		raw[i] = byte(v)
	}

	account, err := types.AccountFromBytes(raw)
	if err != nil {
		return types.Account{}, fmt.Errorf("keypair %s: %w", path, err)
	}
	return account, nil
}

// writeKeypair stores account in solana-keygen format with owner-only permissions.
func writeKeypair(path string, account types.Account, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use -force to overwrite)", path)
		}
	}

	ints := make([]int, len(account.PrivateKey))
	for i, b := range account.PrivateKey {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
