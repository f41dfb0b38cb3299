package anchor

import (
	"fmt"

	"github.com/near/borsh-go"
)

// Instruction names as exposed by the program interface.
const (
	IxInitializeTokenFactory = "initialize_token_factory"
	IxCreateToken            = "create_token"
	IxUpdateTokenMetadata    = "update_token_metadata"
)

type createTokenArgs struct {
	Name          string
	Symbol        string
	URI           string
	Decimals      uint8
	InitialSupply uint64
}

type updateTokenMetadataArgs struct {
	Name   string
	Symbol string
	URI    string
}

// InitializeTokenFactoryData returns the instruction data of initialize_token_factory.
func InitializeTokenFactoryData() []byte {
	d := InstructionDiscriminator(IxInitializeTokenFactory)
	return d[:]
}

// CreateTokenData returns the instruction data of create_token.
func CreateTokenData(name, symbol, uri string, decimals uint8, initialSupply uint64) ([]byte, error) {
	return instructionData(IxCreateToken, createTokenArgs{
		Name:          name,
		Symbol:        symbol,
		URI:           uri,
		Decimals:      decimals,
		InitialSupply: initialSupply,
	})
}

// UpdateTokenMetadataData returns the instruction data of update_token_metadata.
func UpdateTokenMetadataData(name, symbol, uri string) ([]byte, error) {
	return instructionData(IxUpdateTokenMetadata, updateTokenMetadataArgs{
		Name:   name,
		Symbol: symbol,
		URI:    uri,
	})
}

func instructionData(name string, args interface{}) ([]byte, error) {
	body, err := borsh.Serialize(args)
	if err != nil {
		return nil, fmt.Errorf("borsh serialize %s args: %w", name, err)
	}
	d := InstructionDiscriminator(name)
	return append(d[:], body...), nil
}
