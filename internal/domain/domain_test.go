package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUIAmount(t *testing.T) {
	tests := []struct {
		raw      uint64
		decimals uint8
		want     string
	}{
		{raw: 1000, decimals: 0, want: "1000"},
		{raw: 1000, decimals: 6, want: "0.001000"},
		{raw: 1000000, decimals: 6, want: "1.000000"},
		{raw: 1, decimals: 9, want: "0.000000001"},
		{raw: 18446744073709551615, decimals: 9, want: "18446744073.709551615"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUIAmount(tt.raw, tt.decimals))
	}
}

func TestMint_HasMintAuthority(t *testing.T) {
	auth := "Auth111"
	m := &Mint{Address: "Mint111", MintAuthority: &auth}

	assert.True(t, m.HasMintAuthority("Auth111"))
	assert.False(t, m.HasMintAuthority("Other111"))

	m.MintAuthority = nil
	assert.False(t, m.HasMintAuthority("Auth111"))
	assert.False(t, m.HasMintAuthority(""))
}

func TestEventRecord_RoundTrip(t *testing.T) {
	created := &TokenCreated{
		Mint:          "Mint111",
		Name:          "Foo",
		Symbol:        "FOO",
		URI:           "uri",
		Decimals:      6,
		InitialSupply: 1000,
		Creator:       "Creator111",
	}

	rec := NewEventRecord(created, "sig1", 42, 0, 1700000000000)
	assert.Equal(t, EventKindTokenCreated, rec.Kind)
	assert.Equal(t, "Creator111", rec.Authority)
	require.NotNil(t, rec.Decimals)
	require.NotNil(t, rec.InitialSupply)
	assert.Equal(t, uint8(6), *rec.Decimals)
	assert.Equal(t, uint64(1000), *rec.InitialSupply)
	assert.Equal(t, created, rec.Event())

	updated := &TokenMetadataUpdated{
		Mint:    "Mint111",
		Name:    "Bar",
		Symbol:  "BAR",
		URI:     "uri2",
		Updater: "Creator111",
	}

	rec = NewEventRecord(updated, "sig2", 43, 1, 1700000000400)
	assert.Equal(t, EventKindTokenMetadataUpdated, rec.Kind)
	assert.Nil(t, rec.Decimals)
	assert.Nil(t, rec.InitialSupply)
	assert.Equal(t, updated, rec.Event())
}

func TestEventKind_IsValid(t *testing.T) {
	assert.True(t, EventKindTokenCreated.IsValid())
	assert.True(t, EventKindTokenMetadataUpdated.IsValid())
	assert.False(t, EventKind("SWAP").IsValid())
}

func TestParseUIAmount(t *testing.T) {
	tests := []struct {
		in       string
		decimals uint8
		want     uint64
		wantErr  bool
	}{
		{in: "1.5", decimals: 6, want: 1500000},
		{in: "1000", decimals: 0, want: 1000},
		{in: "0.000000001", decimals: 9, want: 1},
		{in: "18446744073.709551615", decimals: 9, want: 18446744073709551615},
		{in: "18446744073.709551616", decimals: 9, wantErr: true},
		{in: "0.0000001", decimals: 6, wantErr: true},
		{in: "-1", decimals: 0, wantErr: true},
		{in: "abc", decimals: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUIAmount(tt.in, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, UIAmount(got, tt.decimals).String())
		})
	}
}
