// Package main is a command-line client for the token factory HTTP API.
//
// Usage:
//
//	factoryctl keygen  -out id.json
//	factoryctl init    -keypair id.json
//	factoryctl create  -keypair id.json -name Foo -symbol FOO -uri ipfs://... -decimals 6 -supply 1000
//	factoryctl update  -keypair id.json -mint <mint> -name Bar -symbol BAR -uri ipfs://...
//	factoryctl factory -authority <pubkey>
//	factoryctl tokens  -authority <pubkey>
//	factoryctl token   -mint <mint>
//	factoryctl holdings -owner <pubkey>
//	factoryctl recent  -limit 20
//	factoryctl stats   -authority <pubkey>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/goccy/go-json"

	"hypertoken/internal/api"
	"hypertoken/internal/config"
	"hypertoken/internal/domain"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string, out io.Writer) error
}

var commands = []command{
	{"keygen", "generate a keypair file", runKeygen},
	{"init", "initialize the signer's token factory", runInit},
	{"create", "create a token", runCreate},
	{"update", "announce new token metadata", runUpdate},
	{"factory", "show a factory", runFactory},
	{"tokens", "list a factory's tokens", runTokens},
	{"token", "show a mint with its metadata", runToken},
	{"holdings", "list an owner's token accounts", runHoldings},
	{"recent", "list the newest tokens of all factories", runRecent},
	{"stats", "show an authority's event statistics", runStats},
}

func main() {
	_ = config.LoadEnvFile(".env")

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, cmd := range commands {
		if cmd.name == os.Args[1] {
			if err := cmd.run(ctx, os.Args[2:], os.Stdout); err != nil {
				var apiErr *api.APIError
				if errors.As(err, &apiErr) {
					fmt.Fprintf(os.Stderr, "error: %s (code %d, http %d)\n", apiErr.Message, apiErr.Code, apiErr.Status)
				} else {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
				}
				os.Exit(1)
			}
			return
		}
	}

	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
	usage(os.Stderr)
	os.Exit(2)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: factoryctl <command> [flags]")
	fmt.Fprintln(w)
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-9s %s\n", cmd.name, cmd.usage)
	}
}

// clientFlags registers the flags shared by API commands.
type clientFlags struct {
	apiURL  string
	keypair string
	asJSON  bool
}

func (c *clientFlags) register(fs *flag.FlagSet, signed bool) {
	fs.StringVar(&c.apiURL, "api", config.Env("FACTORY_API", "http://localhost:8080"), "Factory API base URL")
	if signed {
		fs.StringVar(&c.keypair, "keypair", config.Env("FACTORY_KEYPAIR", "id.json"), "Signer keypair file")
	}
	fs.BoolVar(&c.asJSON, "json", false, "Print raw JSON")
}

func (c *clientFlags) client(signed bool) (*api.Client, error) {
	if !signed {
		return api.NewClient(c.apiURL, nil, nil), nil
	}
	account, err := loadKeypair(c.keypair)
	if err != nil {
		return nil, err
	}
	return api.NewClient(c.apiURL, &account, nil), nil
}

func printJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func runKeygen(_ context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	path := fs.String("out", "id.json", "Output keypair file")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	account := types.NewAccount()
	if err := writeKeypair(*path, account, *force); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\npubkey: %s\n", *path, account.PublicKey.ToBase58())
	return nil
}

func runInit(ctx context.Context, args []string, out io.Writer) error {
	var cf clientFlags
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cf.register(fs, true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := cf.client(true)
	if err != nil {
		return err
	}

	res, err := client.InitializeFactory(ctx)
	if err != nil {
		return err
	}
	if cf.asJSON {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "factory:   %s\nauthority: %s\nsignature: %s\nrent:      %s SOL\n",
		res.Factory.Address, res.Factory.Authority, res.Receipt.Signature,
		domain.FormatUIAmount(res.Receipt.RentLamports, 9))
	return nil
}

func runCreate(ctx context.Context, args []string, out io.Writer) error {
	var cf clientFlags
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	cf.register(fs, true)
	name := fs.String("name", "", "Token name (non-empty)")
	symbol := fs.String("symbol", "", "Token symbol (non-empty)")
	uri := fs.String("uri", "", "Metadata URI")
	decimals := fs.Int("decimals", 9, "Decimals (0-9)")
	supply := fs.String("supply", "0", "Initial supply in display units")
	raw := fs.Bool("raw", false, "Interpret -supply as raw units")
	mint := fs.String("mint", "", "Mint address (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *decimals < 0 || *decimals > 255 {
		return fmt.Errorf("decimals out of range: %d", *decimals)
	}

	var amount uint64
	var err error
	if *raw {
		amount, err = domain.ParseUIAmount(*supply, 0)
	} else {
		amount, err = domain.ParseUIAmount(*supply, uint8(*decimals))
	}
	if err != nil {
		return err
	}

	client, err := cf.client(true)
	if err != nil {
		return err
	}
	res, err := client.CreateToken(ctx, api.CreateTokenRequest{
		Name:          *name,
		Symbol:        *symbol,
		URI:           *uri,
		Decimals:      *decimals,
		InitialSupply: amount,
		Mint:          *mint,
	})
	if err != nil {
		return err
	}
	if cf.asJSON {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "mint:          %s\ntoken account: %s\ntoken count:   %d\nsupply:        %d (%s)\nsignature:     %s\n",
		res.Mint, res.TokenAccount, res.TokenCount,
		amount, domain.FormatUIAmount(amount, uint8(*decimals)), res.Receipt.Signature)
	return nil
}

func runUpdate(ctx context.Context, args []string, out io.Writer) error {
	var cf clientFlags
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	cf.register(fs, true)
	mint := fs.String("mint", "", "Mint address")
	name := fs.String("name", "", "New name")
	symbol := fs.String("symbol", "", "New symbol")
	uri := fs.String("uri", "", "New URI")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *mint == "" {
		return errors.New("-mint is required")
	}

	client, err := cf.client(true)
	if err != nil {
		return err
	}
	res, err := client.UpdateMetadata(ctx, *mint, api.UpdateMetadataRequest{Name: *name, Symbol: *symbol, URI: *uri})
	if err != nil {
		return err
	}
	if cf.asJSON {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "announced %s (%s) for %s\nsignature: %s\n", *name, *symbol, *mint, res.Receipt.Signature)
	return nil
}

func authorityArg(fs *flag.FlagSet, args []string) (string, error) {
	authority := fs.String("authority", "", "Factory authority")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *authority == "" {
		return "", errors.New("-authority is required")
	}
	return *authority, nil
}

func runFactory(ctx context.Context, args []string, out io.Writer) error {
	var cf clientFlags
	fs := flag.NewFlagSet("factory", flag.ContinueOnError)
	cf.register(fs, false)
	authority, err := authorityArg(fs, args)
	if err != nil {
		return err
	}
	client, _ := cf.client(false)

	f, err := client.Factory(ctx, authority)
	if err != nil {
		return err
	}
	if cf.asJSON {
		return printJSON(out, f)
	}
	fmt.Fprintf(out, "factory:     %s\nauthority:   %s\ntoken count: %d\n", f.Address, f.Authority, f.TokenCount)
	return nil
}

func runTokens(ctx context.Context, args []string, out io.Writer) error {
	var cf clientFlags
	fs := flag.NewFlagSet("tokens", flag.ContinueOnError)
	cf.register(fs, false)
	authority, err := authorityArg(fs, args)
	if err != nil {
		return err
	}
	client, _ := cf.client(false)

	records, err := client.Tokens(ctx, authority)
	if err != nil {
		return err
	}
	if cf.asJSON {
		return printJSON(out, records)
	}
	for _, r := range records {
		fmt.Fprintf(out, "%4d  %s  slot=%d\n", r.Index, r.Mint, r.Slot)
	}
	return nil
}

func runToken(ctx context.Context, args []string, out io.Writer) error {
	var cf clientFlags
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	cf.register(fs, false)
	mint := fs.String("mint", "", "Mint address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *mint == "" {
		return errors.New("-mint is required")
	}
	client, _ := cf.client(false)

	tok, err := client.Token(ctx, *mint)
	if err != nil {
		return err
	}
	if cf.asJSON {
		return printJSON(out, tok)
	}
	fmt.Fprintf(out, "mint:     %s\ndecimals: %d\nsupply:   %d (%s)\n", tok.Mint, tok.Decimals, tok.Supply, tok.SupplyUI)
	if tok.Metadata != nil {
		fmt.Fprintf(out, "name:     %s\nsymbol:   %s\nuri:      %s\n", tok.Metadata.Name, tok.Metadata.Symbol, tok.Metadata.URI)
	}
	if tok.Record != nil {
		fmt.Fprintf(out, "creator:  %s (#%d)\n", tok.Record.Creator, tok.Record.Index)
	}
	return nil
}

func runHoldings(ctx context.Context, args []string, out io.Writer) error {
	var cf clientFlags
	fs := flag.NewFlagSet("holdings", flag.ContinueOnError)
	cf.register(fs, false)
	owner := fs.String("owner", "", "Owner address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" {
		return errors.New("-owner is required")
	}
	client, _ := cf.client(false)

	holdings, err := client.Holdings(ctx, *owner)
	if err != nil {
		return err
	}
	if cf.asJSON {
		return printJSON(out, holdings)
	}
	for _, h := range holdings {
		fmt.Fprintf(out, "%s  %s  %s\n", h.Mint, h.Address, h.AmountUI)
	}
	return nil
}

func runRecent(ctx context.Context, args []string, out io.Writer) error {
	var cf clientFlags
	fs := flag.NewFlagSet("recent", flag.ContinueOnError)
	cf.register(fs, false)
	limit := fs.Int("limit", 0, "Number of tokens (server default when 0)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, _ := cf.client(false)

	records, err := client.RecentTokens(ctx, *limit)
	if err != nil {
		return err
	}
	if cf.asJSON {
		return printJSON(out, records)
	}
	for _, r := range records {
		fmt.Fprintf(out, "%s  creator=%s  #%d  slot=%d\n", r.Mint, r.Creator, r.Index, r.Slot)
	}
	return nil
}

func runStats(ctx context.Context, args []string, out io.Writer) error {
	var cf clientFlags
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	cf.register(fs, false)
	authority, err := authorityArg(fs, args)
	if err != nil {
		return err
	}
	client, _ := cf.client(false)

	st, err := client.Stats(ctx, authority)
	if err != nil {
		return err
	}
	if cf.asJSON {
		return printJSON(out, st)
	}
	fmt.Fprintf(out, "tokens created:   %d\nmetadata updates: %d\ntotal supply:     %d (raw)\nslots:            %d-%d\n",
		st.TokensCreated, st.MetadataUpdates, st.TotalSupply, st.FirstSlot, st.LastSlot)
	return nil
}
