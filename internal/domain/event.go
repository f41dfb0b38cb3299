package domain

// EventKind identifies a factory notification type.
type EventKind string

const (
	EventKindTokenCreated         EventKind = "TOKEN_CREATED"
	EventKindTokenMetadataUpdated EventKind = "TOKEN_METADATA_UPDATED"
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known value.
func (k EventKind) IsValid() bool {
	return k == EventKindTokenCreated || k == EventKindTokenMetadataUpdated
}

// Event is a notification emitted by the factory program.
type Event interface {
	Kind() EventKind
	MintAddress() string
}

// TokenCreated is emitted once per successful create_token.
type TokenCreated struct {
	Mint          string
	Name          string
	Symbol        string
	URI           string
	Decimals      uint8
	InitialSupply uint64
	Creator       string
}

func (e *TokenCreated) Kind() EventKind     { return EventKindTokenCreated }
func (e *TokenCreated) MintAddress() string { return e.Mint }

// TokenMetadataUpdated is emitted by update_token_metadata. The values are announced only.
type TokenMetadataUpdated struct {
	Mint    string
	Name    string
	Symbol  string
	URI     string
	Updater string
}

func (e *TokenMetadataUpdated) Kind() EventKind     { return EventKindTokenMetadataUpdated }
func (e *TokenMetadataUpdated) MintAddress() string { return e.Mint }

// EventRecord is a persisted event log row.
// Corresponds to token_events table in PostgreSQL and ClickHouse.
type EventRecord struct {
	ID            string    // sha256(signature|index), hex
	Signature     string    // transaction signature
	Slot          uint64    // slot of the transaction
	Index         int       // position among the transaction's events
	Kind          EventKind // TOKEN_CREATED | TOKEN_METADATA_UPDATED
	Mint          string    // mint address
	Authority     string    // creator or updater
	Name          string
	Symbol        string
	URI           string
	Decimals      *uint8  // TOKEN_CREATED only
	InitialSupply *uint64 // TOKEN_CREATED only
	BlockTime     int64   // ms
}

// Event reconstructs the typed notification from the record.
func (r *EventRecord) Event() Event {
	switch r.Kind {
	case EventKindTokenCreated:
		ev := &TokenCreated{
			Mint:    r.Mint,
			Name:    r.Name,
			Symbol:  r.Symbol,
			URI:     r.URI,
			Creator: r.Authority,
		}
		if r.Decimals != nil {
			ev.Decimals = *r.Decimals
		}
		if r.InitialSupply != nil {
			ev.InitialSupply = *r.InitialSupply
		}
		return ev
	case EventKindTokenMetadataUpdated:
		return &TokenMetadataUpdated{
			Mint:    r.Mint,
			Name:    r.Name,
			Symbol:  r.Symbol,
			URI:     r.URI,
			Updater: r.Authority,
		}
	default:
		return nil
	}
}

// NewEventRecord flattens ev into a record. The ID is left for the caller.
func NewEventRecord(ev Event, signature string, slot uint64, index int, blockTime int64) *EventRecord {
	rec := &EventRecord{
		Signature: signature,
		Slot:      slot,
		Index:     index,
		Kind:      ev.Kind(),
		Mint:      ev.MintAddress(),
		BlockTime: blockTime,
	}

	switch e := ev.(type) {
	case *TokenCreated:
		decimals := e.Decimals
		supply := e.InitialSupply
		rec.Authority = e.Creator
		rec.Name = e.Name
		rec.Symbol = e.Symbol
		rec.URI = e.URI
		rec.Decimals = &decimals
		rec.InitialSupply = &supply
	case *TokenMetadataUpdated:
		rec.Authority = e.Updater
		rec.Name = e.Name
		rec.Symbol = e.Symbol
		rec.URI = e.URI
	}

	return rec
}

// AnnouncedMetadata is the latest name/symbol/uri observed for a mint in the event log.
type AnnouncedMetadata struct {
	Mint      string
	Name      string
	Symbol    string
	URI       string
	Source    EventKind
	Signature string
	Slot      uint64
}

// CreatorStats summarizes event activity of one authority.
type CreatorStats struct {
	Authority       string
	TokensCreated   uint64
	MetadataUpdates uint64
	TotalSupply     uint64 // sum of initial supplies in raw units
	FirstSlot       uint64
	LastSlot        uint64
}
