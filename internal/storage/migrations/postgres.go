package migrations

import (
	"context"
	"fmt"

	"hypertoken/internal/storage/postgres"
)

// RunPostgresMigrations applies all embedded SQL files in lexical order.
// Every file uses IF NOT EXISTS so reruns on startup are no-ops.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	migrations, err := Postgres()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
	}
	return nil
}
