// Package probe inspects a target database before it is built and recovers
// the schema objects that were installed outside of extensions.
package probe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	builderrors "github.com/rodriguezartav/xtuple/internal/build/errors"
	"github.com/rodriguezartav/xtuple/internal/build/registry"
	"github.com/rodriguezartav/xtuple/internal/datastore"
)

const (
	// ExistsQuery finds the ORM registry table.
	ExistsQuery = "select relname from pg_class where relname = 'orm'"

	// RecordsQuery lists the registered ORMs that no extension owns.
	RecordsQuery = "select orm_namespace as namespace, orm_type as type from xt.orm where not orm_ext"
)

// Prober seeds a build's registry from the target database.
type Prober struct {
	client  datastore.Client
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a prober. A zero timeout leaves queries bounded only by ctx.
func New(client datastore.Client, timeout time.Duration, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{client: client, timeout: timeout, logger: logger}
}

// Probe returns the registry a build of creds.Database starts from: empty
// when the database has no ORM table yet, otherwise every non-extension ORM
// recorded in it.
func (p *Prober) Probe(ctx context.Context, creds datastore.Credentials) (registry.Registry, error) {
	logger := p.logger.With(zap.String("database", creds.Database))

	rows, err := p.query(ctx, creds, ExistsQuery)
	if err != nil {
		return registry.Registry{}, &builderrors.QueryError{Database: creds.Database, Op: "orm table lookup", Err: err}
	}
	if len(rows) == 0 {
		logger.Debug("no orm table, starting with empty registry")
		return registry.New(), nil
	}

	rows, err = p.query(ctx, creds, RecordsQuery)
	if err != nil {
		return registry.Registry{}, &builderrors.QueryError{Database: creds.Database, Op: "orm listing", Err: err}
	}

	records := make([]registry.Record, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return registry.Registry{}, &builderrors.QueryError{
				Database: creds.Database,
				Op:       "orm listing",
				Err:      fmt.Errorf("expected 2 columns, got %d", len(row)),
			}
		}
		records = append(records, registry.Record{Namespace: row[0], Type: row[1]})
	}

	reg := registry.New(records...)
	logger.Debug("seeded registry from database", zap.Int("records", reg.Len()))
	return reg, nil
}

func (p *Prober) query(ctx context.Context, creds datastore.Credentials, query string) ([][]string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.client.QueryStrings(ctx, creds, query)
}
