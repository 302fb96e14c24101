// Package datastore is the build pipeline's only door to PostgreSQL.
//
// It runs structural queries, executes whole script blobs in one transaction
// and issues the maintenance statements (DROP/CREATE DATABASE) that cannot
// run inside a transaction. Connections are pooled per target database.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
)

// Supported database/sql driver names.
const (
	DriverPGX = "pgx"
	DriverPQ  = "postgres"
)

// Client is the data-store surface the build pipeline depends on.
type Client interface {
	// QueryStrings runs a parameterless query and returns every row with its
	// columns rendered as strings.
	QueryStrings(ctx context.Context, creds Credentials, query string) ([][]string, error)
	// Exec runs a multi-statement script as a single transaction.
	Exec(ctx context.Context, creds Credentials, script string) error
	// ExecMaintenance runs one statement outside any transaction.
	ExecMaintenance(ctx context.Context, creds Credentials, stmt string) error
}

// Opener opens a database handle. sql.Open satisfies it.
type Opener func(driverName, dsn string) (*sql.DB, error)

// Options configures an SQLClient.
type Options struct {
	Driver string
	Opener Opener
	Logger *zap.Logger
}

// SQLClient implements Client on database/sql.
type SQLClient struct {
	driver string
	open   Opener
	logger *zap.Logger

	mu    sync.Mutex
	pools map[string]*sql.DB
}

var _ Client = (*SQLClient)(nil)

// NewSQLClient creates a client. The default driver is pgx.
func NewSQLClient(opts Options) (*SQLClient, error) {
	c := &SQLClient{
		driver: opts.Driver,
		open:   opts.Opener,
		logger: opts.Logger,
		pools:  make(map[string]*sql.DB),
	}
	if c.driver == "" {
		c.driver = DriverPGX
	}
	if c.driver != DriverPGX && c.driver != DriverPQ {
		return nil, fmt.Errorf("unsupported driver %q (expected %q or %q)", c.driver, DriverPGX, DriverPQ)
	}
	if c.open == nil {
		c.open = sql.Open
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Driver returns the database/sql driver name in use.
func (c *SQLClient) Driver() string {
	return c.driver
}

func (c *SQLClient) db(ctx context.Context, creds Credentials) (*sql.DB, error) {
	dsn := creds.DSN()

	c.mu.Lock()
	db, ok := c.pools[dsn]
	c.mu.Unlock()
	if ok {
		return db, nil
	}

	// Connect without holding mu so builds of other databases are not held up.
	db, err := c.open(c.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", creds.Redacted(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", creds.Redacted(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.pools[dsn]; ok {
		db.Close()
		return existing, nil
	}

	c.logger.Debug("connected", zap.String("dsn", creds.Redacted()), zap.String("driver", c.driver))
	c.pools[dsn] = db
	return db, nil
}

// QueryStrings implements Client.
func (c *SQLClient) QueryStrings(ctx context.Context, creds Credentials, query string) ([][]string, error) {
	db, err := c.db(ctx, creds)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to run query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var result [][]string
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = v.String
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

// Exec implements Client.
func (c *SQLClient) Exec(ctx context.Context, creds Credentials, script string) error {
	db, err := c.db(ctx, creds)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			c.logger.Warn("failed to rollback transaction", zap.Error(err))
		}
	}()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("failed to execute script: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ExecMaintenance implements Client.
func (c *SQLClient) ExecMaintenance(ctx context.Context, creds Credentials, stmt string) error {
	db, err := c.db(ctx, creds)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to execute %q: %w", stmt, err)
	}
	return nil
}

// Close closes every pooled connection.
func (c *SQLClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for dsn, db := range c.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.pools, dsn)
	}
	return firstErr
}

// DropDatabaseSQL returns the statement that drops database name if it exists.
func DropDatabaseSQL(name string) string {
	return "DROP DATABASE IF EXISTS " + pgx.Identifier{name}.Sanitize()
}

// CreateDatabaseSQL returns the statement that creates database name from template.
func CreateDatabaseSQL(name, template string) string {
	if template == "" {
		return "CREATE DATABASE " + pgx.Identifier{name}.Sanitize()
	}
	return "CREATE DATABASE " + pgx.Identifier{name}.Sanitize() + " TEMPLATE " + pgx.Identifier{template}.Sanitize()
}
