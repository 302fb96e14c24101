package probe

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	builderrors "github.com/rodriguezartav/xtuple/internal/build/errors"
	"github.com/rodriguezartav/xtuple/internal/build/registry"
	"github.com/rodriguezartav/xtuple/internal/datastore"
)

func setupTestDB(t *testing.T) (*Prober, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	client, err := datastore.NewSQLClient(datastore.Options{
		Opener: func(string, string) (*sql.DB, error) { return db, nil },
	})
	require.NoError(t, err)
	return New(client, time.Second, nil), mock
}

var creds = datastore.Credentials{Hostname: "localhost", Port: 5432, Username: "admin"}.WithDatabase("dev")

func expectExisting(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta(ExistsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"relname"}).AddRow("orm"))
	mock.ExpectQuery(regexp.QuoteMeta(RecordsQuery)).WillReturnRows(rows)
}

func TestProbe_FreshDatabase(t *testing.T) {
	prober, mock := setupTestDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(ExistsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"relname"}))

	reg, err := prober.Probe(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, 0, reg.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProbe_ExistingDatabase(t *testing.T) {
	prober, mock := setupTestDB(t)
	expectExisting(mock, sqlmock.NewRows([]string{"namespace", "type"}).
		AddRow("XM", "Contact").
		AddRow("XM", "Account").
		AddRow("XM", "Contact"))

	reg, err := prober.Probe(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, []registry.Record{
		{Namespace: "XM", Type: "Contact"},
		{Namespace: "XM", Type: "Account"},
	}, reg.Records())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProbe_Idempotent(t *testing.T) {
	prober, mock := setupTestDB(t)
	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"namespace", "type"}).
			AddRow("XM", "Contact").
			AddRow("XT", "Priority")
	}

	var runs [][]registry.Record
	for i := 0; i < 3; i++ {
		expectExisting(mock, rows())
		reg, err := prober.Probe(context.Background(), creds)
		require.NoError(t, err)
		runs = append(runs, reg.Records())
	}

	assert.Equal(t, runs[0], runs[1])
	assert.Equal(t, runs[0], runs[2])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProbe_ExistenceQueryFails(t *testing.T) {
	prober, mock := setupTestDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(ExistsQuery)).WillReturnError(errors.New("connection reset"))

	_, err := prober.Probe(context.Background(), creds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, builderrors.ErrQuery))

	var qerr *builderrors.QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, "dev", qerr.Database)
}

func TestProbe_ListingQueryFails(t *testing.T) {
	prober, mock := setupTestDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(ExistsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"relname"}).AddRow("orm"))
	mock.ExpectQuery(regexp.QuoteMeta(RecordsQuery)).WillReturnError(errors.New(`relation "xt.orm" does not exist`))

	_, err := prober.Probe(context.Background(), creds)
	require.Error(t, err)
	assert.True(t, errors.Is(err, builderrors.ErrQuery))
	assert.Contains(t, err.Error(), "orm listing")
}
