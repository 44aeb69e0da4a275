package participation_test

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"bar-orders/internal/models"
	"bar-orders/internal/order/db"
	"bar-orders/internal/participation"
)

func setupLedgerDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	db.Migrate(bunDB)
	t.Cleanup(func() { _ = bunDB.Close() })
	return bunDB
}

func TestLedgerAddRemoveExists(t *testing.T) {
	bunDB := setupLedgerDB(t)
	ledger := participation.NewLedger(bunDB)
	ctx := context.Background()
	joinedAt := time.Now()

	require.NoError(t, participation.Add(ctx, bunDB, 7, []int64{101, 102}, joinedAt))

	ok, err := ledger.Exists(ctx, 7, 101)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.Exists(ctx, 7, 999)
	require.NoError(t, err)
	assert.False(t, ok)

	// Re-adding an existing pair is a no-op, not a constraint error.
	require.NoError(t, participation.Add(ctx, bunDB, 7, []int64{101}, joinedAt.Add(time.Hour)))

	records, err := ledger.ListByUser(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, participation.Remove(ctx, bunDB, 7, []int64{101}))
	ok, err = ledger.Exists(ctx, 7, 101)
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing a pair that is already gone succeeds.
	require.NoError(t, participation.Remove(ctx, bunDB, 7, []int64{101}))
}

func TestLedgerEmptySlicesAreNoops(t *testing.T) {
	bunDB := setupLedgerDB(t)
	ctx := context.Background()

	assert.NoError(t, participation.Add(ctx, bunDB, 7, nil, time.Now()))
	assert.NoError(t, participation.Remove(ctx, bunDB, 7, nil))
}

func TestEntryPass(t *testing.T) {
	record := models.ParticipationRecord{
		UserID:   7,
		EventID:  101,
		JoinedAt: time.Date(2026, 8, 29, 20, 0, 0, 0, time.UTC),
	}

	png, err := participation.EntryPass(record, 256)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")), "entry pass must be a PNG")

	// Same record renders the same pass, so a reprint scans identically.
	again, err := participation.EntryPass(record, 256)
	require.NoError(t, err)
	assert.Equal(t, png, again)

	// A different event produces a different pass.
	record.EventID = 102
	other, err := participation.EntryPass(record, 256)
	require.NoError(t, err)
	assert.NotEqual(t, png, other)
}
