package store

import (
	"context"
	"encoding/json"
	"io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"featurevotes/internal/models"
)

func createTestLedger(t *testing.T) *DBStore {
	t.Helper()
	db, err := ConnectDB(DriverSQLite, filepath.Join(t.TempDir(), "votes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrations, err := MigrationsFor(DriverSQLite)
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db, migrations))

	return NewDBStore(db, DriverSQLite)
}

func testEntry(checkoutID, productID string, sats int64, at time.Time) *models.VoteLedgerEntry {
	return &models.VoteLedgerEntry{
		CheckoutID:     checkoutID,
		ProductID:      productID,
		SettledSats:    sats,
		CheckoutStatus: models.CheckoutStatusPaymentReceived,
		RecordedAt:     at,
		RawCheckout:    json.RawMessage(`{"id":"` + checkoutID + `"}`),
	}
}

func TestRunMigrations_Rerunnable(t *testing.T) {
	s := createTestLedger(t)
	migrations, err := MigrationsFor(DriverSQLite)
	require.NoError(t, err)
	assert.NoError(t, RunMigrations(s.DB, migrations))
}

func TestMigrationsFor_Postgres(t *testing.T) {
	migrations, err := MigrationsFor(DriverPostgres)
	require.NoError(t, err)
	content, err := fs.ReadFile(migrations, "0001_feature_votes.sql")
	require.NoError(t, err)
	assert.Contains(t, string(content), "ON feature_vote_events")
	assert.Contains(t, string(content), "CREATE OR REPLACE VIEW feature_vote_totals")
}

func TestInsertVote_Idempotent(t *testing.T) {
	s := createTestLedger(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	inserted, err := s.InsertVote(ctx, testEntry("chk_1", "prod_a", 4200, at))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertVote(ctx, testEntry("chk_1", "prod_b", 9999, at.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, inserted)

	vote, err := s.GetVote(ctx, "chk_1")
	require.NoError(t, err)
	require.NotNil(t, vote)
	assert.Equal(t, "prod_a", vote.ProductID)
	assert.Equal(t, int64(4200), vote.SettledSats)
	assert.True(t, vote.RecordedAt.Equal(at))
	assert.JSONEq(t, `{"id":"chk_1"}`, string(vote.RawCheckout))
}

func TestInsertVote_ConcurrentSameCheckout(t *testing.T) {
	s := createTestLedger(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		inserted atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertVote(ctx, testEntry("chk_race", "prod_a", 1000, time.Now()))
			assert.NoError(t, err)
			if ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inserted.Load())

	totals, err := s.VoteTotals(ctx, []string{"prod_a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals["prod_a"].VoteCount)
	assert.Equal(t, int64(1000), totals["prod_a"].TotalSats)
}

func TestInsertVote_RejectsInvalid(t *testing.T) {
	s := createTestLedger(t)
	_, err := s.InsertVote(context.Background(), testEntry("chk_0", "prod_a", 0, time.Now()))
	assert.ErrorIs(t, err, ErrDBInvalidVote)
}

func TestGetVote_Missing(t *testing.T) {
	s := createTestLedger(t)
	vote, err := s.GetVote(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, vote)
}

func TestVoteTotals(t *testing.T) {
	s := createTestLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	for i, e := range []*models.VoteLedgerEntry{
		testEntry("c1", "prod_a", 100, base),
		testEntry("c2", "prod_a", 400, base.Add(2*time.Hour)),
		testEntry("c3", "prod_b", 700, base.Add(time.Hour)),
		testEntry("c4", "prod_other", 5, base),
	} {
		_, err := s.InsertVote(ctx, e)
		require.NoError(t, err, "entry %d", i)
	}

	totals, err := s.VoteTotals(ctx, []string{"prod_a", "prod_b", "prod_empty"})
	require.NoError(t, err)
	require.Len(t, totals, 2)

	a := totals["prod_a"]
	assert.Equal(t, int64(500), a.TotalSats)
	assert.Equal(t, int64(2), a.VoteCount)
	require.NotNil(t, a.LastVoteAt)
	assert.True(t, a.LastVoteAt.Equal(base.Add(2*time.Hour)))

	assert.Equal(t, int64(700), totals["prod_b"].TotalSats)
	_, ok := totals["prod_empty"]
	assert.False(t, ok)

	empty, err := s.VoteTotals(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRecordedCheckoutIDs(t *testing.T) {
	s := createTestLedger(t)
	ctx := context.Background()

	_, err := s.InsertVote(ctx, testEntry("c1", "prod_a", 100, time.Now()))
	require.NoError(t, err)

	recorded, err := s.RecordedCheckoutIDs(ctx, []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"c1": true}, recorded)
}

func TestRebind(t *testing.T) {
	sqlite := NewDBStore(nil, DriverSQLite)
	pg := NewDBStore(nil, DriverPostgres)

	assert.Equal(t, "a = ? AND b IN (?, ?)", sqlite.rebind("a = $1 AND b IN ($2, $3)"))
	assert.Equal(t, "a = $1", pg.rebind("a = $1"))
	assert.Equal(t, "$1, $2, $3", placeholders(3))
}
