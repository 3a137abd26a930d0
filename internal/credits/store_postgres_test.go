package credits

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to the database named by CREDITS_TEST_DATABASE_URL. The
// schema must already be migrated (make migrate-up against the test DB). Tests
// create uniquely named wallets, so reruns do not collide.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("CREDITS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CREDITS_TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestWallet(t *testing.T, store Store, balance int64) Wallet {
	t.Helper()
	w, err := store.CreateWallet(context.Background(), "it-"+uuid.NewString(), balance)
	require.NoError(t, err)
	return w
}

func TestPostgres_ReserveCommitReverse(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresStore(db)
	svc := NewService(store, nil)
	ctx := context.Background()

	w := createTestWallet(t, store, 10)

	tx, err := svc.Reserve(ctx, w.ID, 3, ReserveOptions{IdempotencyKey: uuid.NewString(), Note: "it"})
	require.NoError(t, err)
	assert.Equal(t, TxStatusPending, tx.Status)

	curr, err := store.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), curr.Balance)

	committed, err := svc.Commit(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, TxStatusCommitted, committed.Status)

	tx2, err := svc.Reserve(ctx, w.ID, 2, ReserveOptions{})
	require.NoError(t, err)
	reversed, err := svc.Reverse(ctx, tx2.ID, "http 500")
	require.NoError(t, err)
	assert.Equal(t, TxStatusReversed, reversed.Status)

	curr, err = store.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), curr.Balance)

	txs, err := store.ListTransactions(ctx, w.ID, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 3, "debit, reversed debit, refund")
}

func TestPostgres_ConcurrentIdempotentReserve(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresStore(db)
	svc := NewService(store, nil)
	ctx := context.Background()

	w := createTestWallet(t, store, 10)
	key := uuid.NewString()

	const callers = 10
	ids := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := svc.Reserve(ctx, w.ID, 5, ReserveOptions{IdempotencyKey: key})
			require.NoError(t, err)
			ids[i] = tx.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	curr, err := store.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), curr.Balance, "exactly one debit")
}

func TestPostgres_OversubscriptionNeverGoesNegative(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresStore(db)
	svc := NewService(store, nil)
	ctx := context.Background()

	w := createTestWallet(t, store, 20)

	const callers = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(ctx, w.ID, 1, ReserveOptions{})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrInsufficientCredits)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, succeeded)

	curr, err := store.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), curr.Balance)

	txs, err := store.ListTransactions(ctx, w.ID, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 20, "failed reservations roll back their rows")
}

func TestPostgres_SweepStaleReservations(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresStore(db)
	svc := NewService(store, nil)
	ctx := context.Background()

	w := createTestWallet(t, store, 10)

	var ids []int64
	for i := 0; i < 5; i++ {
		tx, err := svc.Reserve(ctx, w.ID, 1, ReserveOptions{IdempotencyKey: uuid.NewString()})
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}
	require.NoError(t, store.InTx(ctx, func(tx StoreTx) error {
		return tx.Backdate(ctx, ids[:3], time.Now().Add(-time.Hour))
	}))

	sweeper := NewSweeper(store, nil, SweeperConfig{ReservationTTL: 5 * time.Minute, ChunkSize: 2}, nil)
	total, err := sweeper.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	curr, err := store.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), curr.Balance, "3 of 5 holds restored")

	for _, id := range ids[3:] {
		tx, err := store.GetTransaction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, TxStatusPending, tx.Status)
	}
}

func TestPostgres_APIKeyLookup(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	w := createTestWallet(t, store, 1)
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	_, err = store.CreateAPIKey(ctx, w.ID, key, "integration")
	require.NoError(t, err)

	got, err := store.GetWalletByAPIKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	_, err = store.GetWalletByAPIKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
