package credits

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedReservations reserves count debits of 1 credit and backdates them to ts.
func seedReservations(t *testing.T, svc *Service, store *MemoryStore, walletID int64, count int, ts time.Time) []int64 {
	t.Helper()
	ctx := context.Background()

	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		tx, err := svc.Reserve(ctx, walletID, 1, ReserveOptions{
			IdempotencyKey: fmt.Sprintf("seed-%d-%d", walletID, i),
		})
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}
	require.NoError(t, store.InTx(ctx, func(tx StoreTx) error {
		return tx.Backdate(ctx, ids, ts)
	}))
	return ids
}

func TestSweep_CutoffBoundary(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	w, err := store.CreateWallet(ctx, "acme", 10)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	ttl := 5 * time.Minute
	cutoff := now.Add(-ttl)

	stale := seedReservations(t, svc, store, w.ID, 1, cutoff.Add(-time.Second))
	atCutoff := seedReservations(t, svc, store, w.ID, 1, cutoff)
	fresh := seedReservations(t, svc, store, w.ID, 1, cutoff.Add(time.Second))

	sweeper := NewSweeper(store, nil, SweeperConfig{ReservationTTL: ttl}, nil)
	total, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	for id, want := range map[int64]TxStatus{
		stale[0]:    TxStatusReversed,
		atCutoff[0]: TxStatusPending,
		fresh[0]:    TxStatusPending,
	} {
		tx, err := store.GetTransaction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, tx.Status, "tx %d", id)
	}

	// 3 reserved, 1 refunded.
	curr, err := store.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), curr.Balance)
}

func TestSweep_SkipsTerminalRows(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	w, err := store.CreateWallet(ctx, "acme", 10)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	old := now.Add(-time.Hour)

	ids := seedReservations(t, svc, store, w.ID, 3, old)
	_, err = svc.Commit(ctx, ids[0])
	require.NoError(t, err)
	_, err = svc.Reverse(ctx, ids[1], "caller gave up")
	require.NoError(t, err)

	sweeper := NewSweeper(store, nil, SweeperConfig{ReservationTTL: 5 * time.Minute}, nil)
	total, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, total, "only the still-pending row is swept")

	committed, err := store.GetTransaction(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, TxStatusCommitted, committed.Status)

	swept, err := store.GetTransaction(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, TxStatusReversed, swept.Status)
	assert.Equal(t, "expired", swept.Note)
}

func TestSweep_ChunkedAcrossWallets(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	now := time.Unix(1700000000, 0).UTC()
	old := now.Add(-time.Hour)

	const (
		walletCount = 20
		perWallet   = 10
	)
	wallets := make([]Wallet, 0, walletCount)
	for i := 0; i < walletCount; i++ {
		w, err := store.CreateWallet(ctx, fmt.Sprintf("tenant-%d", i), perWallet)
		require.NoError(t, err)
		seedReservations(t, svc, store, w.ID, perWallet, old)
		wallets = append(wallets, w)
	}

	// Chunk size forces many passes and does not divide the total evenly.
	sweeper := NewSweeper(store, nil, SweeperConfig{ReservationTTL: 5 * time.Minute, ChunkSize: 7}, nil)
	total, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, walletCount*perWallet, total)

	for _, w := range wallets {
		curr, err := store.GetWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(perWallet), curr.Balance, "wallet %d fully refunded", w.ID)

		txs, err := store.ListTransactions(ctx, w.ID, 0)
		require.NoError(t, err)
		assert.Len(t, txs, perWallet*2, "one refund row per reversed debit")
	}

	// A second sweep finds nothing.
	total, err = sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestSweep_ConcurrentSweepersPartitionTheStaleSet(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	now := time.Unix(1700000000, 0).UTC()
	old := now.Add(-time.Hour)

	const (
		walletCount = 20
		perWallet   = 10
	)
	for i := 0; i < walletCount; i++ {
		w, err := store.CreateWallet(ctx, fmt.Sprintf("tenant-%d", i), perWallet)
		require.NoError(t, err)
		seedReservations(t, svc, store, w.ID, perWallet, old)
	}

	cfg := SweeperConfig{ReservationTTL: 5 * time.Minute, ChunkSize: 13}
	totals := make([]int, 2)
	var wg sync.WaitGroup
	for i := range totals {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := NewSweeper(store, nil, cfg, nil).Sweep(ctx, now)
			require.NoError(t, err)
			totals[i] = n
		}(i)
	}
	wg.Wait()

	assert.Equal(t, walletCount*perWallet, totals[0]+totals[1], "each row swept exactly once")

	for i := int64(1); i <= walletCount; i++ {
		curr, err := store.GetWallet(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, int64(perWallet), curr.Balance)
	}
}

func TestSweep_PublishesReversalsToSink(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	w, err := store.CreateWallet(ctx, "acme", 10)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	seedReservations(t, svc, store, w.ID, 4, now.Add(-time.Hour))

	sink := &recordingSink{}
	sweeper := NewSweeper(store, sink, SweeperConfig{ReservationTTL: 5 * time.Minute, ChunkSize: 2}, nil)
	total, err := sweeper.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	require.Len(t, sink.settled, 4)
	for _, tx := range sink.settled {
		assert.Equal(t, TxStatusReversed, tx.Status)
		assert.Equal(t, "expired", tx.Note)
	}
}
