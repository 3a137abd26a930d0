package credits

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultReservationTTL = 5 * time.Minute
	DefaultSweepChunkSize = 500
)

// Sweeper reverses reservations that outlived their TTL, usually because the
// process holding them crashed between reserve and commit/reverse.
//
// Concurrency: the stale scan uses skip-locked row acquisition, so sweepers
// running in parallel (or alongside live commits) partition the stale set
// instead of blocking on each other. A row locked by an in-flight commit is
// skipped this tick and will no longer be PENDING on the next one.
type Sweeper struct {
	store     Store
	sink      EventSink
	ttl       time.Duration
	chunkSize int
	log       *slog.Logger
}

type SweeperConfig struct {
	ReservationTTL time.Duration
	ChunkSize      int
}

func NewSweeper(store Store, sink EventSink, cfg SweeperConfig, log *slog.Logger) *Sweeper {
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = DefaultReservationTTL
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultSweepChunkSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: store, sink: sink, ttl: cfg.ReservationTTL, chunkSize: cfg.ChunkSize, log: log}
}

// Sweep reverses every PENDING debit strictly older than now-ttl, in chunks,
// and returns the number of rows reversed. A row created exactly at the
// cutoff is not stale.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.ttl)
	total := 0

	for {
		var (
			batchLen int
			reversed []CreditTransaction
		)
		err := s.store.InTx(ctx, func(tx StoreTx) error {
			batch, err := tx.SelectStaleReservations(ctx, cutoff, s.chunkSize)
			if err != nil {
				return err
			}
			batchLen = len(batch)
			for _, row := range batch {
				curr, transitioned, err := reverseInTx(ctx, tx, row.ID, "expired")
				if err != nil {
					return err
				}
				if transitioned {
					reversed = append(reversed, curr)
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		if batchLen == 0 {
			break
		}

		total += len(reversed)
		if s.sink != nil {
			for _, tx := range reversed {
				s.sink.TransactionSettled(ctx, tx)
			}
		}
	}

	s.log.Info("sweep done", "total", total)
	return total, nil
}
