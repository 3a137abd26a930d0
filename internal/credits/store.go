package credits

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must be > 0")
	ErrInvalidKey          = errors.New("idempotency key too long")
	ErrConflict            = errors.New("conflict")
)

// ReservationInsert is the row shape for the insert-first reservation write.
type ReservationInsert struct {
	WalletID       int64
	Amount         int64
	IdempotencyKey *string
	RequestID      *string
	Note           string
}

// Store is the ledger storage boundary. Nothing above this interface reasons
// about SQL; the Postgres implementation supplies the transactional guarantees
// (row locks, partial unique constraint, conditional updates) and the memory
// implementation mirrors them for tests and local runs.
type Store interface {
	CreateWallet(ctx context.Context, name string, balance int64) (Wallet, error)
	GetWallet(ctx context.Context, id int64) (Wallet, error)
	GetWalletByAPIKey(ctx context.Context, key string) (Wallet, error)
	CreateAPIKey(ctx context.Context, walletID int64, key, label string) (APIKey, error)

	GetTransaction(ctx context.Context, id int64) (CreditTransaction, error)
	ListTransactions(ctx context.Context, walletID int64, limit int) ([]CreditTransaction, error)

	// InTx runs fn atomically. If fn returns an error every write it made is
	// rolled back, including inserted ledger rows.
	InTx(ctx context.Context, fn func(tx StoreTx) error) error
}

// StoreTx is the operation set available inside one atomic transaction.
type StoreTx interface {
	// InsertReservation writes a PENDING DEBIT using (wallet_id,
	// idempotency_key) as the conflict key. When the key is already taken it
	// returns the existing row with created=false and writes nothing; the
	// store's unique constraint arbitrates concurrent callers.
	InsertReservation(ctx context.Context, ins ReservationInsert) (tx CreditTransaction, created bool, err error)

	// DecrementBalance applies the conditional decrement
	// (balance = balance - amount WHERE balance >= amount) and reports
	// whether a row matched.
	DecrementBalance(ctx context.Context, walletID, amount int64) (bool, error)

	// CreditBalance unconditionally adds amount to the wallet balance.
	CreditBalance(ctx context.Context, walletID, amount int64) error

	// LockTransaction fetches a ledger row under a row lock, serializing the
	// commit/reverse race: the first writer wins, the loser observes a
	// non-PENDING state.
	LockTransaction(ctx context.Context, id int64) (CreditTransaction, error)

	MarkCommitted(ctx context.Context, id int64) error
	MarkReversed(ctx context.Context, id int64, note string) error

	// InsertSettled writes a row that is born COMMITTED (CREDIT, REFUND).
	InsertSettled(ctx context.Context, walletID, delta int64, txType TxType, note string) (CreditTransaction, error)

	// SelectStaleReservations returns up to limit PENDING rows strictly older
	// than cutoff, ordered by id, skipping rows locked by other writers.
	SelectStaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]CreditTransaction, error)

	// Backdate rewrites created_at for the given rows. Tooling only.
	Backdate(ctx context.Context, ids []int64, ts time.Time) error
}
