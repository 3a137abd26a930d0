package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iProgrammerDmytro/credit-system/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore implements Store on database/sql with the pgx stdlib driver.
//
// It assumes the schema from ./migrations, in particular the partial unique
// index on (wallet_id, idempotency_key) WHERE idempotency_key IS NOT NULL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txColumns = `id, wallet_id, delta, tx_type, tx_status, idempotency_key, request_id, note, created_at`

func (s *PostgresStore) CreateWallet(ctx context.Context, name string, balance int64) (Wallet, error) {
	const q = `
INSERT INTO wallets (name, balance, updated_at)
VALUES ($1, $2, now())
RETURNING id, name, balance, updated_at
`
	var w Wallet
	err := s.db.QueryRowContext(ctx, q, name, balance).Scan(&w.ID, &w.Name, &w.Balance, &w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Wallet{}, fmt.Errorf("wallet %q: %w", name, ErrConflict)
		}
		return Wallet{}, err
	}
	return w, nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, id int64) (Wallet, error) {
	const q = `SELECT id, name, balance, updated_at FROM wallets WHERE id = $1`
	return scanWallet(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresStore) GetWalletByAPIKey(ctx context.Context, key string) (Wallet, error) {
	const q = `
SELECT w.id, w.name, w.balance, w.updated_at
FROM wallets w
JOIN api_keys k ON k.wallet_id = w.id
WHERE k.key = $1 AND k.is_active
`
	return scanWallet(s.db.QueryRowContext(ctx, q, key))
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, walletID int64, key, label string) (APIKey, error) {
	const q = `
INSERT INTO api_keys (wallet_id, key, is_active, label, created_at)
VALUES ($1, $2, TRUE, $3, now())
RETURNING id, created_at
`
	k := APIKey{WalletID: walletID, Key: key, IsActive: true, Label: label}
	err := s.db.QueryRowContext(ctx, q, walletID, key, label).Scan(&k.ID, &k.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return APIKey{}, fmt.Errorf("api key: %w", ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return APIKey{}, fmt.Errorf("wallet %d: %w", walletID, ErrNotFound)
		}
		return APIKey{}, err
	}
	return k, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, id int64) (CreditTransaction, error) {
	q := `SELECT ` + txColumns + ` FROM credit_transactions WHERE id = $1`
	return scanTx(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresStore) ListTransactions(ctx context.Context, walletID int64, limit int) ([]CreditTransaction, error) {
	q := `
SELECT ` + txColumns + `
FROM credit_transactions
WHERE wallet_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`
	rows, err := s.db.QueryContext(ctx, q, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CreditTransaction
	for rows.Next() {
		t, err := scanTxRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx StoreTx) error) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(pgTx{tx: tx})
	})
}

// pgTx adapts one *sql.Tx to the StoreTx operation set.
type pgTx struct {
	tx *sql.Tx
}

func (p pgTx) InsertReservation(ctx context.Context, ins ReservationInsert) (CreditTransaction, bool, error) {
	// Insert-first: the partial unique index arbitrates concurrent callers
	// with the same key. Exactly one INSERT lands; the rest fall through to
	// the SELECT below and share the winner's row.
	const q = `
INSERT INTO credit_transactions
	(wallet_id, delta, tx_type, tx_status, idempotency_key, request_id, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (wallet_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
RETURNING id, created_at
`
	t := CreditTransaction{
		WalletID:       ins.WalletID,
		Delta:          -ins.Amount,
		Type:           TxTypeDebit,
		Status:         TxStatusPending,
		IdempotencyKey: ins.IdempotencyKey,
		RequestID:      ins.RequestID,
		Note:           ins.Note,
	}

	err := p.tx.QueryRowContext(ctx, q,
		ins.WalletID,
		-ins.Amount,
		string(TxTypeDebit),
		string(TxStatusPending),
		ins.IdempotencyKey,
		ins.RequestID,
		ins.Note,
	).Scan(&t.ID, &t.CreatedAt)

	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return CreditTransaction{}, false, err
	}

	// Conflict path: the key is taken, return the shared reservation.
	if ins.IdempotencyKey == nil {
		// NULL keys never conflict; no row means something else went wrong.
		return CreditTransaction{}, false, fmt.Errorf("reservation insert returned no row")
	}
	sel := `SELECT ` + txColumns + ` FROM credit_transactions WHERE wallet_id = $1 AND idempotency_key = $2`
	existing, err := scanTx(p.tx.QueryRowContext(ctx, sel, ins.WalletID, *ins.IdempotencyKey))
	if err != nil {
		return CreditTransaction{}, false, err
	}
	return existing, false, nil
}

func (p pgTx) DecrementBalance(ctx context.Context, walletID, amount int64) (bool, error) {
	// Single-statement check-and-subtract; the row lock taken by UPDATE
	// serializes balance writes, so there is no read-then-write window.
	const q = `
UPDATE wallets SET balance = balance - $2, updated_at = now()
WHERE id = $1 AND balance >= $2
`
	res, err := p.tx.ExecContext(ctx, q, walletID, amount)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p pgTx) CreditBalance(ctx context.Context, walletID, amount int64) error {
	const q = `UPDATE wallets SET balance = balance + $2, updated_at = now() WHERE id = $1`
	res, err := p.tx.ExecContext(ctx, q, walletID, amount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("wallet %d: %w", walletID, ErrNotFound)
	}
	return nil
}

func (p pgTx) LockTransaction(ctx context.Context, id int64) (CreditTransaction, error) {
	q := `SELECT ` + txColumns + ` FROM credit_transactions WHERE id = $1 FOR UPDATE`
	return scanTx(p.tx.QueryRowContext(ctx, q, id))
}

func (p pgTx) MarkCommitted(ctx context.Context, id int64) error {
	const q = `UPDATE credit_transactions SET tx_status = $2 WHERE id = $1`
	_, err := p.tx.ExecContext(ctx, q, id, string(TxStatusCommitted))
	return err
}

func (p pgTx) MarkReversed(ctx context.Context, id int64, note string) error {
	const q = `UPDATE credit_transactions SET tx_status = $2, note = $3 WHERE id = $1`
	_, err := p.tx.ExecContext(ctx, q, id, string(TxStatusReversed), note)
	return err
}

func (p pgTx) InsertSettled(ctx context.Context, walletID, delta int64, txType TxType, note string) (CreditTransaction, error) {
	const q = `
INSERT INTO credit_transactions (wallet_id, delta, tx_type, tx_status, note, created_at)
VALUES ($1, $2, $3, $4, $5, now())
RETURNING id, created_at
`
	t := CreditTransaction{
		WalletID: walletID,
		Delta:    delta,
		Type:     txType,
		Status:   TxStatusCommitted,
		Note:     note,
	}
	err := p.tx.QueryRowContext(ctx, q, walletID, delta, string(txType), string(TxStatusCommitted), note).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return CreditTransaction{}, err
	}
	return t, nil
}

func (p pgTx) SelectStaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]CreditTransaction, error) {
	// SKIP LOCKED lets concurrent sweepers partition the stale set and keeps
	// the sweep from blocking behind in-flight commits.
	q := `
SELECT ` + txColumns + `
FROM credit_transactions
WHERE tx_status = $1 AND created_at < $2
ORDER BY id
LIMIT $3
FOR UPDATE SKIP LOCKED
`
	rows, err := p.tx.QueryContext(ctx, q, string(TxStatusPending), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CreditTransaction
	for rows.Next() {
		t, err := scanTxRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p pgTx) Backdate(ctx context.Context, ids []int64, ts time.Time) error {
	const q = `UPDATE credit_transactions SET created_at = $2 WHERE id = ANY($1)`
	_, err := p.tx.ExecContext(ctx, q, ids, ts)
	return err
}

func scanWallet(row *sql.Row) (Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.ID, &w.Name, &w.Balance, &w.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}
	return w, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTxRow(row rowScanner) (CreditTransaction, error) {
	var (
		t    CreditTransaction
		key  sql.NullString
		rid  sql.NullString
		typ  string
		stat string
	)
	err := row.Scan(&t.ID, &t.WalletID, &t.Delta, &typ, &stat, &key, &rid, &t.Note, &t.CreatedAt)
	if err != nil {
		return CreditTransaction{}, err
	}
	t.Type = TxType(typ)
	t.Status = TxStatus(stat)
	if key.Valid {
		t.IdempotencyKey = &key.String
	}
	if rid.Valid {
		t.RequestID = &rid.String
	}
	return t, nil
}

func scanTx(row *sql.Row) (CreditTransaction, error) {
	t, err := scanTxRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CreditTransaction{}, ErrNotFound
		}
		return CreditTransaction{}, err
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
