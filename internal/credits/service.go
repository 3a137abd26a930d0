package credits

import (
	"context"
	"fmt"
)

// MaxIdempotencyKeyLen bounds the client-supplied Idempotency-Key header.
const MaxIdempotencyKeyLen = 64

// EventSink receives terminal ledger transitions (commit, reverse, refund,
// top-up). Implementations must be non-blocking best-effort; the ledger write
// has already committed by the time the sink runs.
type EventSink interface {
	TransactionSettled(ctx context.Context, tx CreditTransaction)
}

// Service provides the reservation protocol over a Store.
//
// Money invariants:
// - A PENDING DEBIT holds exactly |delta| credits; the balance already
//   reflects the hold at reserve time.
// - Commit never touches the balance; reverse restores it and emits a
//   COMMITTED REFUND row.
// - Both terminal transitions are idempotent: the first writer wins.
type Service struct {
	store Store
	sink  EventSink
}

func NewService(store Store, sink EventSink) *Service {
	return &Service{store: store, sink: sink}
}

// ReserveOptions carries the optional reservation metadata. An empty
// IdempotencyKey means the reservation is not idempotent.
type ReserveOptions struct {
	IdempotencyKey string
	RequestID      string
	Note           string
}

// Reserve creates a PENDING DEBIT and conditionally decrements the wallet
// balance within one transaction.
//
// With an idempotency key, concurrent callers race on the store's unique
// constraint: exactly one creates the row and debits; the rest get the shared
// reservation back unchanged. On insufficient funds the transaction aborts,
// undoing the inserted row.
func (s *Service) Reserve(ctx context.Context, walletID, amount int64, opts ReserveOptions) (CreditTransaction, error) {
	if amount <= 0 {
		return CreditTransaction{}, ErrInvalidAmount
	}
	if len(opts.IdempotencyKey) > MaxIdempotencyKeyLen {
		return CreditTransaction{}, ErrInvalidKey
	}

	ins := ReservationInsert{
		WalletID:       walletID,
		Amount:         amount,
		IdempotencyKey: optional(opts.IdempotencyKey),
		RequestID:      optional(opts.RequestID),
		Note:           opts.Note,
	}

	var out CreditTransaction
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		reservation, created, err := tx.InsertReservation(ctx, ins)
		if err != nil {
			return err
		}
		if !created {
			// Idempotent hit: do NOT debit again.
			out = reservation
			return nil
		}

		ok, err := tx.DecrementBalance(ctx, walletID, amount)
		if err != nil {
			return err
		}
		if !ok {
			// Rolls back the just-created reservation row.
			return ErrInsufficientCredits
		}
		out = reservation
		return nil
	})
	if err != nil {
		return CreditTransaction{}, err
	}
	return out, nil
}

// Commit finalizes a reservation. Non-PENDING rows are returned unchanged, so
// double-commit and commit-after-reverse are safe no-ops. The balance was
// already decremented at reserve time.
func (s *Service) Commit(ctx context.Context, txID int64) (CreditTransaction, error) {
	var (
		out          CreditTransaction
		transitioned bool
	)
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		curr, err := tx.LockTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if curr.Status != TxStatusPending {
			out = curr
			return nil
		}
		if err := tx.MarkCommitted(ctx, txID); err != nil {
			return err
		}
		curr.Status = TxStatusCommitted
		out = curr
		transitioned = true
		return nil
	})
	if err != nil {
		return CreditTransaction{}, err
	}
	if transitioned {
		s.settled(ctx, out)
	}
	return out, nil
}

// Reverse cancels a reservation: marks it REVERSED, restores the held
// credits and writes a COMMITTED REFUND row, all atomically. Non-PENDING
// rows are returned unchanged.
func (s *Service) Reverse(ctx context.Context, txID int64, reason string) (CreditTransaction, error) {
	var (
		out          CreditTransaction
		transitioned bool
	)
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		var err error
		out, transitioned, err = reverseInTx(ctx, tx, txID, reason)
		return err
	})
	if err != nil {
		return CreditTransaction{}, err
	}
	if transitioned {
		s.settled(ctx, out)
	}
	return out, nil
}

// reverseInTx performs the reverse transition inside an already-open
// transaction. The sweeper reuses it so a whole batch shares one transaction.
func reverseInTx(ctx context.Context, tx StoreTx, txID int64, reason string) (CreditTransaction, bool, error) {
	curr, err := tx.LockTransaction(ctx, txID)
	if err != nil {
		return CreditTransaction{}, false, err
	}
	if curr.Status != TxStatusPending {
		// Already terminal; the other writer won.
		return curr, false, nil
	}

	if err := tx.MarkReversed(ctx, txID, reason); err != nil {
		return CreditTransaction{}, false, err
	}
	if err := tx.CreditBalance(ctx, curr.WalletID, curr.Amount()); err != nil {
		return CreditTransaction{}, false, err
	}
	refundNote := fmt.Sprintf("refund of tx %d: %s", curr.ID, reason)
	if _, err := tx.InsertSettled(ctx, curr.WalletID, curr.Amount(), TxTypeRefund, refundNote); err != nil {
		return CreditTransaction{}, false, err
	}

	curr.Status = TxStatusReversed
	curr.Note = reason
	return curr, true, nil
}

// TopUp adds credits to a wallet and records a COMMITTED CREDIT row.
func (s *Service) TopUp(ctx context.Context, walletID, amount int64, note string) (CreditTransaction, error) {
	if amount <= 0 {
		return CreditTransaction{}, ErrInvalidAmount
	}

	var out CreditTransaction
	err := s.store.InTx(ctx, func(tx StoreTx) error {
		if err := tx.CreditBalance(ctx, walletID, amount); err != nil {
			return err
		}
		var err error
		out, err = tx.InsertSettled(ctx, walletID, amount, TxTypeCredit, note)
		return err
	})
	if err != nil {
		return CreditTransaction{}, err
	}
	s.settled(ctx, out)
	return out, nil
}

// GetWallet exposes the wallet read for handlers.
func (s *Service) GetWallet(ctx context.Context, walletID int64) (Wallet, error) {
	return s.store.GetWallet(ctx, walletID)
}

func (s *Service) settled(ctx context.Context, tx CreditTransaction) {
	if s.sink != nil {
		s.sink.TransactionSettled(ctx, tx)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
