package credits

import "time"

// Wallet holds one integer credit balance per customer/project/account.
//
// Money invariants:
// - Balance never goes negative at any committed state.
// - Balance only moves through the conditional decrement (reserve), the
//   restore (reverse) and the top-up path; every move has a ledger row.
type Wallet struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Balance   int64     `json:"balance" db:"balance"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// APIKey is a plain opaque key for metered endpoints. No HMAC; the key value
// itself is the secret and is stored verbatim.
type APIKey struct {
	ID        int64     `json:"id" db:"id"`
	WalletID  int64     `json:"wallet_id" db:"wallet_id"`
	Key       string    `json:"key" db:"key"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	Label     string    `json:"label,omitempty" db:"label"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CreditTransaction is an append-first ledger row. A reservation is written as
// a PENDING DEBIT, then COMMITTED on success or REVERSED (with a matching
// REFUND row) on failure. Only tx_status and note may mutate, and only on the
// PENDING -> {COMMITTED, REVERSED} edge.
type CreditTransaction struct {
	ID       int64 `json:"id" db:"id"`
	WalletID int64 `json:"wallet_id" db:"wallet_id"`

	// Delta is signed: negative for DEBIT, positive for CREDIT/REFUND.
	Delta  int64    `json:"delta" db:"delta"`
	Type   TxType   `json:"tx_type" db:"tx_type"`
	Status TxStatus `json:"tx_status" db:"tx_status"`

	// IdempotencyKey collapses client retries into one reservation per wallet.
	// NULL rows are unconstrained; non-NULL pairs are unique per wallet.
	IdempotencyKey *string `json:"idempotency_key,omitempty" db:"idempotency_key"`
	RequestID      *string `json:"request_id,omitempty" db:"request_id"`

	Note      string    `json:"note,omitempty" db:"note"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Amount is the unsigned number of credits this row moves.
func (t CreditTransaction) Amount() int64 {
	if t.Delta < 0 {
		return -t.Delta
	}
	return t.Delta
}

type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"   // reserved, not yet committed
	TxStatusCommitted TxStatus = "committed" // final, counts toward usage
	TxStatusReversed  TxStatus = "reversed"  // reversal of a pending hold
)

type TxType string

const (
	TxTypeDebit  TxType = "debit"
	TxTypeCredit TxType = "credit"
	TxTypeRefund TxType = "refund"
)
