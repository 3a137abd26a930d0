package credits

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local runs without
// Postgres. A single mutex serializes transactions, which trivially satisfies
// the row-lock and skip-locked contracts; InTx snapshots state so a failed
// transaction rolls back every write, matching the SQL implementation.
type MemoryStore struct {
	mu sync.Mutex

	// clock is injectable for deterministic tests.
	clock func() time.Time

	nextWalletID int64
	nextKeyID    int64
	nextTxID     int64

	wallets map[int64]*Wallet
	keys    map[int64]*APIKey
	txs     map[int64]*CreditTransaction
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clock:   time.Now,
		wallets: make(map[int64]*Wallet),
		keys:    make(map[int64]*APIKey),
		txs:     make(map[int64]*CreditTransaction),
	}
}

func (s *MemoryStore) CreateWallet(_ context.Context, name string, balance int64) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.wallets {
		if w.Name == name {
			return Wallet{}, fmt.Errorf("wallet %q: %w", name, ErrConflict)
		}
	}
	s.nextWalletID++
	w := Wallet{ID: s.nextWalletID, Name: name, Balance: balance, UpdatedAt: s.clock().UTC()}
	s.wallets[w.ID] = &w
	out := w
	return out, nil
}

func (s *MemoryStore) GetWallet(_ context.Context, id int64) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return *w, nil
}

func (s *MemoryStore) GetWalletByAPIKey(_ context.Context, key string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		if k.Key == key && k.IsActive {
			if w, ok := s.wallets[k.WalletID]; ok {
				return *w, nil
			}
		}
	}
	return Wallet{}, ErrNotFound
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, walletID int64, key, label string) (APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wallets[walletID]; !ok {
		return APIKey{}, fmt.Errorf("wallet %d: %w", walletID, ErrNotFound)
	}
	for _, k := range s.keys {
		if k.Key == key {
			return APIKey{}, fmt.Errorf("api key: %w", ErrConflict)
		}
	}
	s.nextKeyID++
	k := APIKey{ID: s.nextKeyID, WalletID: walletID, Key: key, IsActive: true, Label: label, CreatedAt: s.clock().UTC()}
	s.keys[k.ID] = &k
	return k, nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id int64) (CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txs[id]
	if !ok {
		return CreditTransaction{}, ErrNotFound
	}
	return *t, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, walletID int64, limit int) ([]CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []CreditTransaction
	for _, t := range s.txs {
		if t.WalletID == walletID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InTx(_ context.Context, fn func(tx StoreTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapWallets, snapTxs, snapNextTx := s.snapshot()
	if err := fn(&memTx{s: s}); err != nil {
		s.wallets, s.txs, s.nextTxID = snapWallets, snapTxs, snapNextTx
		return err
	}
	return nil
}

func (s *MemoryStore) snapshot() (map[int64]*Wallet, map[int64]*CreditTransaction, int64) {
	wallets := make(map[int64]*Wallet, len(s.wallets))
	for id, w := range s.wallets {
		cp := *w
		wallets[id] = &cp
	}
	txs := make(map[int64]*CreditTransaction, len(s.txs))
	for id, t := range s.txs {
		cp := *t
		txs[id] = &cp
	}
	return wallets, txs, s.nextTxID
}

// memTx runs under the store mutex held by InTx.
type memTx struct {
	s *MemoryStore
}

var _ StoreTx = (*memTx)(nil)

func (m *memTx) InsertReservation(_ context.Context, ins ReservationInsert) (CreditTransaction, bool, error) {
	if ins.IdempotencyKey != nil {
		for _, t := range m.s.txs {
			if t.WalletID == ins.WalletID && t.IdempotencyKey != nil && *t.IdempotencyKey == *ins.IdempotencyKey {
				return *t, false, nil
			}
		}
	}
	m.s.nextTxID++
	t := CreditTransaction{
		ID:             m.s.nextTxID,
		WalletID:       ins.WalletID,
		Delta:          -ins.Amount,
		Type:           TxTypeDebit,
		Status:         TxStatusPending,
		IdempotencyKey: ins.IdempotencyKey,
		RequestID:      ins.RequestID,
		Note:           ins.Note,
		CreatedAt:      m.s.clock().UTC(),
	}
	m.s.txs[t.ID] = &t
	return t, true, nil
}

func (m *memTx) DecrementBalance(_ context.Context, walletID, amount int64) (bool, error) {
	w, ok := m.s.wallets[walletID]
	if !ok || w.Balance < amount {
		return false, nil
	}
	w.Balance -= amount
	w.UpdatedAt = m.s.clock().UTC()
	return true, nil
}

func (m *memTx) CreditBalance(_ context.Context, walletID, amount int64) error {
	w, ok := m.s.wallets[walletID]
	if !ok {
		return fmt.Errorf("wallet %d: %w", walletID, ErrNotFound)
	}
	w.Balance += amount
	w.UpdatedAt = m.s.clock().UTC()
	return nil
}

func (m *memTx) LockTransaction(_ context.Context, id int64) (CreditTransaction, error) {
	t, ok := m.s.txs[id]
	if !ok {
		return CreditTransaction{}, ErrNotFound
	}
	return *t, nil
}

func (m *memTx) MarkCommitted(_ context.Context, id int64) error {
	t, ok := m.s.txs[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = TxStatusCommitted
	return nil
}

func (m *memTx) MarkReversed(_ context.Context, id int64, note string) error {
	t, ok := m.s.txs[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = TxStatusReversed
	t.Note = note
	return nil
}

func (m *memTx) InsertSettled(_ context.Context, walletID, delta int64, txType TxType, note string) (CreditTransaction, error) {
	m.s.nextTxID++
	t := CreditTransaction{
		ID:        m.s.nextTxID,
		WalletID:  walletID,
		Delta:     delta,
		Type:      txType,
		Status:    TxStatusCommitted,
		Note:      note,
		CreatedAt: m.s.clock().UTC(),
	}
	m.s.txs[t.ID] = &t
	return t, nil
}

func (m *memTx) SelectStaleReservations(_ context.Context, cutoff time.Time, limit int) ([]CreditTransaction, error) {
	var out []CreditTransaction
	for _, t := range m.s.txs {
		if t.Status == TxStatusPending && t.CreatedAt.Before(cutoff) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTx) Backdate(_ context.Context, ids []int64, ts time.Time) error {
	for _, id := range ids {
		if t, ok := m.s.txs[id]; ok {
			t.CreatedAt = ts
		}
	}
	return nil
}
