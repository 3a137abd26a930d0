// Package events publishes terminal ledger transitions to NATS so downstream
// usage/billing readers do not have to poll the ledger table.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/iProgrammerDmytro/credit-system/internal/credits"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "credits.tx."

// Publisher implements credits.EventSink over a NATS connection.
// Publishing is best-effort: the ledger write has already committed, so a
// failed publish is logged and dropped, never retried into the request path.
type Publisher struct {
	nc  *nats.Conn
	log *slog.Logger
}

var _ credits.EventSink = (*Publisher)(nil)

func NewPublisher(nc *nats.Conn, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{nc: nc, log: log}
}

// Connect dials NATS with conservative reconnect settings.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("credit-system"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

type transactionEvent struct {
	ID        int64     `json:"id"`
	WalletID  int64     `json:"wallet_id"`
	Delta     int64     `json:"delta"`
	Type      string    `json:"tx_type"`
	Status    string    `json:"tx_status"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TransactionSettled publishes the settled row on credits.tx.<status>.
func (p *Publisher) TransactionSettled(_ context.Context, tx credits.CreditTransaction) {
	payload, err := json.Marshal(transactionEvent{
		ID:        tx.ID,
		WalletID:  tx.WalletID,
		Delta:     tx.Delta,
		Type:      string(tx.Type),
		Status:    string(tx.Status),
		Note:      tx.Note,
		CreatedAt: tx.CreatedAt,
	})
	if err != nil {
		p.log.Error("event marshal failed", "tx_id", tx.ID, "err", err)
		return
	}

	subject := subjectPrefix + string(tx.Status)
	if err := p.nc.Publish(subject, payload); err != nil {
		p.log.Error("event publish failed", "subject", subject, "tx_id", tx.ID, "err", err)
	}
}
