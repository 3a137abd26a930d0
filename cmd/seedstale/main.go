// seedstale creates PENDING reservations and backdates them so the sweeper
// has something to chew on. Development tooling only.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/iProgrammerDmytro/credit-system/internal/credits"
	"github.com/iProgrammerDmytro/credit-system/pkg/utils"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	var (
		walletID   int64
		count      int
		amount     int64
		secondsAgo int
		tag        string
	)

	flag.Int64Var(&walletID, "wallet-id", 0, "Wallet to reserve against")
	flag.IntVar(&count, "count", 20, "Number of reservations to create")
	flag.Int64Var(&amount, "amount", 1, "Credits per reservation")
	flag.IntVar(&secondsAgo, "seconds-ago", 600, "How far to backdate created_at")
	flag.StringVar(&tag, "tag", "seed-stale", "Note written on the reservations")
	flag.Parse()

	if walletID <= 0 {
		log.Fatal("-wallet-id is required")
	}

	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()
	db, err := utils.OpenPostgres(ctx, "pgx", dsn, utils.PostgresPoolConfig{})
	if err != nil {
		log.Fatalf("postgres init failed: %v", err)
	}
	defer db.Close()

	store := credits.NewPostgresStore(db)
	svc := credits.NewService(store, nil)

	// Ensure the wallet can afford the reservations (realistic seed).
	w, err := store.GetWallet(ctx, walletID)
	if err != nil {
		log.Fatalf("wallet lookup failed: %v", err)
	}
	needed := int64(count) * amount
	if w.Balance < needed {
		if _, err := svc.TopUp(ctx, walletID, needed-w.Balance, tag+"-topup"); err != nil {
			log.Fatalf("top-up failed: %v", err)
		}
	}

	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		key := "stale-" + uuid.NewString()[:12]
		tx, err := svc.Reserve(ctx, walletID, amount, credits.ReserveOptions{
			IdempotencyKey: key,
			Note:           tag,
		})
		if err != nil {
			log.Fatalf("reserve failed: %v", err)
		}
		ids = append(ids, tx.ID)
	}

	// Backdate in bulk (single UPDATE).
	staleTS := time.Now().Add(-time.Duration(secondsAgo) * time.Second)
	err = store.InTx(ctx, func(tx credits.StoreTx) error {
		return tx.Backdate(ctx, ids, staleTS)
	})
	if err != nil {
		log.Fatalf("backdate failed: %v", err)
	}

	fmt.Printf("wallet=%d created=%d amount=%d seconds_ago=%d\n", walletID, len(ids), amount, secondsAgo)
}
