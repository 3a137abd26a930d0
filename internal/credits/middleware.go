package credits

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/iProgrammerDmytro/credit-system/internal/metrics"
	"github.com/iProgrammerDmytro/credit-system/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerAPIKey         = "X-API-Key"
	headerIdempotencyKey = "Idempotency-Key"
)

type walletCtxKey struct{}

// WithWallet stores the authenticated wallet in the request context.
func WithWallet(ctx context.Context, w Wallet) context.Context {
	return context.WithValue(ctx, walletCtxKey{}, w)
}

// WalletFrom returns the wallet resolved by APIKeyAuth, if any.
func WalletFrom(ctx context.Context) (Wallet, bool) {
	w, ok := ctx.Value(walletCtxKey{}).(Wallet)
	return w, ok
}

// WalletResolver is the minimal store surface APIKeyAuth needs.
type WalletResolver interface {
	GetWalletByAPIKey(ctx context.Context, key string) (Wallet, error)
}

// APIKeyAuth resolves the wallet from the X-API-Key header into the request
// context. A missing or invalid key leaves it unset; consumers decide whether
// that is a 401 (metered routes do, health does not).
func APIKeyAuth(store WalletResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(headerAPIKey))
		if key == "" {
			c.Next()
			return
		}

		w, err := store.GetWalletByAPIKey(c.Request.Context(), key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				logger.FromGin(c).Error("api key lookup failed", "err", err)
			}
			c.Next()
			return
		}

		c.Request = c.Request.WithContext(WithWallet(c.Request.Context(), w))
		c.Next()
	}
}

// ChargeCredits wraps metered handlers: reserve before work, commit on
// 2xx/3xx, reverse otherwise. Every reservation it creates reaches a terminal
// state on every exit path, panics included; the sweeper only has to cover
// process crashes.
func ChargeCredits(svc *Service, amount int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet, ok := WalletFrom(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "API key required"})
			return
		}

		reservation, err := svc.Reserve(c.Request.Context(), wallet.ID, amount, ReserveOptions{
			IdempotencyKey: strings.TrimSpace(c.GetHeader(headerIdempotencyKey)),
			RequestID:      uuid.NewString(),
			Note:           "api-request",
		})
		switch {
		case errors.Is(err, ErrInsufficientCredits):
			metrics.RecordReservation("insufficient")
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"detail": "Insufficient credits"})
			return
		case errors.Is(err, ErrInvalidKey):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Idempotency-Key too long"})
			return
		case err != nil:
			logger.FromGin(c).Error("credit reservation failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "reservation failed"})
			return
		}
		metrics.RecordReservation("reserved")

		// The terminal transition must run even if the client went away.
		settleCtx := context.WithoutCancel(c.Request.Context())

		settled := false
		defer func() {
			if settled {
				return
			}
			// Panic exit: restore the hold, then let the panic continue to
			// the recovery middleware.
			if _, rerr := svc.Reverse(settleCtx, reservation.ID, "exception"); rerr != nil {
				logger.FromGin(c).Error("reverse after panic failed", "tx_id", reservation.ID, "err", rerr)
			} else {
				metrics.RecordSettlement("reversed")
			}
		}()

		c.Next()
		settled = true

		code := c.Writer.Status()
		if code >= 200 && code < 400 {
			if _, cerr := svc.Commit(settleCtx, reservation.ID); cerr != nil {
				// Reservation stays PENDING; the sweeper will reverse it.
				logger.FromGin(c).Error("commit failed", "tx_id", reservation.ID, "err", cerr)
				return
			}
			metrics.RecordSettlement("committed")
			return
		}

		if _, rerr := svc.Reverse(settleCtx, reservation.ID, fmt.Sprintf("http %d", code)); rerr != nil {
			logger.FromGin(c).Error("reverse failed", "tx_id", reservation.ID, "err", rerr)
			return
		}
		metrics.RecordSettlement("reversed")
	}
}
