package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iProgrammerDmytro/credit-system/internal/auth"
	"github.com/iProgrammerDmytro/credit-system/internal/config"
	"github.com/iProgrammerDmytro/credit-system/internal/credits"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// adminRouter wires the admin handlers without the JWT middleware; token
// checks are covered in the auth package.
func adminRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.POST("/wallets", h.CreateWallet)
	r.POST("/wallets/:wallet_id/keys", h.IssueAPIKey)
	r.POST("/wallets/:wallet_id/topup", h.TopUp)
	r.GET("/wallets/:wallet_id/transactions", h.ListTransactions)
	return r
}

func newHandlers() (Handlers, *credits.MemoryStore) {
	store := credits.NewMemoryStore()
	return Handlers{Credits: credits.NewService(store, nil), Store: store}, store
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateWallet(t *testing.T) {
	h, store := newHandlers()
	r := adminRouter(h)

	rec := doJSON(r, http.MethodPost, "/wallets", `{"name": "acme", "balance": 100}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var w credits.Wallet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &w))
	assert.Equal(t, "acme", w.Name)
	assert.Equal(t, int64(100), w.Balance)

	got, err := store.GetWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Balance)
}

func TestCreateWallet_Validation(t *testing.T) {
	h, _ := newHandlers()
	r := adminRouter(h)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing name", `{"balance": 5}`, http.StatusBadRequest},
		{"negative balance", `{"name": "x", "balance": -1}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(r, http.MethodPost, "/wallets", tc.body)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestCreateWallet_DuplicateName(t *testing.T) {
	h, _ := newHandlers()
	r := adminRouter(h)

	rec := doJSON(r, http.MethodPost, "/wallets", `{"name": "acme"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(r, http.MethodPost, "/wallets", `{"name": "acme"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIssueAPIKey(t *testing.T) {
	h, store := newHandlers()
	r := adminRouter(h)

	w, err := store.CreateWallet(context.Background(), "acme", 0)
	require.NoError(t, err)

	rec := doJSON(r, http.MethodPost, "/wallets/1/keys", `{"label": "ci"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID    int64  `json:"id"`
		Key   string `json:"key"`
		Label string `json:"label"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Key, 64)
	assert.Equal(t, "ci", resp.Label)

	got, err := store.GetWalletByAPIKey(context.Background(), resp.Key)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
}

func TestIssueAPIKey_UnknownWallet(t *testing.T) {
	h, _ := newHandlers()
	r := adminRouter(h)

	rec := doJSON(r, http.MethodPost, "/wallets/42/keys", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTopUp(t *testing.T) {
	h, store := newHandlers()
	r := adminRouter(h)

	_, err := store.CreateWallet(context.Background(), "acme", 5)
	require.NoError(t, err)

	rec := doJSON(r, http.MethodPost, "/wallets/1/topup", `{"amount": 10, "note": "invoice 7"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tx credits.CreditTransaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx))
	assert.Equal(t, credits.TxTypeCredit, tx.Type)
	assert.Equal(t, credits.TxStatusCommitted, tx.Status)
	assert.Equal(t, int64(10), tx.Delta)
	assert.Equal(t, "invoice 7", tx.Note)

	got, err := store.GetWallet(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.Balance)
}

func TestTopUp_Errors(t *testing.T) {
	h, store := newHandlers()
	r := adminRouter(h)

	_, err := store.CreateWallet(context.Background(), "acme", 5)
	require.NoError(t, err)

	rec := doJSON(r, http.MethodPost, "/wallets/1/topup", `{"amount": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(r, http.MethodPost, "/wallets/99/topup", `{"amount": 5}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(r, http.MethodPost, "/wallets/abc/topup", `{"amount": 5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTransactions(t *testing.T) {
	h, store := newHandlers()
	r := adminRouter(h)

	w, err := store.CreateWallet(context.Background(), "acme", 100)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := h.Credits.TopUp(context.Background(), w.ID, 1, "seed")
		require.NoError(t, err)
	}

	rec := doJSON(r, http.MethodGet, "/wallets/1/transactions?limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Transactions []credits.CreditTransaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Transactions, 3)

	rec = doJSON(r, http.MethodGet, "/wallets/1/transactions?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(r, http.MethodGet, "/wallets/1/transactions?limit=nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBalance(t *testing.T) {
	h, store := newHandlers()

	w, err := store.CreateWallet(context.Background(), "acme", 42)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/balance", credits.APIKeyAuth(store), h.Balance)

	key, err := credits.GenerateAPIKey()
	require.NoError(t, err)
	_, err = store.CreateAPIKey(context.Background(), w.ID, key, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/balance", nil)
	req.Header.Set("X-API-Key", key)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"wallet": "acme", "balance": 42}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/balance", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin(t *testing.T) {
	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	require.NoError(t, err)

	h := Handlers{Auth: m}
	r := gin.New()
	r.POST("/auth/login", h.Login)

	rec := doJSON(r, http.MethodPost, "/auth/login", `{"user_id": "u1", "role": "admin"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	claims, err := m.Verify(resp.AccessToken, auth.TokenTypeAccess, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, auth.RoleAdmin, claims.Role)

	rec = doJSON(r, http.MethodPost, "/auth/login", `{"user_id": "u1", "role": "superuser"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(r, http.MethodPost, "/auth/login", `{"user_id": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEcho(t *testing.T) {
	h, _ := newHandlers()
	r := gin.New()
	r.GET("/echo", h.Echo)

	rec := doJSON(r, http.MethodGet, "/echo", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok": true, "message": "Service did its job!"}`, rec.Body.String())
}
