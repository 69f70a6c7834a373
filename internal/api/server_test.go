package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/curvedex/internal/dex"
	"github.com/shizukutanaka/curvedex/internal/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.JWTSecret = testSecret
	cfg.RateLimit = 0
	cfg.AllowedOrigins = []string{"https://app.example"}
	return cfg
}

func newTestServer(t *testing.T, cfg Config, opts ...Option) (*Server, *dex.Market) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	params := dex.DefaultParams()
	params.Administrators = []string{"admin"}
	market, err := dex.New(context.Background(), logger, storage.NewMemory(), params)
	require.NoError(t, err)

	server, err := NewServer(cfg, logger, market, opts...)
	require.NoError(t, err)
	return server, market
}

type testResponse struct {
	Success bool
	Data    map[string]interface{}
	Error   string
}

type rawResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// do sends a request through the router, authenticated as account unless
// account is empty.
func do(t *testing.T, s *Server, method, path, account string, body interface{}) (*httptest.ResponseRecorder, testResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		token, err := s.Authenticator().IssueToken(account)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var resp testResponse
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		var raw rawResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
		resp.Success, resp.Error = raw.Success, raw.Error
		if bytes.HasPrefix(raw.Data, []byte("{")) {
			require.NoError(t, json.Unmarshal(raw.Data, &resp.Data))
		}
	}
	return rr, resp
}

func TestNewServer(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewServer(Config{Enabled: false}, logger, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.JWTSecret = ""
	_, err = NewServer(cfg, logger, nil)
	assert.Error(t, err)

	server, _ := newTestServer(t, testConfig())
	assert.NotNil(t, server.Handler())
}

func TestMarketQueries(t *testing.T) {
	server, _ := newTestServer(t, testConfig())

	rr, resp := do(t, server, http.MethodGet, "/api/v1/market", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "Curve Token", resp.Data["name"])
	assert.Equal(t, "0", resp.Data["total_supply"])
	assert.Equal(t, "100010000000", resp.Data["buy_price"])
	assert.Equal(t, "99990000000", resp.Data["sell_price"])

	rr, resp = do(t, server, http.MethodGet, "/api/v1/prices", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "100010000000", resp.Data["buy_price"])

	rr, resp = do(t, server, http.MethodGet, "/api/v1/quote/buy?value=1000000000000", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "9495491781791096887", resp.Data["tokens"])

	rr, resp = do(t, server, http.MethodGet, "/api/v1/quote/sell?tokens=1", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.False(t, resp.Success)

	rr, _ = do(t, server, http.MethodGet, "/api/v1/quote/buy?value=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = do(t, server, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = do(t, server, http.MethodGet, "/api/v1/nothing-here", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOperationsNeedToken(t *testing.T) {
	server, _ := newTestServer(t, testConfig())

	rr, resp := do(t, server, http.MethodPost, "/api/v1/buy", "", buyRequest{Value: "1000"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, ErrMissingToken.Error(), resp.Error)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/buy", strings.NewReader(`{"value":"1000"}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuySellWithdraw(t *testing.T) {
	server, _ := newTestServer(t, testConfig())

	rr, resp := do(t, server, http.MethodPost, "/api/v1/buy", "alice", buyRequest{Value: "1000000000000"})
	require.Equal(t, http.StatusOK, rr.Code, resp.Error)
	minted := resp.Data["tokens"].(string)
	assert.Equal(t, "9495491781791096887", minted)

	rr, resp = do(t, server, http.MethodGet, "/api/v1/me", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alice", resp.Data["id"])
	assert.Equal(t, minted, resp.Data["balance"])

	rr, resp = do(t, server, http.MethodGet, "/api/v1/holdings", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"account":"alice"`)

	rr, _ = do(t, server, http.MethodPost, "/api/v1/sell", "alice", sellRequest{Tokens: minted + "0"})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr, resp = do(t, server, http.MethodPost, "/api/v1/sell", "alice", sellRequest{Tokens: minted})
	require.Equal(t, http.StatusOK, rr.Code, resp.Error)
	assert.Equal(t, "902405042821", resp.Data["proceeds"])

	rr, resp = do(t, server, http.MethodGet, "/api/v1/accounts/alice", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "0", resp.Data["balance"])
	assert.Equal(t, "902405042821", resp.Data["claimable"])

	rr, resp = do(t, server, http.MethodPost, "/api/v1/withdraw", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code, resp.Error)
	assert.Equal(t, "902405042821", resp.Data["withdrawn"])

	rr, _ = do(t, server, http.MethodPost, "/api/v1/withdraw", "alice", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestExitEndpoint(t *testing.T) {
	server, _ := newTestServer(t, testConfig())

	rr, _ := do(t, server, http.MethodPost, "/api/v1/buy", "alice", buyRequest{Value: "1000000000000"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr, resp := do(t, server, http.MethodPost, "/api/v1/exit", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code, resp.Error)
	assert.Equal(t, "9495491781791096887", resp.Data["tokens_sold"])
	assert.Equal(t, "902405042821", resp.Data["sale_proceeds"])
	assert.Equal(t, "902405042821", resp.Data["withdrawn"])
}

func TestExitReportsSaleWhenWithdrawFails(t *testing.T) {
	ctx := context.Background()
	server, market := newTestServer(t, testConfig())

	minted, err := market.Buy(ctx, "alice", bigInt("1000000000000"), "")
	require.NoError(t, err)
	// Keep one unit: it sells for nothing and leaves nothing to withdraw.
	require.NoError(t, market.Transfer(ctx, "alice", "bob", new(big.Int).Sub(minted, big.NewInt(1))))

	rr, resp := do(t, server, http.MethodPost, "/api/v1/exit", "alice", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, dex.ErrNoClaimableDividends.Error())
	assert.Equal(t, "1", resp.Data["tokens_sold"])
	assert.Equal(t, "0", resp.Data["sale_proceeds"])
	assert.Equal(t, "0", resp.Data["withdrawn"])

	balance, err := market.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "0", balance.String())
}

func TestRequestValidation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 64
	server, _ := newTestServer(t, cfg)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"UnknownField", "/api/v1/buy", map[string]string{"value": "1", "bogus": "x"}, http.StatusBadRequest},
		{"NegativeValue", "/api/v1/buy", buyRequest{Value: "-5"}, http.StatusBadRequest},
		{"DecimalValue", "/api/v1/buy", buyRequest{Value: "1.5"}, http.StatusBadRequest},
		{"EmptyBody", "/api/v1/sell", nil, http.StatusBadRequest},
		{"TooLarge", "/api/v1/transfer", transferRequest{To: strings.Repeat("b", 100), Tokens: "1"}, http.StatusRequestEntityTooLarge},
		{"TransferToEmpty", "/api/v1/transfer", transferRequest{To: "", Tokens: "1"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, resp := do(t, server, http.MethodPost, tt.path, "alice", tt.body)
			assert.Equal(t, tt.status, rr.Code, resp.Error)
			assert.False(t, resp.Success)
		})
	}
}

func TestAdminEndpoints(t *testing.T) {
	server, market := newTestServer(t, testConfig())
	ctx := context.Background()

	rr, _ := do(t, server, http.MethodPut, "/api/v1/admin/name", "alice", textRequest{Value: "Stolen"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr, resp := do(t, server, http.MethodPut, "/api/v1/admin/name", "admin", textRequest{Value: "Renamed"})
	require.Equal(t, http.StatusOK, rr.Code, resp.Error)
	rr, resp = do(t, server, http.MethodPut, "/api/v1/admin/symbol", "admin", textRequest{Value: "RNM"})
	require.Equal(t, http.StatusOK, rr.Code, resp.Error)

	rr, resp = do(t, server, http.MethodPut, "/api/v1/admin/staking-requirement", "admin", amountRequest{Amount: "5"})
	require.Equal(t, http.StatusOK, rr.Code, resp.Error)

	rr, resp = do(t, server, http.MethodPut, "/api/v1/admin/administrators/alice", "admin", administratorRequest{Status: true})
	require.Equal(t, http.StatusOK, rr.Code, resp.Error)

	rr, resp = do(t, server, http.MethodDelete, "/api/v1/admin/initial-stage", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code, resp.Error)

	info, err := market.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", info.Name)
	assert.Equal(t, "RNM", info.Symbol)
	assert.Equal(t, "5", info.StakingRequirement.String())
	assert.False(t, info.RestrictedPhase)

	acct, err := market.Account(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.Administrator)
}

func TestMiddleware(t *testing.T) {
	t.Run("RequestID", func(t *testing.T) {
		server, _ := newTestServer(t, testConfig())

		rr, _ := do(t, server, http.MethodGet, "/api/v1/market", "", nil)
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/market", nil)
		req.Header.Set("X-Request-ID", "req-42")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	})

	t.Run("CORS", func(t *testing.T) {
		server, _ := newTestServer(t, testConfig())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/market", nil)
		req.Header.Set("Origin", "https://app.example")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

		req = httptest.NewRequest(http.MethodGet, "/api/v1/market", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec = httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("RateLimit", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit = 1
		cfg.RateBurst = 1
		server, _ := newTestServer(t, cfg)

		rr, _ := do(t, server, http.MethodGet, "/api/v1/market", "", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		rr, _ = do(t, server, http.MethodGet, "/api/v1/market", "", nil)
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	})

	t.Run("Metrics", func(t *testing.T) {
		metrics := &recordingMetrics{}
		server, _ := newTestServer(t, testConfig(), WithMetrics(metrics))

		do(t, server, http.MethodGet, "/api/v1/accounts/alice", "", nil)
		do(t, server, http.MethodPost, "/api/v1/sell", "", nil)

		metrics.mu.Lock()
		defer metrics.mu.Unlock()
		assert.Equal(t, []string{
			"GET /api/v1/accounts/{id} 200",
			"POST /api/v1/sell 401",
		}, metrics.requests)
	})
}

func TestEventStream(t *testing.T) {
	metrics := &recordingMetrics{}
	server, market := newTestServer(t, testConfig(), WithMetrics(metrics))
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?types=" + dex.EventTypePurchase
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	_, err = market.Buy(ctx, "alice", bigInt("1000000000000"), "")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, dex.EventTypePurchase, msg.Type)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "alice", msg.Data["account"])
	assert.Equal(t, "9495491781791096887", msg.Data["tokens"])

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(shutdownCtx))

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, 0, metrics.streams)
}

func TestNewStreamMessage(t *testing.T) {
	msg := newStreamMessage(dex.EventTransfer{
		ID:       "id-1",
		From:     "alice",
		To:       "bob",
		Tokens:   bigInt("100"),
		Received: bigInt("90"),
	})
	assert.Equal(t, dex.EventTypeTransfer, msg.Type)
	assert.Equal(t, "id-1", msg.ID)
	assert.Equal(t, map[string]string{
		"from":     "alice",
		"to":       "bob",
		"tokens":   "100",
		"received": "90",
	}, msg.Data)
}

func bigInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad integer " + s)
	}
	return n
}

type recordingMetrics struct {
	mu       sync.Mutex
	requests []string
	streams  int
}

func (r *recordingMetrics) ObserveRequest(method, route string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, method+" "+route+" "+strconv.Itoa(status))
}

func (r *recordingMetrics) StreamConnected(delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams += delta
}
