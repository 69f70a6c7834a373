// Package api exposes the market over HTTP: JSON queries and operations
// under /api/v1 and a websocket feed of committed market events.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shizukutanaka/curvedex/internal/dex"
	"github.com/shizukutanaka/curvedex/internal/ledger"
	"github.com/shizukutanaka/curvedex/internal/logging"
)

// Market is the part of *dex.Market the server drives.
type Market interface {
	Info(ctx context.Context) (*dex.Info, error)
	Account(ctx context.Context, id string) (*dex.Account, error)
	Holdings(ctx context.Context) ([]ledger.Holding, error)
	CalculateTokensFor(ctx context.Context, value *big.Int) (*big.Int, error)
	CalculateCurrencyFor(ctx context.Context, tokens *big.Int) (*big.Int, error)

	Buy(ctx context.Context, caller string, value *big.Int, referrer string) (*big.Int, error)
	Sell(ctx context.Context, caller string, tokens *big.Int) (*big.Int, error)
	Transfer(ctx context.Context, caller, to string, tokens *big.Int) error
	Reinvest(ctx context.Context, caller string) (*big.Int, error)
	Withdraw(ctx context.Context, caller string) (*big.Int, error)
	Exit(ctx context.Context, caller string) (*dex.ExitResult, error)

	DisableInitialStage(ctx context.Context, caller string) error
	SetAdministrator(ctx context.Context, caller, account string, status bool) error
	SetStakingRequirement(ctx context.Context, caller string, amount *big.Int) error
	SetName(ctx context.Context, caller, name string) error
	SetSymbol(ctx context.Context, caller, symbol string) error

	Events() *dex.EventEmitter
}

// Metrics receives request observations. *monitoring.MetricsExporter
// satisfies it.
type Metrics interface {
	ObserveRequest(method, route string, status int, elapsed time.Duration)
	StreamConnected(delta int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRequest(string, string, int, time.Duration) {}
func (nopMetrics) StreamConnected(int) {}

var (
	errRateLimited  = errors.New("rate limit exceeded")
	errBodyTooLarge = errors.New("request body too large")
)

// Server provides HTTP API and WebSocket interfaces
type Server struct {
	logger   *zap.Logger
	config   Config
	market   Market
	auth     *Authenticator
	metrics  Metrics
	limiter  *IPRateLimiter
	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader

	clients   map[*websocket.Conn]struct{}
	clientsMu sync.Mutex
	wg        sync.WaitGroup

	panicsRecovered atomic.Uint64
}

// Option customises a Server.
type Option func(*Server)

// WithMetrics sets the request metrics sink.
func WithMetrics(metrics Metrics) Option {
	return func(s *Server) { s.metrics = metrics }
}

// NewServer creates a new API server
func NewServer(config Config, logger *zap.Logger, market Market, opts ...Option) (*Server, error) {
	if !config.Enabled {
		return nil, fmt.Errorf("API server disabled")
	}
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("API server needs a jwt secret")
	}

	s := &Server{
		logger:  logger.Named("api"),
		config:  config,
		market:  market,
		auth:    NewAuthenticator([]byte(config.JWTSecret), config.JWTIssuer, config.TokenTTL),
		metrics: nopMetrics{},
		clients: make(map[*websocket.Conn]struct{}),
	}
	if config.RateLimit > 0 {
		s.limiter = NewIPRateLimiter(config.RateLimit, config.RateBurst)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.originAllowed,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s, nil
}

// Authenticator returns the token issuer used by the server.
func (s *Server) Authenticator() *Authenticator { return s.auth }

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins API server operations
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("Starting API server", zap.String("listen_addr", listener.Addr().String()))

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully stops the API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")

	s.clientsMu.Lock()
	for client := range s.clients {
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		client.Close()
	}
	s.clientsMu.Unlock()

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, r, http.StatusNotFound, errors.New("not found"))
	})

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requestIDMiddleware)
	api.Use(s.loggingMiddleware)
	api.Use(s.recoveryMiddleware)
	api.Use(s.corsMiddleware)
	api.Use(s.rateLimitMiddleware)

	// Queries
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/market", s.handleMarket).Methods(http.MethodGet)
	api.HandleFunc("/prices", s.handlePrices).Methods(http.MethodGet)
	api.HandleFunc("/quote/buy", s.handleQuoteBuy).Methods(http.MethodGet)
	api.HandleFunc("/quote/sell", s.handleQuoteSell).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}", s.handleAccount).Methods(http.MethodGet)
	api.HandleFunc("/holdings", s.handleHoldings).Methods(http.MethodGet)

	// Operations act for the token subject
	ops := api.NewRoute().Subrouter()
	ops.Use(s.requireAccount)
	ops.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	ops.HandleFunc("/buy", s.handleBuy).Methods(http.MethodPost)
	ops.HandleFunc("/sell", s.handleSell).Methods(http.MethodPost)
	ops.HandleFunc("/transfer", s.handleTransfer).Methods(http.MethodPost)
	ops.HandleFunc("/reinvest", s.handleReinvest).Methods(http.MethodPost)
	ops.HandleFunc("/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	ops.HandleFunc("/exit", s.handleExit).Methods(http.MethodPost)

	ops.HandleFunc("/admin/initial-stage", s.handleDisableInitialStage).Methods(http.MethodDelete)
	ops.HandleFunc("/admin/administrators/{account}", s.handleSetAdministrator).Methods(http.MethodPut)
	ops.HandleFunc("/admin/staking-requirement", s.handleSetStakingRequirement).Methods(http.MethodPut)
	ops.HandleFunc("/admin/name", s.handleSetName).Methods(http.MethodPut)
	ops.HandleFunc("/admin/symbol", s.handleSetSymbol).Methods(http.MethodPut)

	// Event feed
	api.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	api.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// Middleware

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.allowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveRequest(r.Method, route, rec.status, duration)

		s.requestLogger(r).Debug("API request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
		)
	})
}

func (s *Server) allowed(origin string) bool {
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// originAllowed admits non-browser clients, which send no Origin, and
// browsers from an allowed origin.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.allowed(origin)
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return logging.WithRequestID(s.logger, id)
	}
	return s.logger
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Response represents API response format
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Time    time.Time   `json:"time"`
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) sendData(w http.ResponseWriter, data interface{}) {
	s.sendJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    data,
		Time:    time.Now(),
	})
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.requestLogger(r).Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.sendJSON(w, status, Response{
		Success: false,
		Error:   err.Error(),
		Time:    time.Now(),
	})
}

// fail maps a market error onto an HTTP status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.sendError(w, r, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dex.ErrInvalidAccount),
		errors.Is(err, dex.ErrInvalidAmount),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, dex.ErrUnauthorized),
		errors.Is(err, dex.ErrRestrictedPhase):
		return http.StatusForbidden
	case errors.Is(err, dex.ErrInsufficientBalance),
		errors.Is(err, dex.ErrNoClaimableDividends),
		errors.Is(err, dex.ErrZeroTokensResult),
		errors.Is(err, dex.ErrInsufficientSupplyForSale):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
