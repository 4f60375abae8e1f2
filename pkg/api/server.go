package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotbook/pkg/app/core/ledger"
	"github.com/uhyunpark/spotbook/pkg/app/core/market"
	"github.com/uhyunpark/spotbook/pkg/app/core/marketview"
	"github.com/uhyunpark/spotbook/pkg/app/core/matching"
	"github.com/uhyunpark/spotbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/spotbook/pkg/events"
	"github.com/uhyunpark/spotbook/pkg/storage"
	"github.com/uhyunpark/spotbook/pkg/util"
)

const maxListLimit = 1000

// Options configures optional Server collaborators.
type Options struct {
	Archive     *storage.Archive // nil disables /trades/archive
	Bus         *events.Bus      // reported by /health when set
	CORSOrigins []string
	Logger      *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine  *matching.Engine
	view    *marketview.View
	archive *storage.Archive
	bus     *events.Bus
	router  *mux.Router
	hub     *Hub // WebSocket hub
	origins []string
	logger  *zap.SugaredLogger
}

// NewServer creates a new API server
func NewServer(engine *matching.Engine, view *marketview.View, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = util.NopSugar()
	}
	s := &Server{
		engine:  engine,
		view:    view,
		archive: opts.Archive,
		bus:     opts.Bus,
		router:  mux.NewRouter(),
		hub:     NewHub(logger),
		origins: opts.CORSOrigins,
		logger:  logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades/archive", s.handleGetArchivedTrades).Methods("GET")
	api.HandleFunc("/markets/{symbol}/stats", s.handleGetMarketStats).Methods("GET")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")

	// Order endpoints
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{trader}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/accounts/{trader}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{trader}/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/accounts/{trader}/withdraw", s.handleWithdraw).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Hub returns the WebSocket hub, which doubles as an event sink.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves HTTP on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_server_starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Infow("api_server_stopped")
		return nil
	}
}

// ==============================
// Market Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.engine.Markets().ListMarkets()
	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = newMarketInfo(m)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.Markets().GetMarket(s.symbol(r))
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	respondJSON(w, newMarketInfo(m))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	depth, err := queryInt(r, "depth", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid depth", err.Error())
		return
	}
	snap, err := s.view.DepthSnapshot(s.symbol(r), min(depth, maxListLimit))
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	trades, err := s.view.RecentTrades(s.symbol(r), min(limit, maxListLimit))
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, trades)
}

func (s *Server) handleGetArchivedTrades(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		respondError(w, http.StatusServiceUnavailable, "archive disabled", "")
		return
	}
	limit, err := queryInt(r, "limit", marketview.DefaultTradeLimit)
	if err != nil || limit <= 0 {
		respondError(w, http.StatusBadRequest, "invalid limit", "")
		return
	}
	trades, err := s.archive.LoadRecentTrades(s.symbol(r), min(limit, maxListLimit))
	if err != nil {
		s.logger.Errorw("archive_read_failed", "error", err)
		respondError(w, http.StatusInternalServerError, "archive read failed", err.Error())
		return
	}
	if trades == nil {
		trades = []*orderbook.Trade{}
	}
	respondJSON(w, trades)
}

func (s *Server) handleGetMarketStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.view.MarketStats(s.symbol(r))
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, stats)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.view.AllStats()
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, summary)
}

// ==============================
// Order Handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	trader, ok := traderAddress(req.Trader)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid trader address", req.Trader)
		return
	}

	place := matching.PlaceRequest{
		Trader:      trader,
		Symbol:      s.resolveSymbol(req.Symbol),
		Side:        req.Side,
		Kind:        req.Type,
		TimeInForce: req.TimeInForce,
		Amount:      req.Amount,
		Price:       req.Price,
	}
	if req.ExpireAt > 0 {
		place.ExpireAt = time.UnixMilli(req.ExpireAt)
	}

	res, err := s.engine.PlaceOrder(place)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}

	response := SubmitOrderResponse{Order: newOrderInfo(res.Order), Trades: res.Trades}
	if response.Trades == nil {
		response.Trades = []orderbook.Trade{}
	}
	if res.Halted != nil {
		response.Halted = res.Halted.Error()
	}
	respondJSON(w, response)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "missing orderId", "")
		return
	}
	trader, ok := traderAddress(req.Trader)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid trader address", req.Trader)
		return
	}

	o, err := s.engine.CancelOrder(req.OrderID, trader)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, newOrderInfo(o))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.engine.GetOrder(mux.Vars(r)["id"])
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, newOrderInfo(o))
}

// ==============================
// Account Handlers
// ==============================

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	trader, ok := traderAddress(mux.Vars(r)["trader"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	symbol := r.URL.Query().Get("symbol")
	if symbol != "" {
		symbol = s.resolveSymbol(symbol)
	}
	respondJSON(w, newOrderInfos(s.engine.UserOrders(trader, symbol)))
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	trader, ok := traderAddress(mux.Vars(r)["trader"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	respondJSON(w, BalancesResponse{Trader: trader, Balances: s.engine.Ledger().Balances(trader)})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleFunds(w, r, s.engine.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleFunds(w, r, s.engine.Withdraw)
}

func (s *Server) handleFunds(w http.ResponseWriter, r *http.Request, apply func(trader, currency string, amount decimal.Decimal) error) {
	trader, ok := traderAddress(mux.Vars(r)["trader"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	var req FundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := apply(trader, req.Currency, req.Amount); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, BalancesResponse{Trader: trader, Balances: s.engine.Ledger().Balances(trader)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Engine: s.engine.Stats()}
	if s.bus != nil {
		resp.Events = EventStats{Published: s.bus.Published(), Dropped: s.bus.Dropped(), Pending: s.bus.Pending()}
	}
	respondJSON(w, resp)
}

// ==============================
// Helper Functions
// ==============================

// symbol reads the {symbol} path variable. Paths cannot carry "/", so
// "ETH-USDC" addresses the ETH/USDC market.
func (s *Server) symbol(r *http.Request) string {
	return s.resolveSymbol(mux.Vars(r)["symbol"])
}

func (s *Server) resolveSymbol(raw string) string {
	if s.engine.Markets().Exists(raw) || strings.Contains(raw, "/") {
		return raw
	}
	return strings.Replace(raw, "-", "/", 1)
}

// traderAddress validates an EVM hex address and returns its checksummed form.
func traderAddress(raw string) (string, bool) {
	if !common.IsHexAddress(raw) {
		return "", false
	}
	return common.HexToAddress(raw).Hex(), true
}

// normalizeChannel canonicalizes the symbol or address part of a channel name.
func normalizeChannel(channel string) string {
	kind, key, ok := strings.Cut(channel, ":")
	if !ok {
		return channel
	}
	switch kind {
	case "orders":
		if addr, ok := traderAddress(key); ok {
			return kind + ":" + addr
		}
	case "trades", "orderbook":
		if !strings.Contains(key, "/") {
			return kind + ":" + strings.Replace(key, "-", "/", 1)
		}
	}
	return channel
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// respondEngineError maps domain errors to HTTP statuses.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, matching.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found", err.Error())
	case errors.Is(err, matching.ErrNotOwner):
		respondError(w, http.StatusForbidden, "not order owner", err.Error())
	case errors.Is(err, matching.ErrNotCancellable):
		respondError(w, http.StatusConflict, "order not cancellable", err.Error())
	case errors.Is(err, orderbook.ErrInvalidOrder):
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
	case errors.Is(err, market.ErrMarketNotFound):
		respondError(w, http.StatusNotFound, "market not found", err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		respondError(w, http.StatusUnprocessableEntity, "insufficient balance", err.Error())
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidCurrency):
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
	default:
		s.logger.Errorw("api_internal_error", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
