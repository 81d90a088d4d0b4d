// Package server exposes a lending pool over HTTP: a read-only query surface,
// authenticated price feed ingestion and an operator route for each pool
// entry point.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	protocol "github.com/BendDAO/bend-lending-protocol-sub001/config"
	nativecommon "github.com/BendDAO/bend-lending-protocol-sub001/native/common"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending"
	"github.com/BendDAO/bend-lending-protocol-sub001/observability"
	"github.com/BendDAO/bend-lending-protocol-sub001/observability/metrics"
	"github.com/BendDAO/bend-lending-protocol-sub001/services/lendingd/config"
)

const (
	moduleName   = "lending"
	requestLimit = 64 << 10
)

var errManualClock = errors.New("block time is driven by the wall clock")

// Options wires a Server to a deployment.
type Options struct {
	Deployment *protocol.Deployment
	// Store persists the pool and vault after every accepted write. Nil
	// keeps state in memory only.
	Store     *lending.Store
	Auth      config.AuthConfig
	RateLimit config.RateLimitConfig
	Quota     nativecommon.Quota
	// Clock returns the current unix time. When set the pool block time is
	// moved forward to it before each call; when nil the block time only
	// changes through POST /v1/blocktime.
	Clock  func() uint64
	Logger *slog.Logger
}

// Server is the lendingd HTTP surface. The pool is not safe for concurrent
// use, so every handler touching it holds mu.
type Server struct {
	mu     sync.Mutex
	d      *protocol.Deployment
	store  *lending.Store
	quota  *nativecommon.QuotaTracker
	clock  func() uint64
	logger *slog.Logger
	router chi.Router
}

// New builds the router and installs the metrics observer, logger and
// transfer hook on the deployment.
func New(opts Options) (*Server, error) {
	if opts.Deployment == nil || opts.Deployment.Pool == nil {
		return nil, fmt.Errorf("lendingd: deployment required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		d:      opts.Deployment,
		store:  opts.Store,
		quota:  nativecommon.NewQuotaTracker(opts.Quota),
		clock:  opts.Clock,
		logger: logger.With("service", "lendingd"),
	}

	observer := metrics.Lending()
	s.d.Pool.SetLogger(logger)
	s.d.Pool.SetObserver(observer)
	for state, count := range s.d.Pool.LoanCounts() {
		observer.SetLoanCount(state.String(), count)
	}
	pool := s.d.Pool.Address()
	for collection, count := range s.d.Vault.NFTCounts(pool) {
		observability.Events().SetPoolNFTs(collection.Hex(), count)
	}
	// Counts include transfers later rolled back by a failed call.
	s.d.Vault.SetHook(func(t lending.Transfer) error {
		observability.Events().RecordTransfer(t.NFT, t.Asset.Hex(), observability.Flow(pool, t.From, t.To))
		return nil
	})

	auth := newAuthenticator(opts.Auth, logger)
	limiter := newRateLimiter(opts.RateLimit)

	r := chi.NewRouter()
	r.Use(limiter.middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.instrument("status", s.handleStatus))
		r.Get("/reserves", s.instrument("list_reserves", s.handleListReserves))
		r.Get("/reserves/{asset}", s.instrument("get_reserve", s.handleGetReserve))
		r.Get("/reserves/{asset}/price", s.instrument("reserve_price", s.handleReservePrice))
		r.Get("/nfts", s.instrument("list_nfts", s.handleListNfts))
		r.Get("/nfts/{collection}", s.instrument("get_nft", s.handleGetNft))
		r.Get("/nfts/{collection}/{tokenID}/price", s.instrument("nft_price", s.handleNftPrice))
		r.Get("/nfts/{collection}/{tokenID}/owner", s.instrument("nft_owner", s.handleNftOwner))
		r.Get("/loans/{id}", s.instrument("get_loan", s.handleGetLoan))
		r.Get("/collateral/{collection}/{tokenID}", s.instrument("collateral", s.handleCollateral))
		r.Get("/auctions/{collection}/{tokenID}", s.instrument("auction", s.handleAuction))
		r.Get("/users/{user}/balances", s.instrument("user_balances", s.handleUserBalances))
		r.Get("/users/{user}/loans", s.instrument("user_loans", s.handleUserLoans))
		r.Get("/wallets/{holder}/{asset}", s.instrument("wallet", s.handleWallet))

		r.Group(func(r chi.Router) {
			r.Use(auth.middleware)
			r.Post("/feeds/reserves/{asset}", s.instrument("push_reserve_price", s.handleReserveFeed))
			r.Post("/feeds/nfts/{collection}", s.instrument("push_nft_price", s.handleNftFeed))
			r.Post("/blocktime", s.instrument("set_block_time", s.handleBlockTime))
			r.Post("/admin/pause", s.instrument("set_paused", s.handlePause))
			r.Post("/ops/{op}", s.instrument("operation", s.handleOperation))
		})
	})
	s.router = r
	return s, nil
}

// Handler returns the traced router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "lendingd")
}

// instrument records per-route latency and status.
func (s *Server) instrument(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		observability.ModuleMetrics().Observe(moduleName, method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// lock serialises access to the pool and, with a wall clock, moves the block
// time forward. The block time never goes backwards.
func (s *Server) lock() func() {
	s.mu.Lock()
	if s.clock != nil {
		if now := s.clock(); now > s.d.Pool.BlockTime() {
			s.d.Pool.SetBlockTime(now)
		}
	}
	return s.mu.Unlock
}

// persist snapshots the pool and vault. Callers hold mu.
func (s *Server) persist() error {
	if s.store == nil {
		return nil
	}
	root, err := s.store.Save(s.d.Pool)
	if err != nil {
		return err
	}
	if err := s.store.SaveVault(s.d.Vault); err != nil {
		return err
	}
	s.logger.Debug("state saved", "root", root.Hex(), "block_time", s.d.Pool.BlockTime())
	return nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

// parseAmount reads a decimal amount. "max" stands for the largest value,
// which Withdraw treats as the whole balance. An empty string is zero.
func parseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	switch strings.ToLower(trimmed) {
	case "":
		return new(uint256.Int), nil
	case "max":
		return new(uint256.Int).SetAllOne(), nil
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseTokenID(raw string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid token id %q", raw)
	}
	return id, nil
}
