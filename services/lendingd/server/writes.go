package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/oracle"
	"github.com/BendDAO/bend-lending-protocol-sub001/observability"
	telemetry "github.com/BendDAO/bend-lending-protocol-sub001/observability/otel"
)

func decodeRequest(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

var maxAmount = new(uint256.Int).SetAllOne()

type feedRequest struct {
	// Answer is the raw aggregator answer for reserve feeds and the 18
	// decimal price for NFT feeds.
	Answer    string `json:"answer"`
	UpdatedAt uint64 `json:"updatedAt"`
	// Level targets a level asset of the collection instead of its common
	// price.
	Level string `json:"level,omitempty"`
}

type feedResponse struct {
	RoundID   uint64 `json:"roundId,omitempty"`
	UpdatedAt uint64 `json:"updatedAt"`
}

func (s *Server) handleReserveFeed(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req feedRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	answer, err := parseAmount(req.Answer)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	defer s.lock()()
	feed, ok := s.d.Feeds[asset]
	if !ok {
		writeError(w, fmt.Errorf("%w: no feed for %s", oracle.ErrUnknownAsset, asset.Hex()))
		return
	}
	blockTime := s.d.Pool.BlockTime()
	if req.UpdatedAt == 0 {
		req.UpdatedAt = blockTime
	}
	round, err := feed.Push(answer, req.UpdatedAt)
	if err != nil {
		observability.Feeds().RecordReject("reserve", asset.Hex())
		writeError(w, err)
		return
	}
	observability.Feeds().RecordUpdate("reserve", asset.Hex(), round.UpdatedAt, blockTime)
	writeJSON(w, feedResponse{RoundID: round.ID, UpdatedAt: round.UpdatedAt})
}

func (s *Server) handleNftFeed(w http.ResponseWriter, r *http.Request) {
	collection, err := parseAddress(chi.URLParam(r, "collection"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req feedRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	price, err := parseAmount(req.Answer)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	defer s.lock()()
	blockTime := s.d.Pool.BlockTime()
	if req.UpdatedAt == 0 {
		req.UpdatedAt = blockTime
	}
	if level := strings.TrimSpace(req.Level); level != "" {
		err = s.d.NFTOracle.SetLevelPrice(s.d.FeedAdmin, collection, level, price, req.UpdatedAt)
	} else {
		err = s.d.NFTOracle.SetAssetData(s.d.FeedAdmin, collection, price, req.UpdatedAt)
	}
	if err != nil {
		observability.Feeds().RecordReject("nft", collection.Hex())
		writeError(w, err)
		return
	}
	observability.Feeds().RecordUpdate("nft", collection.Hex(), req.UpdatedAt, blockTime)
	writeJSON(w, feedResponse{UpdatedAt: req.UpdatedAt})
}

type blockTimeRequest struct {
	Timestamp uint64 `json:"timestamp"`
}

// handleBlockTime moves the manual clock forward and saves the state so a
// restart resumes at the same time.
func (s *Server) handleBlockTime(w http.ResponseWriter, r *http.Request) {
	if s.clock != nil {
		writeJSONStatus(w, http.StatusConflict, errorResponse{Error: errManualClock.Error()})
		return
	}
	var req blockTimeRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	defer s.lock()()
	if req.Timestamp < s.d.Pool.BlockTime() {
		writeBadRequest(w, fmt.Errorf("block time %d is before %d", req.Timestamp, s.d.Pool.BlockTime()))
		return
	}
	s.d.Pool.SetBlockTime(req.Timestamp)
	if err := s.persist(); err != nil {
		s.logger.Error("persist block time", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, statusView{BlockTime: req.Timestamp, Paused: s.d.Pool.Paused(), Clock: "manual"})
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	defer s.lock()()
	if err := s.d.Pool.SetPaused(s.d.Roles.EmergencyAdmin, req.Paused); err != nil {
		writeError(w, err)
		return
	}
	if err := s.persist(); err != nil {
		s.logger.Error("persist pause flag", "error", err)
		writeError(w, err)
		return
	}
	s.logger.Warn("pause flag changed", "paused", req.Paused)
	writeJSON(w, statusView{BlockTime: s.d.Pool.BlockTime(), Paused: s.d.Pool.Paused()})
}

// opRequest carries the arguments of every pool entry point; each operation
// reads the fields it needs.
type opRequest struct {
	Caller      string `json:"caller"`
	Asset       string `json:"asset,omitempty"`
	Amount      string `json:"amount,omitempty"`
	OnBehalfOf  string `json:"onBehalfOf,omitempty"`
	To          string `json:"to,omitempty"`
	Collection  string `json:"collection,omitempty"`
	TokenID     string `json:"tokenId,omitempty"`
	BidPrice    string `json:"bidPrice,omitempty"`
	MaxBidFine  string `json:"maxBidFine,omitempty"`
	ExtraAmount string `json:"extraAmount,omitempty"`
}

type opResponse struct {
	Op        string `json:"op"`
	LoanID    uint64 `json:"loanId,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Closed    bool   `json:"closed,omitempty"`
	BlockTime uint64 `json:"blockTime"`
	// Unsaved marks a committed operation whose state could not be written
	// to disk.
	Unsaved bool `json:"unsaved,omitempty"`
}

// parsedOp is an opRequest with its fields decoded. Optional addresses
// default to the caller.
type parsedOp struct {
	caller, asset, onBehalfOf, to, collection common.Address
	tokenID                                   *big.Int
	amount, bidPrice, maxBidFine, extra       *uint256.Int
}

func (req opRequest) parse(op string) (parsedOp, error) {
	var (
		p   parsedOp
		err error
	)
	if p.caller, err = parseAddress(req.Caller); err != nil {
		return p, fmt.Errorf("caller: %w", err)
	}
	p.onBehalfOf, p.to = p.caller, p.caller
	for _, field := range []struct {
		raw string
		dst *common.Address
	}{
		{req.Asset, &p.asset},
		{req.OnBehalfOf, &p.onBehalfOf},
		{req.To, &p.to},
		{req.Collection, &p.collection},
	} {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		if *field.dst, err = parseAddress(field.raw); err != nil {
			return p, err
		}
	}
	needsAsset := op == "deposit" || op == "withdraw" || op == "borrow"
	if needsAsset && req.Asset == "" {
		return p, fmt.Errorf("%s: asset required", op)
	}
	if !needsAsset && req.Asset != "" {
		return p, fmt.Errorf("%s: asset is taken from the loan", op)
	}
	if op != "deposit" && op != "withdraw" {
		if req.Collection == "" {
			return p, fmt.Errorf("%s: collection required", op)
		}
		if p.tokenID, err = parseTokenID(req.TokenID); err != nil {
			return p, err
		}
	}
	for _, field := range []struct {
		raw string
		dst **uint256.Int
	}{
		{req.Amount, &p.amount},
		{req.BidPrice, &p.bidPrice},
		{req.MaxBidFine, &p.maxBidFine},
		{req.ExtraAmount, &p.extra},
	} {
		if *field.dst, err = parseAmount(field.raw); err != nil {
			return p, err
		}
	}
	return p, nil
}

// handleOperation runs one pool entry point for the given caller. The route
// is operator only: it stands in for the signed transactions of a chain
// deployment.
func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	op := strings.ToLower(chi.URLParam(r, "op"))
	switch op {
	case "deposit", "withdraw", "borrow", "repay", "auction", "redeem", "liquidate":
	default:
		writeJSONStatus(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("unknown operation %q", op)})
		return
	}
	var req opRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	args, err := req.parse(op)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	_, span := telemetry.Tracer("lendingd").Start(r.Context(), "lending."+op, trace.WithAttributes(
		attribute.String("lending.op", op),
		attribute.String("lending.caller", args.caller.Hex()),
	))
	defer span.End()
	fail := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		writeError(w, err)
	}

	defer s.lock()()
	pool := s.d.Pool
	span.SetAttributes(attribute.Int64("lending.block_time", int64(pool.BlockTime())))
	// Only operations the pool accepts are charged.
	value := s.quotaValue(op, args)
	if err := s.quota.Check(args.caller, pool.BlockTime(), value); err != nil {
		observability.ModuleMetrics().RecordThrottle(moduleName, "quota")
		fail(err)
		return
	}

	resp := opResponse{Op: op}
	switch op {
	case "deposit":
		err = pool.Deposit(args.caller, args.asset, args.amount, args.onBehalfOf)
	case "withdraw":
		var withdrawn *uint256.Int
		if withdrawn, err = pool.Withdraw(args.caller, args.asset, args.amount, args.to); err == nil {
			resp.Amount = dec(withdrawn)
		}
	case "borrow":
		resp.LoanID, err = pool.Borrow(args.caller, args.asset, args.amount, args.collection, args.tokenID)
	case "repay":
		var repaid *uint256.Int
		if repaid, resp.Closed, err = pool.Repay(args.caller, args.collection, args.tokenID, args.amount); err == nil {
			resp.Amount = dec(repaid)
		}
	case "auction":
		err = pool.Auction(args.caller, args.collection, args.tokenID, args.bidPrice)
	case "redeem":
		err = pool.Redeem(args.caller, args.collection, args.tokenID, args.amount, args.maxBidFine)
	case "liquidate":
		err = pool.Liquidate(args.caller, args.collection, args.tokenID, args.extra)
	}
	if err != nil {
		fail(err)
		return
	}
	if err := s.quota.Consume(args.caller, pool.BlockTime(), value); err != nil {
		s.logger.Warn("charge quota", "op", op, "error", err)
	}
	// The pool has committed the call, so a save failure is reported
	// alongside the result rather than as a failure a client might retry.
	if err := s.persist(); err != nil {
		s.logger.Error("persist operation", "op", op, "error", err)
		span.RecordError(err)
		resp.Unsaved = true
	}
	if resp.LoanID != 0 {
		span.SetAttributes(attribute.Int64("lending.loan_id", int64(resp.LoanID)))
	}
	resp.BlockTime = pool.BlockTime()
	writeJSON(w, resp)
}

// quotaValue converts the amount moved by an operation to whole units of the
// reserve involved. Callers hold mu.
func (s *Server) quotaValue(op string, args parsedOp) uint64 {
	asset := args.asset
	if args.collection != (common.Address{}) {
		if loan, err := s.d.Pool.GetLoanByCollateral(args.collection, args.tokenID); err == nil {
			asset = loan.ReserveAsset
		}
	}
	amount := args.amount
	switch op {
	case "auction":
		amount = args.bidPrice
	case "liquidate":
		amount = args.extra
	}
	if amount == nil || amount.IsZero() {
		return 0
	}
	if op == "withdraw" && amount.Eq(maxAmount) {
		amount = new(uint256.Int)
		if balances, err := s.d.Pool.UserReserveBalances(args.caller); err == nil {
			for _, b := range balances {
				if b.Asset == asset {
					amount = b.Supply
				}
			}
		}
	}
	if op == "repay" && amount.Eq(maxAmount) {
		amount = new(uint256.Int)
		if health, err := s.d.Pool.GetLoanCollateralAndDebt(args.collection, args.tokenID, asset); err == nil {
			amount = health.Debt
		}
	}
	decimals := uint8(18)
	if data, err := s.d.Pool.GetReserveData(asset); err == nil {
		decimals = data.Decimals
	}
	units := new(uint256.Int).Div(amount, new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))))
	if !units.IsUint64() {
		return math.MaxUint64
	}
	return units.Uint64()
}
