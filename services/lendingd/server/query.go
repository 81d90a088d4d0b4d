package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	defer s.lock()()
	view := statusView{
		BlockTime: s.d.Pool.BlockTime(),
		Paused:    s.d.Pool.Paused(),
		Clock:     "manual",

		PricedReserves:    hexList(s.d.ReserveOracle.Assets()),
		PricedCollections: hexList(s.d.NFTOracle.Assets()),
	}
	if s.clock != nil {
		view.Clock = "wall"
	}
	if s.store != nil {
		view.StateRoot = s.store.Root().Hex()
	}
	writeJSON(w, view)
}

func (s *Server) handleListReserves(w http.ResponseWriter, _ *http.Request) {
	defer s.lock()()
	reserves, err := s.d.Pool.ListReserves()
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]reserveView, 0, len(reserves))
	for _, r := range reserves {
		views = append(views, newReserveView(r))
	}
	writeJSON(w, views)
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	defer s.lock()()
	data, err := s.d.Pool.GetReserveData(asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, newReserveView(data))
}

// handleReservePrice returns the latest price, or the time weighted average
// over the trailing ?twap=<seconds> window.
func (s *Server) handleReservePrice(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var interval uint64
	if raw := r.URL.Query().Get("twap"); raw != "" {
		interval, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	defer s.lock()()
	now := s.d.Pool.BlockTime()
	oracle := s.d.ReserveOracle
	view := priceView{Asset: asset.Hex(), Stale: oracle.IsStale(asset, now)}
	if interval > 0 {
		price, err := oracle.GetTwapPrice(asset, interval, now)
		if err != nil {
			writeError(w, err)
			return
		}
		view.Price = dec(price)
	} else {
		price, err := oracle.GetAssetPrice(asset)
		if err != nil {
			writeError(w, err)
			return
		}
		view.Price = dec(price)
	}
	view.UpdatedAt, _ = oracle.LatestTimestamp(asset)
	writeJSON(w, view)
}

func (s *Server) handleListNfts(w http.ResponseWriter, _ *http.Request) {
	defer s.lock()()
	nfts := s.d.Pool.ListNfts()
	views := make([]nftView, 0, len(nfts))
	for _, n := range nfts {
		views = append(views, newNftView(n))
	}
	writeJSON(w, views)
}

func (s *Server) handleGetNft(w http.ResponseWriter, r *http.Request) {
	collection, err := parseAddress(chi.URLParam(r, "collection"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	defer s.lock()()
	cfg, err := s.d.Pool.GetNftConfig(collection)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, newNftView(cfg))
}

func (s *Server) handleNftPrice(w http.ResponseWriter, r *http.Request) {
	collection, err := parseAddress(chi.URLParam(r, "collection"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	tokenID, err := parseTokenID(chi.URLParam(r, "tokenID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	defer s.lock()()
	oracle := s.d.NFTOracle
	price, err := oracle.GetAssetPriceByTokenId(collection, tokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	updatedAt, _ := oracle.LatestTimestamp(collection, tokenID)
	writeJSON(w, priceView{
		Asset:     collection.Hex(),
		TokenID:   tokenID.String(),
		Price:     dec(price),
		UpdatedAt: updatedAt,
		Stale:     oracle.IsStale(collection, tokenID, s.d.Pool.BlockTime()),
	})
}

func (s *Server) handleNftOwner(w http.ResponseWriter, r *http.Request) {
	collection, err := parseAddress(chi.URLParam(r, "collection"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	tokenID, err := parseTokenID(chi.URLParam(r, "tokenID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	owner, ok := s.d.Vault.OwnerOf(collection, tokenID)
	if !ok {
		writeJSONStatus(w, http.StatusNotFound, errorResponse{Error: "token not minted"})
		return
	}
	writeJSON(w, map[string]string{"owner": owner.Hex()})
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	defer s.lock()()
	loan, err := s.d.Pool.GetLoan(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, newLoanView(loan))
}

type collateralResponse struct {
	Loan   *loanView   `json:"loan,omitempty"`
	Health *healthView `json:"health,omitempty"`
}

// handleCollateral reports the active loan on a token and its health against
// the loan reserve, or against ?reserve=<asset> when no loan is open.
func (s *Server) handleCollateral(w http.ResponseWriter, r *http.Request) {
	collection, err := parseAddress(chi.URLParam(r, "collection"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	tokenID, err := parseTokenID(chi.URLParam(r, "tokenID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	reserve := s.d.ReserveOracle.BaseCurrency()
	if raw := r.URL.Query().Get("reserve"); raw != "" {
		if reserve, err = parseAddress(raw); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	defer s.lock()()
	var resp collateralResponse
	if loan, err := s.d.Pool.GetLoanByCollateral(collection, tokenID); err == nil {
		view := newLoanView(loan)
		resp.Loan = &view
	}
	health, err := s.d.Pool.GetLoanCollateralAndDebt(collection, tokenID, reserve)
	if err != nil {
		writeError(w, err)
		return
	}
	view := newHealthView(health)
	resp.Health = &view
	writeJSON(w, resp)
}

func (s *Server) handleAuction(w http.ResponseWriter, r *http.Request) {
	collection, err := parseAddress(chi.URLParam(r, "collection"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	tokenID, err := parseTokenID(chi.URLParam(r, "tokenID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	defer s.lock()()
	data, err := s.d.Pool.GetLoanAuctionData(collection, tokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, newAuctionView(data))
}

func (s *Server) handleUserBalances(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(chi.URLParam(r, "user"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	defer s.lock()()
	balances, err := s.d.Pool.UserReserveBalances(user)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]balanceView, 0, len(balances))
	for _, b := range balances {
		views = append(views, balanceView{Asset: b.Asset.Hex(), Supply: dec(b.Supply), Debt: dec(b.Debt)})
	}
	writeJSON(w, views)
}

func (s *Server) handleUserLoans(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(chi.URLParam(r, "user"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	defer s.lock()()
	ids := s.d.Pool.LoansByBorrower(user)
	views := make([]loanView, 0, len(ids))
	for _, id := range ids {
		loan, err := s.d.Pool.GetLoan(id)
		if err != nil {
			writeError(w, err)
			return
		}
		views = append(views, newLoanView(loan))
	}
	writeJSON(w, views)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	holder, err := parseAddress(chi.URLParam(r, "holder"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	asset, err := parseAddress(chi.URLParam(r, "asset"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	writeJSON(w, balanceView{Asset: asset.Hex(), Supply: dec(s.d.Vault.BalanceOf(asset, holder))})
}
