package server

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending"
)

// Amounts are rendered as decimal strings so 256-bit values survive JSON
// clients that parse numbers as doubles.

type rateModelView struct {
	OptimalUtilization string `json:"optimalUtilization"`
	BaseBorrowRate     string `json:"baseBorrowRate"`
	Slope1             string `json:"slope1"`
	Slope2             string `json:"slope2"`
}

type reserveView struct {
	Asset               string         `json:"asset"`
	ID                  uint64         `json:"id"`
	Decimals            uint8          `json:"decimals"`
	TotalSupply         string         `json:"totalSupply"`
	TotalDebt           string         `json:"totalDebt"`
	AvailableLiquidity  string         `json:"availableLiquidity"`
	Utilization         string         `json:"utilization"`
	LiquidityIndex      string         `json:"liquidityIndex"`
	BorrowIndex         string         `json:"borrowIndex"`
	LiquidityRate       string         `json:"liquidityRate"`
	BorrowRate          string         `json:"borrowRate"`
	LastUpdateTimestamp uint64         `json:"lastUpdateTimestamp"`
	ReserveFactorBps    uint64         `json:"reserveFactorBps"`
	RateModel           *rateModelView `json:"rateModel,omitempty"`
	Active              bool           `json:"active"`
	Frozen              bool           `json:"frozen"`
	BorrowingEnabled    bool           `json:"borrowingEnabled"`
}

func newReserveView(d lending.ReserveData) reserveView {
	view := reserveView{
		Asset:               d.Asset.Hex(),
		ID:                  d.ID,
		Decimals:            d.Decimals,
		TotalSupply:         dec(d.TotalSupply),
		TotalDebt:           dec(d.TotalDebt),
		AvailableLiquidity:  dec(d.AvailableLiquidity),
		Utilization:         dec(d.Utilization),
		LiquidityIndex:      dec(d.LiquidityIndex),
		BorrowIndex:         dec(d.BorrowIndex),
		LiquidityRate:       dec(d.LiquidityRate),
		BorrowRate:          dec(d.BorrowRate),
		LastUpdateTimestamp: d.LastUpdateTimestamp,
		ReserveFactorBps:    d.ReserveFactorBps,
		Active:              d.Active,
		Frozen:              d.Frozen,
		BorrowingEnabled:    d.BorrowingEnabled,
	}
	if m := d.RateModel; m != nil {
		view.RateModel = &rateModelView{
			OptimalUtilization: dec(m.OptimalUtilization),
			BaseBorrowRate:     dec(m.BaseBorrowRate),
			Slope1:             dec(m.Slope1),
			Slope2:             dec(m.Slope2),
		}
	}
	return view
}

type nftView struct {
	Asset                   string `json:"asset"`
	ID                      uint64 `json:"id"`
	LtvBps                  uint64 `json:"ltvBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	LiquidationBonusBps     uint64 `json:"liquidationBonusBps"`
	RedeemDuration          uint64 `json:"redeemDuration"`
	AuctionDuration         uint64 `json:"auctionDuration"`
	RedeemFineBps           uint64 `json:"redeemFineBps"`
	RedeemThresholdBps      uint64 `json:"redeemThresholdBps"`
	MinBidFine              string `json:"minBidFine"`
	Active                  bool   `json:"active"`
	Frozen                  bool   `json:"frozen"`
}

func newNftView(c lending.NftConfig) nftView {
	return nftView{
		Asset:                   c.Asset.Hex(),
		ID:                      c.ID,
		LtvBps:                  c.LtvBps,
		LiquidationThresholdBps: c.LiquidationThresholdBps,
		LiquidationBonusBps:     c.LiquidationBonusBps,
		RedeemDuration:          c.RedeemDuration,
		AuctionDuration:         c.AuctionDuration,
		RedeemFineBps:           c.RedeemFineBps,
		RedeemThresholdBps:      c.RedeemThresholdBps,
		MinBidFine:              dec(c.MinBidFine),
		Active:                  c.Active,
		Frozen:                  c.Frozen,
	}
}

type loanView struct {
	ID           uint64 `json:"id"`
	State        string `json:"state"`
	Borrower     string `json:"borrower"`
	Collection   string `json:"collection"`
	TokenID      string `json:"tokenId"`
	ReserveAsset string `json:"reserveAsset"`
	ScaledAmount string `json:"scaledAmount"`
	Bidder       string `json:"bidder,omitempty"`
	BidPrice     string `json:"bidPrice,omitempty"`
	BidStart     uint64 `json:"bidStart,omitempty"`
}

func newLoanView(l lending.Loan) loanView {
	view := loanView{
		ID:           l.ID,
		State:        l.State.String(),
		Borrower:     l.Borrower.Hex(),
		Collection:   l.Collection.Hex(),
		TokenID:      l.TokenID.String(),
		ReserveAsset: l.ReserveAsset.Hex(),
		ScaledAmount: dec(l.ScaledAmount),
	}
	if l.State == lending.LoanStateAuction {
		view.Bidder = l.Bidder.Hex()
		view.BidPrice = dec(l.BidPrice)
		view.BidStart = l.BidStartTimestamp
	}
	return view
}

type healthView struct {
	LoanID           uint64 `json:"loanId"`
	CollateralValue  string `json:"collateralValue"`
	Debt             string `json:"debt"`
	AvailableBorrows string `json:"availableBorrows"`
	HealthFactor     string `json:"healthFactor"`
	Stale            bool   `json:"stale"`
}

func newHealthView(h lending.LoanHealth) healthView {
	return healthView{
		LoanID:           h.LoanID,
		CollateralValue:  dec(h.CollateralValue),
		Debt:             dec(h.Debt),
		AvailableBorrows: dec(h.AvailableBorrows),
		HealthFactor:     dec(h.HealthFactor),
		Stale:            h.Stale,
	}
}

type auctionView struct {
	LoanID          uint64 `json:"loanId"`
	Bidder          string `json:"bidder"`
	BidPrice        string `json:"bidPrice"`
	BidBorrowAmount string `json:"bidBorrowAmount"`
	BidFine         string `json:"bidFine"`
	BidStart        uint64 `json:"bidStart"`
	RedeemEnd       uint64 `json:"redeemEnd"`
	AuctionEnd      uint64 `json:"auctionEnd"`
}

func newAuctionView(a lending.AuctionData) auctionView {
	return auctionView{
		LoanID:          a.LoanID,
		Bidder:          a.Bidder.Hex(),
		BidPrice:        dec(a.BidPrice),
		BidBorrowAmount: dec(a.BidBorrowAmount),
		BidFine:         dec(a.BidFine),
		BidStart:        a.BidStart,
		RedeemEnd:       a.RedeemEnd,
		AuctionEnd:      a.AuctionEnd,
	}
}

type balanceView struct {
	Asset  string `json:"asset"`
	Supply string `json:"supply"`
	Debt   string `json:"debt"`
}

type statusView struct {
	BlockTime uint64 `json:"blockTime"`
	Paused    bool   `json:"paused"`
	StateRoot string `json:"stateRoot,omitempty"`
	Clock     string `json:"clock"`
	// Assets with a registered price source in each oracle.
	PricedReserves    []string `json:"pricedReserves"`
	PricedCollections []string `json:"pricedCollections"`
}

func hexList(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		out[i] = addr.Hex()
	}
	return out
}

type priceView struct {
	Asset     string `json:"asset"`
	TokenID   string `json:"tokenId,omitempty"`
	Price     string `json:"price"`
	UpdatedAt uint64 `json:"updatedAt"`
	Stale     bool   `json:"stale"`
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
