package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/rates"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
)

// Reserve captures the accounting state of one fungible asset accepted as
// liquidity. Indexes and rates are Ray scaled; balances use the asset's own
// decimals.
type Reserve struct {
	Asset    common.Address
	Decimals uint8
	// ID is the registration order of the reserve.
	ID uint64

	// TotalScaledSupply is the sum of every holder's scaled supply balance.
	TotalScaledSupply *uint256.Int
	// TotalScaledDebt is the sum of every loan's scaled debt.
	TotalScaledDebt *uint256.Int
	// AvailableLiquidity is the underlying cash held by the pool for the
	// reserve, excluding escrowed auction bids.
	AvailableLiquidity *uint256.Int
	// AccruedToTreasury tracks the scaled supply minted to the treasury.
	AccruedToTreasury *uint256.Int

	LiquidityIndex      *uint256.Int
	BorrowIndex         *uint256.Int
	LiquidityRate       *uint256.Int
	BorrowRate          *uint256.Int
	LastUpdateTimestamp uint64

	ReserveFactorBps uint64
	RateModel        *rates.Model

	Active           bool
	Frozen           bool
	BorrowingEnabled bool
}

// Clone returns a deep copy of the reserve.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	clone.TotalScaledSupply = wadray.Clone(r.TotalScaledSupply)
	clone.TotalScaledDebt = wadray.Clone(r.TotalScaledDebt)
	clone.AvailableLiquidity = wadray.Clone(r.AvailableLiquidity)
	clone.AccruedToTreasury = wadray.Clone(r.AccruedToTreasury)
	clone.LiquidityIndex = wadray.Clone(r.LiquidityIndex)
	clone.BorrowIndex = wadray.Clone(r.BorrowIndex)
	clone.LiquidityRate = wadray.Clone(r.LiquidityRate)
	clone.BorrowRate = wadray.Clone(r.BorrowRate)
	clone.RateModel = r.RateModel.Clone()
	return &clone
}

func (r *Reserve) initialised() bool {
	return r != nil && r.LiquidityIndex != nil && r.BorrowIndex != nil &&
		!r.LiquidityIndex.IsZero() && !r.BorrowIndex.IsZero() && r.RateModel != nil
}

// NftConfig describes how a collection is valued and liquidated.
type NftConfig struct {
	Asset common.Address
	// ID is the registration order of the collection.
	ID uint64

	LtvBps                  uint64
	LiquidationThresholdBps uint64
	LiquidationBonusBps     uint64

	// RedeemDuration and AuctionDuration are measured in seconds from the
	// first bid.
	RedeemDuration  uint64
	AuctionDuration uint64
	// RedeemFineBps is applied to the debt at the time of the first bid.
	RedeemFineBps uint64
	// RedeemThresholdBps is the minimum share of the debt a redeem must
	// repay.
	RedeemThresholdBps uint64
	// MinBidFine is denominated in the base currency with 18 decimals.
	MinBidFine *uint256.Int

	Active bool
	Frozen bool
}

// Clone returns a deep copy of the configuration.
func (c *NftConfig) Clone() *NftConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.MinBidFine = wadray.Clone(c.MinBidFine)
	return &clone
}

// LoanState enumerates the collateral lifecycle.
type LoanState uint8

const (
	LoanStateNone LoanState = iota
	LoanStateActive
	LoanStateAuction
	LoanStateRepaid
	LoanStateDefaulted
)

func (s LoanState) String() string {
	switch s {
	case LoanStateActive:
		return "active"
	case LoanStateAuction:
		return "auction"
	case LoanStateRepaid:
		return "repaid"
	case LoanStateDefaulted:
		return "defaulted"
	default:
		return "none"
	}
}

// Terminal reports whether the loan is archived.
func (s LoanState) Terminal() bool {
	return s == LoanStateRepaid || s == LoanStateDefaulted
}

// Loan is a single borrow position secured by one NFT.
type Loan struct {
	ID           uint64
	Borrower     common.Address
	Collection   common.Address
	TokenID      *big.Int
	ReserveAsset common.Address
	ScaledAmount *uint256.Int
	State        LoanState

	BidPrice          *uint256.Int
	Bidder            common.Address
	BidStartTimestamp uint64
	// BidBorrowAmount is the debt snapshot taken at the first bid.
	BidBorrowAmount *uint256.Int
	// BidFine is the redeem penalty owed to the current bidder.
	BidFine *uint256.Int
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.TokenID != nil {
		clone.TokenID = new(big.Int).Set(l.TokenID)
	}
	clone.ScaledAmount = wadray.Clone(l.ScaledAmount)
	clone.BidPrice = wadray.Clone(l.BidPrice)
	clone.BidBorrowAmount = wadray.Clone(l.BidBorrowAmount)
	clone.BidFine = wadray.Clone(l.BidFine)
	return &clone
}

func (l *Loan) clearBid() {
	l.BidPrice = new(uint256.Int)
	l.Bidder = common.Address{}
	l.BidStartTimestamp = 0
	l.BidBorrowAmount = new(uint256.Int)
	l.BidFine = new(uint256.Int)
}

type collateralKey struct {
	collection common.Address
	tokenID    string
}

func newCollateralKey(collection common.Address, tokenID *big.Int) collateralKey {
	return collateralKey{collection: collection, tokenID: tokenID.String()}
}

type balanceKey struct {
	asset  common.Address
	holder common.Address
}
