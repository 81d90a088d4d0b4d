package lending

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
)

// ReserveData is a reserve projected to the current block time.
type ReserveData struct {
	Reserve
	TotalSupply *uint256.Int
	TotalDebt   *uint256.Int
	Utilization *uint256.Int
}

// LoanHealth values a collateral against a reserve.
type LoanHealth struct {
	LoanID           uint64
	CollateralValue  *uint256.Int
	Debt             *uint256.Int
	AvailableBorrows *uint256.Int
	HealthFactor     *uint256.Int
	Stale            bool
}

// AuctionData describes the running auction of a loan.
type AuctionData struct {
	LoanID          uint64
	Bidder          common.Address
	BidPrice        *uint256.Int
	BidBorrowAmount *uint256.Int
	BidFine         *uint256.Int
	BidStart        uint64
	RedeemEnd       uint64
	AuctionEnd      uint64
}

// UserReserveBalance aggregates a user's position in one reserve.
type UserReserveBalance struct {
	Asset  common.Address
	Supply *uint256.Int
	Debt   *uint256.Int
}

func (p *Pool) projectedIndexes(r *Reserve) (*uint256.Int, *uint256.Int, error) {
	income, err := normalizedIncome(r, p.blockTime)
	if err != nil {
		return nil, nil, err
	}
	debt, err := normalizedDebt(r, p.blockTime, p.params.AccrualMode)
	if err != nil {
		return nil, nil, err
	}
	return income, debt, nil
}

// GetReserveData returns the reserve with indexes accrued to the block time.
func (p *Pool) GetReserveData(asset common.Address) (ReserveData, error) {
	r, ok := p.reserves[asset]
	if !ok || !r.initialised() {
		return ReserveData{}, fmt.Errorf("%w: %s", ErrStaleConfiguration, asset.Hex())
	}
	view := r.Clone()
	income, debtIndex, err := p.projectedIndexes(r)
	if err != nil {
		return ReserveData{}, err
	}
	view.LiquidityIndex = income
	view.BorrowIndex = debtIndex
	supply, err := wadray.RayMul(view.TotalScaledSupply, income)
	if err != nil {
		return ReserveData{}, err
	}
	debt, err := wadray.RayMul(view.TotalScaledDebt, debtIndex)
	if err != nil {
		return ReserveData{}, err
	}
	utilization := new(uint256.Int)
	if !debt.IsZero() {
		total, err := wadray.Add(view.AvailableLiquidity, debt)
		if err != nil {
			return ReserveData{}, err
		}
		if utilization, err = wadray.RayDiv(debt, total); err != nil {
			return ReserveData{}, err
		}
	}
	return ReserveData{Reserve: *view, TotalSupply: supply, TotalDebt: debt, Utilization: utilization}, nil
}

// ListReserves returns every reserve in registration order.
func (p *Pool) ListReserves() ([]ReserveData, error) {
	out := make([]ReserveData, 0, len(p.reserveList))
	for _, asset := range p.reserveList {
		data, err := p.GetReserveData(asset)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// GetNftConfig returns a copy of a collection's configuration.
func (p *Pool) GetNftConfig(asset common.Address) (NftConfig, error) {
	cfg, ok := p.nfts[asset]
	if !ok {
		return NftConfig{}, fmt.Errorf("%w: %s", ErrNftNotConfigured, asset.Hex())
	}
	return *cfg.Clone(), nil
}

// ListNfts returns every collection configuration in registration order.
func (p *Pool) ListNfts() []NftConfig {
	out := make([]NftConfig, 0, len(p.nftList))
	for _, asset := range p.nftList {
		out = append(out, *p.nfts[asset].Clone())
	}
	return out
}

// GetLoan returns a copy of a loan, terminal or not.
func (p *Pool) GetLoan(id uint64) (Loan, error) {
	loan, ok := p.loans[id]
	if !ok {
		return Loan{}, fmt.Errorf("%w: id %d", ErrLoanNotFound, id)
	}
	return *loan.Clone(), nil
}

// GetLoanByCollateral returns the non-terminal loan backed by the token.
func (p *Pool) GetLoanByCollateral(collection common.Address, tokenID *big.Int) (Loan, error) {
	if tokenID == nil {
		return Loan{}, ErrLoanNotFound
	}
	id, ok := p.activeLoans[newCollateralKey(collection, tokenID)]
	if !ok {
		return Loan{}, fmt.Errorf("%w: %s #%s", ErrLoanNotFound, collection.Hex(), tokenID)
	}
	return p.GetLoan(id)
}

// LoansByBorrower lists a borrower's loan ids in ascending order.
func (p *Pool) LoansByBorrower(borrower common.Address) []uint64 {
	var ids []uint64
	for id, loan := range p.loans {
		if loan.Borrower == borrower {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetLoanCollateralAndDebt values the token against reserveAsset. When the
// token backs a loan its debt is included and the loan's reserve is used.
func (p *Pool) GetLoanCollateralAndDebt(collection common.Address, tokenID *big.Int, reserveAsset common.Address) (LoanHealth, error) {
	cfg, ok := p.nfts[collection]
	if !ok {
		return LoanHealth{}, fmt.Errorf("%w: %s", ErrNftNotConfigured, collection.Hex())
	}
	if tokenID == nil {
		return LoanHealth{}, ErrInvalidAmount
	}
	health := LoanHealth{Debt: new(uint256.Int)}
	var loan *Loan
	if id, ok := p.activeLoans[newCollateralKey(collection, tokenID)]; ok {
		loan = p.loans[id]
		health.LoanID = id
		reserveAsset = loan.ReserveAsset
	}
	r, ok := p.reserves[reserveAsset]
	if !ok || !r.initialised() {
		return LoanHealth{}, fmt.Errorf("%w: %s", ErrStaleConfiguration, reserveAsset.Hex())
	}
	v, err := p.value(r, collection, tokenID)
	if err != nil {
		return LoanHealth{}, err
	}
	if loan != nil {
		_, debtIndex, err := p.projectedIndexes(r)
		if err != nil {
			return LoanHealth{}, err
		}
		if health.Debt, err = wadray.RayMul(loan.ScaledAmount, debtIndex); err != nil {
			return LoanHealth{}, err
		}
	}
	limit, err := wadray.PercentMul(v.collateral, cfg.LtvBps)
	if err != nil {
		return LoanHealth{}, err
	}
	health.CollateralValue = v.collateral
	health.AvailableBorrows = subFloor(limit, health.Debt)
	health.Stale = v.stale
	if health.HealthFactor, err = healthFactor(v.collateral, cfg.LiquidationThresholdBps, health.Debt); err != nil {
		return LoanHealth{}, err
	}
	return health, nil
}

// GetLoanAuctionData returns the bid state of an auctioned loan.
func (p *Pool) GetLoanAuctionData(collection common.Address, tokenID *big.Int) (AuctionData, error) {
	loan, err := p.GetLoanByCollateral(collection, tokenID)
	if err != nil {
		return AuctionData{}, err
	}
	if loan.State != LoanStateAuction {
		return AuctionData{}, ErrInvalidLoanState
	}
	cfg := p.nfts[collection]
	data := AuctionData{
		LoanID:          loan.ID,
		Bidder:          loan.Bidder,
		BidPrice:        loan.BidPrice,
		BidBorrowAmount: loan.BidBorrowAmount,
		BidFine:         loan.BidFine,
		BidStart:        loan.BidStartTimestamp,
	}
	if cfg != nil {
		data.RedeemEnd = loan.BidStartTimestamp + cfg.RedeemDuration
		data.AuctionEnd = loan.BidStartTimestamp + cfg.AuctionDuration
	}
	return data, nil
}

// UserReserveBalances returns supply and debt for every reserve the user
// touches, in reserve registration order.
func (p *Pool) UserReserveBalances(user common.Address) ([]UserReserveBalance, error) {
	debts := make(map[common.Address]*uint256.Int)
	for _, id := range p.activeLoans {
		loan := p.loans[id]
		if loan.Borrower != user {
			continue
		}
		_, debtIndex, err := p.projectedIndexes(p.reserves[loan.ReserveAsset])
		if err != nil {
			return nil, err
		}
		debt, err := wadray.RayMul(loan.ScaledAmount, debtIndex)
		if err != nil {
			return nil, err
		}
		if prev, ok := debts[loan.ReserveAsset]; ok {
			if debt, err = wadray.Add(prev, debt); err != nil {
				return nil, err
			}
		}
		debts[loan.ReserveAsset] = debt
	}

	var out []UserReserveBalance
	for _, asset := range p.reserveList {
		r := p.reserves[asset]
		balance := UserReserveBalance{Asset: asset, Supply: new(uint256.Int), Debt: new(uint256.Int)}
		if scaled, ok := p.supply[balanceKey{asset: asset, holder: user}]; ok {
			income, _, err := p.projectedIndexes(r)
			if err != nil {
				return nil, err
			}
			if balance.Supply, err = wadray.RayMul(scaled, income); err != nil {
				return nil, err
			}
		}
		if debt, ok := debts[asset]; ok {
			balance.Debt = debt
		}
		if balance.Supply.IsZero() && balance.Debt.IsZero() {
			continue
		}
		out = append(out, balance)
	}
	return out, nil
}

// LoanCounts returns how many loans are in each state.
func (p *Pool) LoanCounts() map[LoanState]int {
	counts := make(map[LoanState]int)
	for _, loan := range p.loans {
		counts[loan.State]++
	}
	return counts
}
