package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
)

// valuation is the oracle view of one collateral against one reserve.
type valuation struct {
	collateral   *uint256.Int // NFT value in reserve units
	reservePrice *uint256.Int
	stale        bool
}

func pow10(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
}

// toReserveUnits converts a base-currency wad into units of the reserve.
func toReserveUnits(baseWad, reservePrice *uint256.Int, decimals uint8) (*uint256.Int, error) {
	scaled, err := wadray.Mul(baseWad, pow10(decimals))
	if err != nil {
		return nil, err
	}
	return wadray.Div(scaled, reservePrice)
}

func (p *Pool) value(r *Reserve, collection common.Address, tokenID *big.Int) (valuation, error) {
	nftPrice, err := p.nftOracle.GetAssetPriceByTokenId(collection, tokenID)
	if err != nil {
		return valuation{}, err
	}
	reservePrice, err := p.reserveOracle.GetAssetPrice(r.Asset)
	if err != nil {
		return valuation{}, err
	}
	if reservePrice.IsZero() {
		return valuation{}, fmt.Errorf("%w: zero reserve price", ErrArithmeticOverflow)
	}
	collateral, err := toReserveUnits(nftPrice, reservePrice, r.Decimals)
	if err != nil {
		return valuation{}, err
	}
	v := valuation{collateral: collateral, reservePrice: reservePrice}
	if p.nftOracle.IsStale(collection, tokenID, p.blockTime) {
		v.stale = true
		p.observer.StalePrice("nft")
	}
	if p.reserveOracle.IsStale(r.Asset, p.blockTime) {
		v.stale = true
		p.observer.StalePrice("reserve")
	}
	return v, nil
}

// healthFactor returns collateral*threshold/debt as a wad. A loan without
// debt is infinitely healthy.
func healthFactor(collateral *uint256.Int, thresholdBps uint64, debt *uint256.Int) (*uint256.Int, error) {
	if debt.IsZero() {
		return maxUint256.Clone(), nil
	}
	weighted, err := wadray.PercentMul(collateral, thresholdBps)
	if err != nil {
		return nil, err
	}
	return wadray.WadDiv(weighted, debt)
}

// healthy reports collateral*threshold >= debt*10000 without rounding, so a
// position is only healthy when the weighted collateral covers every wei of
// debt. healthFactor is for display.
func healthy(collateral *uint256.Int, thresholdBps uint64, debt *uint256.Int) (bool, error) {
	weighted, err := wadray.Mul(collateral, uint256.NewInt(thresholdBps))
	if err != nil {
		return false, err
	}
	scaledDebt, err := wadray.Mul(debt, uint256.NewInt(wadray.PercentageFactor))
	if err != nil {
		return false, err
	}
	return !weighted.Lt(scaledDebt), nil
}

// liquidatePrice is the minimum first bid: the discounted collateral value,
// or the debt plus one percent when the discount leaves the debt uncovered.
func liquidatePrice(collateral *uint256.Int, bonusBps uint64, debt *uint256.Int) (*uint256.Int, error) {
	price, err := wadray.PercentMul(collateral, wadray.PercentageFactor-bonusBps)
	if err != nil {
		return nil, err
	}
	if price.Lt(debt) {
		extra, err := wadray.PercentMul(debt, wadray.OnePercent)
		if err != nil {
			return nil, err
		}
		if price, err = wadray.Add(debt, extra); err != nil {
			return nil, err
		}
	}
	return wadray.Max(price, debt), nil
}

// bidFine is the penalty a redeemer or repayer owes the bidder.
func bidFine(cfg *NftConfig, debt, reservePrice *uint256.Int, decimals uint8) (*uint256.Int, error) {
	fine, err := wadray.PercentMul(debt, cfg.RedeemFineBps)
	if err != nil {
		return nil, err
	}
	if cfg.MinBidFine == nil || cfg.MinBidFine.IsZero() {
		return fine, nil
	}
	minimum, err := toReserveUnits(cfg.MinBidFine, reservePrice, decimals)
	if err != nil {
		return nil, err
	}
	return wadray.Max(fine, minimum), nil
}

func (p *Pool) loanDebt(loan *Loan, r *Reserve) (*uint256.Int, error) {
	return wadray.RayMul(loan.ScaledAmount, r.BorrowIndex)
}

// activeLoan loads the non-terminal loan of a collateral for mutation.
func (p *Pool) activeLoan(collection common.Address, tokenID *big.Int) (*Loan, error) {
	if tokenID == nil {
		return nil, ErrLoanNotFound
	}
	id, ok := p.activeLoans[newCollateralKey(collection, tokenID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s #%s", ErrLoanNotFound, collection.Hex(), tokenID)
	}
	return p.touchLoan(id), nil
}

func (p *Pool) transition(loan *Loan, to LoanState) {
	from := loan.State
	loan.State = to
	if to.Terminal() {
		p.setActiveLoan(newCollateralKey(loan.Collection, loan.TokenID), 0)
	}
	p.observer.LoanTransition(from.String(), to.String())
	p.logger.Debug("loan state changed", "loan", loan.ID, "from", from, "to", to)
}

// settleDebt burns the whole scaled debt of a loan.
func settleDebt(r *Reserve, loan *Loan) {
	r.TotalScaledDebt = subFloor(r.TotalScaledDebt, loan.ScaledAmount)
	loan.ScaledAmount = new(uint256.Int)
}

// Borrow lends amount of reserveAsset to caller against the NFT tokenID of
// collection, which the pool takes into custody.
func (p *Pool) Borrow(caller, reserveAsset common.Address, amount *uint256.Int, collection common.Address, tokenID *big.Int) (loanID uint64, err error) {
	finish, err := p.begin("borrow")
	if err != nil {
		return 0, err
	}
	defer finish(&err)

	if amount == nil || amount.IsZero() || tokenID == nil || tokenID.Sign() < 0 {
		return 0, ErrInvalidAmount
	}
	if err := p.checkReserve(reserveAsset, true); err != nil {
		return 0, err
	}
	cfg, err := p.checkNft(collection)
	if err != nil {
		return 0, err
	}
	key := newCollateralKey(collection, tokenID)
	if id, ok := p.activeLoans[key]; ok {
		return 0, fmt.Errorf("%w: collateral already backs loan %d", ErrInvalidLoanState, id)
	}

	r, err := p.reserveFor(reserveAsset)
	if err != nil {
		return 0, err
	}
	v, err := p.value(r, collection, tokenID)
	if err != nil {
		return 0, err
	}
	if v.stale && p.params.FreezeOnStalePrice {
		return 0, ErrPriceStale
	}
	if amount.Gt(r.AvailableLiquidity) {
		return 0, ErrInsufficientLiquidity
	}
	available, err := wadray.PercentMul(v.collateral, cfg.LtvBps)
	if err != nil {
		return 0, err
	}
	if amount.Gt(available) {
		return 0, fmt.Errorf("%w: amount exceeds loan to value", ErrHealthFactorTooLow)
	}
	ok, err := healthy(v.collateral, cfg.LiquidationThresholdBps, amount)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrHealthFactorTooLow
	}

	scaled, err := mintScaledDebt(r, amount)
	if err != nil {
		return 0, err
	}
	r.AvailableLiquidity = new(uint256.Int).Sub(r.AvailableLiquidity, amount)
	if err := p.refreshRates(r); err != nil {
		return 0, err
	}

	loanID = p.allocLoanID()
	loan := &Loan{
		ID:           loanID,
		Borrower:     caller,
		Collection:   collection,
		TokenID:      new(big.Int).Set(tokenID),
		ReserveAsset: reserveAsset,
		ScaledAmount: scaled,
	}
	loan.clearBid()
	p.touchLoan(loanID)
	p.loans[loanID] = loan
	p.setActiveLoan(key, loanID)
	p.transition(loan, LoanStateActive)

	p.queueNFT(collection, caller, p.address, tokenID)
	p.queueERC20(reserveAsset, p.address, caller, amount)
	return loanID, nil
}

// Repay pays down the loan backing collection/tokenID. Amounts above the debt
// are capped. While an auction runs the debt must be cleared in full and the
// repayer also pays the bid fine to the bidder.
func (p *Pool) Repay(caller, collection common.Address, tokenID *big.Int, amount *uint256.Int) (repaid *uint256.Int, closed bool, err error) {
	finish, err := p.begin("repay")
	if err != nil {
		return nil, false, err
	}
	defer finish(&err)

	if amount == nil || amount.IsZero() {
		return nil, false, ErrInvalidAmount
	}
	loan, err := p.activeLoan(collection, tokenID)
	if err != nil {
		return nil, false, err
	}
	if loan.State != LoanStateActive && loan.State != LoanStateAuction {
		return nil, false, ErrInvalidLoanState
	}
	r, err := p.reserveFor(loan.ReserveAsset)
	if err != nil {
		return nil, false, err
	}
	debt, err := p.loanDebt(loan, r)
	if err != nil {
		return nil, false, err
	}
	repaid = wadray.Min(amount, debt)
	closed = repaid.Eq(debt)

	if loan.State == LoanStateAuction {
		if !closed {
			return nil, false, fmt.Errorf("%w: auctioned loans must be repaid in full", ErrInvalidLoanState)
		}
		refund, err := wadray.Add(loan.BidPrice, loan.BidFine)
		if err != nil {
			return nil, false, err
		}
		p.queueERC20(loan.ReserveAsset, caller, p.address, loan.BidFine)
		p.queueERC20(loan.ReserveAsset, p.address, loan.Bidder, refund)
		loan.clearBid()
	}

	if closed {
		settleDebt(r, loan)
		p.transition(loan, LoanStateRepaid)
	} else {
		burned, err := burnScaledDebt(r, repaid, loan.ScaledAmount)
		if err != nil {
			return nil, false, err
		}
		loan.ScaledAmount = subFloor(loan.ScaledAmount, burned)
	}
	if r.AvailableLiquidity, err = wadray.Add(r.AvailableLiquidity, repaid); err != nil {
		return nil, false, err
	}
	if err := p.refreshRates(r); err != nil {
		return nil, false, err
	}

	p.queueERC20(loan.ReserveAsset, caller, p.address, repaid)
	if closed {
		p.queueNFT(collection, p.address, loan.Borrower, tokenID)
	}
	return repaid, closed, nil
}

// Auction places a bid of bidPrice by caller on an unhealthy loan. The first
// bid opens the auction; later bids must beat the previous one by the
// configured delta and refund the outbid bidder.
func (p *Pool) Auction(caller, collection common.Address, tokenID *big.Int, bidPrice *uint256.Int) (err error) {
	finish, err := p.begin("auction")
	if err != nil {
		return err
	}
	defer finish(&err)

	if bidPrice == nil || bidPrice.IsZero() {
		return ErrInvalidAmount
	}
	loan, err := p.activeLoan(collection, tokenID)
	if err != nil {
		return err
	}
	cfg, ok := p.nfts[collection]
	if !ok {
		return ErrNftNotConfigured
	}
	if !cfg.Active {
		return ErrAssetInactive
	}
	if res := p.reserves[loan.ReserveAsset]; res == nil || !res.Active {
		return ErrAssetInactive
	}
	r, err := p.reserveFor(loan.ReserveAsset)
	if err != nil {
		return err
	}
	debt, err := p.loanDebt(loan, r)
	if err != nil {
		return err
	}

	var (
		refundTo common.Address
		refund   *uint256.Int
	)
	switch loan.State {
	case LoanStateActive:
		v, err := p.value(r, collection, tokenID)
		if err != nil {
			return err
		}
		if v.stale && p.params.FreezeOnStalePrice {
			return ErrPriceStale
		}
		ok, err := healthy(v.collateral, cfg.LiquidationThresholdBps, debt)
		if err != nil {
			return err
		}
		if ok {
			return ErrHealthFactorTooHigh
		}
		minimum, err := liquidatePrice(v.collateral, cfg.LiquidationBonusBps, debt)
		if err != nil {
			return err
		}
		if bidPrice.Lt(minimum) {
			return fmt.Errorf("%w: minimum %s", ErrBidTooLow, minimum.Dec())
		}
		fine, err := bidFine(cfg, debt, v.reservePrice, r.Decimals)
		if err != nil {
			return err
		}
		loan.BidStartTimestamp = p.blockTime
		loan.BidBorrowAmount = debt
		loan.BidFine = fine
		p.transition(loan, LoanStateAuction)

	case LoanStateAuction:
		if p.blockTime > loan.BidStartTimestamp+cfg.AuctionDuration {
			return ErrAuctionExpired
		}
		delta, err := wadray.PercentMul(loan.BidPrice, p.params.MinBidDeltaBps)
		if err != nil {
			return err
		}
		minimum, err := wadray.Add(loan.BidPrice, delta)
		if err != nil {
			return err
		}
		if bidPrice.Lt(wadray.Max(minimum, debt)) {
			return fmt.Errorf("%w: minimum %s", ErrBidTooLow, wadray.Max(minimum, debt).Dec())
		}
		refundTo, refund = loan.Bidder, loan.BidPrice.Clone()

	default:
		return ErrInvalidLoanState
	}

	loan.BidPrice = bidPrice.Clone()
	loan.Bidder = caller
	p.queueERC20(loan.ReserveAsset, caller, p.address, bidPrice)
	p.queueERC20(loan.ReserveAsset, p.address, refundTo, refund)
	p.observer.AuctionBid(collection.Hex())
	p.logger.Debug("auction bid", "loan", loan.ID, "bidder", caller.Hex(), "price", bidPrice.Dec())
	return nil
}

// Redeem lets anyone pay down an auctioned loan within the redeem window. The
// payer covers amount plus the bid fine; the bidder gets the bid back plus
// the fine. The loan returns to Active, or closes if amount clears the debt.
func (p *Pool) Redeem(caller, collection common.Address, tokenID *big.Int, amount, maxBidFine *uint256.Int) (err error) {
	finish, err := p.begin("redeem")
	if err != nil {
		return err
	}
	defer finish(&err)

	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	loan, err := p.activeLoan(collection, tokenID)
	if err != nil {
		return err
	}
	if loan.State != LoanStateAuction {
		return ErrInvalidLoanState
	}
	cfg, ok := p.nfts[collection]
	if !ok {
		return ErrNftNotConfigured
	}
	if p.blockTime > loan.BidStartTimestamp+cfg.RedeemDuration {
		return ErrRedeemWindowExpired
	}
	r, err := p.reserveFor(loan.ReserveAsset)
	if err != nil {
		return err
	}
	debt, err := p.loanDebt(loan, r)
	if err != nil {
		return err
	}
	minimum, err := wadray.PercentMul(debt, cfg.RedeemThresholdBps)
	if err != nil {
		return err
	}
	if amount.Lt(minimum) {
		return fmt.Errorf("%w: minimum %s", ErrRedeemAmountTooLow, minimum.Dec())
	}
	if amount.Gt(debt) {
		return fmt.Errorf("%w: amount exceeds debt %s", ErrInvalidAmount, debt.Dec())
	}
	if maxBidFine == nil || maxBidFine.Lt(loan.BidFine) {
		return fmt.Errorf("%w: bid fine %s", ErrBidTooLow, loan.BidFine.Dec())
	}

	fine := loan.BidFine.Clone()
	refund, err := wadray.Add(loan.BidPrice, fine)
	if err != nil {
		return err
	}
	bidder := loan.Bidder
	loan.clearBid()

	closed := amount.Eq(debt)
	if closed {
		settleDebt(r, loan)
		p.transition(loan, LoanStateRepaid)
	} else {
		burned, err := burnScaledDebt(r, amount, loan.ScaledAmount)
		if err != nil {
			return err
		}
		loan.ScaledAmount = subFloor(loan.ScaledAmount, burned)
		p.transition(loan, LoanStateActive)
	}
	if r.AvailableLiquidity, err = wadray.Add(r.AvailableLiquidity, amount); err != nil {
		return err
	}
	if err := p.refreshRates(r); err != nil {
		return err
	}

	paid, err := wadray.Add(amount, fine)
	if err != nil {
		return err
	}
	p.queueERC20(loan.ReserveAsset, caller, p.address, paid)
	p.queueERC20(loan.ReserveAsset, p.address, bidder, refund)
	if closed {
		p.queueNFT(collection, p.address, loan.Borrower, tokenID)
	}
	return nil
}

// Liquidate settles an auction whose window has closed. The bid repays the
// debt, caller covers any shortfall from extraAmount, any surplus goes to the
// borrower and the NFT goes to the winning bidder.
func (p *Pool) Liquidate(caller, collection common.Address, tokenID *big.Int, extraAmount *uint256.Int) (err error) {
	finish, err := p.begin("liquidate")
	if err != nil {
		return err
	}
	defer finish(&err)

	loan, err := p.activeLoan(collection, tokenID)
	if err != nil {
		return err
	}
	if loan.State != LoanStateAuction {
		return ErrInvalidLoanState
	}
	cfg, ok := p.nfts[collection]
	if !ok {
		return ErrNftNotConfigured
	}
	if p.blockTime <= loan.BidStartTimestamp+cfg.AuctionDuration {
		return ErrAuctionNotExpired
	}
	r, err := p.reserveFor(loan.ReserveAsset)
	if err != nil {
		return err
	}
	debt, err := p.loanDebt(loan, r)
	if err != nil {
		return err
	}

	shortfall := new(uint256.Int)
	surplus := new(uint256.Int)
	if loan.BidPrice.Lt(debt) {
		shortfall.Sub(debt, loan.BidPrice)
		if extraAmount == nil || extraAmount.Lt(shortfall) {
			return fmt.Errorf("%w: extra amount must cover shortfall %s", ErrInsufficientBalance, shortfall.Dec())
		}
	} else {
		surplus.Sub(loan.BidPrice, debt)
	}

	bidder := loan.Bidder
	settleDebt(r, loan)
	p.transition(loan, LoanStateDefaulted)
	if r.AvailableLiquidity, err = wadray.Add(r.AvailableLiquidity, debt); err != nil {
		return err
	}
	if err := p.refreshRates(r); err != nil {
		return err
	}

	p.queueERC20(loan.ReserveAsset, caller, p.address, shortfall)
	p.queueERC20(loan.ReserveAsset, p.address, loan.Borrower, surplus)
	p.queueNFT(collection, p.address, bidder, tokenID)
	return nil
}
