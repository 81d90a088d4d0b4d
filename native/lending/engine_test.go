package lending

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/rates"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/oracle"
)

const startTime = 1_700_000_000

var (
	poolAddr       = common.HexToAddress("0x0000000000000000000000000000000000001000")
	poolAdmin      = common.HexToAddress("0x0000000000000000000000000000000000001001")
	emergencyAdmin = common.HexToAddress("0x0000000000000000000000000000000000001002")
	treasuryAddr   = common.HexToAddress("0x0000000000000000000000000000000000001003")
	oracleOwner    = common.HexToAddress("0x0000000000000000000000000000000000001004")
	feedAdmin      = common.HexToAddress("0x0000000000000000000000000000000000001005")

	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x000000000000000000000000000000000000ca01")
	dave  = common.HexToAddress("0x000000000000000000000000000000000000da7e")

	wethAddr  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	daiAddr   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	apesAddr  = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	punksAddr = common.HexToAddress("0x0000000000000000000000000000000000000b02")
)

// eth returns n whole units of an 18 decimal asset.
func eth(n uint64) *uint256.Int {
	return wadray.Wad(n)
}

// milliEth returns n thousandths of an 18 decimal asset.
func milliEth(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000))
}

type fixture struct {
	t         *testing.T
	pool      *Pool
	vault     *Vault
	reserves  *oracle.ReserveOracle
	nfts      *oracle.NFTOracle
	priceTime uint64
}

// newFixture builds a pool with a WETH reserve (the base currency) and the
// apes collection priced at 100 ETH. Alice supplies 500 ETH; bob owns apes
// #1 and #2; carol and dave hold bidding funds.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	reserves := oracle.NewReserveOracle(oracleOwner, wethAddr)
	nfts := oracle.NewNFTOracle(oracleOwner, feedAdmin)
	require.NoError(t, nfts.AddAsset(oracleOwner, apesAddr))

	vault := NewVault()
	pool, err := NewPool(PoolConfig{
		Address:       poolAddr,
		Roles:         Roles{PoolAdmin: poolAdmin, EmergencyAdmin: emergencyAdmin, Treasury: treasuryAddr},
		ReserveOracle: reserves,
		NFTOracle:     nfts,
		Custody:       vault,
	})
	require.NoError(t, err)
	pool.SetBlockTime(startTime)

	f := &fixture{t: t, pool: pool, vault: vault, reserves: reserves, nfts: nfts, priceTime: startTime}
	f.setNftPrice(eth(100))

	model, err := rates.FromBps(8000, 300, 400, 7500)
	require.NoError(t, err)
	require.NoError(t, pool.BatchInitReserve(poolAdmin, []InitReserveInput{
		{Asset: wethAddr, Decimals: 18, ReserveFactorBps: 1000, RateModel: model},
	}))
	require.NoError(t, pool.ConfigureNftAsCollateral(poolAdmin, []NftCollateralInput{
		{Asset: apesAddr, LtvBps: 5000, LiquidationThresholdBps: 8000, LiquidationBonusBps: 500},
	}))
	require.NoError(t, pool.ConfigureNftAsAuction(poolAdmin, []NftAuctionInput{
		{Asset: apesAddr, RedeemDuration: 86_400, AuctionDuration: 172_800, RedeemFineBps: 500, RedeemThresholdBps: 5000, MinBidFine: milliEth(200)},
	}))

	vault.Mint(wethAddr, alice, eth(1_000))
	vault.Mint(wethAddr, carol, eth(1_000))
	vault.Mint(wethAddr, dave, eth(1_000))
	require.NoError(t, vault.MintNFT(apesAddr, bob, big.NewInt(1)))
	require.NoError(t, vault.MintNFT(apesAddr, bob, big.NewInt(2)))
	require.NoError(t, pool.Deposit(alice, wethAddr, eth(500), alice))
	return f
}

func (f *fixture) setNftPrice(price *uint256.Int) {
	f.t.Helper()
	f.priceTime++
	if f.pool.BlockTime() > f.priceTime {
		f.priceTime = f.pool.BlockTime()
	}
	require.NoError(f.t, f.nfts.SetAssetData(feedAdmin, apesAddr, price, f.priceTime))
}

func (f *fixture) advance(seconds uint64) {
	f.pool.SetBlockTime(f.pool.BlockTime() + seconds)
}

// assertSolvent checks that the pool's cash covers the reserve's available
// liquidity plus every escrowed bid.
func (f *fixture) assertSolvent() {
	f.t.Helper()
	data, err := f.pool.GetReserveData(wethAddr)
	require.NoError(f.t, err)
	expected := data.AvailableLiquidity.Clone()
	for _, loan := range f.pool.loans {
		if loan.State == LoanStateAuction {
			expected.Add(expected, loan.BidPrice)
		}
	}
	require.Equal(f.t, expected.Dec(), f.vault.BalanceOf(wethAddr, poolAddr).Dec())
}

func TestDepositAndWithdraw(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, eth(500).Dec(), f.vault.BalanceOf(wethAddr, poolAddr).Dec())

	balances, err := f.pool.UserReserveBalances(alice)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.Equal(t, eth(500).Dec(), balances[0].Supply.Dec())

	_, err = f.pool.Withdraw(alice, wethAddr, eth(501), alice)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = f.pool.Withdraw(bob, wethAddr, eth(1), bob)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	withdrawn, err := f.pool.Withdraw(alice, wethAddr, eth(100), carol)
	require.NoError(t, err)
	require.Equal(t, eth(100).Dec(), withdrawn.Dec())
	require.Equal(t, eth(1_100).Dec(), f.vault.BalanceOf(wethAddr, carol).Dec())

	withdrawn, err = f.pool.Withdraw(alice, wethAddr, maxUint256, alice)
	require.NoError(t, err)
	require.Equal(t, eth(400).Dec(), withdrawn.Dec())
	require.Equal(t, eth(900).Dec(), f.vault.BalanceOf(wethAddr, alice).Dec())
	require.True(t, f.vault.BalanceOf(wethAddr, poolAddr).IsZero())

	balances, err = f.pool.UserReserveBalances(alice)
	require.NoError(t, err)
	require.Empty(t, balances)
}

func TestDepositChecks(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.pool.Deposit(alice, wethAddr, new(uint256.Int), alice), ErrInvalidAmount)
	require.ErrorIs(t, f.pool.Deposit(alice, daiAddr, eth(1), alice), ErrStaleConfiguration)

	require.NoError(t, f.pool.SetReserveFrozen(poolAdmin, wethAddr, true))
	require.ErrorIs(t, f.pool.Deposit(alice, wethAddr, eth(1), alice), ErrAssetFrozen)
	// Exits stay open on a frozen reserve.
	_, err := f.pool.Withdraw(alice, wethAddr, eth(1), alice)
	require.NoError(t, err)

	require.NoError(t, f.pool.SetReserveActive(poolAdmin, wethAddr, false))
	_, err = f.pool.Withdraw(alice, wethAddr, eth(1), alice)
	require.ErrorIs(t, err, ErrAssetInactive)
}

func TestBorrowChecks(t *testing.T) {
	f := newFixture(t)
	token := big.NewInt(1)

	_, err := f.pool.Borrow(bob, wethAddr, new(uint256.Int), apesAddr, token)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.pool.Borrow(bob, daiAddr, eth(1), apesAddr, token)
	require.ErrorIs(t, err, ErrStaleConfiguration)
	_, err = f.pool.Borrow(bob, wethAddr, eth(1), punksAddr, token)
	require.ErrorIs(t, err, ErrNftNotConfigured)

	// 50% LTV on a 100 ETH collateral.
	_, err = f.pool.Borrow(bob, wethAddr, eth(51), apesAddr, token)
	require.ErrorIs(t, err, ErrHealthFactorTooLow)

	require.NoError(t, f.pool.SetBorrowingEnabled(poolAdmin, wethAddr, false))
	_, err = f.pool.Borrow(bob, wethAddr, eth(10), apesAddr, token)
	require.ErrorIs(t, err, ErrBorrowingDisabled)
	require.NoError(t, f.pool.SetBorrowingEnabled(poolAdmin, wethAddr, true))

	require.NoError(t, f.pool.SetNftFrozen(poolAdmin, apesAddr, true))
	_, err = f.pool.Borrow(bob, wethAddr, eth(10), apesAddr, token)
	require.ErrorIs(t, err, ErrAssetFrozen)
	require.NoError(t, f.pool.SetNftFrozen(poolAdmin, apesAddr, false))

	id, err := f.pool.Borrow(bob, wethAddr, eth(50), apesAddr, token)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	owner, _ := f.vault.OwnerOf(apesAddr, token)
	require.Equal(t, poolAddr, owner)
	require.Equal(t, eth(50).Dec(), f.vault.BalanceOf(wethAddr, bob).Dec())

	_, err = f.pool.Borrow(bob, wethAddr, eth(1), apesAddr, token)
	require.ErrorIs(t, err, ErrInvalidLoanState)

	health, err := f.pool.GetLoanCollateralAndDebt(apesAddr, token, wethAddr)
	require.NoError(t, err)
	require.Equal(t, id, health.LoanID)
	require.Equal(t, eth(100).Dec(), health.CollateralValue.Dec())
	require.Equal(t, eth(50).Dec(), health.Debt.Dec())
	require.True(t, health.AvailableBorrows.IsZero())
	// 100 * 0.8 / 50
	require.Equal(t, milliEth(1_600).Dec(), health.HealthFactor.Dec())
	f.assertSolvent()
}

func TestBorrowRejectsMoreThanAvailableLiquidity(t *testing.T) {
	f := newFixture(t)
	_, err := f.pool.Withdraw(alice, wethAddr, eth(480), alice)
	require.NoError(t, err)
	_, err = f.pool.Borrow(bob, wethAddr, eth(30), apesAddr, big.NewInt(1))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestBorrowRejectsStalePrice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.nfts.SetMaxPriceDelay(oracleOwner, 3_600))
	f.advance(3_602)
	_, err := f.pool.Borrow(bob, wethAddr, eth(10), apesAddr, big.NewInt(1))
	require.ErrorIs(t, err, ErrPriceStale)
	require.Equal(t, KindOracle, KindOf(err))

	f.setNftPrice(eth(100))
	_, err = f.pool.Borrow(bob, wethAddr, eth(10), apesAddr, big.NewInt(1))
	require.NoError(t, err)
}

func TestBorrowIgnoresStalePriceWhenFreezeDisabled(t *testing.T) {
	f := newFixture(t)
	f.pool.params.FreezeOnStalePrice = false
	require.NoError(t, f.nfts.SetMaxPriceDelay(oracleOwner, 3_600))
	f.advance(3_602)
	_, err := f.pool.Borrow(bob, wethAddr, eth(10), apesAddr, big.NewInt(1))
	require.NoError(t, err)
	health, err := f.pool.GetLoanCollateralAndDebt(apesAddr, big.NewInt(1), wethAddr)
	require.NoError(t, err)
	require.True(t, health.Stale)
}

func TestRepayPartialThenFull(t *testing.T) {
	f := newFixture(t)
	token := big.NewInt(1)
	_, err := f.pool.Borrow(bob, wethAddr, eth(40), apesAddr, token)
	require.NoError(t, err)

	repaid, closed, err := f.pool.Repay(bob, apesAddr, token, eth(15))
	require.NoError(t, err)
	require.False(t, closed)
	require.Equal(t, eth(15).Dec(), repaid.Dec())

	f.advance(30 * 86_400)
	health, err := f.pool.GetLoanCollateralAndDebt(apesAddr, token, wethAddr)
	require.NoError(t, err)
	require.True(t, health.Debt.Gt(eth(25)), "debt must accrue interest, got %s", health.Debt.Dec())

	f.vault.Mint(wethAddr, bob, eth(10))
	repaid, closed, err = f.pool.Repay(bob, apesAddr, token, maxUint256)
	require.NoError(t, err)
	require.True(t, closed)
	require.Equal(t, health.Debt.Dec(), repaid.Dec())

	owner, _ := f.vault.OwnerOf(apesAddr, token)
	require.Equal(t, bob, owner)
	_, err = f.pool.GetLoanByCollateral(apesAddr, token)
	require.ErrorIs(t, err, ErrLoanNotFound)
	loan, err := f.pool.GetLoan(1)
	require.NoError(t, err)
	require.Equal(t, LoanStateRepaid, loan.State)

	data, err := f.pool.GetReserveData(wethAddr)
	require.NoError(t, err)
	require.True(t, data.TotalScaledDebt.IsZero())
	f.assertSolvent()

	// A repaid token can back a fresh loan.
	id, err := f.pool.Borrow(bob, wethAddr, eth(5), apesAddr, token)
	require.NoError(t, err)
	require.Equal(t, uint64(2), id)
}

func TestPauseGateBlocksEveryEntryPoint(t *testing.T) {
	f := newFixture(t)
	token := big.NewInt(1)
	_, err := f.pool.Borrow(bob, wethAddr, eth(10), apesAddr, token)
	require.NoError(t, err)

	require.ErrorIs(t, f.pool.SetPaused(poolAdmin, true), ErrUnauthorized)
	require.NoError(t, f.pool.SetPaused(emergencyAdmin, true))
	before, err := f.pool.GetReserveData(wethAddr)
	require.NoError(t, err)

	calls := map[string]func() error{
		"deposit": func() error { return f.pool.Deposit(alice, wethAddr, eth(1), alice) },
		"withdraw": func() error {
			_, err := f.pool.Withdraw(alice, wethAddr, eth(1), alice)
			return err
		},
		"borrow": func() error {
			_, err := f.pool.Borrow(bob, wethAddr, eth(1), apesAddr, big.NewInt(2))
			return err
		},
		"repay": func() error {
			_, _, err := f.pool.Repay(bob, apesAddr, token, eth(1))
			return err
		},
		"auction":   func() error { return f.pool.Auction(carol, apesAddr, token, eth(90)) },
		"redeem":    func() error { return f.pool.Redeem(bob, apesAddr, token, eth(1), eth(1)) },
		"liquidate": func() error { return f.pool.Liquidate(carol, apesAddr, token, nil) },
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, ErrProtocolPaused) {
			t.Fatalf("%s: expected ErrProtocolPaused, got %v", name, err)
		}
	}

	after, err := f.pool.GetReserveData(wethAddr)
	require.NoError(t, err)
	require.Equal(t, before.AvailableLiquidity.Dec(), after.AvailableLiquidity.Dec())

	require.NoError(t, f.pool.SetPaused(emergencyAdmin, false))
	require.NoError(t, f.pool.Deposit(alice, wethAddr, eth(1), alice))
}

func TestReentrantCallbacksAreRejected(t *testing.T) {
	f := newFixture(t)
	var nested []error
	f.vault.SetHook(func(tr Transfer) error {
		if !tr.NFT || tr.To != poolAddr {
			return nil
		}
		nested = append(nested,
			f.pool.Deposit(bob, wethAddr, eth(1), bob),
			f.pool.Auction(bob, apesAddr, tr.TokenID, eth(1)),
			f.pool.Redeem(bob, apesAddr, tr.TokenID, eth(1), eth(1)),
			f.pool.Liquidate(bob, apesAddr, tr.TokenID, nil),
		)
		_, err := f.pool.Borrow(bob, wethAddr, eth(1), apesAddr, big.NewInt(2))
		nested = append(nested, err)
		_, _, err = f.pool.Repay(bob, apesAddr, tr.TokenID, eth(1))
		nested = append(nested, err)
		_, err = f.pool.Withdraw(alice, wethAddr, eth(1), bob)
		nested = append(nested, err)
		return nil
	})

	id, err := f.pool.Borrow(bob, wethAddr, eth(10), apesAddr, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	require.Len(t, nested, 7)
	for i, err := range nested {
		if !errors.Is(err, ErrReentrantCall) {
			t.Fatalf("nested call %d: expected ErrReentrantCall, got %v", i, err)
		}
	}
	require.Equal(t, eth(10).Dec(), f.vault.BalanceOf(wethAddr, bob).Dec())
	f.assertSolvent()
}

func TestTransferFailureRollsBackLedger(t *testing.T) {
	f := newFixture(t)
	before, err := f.pool.GetReserveData(wethAddr)
	require.NoError(t, err)

	// Bob does not own token 7, so the collateral pull fails after the
	// ledger was updated.
	_, err = f.pool.Borrow(bob, wethAddr, eth(10), apesAddr, big.NewInt(7))
	require.ErrorIs(t, err, ErrTransferFailed)
	require.Equal(t, KindInvariant, KindOf(err))

	after, err := f.pool.GetReserveData(wethAddr)
	require.NoError(t, err)
	require.Equal(t, before.AvailableLiquidity.Dec(), after.AvailableLiquidity.Dec())
	require.True(t, after.TotalScaledDebt.IsZero())
	require.Equal(t, before.BorrowRate.Dec(), after.BorrowRate.Dec())
	_, err = f.pool.GetLoanByCollateral(apesAddr, big.NewInt(7))
	require.ErrorIs(t, err, ErrLoanNotFound)
	require.True(t, f.vault.BalanceOf(wethAddr, bob).IsZero())

	// A hook failing on the payout undoes the collateral pull as well.
	f.vault.SetHook(func(tr Transfer) error {
		if !tr.NFT && tr.To == bob {
			return errors.New("receiver rejected funds")
		}
		return nil
	})
	_, err = f.pool.Borrow(bob, wethAddr, eth(10), apesAddr, big.NewInt(1))
	require.ErrorIs(t, err, ErrTransferFailed)
	owner, _ := f.vault.OwnerOf(apesAddr, big.NewInt(1))
	require.Equal(t, bob, owner)

	f.vault.SetHook(nil)
	id, err := f.pool.Borrow(bob, wethAddr, eth(10), apesAddr, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, uint64(1), id, "failed calls must not consume loan ids")
	f.assertSolvent()
}

func TestKindOf(t *testing.T) {
	cases := map[error]ErrorKind{
		ErrAssetInactive:                   KindConfiguration,
		ErrReentrantCall:                   KindInvariant,
		ErrProtocolPaused:                  KindInvariant,
		wadray.ErrArithmeticOverflow:       KindInvariant,
		ErrBidTooLow:                       KindEconomic,
		ErrRedeemWindowExpired:             KindEconomic,
		ErrPriceStale:                      KindOracle,
		oracle.ErrUnknownAsset:             KindConfiguration,
		errors.New("boom"):                 KindUnknown,
		errors.Join(ErrHealthFactorTooLow): KindEconomic,
	}
	for err, want := range cases {
		if got := KindOf(err); got != want {
			t.Fatalf("KindOf(%v) = %s, want %s", err, got, want)
		}
	}
	if KindOf(nil) != "" {
		t.Fatalf("nil error must have no kind")
	}
}

func TestNewPoolKeepsExplicitZeroParams(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, DefaultParams(), f.pool.Params())

	zero := Params{AccrualMode: AccrualLinear}
	pool, err := NewPool(PoolConfig{
		Address:       poolAddr,
		Params:        &zero,
		ReserveOracle: f.reserves,
		NFTOracle:     f.nfts,
		Custody:       NewVault(),
	})
	require.NoError(t, err)
	require.False(t, pool.Params().FreezeOnStalePrice)
	require.Zero(t, pool.Params().MinBidDeltaBps)
}
