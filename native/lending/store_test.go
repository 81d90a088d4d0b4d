package lending

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BendDAO/bend-lending-protocol-sub001/storage"
)

func emptyPool(t *testing.T, f *fixture) *Pool {
	t.Helper()
	params := f.pool.Params()
	pool, err := NewPool(PoolConfig{
		Address:       poolAddr,
		Roles:         f.pool.Roles(),
		Params:        &params,
		ReserveOracle: f.reserves,
		NFTOracle:     f.nfts,
		Custody:       f.vault,
	})
	require.NoError(t, err)
	return pool
}

func TestStoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	token := openAuction(t, f)
	_, err := f.pool.Borrow(bob, wethAddr, eth(20), apesAddr, big.NewInt(2))
	require.NoError(t, err)
	f.advance(7_200)
	require.NoError(t, f.pool.SetPaused(emergencyAdmin, true))

	db := storage.NewMemDB()
	store := NewStore(db)
	root, err := store.Save(f.pool)
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, [32]byte(root))
	again, err := store.Save(f.pool)
	require.NoError(t, err)
	require.Equal(t, root, again, "snapshots of the same state must hash the same")

	restored := emptyPool(t, f)
	ok, err := NewStore(db).Restore(restored)
	require.NoError(t, err)
	require.True(t, ok)

	require.True(t, restored.Paused())
	require.Equal(t, f.pool.BlockTime(), restored.BlockTime())
	want, err := f.pool.GetReserveData(wethAddr)
	require.NoError(t, err)
	got, err := restored.GetReserveData(wethAddr)
	require.NoError(t, err)
	require.Equal(t, want.TotalSupply.Dec(), got.TotalSupply.Dec())
	require.Equal(t, want.TotalDebt.Dec(), got.TotalDebt.Dec())
	require.Equal(t, want.BorrowRate.Dec(), got.BorrowRate.Dec())
	require.Equal(t, want.RateModel.Slope2.Dec(), got.RateModel.Slope2.Dec())

	wantLoan, err := f.pool.GetLoanByCollateral(apesAddr, token)
	require.NoError(t, err)
	gotLoan, err := restored.GetLoanByCollateral(apesAddr, token)
	require.NoError(t, err)
	require.Equal(t, wantLoan.State, gotLoan.State)
	require.Equal(t, wantLoan.Bidder, gotLoan.Bidder)
	require.Equal(t, wantLoan.BidPrice.Dec(), gotLoan.BidPrice.Dec())
	require.Equal(t, 0, wantLoan.TokenID.Cmp(gotLoan.TokenID))

	cfg, err := restored.GetNftConfig(apesAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(172_800), cfg.AuctionDuration)
	require.Equal(t, milliEth(200).Dec(), cfg.MinBidFine.Dec())

	balances, err := restored.UserReserveBalances(alice)
	require.NoError(t, err)
	require.Len(t, balances, 1)

	// The restored pool carries on where the original stopped.
	require.NoError(t, restored.SetPaused(emergencyAdmin, false))
	require.NoError(t, f.vault.MintNFT(apesAddr, bob, big.NewInt(3)))
	id, err := restored.Borrow(bob, wethAddr, eth(1), apesAddr, big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, uint64(3), id)

	_, err = NewStore(db).Restore(restored)
	require.ErrorIs(t, err, errPoolNotEmpty)
}

func TestStoreRestoreWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	db := storage.NewMemDB()
	store := NewStore(db)

	ok, err := store.Restore(emptyPool(t, f))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.Save(f.pool)
	require.NoError(t, err)
	require.NoError(t, store.Clear())
	keys, err := db.Keys([]byte("lending/"))
	require.NoError(t, err)
	require.Empty(t, keys)
	ok, err = store.Restore(emptyPool(t, f))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreRejectsSaveDuringCall(t *testing.T) {
	f := newFixture(t)
	store := NewStore(storage.NewMemDB())
	var saveErr error
	f.vault.SetHook(func(tr Transfer) error {
		if tr.NFT {
			_, saveErr = store.Save(f.pool)
		}
		return nil
	})
	_, err := f.pool.Borrow(bob, wethAddr, eth(1), apesAddr, big.NewInt(1))
	require.NoError(t, err)
	require.ErrorIs(t, saveErr, ErrReentrantCall)
}

func TestStoreVaultRoundTrip(t *testing.T) {
	f := newFixture(t)
	_, err := f.pool.Borrow(bob, wethAddr, eth(10), apesAddr, big.NewInt(1))
	require.NoError(t, err)

	store := NewStore(storage.NewMemDB())
	restored := NewVault()
	ok, err := store.RestoreVault(restored)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SaveVault(f.vault))
	restored.Mint(daiAddr, dave, eth(1))
	ok, err = store.RestoreVault(restored)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, eth(490).Dec(), restored.BalanceOf(wethAddr, poolAddr).Dec())
	require.Equal(t, eth(10).Dec(), restored.BalanceOf(wethAddr, bob).Dec())
	require.True(t, restored.BalanceOf(daiAddr, dave).IsZero(), "restore replaces existing balances")
	owner, ok := restored.OwnerOf(apesAddr, big.NewInt(1))
	require.True(t, ok)
	require.Equal(t, poolAddr, owner)
	owner, _ = restored.OwnerOf(apesAddr, big.NewInt(2))
	require.Equal(t, bob, owner)
}
