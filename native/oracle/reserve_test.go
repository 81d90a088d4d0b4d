package oracle

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ownerAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	adminAddr = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	wethAddr  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	daiAddr   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	usdcAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func mustPush(t *testing.T, feed *FeedAggregator, answer uint64, ts uint64) {
	t.Helper()
	if _, err := feed.Push(uint256.NewInt(answer), ts); err != nil {
		t.Fatalf("push %d@%d: %v", answer, ts, err)
	}
}

func twapFixture(t *testing.T) (*ReserveOracle, uint64) {
	t.Helper()
	oracle := NewReserveOracle(ownerAddr, wethAddr)
	feed := NewFeedAggregator(18, 0)
	if err := oracle.AddAsset(ownerAddr, daiAddr, feed); err != nil {
		t.Fatalf("add asset: %v", err)
	}
	const start = 1_700_000_000
	mustPush(t, feed, 4_000_000_000_000_000, start+15)
	mustPush(t, feed, 4_050_000_000_000_000, start+30)
	mustPush(t, feed, 4_100_000_000_000_000, start+45)
	return oracle, start
}

func TestTwapPriceMatchesWeightedWindow(t *testing.T) {
	oracle, start := twapFixture(t)
	now := uint64(start + 60)

	price, err := oracle.GetTwapPrice(daiAddr, 30, now)
	if err != nil {
		t.Fatalf("twap 30: %v", err)
	}
	if price.Uint64() != 4_075_000_000_000_000 {
		t.Fatalf("unexpected 30s twap: %s", price.Dec())
	}

	price, err = oracle.GetTwapPrice(daiAddr, 45, now)
	if err != nil {
		t.Fatalf("twap 45: %v", err)
	}
	if price.Uint64() != 4_050_000_000_000_000 {
		t.Fatalf("unexpected 45s twap: %s", price.Dec())
	}

	if _, err := oracle.GetTwapPrice(daiAddr, 0, now); !errors.Is(err, ErrZeroInterval) {
		t.Fatalf("expected ErrZeroInterval, got %v", err)
	}
}

func TestTwapPriceFallsBackToLatestOutsideWindow(t *testing.T) {
	oracle, start := twapFixture(t)
	price, err := oracle.GetTwapPrice(daiAddr, 10, start+100)
	if err != nil {
		t.Fatalf("twap: %v", err)
	}
	if price.Uint64() != 4_100_000_000_000_000 {
		t.Fatalf("expected latest price, got %s", price.Dec())
	}
}

func TestTwapPriceAveragesCoveredTimeWhenHistoryExhausted(t *testing.T) {
	oracle, start := twapFixture(t)
	// The window reaches past the first round, so the average covers
	// [start+15, start+60] only.
	price, err := oracle.GetTwapPrice(daiAddr, 1_000, start+60)
	if err != nil {
		t.Fatalf("twap: %v", err)
	}
	// (4.10*15 + 4.05*15 + 4.00*15) / 45
	if price.Uint64() != 4_050_000_000_000_000 {
		t.Fatalf("unexpected exhausted twap: %s", price.Dec())
	}
}

func TestReserveOracleUnknownAsset(t *testing.T) {
	oracle := NewReserveOracle(ownerAddr, wethAddr)
	if _, err := oracle.GetAssetPrice(daiAddr); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
	if _, err := oracle.GetTwapPrice(daiAddr, 30, 100); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
	price, err := oracle.GetAssetPrice(wethAddr)
	if err != nil {
		t.Fatalf("base currency price: %v", err)
	}
	if price.Dec() != "1000000000000000000" {
		t.Fatalf("expected base currency at one unit, got %s", price.Dec())
	}
}

func TestReserveOracleScalesDecimals(t *testing.T) {
	oracle := NewReserveOracle(ownerAddr, wethAddr)
	feed := NewFeedAggregator(8, 0)
	if err := oracle.AddAsset(ownerAddr, usdcAddr, feed); err != nil {
		t.Fatalf("add asset: %v", err)
	}
	mustPush(t, feed, 50_000, 10) // 0.0005 with 8 decimals
	price, err := oracle.GetAssetPrice(usdcAddr)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.Dec() != "500000000000000" {
		t.Fatalf("unexpected scaled price %s", price.Dec())
	}
}

func TestReserveOracleAdminRestricted(t *testing.T) {
	oracle := NewReserveOracle(ownerAddr, wethAddr)
	if err := oracle.AddAsset(adminAddr, daiAddr, NewFeedAggregator(18, 0)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := oracle.AddAsset(ownerAddr, daiAddr, NewFeedAggregator(18, 0)); err != nil {
		t.Fatalf("add asset: %v", err)
	}
	if err := oracle.AddAsset(ownerAddr, daiAddr, NewFeedAggregator(18, 0)); !errors.Is(err, ErrAssetExists) {
		t.Fatalf("expected ErrAssetExists, got %v", err)
	}
	if err := oracle.SetMaxPriceDelay(adminAddr, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestReserveOracleStaleness(t *testing.T) {
	oracle, start := twapFixture(t)
	if oracle.IsStale(daiAddr, start+10_000) {
		t.Fatalf("staleness disabled by default")
	}
	if err := oracle.SetMaxPriceDelay(ownerAddr, 60); err != nil {
		t.Fatalf("set delay: %v", err)
	}
	if oracle.IsStale(daiAddr, start+105) {
		t.Fatalf("price at the delay boundary must not be stale")
	}
	if !oracle.IsStale(daiAddr, start+106) {
		t.Fatalf("expected stale price")
	}
	if oracle.IsStale(wethAddr, start+10_000) {
		t.Fatalf("base currency is never stale")
	}
}

func TestFeedAggregatorRejectsBadAnswers(t *testing.T) {
	feed := NewFeedAggregator(18, 2)
	if _, err := feed.Push(new(uint256.Int), 1); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	mustPush(t, feed, 10, 5)
	if _, err := feed.Push(uint256.NewInt(11), 4); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
	if _, err := feed.Push(uint256.NewInt(11), 5); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp for a repeated timestamp, got %v", err)
	}
	mustPush(t, feed, 11, 6)
	mustPush(t, feed, 12, 7)
	if _, err := feed.RoundAt(1); !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("expected evicted round, got %v", err)
	}
	round, err := feed.RoundAt(2)
	if err != nil {
		t.Fatalf("round 2: %v", err)
	}
	if round.Answer.Uint64() != 11 || round.UpdatedAt != 6 {
		t.Fatalf("unexpected round: %+v", round)
	}
	latest, err := feed.LatestRound()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != 3 || latest.Answer.Uint64() != 12 {
		t.Fatalf("unexpected latest round: %+v", latest)
	}
}
