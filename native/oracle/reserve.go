// Package oracle maintains the price feeds consumed by the lending module.
// ReserveOracle prices fungible reserve assets from pushed aggregator rounds
// and can average them over a trailing window. NFTOracle prices collateral
// collections, optionally per token through registered level assets.
//
// All prices are denominated in the base currency with 18 decimals.
package oracle

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
)

const priceDecimals = 18

// ReserveOracle maps each reserve asset to one aggregator.
type ReserveOracle struct {
	mu            sync.RWMutex
	owner         common.Address
	baseCurrency  common.Address
	feeds         map[common.Address]Aggregator
	maxPriceDelay uint64
}

// NewReserveOracle constructs an oracle administered by owner. The base
// currency asset is always priced at one unit (1e18).
func NewReserveOracle(owner, baseCurrency common.Address) *ReserveOracle {
	return &ReserveOracle{
		owner:        owner,
		baseCurrency: baseCurrency,
		feeds:        make(map[common.Address]Aggregator),
	}
}

// Owner returns the administrator address.
func (o *ReserveOracle) Owner() common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.owner
}

// BaseCurrency returns the asset that prices are denominated in.
func (o *ReserveOracle) BaseCurrency() common.Address {
	return o.baseCurrency
}

// SetMaxPriceDelay configures how many seconds a price may age before it is
// reported as stale. Zero disables staleness reporting.
func (o *ReserveOracle) SetMaxPriceDelay(caller common.Address, delay uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return ErrUnauthorized
	}
	o.maxPriceDelay = delay
	return nil
}

// AddAsset registers the aggregator for a reserve asset.
func (o *ReserveOracle) AddAsset(caller, asset common.Address, aggregator Aggregator) error {
	if aggregator == nil {
		return fmt.Errorf("oracle: aggregator required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return ErrUnauthorized
	}
	if _, exists := o.feeds[asset]; exists {
		return ErrAssetExists
	}
	o.feeds[asset] = aggregator
	return nil
}

// RemoveAsset drops the aggregator registered for asset.
func (o *ReserveOracle) RemoveAsset(caller, asset common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return ErrUnauthorized
	}
	if _, exists := o.feeds[asset]; !exists {
		return ErrUnknownAsset
	}
	delete(o.feeds, asset)
	return nil
}

// Aggregator returns the feed registered for asset.
func (o *ReserveOracle) Aggregator(asset common.Address) (Aggregator, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	agg, ok := o.feeds[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	return agg, nil
}

// Assets lists the registered reserve assets in address order.
func (o *ReserveOracle) Assets() []common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]common.Address, 0, len(o.feeds))
	for asset := range o.feeds {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

// GetAssetPrice returns the latest answer for asset scaled to 18 decimals.
func (o *ReserveOracle) GetAssetPrice(asset common.Address) (*uint256.Int, error) {
	if asset == o.baseCurrency {
		return wadray.WAD.Clone(), nil
	}
	agg, err := o.Aggregator(asset)
	if err != nil {
		return nil, err
	}
	latest, err := agg.LatestRound()
	if err != nil {
		return nil, err
	}
	return scaleAnswer(latest.Answer, agg.Decimals())
}

// LatestTimestamp returns when the asset price was last updated.
func (o *ReserveOracle) LatestTimestamp(asset common.Address) (uint64, error) {
	if asset == o.baseCurrency {
		return 0, nil
	}
	agg, err := o.Aggregator(asset)
	if err != nil {
		return 0, err
	}
	latest, err := agg.LatestRound()
	if err != nil {
		return 0, err
	}
	return latest.UpdatedAt, nil
}

// IsStale reports whether the latest answer for asset is older than the
// configured maximum delay at time now.
func (o *ReserveOracle) IsStale(asset common.Address, now uint64) bool {
	o.mu.RLock()
	delay := o.maxPriceDelay
	o.mu.RUnlock()
	if delay == 0 || asset == o.baseCurrency {
		return false
	}
	updatedAt, err := o.LatestTimestamp(asset)
	if err != nil {
		return true
	}
	return now > updatedAt && now-updatedAt > delay
}

// GetTwapPrice returns the time-weighted average price of asset over the
// trailing interval seconds ending at now. Rounds are walked from the most
// recent backwards, each weighted by the time it was current inside the
// window. When the latest round predates the window the latest price is
// returned unchanged.
func (o *ReserveOracle) GetTwapPrice(asset common.Address, interval, now uint64) (*uint256.Int, error) {
	if interval == 0 {
		return nil, ErrZeroInterval
	}
	if asset == o.baseCurrency {
		return wadray.WAD.Clone(), nil
	}
	agg, err := o.Aggregator(asset)
	if err != nil {
		return nil, err
	}
	latest, err := agg.LatestRound()
	if err != nil {
		return nil, err
	}
	decimals := agg.Decimals()
	latestPrice, err := scaleAnswer(latest.Answer, decimals)
	if err != nil {
		return nil, err
	}

	var baseTimestamp uint64
	if now > interval {
		baseTimestamp = now - interval
	}
	if latest.UpdatedAt < baseTimestamp || latest.ID <= 1 {
		return latestPrice, nil
	}

	var cumulativeTime uint64
	if now > latest.UpdatedAt {
		cumulativeTime = now - latest.UpdatedAt
	}
	weighted, err := wadray.Mul(latestPrice, uint256.NewInt(cumulativeTime))
	if err != nil {
		return nil, err
	}
	previousTimestamp := latest.UpdatedAt
	for id := latest.ID - 1; id >= 1; id-- {
		round, err := agg.RoundAt(id)
		if err != nil {
			// History exhausted, average over the covered time.
			break
		}
		price, err := scaleAnswer(round.Answer, decimals)
		if err != nil {
			return nil, err
		}
		if round.UpdatedAt <= baseTimestamp {
			part, err := wadray.Mul(price, uint256.NewInt(previousTimestamp-baseTimestamp))
			if err != nil {
				return nil, err
			}
			if weighted, err = wadray.Add(weighted, part); err != nil {
				return nil, err
			}
			return wadray.Div(weighted, uint256.NewInt(interval))
		}
		fraction := previousTimestamp - round.UpdatedAt
		part, err := wadray.Mul(price, uint256.NewInt(fraction))
		if err != nil {
			return nil, err
		}
		if weighted, err = wadray.Add(weighted, part); err != nil {
			return nil, err
		}
		cumulativeTime += fraction
		previousTimestamp = round.UpdatedAt
	}
	if cumulativeTime == 0 {
		return latestPrice, nil
	}
	return wadray.Div(weighted, uint256.NewInt(cumulativeTime))
}

func scaleAnswer(answer *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if answer == nil || answer.IsZero() {
		return nil, ErrInvalidPrice
	}
	switch {
	case decimals == priceDecimals:
		return answer.Clone(), nil
	case decimals < priceDecimals:
		factor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(priceDecimals-decimals)))
		return wadray.Mul(answer, factor)
	default:
		factor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals-priceDecimals)))
		return wadray.Div(answer, factor)
	}
}
