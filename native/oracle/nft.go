package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
)

// NFTPriceData is the common price of a collection.
type NFTPriceData struct {
	Price     *uint256.Int
	UpdatedAt uint64
	Paused    bool
}

type levelEntry struct {
	key   string
	level LevelAsset
}

// NFTOracle prices NFT collections. Prices are pushed by the feed admin;
// registered level assets override the common price for the tokens they
// claim, checked in registration order.
type NFTOracle struct {
	mu          sync.RWMutex
	owner       common.Address
	feedAdmin   common.Address
	collections map[common.Address]*NFTPriceData
	order       []common.Address
	levels      map[common.Address][]levelEntry

	maxPriceDelay   uint64
	maxDeviationBps uint64
	deviationWindow uint64
}

// NewNFTOracle constructs an oracle owned by owner with feedAdmin allowed to
// push prices.
func NewNFTOracle(owner, feedAdmin common.Address) *NFTOracle {
	return &NFTOracle{
		owner:       owner,
		feedAdmin:   feedAdmin,
		collections: make(map[common.Address]*NFTPriceData),
		levels:      make(map[common.Address][]levelEntry),
	}
}

// SetPriceFeedAdmin replaces the feed administrator.
func (o *NFTOracle) SetPriceFeedAdmin(caller, admin common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return ErrUnauthorized
	}
	o.feedAdmin = admin
	return nil
}

// PriceFeedAdmin returns the address allowed to push prices.
func (o *NFTOracle) PriceFeedAdmin() common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.feedAdmin
}

// SetMaxPriceDelay configures the staleness horizon in seconds.
func (o *NFTOracle) SetMaxPriceDelay(caller common.Address, delay uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return ErrUnauthorized
	}
	o.maxPriceDelay = delay
	return nil
}

// SetDeviationGuard rejects updates that move the price by more than maxBps
// within window seconds of the previous update. A zero maxBps disables the
// guard; a zero window applies it to every update.
func (o *NFTOracle) SetDeviationGuard(caller common.Address, maxBps, window uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return ErrUnauthorized
	}
	o.maxDeviationBps = maxBps
	o.deviationWindow = window
	return nil
}

// AddAsset registers a collection.
func (o *NFTOracle) AddAsset(caller, collection common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return ErrUnauthorized
	}
	if _, exists := o.collections[collection]; exists {
		return ErrAssetExists
	}
	o.collections[collection] = &NFTPriceData{}
	o.order = append(o.order, collection)
	return nil
}

// RemoveAsset unregisters a collection and its level assets.
func (o *NFTOracle) RemoveAsset(caller, collection common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return ErrUnauthorized
	}
	if _, exists := o.collections[collection]; !exists {
		return ErrUnknownAsset
	}
	delete(o.collections, collection)
	delete(o.levels, collection)
	for i, entry := range o.order {
		if entry == collection {
			o.order = append(o.order[:i:i], o.order[i+1:]...)
			break
		}
	}
	return nil
}

// Assets lists registered collections in registration order.
func (o *NFTOracle) Assets() []common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]common.Address{}, o.order...)
}

// SetPause stops or resumes price updates for a collection.
func (o *NFTOracle) SetPause(caller, collection common.Address, paused bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return ErrUnauthorized
	}
	data, ok := o.collections[collection]
	if !ok {
		return ErrUnknownAsset
	}
	data.Paused = paused
	return nil
}

// AddLevelAsset registers a level asset for collection under levelKey.
func (o *NFTOracle) AddLevelAsset(caller, collection common.Address, levelKey string, level LevelAsset) error {
	if level == nil {
		return fmt.Errorf("oracle: level asset required")
	}
	key := strings.TrimSpace(levelKey)
	if key == "" {
		return fmt.Errorf("oracle: level key required")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return ErrUnauthorized
	}
	if _, ok := o.collections[collection]; !ok {
		return ErrUnknownAsset
	}
	for _, entry := range o.levels[collection] {
		if entry.key == key {
			return ErrAssetExists
		}
	}
	o.levels[collection] = append(o.levels[collection], levelEntry{key: key, level: level})
	return nil
}

// RemoveLevelAsset unregisters a level asset.
func (o *NFTOracle) RemoveLevelAsset(caller, collection common.Address, levelKey string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if caller != o.owner {
		return ErrUnauthorized
	}
	entries := o.levels[collection]
	for i, entry := range entries {
		if entry.key == strings.TrimSpace(levelKey) {
			o.levels[collection] = append(entries[:i:i], entries[i+1:]...)
			return nil
		}
	}
	return ErrUnknownLevel
}

// LevelKeys lists the level assets registered for collection in order.
func (o *NFTOracle) LevelKeys(collection common.Address) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := make([]string, 0, len(o.levels[collection]))
	for _, entry := range o.levels[collection] {
		keys = append(keys, entry.key)
	}
	return keys
}

// SetLevelPrice pushes a price to a registered level asset.
func (o *NFTOracle) SetLevelPrice(caller, collection common.Address, levelKey string, price *uint256.Int, updatedAt uint64) error {
	o.mu.RLock()
	admin := o.feedAdmin
	var target LevelAsset
	for _, entry := range o.levels[collection] {
		if entry.key == strings.TrimSpace(levelKey) {
			target = entry.level
			break
		}
	}
	o.mu.RUnlock()
	if caller != admin {
		return ErrUnauthorized
	}
	if target == nil {
		return ErrUnknownLevel
	}
	setter, ok := target.(PriceSetter)
	if !ok {
		return ErrLevelNotSettable
	}
	return setter.SetPrice(price, updatedAt)
}

// SetAssetData records the common price of collection.
func (o *NFTOracle) SetAssetData(caller, collection common.Address, price *uint256.Int, updatedAt uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.setAssetDataLocked(caller, collection, price, updatedAt)
}

// SetMultipleAssetsData records several prices atomically: either every
// update is applied or none is.
func (o *NFTOracle) SetMultipleAssetsData(caller common.Address, collections []common.Address, prices []*uint256.Int, updatedAt uint64) error {
	if len(collections) != len(prices) {
		return fmt.Errorf("oracle: %d collections but %d prices", len(collections), len(prices))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	backup := make(map[common.Address]NFTPriceData, len(collections))
	for _, collection := range collections {
		if data, ok := o.collections[collection]; ok {
			backup[collection] = *data
		}
	}
	for i, collection := range collections {
		if err := o.setAssetDataLocked(caller, collection, prices[i], updatedAt); err != nil {
			for addr, data := range backup {
				restored := data
				o.collections[addr] = &restored
			}
			return fmt.Errorf("oracle: update %s: %w", collection.Hex(), err)
		}
	}
	return nil
}

func (o *NFTOracle) setAssetDataLocked(caller, collection common.Address, price *uint256.Int, updatedAt uint64) error {
	if caller != o.feedAdmin {
		return ErrUnauthorized
	}
	data, ok := o.collections[collection]
	if !ok {
		return ErrUnknownAsset
	}
	if data.Paused {
		return ErrAssetPaused
	}
	if price == nil || price.IsZero() {
		return ErrInvalidPrice
	}
	if data.Price != nil && updatedAt <= data.UpdatedAt {
		return ErrStaleTimestamp
	}
	if data.Price != nil && o.maxDeviationBps > 0 {
		if o.deviationWindow == 0 || updatedAt-data.UpdatedAt <= o.deviationWindow {
			exceeded, err := deviationExceeds(data.Price, price, o.maxDeviationBps)
			if err != nil {
				return err
			}
			if exceeded {
				return ErrPriceDeviation
			}
		}
	}
	data.Price = price.Clone()
	data.UpdatedAt = updatedAt
	return nil
}

func deviationExceeds(previous, next *uint256.Int, maxBps uint64) (bool, error) {
	diff := new(uint256.Int)
	if next.Cmp(previous) >= 0 {
		diff.Sub(next, previous)
	} else {
		diff.Sub(previous, next)
	}
	scaled, err := wadray.Mul(diff, uint256.NewInt(wadray.PercentageFactor))
	if err != nil {
		return false, err
	}
	bps, err := wadray.Div(scaled, previous)
	if err != nil {
		return false, err
	}
	return bps.Cmp(uint256.NewInt(maxBps)) > 0, nil
}

// AssetData returns a copy of the collection's common price data.
func (o *NFTOracle) AssetData(collection common.Address) (NFTPriceData, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	data, ok := o.collections[collection]
	if !ok {
		return NFTPriceData{}, ErrUnknownAsset
	}
	out := NFTPriceData{UpdatedAt: data.UpdatedAt, Paused: data.Paused}
	if data.Price != nil {
		out.Price = data.Price.Clone()
	}
	return out, nil
}

// GetAssetPrice returns the common price of collection.
func (o *NFTOracle) GetAssetPrice(collection common.Address) (*uint256.Int, error) {
	data, err := o.AssetData(collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, collection.Hex())
	}
	if data.Price == nil {
		return nil, fmt.Errorf("%w: %s", ErrPriceNotSet, collection.Hex())
	}
	return data.Price, nil
}

// GetAssetPriceByTokenId returns the price for a specific token: the first
// registered level asset claiming the token wins, otherwise the collection's
// common price applies.
func (o *NFTOracle) GetAssetPriceByTokenId(collection common.Address, tokenID *big.Int) (*uint256.Int, error) {
	price, _, err := o.priceByToken(collection, tokenID)
	return price, err
}

// LatestTimestamp returns when the price used for tokenID was last updated.
func (o *NFTOracle) LatestTimestamp(collection common.Address, tokenID *big.Int) (uint64, error) {
	_, updatedAt, err := o.priceByToken(collection, tokenID)
	return updatedAt, err
}

// IsStale reports whether the price applicable to tokenID is older than the
// configured delay at time now. Unpriced tokens are reported stale.
func (o *NFTOracle) IsStale(collection common.Address, tokenID *big.Int, now uint64) bool {
	o.mu.RLock()
	delay := o.maxPriceDelay
	o.mu.RUnlock()
	_, updatedAt, err := o.priceByToken(collection, tokenID)
	if err != nil {
		return true
	}
	if delay == 0 {
		return false
	}
	return now > updatedAt && now-updatedAt > delay
}

func (o *NFTOracle) priceByToken(collection common.Address, tokenID *big.Int) (*uint256.Int, uint64, error) {
	o.mu.RLock()
	entries := append([]levelEntry{}, o.levels[collection]...)
	o.mu.RUnlock()
	for _, entry := range entries {
		if !entry.level.Claims(tokenID) {
			continue
		}
		price, updatedAt := entry.level.Price()
		if price != nil && !price.IsZero() {
			return price, updatedAt, nil
		}
	}
	data, err := o.AssetData(collection)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s", err, collection.Hex())
	}
	if data.Price == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrPriceNotSet, collection.Hex())
	}
	return data.Price, data.UpdatedAt, nil
}
