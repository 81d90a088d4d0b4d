package oracle

import (
	"math/big"
	"sync"

	"github.com/holiman/uint256"
)

// LevelAsset supplies a price for the subset of a collection's tokens it
// claims, e.g. tokens sharing a rare trait.
type LevelAsset interface {
	Claims(tokenID *big.Int) bool
	Price() (*uint256.Int, uint64)
}

// PriceSetter is implemented by level assets whose price is pushed by the
// oracle's feed administrator.
type PriceSetter interface {
	SetPrice(price *uint256.Int, updatedAt uint64) error
}

// TokenSetLevel is a LevelAsset backed by an explicit set of token ids.
type TokenSetLevel struct {
	mu        sync.RWMutex
	tokens    map[string]struct{}
	price     *uint256.Int
	updatedAt uint64
}

// NewTokenSetLevel constructs a level claiming the supplied token ids.
func NewTokenSetLevel(tokenIDs ...*big.Int) *TokenSetLevel {
	level := &TokenSetLevel{tokens: make(map[string]struct{}, len(tokenIDs))}
	level.AddTokens(tokenIDs...)
	return level
}

// AddTokens extends the claimed token set.
func (l *TokenSetLevel) AddTokens(tokenIDs ...*big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range tokenIDs {
		if id == nil {
			continue
		}
		l.tokens[id.String()] = struct{}{}
	}
}

// Claims reports whether tokenID belongs to the level.
func (l *TokenSetLevel) Claims(tokenID *big.Int) bool {
	if tokenID == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.tokens[tokenID.String()]
	return ok
}

// Price returns the level price and its update time. A zero price means the
// level has not been priced yet.
func (l *TokenSetLevel) Price() (*uint256.Int, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.price == nil {
		return new(uint256.Int), 0
	}
	return l.price.Clone(), l.updatedAt
}

// SetPrice updates the level price.
func (l *TokenSetLevel) SetPrice(price *uint256.Int, updatedAt uint64) error {
	if price == nil || price.IsZero() {
		return ErrInvalidPrice
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.price != nil && updatedAt <= l.updatedAt {
		return ErrStaleTimestamp
	}
	l.price = price.Clone()
	l.updatedAt = updatedAt
	return nil
}
