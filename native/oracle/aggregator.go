package oracle

import (
	"sync"

	"github.com/holiman/uint256"
)

// DefaultRoundCapacity bounds the number of rounds retained per feed.
const DefaultRoundCapacity = 128

// Round is a single price observation reported by a feed.
type Round struct {
	ID        uint64
	Answer    *uint256.Int
	UpdatedAt uint64
}

// Clone returns a deep copy of the round.
func (r Round) Clone() Round {
	out := Round{ID: r.ID, UpdatedAt: r.UpdatedAt}
	if r.Answer != nil {
		out.Answer = r.Answer.Clone()
	}
	return out
}

// Aggregator is the reserve-side price source. Round ids increase by one per
// answer and start at 1.
type Aggregator interface {
	Decimals() uint8
	LatestRound() (Round, error)
	RoundAt(id uint64) (Round, error)
}

// FeedAggregator is an in-memory Aggregator fed by pushed answers. Only the
// most recent rounds are retained.
type FeedAggregator struct {
	mu       sync.RWMutex
	decimals uint8
	capacity int
	rounds   []Round
	latestID uint64
}

// NewFeedAggregator constructs an empty feed reporting answers with the given
// decimals. A non-positive capacity falls back to DefaultRoundCapacity.
func NewFeedAggregator(decimals uint8, capacity int) *FeedAggregator {
	if capacity <= 0 {
		capacity = DefaultRoundCapacity
	}
	return &FeedAggregator{decimals: decimals, capacity: capacity}
}

// Decimals reports the precision of the pushed answers.
func (f *FeedAggregator) Decimals() uint8 {
	return f.decimals
}

// Push records a new answer. Answers must be positive and timestamps must
// strictly increase.
func (f *FeedAggregator) Push(answer *uint256.Int, updatedAt uint64) (Round, error) {
	if answer == nil || answer.IsZero() {
		return Round{}, ErrInvalidPrice
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := len(f.rounds); n > 0 && updatedAt <= f.rounds[n-1].UpdatedAt {
		return Round{}, ErrStaleTimestamp
	}
	f.latestID++
	round := Round{ID: f.latestID, Answer: answer.Clone(), UpdatedAt: updatedAt}
	f.rounds = append(f.rounds, round)
	if len(f.rounds) > f.capacity {
		f.rounds = append([]Round{}, f.rounds[len(f.rounds)-f.capacity:]...)
	}
	return round.Clone(), nil
}

// LatestRound returns the most recent answer.
func (f *FeedAggregator) LatestRound() (Round, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.rounds) == 0 {
		return Round{}, ErrRoundNotFound
	}
	return f.rounds[len(f.rounds)-1].Clone(), nil
}

// RoundAt returns a retained historical round.
func (f *FeedAggregator) RoundAt(id uint64) (Round, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := uint64(len(f.rounds))
	if id == 0 || id > f.latestID || f.latestID-id >= n {
		return Round{}, ErrRoundNotFound
	}
	return f.rounds[n-1-(f.latestID-id)].Clone(), nil
}
