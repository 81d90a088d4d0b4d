package common

import (
	"errors"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaValueCapExceeded = errors.New("quota value cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the usage counters of one address in one epoch.
type QuotaNow struct {
	ReqCount  uint32
	ValueUsed uint64
	EpochID   uint64
}

// Quota limits how often an address may call a module and how much value,
// in whole base units, it may move per epoch. Zero disables a limit.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxValuePerEpoch    uint64
	EpochSeconds        uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxValuePerEpoch > 0
}

// Epoch returns the epoch containing the unix timestamp now.
func (q Quota) Epoch(now uint64) uint64 {
	if q.EpochSeconds == 0 {
		return 0
	}
	return now / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional request and value fit within the
// quota. The returned QuotaNow holds the updated counters when the quota is
// not exceeded, and prev otherwise.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addValue uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addValue > 0 {
		if next.ValueUsed > math.MaxUint64-addValue {
			return prev, ErrQuotaCounterOverflow
		}
		next.ValueUsed += addValue
	}
	if q.MaxValuePerEpoch > 0 && next.ValueUsed > q.MaxValuePerEpoch {
		return prev, ErrQuotaValueCapExceeded
	}

	return next, nil
}

// QuotaTracker applies one Quota to many addresses.
type QuotaTracker struct {
	mu    sync.Mutex
	quota Quota
	usage map[common.Address]QuotaNow
}

func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{quota: q, usage: make(map[common.Address]QuotaNow)}
}

// Check reports whether one more request carrying value fits addr's quota at
// time now without charging it.
func (t *QuotaTracker) Check(addr common.Address, now uint64, value uint64) error {
	if t == nil || !t.quota.Enabled() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := CheckQuota(t.quota, t.quota.Epoch(now), t.usage[addr], 1, value)
	return err
}

// Consume charges one request and value to addr at time now. Counters are
// left untouched when the quota would be exceeded.
func (t *QuotaTracker) Consume(addr common.Address, now uint64, value uint64) error {
	if t == nil || !t.quota.Enabled() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := CheckQuota(t.quota, t.quota.Epoch(now), t.usage[addr], 1, value)
	if err != nil {
		return err
	}
	t.usage[addr] = next
	return nil
}

// Usage returns the counters recorded for addr.
func (t *QuotaTracker) Usage(addr common.Address) QuotaNow {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage[addr]
}
