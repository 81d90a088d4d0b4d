package lending

import (
	"fmt"
	"strings"
)

// AccrualMode selects how the borrow index grows between updates.
type AccrualMode string

const (
	// AccrualLinear grows both indexes by rate*elapsed/year.
	AccrualLinear AccrualMode = "linear"
	// AccrualCompounded grows the borrow index with per-second compounding
	// approximated by the first three binomial terms.
	AccrualCompounded AccrualMode = "compounded"
)

// ParseAccrualMode accepts the configuration spelling of an accrual mode.
func ParseAccrualMode(raw string) (AccrualMode, error) {
	switch AccrualMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", AccrualLinear:
		return AccrualLinear, nil
	case AccrualCompounded:
		return AccrualCompounded, nil
	default:
		return "", fmt.Errorf("lending: unknown accrual mode %q", raw)
	}
}

// Params groups protocol wide constants that are not per-asset.
type Params struct {
	AccrualMode AccrualMode
	// MinBidDeltaBps is the minimum increment of a bid over the previous one.
	MinBidDeltaBps uint64
	// FreezeOnStalePrice blocks borrows and new auctions while a price used
	// by the call is older than the oracle's max delay.
	FreezeOnStalePrice bool
}

// DefaultParams mirrors the production deployment.
func DefaultParams() Params {
	return Params{
		AccrualMode:        AccrualLinear,
		MinBidDeltaBps:     100,
		FreezeOnStalePrice: true,
	}
}

// Validate checks the parameter bounds.
func (p Params) Validate() error {
	if _, err := ParseAccrualMode(string(p.AccrualMode)); err != nil {
		return err
	}
	if p.MinBidDeltaBps > 10_000 {
		return fmt.Errorf("%w: min bid delta %d bps", ErrInvalidConfiguration, p.MinBidDeltaBps)
	}
	return nil
}
