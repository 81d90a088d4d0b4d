package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending"
)

const maxBps = 10_000

// Validate checks addresses, amounts and basis point bounds. The pool runs
// its own checks again when the deployment is applied.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	for name, value := range map[string]string{
		"PoolAddress":          cfg.PoolAddress,
		"roles.PoolAdmin":      cfg.Roles.PoolAdmin,
		"roles.EmergencyAdmin": cfg.Roles.EmergencyAdmin,
		"roles.Treasury":       cfg.Roles.Treasury,
		"roles.OracleOwner":    cfg.Roles.OracleOwner,
		"roles.FeedAdmin":      cfg.Roles.FeedAdmin,
		"oracle.BaseCurrency":  cfg.Oracle.BaseCurrency,
	} {
		if err := checkAddress(name, value); err != nil {
			return err
		}
	}
	if _, err := lending.ParseAccrualMode(cfg.Params.AccrualMode); err != nil {
		return fmt.Errorf("params: %w", err)
	}
	if cfg.Params.MinBidDeltaBps != nil && *cfg.Params.MinBidDeltaBps > maxBps {
		return fmt.Errorf("params: min_bid_delta_bps > %d", maxBps)
	}
	if cfg.Oracle.MaxPriceDeviationBps > maxBps {
		return fmt.Errorf("oracle: max_price_deviation_bps > %d", maxBps)
	}

	seen := make(map[common.Address]bool)
	for i, r := range cfg.Reserves {
		if err := checkAddress(fmt.Sprintf("reserves[%d].Asset", i), r.Asset); err != nil {
			return err
		}
		addr := common.HexToAddress(r.Asset)
		if seen[addr] {
			return fmt.Errorf("reserves[%d]: duplicate asset %s", i, r.Asset)
		}
		seen[addr] = true
		if r.ReserveFactorBps > maxBps {
			return fmt.Errorf("reserves[%d]: reserve_factor_bps > %d", i, maxBps)
		}
		if r.OptimalUtilizationBps == 0 || r.OptimalUtilizationBps > maxBps {
			return fmt.Errorf("reserves[%d]: optimal_utilization_bps must be in (0, %d]", i, maxBps)
		}
		if r.Decimals > 77 || r.FeedDecimals > 77 {
			return fmt.Errorf("reserves[%d]: decimals out of range", i)
		}
	}

	seen = make(map[common.Address]bool)
	for i, n := range cfg.Nfts {
		if err := checkAddress(fmt.Sprintf("nfts[%d].Asset", i), n.Asset); err != nil {
			return err
		}
		addr := common.HexToAddress(n.Asset)
		if seen[addr] {
			return fmt.Errorf("nfts[%d]: duplicate collection %s", i, n.Asset)
		}
		seen[addr] = true
		if n.LtvBps > n.LiquidationThresholdBps || n.LiquidationThresholdBps > maxBps {
			return fmt.Errorf("nfts[%d]: need ltv_bps <= liquidation_threshold_bps <= %d", i, maxBps)
		}
		if n.RedeemFineBps > maxBps || n.RedeemThresholdBps > maxBps || n.LiquidationBonusBps > maxBps {
			return fmt.Errorf("nfts[%d]: bps value > %d", i, maxBps)
		}
		if n.RedeemDuration > n.AuctionDuration {
			return fmt.Errorf("nfts[%d]: redeem_duration exceeds auction_duration", i)
		}
		if _, err := parseAmount(n.MinBidFine); err != nil {
			return fmt.Errorf("nfts[%d].MinBidFine: %w", i, err)
		}
	}

	for i, level := range cfg.Oracle.Levels {
		if err := checkAddress(fmt.Sprintf("oracle.levels[%d].Collection", i), level.Collection); err != nil {
			return err
		}
		if strings.TrimSpace(level.Key) == "" {
			return fmt.Errorf("oracle.levels[%d]: key required", i)
		}
		if len(level.TokenIDs) == 0 {
			return fmt.Errorf("oracle.levels[%d]: token_ids required", i)
		}
	}

	if cfg.Quota.MaxRequestsPerEpoch > 0 && cfg.Quota.EpochSeconds == 0 {
		return fmt.Errorf("quota: epoch_seconds required when limits are set")
	}

	for i, b := range cfg.Genesis.Balances {
		if err := checkAddress(fmt.Sprintf("genesis.balances[%d].Asset", i), b.Asset); err != nil {
			return err
		}
		if err := checkAddress(fmt.Sprintf("genesis.balances[%d].Holder", i), b.Holder); err != nil {
			return err
		}
		if _, err := parseAmount(b.Amount); err != nil {
			return fmt.Errorf("genesis.balances[%d].Amount: %w", i, err)
		}
	}
	for i, tokens := range cfg.Genesis.Tokens {
		if err := checkAddress(fmt.Sprintf("genesis.tokens[%d].Collection", i), tokens.Collection); err != nil {
			return err
		}
		if err := checkAddress(fmt.Sprintf("genesis.tokens[%d].Owner", i), tokens.Owner); err != nil {
			return err
		}
	}
	return nil
}

func checkAddress(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if !common.IsHexAddress(value) {
		return fmt.Errorf("%s: %q is not a hex address", name, value)
	}
	return nil
}

func parseAmount(value string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}
