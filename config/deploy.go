package config

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/rates"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/oracle"
)

// Deployment holds the components described by a Config. Build returns an
// unconfigured pool so a saved snapshot can be restored into it; Configure
// applies the reserves and collections for a fresh data directory.
type Deployment struct {
	Pool          *lending.Pool
	Vault         *lending.Vault
	ReserveOracle *oracle.ReserveOracle
	NFTOracle     *oracle.NFTOracle
	// Feeds maps every non-base reserve to the aggregator its price feeder
	// pushes rounds into.
	Feeds map[common.Address]*oracle.FeedAggregator
	Roles lending.Roles

	OracleOwner common.Address
	FeedAdmin   common.Address

	cfg *Config
}

// LendingParams converts the configured protocol constants.
func (cfg *Config) LendingParams() (lending.Params, error) {
	params := lending.DefaultParams()
	mode, err := lending.ParseAccrualMode(cfg.Params.AccrualMode)
	if err != nil {
		return params, err
	}
	params.AccrualMode = mode
	if cfg.Params.MinBidDeltaBps != nil {
		params.MinBidDeltaBps = *cfg.Params.MinBidDeltaBps
	}
	if cfg.Params.FreezeOnStalePrice != nil {
		params.FreezeOnStalePrice = *cfg.Params.FreezeOnStalePrice
	}
	return params, params.Validate()
}

// Build wires the oracles, feeds, vault and an empty pool.
func Build(cfg *Config) (*Deployment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	params, err := cfg.LendingParams()
	if err != nil {
		return nil, err
	}
	d := &Deployment{
		Roles: lending.Roles{
			PoolAdmin:      common.HexToAddress(cfg.Roles.PoolAdmin),
			EmergencyAdmin: common.HexToAddress(cfg.Roles.EmergencyAdmin),
			Treasury:       common.HexToAddress(cfg.Roles.Treasury),
		},
		OracleOwner: common.HexToAddress(cfg.Roles.OracleOwner),
		FeedAdmin:   common.HexToAddress(cfg.Roles.FeedAdmin),
		Feeds:       make(map[common.Address]*oracle.FeedAggregator),
		Vault:       lending.NewVault(),
		cfg:         cfg,
	}
	base := common.HexToAddress(cfg.Oracle.BaseCurrency)

	d.ReserveOracle = oracle.NewReserveOracle(d.OracleOwner, base)
	if err := d.ReserveOracle.SetMaxPriceDelay(d.OracleOwner, cfg.Oracle.ReserveMaxPriceDelay); err != nil {
		return nil, err
	}
	for _, r := range cfg.Reserves {
		asset := common.HexToAddress(r.Asset)
		if asset == base {
			continue
		}
		feed := oracle.NewFeedAggregator(r.FeedDecimals, cfg.Oracle.FeedCapacity)
		if err := d.ReserveOracle.AddAsset(d.OracleOwner, asset, feed); err != nil {
			return nil, fmt.Errorf("reserve oracle %s: %w", r.Asset, err)
		}
		d.Feeds[asset] = feed
	}

	d.NFTOracle = oracle.NewNFTOracle(d.OracleOwner, d.FeedAdmin)
	if err := d.NFTOracle.SetMaxPriceDelay(d.OracleOwner, cfg.Oracle.NftMaxPriceDelay); err != nil {
		return nil, err
	}
	if err := d.NFTOracle.SetDeviationGuard(d.OracleOwner, cfg.Oracle.MaxPriceDeviationBps, cfg.Oracle.DeviationWindow); err != nil {
		return nil, err
	}
	for _, n := range cfg.Nfts {
		if err := d.NFTOracle.AddAsset(d.OracleOwner, common.HexToAddress(n.Asset)); err != nil {
			return nil, fmt.Errorf("nft oracle %s: %w", n.Asset, err)
		}
	}
	for _, level := range cfg.Oracle.Levels {
		ids := make([]*big.Int, len(level.TokenIDs))
		for i, id := range level.TokenIDs {
			ids[i] = new(big.Int).SetUint64(id)
		}
		collection := common.HexToAddress(level.Collection)
		if err := d.NFTOracle.AddLevelAsset(d.OracleOwner, collection, level.Key, oracle.NewTokenSetLevel(ids...)); err != nil {
			return nil, fmt.Errorf("level %s/%s: %w", level.Collection, level.Key, err)
		}
	}

	d.Pool, err = lending.NewPool(lending.PoolConfig{
		Address:       common.HexToAddress(cfg.PoolAddress),
		Roles:         d.Roles,
		Params:        &params,
		ReserveOracle: d.ReserveOracle,
		NFTOracle:     d.NFTOracle,
		Custody:       d.Vault,
	})
	if err != nil {
		return nil, err
	}
	d.Pool.SetBlockTime(cfg.Genesis.Time)
	return d, nil
}

// Configure registers the reserves and collections through the pool
// configurator and applies the pause flag.
func (d *Deployment) Configure() error {
	cfg := d.cfg
	inputs := make([]lending.InitReserveInput, 0, len(cfg.Reserves))
	for _, r := range cfg.Reserves {
		model, err := rates.FromBps(r.OptimalUtilizationBps, r.BaseBorrowRateBps, r.Slope1Bps, r.Slope2Bps)
		if err != nil {
			return fmt.Errorf("reserve %s: %w", r.Asset, err)
		}
		inputs = append(inputs, lending.InitReserveInput{
			Asset:            common.HexToAddress(r.Asset),
			Decimals:         r.Decimals,
			ReserveFactorBps: r.ReserveFactorBps,
			RateModel:        model,
		})
	}
	if len(inputs) > 0 {
		if err := d.Pool.BatchInitReserve(d.Roles.PoolAdmin, inputs); err != nil {
			return err
		}
	}
	for _, r := range cfg.Reserves {
		if !r.BorrowingDisabled {
			continue
		}
		if err := d.Pool.SetBorrowingEnabled(d.Roles.PoolAdmin, common.HexToAddress(r.Asset), false); err != nil {
			return err
		}
	}

	collateral := make([]lending.NftCollateralInput, 0, len(cfg.Nfts))
	auction := make([]lending.NftAuctionInput, 0, len(cfg.Nfts))
	for _, n := range cfg.Nfts {
		fine, err := parseAmount(n.MinBidFine)
		if err != nil {
			return err
		}
		asset := common.HexToAddress(n.Asset)
		collateral = append(collateral, lending.NftCollateralInput{
			Asset:                   asset,
			LtvBps:                  n.LtvBps,
			LiquidationThresholdBps: n.LiquidationThresholdBps,
			LiquidationBonusBps:     n.LiquidationBonusBps,
		})
		auction = append(auction, lending.NftAuctionInput{
			Asset:              asset,
			RedeemDuration:     n.RedeemDuration,
			AuctionDuration:    n.AuctionDuration,
			RedeemFineBps:      n.RedeemFineBps,
			RedeemThresholdBps: n.RedeemThresholdBps,
			MinBidFine:         fine,
		})
	}
	if len(collateral) > 0 {
		if err := d.Pool.ConfigureNftAsCollateral(d.Roles.PoolAdmin, collateral); err != nil {
			return err
		}
		if err := d.Pool.ConfigureNftAsAuction(d.Roles.PoolAdmin, auction); err != nil {
			return err
		}
	}
	if cfg.Pauses.Lending {
		return d.Pool.SetPaused(d.Roles.EmergencyAdmin, true)
	}
	return nil
}

// SeedVault credits the genesis balances and mints the genesis tokens.
func (d *Deployment) SeedVault() error {
	for _, b := range d.cfg.Genesis.Balances {
		amount, err := parseAmount(b.Amount)
		if err != nil {
			return err
		}
		d.Vault.Mint(common.HexToAddress(b.Asset), common.HexToAddress(b.Holder), amount)
	}
	for _, tokens := range d.cfg.Genesis.Tokens {
		collection := common.HexToAddress(tokens.Collection)
		owner := common.HexToAddress(tokens.Owner)
		for _, id := range tokens.TokenIDs {
			if err := d.Vault.MintNFT(collection, owner, new(big.Int).SetUint64(id)); err != nil {
				return fmt.Errorf("genesis token %s #%d: %w", tokens.Collection, id, err)
			}
		}
	}
	d.Vault.Commit()
	return nil
}
