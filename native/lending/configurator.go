package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/rates"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
)

// InitReserveInput registers a new reserve.
type InitReserveInput struct {
	Asset            common.Address
	Decimals         uint8
	ReserveFactorBps uint64
	RateModel        *rates.Model
}

// ConfigReserveInput updates an existing reserve. A nil RateModel keeps the
// current curve.
type ConfigReserveInput struct {
	Asset            common.Address
	ReserveFactorBps uint64
	RateModel        *rates.Model
}

// NftCollateralInput sets the valuation parameters of a collection.
type NftCollateralInput struct {
	Asset                   common.Address
	LtvBps                  uint64
	LiquidationThresholdBps uint64
	LiquidationBonusBps     uint64
}

// NftAuctionInput sets the liquidation parameters of a collection.
type NftAuctionInput struct {
	Asset              common.Address
	RedeemDuration     uint64
	AuctionDuration    uint64
	RedeemFineBps      uint64
	RedeemThresholdBps uint64
	MinBidFine         *uint256.Int
}

// admin wraps configuration calls: it checks the role and holds the lock so
// a configuration change is all-or-nothing and cannot interleave with an
// entry point. The pause flag does not apply to administration.
func (p *Pool) admin(caller, role common.Address, op string, fn func() error) (err error) {
	if caller != role {
		return ErrUnauthorized
	}
	release, err := p.lock.Enter()
	if err != nil {
		return ErrReentrantCall
	}
	defer release()
	p.journal.reset()
	if err = fn(); err != nil {
		p.journal.revert()
		p.logger.Info("configuration rejected", "op", op, "error", err)
		return err
	}
	p.journal.reset()
	p.logger.Info("configuration applied", "op", op)
	return nil
}

// BatchInitReserve creates reserves with indexes at one and the rates implied
// by an empty reserve.
func (p *Pool) BatchInitReserve(caller common.Address, inputs []InitReserveInput) error {
	return p.admin(caller, p.roles.PoolAdmin, "init_reserve", func() error {
		for _, in := range inputs {
			if _, ok := p.reserves[in.Asset]; ok {
				return fmt.Errorf("%w: %s", ErrReserveExists, in.Asset.Hex())
			}
			if in.RateModel == nil || in.ReserveFactorBps > wadray.PercentageFactor || in.Decimals > 36 {
				return fmt.Errorf("%w: reserve %s", ErrInvalidConfiguration, in.Asset.Hex())
			}
			r := &Reserve{
				Asset:               in.Asset,
				Decimals:            in.Decimals,
				ID:                  uint64(len(p.reserveList)),
				TotalScaledSupply:   new(uint256.Int),
				TotalScaledDebt:     new(uint256.Int),
				AvailableLiquidity:  new(uint256.Int),
				AccruedToTreasury:   new(uint256.Int),
				LiquidityIndex:      wadray.Clone(wadray.RAY),
				BorrowIndex:         wadray.Clone(wadray.RAY),
				LiquidityRate:       new(uint256.Int),
				BorrowRate:          new(uint256.Int),
				LastUpdateTimestamp: p.blockTime,
				ReserveFactorBps:    in.ReserveFactorBps,
				RateModel:           in.RateModel.Clone(),
				Active:              true,
				BorrowingEnabled:    true,
			}
			if err := updateRates(r); err != nil {
				return err
			}
			p.touchReserve(in.Asset)
			p.reserves[in.Asset] = r
			p.appendReserveList(in.Asset)
		}
		return nil
	})
}

// BatchConfigReserve accrues each reserve under its old parameters before
// applying the new ones.
func (p *Pool) BatchConfigReserve(caller common.Address, inputs []ConfigReserveInput) error {
	return p.admin(caller, p.roles.PoolAdmin, "config_reserve", func() error {
		for _, in := range inputs {
			if in.ReserveFactorBps > wadray.PercentageFactor {
				return fmt.Errorf("%w: reserve factor %d", ErrInvalidConfiguration, in.ReserveFactorBps)
			}
			r, err := p.reserveFor(in.Asset)
			if err != nil {
				return err
			}
			r.ReserveFactorBps = in.ReserveFactorBps
			if in.RateModel != nil {
				r.RateModel = in.RateModel.Clone()
			}
			if err := p.refreshRates(r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Pool) setReserveFlag(caller, asset common.Address, op string, set func(*Reserve)) error {
	return p.admin(caller, p.roles.PoolAdmin, op, func() error {
		if _, ok := p.reserves[asset]; !ok {
			return fmt.Errorf("%w: %s", ErrStaleConfiguration, asset.Hex())
		}
		set(p.touchReserve(asset))
		return nil
	})
}

// SetReserveActive toggles whether the reserve accepts any interaction.
func (p *Pool) SetReserveActive(caller, asset common.Address, active bool) error {
	return p.setReserveFlag(caller, asset, "reserve_active", func(r *Reserve) { r.Active = active })
}

// SetReserveFrozen blocks deposits and borrows while still allowing exits.
func (p *Pool) SetReserveFrozen(caller, asset common.Address, frozen bool) error {
	return p.setReserveFlag(caller, asset, "reserve_frozen", func(r *Reserve) { r.Frozen = frozen })
}

// SetBorrowingEnabled toggles new borrows against the reserve.
func (p *Pool) SetBorrowingEnabled(caller, asset common.Address, enabled bool) error {
	return p.setReserveFlag(caller, asset, "reserve_borrowing", func(r *Reserve) { r.BorrowingEnabled = enabled })
}

// nftFor returns the collection config for mutation, creating an active one
// on first use.
func (p *Pool) nftFor(asset common.Address) *NftConfig {
	cfg := p.touchNft(asset)
	if cfg == nil {
		cfg = &NftConfig{Asset: asset, ID: uint64(len(p.nftList)), MinBidFine: new(uint256.Int), Active: true}
		p.nfts[asset] = cfg
		p.appendNftList(asset)
	}
	return cfg
}

// ConfigureNftAsCollateral sets LTV, liquidation threshold and bonus.
func (p *Pool) ConfigureNftAsCollateral(caller common.Address, inputs []NftCollateralInput) error {
	return p.admin(caller, p.roles.PoolAdmin, "nft_collateral", func() error {
		for _, in := range inputs {
			if err := validateCollateral(in); err != nil {
				return err
			}
			cfg := p.nftFor(in.Asset)
			cfg.LtvBps = in.LtvBps
			cfg.LiquidationThresholdBps = in.LiquidationThresholdBps
			cfg.LiquidationBonusBps = in.LiquidationBonusBps
		}
		return nil
	})
}

func validateCollateral(in NftCollateralInput) error {
	if in.LtvBps > in.LiquidationThresholdBps {
		return fmt.Errorf("%w: ltv %d above threshold %d", ErrInvalidConfiguration, in.LtvBps, in.LiquidationThresholdBps)
	}
	if in.LiquidationThresholdBps > wadray.PercentageFactor || in.LiquidationBonusBps > wadray.PercentageFactor {
		return fmt.Errorf("%w: basis points above 10000", ErrInvalidConfiguration)
	}
	// threshold * (1 + bonus) must not exceed the collateral value.
	bonused := in.LiquidationThresholdBps * (wadray.PercentageFactor + in.LiquidationBonusBps)
	if bonused > wadray.PercentageFactor*wadray.PercentageFactor {
		return fmt.Errorf("%w: threshold %d with bonus %d exceeds collateral", ErrInvalidConfiguration,
			in.LiquidationThresholdBps, in.LiquidationBonusBps)
	}
	return nil
}

// ConfigureNftAsAuction sets the auction and redeem parameters.
func (p *Pool) ConfigureNftAsAuction(caller common.Address, inputs []NftAuctionInput) error {
	return p.admin(caller, p.roles.PoolAdmin, "nft_auction", func() error {
		for _, in := range inputs {
			if in.AuctionDuration == 0 || in.RedeemDuration > in.AuctionDuration {
				return fmt.Errorf("%w: redeem %ds auction %ds", ErrInvalidConfiguration, in.RedeemDuration, in.AuctionDuration)
			}
			if in.RedeemFineBps > wadray.PercentageFactor || in.RedeemThresholdBps > wadray.PercentageFactor {
				return fmt.Errorf("%w: basis points above 10000", ErrInvalidConfiguration)
			}
			cfg := p.nftFor(in.Asset)
			cfg.RedeemDuration = in.RedeemDuration
			cfg.AuctionDuration = in.AuctionDuration
			cfg.RedeemFineBps = in.RedeemFineBps
			cfg.RedeemThresholdBps = in.RedeemThresholdBps
			cfg.MinBidFine = wadray.Clone(in.MinBidFine)
		}
		return nil
	})
}

func (p *Pool) setNftFlag(caller, asset common.Address, op string, set func(*NftConfig)) error {
	return p.admin(caller, p.roles.PoolAdmin, op, func() error {
		if _, ok := p.nfts[asset]; !ok {
			return fmt.Errorf("%w: %s", ErrNftNotConfigured, asset.Hex())
		}
		set(p.touchNft(asset))
		return nil
	})
}

// SetNftActive toggles whether the collection accepts any interaction.
func (p *Pool) SetNftActive(caller, asset common.Address, active bool) error {
	return p.setNftFlag(caller, asset, "nft_active", func(c *NftConfig) { c.Active = active })
}

// SetNftFrozen blocks new borrows against the collection.
func (p *Pool) SetNftFrozen(caller, asset common.Address, frozen bool) error {
	return p.setNftFlag(caller, asset, "nft_frozen", func(c *NftConfig) { c.Frozen = frozen })
}

// SetPaused flips the global pause switch. Only the emergency admin may call
// it, and it works while the protocol is paused.
func (p *Pool) SetPaused(caller common.Address, paused bool) error {
	if caller != p.roles.EmergencyAdmin {
		return ErrUnauthorized
	}
	p.pauseSwitch.Set(paused)
	p.logger.Warn("pause switch changed", "paused", paused)
	return nil
}
