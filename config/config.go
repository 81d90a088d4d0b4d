// Package config loads the protocol bootstrap file describing the pool, its
// roles, reserves, collateral collections and oracles.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	defaultDataDir      = "./bend-data"
	defaultFeedCapacity = 128
)

type Config struct {
	DataDir     string    `toml:"DataDir" yaml:"data_dir"`
	PoolAddress string    `toml:"PoolAddress" yaml:"pool_address"`
	Roles       Roles     `toml:"roles" yaml:"roles"`
	Params      Params    `toml:"params" yaml:"params"`
	Oracle      Oracle    `toml:"oracle" yaml:"oracle"`
	Reserves    []Reserve `toml:"reserves" yaml:"reserves"`
	Nfts        []Nft     `toml:"nfts" yaml:"nfts"`
	Pauses      Pauses    `toml:"pauses" yaml:"pauses"`
	Quota       Quota     `toml:"quota" yaml:"quota"`
	Genesis     Genesis   `toml:"genesis" yaml:"genesis"`
}

// Load loads the configuration from the given path. Files ending in .yaml or
// .yml are decoded as YAML, everything else as TOML. A missing TOML file is
// created with a single-reserve development deployment.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path required")
	}
	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return createDefault(path)
		}
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.PoolAddress = strings.TrimSpace(cfg.PoolAddress)
	cfg.Roles.PoolAdmin = strings.TrimSpace(cfg.Roles.PoolAdmin)
	cfg.Roles.EmergencyAdmin = strings.TrimSpace(cfg.Roles.EmergencyAdmin)
	cfg.Roles.Treasury = strings.TrimSpace(cfg.Roles.Treasury)
	cfg.Roles.OracleOwner = strings.TrimSpace(cfg.Roles.OracleOwner)
	cfg.Roles.FeedAdmin = strings.TrimSpace(cfg.Roles.FeedAdmin)
	if cfg.Roles.OracleOwner == "" {
		cfg.Roles.OracleOwner = cfg.Roles.PoolAdmin
	}
	if cfg.Roles.FeedAdmin == "" {
		cfg.Roles.FeedAdmin = cfg.Roles.OracleOwner
	}
	cfg.Params.AccrualMode = strings.ToLower(strings.TrimSpace(cfg.Params.AccrualMode))
	cfg.Oracle.BaseCurrency = strings.TrimSpace(cfg.Oracle.BaseCurrency)
	if cfg.Oracle.FeedCapacity <= 0 {
		cfg.Oracle.FeedCapacity = defaultFeedCapacity
	}
	for i := range cfg.Reserves {
		cfg.Reserves[i].Asset = strings.TrimSpace(cfg.Reserves[i].Asset)
		if cfg.Reserves[i].FeedDecimals == 0 {
			cfg.Reserves[i].FeedDecimals = 18
		}
	}
	for i := range cfg.Nfts {
		cfg.Nfts[i].Asset = strings.TrimSpace(cfg.Nfts[i].Asset)
		cfg.Nfts[i].MinBidFine = strings.TrimSpace(cfg.Nfts[i].MinBidFine)
		if cfg.Nfts[i].MinBidFine == "" {
			cfg.Nfts[i].MinBidFine = "0"
		}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	freeze := true
	minBidDelta := uint64(100)
	cfg := &Config{
		DataDir:     defaultDataDir,
		PoolAddress: "0x0000000000000000000000000000000000001000",
		Roles: Roles{
			PoolAdmin:      "0x0000000000000000000000000000000000001001",
			EmergencyAdmin: "0x0000000000000000000000000000000000001002",
			Treasury:       "0x0000000000000000000000000000000000001003",
			OracleOwner:    "0x0000000000000000000000000000000000001001",
			FeedAdmin:      "0x0000000000000000000000000000000000001004",
		},
		Params: Params{AccrualMode: "linear", MinBidDeltaBps: &minBidDelta, FreezeOnStalePrice: &freeze},
		Oracle: Oracle{
			BaseCurrency:         "0x00000000000000000000000000000000000000e1",
			ReserveMaxPriceDelay: 3_600,
			NftMaxPriceDelay:     86_400,
			MaxPriceDeviationBps: 2_000,
			DeviationWindow:      3_600,
			FeedCapacity:         defaultFeedCapacity,
		},
		Reserves: []Reserve{{
			Asset:                 "0x00000000000000000000000000000000000000e1",
			Decimals:              18,
			ReserveFactorBps:      1_000,
			OptimalUtilizationBps: 6_500,
			BaseBorrowRateBps:     0,
			Slope1Bps:             800,
			Slope2Bps:             10_000,
			FeedDecimals:          18,
		}},
		Nfts: []Nft{{
			Asset:                   "0x0000000000000000000000000000000000000b01",
			LtvBps:                  4_000,
			LiquidationThresholdBps: 9_000,
			LiquidationBonusBps:     500,
			RedeemDuration:          172_800,
			AuctionDuration:         172_800,
			RedeemFineBps:           500,
			RedeemThresholdBps:      5_000,
			MinBidFine:              "200000000000000000",
		}},
		Quota: Quota{MaxRequestsPerEpoch: 600, EpochSeconds: 3_600},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
