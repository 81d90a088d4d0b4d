package config

// Roles lists the privileged accounts of the deployment as hex addresses.
type Roles struct {
	PoolAdmin      string `toml:"PoolAdmin" yaml:"pool_admin"`
	EmergencyAdmin string `toml:"EmergencyAdmin" yaml:"emergency_admin"`
	Treasury       string `toml:"Treasury" yaml:"treasury"`
	OracleOwner    string `toml:"OracleOwner" yaml:"oracle_owner"`
	FeedAdmin      string `toml:"FeedAdmin" yaml:"feed_admin"`
}

// Params carries the protocol wide constants. Nil pointers keep the
// defaults, so an explicit zero is honoured.
type Params struct {
	AccrualMode        string  `toml:"AccrualMode" yaml:"accrual_mode"`
	MinBidDeltaBps     *uint64 `toml:"MinBidDeltaBps,omitempty" yaml:"min_bid_delta_bps,omitempty"`
	FreezeOnStalePrice *bool   `toml:"FreezeOnStalePrice,omitempty" yaml:"freeze_on_stale_price,omitempty"`
}

// Oracle configures both price oracles.
type Oracle struct {
	BaseCurrency         string  `toml:"BaseCurrency" yaml:"base_currency"`
	ReserveMaxPriceDelay uint64  `toml:"ReserveMaxPriceDelay" yaml:"reserve_max_price_delay"`
	NftMaxPriceDelay     uint64  `toml:"NftMaxPriceDelay" yaml:"nft_max_price_delay"`
	MaxPriceDeviationBps uint64  `toml:"MaxPriceDeviationBps" yaml:"max_price_deviation_bps"`
	DeviationWindow      uint64  `toml:"DeviationWindow" yaml:"deviation_window"`
	FeedCapacity         int     `toml:"FeedCapacity" yaml:"feed_capacity"`
	Levels               []Level `toml:"levels,omitempty" yaml:"levels,omitempty"`
}

// Level registers a token-set level asset under a collection.
type Level struct {
	Collection string   `toml:"Collection" yaml:"collection"`
	Key        string   `toml:"Key" yaml:"key"`
	TokenIDs   []uint64 `toml:"TokenIDs" yaml:"token_ids"`
}

// Reserve describes one fungible reserve and its rate curve in basis points.
type Reserve struct {
	Asset                 string `toml:"Asset" yaml:"asset"`
	Decimals              uint8  `toml:"Decimals" yaml:"decimals"`
	ReserveFactorBps      uint64 `toml:"ReserveFactorBps" yaml:"reserve_factor_bps"`
	OptimalUtilizationBps uint64 `toml:"OptimalUtilizationBps" yaml:"optimal_utilization_bps"`
	BaseBorrowRateBps     uint64 `toml:"BaseBorrowRateBps" yaml:"base_borrow_rate_bps"`
	Slope1Bps             uint64 `toml:"Slope1Bps" yaml:"slope1_bps"`
	Slope2Bps             uint64 `toml:"Slope2Bps" yaml:"slope2_bps"`
	// FeedDecimals is the precision of the pushed answers. Ignored for the
	// base currency, which has no feed.
	FeedDecimals      uint8 `toml:"FeedDecimals" yaml:"feed_decimals"`
	BorrowingDisabled bool  `toml:"BorrowingDisabled" yaml:"borrowing_disabled"`
}

// Nft describes a collateral collection. MinBidFine is a decimal amount in
// base currency wei.
type Nft struct {
	Asset                   string `toml:"Asset" yaml:"asset"`
	LtvBps                  uint64 `toml:"LtvBps" yaml:"ltv_bps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps" yaml:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps" yaml:"liquidation_bonus_bps"`
	RedeemDuration          uint64 `toml:"RedeemDuration" yaml:"redeem_duration"`
	AuctionDuration         uint64 `toml:"AuctionDuration" yaml:"auction_duration"`
	RedeemFineBps           uint64 `toml:"RedeemFineBps" yaml:"redeem_fine_bps"`
	RedeemThresholdBps      uint64 `toml:"RedeemThresholdBps" yaml:"redeem_threshold_bps"`
	MinBidFine              string `toml:"MinBidFine" yaml:"min_bid_fine"`
}

type Pauses struct {
	Lending bool `toml:"Lending" yaml:"lending"`
}

// Quota defines per-address limits on the operation endpoints.
type Quota struct {
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch" yaml:"max_requests_per_epoch"`
	MaxValuePerEpoch    uint64 `toml:"MaxValuePerEpoch" yaml:"max_value_per_epoch"` // whole tokens
	EpochSeconds        uint32 `toml:"EpochSeconds" yaml:"epoch_seconds"`
}

// Balance credits a fungible balance in the custody vault at genesis.
type Balance struct {
	Asset  string `toml:"Asset" yaml:"asset"`
	Holder string `toml:"Holder" yaml:"holder"`
	Amount string `toml:"Amount" yaml:"amount"`
}

// Tokens mints NFTs to an owner at genesis.
type Tokens struct {
	Collection string   `toml:"Collection" yaml:"collection"`
	Owner      string   `toml:"Owner" yaml:"owner"`
	TokenIDs   []uint64 `toml:"TokenIDs" yaml:"token_ids"`
}

// Genesis seeds the custody vault the first time a data directory is used.
type Genesis struct {
	Time     uint64    `toml:"Time" yaml:"time"`
	Balances []Balance `toml:"balances,omitempty" yaml:"balances,omitempty"`
	Tokens   []Tokens  `toml:"tokens,omitempty" yaml:"tokens,omitempty"`
}
