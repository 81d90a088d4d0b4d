package lending

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "github.com/BendDAO/bend-lending-protocol-sub001/native/common"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
)

const moduleName = "lending"

var errNilDependency = errors.New("lending: pool dependency not configured")

// ReservePriceSource prices reserve assets in the base currency with 18
// decimals.
type ReservePriceSource interface {
	GetAssetPrice(asset common.Address) (*uint256.Int, error)
	IsStale(asset common.Address, now uint64) bool
}

// NFTPriceSource prices individual NFTs in the base currency with 18
// decimals.
type NFTPriceSource interface {
	GetAssetPriceByTokenId(collection common.Address, tokenID *big.Int) (*uint256.Int, error)
	IsStale(collection common.Address, tokenID *big.Int, now uint64) bool
}

// Observer receives operational signals. observability/metrics provides the
// Prometheus implementation.
type Observer interface {
	OperationCompleted(op, outcome string)
	ReserveIndexes(asset string, liquidityIndex, borrowIndex float64)
	LoanTransition(from, to string)
	AuctionBid(collection string)
	StalePrice(source string)
}

type nopObserver struct{}

func (nopObserver) OperationCompleted(string, string) {}
func (nopObserver) ReserveIndexes(string, float64, float64) {}
func (nopObserver) LoanTransition(string, string) {}
func (nopObserver) AuctionBid(string) {}
func (nopObserver) StalePrice(string) {}

// Roles identifies the privileged accounts of the pool.
type Roles struct {
	PoolAdmin      common.Address
	EmergencyAdmin common.Address
	// Treasury receives the reserve-factor share of interest as supply.
	Treasury common.Address
}

// PoolConfig wires a Pool to its collaborators.
type PoolConfig struct {
	// Address is the custody account holding liquidity, collateral and bids.
	Address       common.Address
	Roles         Roles
	// Params nil selects DefaultParams.
	Params *Params
	ReserveOracle ReservePriceSource
	NFTOracle     NFTPriceSource
	Custody       TokenCustody
}

// Pool is the lending state machine: reserves, supply balances, NFT
// configurations and loans. A Pool is not safe for concurrent use; hosts
// serialise calls and inject the block time with SetBlockTime.
type Pool struct {
	address       common.Address
	roles         Roles
	params        Params
	reserveOracle ReservePriceSource
	nftOracle     NFTPriceSource
	custody       TokenCustody

	pauses      nativecommon.PauseView
	pauseSwitch nativecommon.PauseSwitch
	lock        nativecommon.Lock
	journal     journal
	pending     []pendingTransfer
	blockTime   uint64

	logger   *slog.Logger
	observer Observer

	reserves    map[common.Address]*Reserve
	reserveList []common.Address
	supply      map[balanceKey]*uint256.Int
	nfts        map[common.Address]*NftConfig
	nftList     []common.Address
	loans       map[uint64]*Loan
	activeLoans map[collateralKey]uint64
	nextLoanID  uint64
}

// NewPool constructs an empty pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.ReserveOracle == nil || cfg.NFTOracle == nil || cfg.Custody == nil {
		return nil, errNilDependency
	}
	params := DefaultParams()
	if cfg.Params != nil {
		params = *cfg.Params
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		address:       cfg.Address,
		roles:         cfg.Roles,
		params:        params,
		reserveOracle: cfg.ReserveOracle,
		nftOracle:     cfg.NFTOracle,
		custody:       cfg.Custody,
		logger:        slog.Default().With("component", moduleName),
		observer:      nopObserver{},
		reserves:      make(map[common.Address]*Reserve),
		supply:        make(map[balanceKey]*uint256.Int),
		nfts:          make(map[common.Address]*NftConfig),
		loans:         make(map[uint64]*Loan),
		activeLoans:   make(map[collateralKey]uint64),
		nextLoanID:    1,
	}, nil
}

// SetLogger replaces the pool logger.
func (p *Pool) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	p.logger = logger.With("component", moduleName)
}

// SetObserver installs a metrics sink.
func (p *Pool) SetObserver(observer Observer) {
	if observer == nil {
		observer = nopObserver{}
	}
	p.observer = observer
}

// SetPauses wires an external pause view in addition to the pool's own
// emergency switch.
func (p *Pool) SetPauses(view nativecommon.PauseView) { p.pauses = view }

// SetBlockTime records the host timestamp used for accrual and auction
// windows.
func (p *Pool) SetBlockTime(ts uint64) { p.blockTime = ts }

// BlockTime returns the injected host timestamp.
func (p *Pool) BlockTime() uint64 { return p.blockTime }

// Address returns the custody account of the pool.
func (p *Pool) Address() common.Address { return p.address }

// Roles returns the privileged accounts.
func (p *Pool) Roles() Roles { return p.roles }

// Params returns the protocol constants.
func (p *Pool) Params() Params { return p.params }

// Paused reports whether entry points are currently rejected.
func (p *Pool) Paused() bool {
	if p.pauseSwitch.IsPaused(moduleName) {
		return true
	}
	return nativecommon.Guard(p.pauses, moduleName) != nil
}

type pendingTransfer struct {
	nft     bool
	asset   common.Address
	from    common.Address
	to      common.Address
	amount  *uint256.Int
	tokenID *big.Int
}

func (p *Pool) queueERC20(asset, from, to common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() || from == to {
		return
	}
	p.pending = append(p.pending, pendingTransfer{asset: asset, from: from, to: to, amount: amount.Clone()})
}

func (p *Pool) queueNFT(collection, from, to common.Address, tokenID *big.Int) {
	if from == to {
		return
	}
	p.pending = append(p.pending, pendingTransfer{nft: true, asset: collection, from: from, to: to, tokenID: new(big.Int).Set(tokenID)})
}

func (p *Pool) flushTransfers() error {
	for _, t := range p.pending {
		var err error
		if t.nft {
			err = p.custody.TransferNFT(t.asset, t.from, t.to, t.tokenID)
		} else {
			err = p.custody.TransferERC20(t.asset, t.from, t.to, t.amount)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}
	return nil
}

// begin runs the checks shared by every entry point: pause gate first, then
// the reentrancy lock. The returned finish must be deferred with the named
// error result; it performs the queued transfers and rolls back every ledger
// and custody change when the call fails.
func (p *Pool) begin(op string) (func(*error), error) {
	if p.Paused() {
		p.observer.OperationCompleted(op, string(KindOf(ErrProtocolPaused)))
		return nil, ErrProtocolPaused
	}
	release, err := p.lock.Enter()
	if err != nil {
		p.observer.OperationCompleted(op, string(KindOf(ErrReentrantCall)))
		return nil, ErrReentrantCall
	}
	p.journal.reset()
	p.pending = p.pending[:0]
	snapshotter, _ := p.custody.(Snapshotter)
	snapshot := 0
	if snapshotter != nil {
		snapshot = snapshotter.Snapshot()
	}

	return func(errp *error) {
		defer release()
		if *errp == nil {
			*errp = p.flushTransfers()
		}
		p.pending = p.pending[:0]
		if *errp != nil {
			p.journal.revert()
			if snapshotter != nil {
				snapshotter.RevertToSnapshot(snapshot)
			}
			p.logger.Info("lending call rejected", "op", op, "kind", KindOf(*errp), "error", *errp)
			p.observer.OperationCompleted(op, string(KindOf(*errp)))
			return
		}
		p.journal.reset()
		if snapshotter != nil {
			snapshotter.Commit()
		}
		p.observer.OperationCompleted(op, "ok")
	}, nil
}

// reserveFor loads a reserve for mutation and accrues it to the block time.
func (p *Pool) reserveFor(asset common.Address) (*Reserve, error) {
	if r, ok := p.reserves[asset]; !ok || !r.initialised() {
		return nil, fmt.Errorf("%w: %s", ErrStaleConfiguration, asset.Hex())
	}
	r := p.touchReserve(asset)
	minted, err := accrue(r, p.blockTime, p.params.AccrualMode)
	if err != nil {
		return nil, err
	}
	if !minted.IsZero() {
		key := balanceKey{asset: asset, holder: p.roles.Treasury}
		balance, err := wadray.Add(p.scaledSupply(key), minted)
		if err != nil {
			return nil, err
		}
		p.setSupply(key, balance)
	}
	return r, nil
}

// refreshRates recomputes rates after a balance change and publishes the
// indexes.
func (p *Pool) refreshRates(r *Reserve) error {
	if err := updateRates(r); err != nil {
		return err
	}
	p.observer.ReserveIndexes(r.Asset.Hex(), rayToFloat(r.LiquidityIndex), rayToFloat(r.BorrowIndex))
	return nil
}

func (p *Pool) scaledSupply(key balanceKey) *uint256.Int {
	if bal, ok := p.supply[key]; ok {
		return bal
	}
	return new(uint256.Int)
}

func rayToFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v.ToBig()), new(big.Float).SetInt(wadray.RAY.ToBig())).Float64()
	return f
}

// Deposit supplies amount of asset on behalf of onBehalfOf, pulling the funds
// from caller.
func (p *Pool) Deposit(caller, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) (err error) {
	finish, err := p.begin("deposit")
	if err != nil {
		return err
	}
	defer finish(&err)

	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	if err := p.checkReserve(asset, false); err != nil {
		return err
	}
	r, err := p.reserveFor(asset)
	if err != nil {
		return err
	}
	scaled, err := mintScaledSupply(r, amount)
	if err != nil {
		return err
	}
	key := balanceKey{asset: asset, holder: onBehalfOf}
	balance, err := wadray.Add(p.scaledSupply(key), scaled)
	if err != nil {
		return err
	}
	p.setSupply(key, balance)
	if r.AvailableLiquidity, err = wadray.Add(r.AvailableLiquidity, amount); err != nil {
		return err
	}
	if err := p.refreshRates(r); err != nil {
		return err
	}
	p.queueERC20(asset, caller, p.address, amount)
	p.logger.Debug("deposit", "asset", asset.Hex(), "user", onBehalfOf.Hex(), "amount", amount.Dec())
	return nil
}

// Withdraw redeems caller's supply of asset and sends the funds to to. An
// amount of MaxUint256 withdraws the whole balance.
func (p *Pool) Withdraw(caller, asset common.Address, amount *uint256.Int, to common.Address) (withdrawn *uint256.Int, err error) {
	finish, err := p.begin("withdraw")
	if err != nil {
		return nil, err
	}
	defer finish(&err)

	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	r, ok := p.reserves[asset]
	if !ok || !r.initialised() {
		return nil, fmt.Errorf("%w: %s", ErrStaleConfiguration, asset.Hex())
	}
	if !r.Active {
		return nil, ErrAssetInactive
	}
	if r, err = p.reserveFor(asset); err != nil {
		return nil, err
	}

	key := balanceKey{asset: asset, holder: caller}
	scaledBalance := p.scaledSupply(key)
	balance, err := wadray.RayMul(scaledBalance, r.LiquidityIndex)
	if err != nil {
		return nil, err
	}
	full := amount.Eq(maxUint256) || amount.Eq(balance)
	if full {
		amount = balance
	}
	if amount.IsZero() || amount.Gt(balance) {
		return nil, ErrInsufficientBalance
	}
	if amount.Gt(r.AvailableLiquidity) {
		return nil, ErrInsufficientLiquidity
	}

	burned := scaledBalance
	if full {
		r.TotalScaledSupply = subFloor(r.TotalScaledSupply, scaledBalance)
	} else if burned, err = burnScaledSupply(r, amount, scaledBalance); err != nil {
		return nil, err
	}
	p.setSupply(key, subFloor(scaledBalance, burned))
	r.AvailableLiquidity = new(uint256.Int).Sub(r.AvailableLiquidity, amount)
	if err := p.refreshRates(r); err != nil {
		return nil, err
	}
	p.queueERC20(asset, p.address, to, amount)
	p.logger.Debug("withdraw", "asset", asset.Hex(), "user", caller.Hex(), "amount", amount.Dec())
	return amount.Clone(), nil
}

var maxUint256 = new(uint256.Int).SetAllOne()

// checkReserve applies the activity flags for deposits and borrows.
func (p *Pool) checkReserve(asset common.Address, borrowing bool) error {
	r, ok := p.reserves[asset]
	if !ok || !r.initialised() {
		return fmt.Errorf("%w: %s", ErrStaleConfiguration, asset.Hex())
	}
	if !r.Active {
		return ErrAssetInactive
	}
	if r.Frozen {
		return ErrAssetFrozen
	}
	if borrowing && !r.BorrowingEnabled {
		return ErrBorrowingDisabled
	}
	return nil
}

func (p *Pool) checkNft(collection common.Address) (*NftConfig, error) {
	cfg, ok := p.nfts[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNftNotConfigured, collection.Hex())
	}
	if !cfg.Active {
		return nil, ErrAssetInactive
	}
	if cfg.Frozen {
		return nil, ErrAssetFrozen
	}
	return cfg, nil
}
