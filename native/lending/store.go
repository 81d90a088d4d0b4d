package lending

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/rates"
	"github.com/BendDAO/bend-lending-protocol-sub001/storage"
)

var (
	rootPrefix    = []byte("lending/")
	metaKey       = []byte("lending/meta")
	reservePrefix = []byte("lending/reserve/")
	nftPrefix     = []byte("lending/nft/")
	loanPrefix    = []byte("lending/loan/")

	errStoreNotInitialised = errors.New("lending store not initialised")
	errPoolNotEmpty        = errors.New("lending: restore target already holds state")
)

type metaRecord struct {
	NextLoanID uint64
	BlockTime  uint64
	Paused     bool
	Reserves   []common.Address
	Nfts       []common.Address
	Supply     []supplyRecord
}

type supplyRecord struct {
	Asset  common.Address
	Holder common.Address
	Scaled *uint256.Int
}

type reserveRecord struct {
	Asset               common.Address
	Decimals            uint8
	ID                  uint64
	TotalScaledSupply   *uint256.Int
	TotalScaledDebt     *uint256.Int
	AvailableLiquidity  *uint256.Int
	AccruedToTreasury   *uint256.Int
	LiquidityIndex      *uint256.Int
	BorrowIndex         *uint256.Int
	LiquidityRate       *uint256.Int
	BorrowRate          *uint256.Int
	LastUpdateTimestamp uint64
	ReserveFactorBps    uint64
	OptimalUtilization  *uint256.Int
	BaseBorrowRate      *uint256.Int
	Slope1              *uint256.Int
	Slope2              *uint256.Int
	Active              bool
	Frozen              bool
	BorrowingEnabled    bool
}

func newReserveRecord(r *Reserve) reserveRecord {
	return reserveRecord{
		Asset:               r.Asset,
		Decimals:            r.Decimals,
		ID:                  r.ID,
		TotalScaledSupply:   r.TotalScaledSupply,
		TotalScaledDebt:     r.TotalScaledDebt,
		AvailableLiquidity:  r.AvailableLiquidity,
		AccruedToTreasury:   r.AccruedToTreasury,
		LiquidityIndex:      r.LiquidityIndex,
		BorrowIndex:         r.BorrowIndex,
		LiquidityRate:       r.LiquidityRate,
		BorrowRate:          r.BorrowRate,
		LastUpdateTimestamp: r.LastUpdateTimestamp,
		ReserveFactorBps:    r.ReserveFactorBps,
		OptimalUtilization:  r.RateModel.OptimalUtilization,
		BaseBorrowRate:      r.RateModel.BaseBorrowRate,
		Slope1:              r.RateModel.Slope1,
		Slope2:              r.RateModel.Slope2,
		Active:              r.Active,
		Frozen:              r.Frozen,
		BorrowingEnabled:    r.BorrowingEnabled,
	}
}

func (rec reserveRecord) reserve() (*Reserve, error) {
	model, err := rates.NewModel(rec.OptimalUtilization, rec.BaseBorrowRate, rec.Slope1, rec.Slope2)
	if err != nil {
		return nil, fmt.Errorf("reserve %s: %w", rec.Asset.Hex(), err)
	}
	return &Reserve{
		Asset:               rec.Asset,
		Decimals:            rec.Decimals,
		ID:                  rec.ID,
		TotalScaledSupply:   rec.TotalScaledSupply,
		TotalScaledDebt:     rec.TotalScaledDebt,
		AvailableLiquidity:  rec.AvailableLiquidity,
		AccruedToTreasury:   rec.AccruedToTreasury,
		LiquidityIndex:      rec.LiquidityIndex,
		BorrowIndex:         rec.BorrowIndex,
		LiquidityRate:       rec.LiquidityRate,
		BorrowRate:          rec.BorrowRate,
		LastUpdateTimestamp: rec.LastUpdateTimestamp,
		ReserveFactorBps:    rec.ReserveFactorBps,
		RateModel:           model,
		Active:              rec.Active,
		Frozen:              rec.Frozen,
		BorrowingEnabled:    rec.BorrowingEnabled,
	}, nil
}

// Store snapshots a pool into a key/value database.
type Store struct {
	db   storage.Database
	root common.Hash
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Save writes the full pool state and returns a digest chaining every record
// in write order. Records are never deleted: reserves and collections are
// only deactivated and loans are archived in place.
func (s *Store) Save(p *Pool) (common.Hash, error) {
	if s == nil || s.db == nil {
		return common.Hash{}, errStoreNotInitialised
	}
	if p.lock.Held() {
		return common.Hash{}, ErrReentrantCall
	}
	s.root = common.Hash{}
	meta := metaRecord{
		NextLoanID: p.nextLoanID,
		BlockTime:  p.blockTime,
		Paused:     p.pauseSwitch.IsPaused(moduleName),
		Reserves:   append([]common.Address(nil), p.reserveList...),
		Nfts:       append([]common.Address(nil), p.nftList...),
	}
	for _, asset := range p.reserveList {
		if err := s.put(prefixed(reservePrefix, asset.Bytes()), newReserveRecord(p.reserves[asset])); err != nil {
			return common.Hash{}, err
		}
	}
	for _, asset := range p.nftList {
		if err := s.put(prefixed(nftPrefix, asset.Bytes()), p.nfts[asset]); err != nil {
			return common.Hash{}, err
		}
	}
	for id := uint64(1); id < p.nextLoanID; id++ {
		loan, ok := p.loans[id]
		if !ok {
			continue
		}
		if err := s.put(loanKey(id), loan); err != nil {
			return common.Hash{}, err
		}
	}
	for key, scaled := range p.supply {
		meta.Supply = append(meta.Supply, supplyRecord{Asset: key.asset, Holder: key.holder, Scaled: scaled})
	}
	sort.Slice(meta.Supply, func(i, j int) bool {
		if c := bytes.Compare(meta.Supply[i].Asset[:], meta.Supply[j].Asset[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(meta.Supply[i].Holder[:], meta.Supply[j].Holder[:]) < 0
	})
	if err := s.put(metaKey, meta); err != nil {
		return common.Hash{}, err
	}
	return s.root, nil
}

// Root returns the digest of the last Save.
func (s *Store) Root() common.Hash {
	return s.root
}

// Clear removes every lending record from the database.
func (s *Store) Clear() error {
	if s == nil || s.db == nil {
		return errStoreNotInitialised
	}
	keys, err := s.db.Keys(rootPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.db.Delete(key); err != nil {
			return err
		}
	}
	s.root = common.Hash{}
	return nil
}

// Restore loads a snapshot into an empty pool. It reports false when the
// database holds no snapshot.
func (s *Store) Restore(p *Pool) (bool, error) {
	if s == nil || s.db == nil {
		return false, errStoreNotInitialised
	}
	if len(p.reserves) != 0 || len(p.nfts) != 0 || len(p.loans) != 0 {
		return false, errPoolNotEmpty
	}
	raw, err := s.db.Get(metaKey)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var meta metaRecord
	if err := rlp.DecodeBytes(raw, &meta); err != nil {
		return false, fmt.Errorf("decode lending meta: %w", err)
	}

	for _, asset := range meta.Reserves {
		var rec reserveRecord
		if err := s.get(prefixed(reservePrefix, asset.Bytes()), &rec); err != nil {
			return false, err
		}
		r, err := rec.reserve()
		if err != nil {
			return false, err
		}
		p.reserves[asset] = r
	}
	for _, asset := range meta.Nfts {
		cfg := new(NftConfig)
		if err := s.get(prefixed(nftPrefix, asset.Bytes()), cfg); err != nil {
			return false, err
		}
		p.nfts[asset] = cfg
	}
	loanKeys, err := s.db.Keys(loanPrefix)
	if err != nil {
		return false, err
	}
	for _, key := range loanKeys {
		loan := new(Loan)
		if err := s.get(key, loan); err != nil {
			return false, err
		}
		if loan.ID == 0 || loan.ID >= meta.NextLoanID {
			return false, fmt.Errorf("lending store: loan %d beyond counter %d", loan.ID, meta.NextLoanID)
		}
		id := loan.ID
		p.loans[id] = loan
		if !loan.State.Terminal() {
			p.activeLoans[newCollateralKey(loan.Collection, loan.TokenID)] = id
		}
	}
	for _, rec := range meta.Supply {
		p.supply[balanceKey{asset: rec.Asset, holder: rec.Holder}] = rec.Scaled
	}
	p.reserveList = meta.Reserves
	p.nftList = meta.Nfts
	p.nextLoanID = meta.NextLoanID
	p.blockTime = meta.BlockTime
	p.pauseSwitch.Set(meta.Paused)
	return true, nil
}

func (s *Store) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	if err := s.db.Put(key, encoded); err != nil {
		return err
	}
	s.root = crypto.Keccak256Hash(s.root[:], key, encoded)
	return nil
}

func (s *Store) get(key []byte, out interface{}) error {
	raw, err := s.db.Get(key)
	if err != nil {
		return fmt.Errorf("lending store: missing %q: %w", key, err)
	}
	return rlp.DecodeBytes(raw, out)
}

func prefixed(prefix, suffix []byte) []byte {
	key := make([]byte, len(prefix)+len(suffix))
	copy(key, prefix)
	copy(key[len(prefix):], suffix)
	return key
}

func loanKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return prefixed(loanPrefix, buf[:])
}

var vaultKey = []byte("custody/vault")

type vaultRecord struct {
	Balances []supplyRecord
	Owners   []ownerRecord
}

type ownerRecord struct {
	Collection common.Address
	TokenID    *big.Int
	Owner      common.Address
}

// SaveVault writes the balances and NFT ownership held by v. The daemon
// keeps custody next to the pool snapshot so both restart together.
func (s *Store) SaveVault(v *Vault) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialised
	}
	v.mu.Lock()
	var rec vaultRecord
	for key, amount := range v.balances {
		if amount.IsZero() {
			continue
		}
		rec.Balances = append(rec.Balances, supplyRecord{Asset: key.asset, Holder: key.holder, Scaled: amount.Clone()})
	}
	for key, owner := range v.owners {
		id, ok := new(big.Int).SetString(key.tokenID, 10)
		if !ok {
			v.mu.Unlock()
			return fmt.Errorf("vault: malformed token id %q", key.tokenID)
		}
		rec.Owners = append(rec.Owners, ownerRecord{Collection: key.collection, TokenID: id, Owner: owner})
	}
	v.mu.Unlock()

	sort.Slice(rec.Balances, func(i, j int) bool {
		if c := bytes.Compare(rec.Balances[i].Asset[:], rec.Balances[j].Asset[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(rec.Balances[i].Holder[:], rec.Balances[j].Holder[:]) < 0
	})
	sort.Slice(rec.Owners, func(i, j int) bool {
		if c := bytes.Compare(rec.Owners[i].Collection[:], rec.Owners[j].Collection[:]); c != 0 {
			return c < 0
		}
		return rec.Owners[i].TokenID.Cmp(rec.Owners[j].TokenID) < 0
	})
	encoded, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return err
	}
	return s.db.Put(vaultKey, encoded)
}

// RestoreVault loads custody saved by SaveVault into v, replacing whatever
// it held. It reports false when nothing was saved.
func (s *Store) RestoreVault(v *Vault) (bool, error) {
	if s == nil || s.db == nil {
		return false, errStoreNotInitialised
	}
	raw, err := s.db.Get(vaultKey)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var rec vaultRecord
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return false, fmt.Errorf("decode vault: %w", err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances = make(map[balanceKey]*uint256.Int, len(rec.Balances))
	v.owners = make(map[collateralKey]common.Address, len(rec.Owners))
	v.undo = v.undo[:0]
	for _, b := range rec.Balances {
		v.balances[balanceKey{asset: b.Asset, holder: b.Holder}] = b.Scaled
	}
	for _, o := range rec.Owners {
		v.owners[newCollateralKey(o.Collection, o.TokenID)] = o.Owner
	}
	return true, nil
}
