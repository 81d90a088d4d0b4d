package lending

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TokenCustody moves the underlying assets. The pool calls it only after the
// ledger has been updated, and any error aborts the whole call.
type TokenCustody interface {
	TransferERC20(asset, from, to common.Address, amount *uint256.Int) error
	TransferNFT(collection, from, to common.Address, tokenID *big.Int) error
}

// Snapshotter is implemented by custodies able to undo transfers made during
// a failed call.
type Snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Commit()
}

var (
	errVaultInsufficientBalance = errors.New("vault: insufficient balance")
	errVaultNotOwner            = errors.New("vault: sender does not own token")
	errVaultTokenExists         = errors.New("vault: token already minted")
)

// Transfer describes a completed movement reported to the vault hook.
type Transfer struct {
	NFT     bool
	Asset   common.Address
	From    common.Address
	To      common.Address
	Amount  *uint256.Int
	TokenID *big.Int
}

// Vault is an in-memory TokenCustody holding fungible balances and NFT
// ownership.
type Vault struct {
	mu       sync.Mutex
	balances map[balanceKey]*uint256.Int
	owners   map[collateralKey]common.Address
	undo     []func()
	hook     func(Transfer) error
}

// NewVault returns an empty vault.
func NewVault() *Vault {
	return &Vault{
		balances: make(map[balanceKey]*uint256.Int),
		owners:   make(map[collateralKey]common.Address),
	}
}

// SetHook installs a callback invoked after each transfer, modelling the
// receiver callbacks of real token contracts. A hook error reverts that
// transfer and is returned to the caller.
func (v *Vault) SetHook(hook func(Transfer) error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hook = hook
}

// Mint credits amount of asset to holder.
func (v *Vault) Mint(asset, holder common.Address, amount *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.credit(balanceKey{asset: asset, holder: holder}, amount)
}

// MintNFT assigns a fresh token to owner.
func (v *Vault) MintNFT(collection, owner common.Address, tokenID *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := newCollateralKey(collection, tokenID)
	if _, ok := v.owners[key]; ok {
		return errVaultTokenExists
	}
	v.setOwner(key, owner)
	return nil
}

// BalanceOf returns the holder's balance of asset.
func (v *Vault) BalanceOf(asset, holder common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if bal, ok := v.balances[balanceKey{asset: asset, holder: holder}]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// OwnerOf returns the owner of a token.
func (v *Vault) OwnerOf(collection common.Address, tokenID *big.Int) (common.Address, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	owner, ok := v.owners[newCollateralKey(collection, tokenID)]
	return owner, ok
}

// NFTCounts returns how many tokens of each collection holder owns.
func (v *Vault) NFTCounts(holder common.Address) map[common.Address]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	counts := make(map[common.Address]int)
	for key, owner := range v.owners {
		if owner == holder {
			counts[key.collection]++
		}
	}
	return counts
}

// TransferERC20 implements TokenCustody.
func (v *Vault) TransferERC20(asset, from, to common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	mark := len(v.undo)
	fromKey := balanceKey{asset: asset, holder: from}
	bal := v.balances[fromKey]
	if bal == nil || bal.Lt(amount) {
		v.mu.Unlock()
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", errVaultInsufficientBalance,
			from.Hex(), balanceString(bal), asset.Hex(), amount.Dec())
	}
	v.setBalance(fromKey, new(uint256.Int).Sub(bal, amount))
	v.credit(balanceKey{asset: asset, holder: to}, amount)
	hook := v.hook
	v.mu.Unlock()

	return v.notify(hook, mark, Transfer{Asset: asset, From: from, To: to, Amount: amount.Clone()})
}

// TransferNFT implements TokenCustody.
func (v *Vault) TransferNFT(collection, from, to common.Address, tokenID *big.Int) error {
	v.mu.Lock()
	mark := len(v.undo)
	key := newCollateralKey(collection, tokenID)
	if owner, ok := v.owners[key]; !ok || owner != from {
		v.mu.Unlock()
		return fmt.Errorf("%w: %s #%s", errVaultNotOwner, collection.Hex(), tokenID)
	}
	v.setOwner(key, to)
	hook := v.hook
	v.mu.Unlock()

	return v.notify(hook, mark, Transfer{NFT: true, Asset: collection, From: from, To: to, TokenID: new(big.Int).Set(tokenID)})
}

// notify runs the hook without holding the vault lock so that it may call
// back into the pool or the vault.
func (v *Vault) notify(hook func(Transfer) error, mark int, t Transfer) error {
	if hook == nil {
		return nil
	}
	if err := hook(t); err != nil {
		v.RevertToSnapshot(mark)
		return err
	}
	return nil
}

// Snapshot implements Snapshotter.
func (v *Vault) Snapshot() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.undo)
}

// RevertToSnapshot undoes every change made after the snapshot was taken.
func (v *Vault) RevertToSnapshot(id int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := len(v.undo) - 1; i >= id; i-- {
		v.undo[i]()
	}
	if id < len(v.undo) {
		v.undo = v.undo[:id]
	}
}

// Commit drops the undo log.
func (v *Vault) Commit() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.undo = v.undo[:0]
}

func (v *Vault) credit(key balanceKey, amount *uint256.Int) {
	next := new(uint256.Int).Set(amount)
	if bal, ok := v.balances[key]; ok {
		next.Add(next, bal)
	}
	v.setBalance(key, next)
}

func (v *Vault) setBalance(key balanceKey, amount *uint256.Int) {
	prev, ok := v.balances[key]
	v.undo = append(v.undo, func() {
		if ok {
			v.balances[key] = prev
		} else {
			delete(v.balances, key)
		}
	})
	v.balances[key] = amount
}

func (v *Vault) setOwner(key collateralKey, owner common.Address) {
	prev, ok := v.owners[key]
	v.undo = append(v.undo, func() {
		if ok {
			v.owners[key] = prev
		} else {
			delete(v.owners, key)
		}
	})
	v.owners[key] = owner
}

func balanceString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
