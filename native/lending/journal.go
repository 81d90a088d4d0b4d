package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// journal records undo closures for every ledger record touched during a
// call. Records are captured once per call, before their first mutation.
type journal struct {
	entries []func()
	seen    map[any]struct{}
}

type (
	reserveEntry common.Address
	nftEntry     common.Address
	supplyEntry  balanceKey
	loanEntry    uint64
	activeEntry  collateralKey
	counterEntry struct{}
	listEntry    string
)

func (j *journal) record(key any, capture func() func()) {
	if j.seen == nil {
		j.seen = make(map[any]struct{})
	}
	if _, ok := j.seen[key]; ok {
		return
	}
	j.seen[key] = struct{}{}
	j.entries = append(j.entries, capture())
}

// revert replays the undo log newest first and clears it.
func (j *journal) revert() {
	for i := len(j.entries) - 1; i >= 0; i-- {
		j.entries[i]()
	}
	j.reset()
}

func (j *journal) reset() {
	j.entries = j.entries[:0]
	clear(j.seen)
}

func (p *Pool) touchReserve(asset common.Address) *Reserve {
	p.journal.record(reserveEntry(asset), func() func() {
		prev, ok := p.reserves[asset]
		prev = prev.Clone()
		return func() {
			if ok {
				p.reserves[asset] = prev
			} else {
				delete(p.reserves, asset)
			}
		}
	})
	return p.reserves[asset]
}

func (p *Pool) touchNft(asset common.Address) *NftConfig {
	p.journal.record(nftEntry(asset), func() func() {
		prev, ok := p.nfts[asset]
		prev = prev.Clone()
		return func() {
			if ok {
				p.nfts[asset] = prev
			} else {
				delete(p.nfts, asset)
			}
		}
	})
	return p.nfts[asset]
}

func (p *Pool) touchLoan(id uint64) *Loan {
	p.journal.record(loanEntry(id), func() func() {
		prev, ok := p.loans[id]
		prev = prev.Clone()
		return func() {
			if ok {
				p.loans[id] = prev
			} else {
				delete(p.loans, id)
			}
		}
	})
	return p.loans[id]
}

func (p *Pool) setSupply(key balanceKey, scaled *uint256.Int) {
	p.journal.record(supplyEntry(key), func() func() {
		prev, ok := p.supply[key]
		return func() {
			if ok {
				p.supply[key] = prev
			} else {
				delete(p.supply, key)
			}
		}
	})
	if scaled.IsZero() {
		delete(p.supply, key)
		return
	}
	p.supply[key] = scaled
}

func (p *Pool) setActiveLoan(key collateralKey, id uint64) {
	p.journal.record(activeEntry(key), func() func() {
		prev, ok := p.activeLoans[key]
		return func() {
			if ok {
				p.activeLoans[key] = prev
			} else {
				delete(p.activeLoans, key)
			}
		}
	})
	if id == 0 {
		delete(p.activeLoans, key)
		return
	}
	p.activeLoans[key] = id
}

func (p *Pool) allocLoanID() uint64 {
	p.journal.record(counterEntry{}, func() func() {
		prev := p.nextLoanID
		return func() { p.nextLoanID = prev }
	})
	id := p.nextLoanID
	p.nextLoanID++
	return id
}

func (p *Pool) appendReserveList(asset common.Address) {
	p.journal.record(listEntry("reserves"), func() func() {
		n := len(p.reserveList)
		return func() { p.reserveList = p.reserveList[:n] }
	})
	p.reserveList = append(p.reserveList, asset)
}

func (p *Pool) appendNftList(asset common.Address) {
	p.journal.record(listEntry("nfts"), func() func() {
		n := len(p.nftList)
		return func() { p.nftList = p.nftList[:n] }
	})
	p.nftList = append(p.nftList, asset)
}
