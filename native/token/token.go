// Package token implements an in-process ERC20 ledger with journaled
// snapshots. It backs the collateral assets and the stable asset when the
// engine runs without an external chain, and in tests.
package token

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"dscengine/observability"
	"dscengine/storage"
)

var (
	ErrInsufficientBalance   = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNotOwner              = errors.New("token: caller is not the owner")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrInvalidAmount         = errors.New("token: amount must be more than zero")
)

// Hook observes committed balance movements. It runs after the contract lock
// is released so it may call back into the contract or its users.
type Hook func(kind string, from, to common.Address, amount *big.Int)

type revision struct {
	id           int
	journalIndex int
}

// Contract is an ERC20 style ledger. Mint and Burn are restricted to owner.
type Contract struct {
	mu         sync.Mutex
	symbol     string
	decimals   uint8
	owner      common.Address
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int

	journal   []func()
	revisions []revision
	nextRev   int

	hook Hook

	db      storage.Database
	changes changeSet
}

// New constructs an empty token owned by owner.
func New(symbol string, decimals uint8, owner common.Address) *Contract {
	return &Contract{
		symbol:     symbol,
		decimals:   decimals,
		owner:      owner,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (c *Contract) Symbol() string        { return c.symbol }
func (c *Contract) Decimals() uint8       { return c.decimals }
func (c *Contract) Owner() common.Address { return c.owner }

// SetHook installs a movement observer. Nil removes it.
func (c *Contract) SetHook(h Hook) {
	c.mu.Lock()
	c.hook = h
	c.mu.Unlock()
}

// TransferOwnership hands mint and burn rights to owner.
func (c *Contract) TransferOwnership(owner common.Address) {
	c.mu.Lock()
	c.owner = owner
	c.mu.Unlock()
}

func (c *Contract) BalanceOf(account common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balanceLocked(account))
}

func (c *Contract) Allowance(owner, spender common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.allowanceLocked(owner, spender))
}

func (c *Contract) TotalSupply() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.supply)
}

// Allocate credits a genesis balance without owner checks. It is not
// journaled. Bound contracts persist it on the next Flush.
func (c *Contract) Allocate(account common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] = new(big.Int).Add(c.balanceLocked(account), amount)
	c.supply = new(big.Int).Add(c.supply, amount)
	c.markBalanceLocked(account)
	c.markSupplyLocked()
}

// Session binds the contract to sender, the way a bound contract session fixes
// the transaction signer.
func (c *Contract) Session(sender common.Address) *Session {
	return &Session{contract: c, sender: sender}
}

// Snapshot records a revision the ledger can later be reverted to.
func (c *Contract) Snapshot() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextRev
	c.nextRev++
	c.revisions = append(c.revisions, revision{id: id, journalIndex: len(c.journal)})
	return id
}

// RevertToSnapshot undoes every change made since the revision was taken.
// Unknown revisions are ignored.
func (c *Contract) RevertToSnapshot(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.revisionIndex(id)
	if idx < 0 {
		return
	}
	target := c.revisions[idx].journalIndex
	for i := len(c.journal) - 1; i >= target; i-- {
		c.journal[i]()
	}
	c.journal = c.journal[:target]
	c.revisions = c.revisions[:idx]
}

// ReleaseSnapshot drops a revision that will not be reverted. The journal is
// discarded once no revision remains.
func (c *Contract) ReleaseSnapshot(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.revisionIndex(id)
	if idx < 0 {
		return
	}
	c.revisions = append(c.revisions[:idx], c.revisions[idx+1:]...)
	if len(c.revisions) == 0 {
		c.journal = nil
	}
}

func (c *Contract) revisionIndex(id int) int {
	for i := len(c.revisions) - 1; i >= 0; i-- {
		if c.revisions[i].id == id {
			return i
		}
	}
	return -1
}

func (c *Contract) balanceLocked(account common.Address) *big.Int {
	if bal, ok := c.balances[account]; ok {
		return bal
	}
	return new(big.Int)
}

func (c *Contract) allowanceLocked(owner, spender common.Address) *big.Int {
	if byOwner, ok := c.allowances[owner]; ok {
		if amount, ok := byOwner[spender]; ok {
			return amount
		}
	}
	return new(big.Int)
}

// setBalanceLocked writes a balance and journals the previous value when a
// revision is open.
func (c *Contract) setBalanceLocked(account common.Address, value *big.Int) {
	prev, existed := c.balances[account]
	if len(c.revisions) > 0 {
		c.journal = append(c.journal, func() {
			if existed {
				c.balances[account] = prev
			} else {
				delete(c.balances, account)
			}
		})
	}
	c.balances[account] = value
	c.markBalanceLocked(account)
}

func (c *Contract) setSupplyLocked(value *big.Int) {
	prev := c.supply
	if len(c.revisions) > 0 {
		c.journal = append(c.journal, func() { c.supply = prev })
	}
	c.supply = value
	c.markSupplyLocked()
}

func (c *Contract) setAllowanceLocked(owner, spender common.Address, value *big.Int) {
	byOwner, ok := c.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		c.allowances[owner] = byOwner
	}
	prev, existed := byOwner[spender]
	if len(c.revisions) > 0 {
		c.journal = append(c.journal, func() {
			if existed {
				byOwner[spender] = prev
			} else {
				delete(byOwner, spender)
			}
		})
	}
	byOwner[spender] = value
	c.markAllowanceLocked(owner, spender)
}

func (c *Contract) transferLocked(from, to common.Address, amount *big.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	balance := c.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	c.setBalanceLocked(from, new(big.Int).Sub(balance, amount))
	c.setBalanceLocked(to, new(big.Int).Add(c.balanceLocked(to), amount))
	return nil
}

// move applies fn under the lock and, on success, reports the movement to the
// hook and metrics after unlocking.
func (c *Contract) move(kind string, from, to common.Address, amount *big.Int, fn func() error) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	c.mu.Lock()
	err := fn()
	hook := c.hook
	c.mu.Unlock()
	if err != nil {
		return err
	}
	observability.Tokens().RecordMovement(c.symbol, kind)
	if hook != nil {
		hook(kind, from, to, new(big.Int).Set(amount))
	}
	return nil
}

// Session is a Contract bound to a sender. It satisfies the engine's ERC20
// and StableToken collaborator interfaces.
type Session struct {
	contract *Contract
	sender   common.Address
}

func (s *Session) Contract() *Contract    { return s.contract }
func (s *Session) Sender() common.Address { return s.sender }

// Transfer moves amount from the sender to to.
func (s *Session) Transfer(_ context.Context, to common.Address, amount *big.Int) (bool, error) {
	c := s.contract
	err := c.move("transfer", s.sender, to, amount, func() error {
		return c.transferLocked(s.sender, to, amount)
	})
	return err == nil, err
}

// TransferFrom moves amount from from to to, spending the sender's allowance.
func (s *Session) TransferFrom(_ context.Context, from, to common.Address, amount *big.Int) (bool, error) {
	c := s.contract
	err := c.move("transfer", from, to, amount, func() error {
		allowance := c.allowanceLocked(from, s.sender)
		if allowance.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
		if err := c.transferLocked(from, to, amount); err != nil {
			return err
		}
		c.setAllowanceLocked(from, s.sender, new(big.Int).Sub(allowance, amount))
		return nil
	})
	return err == nil, err
}

// Approve lets spender move up to amount of the sender's balance.
func (s *Session) Approve(spender common.Address, amount *big.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	c := s.contract
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setAllowanceLocked(s.sender, spender, new(big.Int).Set(amount))
	return nil
}

// Mint creates amount for to. Only the owner may mint.
func (s *Session) Mint(_ context.Context, to common.Address, amount *big.Int) (bool, error) {
	c := s.contract
	err := c.move("mint", common.Address{}, to, amount, func() error {
		if s.sender != c.owner {
			return ErrNotOwner
		}
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		if amount.Sign() == 0 {
			return ErrInvalidAmount
		}
		c.setBalanceLocked(to, new(big.Int).Add(c.balanceLocked(to), amount))
		c.setSupplyLocked(new(big.Int).Add(c.supply, amount))
		return nil
	})
	return err == nil, err
}

// Burn destroys amount of the owner's own balance.
func (s *Session) Burn(_ context.Context, amount *big.Int) error {
	c := s.contract
	return c.move("burn", s.sender, common.Address{}, amount, func() error {
		if s.sender != c.owner {
			return ErrNotOwner
		}
		if amount.Sign() == 0 {
			return ErrInvalidAmount
		}
		balance := c.balanceLocked(s.sender)
		if balance.Cmp(amount) < 0 {
			return ErrInsufficientBalance
		}
		c.setBalanceLocked(s.sender, new(big.Int).Sub(balance, amount))
		c.setSupplyLocked(new(big.Int).Sub(c.supply, amount))
		return nil
	})
}

func (s *Session) Snapshot() int           { return s.contract.Snapshot() }
func (s *Session) RevertToSnapshot(id int) { s.contract.RevertToSnapshot(id) }
func (s *Session) ReleaseSnapshot(id int)  { s.contract.ReleaseSnapshot(id) }

// PendingWrites exposes the contract's unflushed state to the engine so it is
// committed in the same batch as the ledger.
func (s *Session) PendingWrites() ([]storage.Write, error) { return s.contract.PendingWrites() }
