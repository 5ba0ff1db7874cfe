package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"dscengine/storage"
)

type allowanceKey struct {
	owner, spender common.Address
}

// changeSet tracks entries modified since the last flush.
type changeSet struct {
	supply     bool
	balances   map[common.Address]struct{}
	allowances map[allowanceKey]struct{}
}

func (cs changeSet) empty() bool {
	return !cs.supply && len(cs.balances) == 0 && len(cs.allowances) == 0
}

func newChangeSet() changeSet {
	return changeSet{
		balances:   make(map[common.Address]struct{}),
		allowances: make(map[allowanceKey]struct{}),
	}
}

func (c *Contract) prefix(kind string) []byte {
	return []byte("token/" + c.symbol + "/" + kind)
}

func (c *Contract) supplyKey() []byte { return c.prefix("supply") }

func (c *Contract) balanceKey(account common.Address) []byte {
	return append(c.prefix("balance/"), account.Bytes()...)
}

func (c *Contract) allowanceKey(owner, spender common.Address) []byte {
	key := append(c.prefix("allowance/"), owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

// Bind loads the contract state stored in db and records every later change
// for persistence. restored reports whether db already held state for this
// symbol; callers apply genesis allocations only when it is false.
func (c *Contract) Bind(db storage.Database) (restored bool, err error) {
	if db == nil {
		return false, errors.New("token: nil database")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := db.Get(c.supplyKey())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.db = db
		c.changes = newChangeSet()
		return false, nil
	case err != nil:
		return false, fmt.Errorf("token %s: read supply: %w", c.symbol, err)
	}
	supply, err := decodeAmount(raw)
	if err != nil {
		return false, fmt.Errorf("token %s: %w", c.symbol, err)
	}

	balances := make(map[common.Address]*big.Int)
	prefix := c.prefix("balance/")
	var decodeErr error
	err = db.Iterate(prefix, func(key, value []byte) bool {
		amount, err := decodeAmount(value)
		if err != nil {
			decodeErr = err
			return false
		}
		balances[common.BytesToAddress(key[len(prefix):])] = amount
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return false, fmt.Errorf("token %s: load balances: %w", c.symbol, err)
	}

	allowances := make(map[common.Address]map[common.Address]*big.Int)
	prefix = c.prefix("allowance/")
	err = db.Iterate(prefix, func(key, value []byte) bool {
		amount, err := decodeAmount(value)
		if err != nil {
			decodeErr = err
			return false
		}
		rest := key[len(prefix):]
		if len(rest) != 2*common.AddressLength {
			decodeErr = fmt.Errorf("malformed allowance key %x", key)
			return false
		}
		owner := common.BytesToAddress(rest[:common.AddressLength])
		spender := common.BytesToAddress(rest[common.AddressLength:])
		if allowances[owner] == nil {
			allowances[owner] = make(map[common.Address]*big.Int)
		}
		allowances[owner][spender] = amount
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return false, fmt.Errorf("token %s: load allowances: %w", c.symbol, err)
	}

	c.supply = supply
	c.balances = balances
	c.allowances = allowances
	c.db = db
	c.changes = newChangeSet()
	return true, nil
}

// PendingWrites encodes every entry changed since the previous call and
// clears the change set. An unbound contract has nothing to write.
func (c *Contract) PendingWrites() ([]storage.Write, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingWritesLocked()
}

func (c *Contract) pendingWritesLocked() ([]storage.Write, error) {
	if c.db == nil || c.changes.empty() {
		return nil, nil
	}
	writes := make([]storage.Write, 0, len(c.changes.balances)+len(c.changes.allowances)+1)
	// The supply key marks the symbol as initialised, so it accompanies
	// every flush.
	encoded, err := rlp.EncodeToBytes(c.supply)
	if err != nil {
		return nil, fmt.Errorf("token %s: encode supply: %w", c.symbol, err)
	}
	writes = append(writes, storage.Write{Key: c.supplyKey(), Value: encoded})
	for account := range c.changes.balances {
		encoded, err := rlp.EncodeToBytes(c.balanceLocked(account))
		if err != nil {
			return nil, fmt.Errorf("token %s: encode balance: %w", c.symbol, err)
		}
		writes = append(writes, storage.Write{Key: c.balanceKey(account), Value: encoded})
	}
	for k := range c.changes.allowances {
		encoded, err := rlp.EncodeToBytes(c.allowanceLocked(k.owner, k.spender))
		if err != nil {
			return nil, fmt.Errorf("token %s: encode allowance: %w", c.symbol, err)
		}
		writes = append(writes, storage.Write{Key: c.allowanceKey(k.owner, k.spender), Value: encoded})
	}
	c.changes = newChangeSet()
	return writes, nil
}

// Flush writes pending changes directly. It is used for state modified outside
// an engine operation, such as genesis allocations and approvals.
func (c *Contract) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	changes := c.changes
	writes, err := c.pendingWritesLocked()
	if err != nil || len(writes) == 0 {
		return err
	}
	if err := c.db.WriteBatch(writes); err != nil {
		c.changes = changes
		return fmt.Errorf("token %s: flush: %w", c.symbol, err)
	}
	return nil
}

func (c *Contract) markBalanceLocked(account common.Address) {
	if c.db != nil {
		c.changes.balances[account] = struct{}{}
	}
}

func (c *Contract) markAllowanceLocked(owner, spender common.Address) {
	if c.db != nil {
		c.changes.allowances[allowanceKey{owner, spender}] = struct{}{}
	}
}

func (c *Contract) markSupplyLocked() {
	if c.db != nil {
		c.changes.supply = true
	}
}

func decodeAmount(raw []byte) (*big.Int, error) {
	amount := new(big.Int)
	if err := rlp.DecodeBytes(raw, amount); err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}
	return amount, nil
}
