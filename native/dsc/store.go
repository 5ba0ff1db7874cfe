package dsc

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"dscengine/storage"
)

var (
	collateralPrefix      = []byte("dsc/collateral/")
	debtPrefix            = []byte("dsc/debt/")
	totalDebtKey          = []byte("dsc/total/debt")
	totalCollateralPrefix = []byte("dsc/total/collateral/")
)

func collateralKey(account, asset common.Address) []byte {
	key := make([]byte, 0, len(collateralPrefix)+2*common.AddressLength)
	key = append(key, collateralPrefix...)
	key = append(key, account.Bytes()...)
	return append(key, asset.Bytes()...)
}

func debtKey(account common.Address) []byte {
	key := make([]byte, 0, len(debtPrefix)+common.AddressLength)
	key = append(key, debtPrefix...)
	return append(key, account.Bytes()...)
}

func totalCollateralKey(asset common.Address) []byte {
	key := make([]byte, 0, len(totalCollateralPrefix)+common.AddressLength)
	key = append(key, totalCollateralPrefix...)
	return append(key, asset.Bytes()...)
}

// stateTx buffers ledger writes on top of the database. Reads observe the
// buffered values first. Nothing reaches the database until commit, so an
// aborted transaction is discarded by dropping it.
type stateTx struct {
	db    storage.Database
	dirty map[string]*big.Int
	order []string
}

func newStateTx(db storage.Database) *stateTx {
	return &stateTx{db: db, dirty: make(map[string]*big.Int)}
}

func (tx *stateTx) get(key []byte) (*big.Int, error) {
	if value, ok := tx.dirty[string(key)]; ok {
		return new(big.Int).Set(value), nil
	}
	raw, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(raw, value); err != nil {
		return nil, fmt.Errorf("decode ledger value: %w", err)
	}
	return value, nil
}

func (tx *stateTx) set(key []byte, value *big.Int) {
	k := string(key)
	if _, ok := tx.dirty[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.dirty[k] = new(big.Int).Set(value)
}

// commit writes the buffered ledger values together with extra in one batch.
func (tx *stateTx) commit(extra ...storage.Write) error {
	if len(tx.order) == 0 && len(extra) == 0 {
		return nil
	}
	writes := make([]storage.Write, 0, len(tx.order)+len(extra))
	for _, k := range tx.order {
		encoded, err := rlp.EncodeToBytes(tx.dirty[k])
		if err != nil {
			return fmt.Errorf("encode ledger value: %w", err)
		}
		writes = append(writes, storage.Write{Key: []byte(k), Value: encoded})
	}
	writes = append(writes, extra...)
	if err := tx.db.WriteBatch(writes); err != nil {
		return fmt.Errorf("commit ledger: %w", err)
	}
	tx.dirty = make(map[string]*big.Int)
	tx.order = nil
	return nil
}

func (tx *stateTx) collateral(account, asset common.Address) (*big.Int, error) {
	return tx.get(collateralKey(account, asset))
}

func (tx *stateTx) debt(account common.Address) (*big.Int, error) {
	return tx.get(debtKey(account))
}

// adjust adds delta (which may be negative) to the value at key. Results
// below zero fail with underflow, results above 256 bits with ErrOverflow.
func (tx *stateTx) adjust(key []byte, delta *big.Int, underflow error) (*big.Int, error) {
	current, err := tx.get(key)
	if err != nil {
		return nil, err
	}
	var next *big.Int
	if delta.Sign() < 0 {
		next, err = subChecked(current, new(big.Int).Neg(delta), underflow)
	} else {
		next, err = addChecked(current, delta)
	}
	if err != nil {
		return nil, err
	}
	tx.set(key, next)
	return next, nil
}

// debtors lists accounts with a non-zero committed debt balance.
func debtors(db storage.Database) ([]common.Address, error) {
	var (
		out     []common.Address
		iterErr error
	)
	err := db.Iterate(debtPrefix, func(key, value []byte) bool {
		amount := new(big.Int)
		if err := rlp.DecodeBytes(value, amount); err != nil {
			iterErr = fmt.Errorf("decode ledger value: %w", err)
			return false
		}
		if amount.Sign() > 0 {
			out = append(out, common.BytesToAddress(key[len(debtPrefix):]))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, iterErr
}
