// Package ledger maintains the in-memory balance book: collateral deposited
// per user per asset and synthetic debt owed per user. All amounts are
// big.Int in the asset's native precision (wad for debt).
package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"

	fpmath "SynthLedger/internal/math"
)

// AccountKey identifies one collateral balance slot.
type AccountKey struct {
	User  uuid.UUID
	Asset string
}

// AccountPath returns the string form used in storage and logs.
func (k AccountKey) AccountPath() string {
	return fmt.Sprintf("user:%s:collateral:%s", k.User, k.Asset)
}

// InsufficientCollateralError reports a withdrawal larger than the deposited
// balance.
type InsufficientCollateralError struct {
	Account   AccountKey
	Have      *big.Int
	Requested *big.Int
}

func (e *InsufficientCollateralError) Error() string {
	return fmt.Sprintf("ledger: insufficient collateral in %s: have %s, requested %s",
		e.Account.AccountPath(), e.Have, e.Requested)
}

// InsufficientDebtError reports a debt reduction larger than the recorded
// debt.
type InsufficientDebtError struct {
	User      uuid.UUID
	Have      *big.Int
	Requested *big.Int
}

func (e *InsufficientDebtError) Error() string {
	return fmt.Sprintf("ledger: insufficient debt for user %s: have %s, requested %s",
		e.User, e.Have, e.Requested)
}

// Book tracks collateral and debt balances. Mutations go through a Txn,
// which holds the write lock from Begin to Commit or Rollback; read methods
// take the read lock and therefore only ever see committed state.
type Book struct {
	mu         sync.RWMutex
	collateral map[AccountKey]*big.Int
	debt       map[uuid.UUID]*big.Int
	totalDebt  *big.Int
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{
		collateral: make(map[AccountKey]*big.Int),
		debt:       make(map[uuid.UUID]*big.Int),
		totalDebt:  new(big.Int),
	}
}

// Collateral returns the deposited balance for user in asset.
func (b *Book) Collateral(user uuid.UUID, asset string) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fpmath.Clone(b.collateral[AccountKey{User: user, Asset: asset}])
}

// Debt returns the synthetic debt recorded against user.
func (b *Book) Debt(user uuid.UUID) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fpmath.Clone(b.debt[user])
}

// TotalDebt returns the sum of all recorded debt.
func (b *Book) TotalDebt() *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fpmath.Clone(b.totalDebt)
}

// CollateralBalances returns a copy of every non-zero collateral balance held
// by user.
func (b *Book) CollateralBalances(user uuid.UUID) map[string]*big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]*big.Int)
	for key, bal := range b.collateral {
		if key.User == user && bal.Sign() > 0 {
			out[key.Asset] = fpmath.Clone(bal)
		}
	}
	return out
}

// Snapshot returns a copy of all balances, for invariant checks and tests.
func (b *Book) Snapshot() (map[AccountKey]*big.Int, map[uuid.UUID]*big.Int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	coll := make(map[AccountKey]*big.Int, len(b.collateral))
	for k, v := range b.collateral {
		coll[k] = fpmath.Clone(v)
	}
	debt := make(map[uuid.UUID]*big.Int, len(b.debt))
	for u, v := range b.debt {
		debt[u] = fpmath.Clone(v)
	}
	return coll, debt
}
