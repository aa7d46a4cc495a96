package ledger

import (
	"math/big"

	"github.com/google/uuid"

	fpmath "SynthLedger/internal/math"
)

type undoEntry struct {
	collateral *AccountKey // nil when the entry restores debt
	user       uuid.UUID
	prev       *big.Int
	prevTotal  *big.Int
}

// Txn is an open mutation against the book. Begin takes the book's write
// lock and holds it until Commit or Rollback, so concurrent readers only
// ever observe committed state. Each write records the prior value so
// Rollback can restore the book exactly; Commit discards the undo log.
// A Txn is single-goroutine and must end in exactly one of the two, or the
// book stays locked.
type Txn struct {
	book *Book
	undo []undoEntry
	done bool
}

// Begin opens a transaction, locking the book against readers until the
// transaction ends.
func (b *Book) Begin() *Txn {
	b.mu.Lock()
	return &Txn{book: b}
}

func (t *Txn) recordCollateral(key AccountKey) {
	t.undo = append(t.undo, undoEntry{
		collateral: &key,
		prev:       fpmath.Clone(t.book.collateral[key]),
	})
}

func (t *Txn) recordDebt(user uuid.UUID) {
	t.undo = append(t.undo, undoEntry{
		user:      user,
		prev:      fpmath.Clone(t.book.debt[user]),
		prevTotal: fpmath.Clone(t.book.totalDebt),
	})
}

// Collateral returns the in-progress balance for user in asset, including
// this transaction's uncommitted writes.
func (t *Txn) Collateral(user uuid.UUID, asset string) *big.Int {
	return fpmath.Clone(t.book.collateral[AccountKey{User: user, Asset: asset}])
}

// Debt returns the in-progress debt recorded against user.
func (t *Txn) Debt(user uuid.UUID) *big.Int {
	return fpmath.Clone(t.book.debt[user])
}

// AddCollateral credits amount to the user's balance in asset.
func (t *Txn) AddCollateral(user uuid.UUID, asset string, amount *big.Int) {
	key := AccountKey{User: user, Asset: asset}
	t.recordCollateral(key)
	t.book.collateral[key] = new(big.Int).Add(fpmath.Clone(t.book.collateral[key]), amount)
}

// SubCollateral debits amount from the user's balance in asset. It fails with
// InsufficientCollateralError when the balance would go negative, leaving the
// book untouched.
func (t *Txn) SubCollateral(user uuid.UUID, asset string, amount *big.Int) error {
	key := AccountKey{User: user, Asset: asset}
	have := t.book.collateral[key]
	if have == nil || have.Cmp(amount) < 0 {
		return &InsufficientCollateralError{
			Account:   key,
			Have:      fpmath.Clone(have),
			Requested: fpmath.Clone(amount),
		}
	}
	t.recordCollateral(key)
	t.book.collateral[key] = new(big.Int).Sub(have, amount)
	return nil
}

// AddDebt records amount of new synthetic debt against user.
func (t *Txn) AddDebt(user uuid.UUID, amount *big.Int) {
	t.recordDebt(user)
	t.book.debt[user] = new(big.Int).Add(fpmath.Clone(t.book.debt[user]), amount)
	t.book.totalDebt = new(big.Int).Add(t.book.totalDebt, amount)
}

// SubDebt reduces the user's recorded debt by amount. It fails with
// InsufficientDebtError when the debt would go negative.
func (t *Txn) SubDebt(user uuid.UUID, amount *big.Int) error {
	have := t.book.debt[user]
	if have == nil || have.Cmp(amount) < 0 {
		return &InsufficientDebtError{
			User:      user,
			Have:      fpmath.Clone(have),
			Requested: fpmath.Clone(amount),
		}
	}
	t.recordDebt(user)
	t.book.debt[user] = new(big.Int).Sub(have, amount)
	t.book.totalDebt = new(big.Int).Sub(t.book.totalDebt, amount)
	return nil
}

// Commit finalizes the transaction, keeping all writes and releasing the
// book to readers.
func (t *Txn) Commit() {
	if t.done {
		return
	}
	t.done = true
	t.undo = nil
	t.book.mu.Unlock()
}

// Rollback restores every value the transaction wrote, newest first, then
// releases the book.
func (t *Txn) Rollback() {
	if t.done {
		return
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		e := t.undo[i]
		if e.collateral != nil {
			if e.prev.Sign() == 0 {
				delete(t.book.collateral, *e.collateral)
			} else {
				t.book.collateral[*e.collateral] = e.prev
			}
			continue
		}
		if e.prev.Sign() == 0 {
			delete(t.book.debt, e.user)
		} else {
			t.book.debt[e.user] = e.prev
		}
		t.book.totalDebt = e.prevTotal
	}
	t.undo = nil
	t.book.mu.Unlock()
}
