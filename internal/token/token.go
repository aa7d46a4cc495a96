// Package token defines the external asset collaborators the engine moves
// value through, plus an in-memory implementation used in tests and local
// runs.
package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

// TransferFailedError reports a transfer the token refused or could not
// complete.
type TransferFailedError struct {
	Token  string
	From   uuid.UUID
	To     uuid.UUID
	Amount *big.Int
	Reason string
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("token %s: transfer %s from %s to %s failed: %s",
		e.Token, e.Amount, e.From, e.To, e.Reason)
}

// NotOwnerError reports a mint or burn attempted by a caller other than the
// token's owner.
type NotOwnerError struct {
	Token  string
	Caller uuid.UUID
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("token %s: caller %s is not the owner", e.Token, e.Caller)
}

// CollateralAsset is an external token the engine pulls deposits from and
// pushes redemptions to. Implementations may fail any call; the engine treats
// a failure as the whole operation failing.
type CollateralAsset interface {
	Symbol() string
	BalanceOf(ctx context.Context, holder uuid.UUID) (*big.Int, error)
	// Transfer moves the caller's own funds.
	Transfer(ctx context.Context, caller, to uuid.UUID, amount *big.Int) error
	// TransferFrom spends an allowance from granted to spender.
	TransferFrom(ctx context.Context, spender, from, to uuid.UUID, amount *big.Int) error
}

// SyntheticAsset is the engine-owned debt token. Only the owner may mint or
// burn; burn destroys tokens the owner itself holds, so the engine pulls
// tokens from the payer before burning.
type SyntheticAsset interface {
	CollateralAsset
	Mint(ctx context.Context, caller, to uuid.UUID, amount *big.Int) error
	Burn(ctx context.Context, caller uuid.UUID, amount *big.Int) error
	TotalSupply(ctx context.Context) (*big.Int, error)
}

type allowanceKey struct {
	owner   uuid.UUID
	spender uuid.UUID
}

// Token is an in-memory fungible token with allowances and owner-restricted
// mint and burn. It implements both asset interfaces.
type Token struct {
	symbol string
	owner  uuid.UUID

	mu         sync.Mutex
	balances   map[uuid.UUID]*big.Int
	allowances map[allowanceKey]*big.Int
	supply     *big.Int
}

// New returns an empty token owned by owner.
func New(symbol string, owner uuid.UUID) *Token {
	return &Token{
		symbol:     symbol,
		owner:      owner,
		balances:   make(map[uuid.UUID]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		supply:     new(big.Int),
	}
}

func (t *Token) Symbol() string { return t.symbol }

func (t *Token) BalanceOf(ctx context.Context, holder uuid.UUID) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balances[holder]
	if bal == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(bal), nil
}

func (t *Token) TotalSupply(ctx context.Context) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.supply), nil
}

// Approve lets spender move up to amount of owner's balance via TransferFrom.
func (t *Token) Approve(ctx context.Context, owner, spender uuid.UUID, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[allowanceKey{owner: owner, spender: spender}] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns what spender may still move on owner's behalf.
func (t *Token) Allowance(ctx context.Context, owner, spender uuid.UUID) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.allowances[allowanceKey{owner: owner, spender: spender}]
	if a == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(a), nil
}

func (t *Token) Transfer(ctx context.Context, caller, to uuid.UUID, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(caller, to, amount)
}

func (t *Token) TransferFrom(ctx context.Context, spender, from, to uuid.UUID, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := allowanceKey{owner: from, spender: spender}
	allowed := t.allowances[key]
	if from != spender {
		if allowed == nil || allowed.Cmp(amount) < 0 {
			return &TransferFailedError{
				Token: t.symbol, From: from, To: to,
				Amount: new(big.Int).Set(amount), Reason: "insufficient allowance",
			}
		}
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	if from != spender {
		t.allowances[key] = new(big.Int).Sub(allowed, amount)
	}
	return nil
}

// move is the unguarded balance update; callers hold t.mu.
func (t *Token) move(from, to uuid.UUID, amount *big.Int) error {
	have := t.balances[from]
	if have == nil || have.Cmp(amount) < 0 {
		return &TransferFailedError{
			Token: t.symbol, From: from, To: to,
			Amount: new(big.Int).Set(amount), Reason: "insufficient balance",
		}
	}
	t.balances[from] = new(big.Int).Sub(have, amount)
	t.balances[to] = new(big.Int).Add(t.balanceLocked(to), amount)
	return nil
}

// balanceLocked reads a balance treating absent as zero; callers hold t.mu.
func (t *Token) balanceLocked(holder uuid.UUID) *big.Int {
	if bal := t.balances[holder]; bal != nil {
		return bal
	}
	return new(big.Int)
}

// Mint creates amount new units for to. Owner only.
func (t *Token) Mint(ctx context.Context, caller, to uuid.UUID, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if caller != t.owner {
		return &NotOwnerError{Token: t.symbol, Caller: caller}
	}
	t.balances[to] = new(big.Int).Add(t.balanceLocked(to), amount)
	t.supply = new(big.Int).Add(t.supply, amount)
	return nil
}

// Burn destroys amount units held by the owner. Owner only.
func (t *Token) Burn(ctx context.Context, caller uuid.UUID, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if caller != t.owner {
		return &NotOwnerError{Token: t.symbol, Caller: caller}
	}
	have := t.balances[caller]
	if have == nil || have.Cmp(amount) < 0 {
		return &TransferFailedError{
			Token: t.symbol, From: caller, To: uuid.Nil,
			Amount: new(big.Int).Set(amount), Reason: "burn exceeds held balance",
		}
	}
	t.balances[caller] = new(big.Int).Sub(have, amount)
	t.supply = new(big.Int).Sub(t.supply, amount)
	return nil
}
