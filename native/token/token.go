package token

import (
	"errors"
	"math/big"
)

var (
	ErrNilStore              = errors.New("token ledger: storage not configured")
	ErrInvalidAmount         = errors.New("token ledger: amount must be positive")
	ErrInsufficientBalance   = errors.New("token ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("token ledger: insufficient allowance")
)

// Decimals is the precision of the settlement token. The market's pricing
// constants assume 18 decimals.
const Decimals = 18

// Storage abstracts the subset of state manager functionality required by the
// token ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	balancePrefix   = []byte("token/balance/")
	allowancePrefix = []byte("token/allowance/")
)

func balanceKey(addr [20]byte) []byte {
	return append(append([]byte{}, balancePrefix...), addr[:]...)
}

func allowanceKey(owner, spender [20]byte) []byte {
	key := append(append([]byte{}, allowancePrefix...), owner[:]...)
	return append(key, spender[:]...)
}

type storedAmount struct {
	Amount *big.Int
}

// Ledger keeps fungible settlement balances and allowances in the underlying
// key-value store. It is the concrete collaborator behind the market's
// settlement boundary.
type Ledger struct {
	store Storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) readAmount(key []byte) (*big.Int, error) {
	var stored storedAmount
	ok, err := l.store.KVGet(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok || stored.Amount == nil {
		return big.NewInt(0), nil
	}
	return stored.Amount, nil
}

func (l *Ledger) writeAmount(key []byte, amount *big.Int) error {
	return l.store.KVPut(key, storedAmount{Amount: amount})
}

// BalanceOf returns the current balance of the account.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, ErrNilStore
	}
	return l.readAmount(balanceKey(addr))
}

// Allowance returns how much the spender may draw from the owner's balance.
func (l *Ledger) Allowance(owner, spender [20]byte) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, ErrNilStore
	}
	return l.readAmount(allowanceKey(owner, spender))
}

// Mint credits freshly issued tokens to the account. Used for genesis
// allocations; there is no burn.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilStore
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.readAmount(balanceKey(to))
	if err != nil {
		return err
	}
	return l.writeAmount(balanceKey(to), new(big.Int).Add(balance, amount))
}

// Approve sets the spender's allowance over the owner's balance.
func (l *Ledger) Approve(owner, spender [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilStore
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.writeAmount(allowanceKey(owner, spender), new(big.Int).Set(amount))
}

// Transfer moves funds the sender already holds.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilStore
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromBalance, err := l.readAmount(balanceKey(from))
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	// A self-transfer is a no-op once the balance check has passed.
	if from == to {
		return nil
	}
	toBalance, err := l.readAmount(balanceKey(to))
	if err != nil {
		return err
	}
	if err := l.writeAmount(balanceKey(from), new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.writeAmount(balanceKey(to), new(big.Int).Add(toBalance, amount))
}

// TransferFrom moves funds from the owner to the recipient on behalf of the
// spender, consuming the spender's allowance.
func (l *Ledger) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return ErrNilStore
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowance, err := l.readAmount(allowanceKey(from, spender))
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.Transfer(from, to, amount); err != nil {
		return err
	}
	return l.writeAmount(allowanceKey(from, spender), new(big.Int).Sub(allowance, amount))
}
