package state

import (
	"errors"
	"math/big"

	"sharemarket/native/token"
)

// maxCommitAttempts bounds the re-runs of a token operation whose commit lost
// a race against a concurrent trade or transfer.
const maxCommitAttempts = 32

// TokenService executes settlement token operations, each inside its own
// atomic transaction.
type TokenService struct {
	mgr *Manager
}

// NewTokenService binds the token ledger to a manager.
func NewTokenService(mgr *Manager) *TokenService {
	return &TokenService{mgr: mgr}
}

func (s *TokenService) withTxn(fn func(*token.Ledger) error) error {
	for attempt := 1; ; attempt++ {
		err := s.commitOnce(fn)
		if errors.Is(err, ErrConflict) && attempt < maxCommitAttempts {
			continue
		}
		return err
	}
}

func (s *TokenService) commitOnce(fn func(*token.Ledger) error) error {
	txn := s.mgr.Begin()
	defer txn.Discard()
	if err := fn(token.NewLedger(txn)); err != nil {
		return err
	}
	return txn.Commit()
}

// BalanceOf returns the current settlement balance of an account.
func (s *TokenService) BalanceOf(addr [20]byte) (*big.Int, error) {
	return token.NewLedger(s.mgr).BalanceOf(addr)
}

// Allowance returns the spender's remaining allowance over the owner's funds.
func (s *TokenService) Allowance(owner, spender [20]byte) (*big.Int, error) {
	return token.NewLedger(s.mgr).Allowance(owner, spender)
}

// Approve sets the spender's allowance over the owner's balance.
func (s *TokenService) Approve(owner, spender [20]byte, amount *big.Int) error {
	return s.withTxn(func(l *token.Ledger) error {
		return l.Approve(owner, spender, amount)
	})
}

// Transfer moves funds between two accounts.
func (s *TokenService) Transfer(from, to [20]byte, amount *big.Int) error {
	return s.withTxn(func(l *token.Ledger) error {
		return l.Transfer(from, to, amount)
	})
}

// Mint credits freshly issued tokens, used for genesis allocations.
func (s *TokenService) Mint(to [20]byte, amount *big.Int) error {
	return s.withTxn(func(l *token.Ledger) error {
		return l.Mint(to, amount)
	})
}
