package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeSavings  AccountType = "SAVINGS"
	AccountTypeChecking AccountType = "CHECKING"
)

var (
	ErrInsufficientFunds = fmt.Errorf("insufficient funds")
	// ErrNoOverdraftField reports access to the overdraft limit on an
	// account type that does not carry one.
	ErrNoOverdraftField = fmt.Errorf("account type has no overdraft limit")
)

// Account is a deposit account owned by one authorizer. Balance moves only
// through Debit, which is where the balance invariants live: a savings
// balance never goes negative, a checking balance never passes the
// overdraft floor.
type Account struct {
	Number string
	Type   AccountType

	balance        decimal.Decimal
	overdraftLimit decimal.Decimal
}

// NewAccount opens an account. Only checking accounts accept an overdraft
// limit; a nonzero limit on any other type is rejected.
func NewAccount(number string, typ AccountType, balance, overdraftLimit decimal.Decimal) (*Account, error) {
	if number == "" {
		return nil, fmt.Errorf("account number is required")
	}
	if typ != AccountTypeSavings && typ != AccountTypeChecking {
		return nil, fmt.Errorf("unknown account type: %s", typ)
	}
	if typ != AccountTypeChecking && !overdraftLimit.IsZero() {
		return nil, ErrNoOverdraftField
	}
	if overdraftLimit.Sign() < 0 {
		return nil, fmt.Errorf("overdraft limit must not be negative")
	}
	if typ == AccountTypeSavings && balance.Sign() < 0 {
		return nil, ErrInsufficientFunds
	}
	return &Account{
		Number:         number,
		Type:           typ,
		balance:        balance.Round(2),
		overdraftLimit: overdraftLimit.Round(2),
	}, nil
}

func (a *Account) Balance() decimal.Decimal {
	return a.balance
}

// OverdraftLimit is defined for checking accounts only.
func (a *Account) OverdraftLimit() (decimal.Decimal, error) {
	if a.Type != AccountTypeChecking {
		return decimal.Decimal{}, ErrNoOverdraftField
	}
	return a.overdraftLimit, nil
}

func (a *Account) SetOverdraftLimit(limit decimal.Decimal) error {
	if a.Type != AccountTypeChecking {
		return ErrNoOverdraftField
	}
	if limit.Sign() < 0 {
		return fmt.Errorf("overdraft limit must not be negative")
	}
	a.overdraftLimit = limit.Round(2)
	return nil
}

// Debit withdraws amount from the account, enforcing the balance floor for
// the account type. The resulting balance is kept to 2 decimal places.
func (a *Account) Debit(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("debit amount must be positive")
	}
	newBalance := a.balance.Sub(amount)
	if newBalance.LessThan(a.floor()) {
		return ErrInsufficientFunds
	}
	a.balance = newBalance.Round(2)
	return nil
}

func (a *Account) floor() decimal.Decimal {
	if a.Type == AccountTypeChecking {
		return a.overdraftLimit.Neg()
	}
	return decimal.Zero
}
