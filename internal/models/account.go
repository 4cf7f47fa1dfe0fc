package models

import (
	"github.com/shopspring/decimal"
)

// Account represents an account row. Balance always carries exactly two
// fractional digits in the store.
type Account struct {
	ID      int64
	Name    string
	Balance decimal.Decimal
	TypeID  int64
}

// AccountTypeName is the symbolic name of an account type. Like roles,
// account type rows get their numeric IDs from insertion order, so all code
// refers to types by name.
type AccountTypeName string

const (
	Chequing         AccountTypeName = "CHEQUING"
	Saving           AccountTypeName = "SAVING"
	Tfsa             AccountTypeName = "TFSA"
	RestrictedSaving AccountTypeName = "RESTRICTEDSAVING"
	BalanceOwing     AccountTypeName = "BALANCEOWING"
)

// AccountType represents an account type row.
type AccountType struct {
	ID           int64
	Name         string
	InterestRate decimal.Decimal
}

// TypeBehavior carries the per-variant behavior of an account type.
type TypeBehavior struct {
	// MinBalance is the minimum opening balance. Zero when the type has no
	// minimum. A SAVING account whose balance falls below this threshold is
	// downgraded to DowngradesTo on withdrawal.
	MinBalance decimal.Decimal

	// AllowsNegative permits the balance to go below zero.
	AllowsNegative bool

	// CustomerWithdrawals permits withdrawals on the customer path. When
	// false, only the teller path may withdraw.
	CustomerWithdrawals bool

	// DowngradesTo names the type the account is retyped to when its
	// balance drops under MinBalance, or "" when it never downgrades.
	DowngradesTo AccountTypeName
}

var savingMinimum = decimal.RequireFromString("1000.00")

var typeBehaviors = map[AccountTypeName]TypeBehavior{
	Chequing: {CustomerWithdrawals: true},
	Saving: {
		MinBalance:          savingMinimum,
		CustomerWithdrawals: true,
		DowngradesTo:        Chequing,
	},
	Tfsa:             {CustomerWithdrawals: true},
	RestrictedSaving: {},
	BalanceOwing:     {AllowsNegative: true, CustomerWithdrawals: true},
}

// BehaviorOf returns the behavior of a type by symbolic name. The second
// return is false for names outside the closed set.
func BehaviorOf(name AccountTypeName) (TypeBehavior, bool) {
	b, ok := typeBehaviors[name]
	return b, ok
}

// KnownAccountTypes returns the closed set of account types in seeding order.
func KnownAccountTypes() []AccountTypeName {
	return []AccountTypeName{Chequing, Saving, Tfsa, RestrictedSaving, BalanceOwing}
}
