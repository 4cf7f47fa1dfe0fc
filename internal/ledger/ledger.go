// Package ledger owns account balance mutation: deposits, withdrawals,
// interest accrual, retyping, and the notification messages those emit.
//
// The ledger does not check account ownership; callers (the session layer)
// verify that the target account belongs to the acting customer before
// invoking it.
package ledger

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/tmarkov/bankcore/internal/db"
	"github.com/tmarkov/bankcore/internal/models"
	"github.com/tmarkov/bankcore/internal/registry"
)

// Ledger handles balance operations over the store.
type Ledger struct {
	store *db.Store
	types *registry.Registry
	roles *registry.Registry
}

// New creates a Ledger over the store and the two registries.
func New(store *db.Store, types, roles *registry.Registry) *Ledger {
	return &Ledger{
		store: store,
		types: types,
		roles: roles,
	}
}

// Deposit adds amount to an account's balance, rounded half-up to two
// decimal places.
func (l *Ledger) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) error {
	if err := checkMutationAmount(amount); err != nil {
		return err
	}

	balance, err := l.store.Balance(ctx, accountID)
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	newBalance := balance.Add(amount).Round(2)
	if err := l.store.UpdateAccountBalance(ctx, newBalance, accountID); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

// Withdraw subtracts amount from an account's balance on the customer path.
// It fails with ErrRestrictedWithdrawal when the account's type forbids
// customer withdrawals, and with ErrInsufficientFunds when the result would
// be negative on a type that forbids owing.
func (l *Ledger) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) error {
	behavior, err := l.behaviorOf(ctx, accountID)
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	if !behavior.CustomerWithdrawals {
		return fmt.Errorf("withdraw from account %d: %w", accountID, models.ErrRestrictedWithdrawal)
	}
	return l.withdraw(ctx, accountID, amount, behavior)
}

// WithdrawUnrestricted is the teller override path: it skips the
// restricted-type check but still enforces funds and the savings downgrade.
func (l *Ledger) WithdrawUnrestricted(ctx context.Context, accountID int64, amount decimal.Decimal) error {
	behavior, err := l.behaviorOf(ctx, accountID)
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	return l.withdraw(ctx, accountID, amount, behavior)
}

func (l *Ledger) withdraw(ctx context.Context, accountID int64, amount decimal.Decimal, behavior models.TypeBehavior) error {
	if err := checkMutationAmount(amount); err != nil {
		return err
	}

	balance, err := l.store.Balance(ctx, accountID)
	if err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}

	newBalance := balance.Sub(amount).Round(2)
	if newBalance.IsNegative() && !behavior.AllowsNegative {
		return fmt.Errorf("withdraw %s from account %d: %w", amount, accountID, models.ErrInsufficientFunds)
	}

	if err := l.store.UpdateAccountBalance(ctx, newBalance, accountID); err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}

	// A savings account falling under its minimum is silently retyped to
	// its downgrade target. No notification on this path.
	if behavior.DowngradesTo != "" && newBalance.LessThan(behavior.MinBalance) {
		targetID := l.types.Resolve(string(behavior.DowngradesTo))
		if targetID == registry.NotFound {
			return fmt.Errorf("downgrade target %s: %w", behavior.DowngradesTo, models.ErrNotFound)
		}
		if err := l.store.UpdateAccountType(ctx, targetID, accountID); err != nil {
			return fmt.Errorf("downgrade account %d: %w", accountID, err)
		}
	}
	return nil
}

// AccrueInterest applies the account type's interest rate to the balance and
// leaves a message for every owner of the account. The balance write and the
// message writes are independent; a failure in between leaves the balance
// updated without notifications.
func (l *Ledger) AccrueInterest(ctx context.Context, accountID int64) error {
	account, err := l.store.Account(ctx, accountID)
	if err != nil {
		return fmt.Errorf("accrue interest: %w", err)
	}
	rate, err := l.store.InterestRate(ctx, account.TypeID)
	if err != nil {
		return fmt.Errorf("accrue interest: %w", err)
	}
	typeName, err := l.store.AccountTypeName(ctx, account.TypeID)
	if err != nil {
		return fmt.Errorf("accrue interest: %w", err)
	}

	interest := account.Balance.Mul(rate)
	newBalance := account.Balance.Add(interest).Round(2)
	if err := l.store.UpdateAccountBalance(ctx, newBalance, accountID); err != nil {
		return fmt.Errorf("accrue interest: %w", err)
	}

	body := fmt.Sprintf("$%s worth of interest has been added to your %s account %s",
		interest.StringFixed(2), typeName, account.Name)
	l.notifyOwners(ctx, accountID, body)
	return nil
}

// Retype changes an account's type. When the type actually changes, every
// owner is notified; retyping to the current type is a silent no-op.
func (l *Ledger) Retype(ctx context.Context, accountID, newTypeID int64) error {
	if !l.types.Contains(newTypeID) {
		return fmt.Errorf("account type %d: %w", newTypeID, models.ErrNotFound)
	}

	account, err := l.store.Account(ctx, accountID)
	if err != nil {
		return fmt.Errorf("retype: %w", err)
	}
	if account.TypeID == newTypeID {
		return nil
	}

	if err := l.store.UpdateAccountType(ctx, newTypeID, accountID); err != nil {
		return fmt.Errorf("retype: %w", err)
	}

	typeName, err := l.store.AccountTypeName(ctx, newTypeID)
	if err != nil {
		return fmt.Errorf("retype: %w", err)
	}
	body := fmt.Sprintf("Your account %s is now a %s account", account.Name, typeName)
	l.notifyOwners(ctx, accountID, body)
	return nil
}

// CreateAccount inserts an account and links it to its owner. Opening
// balances must respect the type's minimum and may only be negative on
// owing types.
func (l *Ledger) CreateAccount(ctx context.Context, ownerID int64, name string, balance decimal.Decimal, typeID int64) (int64, error) {
	if !l.types.Contains(typeID) {
		return 0, fmt.Errorf("account type %d: %w", typeID, models.ErrNotFound)
	}
	typeName, err := l.store.AccountTypeName(ctx, typeID)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	behavior, ok := models.BehaviorOf(models.AccountTypeName(typeName))
	if !ok {
		return 0, fmt.Errorf("unknown account type %s: %w", typeName, models.ErrNotFound)
	}

	if err := checkAmount(balance); err != nil {
		return 0, err
	}
	if balance.IsNegative() {
		if !behavior.AllowsNegative {
			return 0, fmt.Errorf("opening balance %s must not be negative: %w", balance, models.ErrValidation)
		}
	} else if balance.LessThan(behavior.MinBalance) {
		return 0, fmt.Errorf("%s accounts require a minimum opening balance of %s: %w",
			typeName, behavior.MinBalance.StringFixed(2), models.ErrValidation)
	}

	accountID, err := l.store.InsertAccount(ctx, name, balance, typeID)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	if err := l.store.InsertUserAccount(ctx, ownerID, accountID); err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	return accountID, nil
}

// CreateUser inserts a user with an already-hashed credential.
func (l *Ledger) CreateUser(ctx context.Context, name string, age int, address string, role models.RoleName, passwordHash string) (int64, error) {
	roleID := l.roles.Resolve(string(role))
	if roleID == registry.NotFound {
		return 0, fmt.Errorf("role %s: %w", role, models.ErrNotFound)
	}

	userID, err := l.store.InsertUser(ctx, name, age, address, roleID, passwordHash)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return userID, nil
}

// ResolveType resolves an account type's symbolic name to its store ID,
// returning registry.NotFound for unknown names.
func (l *Ledger) ResolveType(name models.AccountTypeName) int64 {
	return l.types.Resolve(string(name))
}

// PromoteTeller changes a teller's role to administrator.
func (l *Ledger) PromoteTeller(ctx context.Context, tellerID int64) error {
	roleID, err := l.userRole(ctx, tellerID)
	if err != nil {
		return fmt.Errorf("promote teller: %w", err)
	}
	if roleID != l.roles.Resolve(string(models.RoleTeller)) {
		return fmt.Errorf("user %d is not a teller: %w", tellerID, models.ErrValidation)
	}

	adminID := l.roles.Resolve(string(models.RoleAdmin))
	if adminID == registry.NotFound {
		return fmt.Errorf("role %s: %w", models.RoleAdmin, models.ErrNotFound)
	}
	if err := l.store.UpdateUserRole(ctx, adminID, tellerID); err != nil {
		return fmt.Errorf("promote teller: %w", err)
	}
	return nil
}

// TotalBalance sums the balances of every account in the store.
func (l *Ledger) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	ids, err := l.store.AccountIDs(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("total balance: %w", err)
	}

	total := decimal.Zero
	for _, id := range ids {
		balance, err := l.store.Balance(ctx, id)
		if err != nil {
			return decimal.Zero, fmt.Errorf("total balance: %w", err)
		}
		total = total.Add(balance)
	}
	return total, nil
}

// Owners returns the IDs of every user holding the account. This scans all
// users and their account sets; fine at this system's scale.
func (l *Ledger) Owners(ctx context.Context, accountID int64) ([]int64, error) {
	userIDs, err := l.store.UserIDs(ctx)
	if err != nil {
		return nil, err
	}

	var owners []int64
	for _, userID := range userIDs {
		accountIDs, err := l.store.UserAccountIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, id := range accountIDs {
			if id == accountID {
				owners = append(owners, userID)
				break
			}
		}
	}
	return owners, nil
}

// notifyOwners leaves body as a message for every owner of the account.
// Failures here must not abort the balance mutation that already happened,
// so they are logged and swallowed.
func (l *Ledger) notifyOwners(ctx context.Context, accountID int64, body string) {
	owners, err := l.Owners(ctx, accountID)
	if err != nil {
		log.Printf("failed to enumerate owners of account %d: %v", accountID, err)
		return
	}
	for _, userID := range owners {
		if _, err := l.store.InsertMessage(ctx, userID, body); err != nil {
			log.Printf("failed to notify user %d about account %d: %v", userID, accountID, err)
		}
	}
}

func (l *Ledger) behaviorOf(ctx context.Context, accountID int64) (models.TypeBehavior, error) {
	typeID, err := l.store.AccountTypeOf(ctx, accountID)
	if err != nil {
		return models.TypeBehavior{}, err
	}
	typeName, err := l.store.AccountTypeName(ctx, typeID)
	if err != nil {
		return models.TypeBehavior{}, err
	}
	behavior, ok := models.BehaviorOf(models.AccountTypeName(typeName))
	if !ok {
		return models.TypeBehavior{}, fmt.Errorf("unknown account type %s: %w", typeName, models.ErrNotFound)
	}
	return behavior, nil
}

func (l *Ledger) userRole(ctx context.Context, userID int64) (int64, error) {
	user, err := l.store.User(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.RoleID, nil
}

// checkAmount rejects amounts carrying more than two fractional digits.
func checkAmount(amount decimal.Decimal) error {
	if amount.Exponent() < -2 {
		return fmt.Errorf("amount %s has more than 2 decimal places: %w", amount, models.ErrValidation)
	}
	return nil
}

// checkMutationAmount additionally requires deposit/withdrawal amounts to be
// positive.
func checkMutationAmount(amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount %s must be positive: %w", amount, models.ErrValidation)
	}
	return nil
}
