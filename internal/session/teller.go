package session

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tmarkov/bankcore/internal/auth"
	"github.com/tmarkov/bankcore/internal/db"
	"github.com/tmarkov/bankcore/internal/ledger"
	"github.com/tmarkov/bankcore/internal/models"
	"github.com/tmarkov/bankcore/internal/registry"
)

// Teller is the teller terminal session. The teller authenticates first;
// account operations additionally require an attached, separately
// authenticated customer. Attaching a different customer resets the
// customer's authentication.
type Teller struct {
	id     string
	store  *db.Store
	roles  *registry.Registry
	ledger *ledger.Ledger

	tellerID      int64
	authenticated bool

	customerID            int64
	customerAuthenticated bool
}

// NewTeller creates an unauthenticated teller session.
func NewTeller(store *db.Store, roles *registry.Registry, l *ledger.Ledger) *Teller {
	return &Teller{
		id:     uuid.NewString(),
		store:  store,
		roles:  roles,
		ledger: l,
	}
}

// ID returns the session identifier, used for log correlation.
func (s *Teller) ID() string { return s.id }

// Authenticated reports whether the teller has logged in.
func (s *Teller) Authenticated() bool { return s.authenticated }

// CustomerID returns the attached customer's ID, 0 when none is attached.
func (s *Teller) CustomerID() int64 { return s.customerID }

// CustomerAuthenticated reports whether the attached customer has
// authenticated.
func (s *Teller) CustomerAuthenticated() bool { return s.customerAuthenticated }

// Login authenticates the teller.
func (s *Teller) Login(ctx context.Context, tellerID int64, password string) error {
	if err := verifyCredentials(ctx, s.store, s.roles, tellerID, models.RoleTeller, password); err != nil {
		return err
	}
	s.tellerID = tellerID
	s.authenticated = true
	log.Printf("teller session %s: teller %d logged in", s.id, tellerID)
	return nil
}

// Logout ends the session, dropping any attached customer.
func (s *Teller) Logout() {
	if s.authenticated {
		log.Printf("teller session %s: teller %d logged out", s.id, s.tellerID)
	}
	s.tellerID = 0
	s.authenticated = false
	s.DetachCustomer()
}

// AttachCustomer binds a customer to the session. The customer starts
// unauthenticated; re-attaching always resets authentication.
func (s *Teller) AttachCustomer(ctx context.Context, customerID int64) error {
	if !s.authenticated {
		return ErrNotAuthenticated
	}

	user, err := s.store.User(ctx, customerID)
	if err != nil {
		return err
	}
	if user.RoleID != s.roles.Resolve(string(models.RoleCustomer)) {
		return fmt.Errorf("user %d is not a customer: %w", customerID, models.ErrValidation)
	}

	s.customerID = customerID
	s.customerAuthenticated = false
	return nil
}

// AuthenticateCustomer checks the attached customer's password.
func (s *Teller) AuthenticateCustomer(ctx context.Context, password string) error {
	if !s.authenticated {
		return ErrNotAuthenticated
	}
	if s.customerID == 0 {
		return ErrNoCustomer
	}

	hash, err := s.store.PasswordHash(ctx, s.customerID)
	if err != nil {
		return err
	}
	if !auth.Verify(hash, password) {
		return ErrLoginFailed
	}
	s.customerAuthenticated = true
	return nil
}

// DetachCustomer drops the attached customer, returning the session to the
// teller-only state.
func (s *Teller) DetachCustomer() {
	s.customerID = 0
	s.customerAuthenticated = false
}

func (s *Teller) requireCustomer() error {
	if !s.authenticated {
		return ErrNotAuthenticated
	}
	if s.customerID == 0 || !s.customerAuthenticated {
		return ErrNoCustomer
	}
	return nil
}

// NewCustomer creates a customer, attaches them and marks them
// authenticated (the teller just set the password).
func (s *Teller) NewCustomer(ctx context.Context, name string, age int, address, password string) (int64, error) {
	if !s.authenticated {
		return 0, ErrNotAuthenticated
	}

	hash, err := auth.Hash(password)
	if err != nil {
		return 0, err
	}
	customerID, err := s.ledger.CreateUser(ctx, name, age, address, models.RoleCustomer, hash)
	if err != nil {
		return 0, err
	}

	s.customerID = customerID
	s.customerAuthenticated = true
	return customerID, nil
}

// NewAccount opens an account of the named type for the attached customer.
func (s *Teller) NewAccount(ctx context.Context, name string, balance decimal.Decimal, typeName models.AccountTypeName) (int64, error) {
	if err := s.requireCustomer(); err != nil {
		return 0, err
	}

	typeID := s.ledger.ResolveType(typeName)
	if typeID == registry.NotFound {
		return 0, fmt.Errorf("account type %s: %w", typeName, models.ErrNotFound)
	}
	return s.ledger.CreateAccount(ctx, s.customerID, name, balance, typeID)
}

// Deposit adds funds to one of the attached customer's accounts.
func (s *Teller) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) error {
	if err := s.guardAccount(ctx, accountID); err != nil {
		return err
	}
	return s.ledger.Deposit(ctx, accountID, amount)
}

// Withdraw removes funds from one of the attached customer's accounts. The
// teller path may withdraw from restricted savings accounts.
func (s *Teller) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) error {
	if err := s.guardAccount(ctx, accountID); err != nil {
		return err
	}
	return s.ledger.WithdrawUnrestricted(ctx, accountID, amount)
}

// GiveInterest accrues interest on one of the attached customer's accounts.
func (s *Teller) GiveInterest(ctx context.Context, accountID int64) error {
	if err := s.guardAccount(ctx, accountID); err != nil {
		return err
	}
	return s.ledger.AccrueInterest(ctx, accountID)
}

// GiveInterestAll accrues interest on every account of the attached
// customer.
func (s *Teller) GiveInterestAll(ctx context.Context) error {
	if err := s.requireCustomer(); err != nil {
		return err
	}

	ids, err := s.store.UserAccountIDs(ctx, s.customerID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.ledger.AccrueInterest(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Balance reads the balance of one of the attached customer's accounts.
func (s *Teller) Balance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	if err := s.guardAccount(ctx, accountID); err != nil {
		return decimal.Zero, err
	}
	return s.store.Balance(ctx, accountID)
}

// Accounts lists the attached customer's accounts.
func (s *Teller) Accounts(ctx context.Context) ([]models.Account, error) {
	if err := s.requireCustomer(); err != nil {
		return nil, err
	}

	ids, err := s.store.UserAccountIDs(ctx, s.customerID)
	if err != nil {
		return nil, err
	}
	var accounts []models.Account
	for _, id := range ids {
		a, err := s.store.Account(ctx, id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, nil
}

// UpdateCustomer rewrites the attached customer's personal details.
func (s *Teller) UpdateCustomer(ctx context.Context, name string, age int, address string) error {
	if err := s.requireCustomer(); err != nil {
		return err
	}
	if err := s.store.UpdateUserName(ctx, name, s.customerID); err != nil {
		return err
	}
	if err := s.store.UpdateUserAge(ctx, age, s.customerID); err != nil {
		return err
	}
	return s.store.UpdateUserAddress(ctx, address, s.customerID)
}

// LeaveMessage leaves a message for the attached customer.
func (s *Teller) LeaveMessage(ctx context.Context, body string) (int64, error) {
	if err := s.requireCustomer(); err != nil {
		return 0, err
	}
	return s.store.InsertMessage(ctx, s.customerID, body)
}

// Messages lists the teller's own messages.
func (s *Teller) Messages(ctx context.Context) ([]models.Message, error) {
	if !s.authenticated {
		return nil, ErrNotAuthenticated
	}
	return s.store.Messages(ctx, s.tellerID)
}

// ViewMessage reads one of the teller's own messages and marks it viewed.
func (s *Teller) ViewMessage(ctx context.Context, messageID int64) (string, error) {
	if !s.authenticated {
		return "", ErrNotAuthenticated
	}
	return viewMessage(ctx, s.store, s.tellerID, messageID)
}

// CustomerMessages lists the attached customer's messages.
func (s *Teller) CustomerMessages(ctx context.Context) ([]models.Message, error) {
	if err := s.requireCustomer(); err != nil {
		return nil, err
	}
	return s.store.Messages(ctx, s.customerID)
}

// ViewCustomerMessage reads one of the attached customer's messages and
// marks it viewed.
func (s *Teller) ViewCustomerMessage(ctx context.Context, messageID int64) (string, error) {
	if err := s.requireCustomer(); err != nil {
		return "", err
	}
	return viewMessage(ctx, s.store, s.customerID, messageID)
}

// guardAccount enforces the full teller+customer auth state and the
// customer's ownership of the account.
func (s *Teller) guardAccount(ctx context.Context, accountID int64) error {
	if err := s.requireCustomer(); err != nil {
		return err
	}
	owns, err := ownsAccount(ctx, s.store, s.customerID, accountID)
	if err != nil {
		return err
	}
	if !owns {
		return fmt.Errorf("account %d: %w", accountID, ErrInvalidAccount)
	}
	return nil
}
