package session

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tmarkov/bankcore/internal/db"
	"github.com/tmarkov/bankcore/internal/ledger"
	"github.com/tmarkov/bankcore/internal/models"
	"github.com/tmarkov/bankcore/internal/registry"
)

// ATM is the customer terminal session. A single customer authenticates once
// and stays authenticated until the session ends; every operation is scoped
// to that customer's own accounts.
type ATM struct {
	id     string
	store  *db.Store
	roles  *registry.Registry
	ledger *ledger.Ledger

	customerID    int64
	authenticated bool
}

// NewATM creates an unauthenticated ATM session.
func NewATM(store *db.Store, roles *registry.Registry, l *ledger.Ledger) *ATM {
	return &ATM{
		id:     uuid.NewString(),
		store:  store,
		roles:  roles,
		ledger: l,
	}
}

// ID returns the session identifier, used for log correlation.
func (s *ATM) ID() string { return s.id }

// Authenticated reports the session state.
func (s *ATM) Authenticated() bool { return s.authenticated }

// CustomerID returns the logged-in customer's ID, 0 before login.
func (s *ATM) CustomerID() int64 { return s.customerID }

// Login authenticates a customer.
func (s *ATM) Login(ctx context.Context, customerID int64, password string) error {
	if err := verifyCredentials(ctx, s.store, s.roles, customerID, models.RoleCustomer, password); err != nil {
		return err
	}
	s.customerID = customerID
	s.authenticated = true
	log.Printf("atm session %s: customer %d logged in", s.id, customerID)
	return nil
}

// Logout ends the session.
func (s *ATM) Logout() {
	if s.authenticated {
		log.Printf("atm session %s: customer %d logged out", s.id, s.customerID)
	}
	s.customerID = 0
	s.authenticated = false
}

// Accounts lists the customer's accounts.
func (s *ATM) Accounts(ctx context.Context) ([]models.Account, error) {
	if !s.authenticated {
		return nil, ErrNotAuthenticated
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

// Balance reads the balance of one of the customer's accounts.
func (s *ATM) Balance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	if err := s.guardAccount(ctx, accountID); err != nil {
		return decimal.Zero, err
	}
	return s.store.Balance(ctx, accountID)
}

// Deposit adds funds to one of the customer's accounts.
func (s *ATM) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal) error {
	if err := s.guardAccount(ctx, accountID); err != nil {
		return err
	}
	return s.ledger.Deposit(ctx, accountID, amount)
}

// Withdraw removes funds from one of the customer's accounts on the
// customer path: restricted savings accounts refuse it.
func (s *ATM) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal) error {
	if err := s.guardAccount(ctx, accountID); err != nil {
		return err
	}
	return s.ledger.Withdraw(ctx, accountID, amount)
}

// Messages lists the customer's messages.
func (s *ATM) Messages(ctx context.Context) ([]models.Message, error) {
	if !s.authenticated {
		return nil, ErrNotAuthenticated
	}
	return s.store.Messages(ctx, s.customerID)
}

// ViewMessage reads one of the customer's messages and marks it viewed.
func (s *ATM) ViewMessage(ctx context.Context, messageID int64) (string, error) {
	if !s.authenticated {
		return "", ErrNotAuthenticated
	}
	return viewMessage(ctx, s.store, s.customerID, messageID)
}

func (s *ATM) guardAccount(ctx context.Context, accountID int64) error {
	if !s.authenticated {
		return ErrNotAuthenticated
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
