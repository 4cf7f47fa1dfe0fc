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

// Admin is the administrator terminal session: unauthenticated until a user
// with the ADMIN role logs in, then authenticated until Logout.
type Admin struct {
	id     string
	store  *db.Store
	roles  *registry.Registry
	ledger *ledger.Ledger

	userID        int64
	authenticated bool
}

// NewAdmin creates an unauthenticated admin session.
func NewAdmin(store *db.Store, roles *registry.Registry, l *ledger.Ledger) *Admin {
	return &Admin{
		id:     uuid.NewString(),
		store:  store,
		roles:  roles,
		ledger: l,
	}
}

// ID returns the session identifier, used for log correlation.
func (s *Admin) ID() string { return s.id }

// UserID returns the logged-in admin's user ID, 0 before login.
func (s *Admin) UserID() int64 { return s.userID }

// Authenticated reports the session state.
func (s *Admin) Authenticated() bool { return s.authenticated }

// Login authenticates an administrator.
func (s *Admin) Login(ctx context.Context, userID int64, password string) error {
	if err := verifyCredentials(ctx, s.store, s.roles, userID, models.RoleAdmin, password); err != nil {
		return err
	}
	s.userID = userID
	s.authenticated = true
	log.Printf("admin session %s: user %d logged in", s.id, userID)
	return nil
}

// Logout ends the session.
func (s *Admin) Logout() {
	if s.authenticated {
		log.Printf("admin session %s: user %d logged out", s.id, s.userID)
	}
	s.userID = 0
	s.authenticated = false
}

// AdoptUser rebinds the session to a new user ID after a restore reassigned
// it. The session stays authenticated; the credential was already checked.
func (s *Admin) AdoptUser(userID int64) {
	if s.authenticated {
		s.userID = userID
	}
}

func (s *Admin) require() error {
	if !s.authenticated {
		return ErrNotAuthenticated
	}
	return nil
}

// CreateUser inserts a new user with the given role, hashing the password.
func (s *Admin) CreateUser(ctx context.Context, name string, age int, address string, role models.RoleName, password string) (int64, error) {
	if err := s.require(); err != nil {
		return 0, err
	}
	hash, err := auth.Hash(password)
	if err != nil {
		return 0, err
	}
	return s.ledger.CreateUser(ctx, name, age, address, role, hash)
}

// PromoteTeller promotes a teller to administrator.
func (s *Admin) PromoteTeller(ctx context.Context, tellerID int64) error {
	if err := s.require(); err != nil {
		return err
	}
	return s.ledger.PromoteTeller(ctx, tellerID)
}

// UsersByRole lists every user carrying the given role.
func (s *Admin) UsersByRole(ctx context.Context, role models.RoleName) ([]models.User, error) {
	if err := s.require(); err != nil {
		return nil, err
	}

	roleID := s.roles.Resolve(string(role))
	if roleID == registry.NotFound {
		return nil, fmt.Errorf("role %s: %w", role, models.ErrNotFound)
	}

	ids, err := s.store.UserIDs(ctx)
	if err != nil {
		return nil, err
	}
	var users []models.User
	for _, id := range ids {
		u, err := s.store.User(ctx, id)
		if err != nil {
			return nil, err
		}
		if u.RoleID == roleID {
			users = append(users, *u)
		}
	}
	return users, nil
}

// CustomerAccounts lists a customer's accounts.
func (s *Admin) CustomerAccounts(ctx context.Context, customerID int64) ([]models.Account, error) {
	if err := s.require(); err != nil {
		return nil, err
	}

	ids, err := s.store.UserAccountIDs(ctx, customerID)
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

// TotalBalance reports the sum of every balance in the bank.
func (s *Admin) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	if err := s.require(); err != nil {
		return decimal.Zero, err
	}
	return s.ledger.TotalBalance(ctx)
}

// SendMessage leaves a message for any user.
func (s *Admin) SendMessage(ctx context.Context, recipientID int64, body string) (int64, error) {
	if err := s.require(); err != nil {
		return 0, err
	}
	return s.store.InsertMessage(ctx, recipientID, body)
}

// Messages lists the admin's own messages.
func (s *Admin) Messages(ctx context.Context) ([]models.Message, error) {
	if err := s.require(); err != nil {
		return nil, err
	}
	return s.store.Messages(ctx, s.userID)
}

// ViewMessage reads the admin's own message and marks it viewed.
func (s *Admin) ViewMessage(ctx context.Context, messageID int64) (string, error) {
	if err := s.require(); err != nil {
		return "", err
	}
	return viewMessage(ctx, s.store, s.userID, messageID)
}

// ViewAnyMessage reads any user's message without flipping its viewed flag.
// Administrative inspection, not consumption.
func (s *Admin) ViewAnyMessage(ctx context.Context, messageID int64) (string, error) {
	if err := s.require(); err != nil {
		return "", err
	}
	m, err := s.store.Message(ctx, messageID)
	if err != nil {
		return "", err
	}
	return m.Body, nil
}
