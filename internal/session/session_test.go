package session

import (
	"bytes"
	"context"
	"errors"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tmarkov/bankcore/internal/auth"
	"github.com/tmarkov/bankcore/internal/db"
	"github.com/tmarkov/bankcore/internal/ledger"
	"github.com/tmarkov/bankcore/internal/models"
	"github.com/tmarkov/bankcore/internal/registry"
)

type fixture struct {
	store  *db.Store
	roles  *registry.Registry
	types  *registry.Registry
	ledger *ledger.Ledger

	adminID    int64
	tellerID   int64
	customerID int64
}

// Every seeded user shares one password so the bcrypt work happens once per
// fixture, not once per user.
const testPassword = "hunter2"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := db.Open(filepath.Join(t.TempDir(), "bank.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}

	for _, role := range models.KnownRoles() {
		if _, err := store.InsertRole(ctx, string(role)); err != nil {
			t.Fatalf("InsertRole(%s): %v", role, err)
		}
	}
	if _, err := store.InsertAccountType(ctx, string(models.Chequing), decimal.RequireFromString("0.01")); err != nil {
		t.Fatalf("InsertAccountType: %v", err)
	}
	if _, err := store.InsertAccountType(ctx, string(models.RestrictedSaving), decimal.RequireFromString("0.02")); err != nil {
		t.Fatalf("InsertAccountType: %v", err)
	}

	roles := registry.NewRoleRegistry(store)
	types := registry.NewAccountTypeRegistry(store)
	if err := roles.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild roles: %v", err)
	}
	if err := types.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild types: %v", err)
	}

	f := &fixture{
		store:  store,
		roles:  roles,
		types:  types,
		ledger: ledger.New(store, types, roles),
	}

	hash, err := auth.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	f.adminID = f.user(t, "Admin", models.RoleAdmin, hash)
	f.tellerID = f.user(t, "Tim", models.RoleTeller, hash)
	f.customerID = f.user(t, "Ann", models.RoleCustomer, hash)
	return f
}

func (f *fixture) user(t *testing.T, name string, role models.RoleName, hash string) int64 {
	t.Helper()
	id, err := f.ledger.CreateUser(context.Background(), name, 30, "1 Main St", role, hash)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return id
}

func (f *fixture) account(t *testing.T, ownerID int64, balance string) int64 {
	t.Helper()
	typeID := f.types.Resolve(string(models.Chequing))
	id, err := f.ledger.CreateAccount(context.Background(), ownerID, "daily", decimal.RequireFromString(balance), typeID)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return id
}

func TestAdminLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := NewAdmin(f.store, f.roles, f.ledger)

	if _, err := s.TotalBalance(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("pre-login op: err=%v want ErrNotAuthenticated", err)
	}

	// Wrong password, wrong role and unknown user all collapse to the same
	// failure.
	if err := s.Login(ctx, f.adminID, "wrong"); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("wrong password: err=%v want ErrLoginFailed", err)
	}
	if err := s.Login(ctx, f.tellerID, testPassword); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("teller at admin terminal: err=%v want ErrLoginFailed", err)
	}
	if err := s.Login(ctx, 9999, testPassword); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("unknown user: err=%v want ErrLoginFailed", err)
	}
	if s.Authenticated() {
		t.Fatal("failed logins must not authenticate the session")
	}

	if err := s.Login(ctx, f.adminID, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !s.Authenticated() || s.UserID() != f.adminID {
		t.Fatalf("session state: authenticated=%v userID=%d", s.Authenticated(), s.UserID())
	}

	s.Logout()
	if _, err := s.TotalBalance(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("post-logout op: err=%v want ErrNotAuthenticated", err)
	}
}

func TestAdminOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := NewAdmin(f.store, f.roles, f.ledger)
	if err := s.Login(ctx, f.adminID, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}

	id, err := s.CreateUser(ctx, "Ned", 25, "2 Side St", models.RoleTeller, "pw")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.PromoteTeller(ctx, id); err != nil {
		t.Fatalf("PromoteTeller: %v", err)
	}

	admins, err := s.UsersByRole(ctx, models.RoleAdmin)
	if err != nil {
		t.Fatalf("UsersByRole: %v", err)
	}
	if len(admins) != 2 {
		t.Fatalf("got %d admins, want 2", len(admins))
	}

	f.account(t, f.customerID, "40.00")
	f.account(t, f.customerID, "2.50")
	accounts, err := s.CustomerAccounts(ctx, f.customerID)
	if err != nil {
		t.Fatalf("CustomerAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("got %d accounts, want 2", len(accounts))
	}
	total, err := s.TotalBalance(ctx)
	if err != nil {
		t.Fatalf("TotalBalance: %v", err)
	}
	if got := total.StringFixed(2); got != "42.50" {
		t.Fatalf("total=%s want 42.50", got)
	}
}

func TestAdminMessageInspection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := NewAdmin(f.store, f.roles, f.ledger)
	if err := s.Login(ctx, f.adminID, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}

	msgID, err := s.SendMessage(ctx, f.customerID, "please call the branch")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// Inspecting another user's message does not consume it.
	body, err := s.ViewAnyMessage(ctx, msgID)
	if err != nil {
		t.Fatalf("ViewAnyMessage: %v", err)
	}
	if body != "please call the branch" {
		t.Fatalf("body=%q", body)
	}
	m, err := f.store.Message(ctx, msgID)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if m.Viewed {
		t.Fatal("inspection flipped the viewed flag")
	}

	// The admin cannot consume a customer's message as their own.
	if _, err := s.ViewMessage(ctx, msgID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("ViewMessage of foreign message: err=%v want ErrNotFound", err)
	}
}

func TestTellerCustomerStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := NewTeller(f.store, f.roles, f.ledger)

	if err := s.AttachCustomer(ctx, f.customerID); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("attach before login: err=%v want ErrNotAuthenticated", err)
	}
	if err := s.Login(ctx, f.tellerID, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := s.AuthenticateCustomer(ctx, testPassword); !errors.Is(err, ErrNoCustomer) {
		t.Fatalf("authenticate with nobody attached: err=%v want ErrNoCustomer", err)
	}
	if err := s.AttachCustomer(ctx, f.tellerID); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("attach a non-customer: err=%v want ErrValidation", err)
	}
	if err := s.AttachCustomer(ctx, f.customerID); err != nil {
		t.Fatalf("AttachCustomer: %v", err)
	}

	// Attached but not yet authenticated.
	if _, err := s.Accounts(ctx); !errors.Is(err, ErrNoCustomer) {
		t.Fatalf("op before customer auth: err=%v want ErrNoCustomer", err)
	}
	if err := s.AuthenticateCustomer(ctx, "wrong"); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("wrong customer password: err=%v want ErrLoginFailed", err)
	}
	if err := s.AuthenticateCustomer(ctx, testPassword); err != nil {
		t.Fatalf("AuthenticateCustomer: %v", err)
	}
	if _, err := s.Accounts(ctx); err != nil {
		t.Fatalf("Accounts: %v", err)
	}

	// Re-attaching resets customer authentication even for the same user.
	if err := s.AttachCustomer(ctx, f.customerID); err != nil {
		t.Fatalf("AttachCustomer: %v", err)
	}
	if s.CustomerAuthenticated() {
		t.Fatal("re-attach must reset customer authentication")
	}

	s.DetachCustomer()
	if s.CustomerID() != 0 {
		t.Fatal("detach left a customer attached")
	}
}

func TestTellerAccountOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := NewTeller(f.store, f.roles, f.ledger)
	if err := s.Login(ctx, f.tellerID, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := s.AttachCustomer(ctx, f.customerID); err != nil {
		t.Fatalf("AttachCustomer: %v", err)
	}
	if err := s.AuthenticateCustomer(ctx, testPassword); err != nil {
		t.Fatalf("AuthenticateCustomer: %v", err)
	}

	acc, err := s.NewAccount(ctx, "locked", decimal.RequireFromString("500.00"), models.RestrictedSaving)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}

	// The teller path withdraws from restricted savings.
	if err := s.Withdraw(ctx, acc, decimal.RequireFromString("100.00")); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	balance, err := s.Balance(ctx, acc)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got := balance.StringFixed(2); got != "400.00" {
		t.Fatalf("balance=%s want 400.00", got)
	}

	// Another customer's account is invisible to this session.
	stranger := f.user(t, "Eve", models.RoleCustomer, "h")
	other := f.account(t, stranger, "10.00")
	if err := s.Deposit(ctx, other, decimal.RequireFromString("1.00")); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("foreign account: err=%v want ErrInvalidAccount", err)
	}

	if err := s.GiveInterestAll(ctx); err != nil {
		t.Fatalf("GiveInterestAll: %v", err)
	}
	msgs, err := s.CustomerMessages(ctx)
	if err != nil {
		t.Fatalf("CustomerMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 interest notification", len(msgs))
	}
	body, err := s.ViewCustomerMessage(ctx, msgs[0].ID)
	if err != nil {
		t.Fatalf("ViewCustomerMessage: %v", err)
	}
	if body == "" {
		t.Fatal("empty message body")
	}
}

func TestTellerNewCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := NewTeller(f.store, f.roles, f.ledger)
	if err := s.Login(ctx, f.tellerID, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}

	id, err := s.NewCustomer(ctx, "Bob", 40, "3 Back St", "pw")
	if err != nil {
		t.Fatalf("NewCustomer: %v", err)
	}
	if s.CustomerID() != id || !s.CustomerAuthenticated() {
		t.Fatalf("new customer not attached: id=%d auth=%v", s.CustomerID(), s.CustomerAuthenticated())
	}

	if err := s.UpdateCustomer(ctx, "Robert", 41, "4 Front St"); err != nil {
		t.Fatalf("UpdateCustomer: %v", err)
	}
	u, err := f.store.User(ctx, id)
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if u.Name != "Robert" || u.Age != 41 || u.Address != "4 Front St" {
		t.Fatalf("User=%+v", u)
	}
}

func TestTellerLogoutDropsCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := NewTeller(f.store, f.roles, f.ledger)
	if err := s.Login(ctx, f.tellerID, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := s.AttachCustomer(ctx, f.customerID); err != nil {
		t.Fatalf("AttachCustomer: %v", err)
	}

	s.Logout()
	if s.Authenticated() || s.CustomerID() != 0 {
		t.Fatalf("logout left state: authenticated=%v customer=%d", s.Authenticated(), s.CustomerID())
	}
}

func TestATMSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, f.customerID, "100.00")

	s := NewATM(f.store, f.roles, f.ledger)
	if _, err := s.Balance(ctx, acc); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("pre-login balance: err=%v want ErrNotAuthenticated", err)
	}
	if err := s.Login(ctx, f.tellerID, testPassword); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("teller at ATM: err=%v want ErrLoginFailed", err)
	}
	if err := s.Login(ctx, f.customerID, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := s.Deposit(ctx, acc, decimal.RequireFromString("25.00")); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := s.Withdraw(ctx, acc, decimal.RequireFromString("5.00")); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	balance, err := s.Balance(ctx, acc)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got := balance.StringFixed(2); got != "120.00" {
		t.Fatalf("balance=%s want 120.00", got)
	}

	stranger := f.user(t, "Eve", models.RoleCustomer, "h")
	other := f.account(t, stranger, "10.00")
	if _, err := s.Balance(ctx, other); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("foreign account: err=%v want ErrInvalidAccount", err)
	}
}

func TestATMRestrictedWithdrawal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	typeID := f.types.Resolve(string(models.RestrictedSaving))
	acc, err := f.ledger.CreateAccount(ctx, f.customerID, "locked", decimal.RequireFromString("500.00"), typeID)
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	s := NewATM(f.store, f.roles, f.ledger)
	if err := s.Login(ctx, f.customerID, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := s.Withdraw(ctx, acc, decimal.RequireFromString("1.00")); !errors.Is(err, models.ErrRestrictedWithdrawal) {
		t.Fatalf("err=%v want ErrRestrictedWithdrawal", err)
	}
}

func TestLoginLogoutLogsSessionID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(orig) })

	s := NewTeller(f.store, f.roles, f.ledger)
	if err := s.Login(ctx, f.tellerID, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	s.Logout()

	out := buf.String()
	if !strings.Contains(out, s.ID()) {
		t.Fatalf("log output does not carry the session id %s:\n%s", s.ID(), out)
	}
	if !strings.Contains(out, "logged in") || !strings.Contains(out, "logged out") {
		t.Fatalf("log output missing the transitions:\n%s", out)
	}
}

func TestViewMessageFlipsViewed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msgID, err := f.store.InsertMessage(ctx, f.customerID, "welcome")
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	s := NewATM(f.store, f.roles, f.ledger)
	if err := s.Login(ctx, f.customerID, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	body, err := s.ViewMessage(ctx, msgID)
	if err != nil {
		t.Fatalf("ViewMessage: %v", err)
	}
	if body != "welcome" {
		t.Fatalf("body=%q", body)
	}
	m, err := f.store.Message(ctx, msgID)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if !m.Viewed {
		t.Fatal("viewing did not flip the flag")
	}
}
