package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tmarkov/bankcore/internal/auth"
	"github.com/tmarkov/bankcore/internal/db"
	"github.com/tmarkov/bankcore/internal/ledger"
	"github.com/tmarkov/bankcore/internal/models"
	"github.com/tmarkov/bankcore/internal/registry"
	"github.com/tmarkov/bankcore/internal/session"
	"github.com/tmarkov/bankcore/internal/snapshot"
)

// app bundles everything a terminal mode needs.
type app struct {
	store    *db.Store
	types    *registry.Registry
	roles    *registry.Registry
	ledger   *ledger.Ledger
	snaps    *snapshot.Manager
	snapPath string
	in       *bufio.Scanner
}

func main() {
	ctx := context.Background()

	// Get environment variables
	dbPath := getEnv("BANK_DB_PATH", "bank.db")
	snapPath := getEnv("BANK_SNAPSHOT_PATH", "bank-snapshot.json")

	log.Println("Opening store...")
	store, err := db.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		log.Fatalf("failed to create schema: %v", err)
	}

	types := registry.NewAccountTypeRegistry(store)
	roles := registry.NewRoleRegistry(store)
	if err := types.Rebuild(ctx); err != nil {
		log.Fatalf("failed to build account type registry: %v", err)
	}
	if err := roles.Rebuild(ctx); err != nil {
		log.Fatalf("failed to build role registry: %v", err)
	}

	a := &app{
		store:    store,
		types:    types,
		roles:    roles,
		ledger:   ledger.New(store, types, roles),
		snapPath: snapPath,
		in:       bufio.NewScanner(os.Stdin),
	}
	a.snaps = snapshot.NewManager(store, types, roles)

	mode := ""
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	switch mode {
	case "init":
		if err := seed(ctx, a); err != nil {
			log.Fatalf("failed to seed store: %v", err)
		}
		log.Println("Store seeded")
	case "admin":
		a.adminMode(ctx)
	default:
		a.mainMenu(ctx)
	}
}

// seed performs first-run initialization: roles, the account types with
// their reference rates, and the initial administrator.
func seed(ctx context.Context, a *app) error {
	for _, role := range models.KnownRoles() {
		if _, err := a.store.InsertRole(ctx, string(role)); err != nil {
			return err
		}
	}

	rates := map[models.AccountTypeName]string{
		models.Chequing:         "0.01",
		models.Saving:           "0.02",
		models.Tfsa:             "0.03",
		models.RestrictedSaving: "0.02",
		models.BalanceOwing:     "0.04",
	}
	for _, t := range models.KnownAccountTypes() {
		rate := decimal.RequireFromString(rates[t])
		if _, err := a.store.InsertAccountType(ctx, string(t), rate); err != nil {
			return err
		}
	}

	if err := a.types.Rebuild(ctx); err != nil {
		return err
	}
	if err := a.roles.Rebuild(ctx); err != nil {
		return err
	}

	hash, err := auth.Hash("admin")
	if err != nil {
		return err
	}
	adminID, err := a.ledger.CreateUser(ctx, "Admin", 19, "123 Admin Street", models.RoleAdmin, hash)
	if err != nil {
		return err
	}
	fmt.Printf("Initial admin created with user ID %d (password: admin)\n", adminID)
	return nil
}

func (a *app) mainMenu(ctx context.Context) {
	for {
		fmt.Println("1 - TELLER Interface")
		fmt.Println("2 - ATM Interface")
		fmt.Println("0 - Exit")
		switch a.readInt("Enter Selection: ") {
		case 1:
			a.tellerMode(ctx)
		case 2:
			a.atmMode(ctx)
		case 0:
			return
		}
	}
}

func (a *app) adminMode(ctx context.Context) {
	s := session.NewAdmin(a.store, a.roles, a.ledger)

	for !s.Authenticated() {
		fmt.Println("ADMIN MODE")
		id := int64(a.readInt("User ID: "))
		pw := a.readLine("Password: ")
		if err := s.Login(ctx, id, pw); err != nil {
			fmt.Println("Login failed")
			continue
		}
	}

	for {
		fmt.Println()
		fmt.Println("Admin Interface")
		fmt.Println("1: Make new Teller")
		fmt.Println("2: Make new Admin")
		fmt.Println("3: View all Admins")
		fmt.Println("4: View all Tellers")
		fmt.Println("5: View all Customers")
		fmt.Println("6: View a customer's accounts")
		fmt.Println("7: View total money in the bank")
		fmt.Println("8: Promote Teller")
		fmt.Println("9: Export snapshot")
		fmt.Println("10: Restore snapshot")
		fmt.Println("11: View any user's message")
		fmt.Println("12: View personal messages")
		fmt.Println("13: Send message")
		fmt.Println("14: Exit")

		switch a.readInt("Selection: ") {
		case 1:
			a.makeUser(ctx, s, models.RoleTeller)
		case 2:
			a.makeUser(ctx, s, models.RoleAdmin)
		case 3:
			a.listUsers(ctx, s, models.RoleAdmin)
		case 4:
			a.listUsers(ctx, s, models.RoleTeller)
		case 5:
			a.listUsers(ctx, s, models.RoleCustomer)
		case 6:
			customerID := int64(a.readInt("Customer ID: "))
			accounts, err := s.CustomerAccounts(ctx, customerID)
			if err != nil {
				fmt.Println(err)
				continue
			}
			printAccounts(accounts)
		case 7:
			total, err := s.TotalBalance(ctx)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("Total money in the bank: $%s\n", total.StringFixed(2))
		case 8:
			tellerID := int64(a.readInt("Teller ID: "))
			if err := s.PromoteTeller(ctx, tellerID); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("Teller promoted to admin")
		case 9:
			a.exportSnapshot(ctx)
		case 10:
			a.restoreSnapshot(ctx, s)
		case 11:
			messageID := int64(a.readInt("Message ID: "))
			body, err := s.ViewAnyMessage(ctx, messageID)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println(body)
		case 12:
			msgs, err := s.Messages(ctx)
			if err != nil {
				fmt.Println(err)
				continue
			}
			printMessages(msgs)
			if len(msgs) > 0 {
				messageID := int64(a.readInt("Message to read (ID, 0 to skip): "))
				if messageID != 0 {
					if body, err := s.ViewMessage(ctx, messageID); err == nil {
						fmt.Println(body)
					} else {
						fmt.Println(err)
					}
				}
			}
		case 13:
			recipientID := int64(a.readInt("Recipient user ID: "))
			body := a.readLine("Message: ")
			if _, err := s.SendMessage(ctx, recipientID, body); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("Message sent")
		case 14:
			return
		}
	}
}

func (a *app) exportSnapshot(ctx context.Context) {
	snap, err := a.snaps.Export(ctx)
	if err != nil {
		fmt.Println("Snapshot export failed:", err)
		return
	}
	if err := snapshot.Save(a.snapPath, snap); err != nil {
		fmt.Println("Snapshot export failed:", err)
		return
	}
	fmt.Println("Snapshot saved to", a.snapPath)
}

func (a *app) restoreSnapshot(ctx context.Context, s *session.Admin) {
	snap, err := snapshot.Load(a.snapPath)
	if err != nil {
		fmt.Println("There is no snapshot to restore from:", err)
		return
	}

	caller, err := a.store.User(ctx, s.UserID())
	if err != nil {
		fmt.Println(err)
		return
	}
	hash, err := a.store.PasswordHash(ctx, s.UserID())
	if err != nil {
		fmt.Println(err)
		return
	}

	if err := a.snaps.Restore(ctx, snap); err != nil {
		fmt.Println("Restore failed, original store kept:", err)
		return
	}
	fmt.Println("Snapshot restored, original overwritten")

	newID, err := a.snaps.ReconcileCaller(ctx, *caller, hash)
	if err != nil {
		fmt.Println("Could not re-add you to the restored store:", err)
		return
	}
	if newID > 0 {
		fmt.Printf("You were not in the restored store and have been re-added; your new user ID is %d\n", newID)
		s.AdoptUser(newID)
	}
}

func (a *app) makeUser(ctx context.Context, s *session.Admin, role models.RoleName) {
	name := a.readLine("Name: ")
	age := a.readInt("Age: ")
	address := a.readLine("Address: ")
	password := a.readLine("Password: ")

	id, err := s.CreateUser(ctx, name, age, address, role, password)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("%s created with user ID %d\n", role, id)
}

func (a *app) listUsers(ctx context.Context, s *session.Admin, role models.RoleName) {
	users, err := s.UsersByRole(ctx, role)
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, u := range users {
		fmt.Printf("%d: %s (age %d, %s)\n", u.ID, u.Name, u.Age, u.Address)
	}
}

func (a *app) tellerMode(ctx context.Context) {
	s := session.NewTeller(a.store, a.roles, a.ledger)

	tellerID := int64(a.readInt("Teller ID: "))
	pw := a.readLine("Password: ")
	if err := s.Login(ctx, tellerID, pw); err != nil {
		fmt.Println("Login failed")
		return
	}

	for {
		fmt.Println()
		if s.CustomerAuthenticated() {
			fmt.Printf("Current customer ID: %d\n", s.CustomerID())
		}
		fmt.Println("TELLER INTERFACE")
		fmt.Println("1: Authenticate customer")
		fmt.Println("2: Make new customer")
		fmt.Println("3: Make new account")
		fmt.Println("4: Give interest")
		fmt.Println("5: Make a deposit")
		fmt.Println("6: Make a withdrawal")
		fmt.Println("7: Check balance")
		fmt.Println("8: List accounts")
		fmt.Println("9: Update customer information")
		fmt.Println("10: Close customer session")
		fmt.Println("11: View my messages")
		fmt.Println("12: View customer's messages")
		fmt.Println("13: Leave message for customer")
		fmt.Println("14: Exit")

		switch a.readInt("Selection: ") {
		case 1:
			customerID := int64(a.readInt("Customer ID: "))
			if err := s.AttachCustomer(ctx, customerID); err != nil {
				fmt.Println(err)
				continue
			}
			pw := a.readLine("Customer password: ")
			if err := s.AuthenticateCustomer(ctx, pw); err != nil {
				fmt.Println("Customer authentication failed")
			}
		case 2:
			name := a.readLine("Name: ")
			age := a.readInt("Age: ")
			address := a.readLine("Address: ")
			password := a.readLine("Password: ")
			id, err := s.NewCustomer(ctx, name, age, address, password)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("Customer created with user ID %d\n", id)
		case 3:
			name := a.readLine("Account name: ")
			balance := a.readAmount("Opening balance: ")
			fmt.Println("Types:", models.KnownAccountTypes())
			typeName := models.AccountTypeName(strings.ToUpper(a.readLine("Type: ")))
			id, err := s.NewAccount(ctx, name, balance, typeName)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("Account created with ID %d\n", id)
		case 4:
			fmt.Println("1: One account")
			fmt.Println("2: All accounts")
			if a.readInt("Apply interest to: ") == 1 {
				accountID := int64(a.readInt("Account ID: "))
				if err := s.GiveInterest(ctx, accountID); err != nil {
					fmt.Println(err)
				}
			} else if err := s.GiveInterestAll(ctx); err != nil {
				fmt.Println(err)
			}
		case 5:
			accountID := int64(a.readInt("Account ID: "))
			amount := a.readAmount("Amount to deposit: ")
			if err := s.Deposit(ctx, accountID, amount); err != nil {
				fmt.Println(err)
				continue
			}
			a.printBalance(ctx, accountID)
		case 6:
			accountID := int64(a.readInt("Account ID: "))
			amount := a.readAmount("Amount to withdraw: ")
			if err := s.Withdraw(ctx, accountID, amount); err != nil {
				fmt.Println(err)
				continue
			}
			a.printBalance(ctx, accountID)
		case 7:
			accountID := int64(a.readInt("Account ID: "))
			balance, err := s.Balance(ctx, accountID)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("Balance: $%s\n", balance.StringFixed(2))
		case 8:
			accounts, err := s.Accounts(ctx)
			if err != nil {
				fmt.Println(err)
				continue
			}
			printAccounts(accounts)
		case 9:
			name := a.readLine("Name: ")
			age := a.readInt("Age: ")
			address := a.readLine("Address: ")
			if err := s.UpdateCustomer(ctx, name, age, address); err != nil {
				fmt.Println(err)
			}
		case 10:
			s.DetachCustomer()
		case 11:
			msgs, err := s.Messages(ctx)
			if err != nil {
				fmt.Println(err)
				continue
			}
			printMessages(msgs)
		case 12:
			msgs, err := s.CustomerMessages(ctx)
			if err != nil {
				fmt.Println(err)
				continue
			}
			printMessages(msgs)
			if len(msgs) > 0 {
				messageID := int64(a.readInt("Message to read (ID, 0 to skip): "))
				if messageID != 0 {
					if body, err := s.ViewCustomerMessage(ctx, messageID); err == nil {
						fmt.Println(body)
					} else {
						fmt.Println(err)
					}
				}
			}
		case 13:
			body := a.readLine("Message: ")
			if _, err := s.LeaveMessage(ctx, body); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("Message left")
		case 14:
			return
		}
	}
}

func (a *app) atmMode(ctx context.Context) {
	s := session.NewATM(a.store, a.roles, a.ledger)

	customerID := int64(a.readInt("Customer ID: "))
	pw := a.readLine("Password: ")
	if err := s.Login(ctx, customerID, pw); err != nil {
		fmt.Println("Login failed")
		return
	}

	for {
		fmt.Println()
		fmt.Println("ATM INTERFACE")
		fmt.Println("1: List accounts")
		fmt.Println("2: Check balance")
		fmt.Println("3: Make a deposit")
		fmt.Println("4: Make a withdrawal")
		fmt.Println("5: View messages")
		fmt.Println("6: Exit")

		switch a.readInt("Selection: ") {
		case 1:
			accounts, err := s.Accounts(ctx)
			if err != nil {
				fmt.Println(err)
				continue
			}
			printAccounts(accounts)
		case 2:
			accountID := int64(a.readInt("Account ID: "))
			balance, err := s.Balance(ctx, accountID)
			if err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("Balance: $%s\n", balance.StringFixed(2))
		case 3:
			accountID := int64(a.readInt("Account ID: "))
			amount := a.readAmount("Amount to deposit: ")
			if err := s.Deposit(ctx, accountID, amount); err != nil {
				fmt.Println(err)
				continue
			}
			a.printBalance(ctx, accountID)
		case 4:
			accountID := int64(a.readInt("Account ID: "))
			amount := a.readAmount("Amount to withdraw: ")
			if err := s.Withdraw(ctx, accountID, amount); err != nil {
				fmt.Println(err)
				continue
			}
			a.printBalance(ctx, accountID)
		case 5:
			msgs, err := s.Messages(ctx)
			if err != nil {
				fmt.Println(err)
				continue
			}
			printMessages(msgs)
			if len(msgs) > 0 {
				messageID := int64(a.readInt("Message to read (ID, 0 to skip): "))
				if messageID != 0 {
					if body, err := s.ViewMessage(ctx, messageID); err == nil {
						fmt.Println(body)
					} else {
						fmt.Println(err)
					}
				}
			}
		case 6:
			return
		}
	}
}

func (a *app) printBalance(ctx context.Context, accountID int64) {
	balance, err := a.store.Balance(ctx, accountID)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("New balance: $%s\n", balance.StringFixed(2))
}

func printAccounts(accounts []models.Account) {
	for _, acc := range accounts {
		fmt.Printf("%d: %s  $%s\n", acc.ID, acc.Name, acc.Balance.StringFixed(2))
	}
}

func printMessages(msgs []models.Message) {
	for _, m := range msgs {
		status := "new"
		if m.Viewed {
			status = "viewed"
		}
		fmt.Printf("%d (%s): %s\n", m.ID, status, m.Body)
	}
}

// --- input helpers ---

func (a *app) readLine(prompt string) string {
	fmt.Print(prompt)
	if !a.in.Scan() {
		return ""
	}
	return strings.TrimSpace(a.in.Text())
}

func (a *app) readInt(prompt string) int {
	for {
		n, err := strconv.Atoi(a.readLine(prompt))
		if err == nil {
			return n
		}
		fmt.Println("Invalid number")
	}
}

func (a *app) readAmount(prompt string) decimal.Decimal {
	for {
		d, err := decimal.NewFromString(a.readLine(prompt))
		if err == nil {
			return d
		}
		fmt.Println("Invalid amount")
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
