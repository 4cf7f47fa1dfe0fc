package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/tmarkov/bankcore/internal/models"
)

// Store handles all relational database operations. The store is a single
// SQLite file so that snapshot restore can back it up and roll it back at
// the filesystem level.
type Store struct {
	db   *sql.DB
	path string
}

// Open connects to the database file at path, creating it if needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w: %v", models.ErrStoreUnavailable, err)
	}

	// SQLite permits one writer; every operation here is synchronous anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w: %v", models.ErrStoreUnavailable, err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

const schema = `
CREATE TABLE IF NOT EXISTS roles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS account_types (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	interest_rate TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	age INTEGER NOT NULL,
	address TEXT NOT NULL,
	role_id INTEGER NOT NULL REFERENCES roles(id),
	password_hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	balance TEXT NOT NULL,
	type_id INTEGER NOT NULL REFERENCES account_types(id)
);
CREATE TABLE IF NOT EXISTS user_accounts (
	user_id INTEGER NOT NULL REFERENCES users(id),
	account_id INTEGER NOT NULL REFERENCES accounts(id),
	PRIMARY KEY (user_id, account_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	body TEXT NOT NULL,
	viewed INTEGER NOT NULL DEFAULT 0
);`

// InitSchema initializes the database schema.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Reinitialize drops every table and recreates the empty schema. Row IDs
// restart from 1 afterwards.
func (s *Store) Reinitialize(ctx context.Context) error {
	drops := []string{
		`DROP TABLE IF EXISTS messages`,
		`DROP TABLE IF EXISTS user_accounts`,
		`DROP TABLE IF EXISTS accounts`,
		`DROP TABLE IF EXISTS users`,
		`DROP TABLE IF EXISTS account_types`,
		`DROP TABLE IF EXISTS roles`,
	}
	for _, stmt := range drops {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop schema: %w", err)
		}
	}

	// Reset the AUTOINCREMENT counters so IDs restart from 1. The table does
	// not exist before the first insert; that case is fine to ignore.
	_, _ = s.db.ExecContext(ctx, `DELETE FROM sqlite_sequence`)

	return s.InitSchema(ctx)
}

// --- roles ---

// InsertRole inserts a role and returns its ID.
func (s *Store) InsertRole(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("role name must not be empty: %w", models.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO roles (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to insert role: %w", err)
	}
	return res.LastInsertId()
}

// RoleName returns the name of a role by ID.
func (s *Store) RoleName(ctx context.Context, id int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM roles WHERE id = ?`, id).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("role %d: %w", id, models.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get role: %w", err)
	}
	return name, nil
}

// RoleIDs returns the IDs of every role.
func (s *Store) RoleIDs(ctx context.Context) ([]int64, error) {
	return s.listIDs(ctx, `SELECT id FROM roles ORDER BY id`)
}

// --- account types ---

// InsertAccountType inserts an account type with an interest rate in [0, 1)
// and returns its ID.
func (s *Store) InsertAccountType(ctx context.Context, name string, rate decimal.Decimal) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("account type name must not be empty: %w", models.ErrValidation)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("interest rate %s out of range [0,1): %w", rate, models.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO account_types (name, interest_rate) VALUES (?, ?)`,
		name, rate.String())
	if err != nil {
		return 0, fmt.Errorf("failed to insert account type: %w", err)
	}
	return res.LastInsertId()
}

// AccountTypeName returns the symbolic name of an account type by ID.
func (s *Store) AccountTypeName(ctx context.Context, id int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM account_types WHERE id = ?`, id).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("account type %d: %w", id, models.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get account type: %w", err)
	}
	return name, nil
}

// InterestRate returns the interest rate of an account type by ID.
func (s *Store) InterestRate(ctx context.Context, id int64) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT interest_rate FROM account_types WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("account type %d: %w", id, models.ErrNotFound)
		}
		return decimal.Zero, fmt.Errorf("failed to get interest rate: %w", err)
	}
	return parseDecimal(raw)
}

// AccountTypeIDs returns the IDs of every account type.
func (s *Store) AccountTypeIDs(ctx context.Context) ([]int64, error) {
	return s.listIDs(ctx, `SELECT id FROM account_types ORDER BY id`)
}

// --- users ---

// InsertUser inserts a user and returns its ID. The credential is stored as
// given; hashing is the caller's concern.
func (s *Store) InsertUser(ctx context.Context, name string, age int, address string, roleID int64, passwordHash string) (int64, error) {
	switch {
	case name == "":
		return 0, fmt.Errorf("user name must not be empty: %w", models.ErrValidation)
	case age < 0:
		return 0, fmt.Errorf("age %d must not be negative: %w", age, models.ErrValidation)
	case len(address) > models.MaxAddressLen:
		return 0, fmt.Errorf("address longer than %d characters: %w", models.MaxAddressLen, models.ErrValidation)
	case passwordHash == "":
		return 0, fmt.Errorf("credential must not be empty: %w", models.ErrValidation)
	}
	if _, err := s.RoleName(ctx, roleID); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (name, age, address, role_id, password_hash) VALUES (?, ?, ?, ?, ?)`,
		name, age, address, roleID, passwordHash)
	if err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}
	return res.LastInsertId()
}

// User retrieves a user by ID.
func (s *Store) User(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, age, address, role_id FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Age, &u.Address, &u.RoleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// UserIDs returns the IDs of every user.
func (s *Store) UserIDs(ctx context.Context) ([]int64, error) {
	return s.listIDs(ctx, `SELECT id FROM users ORDER BY id`)
}

// PasswordHash returns the stored credential of a user.
func (s *Store) PasswordHash(ctx context.Context, id int64) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = ?`, id).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("user %d: %w", id, models.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get credential: %w", err)
	}
	return hash, nil
}

// UpdateUserPassword overwrites the stored credential of a user.
func (s *Store) UpdateUserPassword(ctx context.Context, passwordHash string, id int64) error {
	return s.updateUserColumn(ctx, "password_hash", passwordHash, id)
}

// UpdateUserRole changes the role of a user.
func (s *Store) UpdateUserRole(ctx context.Context, roleID, id int64) error {
	if _, err := s.RoleName(ctx, roleID); err != nil {
		return err
	}
	return s.updateUserColumn(ctx, "role_id", roleID, id)
}

// UpdateUserName changes the name of a user.
func (s *Store) UpdateUserName(ctx context.Context, name string, id int64) error {
	if name == "" {
		return fmt.Errorf("user name must not be empty: %w", models.ErrValidation)
	}
	return s.updateUserColumn(ctx, "name", name, id)
}

// UpdateUserAge changes the age of a user.
func (s *Store) UpdateUserAge(ctx context.Context, age int, id int64) error {
	if age < 0 {
		return fmt.Errorf("age %d must not be negative: %w", age, models.ErrValidation)
	}
	return s.updateUserColumn(ctx, "age", age, id)
}

// UpdateUserAddress changes the address of a user.
func (s *Store) UpdateUserAddress(ctx context.Context, address string, id int64) error {
	if len(address) > models.MaxAddressLen {
		return fmt.Errorf("address longer than %d characters: %w", models.MaxAddressLen, models.ErrValidation)
	}
	return s.updateUserColumn(ctx, "address", address, id)
}

func (s *Store) updateUserColumn(ctx context.Context, column string, value any, id int64) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %s = ? WHERE id = ?`, column), value, id)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", column, err)
	}
	return requireRow(res, fmt.Sprintf("user %d", id))
}

// --- accounts ---

// InsertAccount inserts an account and returns its ID. The balance may not
// carry more than two fractional digits.
func (s *Store) InsertAccount(ctx context.Context, name string, balance decimal.Decimal, typeID int64) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("account name must not be empty: %w", models.ErrValidation)
	}
	if balance.Exponent() < -2 {
		return 0, fmt.Errorf("balance %s has more than 2 decimal places: %w", balance, models.ErrValidation)
	}
	if _, err := s.AccountTypeName(ctx, typeID); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (name, balance, type_id) VALUES (?, ?, ?)`,
		name, balance.StringFixed(2), typeID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert account: %w", err)
	}
	return res.LastInsertId()
}

// Account retrieves an account by ID.
func (s *Store) Account(ctx context.Context, id int64) (*models.Account, error) {
	var (
		a   models.Account
		raw string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, balance, type_id FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &raw, &a.TypeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if a.Balance, err = parseDecimal(raw); err != nil {
		return nil, err
	}
	return &a, nil
}

// Balance returns the balance of an account.
func (s *Store) Balance(ctx context.Context, id int64) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("account %d: %w", id, models.ErrNotFound)
		}
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return parseDecimal(raw)
}

// UpdateAccountBalance persists a new balance. The value is stored with
// exactly two fractional digits.
func (s *Store) UpdateAccountBalance(ctx context.Context, balance decimal.Decimal, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE id = ?`, balance.StringFixed(2), id)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return requireRow(res, fmt.Sprintf("account %d", id))
}

// AccountTypeOf returns the type ID of an account.
func (s *Store) AccountTypeOf(ctx context.Context, id int64) (int64, error) {
	var typeID int64
	err := s.db.QueryRowContext(ctx, `SELECT type_id FROM accounts WHERE id = ?`, id).Scan(&typeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("account %d: %w", id, models.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to get account type: %w", err)
	}
	return typeID, nil
}

// UpdateAccountType changes the type of an account.
func (s *Store) UpdateAccountType(ctx context.Context, typeID, id int64) error {
	if _, err := s.AccountTypeName(ctx, typeID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET type_id = ? WHERE id = ?`, typeID, id)
	if err != nil {
		return fmt.Errorf("failed to update account type: %w", err)
	}
	return requireRow(res, fmt.Sprintf("account %d", id))
}

// AccountIDs returns the IDs of every account.
func (s *Store) AccountIDs(ctx context.Context) ([]int64, error) {
	return s.listIDs(ctx, `SELECT id FROM accounts ORDER BY id`)
}

// --- ownership ---

// InsertUserAccount links an account to a user. Linking twice is a no-op.
func (s *Store) InsertUserAccount(ctx context.Context, userID, accountID int64) error {
	if _, err := s.User(ctx, userID); err != nil {
		return err
	}
	if _, err := s.AccountTypeOf(ctx, accountID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_accounts (user_id, account_id) VALUES (?, ?)`,
		userID, accountID)
	if err != nil {
		return fmt.Errorf("failed to insert user account: %w", err)
	}
	return nil
}

// UserAccountIDs returns the IDs of every account a user owns.
func (s *Store) UserAccountIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.listIDs(ctx,
		`SELECT account_id FROM user_accounts WHERE user_id = ? ORDER BY account_id`, userID)
}

// OwnershipPairs returns every (user, account) link in the store.
func (s *Store) OwnershipPairs(ctx context.Context) ([][2]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, account_id FROM user_accounts ORDER BY user_id, account_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ownerships: %w", err)
	}
	defer rows.Close()

	var pairs [][2]int64
	for rows.Next() {
		var p [2]int64
		if err := rows.Scan(&p[0], &p[1]); err != nil {
			return nil, fmt.Errorf("failed to scan ownership: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// --- messages ---

// InsertMessage leaves a message for a user and returns the message ID.
func (s *Store) InsertMessage(ctx context.Context, userID int64, body string) (int64, error) {
	if len(body) > models.MaxMessageLen {
		return 0, fmt.Errorf("message longer than %d characters: %w", models.MaxMessageLen, models.ErrValidation)
	}
	if _, err := s.User(ctx, userID); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (user_id, body) VALUES (?, ?)`, userID, body)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return res.LastInsertId()
}

// Message retrieves a message by ID.
func (s *Store) Message(ctx context.Context, id int64) (*models.Message, error) {
	var (
		m      models.Message
		viewed int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, body, viewed FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.UserID, &m.Body, &viewed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	m.Viewed = viewed != 0
	return &m, nil
}

// Messages returns every message left for a user.
func (s *Store) Messages(ctx context.Context, userID int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, body, viewed FROM messages WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var (
			m      models.Message
			viewed int
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Body, &viewed); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Viewed = viewed != 0
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkMessageViewed flips the viewed flag of a message.
func (s *Store) MarkMessageViewed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET viewed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return requireRow(res, fmt.Sprintf("message %d", id))
}

// --- helpers ---

func (s *Store) listIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt decimal %q: %w", raw, models.ErrStoreUnavailable)
	}
	return d, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return nil
}
