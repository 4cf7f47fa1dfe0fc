// Package snapshot exports the entire store into a portable artifact and
// restores such artifacts into a reinitialized store.
//
// Numeric row IDs are assigned by insertion order and are not stable across
// a reinitialize, so the snapshot captures the symbolic names of roles and
// account types on every record that references them, and restore resolves
// those names against the freshly seeded tables. User and account IDs are
// remapped through tables built while inserting.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tmarkov/bankcore/internal/db"
	"github.com/tmarkov/bankcore/internal/registry"
)

// FormatVersion identifies the artifact layout. An artifact is only
// guaranteed readable by the schema version that produced it.
const FormatVersion = 1

// Snapshot is a point-in-time export of every persisted entity.
type Snapshot struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`

	Roles        []Role        `json:"roles"`
	AccountTypes []AccountType `json:"account_types"`
	Users        []User        `json:"users"`
	Accounts     []Account     `json:"accounts"`
	Ownerships   []Ownership   `json:"ownerships"`
	Messages     []Message     `json:"messages"`
}

// Role is a snapshotted role row.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AccountType is a snapshotted account type row.
type AccountType struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	InterestRate decimal.Decimal `json:"interest_rate"`
}

// User is a snapshotted user row. Role carries the symbolic role name; the
// credential is the stored hash, never a plaintext.
type User struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Age          int    `json:"age"`
	Address      string `json:"address"`
	Role         string `json:"role"`
	PasswordHash string `json:"password_hash"`
}

// Account is a snapshotted account row. Type carries the symbolic type name.
type Account struct {
	ID      int64           `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
	Type    string          `json:"type"`
}

// Ownership is a snapshotted user-account link, in pre-restore IDs.
type Ownership struct {
	UserID    int64 `json:"user_id"`
	AccountID int64 `json:"account_id"`
}

// Message is a snapshotted message row, in pre-restore user IDs.
type Message struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Body   string `json:"body"`
	Viewed bool   `json:"viewed"`
}

// Manager exports and restores snapshots over a store and its registries.
type Manager struct {
	store *db.Store
	types *registry.Registry
	roles *registry.Registry
}

// NewManager creates a Manager.
func NewManager(store *db.Store, types, roles *registry.Registry) *Manager {
	return &Manager{
		store: store,
		types: types,
		roles: roles,
	}
}

// Export walks the whole store into a self-contained Snapshot. Read-only.
func (m *Manager) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		ID:        uuid.NewString(),
		Version:   FormatVersion,
		CreatedAt: time.Now().UTC(),
	}

	roleIDs, err := m.store.RoleIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("export roles: %w", err)
	}
	for _, id := range roleIDs {
		name, err := m.store.RoleName(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("export roles: %w", err)
		}
		snap.Roles = append(snap.Roles, Role{ID: id, Name: name})
	}

	typeIDs, err := m.store.AccountTypeIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("export account types: %w", err)
	}
	for _, id := range typeIDs {
		name, err := m.store.AccountTypeName(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("export account types: %w", err)
		}
		rate, err := m.store.InterestRate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("export account types: %w", err)
		}
		snap.AccountTypes = append(snap.AccountTypes, AccountType{ID: id, Name: name, InterestRate: rate})
	}

	userIDs, err := m.store.UserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("export users: %w", err)
	}
	for _, id := range userIDs {
		u, err := m.store.User(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("export users: %w", err)
		}
		roleName, err := m.store.RoleName(ctx, u.RoleID)
		if err != nil {
			return nil, fmt.Errorf("export users: %w", err)
		}
		hash, err := m.store.PasswordHash(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("export users: %w", err)
		}
		snap.Users = append(snap.Users, User{
			ID:           u.ID,
			Name:         u.Name,
			Age:          u.Age,
			Address:      u.Address,
			Role:         roleName,
			PasswordHash: hash,
		})

		msgs, err := m.store.Messages(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("export messages: %w", err)
		}
		for _, msg := range msgs {
			snap.Messages = append(snap.Messages, Message{
				ID:     msg.ID,
				UserID: msg.UserID,
				Body:   msg.Body,
				Viewed: msg.Viewed,
			})
		}
	}

	accountIDs, err := m.store.AccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("export accounts: %w", err)
	}
	for _, id := range accountIDs {
		a, err := m.store.Account(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("export accounts: %w", err)
		}
		typeName, err := m.store.AccountTypeName(ctx, a.TypeID)
		if err != nil {
			return nil, fmt.Errorf("export accounts: %w", err)
		}
		snap.Accounts = append(snap.Accounts, Account{
			ID:      a.ID,
			Name:    a.Name,
			Balance: a.Balance,
			Type:    typeName,
		})
	}

	pairs, err := m.store.OwnershipPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("export ownerships: %w", err)
	}
	for _, p := range pairs {
		snap.Ownerships = append(snap.Ownerships, Ownership{UserID: p[0], AccountID: p[1]})
	}

	return snap, nil
}

// Save writes a snapshot to path as JSON. The write is atomic: a temp file
// is written first and renamed over the target.
func Save(path string, snap *Snapshot) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot artifact from path.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	var snap Snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != FormatVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snap.Version, FormatVersion)
	}
	return &snap, nil
}
