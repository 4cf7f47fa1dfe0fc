package snapshot

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/tmarkov/bankcore/internal/models"
	"github.com/tmarkov/bankcore/internal/registry"
)

// restorePlaceholder is the credential a user row is inserted with before
// the snapshot's stored hash is written over it.
const restorePlaceholder = "UNDEFINED"

// Restore replaces the live store's contents with the snapshot's. The
// sequence is: back up the store file, reinitialize the schema, reseed
// types and roles and rebuild both registries, then re-insert users,
// accounts, ownership links and messages, resolving every role and type by
// symbolic name and remapping user/account IDs as they are reassigned.
//
// Any failure after the backup rolls the backup file back over the live
// store and returns ErrRestoreFailed. The backup file is removed once the
// restore succeeds or the rollback completes. The phases themselves are
// sequential independent writes, not one transaction.
func (m *Manager) Restore(ctx context.Context, snap *Snapshot) error {
	backup := m.store.Path() + ".bak"
	if err := m.store.CopyTo(backup); err != nil {
		return fmt.Errorf("backup before restore: %w", err)
	}

	if err := m.apply(ctx, snap); err != nil {
		m.recover(ctx, backup)
		return fmt.Errorf("%w: %v", models.ErrRestoreFailed, err)
	}

	removeBackup(backup)
	return nil
}

// recover rolls the backup file back over the live store after a failed
// restore. The backup is deleted only once the rollback completes: when the
// rollback itself fails, the backup is the sole remaining copy of the
// pre-restore data and must stay on disk.
func (m *Manager) recover(ctx context.Context, backup string) {
	if err := m.store.ReplaceWith(backup); err != nil {
		log.Printf("rollback after failed restore also failed, pre-restore copy kept at %s: %v", backup, err)
		return
	}
	if err := m.rebuildRegistries(ctx); err != nil {
		log.Printf("registry rebuild after rollback failed: %v", err)
	}
	removeBackup(backup)
}

func removeBackup(path string) {
	if err := os.Remove(path); err != nil {
		log.Printf("failed to remove restore backup %s: %v", path, err)
	}
}

func (m *Manager) apply(ctx context.Context, snap *Snapshot) error {
	if err := m.store.Reinitialize(ctx); err != nil {
		return err
	}

	for _, t := range snap.AccountTypes {
		if _, err := m.store.InsertAccountType(ctx, t.Name, t.InterestRate); err != nil {
			return fmt.Errorf("insert account type %s: %w", t.Name, err)
		}
	}
	for _, r := range snap.Roles {
		if _, err := m.store.InsertRole(ctx, r.Name); err != nil {
			return fmt.Errorf("insert role %s: %w", r.Name, err)
		}
	}
	if err := m.rebuildRegistries(ctx); err != nil {
		return err
	}

	// Users: resolve the role by name, insert with a placeholder
	// credential, then write the stored hash over it directly. Hashing is
	// bypassed; the snapshot already carries hashes.
	userIDs := make(map[int64]int64, len(snap.Users))
	for _, u := range snap.Users {
		roleID := m.roles.Resolve(u.Role)
		if roleID == registry.NotFound {
			return fmt.Errorf("role %s of user %d: %w", u.Role, u.ID, models.ErrNotFound)
		}
		newID, err := m.store.InsertUser(ctx, u.Name, u.Age, u.Address, roleID, restorePlaceholder)
		if err != nil {
			return fmt.Errorf("insert user %d: %w", u.ID, err)
		}
		if err := m.store.UpdateUserPassword(ctx, u.PasswordHash, newID); err != nil {
			return fmt.Errorf("restore credential of user %d: %w", u.ID, err)
		}
		userIDs[u.ID] = newID
	}

	accountIDs := make(map[int64]int64, len(snap.Accounts))
	for _, a := range snap.Accounts {
		typeID := m.types.Resolve(a.Type)
		if typeID == registry.NotFound {
			return fmt.Errorf("type %s of account %d: %w", a.Type, a.ID, models.ErrNotFound)
		}
		newID, err := m.store.InsertAccount(ctx, a.Name, a.Balance, typeID)
		if err != nil {
			return fmt.Errorf("insert account %d: %w", a.ID, err)
		}
		accountIDs[a.ID] = newID
	}

	for _, o := range snap.Ownerships {
		userID, ok := userIDs[o.UserID]
		if !ok {
			return fmt.Errorf("ownership references user %d: %w", o.UserID, models.ErrNotFound)
		}
		accountID, ok := accountIDs[o.AccountID]
		if !ok {
			return fmt.Errorf("ownership references account %d: %w", o.AccountID, models.ErrNotFound)
		}
		if err := m.store.InsertUserAccount(ctx, userID, accountID); err != nil {
			return fmt.Errorf("insert ownership: %w", err)
		}
	}

	for _, msg := range snap.Messages {
		userID, ok := userIDs[msg.UserID]
		if !ok {
			return fmt.Errorf("message %d references user %d: %w", msg.ID, msg.UserID, models.ErrNotFound)
		}
		newID, err := m.store.InsertMessage(ctx, userID, msg.Body)
		if err != nil {
			return fmt.Errorf("insert message %d: %w", msg.ID, err)
		}
		if msg.Viewed {
			if err := m.store.MarkMessageViewed(ctx, newID); err != nil {
				return fmt.Errorf("mark message %d viewed: %w", msg.ID, err)
			}
		}
	}

	return nil
}

// ReconcileCaller re-inserts the identity that requested the restore if the
// restored data no longer contains it. Returns the freshly assigned ID, or
// 0 when the caller was already present. The caller is re-inserted as an
// administrator with its existing credential hash.
func (m *Manager) ReconcileCaller(ctx context.Context, caller models.User, passwordHash string) (int64, error) {
	ids, err := m.store.UserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile caller: %w", err)
	}
	for _, id := range ids {
		if id == caller.ID {
			return 0, nil
		}
	}

	adminID := m.roles.Resolve(string(models.RoleAdmin))
	if adminID == registry.NotFound {
		return 0, fmt.Errorf("reconcile caller: role %s: %w", models.RoleAdmin, models.ErrNotFound)
	}

	newID, err := m.store.InsertUser(ctx, caller.Name, caller.Age, caller.Address, adminID, restorePlaceholder)
	if err != nil {
		return 0, fmt.Errorf("reconcile caller: %w", err)
	}
	if err := m.store.UpdateUserPassword(ctx, passwordHash, newID); err != nil {
		return 0, fmt.Errorf("reconcile caller: %w", err)
	}
	return newID, nil
}

func (m *Manager) rebuildRegistries(ctx context.Context) error {
	if err := m.types.Rebuild(ctx); err != nil {
		return err
	}
	return m.roles.Rebuild(ctx)
}
