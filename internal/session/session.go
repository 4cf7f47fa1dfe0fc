// Package session holds the per-terminal authentication state machines.
// Every terminal kind starts unauthenticated and leaves that state only by a
// successful login; there is no timeout. Sessions gate all ledger calls and
// own the account-membership checks the ledger itself does not perform.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmarkov/bankcore/internal/auth"
	"github.com/tmarkov/bankcore/internal/db"
	"github.com/tmarkov/bankcore/internal/models"
	"github.com/tmarkov/bankcore/internal/registry"
)

var (
	// ErrLoginFailed covers unknown users, wrong roles and bad passwords
	// uniformly, so login responses do not leak which part failed.
	ErrLoginFailed = errors.New("login failed")

	// ErrNotAuthenticated flags an operation attempted before login.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoCustomer flags a teller operation attempted with no
	// authenticated customer attached.
	ErrNoCustomer = errors.New("no customer authenticated")

	// ErrInvalidAccount flags an account that is not held by the session's
	// customer.
	ErrInvalidAccount = errors.New("account is not held by this customer")
)

// verifyCredentials checks that the user exists, carries the wanted role and
// presented the right password. Every failure collapses to ErrLoginFailed.
func verifyCredentials(ctx context.Context, store *db.Store, roles *registry.Registry, userID int64, role models.RoleName, password string) error {
	user, err := store.User(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ErrLoginFailed
		}
		return fmt.Errorf("verify credentials: %w", err)
	}

	wantRole := roles.Resolve(string(role))
	if wantRole == registry.NotFound || user.RoleID != wantRole {
		return ErrLoginFailed
	}

	hash, err := store.PasswordHash(ctx, userID)
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	if !auth.Verify(hash, password) {
		return ErrLoginFailed
	}
	return nil
}

// ownsAccount reports whether accountID is in the user's owned-account set.
func ownsAccount(ctx context.Context, store *db.Store, userID, accountID int64) (bool, error) {
	ids, err := store.UserAccountIDs(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == accountID {
			return true, nil
		}
	}
	return false, nil
}

// viewMessage returns a message body after flipping its viewed flag,
// provided the message was left for ownerID.
func viewMessage(ctx context.Context, store *db.Store, ownerID, messageID int64) (string, error) {
	m, err := store.Message(ctx, messageID)
	if err != nil {
		return "", err
	}
	if m.UserID != ownerID {
		return "", fmt.Errorf("message %d: %w", messageID, models.ErrNotFound)
	}
	if err := store.MarkMessageViewed(ctx, messageID); err != nil {
		return "", err
	}
	return m.Body, nil
}
