// Package registry caches the mapping between symbolic role / account-type
// names and their numeric store IDs. The numeric IDs are assigned by
// insertion order and shift whenever the store is reinitialized, so every
// call site resolves names through a registry and rebuilds it after any
// operation that may have reseeded the underlying rows.
package registry

import (
	"context"
	"fmt"

	"github.com/tmarkov/bankcore/internal/db"
)

// NotFound is the sentinel ID returned by Resolve for unknown names.
// Callers must check for it before using the result.
const NotFound int64 = -1

// Registry caches name -> ID for one table (roles or account types).
type Registry struct {
	store *db.Store
	load  func(context.Context) (map[string]int64, error)
	ids   map[string]int64
}

// NewRoleRegistry returns a registry over the roles table.
func NewRoleRegistry(store *db.Store) *Registry {
	r := &Registry{store: store}
	r.load = r.loadRoles
	return r
}

// NewAccountTypeRegistry returns a registry over the account_types table.
func NewAccountTypeRegistry(store *db.Store) *Registry {
	r := &Registry{store: store}
	r.load = r.loadAccountTypes
	return r
}

// Rebuild re-reads every row and replaces the cached mapping. The new map is
// built aside and swapped in at the end, so callers never observe a
// partially rebuilt registry.
func (r *Registry) Rebuild(ctx context.Context) error {
	ids, err := r.load(ctx)
	if err != nil {
		return fmt.Errorf("rebuild registry: %w", err)
	}
	r.ids = ids
	return nil
}

// Resolve returns the store ID of a symbolic name, or NotFound.
func (r *Registry) Resolve(name string) int64 {
	if id, ok := r.ids[name]; ok {
		return id
	}
	return NotFound
}

// Contains reports whether id is one of the cached IDs.
func (r *Registry) Contains(id int64) bool {
	for _, v := range r.ids {
		if v == id {
			return true
		}
	}
	return false
}

func (r *Registry) loadRoles(ctx context.Context) (map[string]int64, error) {
	roleIDs, err := r.store.RoleIDs(ctx)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]int64, len(roleIDs))
	for _, id := range roleIDs {
		name, err := r.store.RoleName(ctx, id)
		if err != nil {
			return nil, err
		}
		ids[name] = id
	}
	return ids, nil
}

func (r *Registry) loadAccountTypes(ctx context.Context) (map[string]int64, error) {
	typeIDs, err := r.store.AccountTypeIDs(ctx)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]int64, len(typeIDs))
	for _, id := range typeIDs {
		name, err := r.store.AccountTypeName(ctx, id)
		if err != nil {
			return nil, err
		}
		ids[name] = id
	}
	return ids, nil
}
