package models

// RoleName is the symbolic name of a role. Role rows get their numeric IDs
// from insertion order, so code refers to roles by name and resolves the ID
// through the registry.
type RoleName string

const (
	RoleAdmin    RoleName = "ADMIN"
	RoleTeller   RoleName = "TELLER"
	RoleCustomer RoleName = "CUSTOMER"
)

// KnownRoles returns the closed set of roles in seeding order.
func KnownRoles() []RoleName {
	return []RoleName{RoleAdmin, RoleTeller, RoleCustomer}
}

// MaxAddressLen is the longest address accepted on a user.
const MaxAddressLen = 100

// User represents a user row.
type User struct {
	ID      int64
	Name    string
	Age     int
	Address string
	RoleID  int64
}

// Message is a notification left for a user. Only the viewed flag is ever
// mutated after insertion.
type Message struct {
	ID     int64
	UserID int64
	Body   string
	Viewed bool
}

// MaxMessageLen is the longest message body accepted.
const MaxMessageLen = 512
