package common

import (
	"errors"

	"nftlend/crypto"
)

// Role names a protocol operation class a principal may be granted.
type Role string

// ErrUnauthorizedRole is returned when a principal invokes an entry point it
// has not been granted.
var ErrUnauthorizedRole = errors.New("unauthorized principal for role")

// RoleTable is an explicit capability table mapping principals to the
// operation classes they may invoke. It is injected at engine construction;
// there is no global role registry.
type RoleTable struct {
	grants map[string]map[Role]struct{}
}

// NewRoleTable constructs an empty capability table.
func NewRoleTable() *RoleTable {
	return &RoleTable{grants: make(map[string]map[Role]struct{})}
}

// Grant records that the principal may invoke entry points gated on role.
func (t *RoleTable) Grant(principal crypto.Address, role Role) {
	if t == nil || principal.IsZero() {
		return
	}
	key := string(principal.Bytes())
	if t.grants[key] == nil {
		t.grants[key] = make(map[Role]struct{})
	}
	t.grants[key][role] = struct{}{}
}

// Revoke removes a previously granted role from the principal.
func (t *RoleTable) Revoke(principal crypto.Address, role Role) {
	if t == nil || principal.IsZero() {
		return
	}
	delete(t.grants[string(principal.Bytes())], role)
}

// Allowed reports whether the principal holds the role.
func (t *RoleTable) Allowed(principal crypto.Address, role Role) bool {
	if t == nil || principal.IsZero() {
		return false
	}
	_, ok := t.grants[string(principal.Bytes())][role]
	return ok
}

// RequireRole returns ErrUnauthorizedRole unless the principal holds the role.
func RequireRole(t *RoleTable, principal crypto.Address, role Role) error {
	if t == nil {
		return ErrUnauthorizedRole
	}
	if !t.Allowed(principal, role) {
		return ErrUnauthorizedRole
	}
	return nil
}
