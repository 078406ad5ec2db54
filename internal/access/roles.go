package access

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/settlement"
)

// Role names a privilege checked by protocol components.
type Role string

const (
	DefaultAdminRole Role = "DEFAULT_ADMIN_ROLE"
	PauseRole        Role = "PAUSE_ROLE"
	UpgradeRole      Role = "UPGRADE_ROLE"
	MaintainerRole   Role = "MAINTAINER_ROLE"
	OperatorRole     Role = "OPERATOR_ROLE"
	WhitelistRole    Role = "WHITELIST_ROLE"
)

var AllRoles = []Role{DefaultAdminRole, PauseRole, UpgradeRole, MaintainerRole, OperatorRole, WhitelistRole}

var (
	ErrMissingRole = settlement.Unauthorized("access: account is missing role")
	ErrUnknownRole = settlement.Invalid("access: unknown role")
	ErrZeroAccount = settlement.Invalid("access: zero account")
)

// Controller answers role membership questions.
type Controller interface {
	HasRole(role Role, account common.Address) bool
}

// Require fails with ErrMissingRole when account lacks role.
func Require(c Controller, role Role, account common.Address) error {
	if !c.HasRole(role, account) {
		return fmt.Errorf("%w: %s lacks %s", ErrMissingRole, account.Hex(), role)
	}
	return nil
}

func ParseRole(s string) (Role, error) {
	for _, r := range AllRoles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Roles is the role table. Grants and revocations are admin only.
type Roles struct {
	members map[Role]map[common.Address]bool
}

func NewRoles(admin common.Address) *Roles {
	r := &Roles{members: make(map[Role]map[common.Address]bool)}
	r.members[DefaultAdminRole] = map[common.Address]bool{admin: true}
	return r
}

func (r *Roles) HasRole(role Role, account common.Address) bool {
	return r.members[role][account]
}

func (r *Roles) GrantRole(tx *settlement.Tx, role Role, account common.Address) error {
	return r.set(tx, role, account, true)
}

func (r *Roles) RevokeRole(tx *settlement.Tx, role Role, account common.Address) error {
	return r.set(tx, role, account, false)
}

// Members lists holders of role in address order.
func (r *Roles) Members(role Role) []common.Address {
	out := make([]common.Address, 0, len(r.members[role]))
	for a := range r.members[role] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (r *Roles) set(tx *settlement.Tx, role Role, account common.Address, granted bool) error {
	if err := Require(r, DefaultAdminRole, tx.Sender()); err != nil {
		return err
	}
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return ErrZeroAccount
	}
	if r.members[role][account] == granted {
		return nil
	}
	if r.members[role] == nil {
		r.members[role] = make(map[common.Address]bool)
	}
	if granted {
		r.members[role][account] = true
		tx.OnRevert(func() { delete(r.members[role], account) })
	} else {
		delete(r.members[role], account)
		tx.OnRevert(func() { r.members[role][account] = true })
	}

	name := "RoleRevoked"
	if granted {
		name = "RoleGranted"
	}
	tx.Emit("access", name, map[string]string{
		"role":    string(role),
		"account": account.Hex(),
		"sender":  tx.Sender().Hex(),
	})
	return nil
}
