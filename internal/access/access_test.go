package access

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"issuance-backend/internal/settlement"
)

var (
	admin = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestGrantAndRevokeRole(t *testing.T) {
	require := require.New(t)
	engine := settlement.NewEngine(nil)
	roles := NewRoles(admin)

	_, err := engine.Execute(alice, func(tx *settlement.Tx) error {
		return roles.GrantRole(tx, OperatorRole, alice)
	})
	require.ErrorIs(err, ErrMissingRole)
	require.False(roles.HasRole(OperatorRole, alice))

	receipt, err := engine.Execute(admin, func(tx *settlement.Tx) error {
		return roles.GrantRole(tx, OperatorRole, alice)
	})
	require.NoError(err)
	require.True(roles.HasRole(OperatorRole, alice))
	require.Equal("RoleGranted", receipt.Events[0].Name)
	require.Equal([]common.Address{alice}, roles.Members(OperatorRole))

	_, err = engine.Execute(admin, func(tx *settlement.Tx) error {
		return roles.RevokeRole(tx, OperatorRole, alice)
	})
	require.NoError(err)
	require.False(roles.HasRole(OperatorRole, alice))
}

func TestRoleGrantRevertedWithOperation(t *testing.T) {
	require := require.New(t)
	engine := settlement.NewEngine(nil)
	roles := NewRoles(admin)

	_, err := engine.Execute(admin, func(tx *settlement.Tx) error {
		if err := roles.GrantRole(tx, PauseRole, alice); err != nil {
			return err
		}
		return roles.GrantRole(tx, Role("BOGUS"), bob)
	})
	require.ErrorIs(err, ErrUnknownRole)
	require.False(roles.HasRole(PauseRole, alice))
}

func TestKYCListRequiresWhitelistRole(t *testing.T) {
	require := require.New(t)
	engine := settlement.NewEngine(nil)
	roles := NewRoles(admin)
	kyc := NewKYCList(roles)

	_, err := engine.Execute(admin, func(tx *settlement.Tx) error {
		return kyc.Grant(tx, alice)
	})
	require.ErrorIs(err, ErrMissingRole)

	_, err = engine.Execute(admin, func(tx *settlement.Tx) error {
		if err := roles.GrantRole(tx, WhitelistRole, admin); err != nil {
			return err
		}
		return kyc.Grant(tx, alice, bob)
	})
	require.NoError(err)
	require.True(kyc.HasKyc(alice))
	require.True(kyc.HasKyc(bob))

	_, err = engine.Execute(admin, func(tx *settlement.Tx) error {
		return kyc.Revoke(tx, bob)
	})
	require.NoError(err)
	require.False(kyc.HasKyc(bob))
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("OPERATOR_ROLE")
	require.NoError(t, err)
	require.Equal(t, OperatorRole, role)

	_, err = ParseRole("operator")
	require.ErrorIs(t, err, ErrUnknownRole)
}
