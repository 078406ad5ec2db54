package access

import (
	"github.com/ethereum/go-ethereum/common"

	"issuance-backend/internal/settlement"
)

// Compliance answers KYC allowlist questions.
type Compliance interface {
	HasKyc(account common.Address) bool
}

// KYCList is the allowlist maintained by WHITELIST_ROLE holders.
type KYCList struct {
	roles    Controller
	approved map[common.Address]bool
}

func NewKYCList(roles Controller) *KYCList {
	return &KYCList{roles: roles, approved: make(map[common.Address]bool)}
}

func (k *KYCList) HasKyc(account common.Address) bool { return k.approved[account] }

func (k *KYCList) Grant(tx *settlement.Tx, accounts ...common.Address) error {
	return k.set(tx, accounts, true)
}

func (k *KYCList) Revoke(tx *settlement.Tx, accounts ...common.Address) error {
	return k.set(tx, accounts, false)
}

func (k *KYCList) set(tx *settlement.Tx, accounts []common.Address, approved bool) error {
	if err := Require(k.roles, WhitelistRole, tx.Sender()); err != nil {
		return err
	}
	for _, account := range accounts {
		if account == (common.Address{}) {
			return ErrZeroAccount
		}
		if k.approved[account] == approved {
			continue
		}
		account := account
		if approved {
			k.approved[account] = true
			tx.OnRevert(func() { delete(k.approved, account) })
		} else {
			delete(k.approved, account)
			tx.OnRevert(func() { k.approved[account] = true })
		}
		name := "KycRevoked"
		if approved {
			name = "KycGranted"
		}
		tx.Emit("kyc", name, map[string]string{"account": account.Hex()})
	}
	return nil
}
