package clients

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSubject(t *testing.T) {
	assert.Equal(t, "issuance.gateway.RedemptionProcessed", EventSubject("issuance", "gateway", "RedemptionProcessed"))
	assert.Equal(t, "issuance.USD_X.Transfer", EventSubject("issuance", "USD.X", "Transfer"))
	assert.Equal(t, "issuance.a_b.c_", EventSubject("issuance", "a*b", "c>"))
}

func TestDecodeKYCUpdate(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		action  string
		wantErr bool
	}{
		{"grant", `{"action":"grant","accounts":["0x00000000000000000000000000000000000000b0"]}`, "grant", false},
		{"normalized", `{"action":" REVOKE ","accounts":["0x00000000000000000000000000000000000000b0"]}`, "revoke", false},
		{"unknown action", `{"action":"suspend","accounts":["0x00000000000000000000000000000000000000b0"]}`, "", true},
		{"no accounts", `{"action":"grant","accounts":[]}`, "", true},
		{"malformed", `{"action":`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, err := DecodeKYCUpdate([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.action, update.Action)
			assert.Len(t, update.Accounts, 1)
		})
	}
}
