package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaldes-dev/ratebot/internal/domain"
)

func TestTradeRequest_Validate(t *testing.T) {
	req := domain.OpenLongTrade(dec("100"), nil)
	require.NoError(t, req.Validate())
	assert.NotEqual(t, req.ID.String(), domain.OpenLongTrade(dec("100"), nil).ID.String())

	// Cierres sin vencimiento no son válidos.
	bad := domain.CloseLongTrade(dec("10"), 0, nil)
	assert.ErrorIs(t, bad.Validate(), domain.ErrMaturityRequired)

	neg := domain.OpenShortTrade(dec("-1"), nil)
	assert.ErrorIs(t, neg.Validate(), domain.ErrInvalidAmount)
}

func TestActionType_Strings(t *testing.T) {
	cases := map[domain.ActionType]string{
		domain.ActionInitializeMarket:       "INITIALIZE_MARKET",
		domain.ActionOpenLong:               "OPEN_LONG",
		domain.ActionCloseLong:              "CLOSE_LONG",
		domain.ActionOpenShort:              "OPEN_SHORT",
		domain.ActionCloseShort:             "CLOSE_SHORT",
		domain.ActionAddLiquidity:           "ADD_LIQUIDITY",
		domain.ActionRemoveLiquidity:        "REMOVE_LIQUIDITY",
		domain.ActionRedeemWithdrawalShares: "REDEEM_WITHDRAWAL_SHARES",
	}
	for action, want := range cases {
		assert.Equal(t, want, action.String())
		assert.True(t, action.IsValid())
	}

	assert.True(t, domain.ActionCloseLong.RequiresMaturity())
	assert.True(t, domain.ActionCloseShort.RequiresMaturity())
	assert.False(t, domain.ActionOpenLong.RequiresMaturity())
}
