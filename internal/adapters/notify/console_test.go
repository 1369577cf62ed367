package notify_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvaldes-dev/ratebot/internal/adapters/notify"
	"github.com/mvaldes-dev/ratebot/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func outcomes() []domain.TradeOutcome {
	receipt := domain.ReceiptBreakdown{
		MaturityTime: 1_731_536_000,
		BaseAmount:   dec("100"),
		BondAmount:   dec("105.5"),
	}
	return []domain.TradeOutcome{
		{
			Agent:   "0x1234567890abcdef",
			Request: domain.OpenLongTrade(dec("100"), nil),
			Status:  domain.StatusSuccess,
			Receipt: &receipt,
		},
		{
			Agent:   "0x1234567890abcdef",
			Request: domain.OpenShortTrade(dec("50"), nil),
			Status:  domain.StatusFail,
			Err:     errors.New("receipt status 0"),
		},
	}
}

func TestConsole_TableMode(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	require.NoError(t, c.Report(context.Background(), outcomes()))

	out := buf.String()
	assert.Contains(t, out, "2 trades — ok:1 fail:1")
	assert.Contains(t, out, "OPEN_LONG")
	assert.Contains(t, out, "105.5000")
	assert.Contains(t, out, "FAIL")
	// Direcciones truncadas para que la tabla quepa.
	assert.Contains(t, out, "0x1234..cdef")
}

func TestConsole_CompactMode(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, false)

	require.NoError(t, c.Report(context.Background(), outcomes()))

	out := buf.String()
	assert.Contains(t, out, "ok:1 fail:1")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "OPEN_SHORT")
	assert.NotContains(t, out, "OPEN_LONG", "el modo compacto solo detalla fallos")
}

func TestConsole_EmptyBatch(t *testing.T) {
	var buf bytes.Buffer
	c := notify.NewConsoleWriter(&buf, true)

	require.NoError(t, c.Report(context.Background(), nil))
	assert.Contains(t, buf.String(), "no trades this cycle")
}
