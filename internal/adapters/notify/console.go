package notify

// console.go — batch outcome reporter for the terminal.

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/mvaldes-dev/ratebot/internal/domain"
)

// Console implements ports.Reporter.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole creates a reporter writing to stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter creates a reporter for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Report prints one batch of trade outcomes.
func (c *Console) Report(_ context.Context, outcomes []domain.TradeOutcome) error {
	if len(outcomes) == 0 {
		fmt.Fprintf(c.out, "[%s] no trades this cycle\n", time.Now().Format("15:04:05"))
		return nil
	}

	if c.table {
		c.printTable(outcomes)
	} else {
		c.printCompact(outcomes)
	}
	return nil
}

// printCompact prints one summary line plus one line per failure.
func (c *Console) printCompact(outcomes []domain.TradeOutcome) {
	ok, failed := countByStatus(outcomes)
	fmt.Fprintf(c.out, "\n[%s] %d trades — ok:%d fail:%d\n",
		time.Now().Format("15:04:05"), len(outcomes), ok, failed)

	for _, o := range outcomes {
		if o.Status != domain.StatusFail {
			continue
		}
		fmt.Fprintf(c.out, "  FAIL %s %s %s: %v\n",
			shortAddr(o.Agent), o.Request.Action, o.Request.Amount, o.Err)
	}
}

// printTable prints the full per-trade table.
func (c *Console) printTable(outcomes []domain.TradeOutcome) {
	ok, failed := countByStatus(outcomes)
	fmt.Fprintf(c.out, "\n[%s] %d trades — ok:%d fail:%d\n",
		time.Now().Format("15:04:05"), len(outcomes), ok, failed)

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Agent", "Action", "Amount", "Maturity", "Base", "Bonds", "Status")

	for i, o := range outcomes {
		base, bonds, maturity := "-", "-", "-"
		if o.Receipt != nil {
			base = o.Receipt.BaseAmount.StringFixed(4)
			bonds = o.Receipt.BondAmount.StringFixed(4)
			if o.Receipt.MaturityTime > 0 {
				maturity = time.Unix(o.Receipt.MaturityTime, 0).UTC().Format("2006-01-02")
			}
		}
		status := o.Status.String()
		if o.Err != nil {
			status = fmt.Sprintf("%s (%v)", status, o.Err)
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			shortAddr(o.Agent),
			o.Request.Action.String(),
			o.Request.Amount.StringFixed(4),
			maturity,
			base,
			bonds,
			status,
		)
	}

	table.Render()
}

func countByStatus(outcomes []domain.TradeOutcome) (ok, failed int) {
	for _, o := range outcomes {
		if o.Status == domain.StatusSuccess {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}

// shortAddr truncates 0x addresses for table width.
func shortAddr(addr string) string {
	if len(addr) > 10 {
		return addr[:6] + ".." + addr[len(addr)-4:]
	}
	return addr
}
