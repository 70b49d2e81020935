package renderer

import (
	"math"
	"strings"

	"github.com/etnz/ledger"
	"github.com/shopspring/decimal"
)

// Accounts is the listing of every account with its balance.
// Amounts are already formatted in the ledger currency.
type Accounts struct {
	// Currency is the ISO code balances are displayed in.
	Currency string       `json:"currency"`
	Rows     []AccountRow `json:"rows"`
	// Total is the sum of all balances.
	Total string `json:"total"`
}

// AccountRow is one line of the listing, numbered from 1.
type AccountRow struct {
	Number  int    `json:"number"`
	ID      string `json:"id"`
	Balance string `json:"balance"`
}

// NewAccounts builds the listing of accounts, in the order given.
func NewAccounts(accounts []ledger.Account, currency string) *Accounts {
	a := &Accounts{Currency: currency}
	var total ledger.Amount
	for i, acc := range accounts {
		a.Rows = append(a.Rows, AccountRow{
			Number:  i + 1,
			ID:      cell(acc.ID),
			Balance: acc.Balance.Display(currency),
		})
		total = total.Add(acc.Balance)
	}
	a.Total = displayTotal(total, currency)
	return a
}

// displayTotal formats a sum of balances, that may not fit in the range
// go-money can format.
func displayTotal(total ledger.Amount, currency string) string {
	if total.Decimal().GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return total.String() + " " + currency + " minor units"
	}
	return total.Display(currency)
}

// cell escapes s for use in a markdown table cell.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
