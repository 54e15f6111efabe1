package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerRow is one row of the Transactions sheet as read at scan time.
// Index is the 1-based sheet position including the header row; it is
// only stable until rows are inserted above it.
type LedgerRow struct {
	Index int

	Date        time.Time
	Description string
	Amount      decimal.Decimal

	ReceiptURL    string
	Institution   string
	AccountNumber string
	AccountID     string
	Category      string
	TransactionID string
}

// DerivedRow is a ledger-shaped record produced by decomposing a payout:
// one per available balance transaction plus one per fee detail.
type DerivedRow struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal

	ReceiptURL    string
	Institution   string
	AccountNumber string
	AccountID     string
	Category      string
}

// AmountTolerance is the maximum absolute difference allowed between the
// sum of derived row amounts and the original payout row amount.
var AmountTolerance = decimal.New(1, -2)

// FromMinorUnits converts an integer minor-unit amount (e.g. cents)
// into a decimal currency amount.
func FromMinorUnits(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}
