package recon

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/payout-reconciler/internal/domain"
	"github.com/dvloznov/payout-reconciler/internal/ledger"
	"github.com/dvloznov/payout-reconciler/internal/processor"
)

// descriptionDelimiter joins the structured description fields of a
// derived row.
const descriptionDelimiter = " | "

// reportingCategoryPayout marks the processor's own payout transaction
// within a balance transaction listing.
const reportingCategoryPayout = "payout"

// Decomposer expands one matched payout into ledger-shaped derived
// rows. Labels come from configuration; the zero value produces rows
// with blank institution and inherited categories.
type Decomposer struct {
	Institution    string
	PayoutCategory string
	FeeCategory    string
}

// Decompose emits one derived row per available balance transaction
// plus one negated row per fee detail, in transaction order with each
// transaction's fee rows directly after it. Transactions that are not
// yet available are excluded entirely. charges maps charge ids to their
// fetched records (nil entries allowed); receiptURLs maps a charge's
// receipt URL to its stored destination.
func (d *Decomposer) Decompose(row domain.LedgerRow, payout processor.Payout, txns []processor.BalanceTransaction, charges map[string]*processor.Charge, receiptURLs map[string]string) []domain.DerivedRow {
	var derived []domain.DerivedRow

	for i := range txns {
		txn := &txns[i]
		if !txn.IsAvailable() {
			continue
		}

		var charge *processor.Charge
		if processor.IsChargeSource(txn.Source) {
			charge = charges[txn.Source]
		}
		customer := charge.CustomerName()

		amount := decimal.Zero
		if txn.Amount != nil {
			amount = domain.FromMinorUnits(*txn.Amount)
		}

		receiptURL := ""
		if charge != nil && charge.ReceiptURL != "" {
			receiptURL = charge.ReceiptURL
			if dest, ok := receiptURLs[charge.ReceiptURL]; ok {
				dest = strings.TrimSpace(dest)
				if dest != "" {
					receiptURL = dest
				}
			}
		}

		category := row.Category
		if txn.ReportingCategory == reportingCategoryPayout || txn.Type == reportingCategoryPayout {
			category = d.PayoutCategory
		}

		derived = append(derived, domain.DerivedRow{
			Date:          transactionDay(txn, row),
			Description:   d.transactionDescription(txn, customer, row),
			Amount:        amount,
			ReceiptURL:    receiptURL,
			Institution:   d.Institution,
			AccountNumber: payout.Destination,
			AccountID:     "",
			Category:      category,
		})

		for _, fee := range txn.FeeDetails {
			feeCategory := d.FeeCategory
			if feeCategory == "" {
				feeCategory = category
			}
			derived = append(derived, domain.DerivedRow{
				Date:          transactionDay(txn, row),
				Description:   d.feeDescription(fee, txn, customer, row),
				Amount:        domain.FromMinorUnits(fee.Amount).Neg(),
				Institution:   d.Institution,
				AccountNumber: payout.Destination,
				AccountID:     "",
				Category:      feeCategory,
			})
		}
	}

	return derived
}

// CheckConservation verifies that the derived rows sum to the target
// amount within the shared tolerance. The target is the magnitude of
// the original ledger row amount.
func CheckConservation(derived []domain.DerivedRow, target decimal.Decimal) error {
	sum := decimal.Zero
	for _, d := range derived {
		sum = sum.Add(d.Amount)
	}
	if sum.Sub(target).Abs().GreaterThanOrEqual(domain.AmountTolerance) {
		return fmt.Errorf("%w: derived sum %s, payout row %s", ErrAmountMismatch, sum.StringFixed(2), target.StringFixed(2))
	}
	return nil
}

// transactionDay is the calendar day recorded on a derived row: the
// transaction's creation day, falling back to the payout row's day.
func transactionDay(txn *processor.BalanceTransaction, row domain.LedgerRow) time.Time {
	if txn.Created == 0 {
		return row.Date
	}
	return ledger.TruncateToDay(time.Unix(txn.Created, 0).UTC())
}

// transactionDescription builds the structured description for a
// transaction row: reporting category, customer, type and transaction
// description, the original payout row description, and the source id.
func (d *Decomposer) transactionDescription(txn *processor.BalanceTransaction, customer string, row domain.LedgerRow) string {
	return joinFields(
		txn.ReportingCategory,
		customer,
		strings.TrimSpace(txn.Type+" "+txn.Description),
		row.Description,
		txn.Source,
	)
}

// feeDescription builds the fee-flavored variant: the fee's own type
// and description in place of the transaction's.
func (d *Decomposer) feeDescription(fee processor.FeeDetail, txn *processor.BalanceTransaction, customer string, row domain.LedgerRow) string {
	return joinFields(
		"fee",
		customer,
		strings.TrimSpace(fee.Type+" "+fee.Description),
		row.Description,
		txn.Source,
	)
}

// joinFields concatenates the non-empty fields with the fixed
// delimiter, preserving field order.
func joinFields(fields ...string) string {
	parts := fields[:0]
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, descriptionDelimiter)
}
