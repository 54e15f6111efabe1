package ledger

import (
	"context"
	"fmt"

	"github.com/dvloznov/payout-reconciler/internal/domain"
)

// Writer applies decomposition results to the sheet and undoes them
// when a payout fails midway.
type Writer struct {
	store Store
	cols  Columns
}

// NewWriter creates a writer bound to a resolved column layout.
func NewWriter(store Store, cols Columns) *Writer {
	return &Writer{store: store, cols: cols}
}

// RowValues renders a derived row into sheet cell order. Optional
// columns absent from the schema are simply not populated.
func (w *Writer) RowValues(d domain.DerivedRow) []interface{} {
	row := make([]interface{}, w.cols.Width())

	row[w.cols.Date] = d.Date.Format("2006-01-02")
	row[w.cols.Description] = d.Description
	amount, _ := d.Amount.Float64()
	row[w.cols.Amount] = amount
	row[w.cols.ReceiptURL] = d.ReceiptURL

	if w.cols.Institution >= 0 {
		row[w.cols.Institution] = d.Institution
	}
	if w.cols.AccountNumber >= 0 {
		row[w.cols.AccountNumber] = d.AccountNumber
	}
	if w.cols.AccountID >= 0 {
		row[w.cols.AccountID] = d.AccountID
	}
	if w.cols.Category >= 0 {
		row[w.cols.Category] = d.Category
	}
	return row
}

// InsertDerived inserts the derived rows immediately after the payout
// row as one batch: blank rows first, then a single values update. Row
// order is preserved. Returns the number of rows inserted.
func (w *Writer) InsertDerived(ctx context.Context, afterRow int, derived []domain.DerivedRow) (int, error) {
	if len(derived) == 0 {
		return 0, nil
	}

	values := make([][]interface{}, len(derived))
	for i, d := range derived {
		values[i] = w.RowValues(d)
	}

	if err := w.store.InsertRows(ctx, afterRow+1, len(values)); err != nil {
		return 0, err
	}
	if err := w.store.UpdateRows(ctx, afterRow+1, values); err != nil {
		return len(values), err
	}
	return len(values), nil
}

// StampProcessed marks the original payout row as reconciled: the
// amount is zeroed and, when the schema has a Transaction ID column,
// the payout id is recorded there. Re-running the same window then
// skips this row at scan time.
func (w *Writer) StampProcessed(ctx context.Context, rowIndex int, payoutID string) error {
	if err := w.store.UpdateCell(ctx, rowIndex, w.cols.Amount, 0.0); err != nil {
		return err
	}
	if w.cols.TransactionID >= 0 {
		if err := w.store.UpdateCell(ctx, rowIndex, w.cols.TransactionID, payoutID); err != nil {
			return err
		}
	}
	return nil
}

// Restore is the compensating path: it removes any rows inserted for
// this payout and overwrites the region from the payout row downward
// with its pre-processing contents.
func (w *Writer) Restore(ctx context.Context, payoutRow int, original [][]interface{}, inserted int) error {
	if inserted > 0 {
		if err := w.store.DeleteRows(ctx, payoutRow+1, inserted); err != nil {
			// Deletion failed; fall through to the overwrite so the
			// payout row itself is at least restored.
			if len(original) > 0 {
				if restoreErr := w.store.UpdateRows(ctx, payoutRow, original); restoreErr != nil {
					return fmt.Errorf("ledger: restore after failed row deletion: %w", restoreErr)
				}
			}
			return fmt.Errorf("ledger: deleting inserted rows during restore: %w", err)
		}
	}
	if len(original) > 0 {
		if err := w.store.UpdateRows(ctx, payoutRow, original); err != nil {
			return fmt.Errorf("ledger: restoring original rows: %w", err)
		}
	}
	return nil
}
