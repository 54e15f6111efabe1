package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/payout-reconciler/internal/domain"
)

// cellDateLayouts are the date renderings we accept from the sheet.
var cellDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"1/2/2006",
	"01/02/2006",
	"2006-01-02T15:04:05",
}

// sheetEpoch is day zero of the spreadsheet date serial system.
var sheetEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// parseCellDate interprets a sheet cell as a date: rendered strings or
// a raw date serial number.
func parseCellDate(cell interface{}) (time.Time, bool) {
	switch v := cell.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range cellDateLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	case float64:
		return sheetEpoch.Add(time.Duration(v * 24 * float64(time.Hour))), true
	case int:
		return sheetEpoch.AddDate(0, 0, v), true
	default:
		return time.Time{}, false
	}
}

// parseCellAmount interprets a sheet cell as a signed decimal amount.
func parseCellAmount(cell interface{}) (decimal.Decimal, bool) {
	switch v := cell.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case string:
		s := strings.TrimSpace(v)
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimPrefix(s, "$")
		if s == "" {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}

func cellString(row []interface{}, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	s, _ := row[idx].(string)
	return strings.TrimSpace(s)
}

// TruncateToDay drops the time-of-day component, keeping the location.
func TruncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// calendarDay maps an instant to midnight UTC of its calendar date.
// Window bounds arrive in the local zone while sheet dates parse as
// UTC; comparing calendar dates keeps the window at day granularity
// regardless of zone.
func calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Scan filters the snapshot down to candidate payout rows: description
// carries the configured prefix, the date parses and lies within the
// optional [start, end] bounds at day granularity, and the row has not
// been reconciled before (empty Transaction ID cell). Row order is
// preserved. The snapshot includes the header at position 0; returned
// indices are 1-based sheet positions.
func Scan(snapshot [][]interface{}, cols Columns, prefix string, start, end *time.Time) []domain.LedgerRow {
	var candidates []domain.LedgerRow

	for i, row := range snapshot {
		if i == 0 {
			continue
		}

		desc := cellString(row, cols.Description)
		if !strings.HasPrefix(desc, prefix) {
			continue
		}

		date, ok := parseCellDate(cellAt(row, cols.Date))
		if !ok {
			continue
		}
		day := calendarDay(date)
		if start != nil && day.Before(calendarDay(*start)) {
			continue
		}
		if end != nil && day.After(calendarDay(*end)) {
			continue
		}

		// Already decomposed on a previous run.
		if cellString(row, cols.TransactionID) != "" {
			continue
		}

		amount, ok := parseCellAmount(cellAt(row, cols.Amount))
		if !ok {
			continue
		}

		candidates = append(candidates, domain.LedgerRow{
			Index:         i + 1,
			Date:          day,
			Description:   desc,
			Amount:        amount,
			ReceiptURL:    cellString(row, cols.ReceiptURL),
			Institution:   cellString(row, cols.Institution),
			AccountNumber: cellString(row, cols.AccountNumber),
			AccountID:     cellString(row, cols.AccountID),
			Category:      cellString(row, cols.Category),
			TransactionID: cellString(row, cols.TransactionID),
		})
	}

	return candidates
}

func cellAt(row []interface{}, idx int) interface{} {
	if idx < 0 || idx >= len(row) {
		return nil
	}
	return row[idx]
}
