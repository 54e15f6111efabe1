// Package ledger reads and mutates the Transactions sheet: column
// resolution, candidate row scanning, derived row insertion and
// compensating restore.
package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Column header names of the Transactions sheet contract.
const (
	ColDate          = "Date"
	ColDescription   = "Description"
	ColAmount        = "Amount"
	ColReceiptURL    = "Receipt URL"
	ColInstitution   = "Institution"
	ColAccountNumber = "Account #"
	ColAccountID     = "Account ID"
	ColCategory      = "Category"
	ColTransactionID = "Transaction ID"
)

// ErrColumnNotFound indicates the sheet header is missing a required
// column. Fatal to the whole run.
var ErrColumnNotFound = errors.New("ledger: required column not found")

// Columns maps the sheet contract to 0-based positions. Optional
// columns are -1 when absent from the header.
type Columns struct {
	Date        int
	Description int
	Amount      int
	ReceiptURL  int

	Institution   int
	AccountNumber int
	AccountID     int
	Category      int
	TransactionID int
}

// Width is the number of cells a full row spans.
func (c Columns) Width() int {
	max := -1
	for _, idx := range []int{
		c.Date, c.Description, c.Amount, c.ReceiptURL,
		c.Institution, c.AccountNumber, c.AccountID, c.Category, c.TransactionID,
	} {
		if idx > max {
			max = idx
		}
	}
	return max + 1
}

// ResolveColumns locates each contract column in the header row,
// case-insensitively. Missing required columns return
// ErrColumnNotFound naming the column.
func ResolveColumns(header []interface{}) (Columns, error) {
	positions := make(map[string]int, len(header))
	for i, cell := range header {
		name, ok := cell.(string)
		if !ok {
			continue
		}
		positions[strings.ToLower(strings.TrimSpace(name))] = i
	}

	find := func(name string) int {
		if idx, ok := positions[strings.ToLower(name)]; ok {
			return idx
		}
		return -1
	}

	cols := Columns{
		Date:          find(ColDate),
		Description:   find(ColDescription),
		Amount:        find(ColAmount),
		ReceiptURL:    find(ColReceiptURL),
		Institution:   find(ColInstitution),
		AccountNumber: find(ColAccountNumber),
		AccountID:     find(ColAccountID),
		Category:      find(ColCategory),
		TransactionID: find(ColTransactionID),
	}

	for _, req := range []struct {
		name string
		idx  int
	}{
		{ColDate, cols.Date},
		{ColDescription, cols.Description},
		{ColAmount, cols.Amount},
		{ColReceiptURL, cols.ReceiptURL},
	} {
		if req.idx < 0 {
			return Columns{}, fmt.Errorf("%w: %s", ErrColumnNotFound, req.name)
		}
	}

	return cols, nil
}
