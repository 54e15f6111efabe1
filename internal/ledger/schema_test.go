package ledger

import (
	"errors"
	"testing"
)

func header(names ...string) []interface{} {
	row := make([]interface{}, len(names))
	for i, n := range names {
		row[i] = n
	}
	return row
}

func TestResolveColumns(t *testing.T) {
	cols, err := ResolveColumns(header(
		"Date", "Description", "Amount", "Receipt URL",
		"Institution", "Account #", "Account ID", "Category", "Transaction ID",
	))
	if err != nil {
		t.Fatalf("ResolveColumns failed: %v", err)
	}

	if cols.Date != 0 || cols.Description != 1 || cols.Amount != 2 || cols.ReceiptURL != 3 {
		t.Errorf("Required columns misresolved: %+v", cols)
	}
	if cols.TransactionID != 8 {
		t.Errorf("TransactionID = %d, want 8", cols.TransactionID)
	}
	if cols.Width() != 9 {
		t.Errorf("Width = %d, want 9", cols.Width())
	}
}

func TestResolveColumns_CaseInsensitive(t *testing.T) {
	cols, err := ResolveColumns(header("date", "DESCRIPTION", "amount", "receipt url"))
	if err != nil {
		t.Fatalf("ResolveColumns failed: %v", err)
	}
	if cols.ReceiptURL != 3 {
		t.Errorf("ReceiptURL = %d, want 3", cols.ReceiptURL)
	}
}

func TestResolveColumns_OptionalAbsent(t *testing.T) {
	cols, err := ResolveColumns(header("Date", "Description", "Amount", "Receipt URL"))
	if err != nil {
		t.Fatalf("ResolveColumns failed: %v", err)
	}
	for name, idx := range map[string]int{
		"Institution":    cols.Institution,
		"Account #":      cols.AccountNumber,
		"Account ID":     cols.AccountID,
		"Category":       cols.Category,
		"Transaction ID": cols.TransactionID,
	} {
		if idx != -1 {
			t.Errorf("Optional column %s = %d, want -1", name, idx)
		}
	}
}

func TestResolveColumns_MissingRequired(t *testing.T) {
	tests := []struct {
		name   string
		header []interface{}
	}{
		{"missing amount", header("Date", "Description", "Receipt URL")},
		{"missing date", header("Description", "Amount", "Receipt URL")},
		{"empty header", header()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveColumns(tt.header)
			if !errors.Is(err, ErrColumnNotFound) {
				t.Errorf("Expected ErrColumnNotFound, got: %v", err)
			}
		})
	}
}

func TestColumnLetter(t *testing.T) {
	tests := []struct {
		col  int
		want string
	}{
		{0, "A"},
		{1, "B"},
		{25, "Z"},
		{26, "AA"},
		{27, "AB"},
	}
	for _, tt := range tests {
		if got := columnLetter(tt.col); got != tt.want {
			t.Errorf("columnLetter(%d) = %q, want %q", tt.col, got, tt.want)
		}
	}
}
