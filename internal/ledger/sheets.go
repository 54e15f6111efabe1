package ledger

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Store is the tabular storage surface the scanner and writer operate
// on. Row numbers are 1-based sheet positions including the header.
type Store interface {
	// Snapshot returns every row of the sheet, header first.
	Snapshot(ctx context.Context) ([][]interface{}, error)

	// InsertRows inserts count blank rows before the given row,
	// shifting that row and everything below it down.
	InsertRows(ctx context.Context, before, count int) error

	// UpdateRows overwrites contiguous rows starting at startRow,
	// beginning at column A.
	UpdateRows(ctx context.Context, startRow int, values [][]interface{}) error

	// DeleteRows removes count rows starting at startRow.
	DeleteRows(ctx context.Context, startRow, count int) error

	// UpdateCell overwrites a single cell (1-based row, 0-based column).
	UpdateCell(ctx context.Context, row, col int, value interface{}) error
}

// SheetStore is the Google Sheets implementation of Store.
type SheetStore struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
	sheetID       int64
}

// NewSheetStore builds a Store over one sheet of a spreadsheet. It
// resolves the sheet's numeric id up front so row structure requests
// can be issued later without a metadata round trip.
func NewSheetStore(ctx context.Context, spreadsheetID, sheetName string, opts ...option.ClientOption) (*SheetStore, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ledger: creating sheets service: %w", err)
	}

	meta, err := svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("ledger: reading spreadsheet metadata: %w", err)
	}

	for _, sh := range meta.Sheets {
		if sh.Properties != nil && sh.Properties.Title == sheetName {
			return &SheetStore{
				svc:           svc,
				spreadsheetID: spreadsheetID,
				sheetName:     sheetName,
				sheetID:       sh.Properties.SheetId,
			}, nil
		}
	}
	return nil, fmt.Errorf("ledger: sheet %q not found in spreadsheet %s", sheetName, spreadsheetID)
}

// Snapshot implements Store. Dates render as strings; numbers stay
// numeric so amounts survive locale formatting.
func (s *SheetStore) Snapshot(ctx context.Context) ([][]interface{}, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("FORMATTED_STRING").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("ledger: reading sheet values: %w", err)
	}
	return resp.Values, nil
}

// InsertRows implements Store.
func (s *SheetStore) InsertRows(ctx context.Context, before, count int) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			InsertDimension: &sheets.InsertDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    s.sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(before - 1),
					EndIndex:   int64(before - 1 + count),
				},
				InheritFromBefore: true,
			},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("ledger: inserting %d rows before row %d: %w", count, before, err)
	}
	return nil
}

// UpdateRows implements Store.
func (s *SheetStore) UpdateRows(ctx context.Context, startRow int, values [][]interface{}) error {
	rangeA1 := fmt.Sprintf("%s!A%d", s.sheetName, startRow)
	vr := &sheets.ValueRange{Values: values}
	if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rangeA1, vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("ledger: updating rows at %s: %w", rangeA1, err)
	}
	return nil
}

// DeleteRows implements Store.
func (s *SheetStore) DeleteRows(ctx context.Context, startRow, count int) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    s.sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(startRow - 1),
					EndIndex:   int64(startRow - 1 + count),
				},
			},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("ledger: deleting %d rows at row %d: %w", count, startRow, err)
	}
	return nil
}

// UpdateCell implements Store.
func (s *SheetStore) UpdateCell(ctx context.Context, row, col int, value interface{}) error {
	rangeA1 := fmt.Sprintf("%s!%s%d", s.sheetName, columnLetter(col), row)
	vr := &sheets.ValueRange{Values: [][]interface{}{{value}}}
	if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rangeA1, vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("ledger: updating cell %s: %w", rangeA1, err)
	}
	return nil
}

// columnLetter converts a 0-based column index to its A1 letter form.
func columnLetter(col int) string {
	letters := ""
	for col >= 0 {
		letters = string(rune('A'+col%26)) + letters
		col = col/26 - 1
	}
	return letters
}
