package recon

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dvloznov/payout-reconciler/internal/domain"
	"github.com/dvloznov/payout-reconciler/internal/processor"
	"github.com/dvloznov/payout-reconciler/internal/receipts"
)

// fakeStore is an in-memory ledger.Store with failure injection.
type fakeStore struct {
	rows [][]interface{}

	failUpdateRowsOnce bool
	updateRowsCalls    int
}

func (f *fakeStore) Snapshot(ctx context.Context) ([][]interface{}, error) {
	out := make([][]interface{}, len(f.rows))
	for i, row := range f.rows {
		out[i] = append([]interface{}(nil), row...)
	}
	return out, nil
}

func (f *fakeStore) InsertRows(ctx context.Context, before, count int) error {
	blank := make([][]interface{}, count)
	for i := range blank {
		blank[i] = []interface{}{}
	}
	idx := before - 1
	f.rows = append(f.rows[:idx], append(blank, f.rows[idx:]...)...)
	return nil
}

func (f *fakeStore) UpdateRows(ctx context.Context, startRow int, values [][]interface{}) error {
	f.updateRowsCalls++
	if f.failUpdateRowsOnce {
		f.failUpdateRowsOnce = false
		return errors.New("quota exceeded")
	}
	for i, v := range values {
		idx := startRow - 1 + i
		for idx >= len(f.rows) {
			f.rows = append(f.rows, []interface{}{})
		}
		f.rows[idx] = append([]interface{}(nil), v...)
	}
	return nil
}

func (f *fakeStore) DeleteRows(ctx context.Context, startRow, count int) error {
	idx := startRow - 1
	f.rows = append(f.rows[:idx], f.rows[idx+count:]...)
	return nil
}

func (f *fakeStore) UpdateCell(ctx context.Context, row, col int, value interface{}) error {
	idx := row - 1
	for len(f.rows[idx]) <= col {
		f.rows[idx] = append(f.rows[idx], "")
	}
	f.rows[idx][col] = value
	return nil
}

// fakeSource serves canned processor data.
type fakeSource struct {
	payouts    []processor.Payout
	txns       map[string][]processor.BalanceTransaction
	charges    map[string]*processor.Charge
	listErr    error
	txnsErr    error
	listCalls  int
	txnsCalled [][]string
}

func (f *fakeSource) ListPayouts(ctx context.Context, start, end *time.Time) ([]processor.Payout, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.payouts, nil
}

func (f *fakeSource) BalanceTransactionsForPayouts(ctx context.Context, payoutIDs []string) (map[string][]processor.BalanceTransaction, error) {
	f.txnsCalled = append(f.txnsCalled, payoutIDs)
	if f.txnsErr != nil {
		return nil, f.txnsErr
	}
	return f.txns, nil
}

func (f *fakeSource) ChargesByID(ctx context.Context, chargeIDs []string) map[string]*processor.Charge {
	out := make(map[string]*processor.Charge, len(chargeIDs))
	for _, id := range chargeIDs {
		out[id] = f.charges[id]
	}
	return out
}

// fakeResolver stores nothing; it answers every request with a
// deterministic destination.
type fakeResolver struct {
	resolved []receipts.Request
}

func (f *fakeResolver) Resolve(ctx context.Context, reqs []receipts.Request) map[string]receipts.Asset {
	assets := make(map[string]receipts.Asset, len(reqs))
	for _, req := range reqs {
		f.resolved = append(f.resolved, req)
		name := receipts.Filename(req, "application/pdf")
		assets[req.URL] = receipts.Asset{
			SourceURL:      req.URL,
			ObjectName:     name,
			DestinationURL: "https://storage.googleapis.com/bucket/" + name,
		}
	}
	return assets
}

type fakeRemover struct {
	deleted []string
}

func (f *fakeRemover) Delete(ctx context.Context, objectName string) error {
	f.deleted = append(f.deleted, objectName)
	return nil
}

type fakeAudit struct {
	started  int
	finished int
	lastErr  error
}

func (f *fakeAudit) StartRun(ctx context.Context, stats *domain.RunStats) error {
	f.started++
	return nil
}

func (f *fakeAudit) FinishRun(ctx context.Context, stats *domain.RunStats, runErr error) error {
	f.finished++
	f.lastErr = runErr
	return nil
}

type fakeReporter struct {
	calls  int
	stats  *domain.RunStats
	runErr error
}

func (f *fakeReporter) Report(ctx context.Context, stats *domain.RunStats, runErr error) error {
	f.calls++
	f.stats = stats
	f.runErr = runErr
	return nil
}

func ledgerHeader() []interface{} {
	return []interface{}{
		"Date", "Description", "Amount", "Receipt URL",
		"Institution", "Account #", "Account ID", "Category", "Transaction ID",
	}
}

func payoutSheetRow(date string, amount float64, desc string) []interface{} {
	return []interface{}{date, desc, amount, "", "", "", "", "Income", ""}
}

func engineConfig() Config {
	return Config{
		DescriptionPrefix: "Orig Co Name:stripe",
		Institution:       "Stripe",
		PayoutCategory:    "Transfer",
		FeeCategory:       "Bank Charges",
	}
}

// balancedSource returns a payout of 500.00 decomposing into
// 300.00, -1.50 and 201.50 so conservation holds.
func balancedSource() *fakeSource {
	return &fakeSource{
		payouts: []processor.Payout{
			{ID: "po_1", Amount: 50000, ArrivalDate: epoch(2024, 3, 1, 10), Destination: "ba_123"},
		},
		txns: map[string][]processor.BalanceTransaction{
			"po_1": {
				{ID: "txn_1", Amount: amountPtr(30000), Status: "available", Type: "charge",
					Source: "ch_1", ReportingCategory: "charge", Created: epoch(2024, 3, 1, 3),
					FeeDetails: []processor.FeeDetail{{Type: "stripe_fee", Amount: 150}}},
				{ID: "txn_2", Amount: amountPtr(20150), Status: "available", Type: "charge",
					Source: "ch_2", ReportingCategory: "charge", Created: epoch(2024, 3, 1, 4)},
			},
		},
		charges: map[string]*processor.Charge{
			"ch_1": {ID: "ch_1", ReceiptURL: "https://pay.example.com/r/1",
				Metadata: map[string]string{"customerName": "Acme"}},
			"ch_2": {ID: "ch_2", ReceiptURL: "https://pay.example.com/r/1"},
		},
	}
}

func TestRun_AppliesMatchedPayout(t *testing.T) {
	store := &fakeStore{rows: [][]interface{}{
		ledgerHeader(),
		payoutSheetRow("2024-03-01", -500.00, "Orig Co Name:stripe Orig ID:x8598"),
		{"2024-03-02", "Groceries", -42.00, "", "", "", "", "Food", ""},
	}}
	source := balancedSource()
	resolver := &fakeResolver{}
	reporter := &fakeReporter{}
	audit := &fakeAudit{}

	engine := NewEngine(store, source, resolver, engineConfig()).
		WithAudit(audit).
		WithReporters(reporter)

	stats, err := engine.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.PayoutsMatched != 1 || stats.PayoutsApplied != 1 || stats.PayoutsFailed != 0 {
		t.Errorf("Stats = matched %d applied %d failed %d, want 1/1/0",
			stats.PayoutsMatched, stats.PayoutsApplied, stats.PayoutsFailed)
	}
	if stats.Status() != domain.RunStatusSuccess {
		t.Errorf("Status = %s, want SUCCESS", stats.Status())
	}

	// Header + stamped payout row + 3 derived rows + trailing row.
	if len(store.rows) != 6 {
		t.Fatalf("Sheet has %d rows, want 6", len(store.rows))
	}

	// The original payout row is stamped: amount zeroed, payout id set.
	payoutRow := store.rows[1]
	if payoutRow[2] != 0.0 {
		t.Errorf("Stamped amount = %v, want 0", payoutRow[2])
	}
	if payoutRow[8] != "po_1" {
		t.Errorf("Stamped transaction id = %v, want po_1", payoutRow[8])
	}

	// Derived rows directly after the payout row, order preserved.
	wantAmounts := []float64{300.00, -1.50, 201.50}
	for i, want := range wantAmounts {
		row := store.rows[2+i]
		if row[2] != want {
			t.Errorf("Derived row %d amount = %v, want %v", i, row[2], want)
		}
		if row[4] != "Stripe" || row[5] != "ba_123" {
			t.Errorf("Derived row %d labels = %v/%v, want Stripe/ba_123", i, row[4], row[5])
		}
	}

	// Trailing row shifted down intact.
	if store.rows[5][1] != "Groceries" {
		t.Errorf("Trailing row = %v, want original Groceries row", store.rows[5])
	}

	// Shared receipt URL resolved once, referenced by both charge rows.
	if len(resolver.resolved) != 1 {
		t.Errorf("Resolved %d receipt requests, want 1 after dedupe", len(resolver.resolved))
	}
	if len(stats.FilesAdded) != 1 || len(stats.URLsAccessed) != 1 {
		t.Errorf("FilesAdded/URLsAccessed = %d/%d, want 1/1", len(stats.FilesAdded), len(stats.URLsAccessed))
	}

	if audit.started != 1 || audit.finished != 1 {
		t.Errorf("Audit calls = %d/%d, want 1/1", audit.started, audit.finished)
	}
	if reporter.calls != 1 || reporter.runErr != nil {
		t.Errorf("Reporter calls = %d (err %v), want 1 with nil error", reporter.calls, reporter.runErr)
	}
}

func TestRun_ZeroMatchesStillReports(t *testing.T) {
	store := &fakeStore{rows: [][]interface{}{
		ledgerHeader(),
		{"2024-03-02", "Groceries", -42.00, "", "", "", "", "Food", ""},
	}}
	source := balancedSource()
	reporter := &fakeReporter{}

	engine := NewEngine(store, source, &fakeResolver{}, engineConfig()).WithReporters(reporter)

	stats, err := engine.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.CandidateRows != 0 {
		t.Errorf("CandidateRows = %d, want 0", stats.CandidateRows)
	}
	if source.listCalls != 0 {
		t.Errorf("ListPayouts called %d times, want 0 with no candidates", source.listCalls)
	}
	if len(store.rows) != 2 {
		t.Errorf("Sheet mutated: %d rows, want 2", len(store.rows))
	}
	if reporter.calls != 1 {
		t.Errorf("Reporter calls = %d, want 1 even with nothing to do", reporter.calls)
	}
	if reporter.stats.Status() != domain.RunStatusSuccess {
		t.Errorf("Status = %s, want SUCCESS", reporter.stats.Status())
	}
}

func TestRun_AmountMismatchRollsBackWithoutMutation(t *testing.T) {
	store := &fakeStore{rows: [][]interface{}{
		ledgerHeader(),
		payoutSheetRow("2024-03-01", -500.00, "Orig Co Name:stripe Orig ID:x8598"),
	}}
	source := balancedSource()
	// Break conservation: 300.00 - 1.50 + 200.00 = 498.50 != 500.00.
	source.txns["po_1"][1].Amount = amountPtr(20000)
	remover := &fakeRemover{}
	reporter := &fakeReporter{}

	engine := NewEngine(store, source, &fakeResolver{}, engineConfig()).
		WithAssetRemover(remover).
		WithReporters(reporter)

	stats, err := engine.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.PayoutsFailed != 1 || stats.PayoutsApplied != 0 {
		t.Errorf("Stats = failed %d applied %d, want 1/0", stats.PayoutsFailed, stats.PayoutsApplied)
	}
	if stats.Status() != domain.RunStatusFailed {
		t.Errorf("Status = %s, want FAILED", stats.Status())
	}

	if len(stats.Outcomes) != 1 {
		t.Fatalf("Got %d outcomes, want 1", len(stats.Outcomes))
	}
	if !errors.Is(stats.Outcomes[0].Err, ErrAmountMismatch) {
		t.Errorf("Outcome error = %v, want ErrAmountMismatch", stats.Outcomes[0].Err)
	}
	var perr *PayoutError
	if !errors.As(stats.Outcomes[0].Err, &perr) {
		t.Error("Outcome error carries no payout context")
	}

	// Validation ran before any mutation: the sheet is untouched.
	if len(store.rows) != 2 {
		t.Errorf("Sheet has %d rows, want 2 (no mutation on mismatch)", len(store.rows))
	}
	if store.rows[1][2] != -500.00 {
		t.Errorf("Payout row amount = %v, want untouched -500.00", store.rows[1][2])
	}

	// Receipts stored before validation failed are compensated away.
	if len(remover.deleted) != 1 {
		t.Errorf("Deleted %d receipt assets, want 1", len(remover.deleted))
	}
	if reporter.calls != 1 {
		t.Errorf("Reporter calls = %d, want 1 on the failure path", reporter.calls)
	}
}

func TestRun_WriteFailureRestoresSnapshot(t *testing.T) {
	originalRows := [][]interface{}{
		ledgerHeader(),
		payoutSheetRow("2024-03-01", -500.00, "Orig Co Name:stripe Orig ID:x8598"),
		{"2024-03-02", "Groceries", -42.00, "", "", "", "", "Food", ""},
	}
	store := &fakeStore{}
	for _, row := range originalRows {
		store.rows = append(store.rows, append([]interface{}(nil), row...))
	}
	// First UpdateRows call is the derived-row write; the restore path's
	// own UpdateRows succeeds.
	store.failUpdateRowsOnce = true

	source := balancedSource()
	remover := &fakeRemover{}

	engine := NewEngine(store, source, &fakeResolver{}, engineConfig()).WithAssetRemover(remover)

	stats, err := engine.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.PayoutsFailed != 1 {
		t.Errorf("PayoutsFailed = %d, want 1", stats.PayoutsFailed)
	}

	if len(store.rows) != len(originalRows) {
		t.Fatalf("Sheet has %d rows after restore, want %d", len(store.rows), len(originalRows))
	}
	for i, want := range originalRows {
		got := store.rows[i]
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("Row %d = %v, want restored %v", i, got, want)
		}
	}

	if len(remover.deleted) != 1 {
		t.Errorf("Deleted %d receipt assets, want 1", len(remover.deleted))
	}
}

func TestRun_FailedPayoutDoesNotStopTheNext(t *testing.T) {
	store := &fakeStore{rows: [][]interface{}{
		ledgerHeader(),
		payoutSheetRow("2024-03-01", -500.00, "Orig Co Name:stripe Orig ID:x8598"),
		payoutSheetRow("2024-03-02", -120.00, "Orig Co Name:stripe Orig ID:x8599"),
	}}
	source := balancedSource()
	// First payout breaks conservation; second one balances.
	source.txns["po_1"][1].Amount = amountPtr(20000)
	source.payouts = append(source.payouts, processor.Payout{
		ID: "po_2", Amount: 12000, ArrivalDate: epoch(2024, 3, 2, 10), Destination: "ba_123",
	})
	source.txns["po_2"] = []processor.BalanceTransaction{
		{ID: "txn_3", Amount: amountPtr(12000), Status: "available", Type: "charge",
			Source: "ch_3", ReportingCategory: "charge", Created: epoch(2024, 3, 2, 4)},
	}

	engine := NewEngine(store, source, &fakeResolver{}, engineConfig())

	stats, err := engine.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.PayoutsFailed != 1 || stats.PayoutsApplied != 1 {
		t.Errorf("Stats = failed %d applied %d, want 1/1", stats.PayoutsFailed, stats.PayoutsApplied)
	}
	if stats.Status() != domain.RunStatusPartial {
		t.Errorf("Status = %s, want PARTIAL", stats.Status())
	}

	// Second payout applied at its original position (first inserted
	// nothing): header, failed row, stamped row, derived row.
	if len(store.rows) != 4 {
		t.Fatalf("Sheet has %d rows, want 4", len(store.rows))
	}
	if store.rows[2][8] != "po_2" {
		t.Errorf("Second payout row stamp = %v, want po_2", store.rows[2][8])
	}
	if store.rows[3][2] != 120.00 {
		t.Errorf("Derived row amount = %v, want 120.00", store.rows[3][2])
	}
}

func TestRun_OffsetTracksEarlierInsertions(t *testing.T) {
	store := &fakeStore{rows: [][]interface{}{
		ledgerHeader(),
		payoutSheetRow("2024-03-01", -500.00, "Orig Co Name:stripe Orig ID:x8598"),
		payoutSheetRow("2024-03-02", -120.00, "Orig Co Name:stripe Orig ID:x8599"),
	}}
	source := balancedSource()
	source.payouts = append(source.payouts, processor.Payout{
		ID: "po_2", Amount: 12000, ArrivalDate: epoch(2024, 3, 2, 10), Destination: "ba_123",
	})
	source.txns["po_2"] = []processor.BalanceTransaction{
		{ID: "txn_3", Amount: amountPtr(12000), Status: "available", Type: "charge",
			Source: "ch_3", ReportingCategory: "charge", Created: epoch(2024, 3, 2, 4)},
	}

	engine := NewEngine(store, source, &fakeResolver{}, engineConfig())

	stats, err := engine.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.PayoutsApplied != 2 {
		t.Fatalf("PayoutsApplied = %d, want 2", stats.PayoutsApplied)
	}

	// Layout: header, stamped po_1, 3 derived, stamped po_2, 1 derived.
	if len(store.rows) != 7 {
		t.Fatalf("Sheet has %d rows, want 7", len(store.rows))
	}
	if store.rows[1][8] != "po_1" {
		t.Errorf("Row 2 stamp = %v, want po_1", store.rows[1][8])
	}
	if store.rows[5][8] != "po_2" {
		t.Errorf("Row 6 stamp = %v, want po_2 (shifted by 3 insertions)", store.rows[5][8])
	}
	if store.rows[6][2] != 120.00 {
		t.Errorf("Last derived amount = %v, want 120.00", store.rows[6][2])
	}
}

func TestRun_ListingFailureAbortsButStillReports(t *testing.T) {
	store := &fakeStore{rows: [][]interface{}{
		ledgerHeader(),
		payoutSheetRow("2024-03-01", -500.00, "Orig Co Name:stripe Orig ID:x8598"),
	}}
	source := &fakeSource{listErr: errors.New("upstream 503")}
	reporter := &fakeReporter{}
	audit := &fakeAudit{}

	engine := NewEngine(store, source, &fakeResolver{}, engineConfig()).
		WithAudit(audit).
		WithReporters(reporter)

	_, err := engine.Run(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("Run succeeded, want listing error to abort")
	}
	if reporter.calls != 1 || reporter.runErr == nil {
		t.Errorf("Reporter calls = %d (err %v), want 1 with the run error", reporter.calls, reporter.runErr)
	}
	if audit.finished != 1 || audit.lastErr == nil {
		t.Errorf("Audit finish = %d (err %v), want finalized with the run error", audit.finished, audit.lastErr)
	}
	if len(store.rows) != 2 {
		t.Errorf("Sheet mutated on aborted run: %d rows, want 2", len(store.rows))
	}
}

func TestRun_MissingRequiredColumnIsFatal(t *testing.T) {
	store := &fakeStore{rows: [][]interface{}{
		{"Date", "Description", "Receipt URL"},
	}}

	engine := NewEngine(store, balancedSource(), &fakeResolver{}, engineConfig())

	_, err := engine.Run(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("Run succeeded, want column resolution failure")
	}
}
