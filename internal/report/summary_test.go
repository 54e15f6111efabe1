package report

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/payout-reconciler/internal/domain"
)

func sampleStats() *domain.RunStats {
	return &domain.RunStats{
		RunID:          "run-123",
		StartedAt:      time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		CandidateRows:  4,
		PayoutsListed:  3,
		PayoutsMatched: 2,
		PayoutsApplied: 1,
		PayoutsFailed:  1,
		FilesAdded:     []string{"receipts/20240301 Acme.pdf"},
		URLsAccessed:   []string{"https://pay.example.com/receipts/1"},
		Outcomes: []domain.PayoutOutcome{
			{
				PayoutID:     "po_1",
				RowIndex:     5,
				Date:         time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
				Amount:       decimal.RequireFromString("-500"),
				RowsInserted: 3,
				FilesAdded:   []string{"receipts/20240301 Acme.pdf"},
			},
			{
				PayoutID: "po_2",
				RowIndex: 9,
				Date:     time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
				Amount:   decimal.RequireFromString("-120"),
				Err:      errors.New("receipt fetch timed out"),
			},
		},
	}
}

func TestSummary_IncludesCountersAndOutcomes(t *testing.T) {
	got := Summary(sampleStats(), nil)

	for _, want := range []string{
		"Reconciliation run run-123: PARTIAL",
		"Candidate ledger rows: 4",
		"Payouts listed: 3",
		"Payouts applied: 1",
		"Payouts failed: 1",
		"receipts/20240301 Acme.pdf",
		"https://pay.example.com/receipts/1",
		"2024-03-01 po_1 -500.00 (row 5): 3 rows inserted, 1 receipts",
		"2024-03-02 po_2 -120.00 (row 9): FAILED: receipt fetch timed out",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q\n\n%s", want, got)
		}
	}

	if strings.Contains(got, "Run error:") {
		t.Errorf("summary should not contain a run error section:\n%s", got)
	}
}

func TestSummary_RunErrorForcesFailedHeadline(t *testing.T) {
	stats := sampleStats()
	got := Summary(stats, errors.New("payout listing failed"))

	if !strings.Contains(got, "Reconciliation run run-123: FAILED") {
		t.Errorf("headline should report FAILED:\n%s", got)
	}
	if !strings.Contains(got, "Run error: payout listing failed") {
		t.Errorf("summary missing run error:\n%s", got)
	}
}

func TestSummary_CleanRunOmitsOptionalSections(t *testing.T) {
	stats := &domain.RunStats{
		RunID:     "run-empty",
		StartedAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	got := Summary(stats, nil)

	if !strings.Contains(got, "Reconciliation run run-empty: SUCCESS") {
		t.Errorf("headline should report SUCCESS:\n%s", got)
	}
	for _, section := range []string{"Files added:", "URLs accessed:", "Payouts:"} {
		if strings.Contains(got, section) {
			t.Errorf("empty run should omit %q section:\n%s", section, got)
		}
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name   string
		stats  *domain.RunStats
		runErr error
		want   string
	}{
		{
			name:  "partial run",
			stats: sampleStats(),
			want:  "Payout reconciliation PARTIAL: 1 applied, 1 failed",
		},
		{
			name:   "run error",
			stats:  sampleStats(),
			runErr: errors.New("boom"),
			want:   "Payout reconciliation FAILED: 1 applied, 1 failed",
		},
		{
			name:  "clean run",
			stats: &domain.RunStats{PayoutsApplied: 2},
			want:  "Payout reconciliation SUCCESS: 2 applied, 0 failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Subject(tt.stats, tt.runErr); got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}
