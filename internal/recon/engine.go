package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/payout-reconciler/internal/domain"
	"github.com/dvloznov/payout-reconciler/internal/ledger"
	"github.com/dvloznov/payout-reconciler/internal/logger"
	"github.com/dvloznov/payout-reconciler/internal/processor"
	"github.com/dvloznov/payout-reconciler/internal/receipts"
)

// PayoutSource supplies processor records for a run. *processor.Client
// satisfies it.
type PayoutSource interface {
	ListPayouts(ctx context.Context, start, end *time.Time) ([]processor.Payout, error)
	BalanceTransactionsForPayouts(ctx context.Context, payoutIDs []string) (map[string][]processor.BalanceTransaction, error)
	ChargesByID(ctx context.Context, chargeIDs []string) map[string]*processor.Charge
}

// ReceiptResolver turns receipt URLs into stored assets.
// *receipts.Resolver satisfies it.
type ReceiptResolver interface {
	Resolve(ctx context.Context, reqs []receipts.Request) map[string]receipts.Asset
}

// AssetRemover deletes stored receipt assets during rollback.
// receipts.AssetStore satisfies it.
type AssetRemover interface {
	Delete(ctx context.Context, objectName string) error
}

// AuditSink records run lifecycle rows in the audit store.
type AuditSink interface {
	StartRun(ctx context.Context, stats *domain.RunStats) error
	FinishRun(ctx context.Context, stats *domain.RunStats, runErr error) error
}

// Reporter delivers the run summary to one destination. Reporters run
// on every exit path, including zero-match and failed runs.
type Reporter interface {
	Report(ctx context.Context, stats *domain.RunStats, runErr error) error
}

// Config carries the reconciliation labels and the ledger description
// prefix identifying payout rows.
type Config struct {
	DescriptionPrefix string
	Institution       string
	PayoutCategory    string
	FeeCategory       string
}

// Engine runs payout reconciliation end to end: scan, match, fetch,
// decompose, write, report. One Engine value serves many runs; all
// run-scoped state lives in RunStats.
type Engine struct {
	store      ledger.Store
	source     PayoutSource
	resolver   ReceiptResolver
	assets     AssetRemover
	audit      AuditSink
	reporters  []Reporter
	decomposer Decomposer
	prefix     string
}

// NewEngine wires the engine's required collaborators.
func NewEngine(store ledger.Store, source PayoutSource, resolver ReceiptResolver, cfg Config) *Engine {
	return &Engine{
		store:    store,
		source:   source,
		resolver: resolver,
		decomposer: Decomposer{
			Institution:    cfg.Institution,
			PayoutCategory: cfg.PayoutCategory,
			FeeCategory:    cfg.FeeCategory,
		},
		prefix: cfg.DescriptionPrefix,
	}
}

// WithAssetRemover enables compensating deletion of stored receipts.
func (e *Engine) WithAssetRemover(r AssetRemover) *Engine {
	e.assets = r
	return e
}

// WithAudit enables run lifecycle auditing.
func (e *Engine) WithAudit(a AuditSink) *Engine {
	e.audit = a
	return e
}

// WithReporters registers run summary destinations.
func (e *Engine) WithReporters(rs ...Reporter) *Engine {
	e.reporters = append(e.reporters, rs...)
	return e
}

// Run executes one reconciliation over the optional [start, end] date
// window. Per-payout failures are recorded in the returned stats and do
// not abort the run; failures outside the per-payout boundary (schema,
// credential, payout or transaction listing, rollback) do. The audit
// row and every registered reporter fire on all exit paths.
func (e *Engine) Run(ctx context.Context, start, end *time.Time) (*domain.RunStats, error) {
	stats := &domain.RunStats{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	log := logger.WithRun(logger.FromContext(ctx), stats.RunID)
	ctx = logger.WithContext(ctx, log)
	log.Info().Msg("Reconciliation run started")

	if e.audit != nil {
		if err := e.audit.StartRun(ctx, stats); err != nil {
			log.Warn().Err(err).Msg("Failed to record run start in audit store")
		}
	}

	runErr := e.run(ctx, stats, start, end)

	if e.audit != nil {
		if err := e.audit.FinishRun(ctx, stats, runErr); err != nil {
			log.Warn().Err(err).Msg("Failed to finalize audit row")
		}
	}
	for _, r := range e.reporters {
		if err := r.Report(ctx, stats, runErr); err != nil {
			log.Warn().Err(err).Msg("Run summary delivery failed")
		}
	}

	log.Info().
		Str("status", string(stats.Status())).
		Int("matched", stats.PayoutsMatched).
		Int("applied", stats.PayoutsApplied).
		Int("failed", stats.PayoutsFailed).
		Msg("Reconciliation run finished")

	return stats, runErr
}

func (e *Engine) run(ctx context.Context, stats *domain.RunStats, start, end *time.Time) error {
	log := logger.FromContext(ctx)

	snapshot, err := e.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("recon: reading ledger snapshot: %w", err)
	}
	if len(snapshot) == 0 {
		return fmt.Errorf("recon: ledger sheet has no header row")
	}

	cols, err := ledger.ResolveColumns(snapshot[0])
	if err != nil {
		return err
	}
	writer := ledger.NewWriter(e.store, cols)

	candidates := ledger.Scan(snapshot, cols, e.prefix, start, end)
	stats.CandidateRows = len(candidates)
	if len(candidates) == 0 {
		log.Info().Msg("No candidate payout rows in window")
		return nil
	}

	payouts, err := e.source.ListPayouts(ctx, start, end)
	if err != nil {
		return fmt.Errorf("recon: listing payouts: %w", err)
	}
	stats.PayoutsListed = len(payouts)

	type match struct {
		row    domain.LedgerRow
		payout processor.Payout
	}
	var matches []match
	for _, row := range candidates {
		p := MatchPayout(row, payouts)
		if p == nil {
			log.Debug().
				Int("row", row.Index).
				Str("date", row.Date.Format("2006-01-02")).
				Str("amount", row.Amount.StringFixed(2)).
				Msg("No payout matched ledger row, skipping")
			continue
		}
		matches = append(matches, match{row: row, payout: *p})
	}
	stats.PayoutsMatched = len(matches)
	if len(matches) == 0 {
		log.Info().Msg("No ledger rows matched a payout")
		return nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.payout.ID
	}
	txnsByPayout, err := e.source.BalanceTransactionsForPayouts(ctx, ids)
	if err != nil {
		return fmt.Errorf("recon: fetching balance transactions: %w", err)
	}

	charges := e.source.ChargesByID(ctx, chargeIDs(txnsByPayout))

	// Insertions shift every later row down; offset keeps later matches
	// pointing at their live positions.
	offset := 0
	for _, m := range matches {
		outcome, err := e.applyPayout(ctx, writer, snapshot, stats, m.row, m.payout, m.row.Index+offset, txnsByPayout[m.payout.ID], charges)
		stats.Outcomes = append(stats.Outcomes, outcome)
		if err != nil {
			stats.PayoutsFailed++
			return err
		}
		if outcome.Err != nil {
			stats.PayoutsFailed++
			log.Error().Err(outcome.Err).Msg("Payout failed, continuing with next")
			continue
		}
		stats.PayoutsApplied++
		offset += outcome.RowsInserted
	}

	return nil
}

// applyPayout processes one matched payout: resolve receipts, stage and
// validate derived rows, then insert and stamp. The returned error is
// non-nil only when rollback itself failed; ordinary payout failures
// travel in outcome.Err after compensation.
func (e *Engine) applyPayout(ctx context.Context, writer *ledger.Writer, snapshot [][]interface{}, stats *domain.RunStats, row domain.LedgerRow, payout processor.Payout, liveRow int, txns []processor.BalanceTransaction, charges map[string]*processor.Charge) (domain.PayoutOutcome, error) {
	log := logger.FromContext(ctx)
	outcome := domain.PayoutOutcome{
		PayoutID:    payout.ID,
		RowIndex:    liveRow,
		Date:        row.Date,
		Description: row.Description,
		Amount:      row.Amount,
	}
	fail := func(err error) domain.PayoutOutcome {
		outcome.Err = &PayoutError{
			PayoutID:    payout.ID,
			RowIndex:    liveRow,
			Date:        row.Date,
			Description: row.Description,
			Amount:      row.Amount,
			Err:         err,
		}
		return outcome
	}

	reqs := receiptRequests(row, txns, charges)
	for _, req := range reqs {
		stats.AddURL(req.URL)
	}
	assets := e.resolver.Resolve(ctx, reqs)

	receiptURLs := make(map[string]string, len(assets))
	for src, asset := range assets {
		receiptURLs[src] = asset.DestinationURL
		stats.AddFile(asset.ObjectName)
		outcome.FilesAdded = append(outcome.FilesAdded, asset.ObjectName)
	}

	// Stage everything and validate conservation before touching the
	// ledger; rollback then only covers partial write failures.
	derived := e.decomposer.Decompose(row, payout, txns, charges, receiptURLs)
	if err := CheckConservation(derived, row.Amount.Abs()); err != nil {
		e.removeAssets(ctx, assets)
		return fail(err), nil
	}

	// Rows at and below the payout row, as they were before this run
	// mutated anything at or below the live position.
	original := snapshot[row.Index-1:]

	inserted, err := writer.InsertDerived(ctx, liveRow, derived)
	if err != nil {
		if rbErr := e.rollback(ctx, writer, liveRow, original, inserted, assets); rbErr != nil {
			return outcome, &RollbackError{Cause: err, Rollback: rbErr}
		}
		return fail(fmt.Errorf("inserting derived rows: %w", err)), nil
	}

	if err := writer.StampProcessed(ctx, liveRow, payout.ID); err != nil {
		if rbErr := e.rollback(ctx, writer, liveRow, original, inserted, assets); rbErr != nil {
			return outcome, &RollbackError{Cause: err, Rollback: rbErr}
		}
		return fail(fmt.Errorf("stamping payout row: %w", err)), nil
	}

	outcome.RowsInserted = inserted
	log.Info().
		Str("payout", payout.ID).
		Int("row", liveRow).
		Int("rows_inserted", inserted).
		Int("receipts", len(assets)).
		Msg("Payout reconciled")
	return outcome, nil
}

// rollback compensates a failed payout: stored receipts are deleted
// best-effort, then the ledger region is restored to its pre-run
// contents.
func (e *Engine) rollback(ctx context.Context, writer *ledger.Writer, liveRow int, original [][]interface{}, inserted int, assets map[string]receipts.Asset) error {
	e.removeAssets(ctx, assets)
	return writer.Restore(ctx, liveRow, original, inserted)
}

func (e *Engine) removeAssets(ctx context.Context, assets map[string]receipts.Asset) {
	if e.assets == nil {
		return
	}
	log := logger.FromContext(ctx)
	for _, asset := range assets {
		if err := e.assets.Delete(ctx, asset.ObjectName); err != nil {
			log.Warn().Err(err).Str("object", asset.ObjectName).Msg("Failed to delete receipt asset during rollback")
		}
	}
}

// receiptRequests builds the deduplicated receipt fetch batch for one
// payout's transactions.
func receiptRequests(row domain.LedgerRow, txns []processor.BalanceTransaction, charges map[string]*processor.Charge) []receipts.Request {
	var reqs []receipts.Request
	seen := make(map[string]bool)

	for i := range txns {
		txn := &txns[i]
		if !txn.IsAvailable() || !processor.IsChargeSource(txn.Source) {
			continue
		}
		charge := charges[txn.Source]
		if charge == nil || charge.ReceiptURL == "" || seen[charge.ReceiptURL] {
			continue
		}
		seen[charge.ReceiptURL] = true
		reqs = append(reqs, receipts.Request{
			URL:          charge.ReceiptURL,
			Date:         transactionDay(txn, row),
			CustomerName: charge.CustomerName(),
			Category:     txn.ReportingCategory,
			Description:  txn.Description,
		})
	}
	return reqs
}

// chargeIDs collects the distinct charge ids referenced across all
// fetched transactions.
func chargeIDs(txnsByPayout map[string][]processor.BalanceTransaction) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, txns := range txnsByPayout {
		for i := range txns {
			src := txns[i].Source
			if processor.IsChargeSource(src) && !seen[src] {
				seen[src] = true
				ids = append(ids, src)
			}
		}
	}
	return ids
}
