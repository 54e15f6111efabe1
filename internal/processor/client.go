package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultBaseURL = "https://api.stripe.com"
	pageLimit      = 100
	chargePrefix   = "ch_"
)

// ErrNoCredential is returned when no API key is configured.
var ErrNoCredential = errors.New("processor: no API credential configured")

// UpstreamError is a non-success HTTP response from the processor API.
// It embeds the failing URL and response body for diagnosis.
type UpstreamError struct {
	URL    string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("processor: %s returned %d: %s", e.URL, e.Status, e.Body)
}

// Client provides access to the payment processor API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (used in tests against httptest).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a new processor API client with a bearer token.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseTimeBound parses a date bound. Date-only values parse as local
// midnight; values carrying an explicit time or zone marker parse as an
// absolute timestamp.
func ParseTimeBound(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	ts, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("processor: invalid date bound %q: %w", s, err)
	}
	return ts, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if c.apiKey == "" {
		return ErrNoCredential
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("processor: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("processor: %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("processor: reading response from %s: %w", reqURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{URL: reqURL, Status: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("processor: decoding response from %s: %w", reqURL, err)
	}
	return nil
}

// ListPayouts returns all payouts within the optional [start, end]
// window, following the starting_after cursor until the API reports no
// further pages. Order is preserved as returned by the API.
func (c *Client) ListPayouts(ctx context.Context, start, end *time.Time) ([]Payout, error) {
	var all []Payout
	startingAfter := ""

	for {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(pageLimit))
		if start != nil {
			query.Set("created[gte]", strconv.FormatInt(start.Unix(), 10))
		}
		if end != nil {
			query.Set("created[lte]", strconv.FormatInt(end.Unix(), 10))
		}
		if startingAfter != "" {
			query.Set("starting_after", startingAfter)
		}

		var page listEnvelope[Payout]
		if err := c.get(ctx, "/v1/payouts", query, &page); err != nil {
			return nil, err
		}

		all = append(all, page.Data...)
		if !page.HasMore || len(page.Data) == 0 {
			return all, nil
		}
		startingAfter = page.Data[len(page.Data)-1].ID
	}
}

// listBalanceTransactionsPage fetches one page of balance transactions
// for a payout, keyed by that payout's own cursor.
func (c *Client) listBalanceTransactionsPage(ctx context.Context, payoutID, startingAfter string) (listEnvelope[BalanceTransaction], error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(pageLimit))
	query.Set("payout", payoutID)
	if startingAfter != "" {
		query.Set("starting_after", startingAfter)
	}

	var page listEnvelope[BalanceTransaction]
	err := c.get(ctx, "/v1/balance_transactions", query, &page)
	return page, err
}

// BalanceTransactionsForPayouts retrieves the full balance transaction
// sequence for every payout id. Requests are issued as fan-out rounds:
// one request per payout in the first round, then one per payout that
// still reports more pages, each keyed by its own cursor, until no
// payout has further pages. Any non-success response aborts the whole
// retrieval.
func (c *Client) BalanceTransactionsForPayouts(ctx context.Context, payoutIDs []string) (map[string][]BalanceTransaction, error) {
	results := make(map[string][]BalanceTransaction, len(payoutIDs))
	cursors := make(map[string]string)

	pending := append([]string(nil), payoutIDs...)

	for len(pending) > 0 {
		var mu sync.Mutex
		next := make([]string, 0)

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range pending {
			id := id
			cursor := cursors[id]
			g.Go(func() error {
				page, err := c.listBalanceTransactionsPage(gctx, id, cursor)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				results[id] = append(results[id], page.Data...)
				if page.HasMore && len(page.Data) > 0 {
					cursors[id] = page.Data[len(page.Data)-1].ID
					next = append(next, id)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		pending = next
	}

	return results, nil
}

// GetCharge fetches one charge record.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	var charge Charge
	if err := c.get(ctx, "/v1/charges/"+chargeID, nil, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// IsChargeSource reports whether a balance transaction source id refers
// to a charge record.
func IsChargeSource(source string) bool {
	return strings.HasPrefix(source, chargePrefix)
}

// ChargesByID fetches the given charge ids in one parallel batch.
// Individual failures degrade gracefully: the id maps to nil and the
// owning transaction proceeds without receipt or customer name.
func (c *Client) ChargesByID(ctx context.Context, chargeIDs []string) map[string]*Charge {
	charges := make(map[string]*Charge, len(chargeIDs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range chargeIDs {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			charge, err := c.GetCharge(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				charges[id] = nil
				return
			}
			charges[id] = charge
		}()
	}
	wg.Wait()

	return charges
}
