package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestListPayouts_Pagination(t *testing.T) {
	// Upstream reports has_more=true for exactly 2 pages, then false.
	// The client must issue exactly 3 requests and concatenate in order.
	var requests int32
	pages := [][]Payout{
		{{ID: "po_1"}, {ID: "po_2"}},
		{{ID: "po_3"}},
		{{ID: "po_4"}},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test" {
			t.Errorf("Unexpected Authorization header: %q", auth)
		}

		switch n {
		case 2:
			if got := r.URL.Query().Get("starting_after"); got != "po_2" {
				t.Errorf("Page 2 starting_after = %q, want po_2", got)
			}
		case 3:
			if got := r.URL.Query().Get("starting_after"); got != "po_3" {
				t.Errorf("Page 3 starting_after = %q, want po_3", got)
			}
		}

		resp := listEnvelope[Payout]{
			Data:    pages[n-1],
			HasMore: n < 3,
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("sk_test", WithBaseURL(srv.URL))
	payouts, err := client.ListPayouts(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("ListPayouts failed: %v", err)
	}

	if requests != 3 {
		t.Errorf("Issued %d requests, want 3", requests)
	}
	wantIDs := []string{"po_1", "po_2", "po_3", "po_4"}
	if len(payouts) != len(wantIDs) {
		t.Fatalf("Got %d payouts, want %d", len(payouts), len(wantIDs))
	}
	for i, want := range wantIDs {
		if payouts[i].ID != want {
			t.Errorf("payouts[%d].ID = %q, want %q", i, payouts[i].ID, want)
		}
	}
}

func TestListPayouts_DateWindow(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("created[gte]"); got != fmt.Sprint(start.Unix()) {
			t.Errorf("created[gte] = %q, want %d", got, start.Unix())
		}
		if got := q.Get("created[lte]"); got != fmt.Sprint(end.Unix()) {
			t.Errorf("created[lte] = %q, want %d", got, end.Unix())
		}
		if got := q.Get("limit"); got != "100" {
			t.Errorf("limit = %q, want 100", got)
		}
		json.NewEncoder(w).Encode(listEnvelope[Payout]{})
	}))
	defer srv.Close()

	client := NewClient("sk_test", WithBaseURL(srv.URL))
	if _, err := client.ListPayouts(context.Background(), &start, &end); err != nil {
		t.Fatalf("ListPayouts failed: %v", err)
	}
}

func TestListPayouts_NoCredential(t *testing.T) {
	client := NewClient("")
	_, err := client.ListPayouts(context.Background(), nil, nil)
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("Expected ErrNoCredential, got: %v", err)
	}
}

func TestListPayouts_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	client := NewClient("sk_test", WithBaseURL(srv.URL))
	_, err := client.ListPayouts(context.Background(), nil, nil)

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Expected *UpstreamError, got: %v", err)
	}
	if upstream.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", upstream.Status)
	}
	if upstream.Body != `{"error":"boom"}` {
		t.Errorf("Body = %q, want error body embedded", upstream.Body)
	}
	if upstream.URL == "" {
		t.Error("Expected failing URL to be embedded")
	}
}

func TestBalanceTransactionsForPayouts_FanOutRounds(t *testing.T) {
	// po_a has two pages, po_b one. Round 1 fetches both; round 2
	// fetches only po_a keyed by its own cursor.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		payout := q.Get("payout")
		cursor := q.Get("starting_after")

		var resp listEnvelope[BalanceTransaction]
		switch {
		case payout == "po_a" && cursor == "":
			resp = listEnvelope[BalanceTransaction]{
				Data:    []BalanceTransaction{{ID: "txn_a1"}, {ID: "txn_a2"}},
				HasMore: true,
			}
		case payout == "po_a" && cursor == "txn_a2":
			resp = listEnvelope[BalanceTransaction]{
				Data: []BalanceTransaction{{ID: "txn_a3"}},
			}
		case payout == "po_b" && cursor == "":
			resp = listEnvelope[BalanceTransaction]{
				Data: []BalanceTransaction{{ID: "txn_b1"}},
			}
		default:
			t.Errorf("Unexpected request: payout=%q cursor=%q", payout, cursor)
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("sk_test", WithBaseURL(srv.URL))
	got, err := client.BalanceTransactionsForPayouts(context.Background(), []string{"po_a", "po_b"})
	if err != nil {
		t.Fatalf("BalanceTransactionsForPayouts failed: %v", err)
	}

	if len(got["po_a"]) != 3 {
		t.Errorf("po_a transactions = %d, want 3", len(got["po_a"]))
	}
	for i, want := range []string{"txn_a1", "txn_a2", "txn_a3"} {
		if got["po_a"][i].ID != want {
			t.Errorf("po_a[%d] = %q, want %q (order must be preserved)", i, got["po_a"][i].ID, want)
		}
	}
	if len(got["po_b"]) != 1 || got["po_b"][0].ID != "txn_b1" {
		t.Errorf("po_b transactions = %+v, want [txn_b1]", got["po_b"])
	}
}

func TestBalanceTransactionsForPayouts_AbortsOnUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("payout") == "po_bad" {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
			return
		}
		json.NewEncoder(w).Encode(listEnvelope[BalanceTransaction]{})
	}))
	defer srv.Close()

	client := NewClient("sk_test", WithBaseURL(srv.URL))
	_, err := client.BalanceTransactionsForPayouts(context.Background(), []string{"po_ok", "po_bad"})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Expected *UpstreamError to abort the batch, got: %v", err)
	}
}

func TestChargesByID_DegradesGracefully(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/charges/ch_ok":
			json.NewEncoder(w).Encode(Charge{
				ID:         "ch_ok",
				ReceiptURL: "https://pay.example.com/receipts/1",
				Metadata:   map[string]string{"customerName": "Acme Ltd"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("no such charge"))
		}
	}))
	defer srv.Close()

	client := NewClient("sk_test", WithBaseURL(srv.URL))
	charges := client.ChargesByID(context.Background(), []string{"ch_ok", "ch_missing"})

	if charges["ch_ok"] == nil {
		t.Fatal("Expected ch_ok to be fetched")
	}
	if got := charges["ch_ok"].CustomerName(); got != "Acme Ltd" {
		t.Errorf("CustomerName = %q, want Acme Ltd", got)
	}
	if charges["ch_missing"] != nil {
		t.Error("Expected failed charge fetch to map to nil, not abort")
	}
}

func TestIsChargeSource(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"ch_1Abc", true},
		{"po_1Abc", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsChargeSource(tt.source); got != tt.want {
			t.Errorf("IsChargeSource(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestParseTimeBound(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name:  "date only parses as local midnight",
			input: "2024-03-01",
			want:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local),
		},
		{
			name:  "explicit zone parses as absolute",
			input: "2024-03-01T12:30:00Z",
			want:  time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		},
		{
			name:  "datetime without zone",
			input: "2024-03-01T08:00:00",
			want:  time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		},
		{
			name:    "garbage",
			input:   "not-a-date",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeBound(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimeBound(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && !got.Equal(tt.want) {
				t.Errorf("ParseTimeBound(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
