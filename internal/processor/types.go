// Package processor provides a client for the payment processor API:
// payout listing, balance transaction retrieval and charge lookup.
package processor

// Payout is a single bank transfer from the processor aggregating many
// underlying charges and fees. Amount is in currency minor units.
type Payout struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	ArrivalDate int64  `json:"arrival_date"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

// FeeDetail is one fee component attached to a balance transaction.
type FeeDetail struct {
	Type        string `json:"type"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// BalanceTransaction is one processor-side ledger entry contributing to
// a payout: a charge, refund or fee. Only status "available" entries
// take part in decomposition.
type BalanceTransaction struct {
	ID                string      `json:"id"`
	Amount            *int64      `json:"amount"`
	Status            string      `json:"status"`
	Type              string      `json:"type"`
	Source            string      `json:"source"`
	ReportingCategory string      `json:"reporting_category"`
	Description       string      `json:"description"`
	Created           int64       `json:"created"`
	FeeDetails        []FeeDetail `json:"fee_details"`
}

// Charge carries the receipt evidence for a balance transaction.
type Charge struct {
	ID         string            `json:"id"`
	ReceiptURL string            `json:"receipt_url"`
	Metadata   map[string]string `json:"metadata"`
}

// CustomerName returns the customer name recorded on the charge
// metadata, if any.
func (c *Charge) CustomerName() string {
	if c == nil {
		return ""
	}
	return c.Metadata["customerName"]
}

// listEnvelope is the processor's pagination envelope.
type listEnvelope[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}

// StatusAvailable is the only balance transaction status processed by
// the decomposition engine.
const StatusAvailable = "available"

// IsAvailable reports whether the transaction settles into the payout.
func (t *BalanceTransaction) IsAvailable() bool {
	return t.Status == StatusAvailable
}
