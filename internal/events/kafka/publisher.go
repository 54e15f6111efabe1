// Package kafka publishes reconciliation run outcome events.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dvloznov/payout-reconciler/internal/domain"
)

// RunCompletedEvent is the payload published after every run.
type RunCompletedEvent struct {
	RunID          string    `json:"run_id"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	PayoutsMatched int       `json:"payouts_matched"`
	PayoutsApplied int       `json:"payouts_applied"`
	PayoutsFailed  int       `json:"payouts_failed"`
	FilesAdded     int       `json:"files_added"`
	Error          string    `json:"error,omitempty"`
}

// Publisher writes run outcome events to the reconciliation topic. It
// satisfies the engine's reporter surface so runs emit an event on
// every exit path.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a publisher for the reconciliation_completed
// topic.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    "reconciliation_completed",
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Report implements the engine's reporter surface.
func (p *Publisher) Report(ctx context.Context, stats *domain.RunStats, runErr error) error {
	status := stats.Status()
	errMsg := ""
	if runErr != nil {
		status = domain.RunStatusFailed
		errMsg = runErr.Error()
	}

	event := RunCompletedEvent{
		RunID:          stats.RunID,
		Status:         string(status),
		StartedAt:      stats.StartedAt,
		FinishedAt:     time.Now().UTC(),
		PayoutsMatched: stats.PayoutsMatched,
		PayoutsApplied: stats.PayoutsApplied,
		PayoutsFailed:  stats.PayoutsFailed,
		FilesAdded:     len(stats.FilesAdded),
		Error:          errMsg,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: marshaling run event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(stats.RunID),
		Value: data,
	}); err != nil {
		return fmt.Errorf("kafka: publishing run event: %w", err)
	}
	return nil
}
