package report

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/payout-reconciler/internal/domain"
)

// NotionReporter records each run as a page in a Notion database, one
// page per run with the counters as queryable properties.
type NotionReporter struct {
	client     *notionapi.Client
	databaseID string
}

// NewNotionReporter creates a reporter using the official Notion SDK.
func NewNotionReporter(token, databaseID string) *NotionReporter {
	return &NotionReporter{
		client:     notionapi.NewClient(notionapi.Token(token)),
		databaseID: databaseID,
	}
}

// Report implements the engine's reporter surface.
func (r *NotionReporter) Report(ctx context.Context, stats *domain.RunStats, runErr error) error {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(r.databaseID),
		},
		Properties: RunToNotionProperties(stats, runErr),
	}

	if _, err := r.client.Page.Create(ctx, req); err != nil {
		return fmt.Errorf("report: creating Notion run page: %w", err)
	}
	return nil
}

// RunToNotionProperties maps the run stats onto the database schema.
func RunToNotionProperties(stats *domain.RunStats, runErr error) notionapi.Properties {
	status := stats.Status()
	if runErr != nil {
		status = domain.RunStatusFailed
	}

	props := notionapi.Properties{
		"Run ID": notionapi.TitleProperty{
			Title: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: stats.RunID,
					},
				},
			},
		},
		"Status": notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: string(status),
			},
		},
		"Started": notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: func() *notionapi.Date {
					d := notionapi.Date(stats.StartedAt)
					return &d
				}(),
			},
		},
		"Matched": notionapi.NumberProperty{Number: float64(stats.PayoutsMatched)},
		"Applied": notionapi.NumberProperty{Number: float64(stats.PayoutsApplied)},
		"Failed":  notionapi.NumberProperty{Number: float64(stats.PayoutsFailed)},
		"Files":   notionapi.NumberProperty{Number: float64(len(stats.FilesAdded))},
	}

	summary := truncateForNotion(Summary(stats, runErr))
	props["Summary"] = notionapi.RichTextProperty{
		RichText: []notionapi.RichText{
			{
				Type: notionapi.ObjectTypeText,
				Text: &notionapi.Text{
					Content: summary,
				},
			},
		},
	}

	if runErr != nil {
		props["Error"] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{
				{
					Type: notionapi.ObjectTypeText,
					Text: &notionapi.Text{
						Content: truncateForNotion(runErr.Error()),
					},
				},
			},
		}
	}

	return props
}

// truncateForNotion keeps rich text under the API's 2000 character
// limit per text object.
func truncateForNotion(s string) string {
	const maxLen = 2000
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
