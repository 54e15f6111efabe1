package report

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/dvloznov/payout-reconciler/internal/domain"
)

// EmailReporter sends the run summary through the Gmail API.
type EmailReporter struct {
	service *gmail.Service
	userID  string
	to      string
}

// EmailConfig holds the OAuth2 material and the summary recipient.
type EmailConfig struct {
	CredentialsPath string // credentials.json from Google Cloud Console
	TokenPath       string // stored OAuth2 token
	To              string // summary recipient address
}

// NewEmailReporter creates a reporter authenticated for sending. The
// OAuth2 token must already exist at TokenPath; the interactive consent
// flow is out of scope for an unattended run.
func NewEmailReporter(ctx context.Context, cfg EmailConfig) (*EmailReporter, error) {
	credBytes, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("report: reading credentials file: %w", err)
	}

	oauthConfig, err := google.ConfigFromJSON(credBytes, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("report: parsing credentials: %w", err)
	}

	token, err := loadToken(cfg.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("report: loading OAuth token from %s: %w", cfg.TokenPath, err)
	}

	client := oauthConfig.Client(ctx, token)
	service, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("report: creating Gmail service: %w", err)
	}

	return &EmailReporter{
		service: service,
		userID:  "me",
		to:      cfg.To,
	}, nil
}

// Report implements the engine's reporter surface: one summary email
// per run, on every exit path.
func (r *EmailReporter) Report(ctx context.Context, stats *domain.RunStats, runErr error) error {
	raw := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		r.to, Subject(stats, runErr), Summary(stats, runErr))

	msg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
	}

	if _, err := r.service.Users.Messages.Send(r.userID, msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("report: sending summary email: %w", err)
	}
	return nil
}

// loadToken loads an OAuth2 token from file.
func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, err
	}

	return token, nil
}
