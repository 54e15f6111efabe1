package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Scope identifies where a setting value lives. Reads resolve the
// narrowest declared scope outward: user, then document, then process.
type Scope string

const (
	// ScopeProcess holds deployment-wide values (env, config file).
	ScopeProcess Scope = "process"
	// ScopeDocument holds values tied to one ledger spreadsheet.
	ScopeDocument Scope = "document"
	// ScopeUser holds values tied to the operating user.
	ScopeUser Scope = "user"
)

// Property describes one allow-listed setting key.
type Property struct {
	Key      string
	Required bool
	Scopes   []Scope // scopes a write may target
	Default  string
}

// Setting keys consumed by the reconciliation engine and its reporters.
const (
	KeyAPIKey           = "processor.api_key"
	KeyPayoutPrefix     = "payout.description_prefix"
	KeySummaryEmail     = "report.summary_email"
	KeyInstitutionName  = "ledger.institution_name"
	KeyPayoutCategory   = "ledger.payout_category"
	KeyFeeCategory      = "ledger.fee_category"
	KeyReceiptsBucket   = "receipts.bucket"
	KeyReceiptsFolder   = "receipts.folder"
	KeySpreadsheetID    = "ledger.spreadsheet_id"
	KeySheetName        = "ledger.sheet_name"
	KeyBigQueryProject  = "audit.bigquery_project"
	KeyBigQueryDataset  = "audit.bigquery_dataset"
	KeyNotionToken      = "report.notion_token"
	KeyNotionDatabaseID = "report.notion_database_id"
	KeyKafkaBrokers     = "events.kafka_brokers"
	KeyGeminiModel      = "classifier.gemini_model"
	KeyGmailCredentials = "report.gmail_credentials"
	KeyGmailToken       = "report.gmail_token"
)

// registry is the allow-list of properties the settings surface accepts.
var registry = map[string]Property{
	KeyAPIKey:           {Key: KeyAPIKey, Required: true, Scopes: []Scope{ScopeProcess, ScopeUser}},
	KeyPayoutPrefix:     {Key: KeyPayoutPrefix, Required: true, Scopes: []Scope{ScopeProcess, ScopeDocument}, Default: "Orig Co Name:stripe"},
	KeySummaryEmail:     {Key: KeySummaryEmail, Required: false, Scopes: []Scope{ScopeProcess, ScopeUser}},
	KeyInstitutionName:  {Key: KeyInstitutionName, Required: false, Scopes: []Scope{ScopeProcess, ScopeDocument}, Default: "Stripe"},
	KeyPayoutCategory:   {Key: KeyPayoutCategory, Required: false, Scopes: []Scope{ScopeProcess, ScopeDocument}, Default: "Transfer"},
	KeyFeeCategory:      {Key: KeyFeeCategory, Required: false, Scopes: []Scope{ScopeProcess, ScopeDocument}, Default: "Bank Charges"},
	KeyReceiptsBucket:   {Key: KeyReceiptsBucket, Required: true, Scopes: []Scope{ScopeProcess}},
	KeyReceiptsFolder:   {Key: KeyReceiptsFolder, Required: false, Scopes: []Scope{ScopeProcess, ScopeDocument}, Default: "receipts"},
	KeySpreadsheetID:    {Key: KeySpreadsheetID, Required: true, Scopes: []Scope{ScopeProcess, ScopeDocument}},
	KeySheetName:        {Key: KeySheetName, Required: false, Scopes: []Scope{ScopeProcess, ScopeDocument}, Default: "Transactions"},
	KeyBigQueryProject:  {Key: KeyBigQueryProject, Required: false, Scopes: []Scope{ScopeProcess}},
	KeyBigQueryDataset:  {Key: KeyBigQueryDataset, Required: false, Scopes: []Scope{ScopeProcess}, Default: "reconciliation"},
	KeyNotionToken:      {Key: KeyNotionToken, Required: false, Scopes: []Scope{ScopeProcess, ScopeUser}},
	KeyNotionDatabaseID: {Key: KeyNotionDatabaseID, Required: false, Scopes: []Scope{ScopeProcess}},
	KeyKafkaBrokers:     {Key: KeyKafkaBrokers, Required: false, Scopes: []Scope{ScopeProcess}},
	KeyGeminiModel:      {Key: KeyGeminiModel, Required: false, Scopes: []Scope{ScopeProcess}, Default: "gemini-2.0-flash"},
	KeyGmailCredentials: {Key: KeyGmailCredentials, Required: false, Scopes: []Scope{ScopeProcess, ScopeUser}, Default: "credentials.json"},
	KeyGmailToken:       {Key: KeyGmailToken, Required: false, Scopes: []Scope{ScopeProcess, ScopeUser}, Default: "token.json"},
}

// Settings is the scoped settings surface. Process scope is backed by
// viper (environment plus an optional YAML file); document and user
// scopes are explicit maps populated by callers. Safe for concurrent
// use.
type Settings struct {
	mu       sync.RWMutex
	v        *viper.Viper
	document map[string]string
	user     map[string]string
}

// Load builds the settings surface. cfgFile may be empty, in which case
// only environment variables back the process scope. Environment keys
// use underscores with a RECON_ prefix, e.g. processor.api_key →
// RECON_PROCESSOR_API_KEY.
func Load(cfgFile string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, p := range registry {
		if p.Default != "" {
			v.SetDefault(p.Key, p.Default)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", cfgFile, err)
		}
	}

	return &Settings{
		v:        v,
		document: make(map[string]string),
		user:     make(map[string]string),
	}, nil
}

// Get resolves key through the scope fallback chain: user, document,
// then process. Unknown keys resolve to the empty string.
func (s *Settings) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if val, ok := s.user[key]; ok && val != "" {
		return val
	}
	if val, ok := s.document[key]; ok && val != "" {
		return val
	}
	return s.v.GetString(key)
}

// Set writes a value into the given scope. The key must be on the
// allow-list and the scope must be permitted for that key.
func (s *Settings) Set(scope Scope, key, value string) error {
	prop, ok := registry[key]
	if !ok {
		return fmt.Errorf("config: unknown setting %q", key)
	}
	permitted := false
	for _, sc := range prop.Scopes {
		if sc == scope {
			permitted = true
			break
		}
	}
	if !permitted {
		return fmt.Errorf("config: setting %q may not be written at scope %q", key, scope)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch scope {
	case ScopeUser:
		s.user[key] = value
	case ScopeDocument:
		s.document[key] = value
	case ScopeProcess:
		s.v.Set(key, value)
	default:
		return fmt.Errorf("config: unknown scope %q", scope)
	}
	return nil
}

// Validate checks that every required setting resolves to a non-empty
// value through the fallback chain.
func (s *Settings) Validate() error {
	var missing []string
	for key, prop := range registry {
		if prop.Required && s.Get(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Properties returns the allow-list, for surfacing in diagnostics.
func Properties() []Property {
	props := make([]Property, 0, len(registry))
	for _, p := range registry {
		props = append(props, p)
	}
	return props
}
