package receipts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/payout-reconciler/internal/classifier"
	"github.com/dvloznov/payout-reconciler/internal/logger"
)

// Request asks for one receipt URL to be resolved into a stored asset.
// The metadata fields feed the deterministic output filename.
type Request struct {
	URL          string
	Date         time.Time
	CustomerName string
	Category     string
	Description  string
}

// Asset is one stored receipt document. ObjectName identifies the blob
// for compensating deletion; DestinationURL is what gets written into
// the ledger.
type Asset struct {
	SourceURL      string
	ObjectName     string
	DestinationURL string
}

// Resolver fetches receipt documents, normalizes HTML receipts into
// PDFs, and persists everything to the asset store.
type Resolver struct {
	httpClient *http.Client
	store      AssetStore
	renderer   PDFRenderer
	hints      classifier.Classifier
	folder     string
}

// NewResolver creates a resolver writing under the given folder prefix.
func NewResolver(store AssetStore, renderer PDFRenderer, folder string) *Resolver {
	return &Resolver{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
		renderer:   renderer,
		folder:     strings.Trim(folder, "/"),
	}
}

// WithHTTPClient overrides the fetch client (used in tests).
func (r *Resolver) WithHTTPClient(h *http.Client) *Resolver {
	r.httpClient = h
	return r
}

// WithClassifier enables document classification for receipts whose
// charge metadata carries no customer name. Classifier failures only
// cost the filename detail.
func (r *Resolver) WithClassifier(c classifier.Classifier) *Resolver {
	r.hints = c
	return r
}

// Resolve fetches the requested receipts in one parallel batch and
// stores each. Requests sharing a URL are deduplicated: one stored
// asset, many references. Individual fetch or store failures are logged
// and skipped; they never fail the payout.
func (r *Resolver) Resolve(ctx context.Context, reqs []Request) map[string]Asset {
	log := logger.FromContext(ctx)

	// Dedupe by source URL; first request's metadata names the file.
	seen := make(map[string]bool, len(reqs))
	unique := make([]Request, 0, len(reqs))
	for _, req := range reqs {
		if req.URL == "" || seen[req.URL] {
			continue
		}
		seen[req.URL] = true
		unique = append(unique, req)
	}

	assets := make(map[string]Asset, len(unique))
	names := make(map[string]int)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, req := range unique {
		req := req
		wg.Add(1)
		go func() {
			defer wg.Done()

			data, contentType, err := r.fetch(ctx, req.URL)
			if err != nil {
				log.Warn().Err(err).Str("url", req.URL).Msg("Receipt fetch failed, skipping")
				return
			}

			if r.hints != nil && req.CustomerName == "" {
				hints, err := r.hints.Classify(ctx, contentType, data)
				if err != nil {
					log.Debug().Err(err).Str("url", req.URL).Msg("Receipt classification failed")
				} else if hints != nil {
					req.CustomerName = hints.CustomerName
					if req.Category == "" {
						req.Category = hints.Category
					}
					if req.Description == "" {
						req.Description = hints.Description
					}
				}
			}

			if isHTML(contentType) {
				normalized, err := NormalizeHTML(string(data), req.URL)
				if err != nil {
					log.Warn().Err(err).Str("url", req.URL).Msg("Receipt normalization failed, skipping")
					return
				}
				data, err = r.renderer.Render(ctx, normalized)
				if err != nil {
					log.Warn().Err(err).Str("url", req.URL).Msg("Receipt PDF conversion failed, skipping")
					return
				}
				contentType = "application/pdf"
			}

			mu.Lock()
			objectName := r.objectName(req, contentType, names)
			mu.Unlock()

			destURL, err := r.store.Put(ctx, objectName, contentType, data)
			if err != nil {
				log.Warn().Err(err).Str("url", req.URL).Msg("Receipt store failed, skipping")
				return
			}

			mu.Lock()
			assets[req.URL] = Asset{
				SourceURL:      req.URL,
				ObjectName:     objectName,
				DestinationURL: destURL,
			}
			mu.Unlock()

			log.Debug().Str("url", req.URL).Str("object", objectName).Msg("Receipt stored")
		}()
	}
	wg.Wait()

	return assets
}

func (r *Resolver) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("receipts: building request for %s: %w", url, err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("receipts: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("receipts: fetching %s: status %s", url, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("receipts: reading %s: %w", url, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return data, contentType, nil
}

// objectName builds the deterministic output name, numbering collisions
// within the batch. Caller holds the resolver mutex.
func (r *Resolver) objectName(req Request, contentType string, names map[string]int) string {
	base := Filename(req, contentType)
	names[base]++
	if n := names[base]; n > 1 {
		ext := extensionFor(contentType)
		stem := strings.TrimSuffix(base, ext)
		base = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
	if r.folder == "" {
		return base
	}
	return r.folder + "/" + base
}

// Filename renders the deterministic receipt filename:
// YYYYMMDD[ customer][ category description].ext with filesystem-unsafe
// characters replaced by underscore.
func Filename(req Request, contentType string) string {
	parts := []string{req.Date.Format("20060102")}
	if req.CustomerName != "" {
		parts = append(parts, req.CustomerName)
	}
	detail := strings.TrimSpace(strings.TrimSpace(req.Category) + " " + strings.TrimSpace(req.Description))
	if detail != "" {
		parts = append(parts, detail)
	}
	return sanitizeFilename(strings.Join(parts, " ")) + extensionFor(contentType)
}

const unsafeChars = `<>:"/\|?*`

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(unsafeChars, r) {
			return '_'
		}
		return r
	}, name)
}

func isHTML(contentType string) bool {
	return contentType == "text/html" || contentType == "application/xhtml+xml"
}

func extensionFor(contentType string) string {
	switch contentType {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
