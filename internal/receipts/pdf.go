package receipts

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// PDFRenderer converts a normalized HTML document into PDF bytes.
type PDFRenderer interface {
	Render(ctx context.Context, htmlDoc string) ([]byte, error)
}

// ChromeRenderer renders PDFs with headless Chrome via chromedp.
type ChromeRenderer struct {
	Timeout time.Duration
}

// NewChromeRenderer creates a renderer with a sensible default timeout.
func NewChromeRenderer() *ChromeRenderer {
	return &ChromeRenderer{Timeout: 30 * time.Second}
}

// Render implements PDFRenderer.
func (r *ChromeRenderer) Render(ctx context.Context, htmlDoc string) ([]byte, error) {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
		)...,
	)
	defer cancel()

	chromeCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	chromeCtx, cancel = context.WithTimeout(chromeCtx, r.Timeout)
	defer cancel()

	var pdfData []byte
	err := chromedp.Run(chromeCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, htmlDoc).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfData, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, err
	}
	return pdfData, nil
}
