package report

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrRenderingDisabled is returned when PDF output is switched off.
var ErrRenderingDisabled = errors.New("pdf rendering disabled")

// Renderer turns a control sheet into a printable artifact.
type Renderer interface {
	Render(ctx context.Context, sheet ControlSheet) ([]byte, error)
	ContentType() string
}

// PDFRenderer prints control sheets via headless Chromium.
type PDFRenderer struct {
	cfg Config
	tz  *time.Location
}

func NewPDFRenderer(cfg Config) PDFRenderer {
	tz, err := time.LoadLocation(cfg.PDFTimeZone)
	if err != nil {
		tz = time.UTC
	}
	return PDFRenderer{cfg: cfg, tz: tz}
}

func (r PDFRenderer) ContentType() string { return "application/pdf" }

// Render builds the sheet HTML and prints it. If Chromium is unavailable it
// returns an error so the queue can retry.
func (r PDFRenderer) Render(ctx context.Context, sheet ControlSheet) ([]byte, error) {
	if !r.cfg.PDFEnabled {
		return nil, ErrRenderingDisabled
	}
	html, err := renderHTML(sheet, r.tz)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if r.cfg.PDFChromiumPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.cfg.PDFChromiumPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	timeout := r.cfg.PDFTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	runCtx, cancelRun := chromedp.NewContext(allocCtx)
	defer cancelRun()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	defer cancelTimeout()

	var pdf []byte
	err = chromedp.Run(runCtx,
		chromedp.Navigate("data:text/html,"+url.PathEscape(html)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, perr := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			if perr == nil {
				pdf = buf
			}
			return perr
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp run failed: %w", err)
	}
	return pdf, nil
}

// HTMLRenderer returns the sheet markup without printing it. It backs
// deployments without Chromium.
type HTMLRenderer struct {
	tz *time.Location
}

func NewHTMLRenderer(cfg Config) HTMLRenderer {
	tz, err := time.LoadLocation(cfg.PDFTimeZone)
	if err != nil {
		tz = time.UTC
	}
	return HTMLRenderer{tz: tz}
}

func (r HTMLRenderer) ContentType() string { return "text/html; charset=utf-8" }

func (r HTMLRenderer) Render(_ context.Context, sheet ControlSheet) ([]byte, error) {
	html, err := renderHTML(sheet, r.tz)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return []byte(html), nil
}
