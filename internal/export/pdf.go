package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"juris/internal/logging"
	"juris/internal/types"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	defaultPDFTimeout = 60 * time.Second
	maxConcurrentPDF  = 2
)

// PDFRenderer prints HTML to PDF with a short-lived headless Chromium per
// document.
type PDFRenderer struct {
	bin     string
	timeout time.Duration
	sem     chan struct{}
}

// NewPDFRenderer builds a renderer. An empty bin searches the usual
// install locations at render time.
func NewPDFRenderer(bin string, timeout time.Duration) *PDFRenderer {
	if timeout <= 0 {
		timeout = defaultPDFTimeout
	}
	return &PDFRenderer{bin: bin, timeout: timeout, sem: make(chan struct{}, maxConcurrentPDF)}
}

// ToPDF renders md through ToHTML and prints it. Without a usable browser
// it returns an error wrapping types.ErrUnavailable.
func (r *PDFRenderer) ToPDF(ctx context.Context, md string) ([]byte, error) {
	page, err := ToHTML(md)
	if err != nil {
		return nil, err
	}
	return r.Print(ctx, string(page))
}

// Print renders an HTML document to PDF.
func (r *PDFRenderer) Print(ctx context.Context, html string) ([]byte, error) {
	bin := r.bin
	if bin == "" {
		found, ok := launcher.LookPath()
		if !ok {
			return nil, fmt.Errorf("no chromium binary found: %w", types.ErrUnavailable)
		}
		bin = found
	}

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// no sandbox: containers usually run this as root
	l := launcher.New().Context(ctx).Bin(bin).Headless(true).NoSandbox(true).Leakless(false)
	controlURL, err := l.Launch()
	if err != nil {
		logging.ExportDebug("Chromium launch failed (%s): %v", bin, err)
		return nil, fmt.Errorf("launch chromium: %v: %w", err, types.ErrUnavailable)
	}
	// Cleanup waits for the process to exit, so it must follow Kill.
	defer l.Cleanup()
	defer l.Kill()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chromium: %v: %w", err, types.ErrUnavailable)
	}
	defer browser.Close()

	p, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := p.SetDocumentContent(html); err != nil {
		return nil, fmt.Errorf("set content: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait for load: %w", err)
	}

	stream, err := p.PDF(&proto.PagePrintToPDF{PrintBackground: true, PreferCSSPageSize: true})
	if err != nil {
		return nil, fmt.Errorf("print to pdf: %w", err)
	}
	defer stream.Close()
	data, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	logging.ExportDebug("Printed PDF bytes=%d", len(data))
	return data, nil
}
