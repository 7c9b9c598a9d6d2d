// Package export turns Markdown answers and conversation transcripts into
// downloadable documents: Word (.docx), standalone HTML, and PDF printed by
// headless Chromium.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"juris/internal/logging"
	"juris/internal/types"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Format is an export target.
type Format string

const (
	FormatDocx     Format = "docx"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
	FormatMarkdown Format = "md"
)

// ParseFormat accepts a format name, case-insensitively. "markdown" is an
// alias of "md".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatDocx, FormatHTML, FormatPDF, FormatMarkdown:
		return f, nil
	case "markdown":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown export format %q: %w", s, types.ErrInvalid)
	}
}

// ContentType is the MIME type of the rendered document.
func (f Format) ContentType() string {
	switch f {
	case FormatDocx:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// Extension is the file extension, with the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// markdown is the shared parser: CommonMark plus GFM tables and
// strikethrough.
var markdown = goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))

func parse(md string) (ast.Node, []byte) {
	src := []byte(md)
	return markdown.Parser().Parse(text.NewReader(src)), src
}

// Exporter renders Markdown to any Format. The zero value is not usable;
// build one with New.
type Exporter struct {
	pdf *PDFRenderer
}

// New builds an Exporter. browserBin and pdfTimeout configure PDF output.
func New(browserBin string, pdfTimeout time.Duration) *Exporter {
	return &Exporter{pdf: NewPDFRenderer(browserBin, pdfTimeout)}
}

// Render converts md into the requested format.
func (e *Exporter) Render(ctx context.Context, f Format, md string) ([]byte, error) {
	timer := logging.StartTimer(logging.CategoryExport, "Render."+string(f))
	defer timer.Stop()

	switch f {
	case FormatDocx:
		return ToDocx(md)
	case FormatHTML:
		return ToHTML(md)
	case FormatPDF:
		return e.pdf.ToPDF(ctx, md)
	case FormatMarkdown:
		return []byte(md), nil
	default:
		return nil, fmt.Errorf("unknown export format %q: %w", f, types.ErrInvalid)
	}
}

// Filename builds a download name from a title, dropping characters that
// are unsafe in file names.
func Filename(title string, f Format) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, strings.ContainsRune(`/\:*?"<>|`, r):
			return -1
		}
		return r
	}, strings.TrimSpace(title))
	name = strings.Trim(name, ". ")
	if r := []rune(name); len(r) > 80 {
		name = string(r[:80])
	}
	if name == "" {
		name = "export"
	}
	return name + f.Extension()
}
