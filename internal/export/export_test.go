package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"juris/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "# Lease Review\n\n" +
	"The tenant may **terminate** the lease, *not* the landlord. ~~Old rule~~ applies & <more>.\n\n" +
	"## Steps\n\n" +
	"1. Send notice\n" +
	"2. Return keys\n" +
	"   - keep a receipt\n\n" +
	"- See [Civil Code](https://example.com/code) and `Article 563`.\n\n" +
	"> Quoted advice.\n\n" +
	"```\nline one\n\nline three\n```\n\n" +
	"---\n\n" +
	"| Item | Amount |\n| :--- | ---: |\n| Deposit | 3000 |\n"

func openDocx(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	parts := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		parts[f.Name] = string(b)
	}
	return parts
}

func wellFormed(t *testing.T, doc string) {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return
		}
		require.NoError(t, err)
	}
}

func TestToDocx(t *testing.T) {
	data, err := ToDocx(sample)
	require.NoError(t, err)

	parts := openDocx(t, data)
	for _, name := range []string{"[Content_Types].xml", "_rels/.rels", "word/_rels/document.xml.rels", "word/styles.xml", "word/document.xml"} {
		require.Contains(t, parts, name)
		wellFormed(t, parts[name])
	}

	doc := parts["word/document.xml"]
	assert.Contains(t, doc, `<w:pStyle w:val="Heading1"/>`)
	assert.Contains(t, doc, `<w:pStyle w:val="Heading2"/>`)
	assert.Contains(t, doc, `<w:rPr><w:b/></w:rPr><w:t xml:space="preserve">terminate</w:t>`)
	assert.Contains(t, doc, `<w:rPr><w:i/></w:rPr><w:t xml:space="preserve">not</w:t>`)
	assert.Contains(t, doc, `<w:strike/></w:rPr><w:t xml:space="preserve">Old rule</w:t>`)
	assert.Contains(t, doc, `applies &amp; `)
	assert.NotContains(t, doc, "<more>")

	// lists
	assert.Contains(t, doc, `<w:ind w:left="360"/></w:pPr><w:r><w:t xml:space="preserve">1. </w:t>`)
	assert.Contains(t, doc, `<w:t xml:space="preserve">2. </w:t>`)
	assert.Contains(t, doc, `<w:ind w:left="720"/></w:pPr><w:r><w:t xml:space="preserve">• </w:t>`)

	// links and inline code
	assert.Contains(t, doc, `Civil Code</w:t></w:r><w:r><w:t xml:space="preserve"> (https://example.com/code)</w:t>`)
	assert.Contains(t, doc, `<w:rFonts w:ascii="Consolas" w:hAnsi="Consolas" w:cs="Consolas"/></w:rPr><w:t xml:space="preserve">Article 563</w:t>`)

	// block quote, code block, rule, table
	assert.Contains(t, doc, `<w:ind w:left="720"/></w:pPr><w:r><w:rPr><w:i/></w:rPr><w:t xml:space="preserve">Quoted advice.</w:t>`)
	assert.Contains(t, doc, `<w:pStyle w:val="Code"/></w:pPr></w:p>`)
	assert.Contains(t, doc, `line three`)
	assert.Contains(t, doc, `<w:pBdr><w:bottom w:val="single"`)
	assert.Contains(t, doc, `<w:tbl>`)
	assert.Contains(t, doc, `<w:rPr><w:b/></w:rPr><w:t xml:space="preserve">Item</w:t>`)
	assert.Contains(t, doc, `<w:jc w:val="right"/></w:pPr><w:r><w:t xml:space="preserve">3000</w:t>`)
}

func TestToDocxEmpty(t *testing.T) {
	data, err := ToDocx("")
	require.NoError(t, err)
	doc := openDocx(t, data)["word/document.xml"]
	wellFormed(t, doc)
	assert.Contains(t, doc, "<w:sectPr>")
}

func TestToHTML(t *testing.T) {
	out, err := ToHTML(sample + "\n<script>alert(1)</script>\n")
	require.NoError(t, err)
	page := string(out)

	assert.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))
	assert.Contains(t, page, "<title>Lease Review</title>")
	assert.Contains(t, page, "@page")
	assert.Contains(t, page, "<h1>Lease Review</h1>")
	assert.Contains(t, page, "<strong>terminate</strong>")
	assert.Contains(t, page, "<del>Old rule</del>")
	assert.Contains(t, page, "<table>")
	assert.NotContains(t, page, "<script>alert(1)</script>")

	out, err = ToHTML("no heading here")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<title>Document</title>")
}

func TestToPDFWithoutBrowser(t *testing.T) {
	r := NewPDFRenderer("/nonexistent/chromium", 5*time.Second)
	_, err := r.ToPDF(context.Background(), "# Hi")
	assert.ErrorIs(t, err, types.ErrUnavailable)
}

func TestRender(t *testing.T) {
	e := New("/nonexistent/chromium", time.Second)
	ctx := context.Background()

	md, err := e.Render(ctx, FormatMarkdown, "# x")
	require.NoError(t, err)
	assert.Equal(t, "# x", string(md))

	docx, err := e.Render(ctx, FormatDocx, "# x")
	require.NoError(t, err)
	assert.Equal(t, "PK", string(docx[:2]))

	_, err = e.Render(ctx, FormatPDF, "# x")
	assert.ErrorIs(t, err, types.ErrUnavailable)

	_, err = e.Render(ctx, Format("rtf"), "# x")
	assert.ErrorIs(t, err, types.ErrInvalid)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"DOCX": FormatDocx, "html": FormatHTML, " pdf ": FormatPDF, "md": FormatMarkdown, "markdown": FormatMarkdown} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("odt")
	assert.ErrorIs(t, err, types.ErrInvalid)

	assert.Equal(t, "application/pdf", FormatPDF.ContentType())
	assert.Equal(t, ".docx", FormatDocx.Extension())
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "Lease review.docx", Filename(" Lease review ", FormatDocx))
	assert.Equal(t, "ab.pdf", Filename(`a/b`, FormatPDF))
	assert.Equal(t, "export.html", Filename("..", FormatHTML))
	assert.Equal(t, "劳动合同纠纷.md", Filename("劳动合同纠纷", FormatMarkdown))
}

func TestConversationMarkdown(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	conv := &types.Conversation{Title: "Deposit", Persona: "consultation", CreatedAt: at, UpdatedAt: at.Add(time.Hour)}
	msgs := []*types.Message{
		{Role: types.RoleUserMessage, Content: "Can they keep it?", Status: types.MessageComplete, CreatedAt: at},
		{Role: types.RoleAssistantMessage, Content: "Only for damage.\n", Status: types.MessageComplete, CreatedAt: at},
		{Role: types.RoleUserMessage, Content: "Cleaning?", Status: types.MessageComplete, CreatedAt: at},
		{Role: types.RoleAssistantMessage, Content: "", Status: types.MessageFailed, CreatedAt: at},
		{Role: types.RoleAssistantMessage, Content: "Usually", Status: types.MessageStopped, CreatedAt: at},
	}
	md := ConversationMarkdown(conv, msgs)

	want := "# Deposit\n\n" +
		"- Persona: consultation\n" +
		"- Created: 2026-03-01 09:30\n" +
		"- Updated: 2026-03-01 10:30\n" +
		"\n## Question 1\n\n*2026-03-01 09:30*\n\nCan they keep it?\n" +
		"\n## Answer 1\n\n*2026-03-01 09:30*\n\nOnly for damage.\n" +
		"\n## Question 2\n\n*2026-03-01 09:30*\n\nCleaning?\n" +
		"\n## Answer 2\n\n*2026-03-01 09:30*\n\nUsually\n" +
		"\n> Answer stopped before completion.\n"
	assert.Equal(t, want, md)

	data, err := ToDocx(md)
	require.NoError(t, err)
	assert.Contains(t, openDocx(t, data)["word/document.xml"], "Answer stopped before completion.")
}
