package export

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
)

const (
	indentStep = 360 // twips per nesting level
	codeFont   = "Consolas"
)

// ToDocx renders md as a minimal WordprocessingML package.
func ToDocx(md string) ([]byte, error) {
	doc, src := parse(md)
	w := &docxWriter{src: src}
	w.blocks(doc, blockStyle{})

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct{ name, body string }{
		{"[Content_Types].xml", contentTypesXML},
		{"_rels/.rels", rootRelsXML},
		{"word/_rels/document.xml.rels", documentRelsXML},
		{"word/styles.xml", stylesXML},
		{"word/document.xml", documentHead + w.body.String() + documentTail},
	}
	for _, p := range parts {
		f, err := zw.Create(p.name)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", p.name, err)
		}
		if _, err := f.Write([]byte(p.body)); err != nil {
			return nil, fmt.Errorf("write %s: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close docx: %w", err)
	}
	return buf.Bytes(), nil
}

// blockStyle is inherited by nested blocks.
type blockStyle struct {
	indent int
	italic bool
}

type runStyle struct {
	bold, italic, strike, code bool
}

type run struct {
	text  string
	style runStyle
	brk   bool
}

type docxWriter struct {
	src  []byte
	body strings.Builder
}

func (w *docxWriter) blocks(parent ast.Node, bs blockStyle) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		w.block(n, bs)
	}
}

func (w *docxWriter) block(n ast.Node, bs blockStyle) {
	switch n := n.(type) {
	case *ast.Heading:
		w.paragraph("Heading"+strconv.Itoa(n.Level), bs, "", w.runs(n, runStyle{italic: bs.italic}))
	case *ast.Paragraph, *ast.TextBlock:
		w.paragraph("", bs, "", w.runs(n, runStyle{italic: bs.italic}))
	case *ast.List:
		w.list(n, bs)
	case *ast.Blockquote:
		w.blocks(n, blockStyle{indent: bs.indent + 2*indentStep, italic: true})
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		w.code(n, bs)
	case *ast.ThematicBreak:
		w.body.WriteString(`<w:p><w:pPr><w:pBdr><w:bottom w:val="single" w:sz="6" w:space="1" w:color="auto"/></w:pBdr></w:pPr></w:p>`)
	case *east.Table:
		w.table(n)
	case *ast.HTMLBlock:
		// raw HTML is not rendered
	default:
		w.blocks(n, bs)
	}
}

// list writes one paragraph per item with a number or bullet prefix.
// Nested lists indent one more step.
func (w *docxWriter) list(l *ast.List, bs blockStyle) {
	inner := blockStyle{indent: bs.indent + indentStep, italic: bs.italic}
	num := l.Start
	if num == 0 {
		num = 1
	}
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		prefix := "• "
		if l.IsOrdered() {
			prefix = strconv.Itoa(num) + ". "
			num++
		}
		first := true
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			switch c := c.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				p := ""
				if first {
					p = prefix
				}
				w.paragraph("", inner, p, w.runs(c, runStyle{italic: bs.italic}))
			case *ast.List:
				w.list(c, inner)
			default:
				if first {
					w.paragraph("", inner, prefix, nil)
				}
				w.block(c, inner)
			}
			first = false
		}
		if first {
			w.paragraph("", inner, prefix, nil)
		}
	}
}

func (w *docxWriter) code(n ast.Node, bs blockStyle) {
	lines := n.Lines()
	style := runStyle{code: true}
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		line := strings.TrimRight(string(seg.Value(w.src)), "\r\n")
		var runs []run
		if line != "" {
			runs = []run{{text: line, style: style}}
		}
		w.paragraph("Code", bs, "", runs)
	}
}

func (w *docxWriter) table(t *east.Table) {
	w.body.WriteString(`<w:tbl><w:tblPr><w:tblW w:w="0" w:type="auto"/><w:tblBorders>`)
	for _, side := range []string{"top", "left", "bottom", "right", "insideH", "insideV"} {
		w.body.WriteString(`<w:` + side + ` w:val="single" w:sz="4" w:space="0" w:color="auto"/>`)
	}
	w.body.WriteString(`</w:tblBorders></w:tblPr>`)
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		_, header := row.(*east.TableHeader)
		w.body.WriteString(`<w:tr>`)
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			w.body.WriteString(`<w:tc><w:tcPr><w:tcW w:w="0" w:type="auto"/></w:tcPr>`)
			jc := ""
			if c, ok := cell.(*east.TableCell); ok {
				switch c.Alignment {
				case east.AlignCenter:
					jc = "center"
				case east.AlignRight:
					jc = "right"
				}
			}
			w.cellParagraph(jc, w.runs(cell, runStyle{bold: header}))
			w.body.WriteString(`</w:tc>`)
		}
		w.body.WriteString(`</w:tr>`)
	}
	w.body.WriteString(`</w:tbl><w:p/>`)
}

func (w *docxWriter) cellParagraph(jc string, runs []run) {
	w.body.WriteString(`<w:p>`)
	if jc != "" {
		w.body.WriteString(`<w:pPr><w:jc w:val="` + jc + `"/></w:pPr>`)
	}
	w.writeRuns(runs)
	w.body.WriteString(`</w:p>`)
}

func (w *docxWriter) paragraph(style string, bs blockStyle, prefix string, runs []run) {
	w.body.WriteString(`<w:p>`)
	if style != "" || bs.indent > 0 {
		w.body.WriteString(`<w:pPr>`)
		if style != "" {
			w.body.WriteString(`<w:pStyle w:val="` + style + `"/>`)
		}
		if bs.indent > 0 {
			w.body.WriteString(`<w:ind w:left="` + strconv.Itoa(bs.indent) + `"/>`)
		}
		w.body.WriteString(`</w:pPr>`)
	}
	if prefix != "" {
		w.writeRuns([]run{{text: prefix, style: runStyle{italic: bs.italic}}})
	}
	w.writeRuns(runs)
	w.body.WriteString(`</w:p>`)
}

// runs flattens the inline children of n into formatted text runs.
func (w *docxWriter) runs(n ast.Node, rs runStyle) []run {
	var out []run
	var walk func(n ast.Node, rs runStyle)
	walk = func(n ast.Node, rs runStyle) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch c := c.(type) {
			case *ast.Text:
				out = append(out, run{text: string(c.Segment.Value(w.src)), style: rs})
				switch {
				case c.HardLineBreak():
					out = append(out, run{brk: true})
				case c.SoftLineBreak():
					out = append(out, run{text: " ", style: rs})
				}
			case *ast.String:
				out = append(out, run{text: string(c.Value), style: rs})
			case *ast.Emphasis:
				next := rs
				if c.Level >= 2 {
					next.bold = true
				} else {
					next.italic = true
				}
				walk(c, next)
			case *east.Strikethrough:
				next := rs
				next.strike = true
				walk(c, next)
			case *ast.CodeSpan:
				next := rs
				next.code = true
				walk(c, next)
			case *ast.Link:
				before := len(out)
				walk(c, rs)
				label := joinRuns(out[before:])
				if dest := string(c.Destination); dest != "" && dest != label {
					out = append(out, run{text: " (" + dest + ")", style: rs})
				}
			case *ast.AutoLink:
				out = append(out, run{text: string(c.URL(w.src)), style: rs})
			case *ast.Image:
				before := len(out)
				walk(c, rs)
				alt := joinRuns(out[before:])
				out = append(out[:before], run{text: "[" + strings.TrimSpace("image "+alt) + "]", style: rs})
			case *ast.RawHTML:
			default:
				walk(c, rs)
			}
		}
	}
	walk(n, rs)
	return out
}

func joinRuns(runs []run) string {
	var sb strings.Builder
	for _, r := range runs {
		sb.WriteString(r.text)
	}
	return sb.String()
}

func (w *docxWriter) writeRuns(runs []run) {
	for _, r := range runs {
		if r.brk {
			w.body.WriteString(`<w:r><w:br/></w:r>`)
			continue
		}
		if r.text == "" {
			continue
		}
		w.body.WriteString(`<w:r>`)
		if r.style != (runStyle{}) {
			w.body.WriteString(`<w:rPr>`)
			if r.style.code {
				w.body.WriteString(`<w:rFonts w:ascii="` + codeFont + `" w:hAnsi="` + codeFont + `" w:cs="` + codeFont + `"/>`)
			}
			if r.style.bold {
				w.body.WriteString(`<w:b/>`)
			}
			if r.style.italic {
				w.body.WriteString(`<w:i/>`)
			}
			if r.style.strike {
				w.body.WriteString(`<w:strike/>`)
			}
			w.body.WriteString(`</w:rPr>`)
		}
		w.body.WriteString(`<w:t xml:space="preserve">`)
		xml.EscapeText(&w.body, []byte(r.text))
		w.body.WriteString(`</w:t></w:r>`)
	}
}

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>
</Types>`

const rootRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

const documentRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>
</Relationships>`

const documentHead = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

const documentTail = `<w:sectPr><w:pgSz w:w="11906" w:h="16838"/><w:pgMar w:top="1440" w:right="1440" w:bottom="1440" w:left="1440" w:header="708" w:footer="708" w:gutter="0"/></w:sectPr></w:body></w:document>`

var stylesXML = func() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:docDefaults><w:rPrDefault><w:rPr><w:rFonts w:ascii="Calibri" w:hAnsi="Calibri" w:eastAsia="SimSun" w:cs="Calibri"/><w:sz w:val="22"/></w:rPr></w:rPrDefault>
<w:pPrDefault><w:pPr><w:spacing w:after="120" w:line="276" w:lineRule="auto"/></w:pPr></w:pPrDefault></w:docDefaults>
<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/></w:style>
<w:style w:type="paragraph" w:styleId="Code"><w:name w:val="Code"/><w:basedOn w:val="Normal"/><w:pPr><w:spacing w:after="0"/></w:pPr><w:rPr><w:rFonts w:ascii="Consolas" w:hAnsi="Consolas" w:cs="Consolas"/><w:sz w:val="20"/></w:rPr></w:style>
`)
	sizes := []int{32, 28, 26, 24, 22, 22}
	for i, sz := range sizes {
		lvl := strconv.Itoa(i + 1)
		sb.WriteString(`<w:style w:type="paragraph" w:styleId="Heading` + lvl + `"><w:name w:val="heading ` + lvl +
			`"/><w:basedOn w:val="Normal"/><w:next w:val="Normal"/><w:qFormat/><w:pPr><w:keepNext/><w:spacing w:before="240" w:after="120"/><w:outlineLvl w:val="` +
			strconv.Itoa(i) + `"/></w:pPr><w:rPr><w:b/><w:sz w:val="` + strconv.Itoa(sz) + `"/></w:rPr></w:style>
`)
	}
	sb.WriteString(`</w:styles>`)
	return sb.String()
}()
