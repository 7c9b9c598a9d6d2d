package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark/ast"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="zh-CN">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: "Noto Serif CJK SC", "Songti SC", Georgia, serif; font-size: 11pt; line-height: 1.6; color: #111; max-width: 46em; margin: 2em auto; padding: 0 1em; }
h1, h2, h3, h4, h5, h6 { font-family: "Noto Sans CJK SC", "PingFang SC", Helvetica, sans-serif; line-height: 1.3; page-break-after: avoid; }
h1 { font-size: 20pt; border-bottom: 1px solid #999; padding-bottom: .2em; }
h2 { font-size: 15pt; }
blockquote { margin: 1em 0; padding-left: 1em; border-left: 3px solid #bbb; color: #444; font-style: italic; }
pre, code { font-family: Consolas, "Courier New", monospace; font-size: 9.5pt; }
pre { background: #f5f5f5; padding: .6em .8em; white-space: pre-wrap; page-break-inside: avoid; }
table { border-collapse: collapse; margin: 1em 0; page-break-inside: avoid; }
th, td { border: 1px solid #888; padding: .3em .6em; }
th { background: #eee; }
hr { border: 0; border-top: 1px solid #999; }
@page { size: A4; margin: 20mm 18mm; }
@media print { body { max-width: none; margin: 0; padding: 0; } a { color: inherit; } }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// ToHTML renders md as a standalone HTML document with print styling. The
// document title is the first heading. Raw HTML in md is dropped.
func ToHTML(md string) ([]byte, error) {
	doc, src := parse(md)
	var body bytes.Buffer
	if err := markdown.Renderer().Render(&body, src, doc); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}

	var out bytes.Buffer
	err := pageTemplate.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{firstHeading(doc, src), template.HTML(body.String())})
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}
	return out.Bytes(), nil
}

func firstHeading(doc ast.Node, src []byte) string {
	title := ""
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if h, ok := n.(*ast.Heading); ok && entering {
			var sb strings.Builder
			_ = ast.Walk(h, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
				if t, ok := c.(*ast.Text); ok && entering {
					sb.Write(t.Segment.Value(src))
				}
				return ast.WalkContinue, nil
			})
			title = strings.TrimSpace(sb.String())
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	if title == "" {
		title = "Document"
	}
	return title
}
