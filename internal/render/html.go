package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

var layout = template.Must(template.New("mail").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; color: #24292e; }
.content { max-width: 720px; margin: 0 auto; padding: 16px; }
h1, h2, h3 { border-bottom: 1px solid #eaecef; padding-bottom: .3em; }
code, pre { background: #f6f8fa; font-family: monospace; }
</style>
</head>
<body>
<div class="content">
{{.Content}}
</div>
</body>
</html>
`))

// Markdown converts markdown text to an HTML fragment.
func Markdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render: markdown: %w", err)
	}
	return buf.String(), nil
}

// HTML renders markdown into the full mail layout with title as <title>.
func HTML(title, markdown string) (string, error) {
	frag, err := Markdown(markdown)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = layout.Execute(&buf, struct {
		Title   string
		Content template.HTML
	}{Title: title, Content: template.HTML(frag)})
	if err != nil {
		return "", fmt.Errorf("render: layout: %w", err)
	}
	return buf.String(), nil
}
