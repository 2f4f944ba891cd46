package render

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"proppy/api/internal/blocks"
)

// Document is the frozen content handed to the renderer.
type Document struct {
	ShareToken    string
	Version       int
	Title         string
	CoverImageURL string
	CreatedAt     time.Time
	Blocks        []blocks.Block
}

var pageTemplate = template.Must(template.New("page").Funcs(template.FuncMap{
	"text":   payloadString,
	"rows":   payloadRows,
	"items":  payloadItems,
	"signed": func(b blocks.Block) bool { return payloadString(b, "name") != "" },
	"date":   payloadDate,
}).Parse(pageSource))

const pageSource = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .cover { width: 100%; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { border-collapse: collapse; width: 100%; }
    td { border: 1px solid #ccc; padding: 0.25rem 0.5rem; }
    .signature { border-top: 1px solid #333; margin-top: 2rem; padding-top: 0.5rem; }
  </style>
</head>
<body>
  {{if .CoverImageURL}}<img class="cover" src="{{.CoverImageURL}}" alt="">{{end}}
  <div class="meta">{{.Title}} | version {{.Version}} | {{.CreatedAt.Format "Jan 2, 2006"}}</div>
  {{range .Blocks}}{{template "item" .}}{{end}}
</body>
</html>
{{define "item"}}
  {{- if eq .Type "section"}}<h1>{{text . "value"}}</h1>
  {{- else if eq .Type "subtitle"}}<h2>{{text . "value"}}</h2>
  {{- else if eq .Type "h3"}}<h3>{{text . "value"}}</h3>
  {{- else if eq .Type "paragraph"}}<p>{{text . "value"}}</p>
  {{- else if eq .Type "quote"}}<blockquote>{{text . "value"}}</blockquote>
  {{- else if eq .Type "uli"}}<ul>{{range items .}}<li>{{.}}</li>{{end}}</ul>
  {{- else if eq .Type "oli"}}<ol>{{range items .}}<li>{{.}}</li>{{end}}</ol>
  {{- else if eq .Type "image"}}{{with text . "url"}}<img src="{{.}}" alt="">{{end}}
  {{- else if eq .Type "embed"}}{{with text . "url"}}<p><a href="{{.}}">{{.}}</a></p>{{end}}
  {{- else if eq .Type "divider"}}<hr>
  {{- else if or (eq .Type "table") (eq .Type "cost_table")}}<table>{{range rows .}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>{{end}}</table>
  {{- else if eq .Type "signature"}}<div class="signature">{{if signed .}}Signed by {{text . "name"}} on {{date .}}{{else}}Awaiting signature{{end}}</div>
  {{- else if eq .Type "payment"}}<div class="payment">{{if index .Payload "charge"}}Paid{{else}}Payment pending{{end}}</div>
  {{- end}}
{{end}}`

// HTML renders doc as a standalone printable page.
func HTML(doc Document) (string, error) {
	ordered := make([]blocks.Block, len(doc.Blocks))
	copy(ordered, doc.Blocks)
	blocks.SortByOrdering(ordered)
	doc.Blocks = ordered

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, doc); err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return buf.String(), nil
}

func payloadString(b blocks.Block, key string) string {
	value, ok := b.Payload[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// payloadItems reads list blocks stored either as an "items" array or as a
// single "value" string.
func payloadItems(b blocks.Block) []string {
	raw, ok := b.Payload["items"].([]any)
	if !ok {
		if value := payloadString(b, "value"); value != "" {
			return []string{value}
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		out = append(out, fmt.Sprint(item))
	}
	return out
}

func payloadRows(b blocks.Block) [][]string {
	raw, ok := b.Payload["rows"].([]any)
	if !ok {
		return nil
	}
	out := make([][]string, 0, len(raw))
	for _, row := range raw {
		cells, ok := row.([]any)
		if !ok {
			continue
		}
		line := make([]string, 0, len(cells))
		for _, cell := range cells {
			line = append(line, fmt.Sprint(cell))
		}
		out = append(out, line)
	}
	return out
}

func payloadDate(b blocks.Block) string {
	var seconds int64
	switch v := b.Payload["date"].(type) {
	case int64:
		seconds = v
	case int:
		seconds = int64(v)
	case float64:
		seconds = int64(v)
	default:
		return ""
	}
	return time.Unix(seconds, 0).UTC().Format("Jan 2, 2006")
}
