package emit

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"maps"
)

// Page is an HTML document loading the chunks of one or more entries.
type Page struct {
	Filename string
	Title    string
	Chunks   []string
}

// PageData is passed to page templates.
type PageData struct {
	Title   string
	Scripts []string
	Styles  []string
	Context any
}

const defaultPageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{ .Title }}</title>
{{- range .Styles }}
<link rel="stylesheet" href="{{ . }}">
{{- end }}
{{- range .Scripts }}
<script defer src="{{ . }}"></script>
{{- end }}
</head>
<body>
</body>
</html>
`

// TemplateFuncs returns the functions available to page templates merged with custom.
func TemplateFuncs(custom template.FuncMap) template.FuncMap {
	funcs := template.FuncMap{
		"marshal": marshal,
		"safe": func(s string) template.HTML {
			return template.HTML(s) //nolint:gosec
		},
	}
	maps.Copy(funcs, custom)
	return funcs
}

// DefaultTemplate returns the built-in page template.
func DefaultTemplate() *template.Template {
	return template.Must(template.New("page").Funcs(TemplateFuncs(nil)).Parse(defaultPageTemplate))
}

// PageData collects the stylesheets and scripts of a page in load order.
func (b *Bundle) PageData(p Page) (PageData, error) {
	scripts, err := b.Scripts(p.Chunks...)
	if err != nil {
		return PageData{}, err
	}
	styles, err := b.Styles(p.Chunks...)
	if err != nil {
		return PageData{}, err
	}
	return PageData{Title: p.Title, Scripts: scripts, Styles: styles}, nil
}

// RenderPage executes tmpl for the page. A nil tmpl uses DefaultTemplate.
func (b *Bundle) RenderPage(p Page, tmpl *template.Template) ([]byte, error) {
	if tmpl == nil {
		tmpl = DefaultTemplate()
	}
	data, err := b.PageData(p)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshal(value any) string {
	buf := new(bytes.Buffer)

	if err := json.NewEncoder(buf).Encode(value); err != nil {
		panic(errors.New("context can only be json serializable"))
	}

	return buf.String()
}
