package rootbox

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/kballard/go-shellquote"
)

// assetTemplates holds every *.tmpl under assets/, addressed by base name.
var assetTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"quote": func(s string) string { return shellquote.Join(s) },
}).ParseFS(embeddedAssets, "assets/*.tmpl"))

// renderAsset executes the named template into a byte slice.
func renderAsset(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := assetTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
