package workspace

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

const DefaultTemplate = "basic"

//go:embed templates/*.py.tmpl
var templateFS embed.FS

var templateNames = []string{"basic", "mechanical", "organic", "parametric"}

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.py.tmpl"))

// Templates lists the starting templates in display order.
func Templates() []string {
	return append([]string(nil), templateNames...)
}

func ValidTemplate(name string) bool {
	for _, candidate := range templateNames {
		if candidate == name {
			return true
		}
	}
	return false
}

type templateData struct {
	Created     string
	Request     string
	Description string
}

// Render produces the starting artifact for instruction.
func Render(name, instruction, created string) ([]byte, error) {
	if !ValidTemplate(name) {
		return nil, fmt.Errorf("unknown template %q (want one of %s)", name, strings.Join(templateNames, ", "))
	}
	data := templateData{
		Created:     created,
		Request:     pythonDocstring(instruction),
		Description: pythonDocstring(instruction),
	}
	var out bytes.Buffer
	for _, part := range []string{"header", name, "footer"} {
		if err := pageTemplates.ExecuteTemplate(&out, part+".py.tmpl", data); err != nil {
			return nil, fmt.Errorf("render %s: %w", part, err)
		}
	}
	return out.Bytes(), nil
}

func pythonDocstring(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `"""`, `\"\"\"`)
}
