package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"fractalstream/internal/telemetry"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Data is passed to every dashboard template.
type Data struct {
	Title string
	Table string
}

// DefaultData targets the dispatch table the GreptimeDB writer fills.
func DefaultData() Data {
	return Data{Title: "fractalstream dispatch", Table: telemetry.TableName}
}

// Render executes the embedded Grafana dashboard templates and writes one JSON file per
// template to outDir. Templates read datasource ids through the env function, which
// fails when the variable is unset.
func Render(outDir string, data Data) ([]string, error) {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}

	names, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	var written []string
	for _, entry := range names {
		name := entry.Name()
		t, err := template.New(name).Funcs(funcMap).ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return written, err
		}
		var b strings.Builder
		if err := t.Execute(&b, data); err != nil {
			return written, err
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(name, ".tmpl"))
		if err := os.WriteFile(outPath, []byte(b.String()), 0o644); err != nil {
			return written, err
		}
		written = append(written, outPath)
	}
	return written, nil
}
