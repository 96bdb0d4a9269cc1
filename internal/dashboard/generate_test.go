package dashboard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderMissingEnv(t *testing.T) {
	t.Setenv("GREPTIMEDB_DATASOURCE_UID", "")
	if _, err := Render(t.TempDir(), DefaultData()); err == nil {
		t.Fatalf("expected error for missing env vars")
	}
}

func TestRenderSuccess(t *testing.T) {
	t.Setenv("GREPTIMEDB_DATASOURCE_UID", "uid1")

	dir := t.TempDir()
	written, err := Render(dir, Data{Title: "run", Table: "custom_table"})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if len(written) != 1 || written[0] != filepath.Join(dir, "grafana-dashboard.json") {
		t.Fatalf("unexpected outputs %v", written)
	}

	b, err := os.ReadFile(written[0])
	if err != nil {
		t.Fatalf("read dashboard: %v", err)
	}
	if !strings.Contains(string(b), "uid1") {
		t.Fatalf("greptime uid not rendered")
	}
	if !strings.Contains(string(b), "FROM custom_table") {
		t.Fatalf("table name not rendered")
	}
	var doc struct {
		Title  string            `json:"title"`
		Panels []json.RawMessage `json:"panels"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("rendered dashboard is not JSON: %v", err)
	}
	if doc.Title != "run" || len(doc.Panels) != 4 {
		t.Fatalf("unexpected dashboard %q with %d panels", doc.Title, len(doc.Panels))
	}
}
