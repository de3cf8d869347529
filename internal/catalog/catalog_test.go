package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beers.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeCSV(t, "beer_number,beer_name,brewer\n1,Test IPA,Test Brewery\n2,Test Stout,Other Brewery\n")

	c := Load(path)
	if c.Empty() {
		t.Fatal("expected catalog entries")
	}

	beers := c.Beers()
	if len(beers) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(beers))
	}
	if beers[0]["beer_name"] != "Test IPA" || beers[0]["beer_number"] != "1" {
		t.Errorf("unexpected first entry: %v", beers[0])
	}
	if beers[1]["brewer"] != "Other Brewery" {
		t.Errorf("unexpected second entry: %v", beers[1])
	}
}

func TestLoadShortRows(t *testing.T) {
	path := writeCSV(t, "beer_number,beer_name,brewer\n1,Solo\n")

	beers := Load(path).Beers()
	if len(beers) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(beers))
	}
	if _, ok := beers[0]["brewer"]; ok {
		t.Error("missing column must stay absent, not empty-present")
	}
}

func TestLoadMissingFile(t *testing.T) {
	c := Load("/nonexistent/beers.csv")
	if !c.Empty() {
		t.Error("expected empty catalog for missing file")
	}
}

func TestLoadHeaderOnly(t *testing.T) {
	path := writeCSV(t, "beer_number,beer_name\n")
	if !Load(path).Empty() {
		t.Error("expected empty catalog for header-only file")
	}
}
