package catalog

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
)

// Beer is one product record, keyed by the CSV header fields (beer_number,
// beer_name, brewer, ...). The board never interprets these beyond passing
// them through the beers event.
type Beer map[string]string

// Catalog holds the product metadata served to board and history clients.
// It is loaded once at startup and read-only afterwards.
type Catalog struct {
	beers []Beer
}

// Load reads the metadata CSV. A missing or empty file yields an empty
// catalog with a warning; clients then simply receive no product info.
func Load(path string) *Catalog {
	beers, err := readCSV(path)
	if err != nil {
		log.Printf("Serving without product catalog: %v", err)
		return &Catalog{}
	}
	log.Printf("Loaded %d catalog entries from %s", len(beers), path)
	return &Catalog{beers: beers}
}

func readCSV(path string) ([]Beer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s has no data rows", path)
	}

	header := rows[0]
	beers := make([]Beer, 0, len(rows)-1)
	for _, row := range rows[1:] {
		beer := make(Beer, len(header))
		for i, field := range header {
			if i < len(row) {
				beer[field] = row[i]
			}
		}
		beers = append(beers, beer)
	}
	return beers, nil
}

// Beers returns the catalog records.
func (c *Catalog) Beers() []Beer {
	return c.beers
}

// Empty reports whether any records were loaded.
func (c *Catalog) Empty() bool {
	return len(c.beers) == 0
}
