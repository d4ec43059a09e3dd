package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// FormatVersion is written into JSON exports and checked on import.
const FormatVersion = "1.0"

// watchlistExport is the JSON file shape.
type watchlistExport struct {
	Version    string   `json:"version"`
	ExportDate string   `json:"exportDate"`
	Watchlist  []string `json:"watchlist"`
}

// ExportCSV writes the watchlist as CSV with a Symbol header and one
// symbol per line.
func ExportCSV(w io.Writer, symbols []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Symbol"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, s := range symbols {
		if err := cw.Write([]string{s}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// ExportJSON writes the watchlist as a versioned JSON document.
func ExportJSON(w io.Writer, symbols []string) error {
	doc := watchlistExport{
		Version:    FormatVersion,
		ExportDate: time.Now().UTC().Format(time.RFC3339),
		Watchlist:  symbols,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode JSON export: %w", err)
	}
	return nil
}

// ImportCSV parses a CSV watchlist export. The header row must be
// Symbol; a malformed file returns an error and no partial result.
func ImportCSV(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(header[0]), "Symbol") {
		return nil, fmt.Errorf("unexpected CSV header %q", header[0])
	}

	var symbols []string
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		sym := strings.TrimSpace(record[0])
		if sym == "" {
			continue
		}
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("CSV file contains no symbols")
	}
	return symbols, nil
}

// ImportJSON parses a JSON watchlist export.
func ImportJSON(r io.Reader) ([]string, error) {
	var doc watchlistExport
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON import: %w", err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported export version %q", doc.Version)
	}
	if len(doc.Watchlist) == 0 {
		return nil, fmt.Errorf("JSON file contains no symbols")
	}
	return doc.Watchlist, nil
}

// Import sniffs the format and parses accordingly. JSON documents start
// with a brace, everything else goes through the CSV path.
func Import(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return ImportJSON(bytes.NewReader(trimmed))
	}
	return ImportCSV(bytes.NewReader(data))
}
