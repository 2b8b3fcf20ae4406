package guardian

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

var ErrLoader = errors.New("LoaderError")

// Snapshot is the in-memory truth produced by one bulk load. Quantities are
// mutated by order decrements; everything else is fixed at load time. A new
// load replaces the whole snapshot, never merges.
type Snapshot struct {
	Source       string
	LoadedAt     time.Time
	Location     string
	Quantities   map[string]int64
	RowsTotal    int
	RowsAccepted int
	RowsRejected int
}

type LoadWarning struct {
	Row    int
	SKU    string
	Reason string
}

type LoaderOptions struct {
	Locale string
	// Explicit column names bypass the header heuristics.
	SKUColumn string
	QtyColumn string
}

// LoadSnapshotFile loads a Matrixify/Excelify-style inventory export.
func LoadSnapshotFile(path string, opts LoaderOptions, now time.Time) (*Snapshot, []LoadWarning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open %s: %v", ErrLoader, path, err)
	}
	defer f.Close()
	return LoadSnapshot(f, path, opts, now)
}

// LoadSnapshot parses a Matrixify-compatible CSV in a single streaming pass.
// Column discovery:
//   - SKU: first header equal to "Variant SKU", else "SKU", else "Handle"
//   - quantity: first header equal to "QTY"/"Quantity" or prefixed with
//     "Inventory Available"; the chosen header names the location
//
// Matching is case-insensitive and whitespace-trimmed.
func LoadSnapshot(r io.Reader, source string, opts LoaderOptions, now time.Time) (*Snapshot, []LoadWarning, error) {
	if opts.Locale == "" {
		opts.Locale = "US"
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%w: no header row", ErrLoader)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read header: %v", ErrLoader, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	skuIdx, err := findSKUColumn(header, opts.SKUColumn)
	if err != nil {
		return nil, nil, err
	}
	qtyIdx, err := findQtyColumn(header, opts.QtyColumn)
	if err != nil {
		return nil, nil, err
	}

	snap := &Snapshot{
		Source:     source,
		LoadedAt:   now.UTC(),
		Location:   strings.TrimSpace(header[qtyIdx]),
		Quantities: make(map[string]int64),
	}
	var warnings []LoadWarning

	reject := func(row int, sku, reason string) {
		snap.RowsRejected++
		warnings = append(warnings, LoadWarning{Row: row, SKU: sku, Reason: reason})
	}

	row := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			snap.RowsTotal++
			reject(row, "", fmt.Sprintf("unreadable row: %v", err))
			continue
		}
		snap.RowsTotal++

		sku := strings.TrimSpace(field(rec, skuIdx))
		if sku == "" {
			reject(row, "", "missing SKU")
			continue
		}

		var qty int64
		qtyText := strings.TrimSpace(field(rec, qtyIdx))
		if qtyText == "" {
			warnings = append(warnings, LoadWarning{Row: row, SKU: sku, Reason: "empty quantity, treated as 0"})
		} else {
			d, perr := ParseDecimal(qtyText, opts.Locale)
			if perr != nil {
				reject(row, sku, fmt.Sprintf("bad quantity %q: %v", qtyText, perr))
				continue
			}
			if !d.IsInteger() || d.Sign() < 0 {
				reject(row, sku, fmt.Sprintf("quantity %q is not a non-negative integer", qtyText))
				continue
			}
			qty = d.IntPart()
		}

		if _, dup := snap.Quantities[sku]; dup {
			// Last occurrence wins; one of the duplicate rows counts as
			// rejected so that accepted rows always equal distinct SKUs.
			reject(row, sku, "duplicate SKU, last occurrence wins")
		}
		snap.Quantities[sku] = qty
	}

	snap.RowsAccepted = snap.RowsTotal - snap.RowsRejected
	return snap, warnings, nil
}

func findSKUColumn(header []string, explicit string) (int, error) {
	if explicit != "" {
		if i := columnIndex(header, explicit); i >= 0 {
			return i, nil
		}
		return -1, fmt.Errorf("%w: SKU column %q not found", ErrLoader, explicit)
	}
	for _, want := range []string{"variant sku", "sku", "handle"} {
		for i, h := range header {
			if strings.ToLower(strings.TrimSpace(h)) == want {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("%w: no SKU column (tried Variant SKU, SKU, Handle)", ErrLoader)
}

func findQtyColumn(header []string, explicit string) (int, error) {
	if explicit != "" {
		if i := columnIndex(header, explicit); i >= 0 {
			return i, nil
		}
		return -1, fmt.Errorf("%w: quantity column %q not found", ErrLoader, explicit)
	}
	for i, h := range header {
		n := strings.ToLower(strings.TrimSpace(h))
		if n == "qty" || n == "quantity" || strings.HasPrefix(n, "inventory available") {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: no quantity column (tried QTY, Quantity, Inventory Available*)", ErrLoader)
}

func columnIndex(header []string, name string) int {
	want := strings.ToLower(strings.TrimSpace(name))
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) == want {
			return i
		}
	}
	return -1
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}
