package guardian

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var loadNow = time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

func TestLoadSnapshotMatrixifyColumns(t *testing.T) {
	csv := "Handle,Variant SKU,Inventory Available: Main Warehouse,Inventory Available: Backup\n" +
		"widget,A,55,9\n" +
		"widget,B,10,9\n"
	snap, warnings, err := LoadSnapshot(strings.NewReader(csv), "test.csv", LoaderOptions{}, loadNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	// First matching quantity column in header order wins and names the location.
	if snap.Location != "Inventory Available: Main Warehouse" {
		t.Fatalf("unexpected location %q", snap.Location)
	}
	if snap.Quantities["A"] != 55 || snap.Quantities["B"] != 10 {
		t.Fatalf("unexpected quantities: %v", snap.Quantities)
	}
	if snap.RowsTotal != 2 || snap.RowsAccepted != 2 || snap.RowsRejected != 0 {
		t.Fatalf("unexpected counts: %+v", snap)
	}
}

func TestLoadSnapshotSKUFallbacks(t *testing.T) {
	// No Variant SKU: falls back to SKU, then Handle.
	snap, _, err := LoadSnapshot(strings.NewReader("SKU,QTY\nA,1\n"), "s.csv", LoaderOptions{}, loadNow)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Quantities["A"] != 1 {
		t.Fatalf("unexpected quantities: %v", snap.Quantities)
	}

	snap, _, err = LoadSnapshot(strings.NewReader("Handle,Quantity\nwidget,3\n"), "h.csv", LoaderOptions{}, loadNow)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Quantities["widget"] != 3 {
		t.Fatalf("unexpected quantities: %v", snap.Quantities)
	}
}

func TestLoadSnapshotBOMAndCaseInsensitiveHeader(t *testing.T) {
	csv := "\ufeffvariant sku , qty \nA,7\n"
	snap, _, err := LoadSnapshot(strings.NewReader(csv), "bom.csv", LoaderOptions{}, loadNow)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Quantities["A"] != 7 {
		t.Fatalf("unexpected quantities: %v", snap.Quantities)
	}
}

func TestLoadSnapshotRejectsAndWarnings(t *testing.T) {
	csv := "Variant SKU,QTY\n" +
		",10\n" + // missing SKU: rejected
		"A,abc\n" + // bad quantity: rejected
		"B,\n" + // empty quantity: accepted as 0 with warning
		"C,5\n" +
		"C,8\n" // duplicate: last wins, earlier counts rejected
	snap, warnings, err := LoadSnapshot(strings.NewReader(csv), "w.csv", LoaderOptions{}, loadNow)
	if err != nil {
		t.Fatal(err)
	}
	if snap.RowsTotal != 5 {
		t.Fatalf("rows total = %d", snap.RowsTotal)
	}
	if snap.RowsAccepted+snap.RowsRejected != snap.RowsTotal {
		t.Fatalf("accepted %d + rejected %d != total %d", snap.RowsAccepted, snap.RowsRejected, snap.RowsTotal)
	}
	if snap.RowsAccepted != len(snap.Quantities) {
		t.Fatalf("accepted %d != distinct skus %d", snap.RowsAccepted, len(snap.Quantities))
	}
	if snap.Quantities["B"] != 0 {
		t.Fatalf("empty quantity should load as 0, got %d", snap.Quantities["B"])
	}
	if snap.Quantities["C"] != 8 {
		t.Fatalf("duplicate SKU: last occurrence should win, got %d", snap.Quantities["C"])
	}

	var dupWarn, emptyWarn bool
	for _, w := range warnings {
		if strings.Contains(w.Reason, "duplicate") {
			dupWarn = true
		}
		if strings.Contains(w.Reason, "empty quantity") {
			emptyWarn = true
		}
	}
	if !dupWarn || !emptyWarn {
		t.Fatalf("expected duplicate and empty-quantity warnings, got %v", warnings)
	}
}

func TestLoadSnapshotLocaleQuantities(t *testing.T) {
	csv := "Variant SKU,QTY\nA,\"1.500\"\n"
	snap, _, err := LoadSnapshot(strings.NewReader(csv), "es.csv", LoaderOptions{Locale: "ES"}, loadNow)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Quantities["A"] != 1500 {
		t.Fatalf("ES locale: got %d, want 1500", snap.Quantities["A"])
	}

	// Same text in US locale is fractional and must be rejected.
	snap, _, err = LoadSnapshot(strings.NewReader(csv), "us.csv", LoaderOptions{Locale: "US"}, loadNow)
	if err != nil {
		t.Fatal(err)
	}
	if snap.RowsRejected != 1 {
		t.Fatalf("US locale: expected fractional quantity rejected, got %+v", snap)
	}
}

func TestLoadSnapshotExplicitColumns(t *testing.T) {
	csv := "Code,Stock\nA,12\n"
	snap, _, err := LoadSnapshot(strings.NewReader(csv), "e.csv",
		LoaderOptions{SKUColumn: "Code", QtyColumn: "Stock"}, loadNow)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Quantities["A"] != 12 {
		t.Fatalf("unexpected quantities: %v", snap.Quantities)
	}
	if snap.Location != "Stock" {
		t.Fatalf("unexpected location %q", snap.Location)
	}
}

func TestLoadSnapshotFailures(t *testing.T) {
	if _, _, err := LoadSnapshot(strings.NewReader(""), "empty.csv", LoaderOptions{}, loadNow); !errors.Is(err, ErrLoader) {
		t.Fatalf("empty input: expected LoaderError, got %v", err)
	}
	if _, _, err := LoadSnapshot(strings.NewReader("Name,Price\nx,1\n"), "nosku.csv", LoaderOptions{}, loadNow); !errors.Is(err, ErrLoader) {
		t.Fatalf("no sku column: expected LoaderError, got %v", err)
	}
	if _, _, err := LoadSnapshot(strings.NewReader("Variant SKU,Price\nx,1\n"), "noqty.csv", LoaderOptions{}, loadNow); !errors.Is(err, ErrLoader) {
		t.Fatalf("no quantity column: expected LoaderError, got %v", err)
	}
	if _, _, err := LoadSnapshot(strings.NewReader("A,B\nx,1\n"), "g.csv", LoaderOptions{SKUColumn: "Missing"}, loadNow); !errors.Is(err, ErrLoader) {
		t.Fatalf("explicit missing column: expected LoaderError, got %v", err)
	}
}
