package reader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleCSV = `Test_Type_ID,Timestamp,Value,Lon,Lat,Status,Source
cbr,2024-03-04T10:00:00Z,25,-1.50,52.10,,
cbr,2024-03-04T11:00:00Z,19.5,-1.51,52.11,fail,gauge-9

density,2024-03-05T09:30:00+01:00,1.92,-1.52,52.12,,
`

func TestParseCSV(t *testing.T) {
	items, err := ParseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items: got %d, want 3 (blank row skipped)", len(items))
	}

	first := items[0]
	if first.TestTypeID != "cbr" || *first.Value != 25 || first.Longitude != -1.50 || first.Latitude != 52.10 {
		t.Errorf("first item: got %+v", first)
	}
	if items[1].Status != "fail" || items[1].Source != "gauge-9" {
		t.Errorf("second item status/source: got %q/%q", items[1].Status, items[1].Source)
	}
	want := time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC)
	if !items[2].Timestamp.Equal(want) {
		t.Errorf("offset timestamp: got %v, want %v", items[2].Timestamp, want)
	}
}

func TestParseCSV_ByteOrderMark(t *testing.T) {
	in := "\ufefftestTypeId,timestamp,value,longitude,latitude\ncbr,2024-03-04T10:00:00Z,1,0,0\n"
	items, err := ParseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if items[0].TestTypeID != "cbr" {
		t.Errorf("testTypeId: got %q", items[0].TestTypeID)
	}
}

func TestParseCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		field string
		row   int
	}{
		{"missing column", "testTypeId,timestamp,value,longitude\n", "", 0},
		{"empty", "", "", 0},
		{"header only", "testTypeId,timestamp,value,longitude,latitude\n", "", 0},
		{"bad value", "testTypeId,timestamp,value,longitude,latitude\ncbr,2024-03-04T10:00:00Z,abc,0,0\n", "value", 1},
		{"missing value", "testTypeId,timestamp,value,longitude,latitude\ncbr,2024-03-04T10:00:00Z,,0,0\n", "value", 1},
		{"bad timestamp", "testTypeId,timestamp,value,longitude,latitude\ncbr,2024-03-04T10:00:00Z,1,0,0\ncbr,04/03/2024,1,0,0\n", "timestamp", 2},
		{"missing test type", "testTypeId,timestamp,value,longitude,latitude\n,2024-03-04T10:00:00Z,1,0,0\n", "testTypeId", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tc.in))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tc.field == "" {
				return
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error %v is not a *ParseError", err)
			}
			if pe.Field != tc.field || pe.Row != tc.row {
				t.Errorf("ParseError: got row %d field %q, want row %d field %q", pe.Row, pe.Field, tc.row, tc.field)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	array := `[{"testTypeId":"cbr","timestamp":"2024-03-04T10:00:00Z","value":0,"longitude":1,"latitude":2}]`
	object := `{"idempotencyKey":"ignored","items":` + array + `}`

	for name, in := range map[string]string{"array": array, "object": object} {
		t.Run(name, func(t *testing.T) {
			items, err := ParseJSON([]byte(in))
			if err != nil {
				t.Fatalf("ParseJSON() error = %v", err)
			}
			if len(items) != 1 || items[0].Value == nil || *items[0].Value != 0 {
				t.Errorf("items: got %+v", items)
			}
		})
	}
}

func TestParseJSON_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":        "  ",
		"scalar":       `"cbr"`,
		"no items":     `{"items":[]}`,
		"null value":   `[{"testTypeId":"cbr","timestamp":"2024-03-04T10:00:00Z","value":null}]`,
		"no timestamp": `[{"testTypeId":"cbr","value":1}]`,
		"no test type": `[{"timestamp":"2024-03-04T10:00:00Z","value":1}]`,
		"malformed":    `[{"testTypeId":`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseJSON([]byte(in)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestRead_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.xlsx")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Read(.xlsx): got %v, want ErrUnsupported", err)
	}
}

func TestBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.CSV")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(f.Digest) != 64 {
		t.Fatalf("digest length: got %d", len(f.Digest))
	}

	batches := f.Batches(2, Defaults{Source: "agent-1", Technician: "sam"})
	if len(batches) != 2 {
		t.Fatalf("batches: got %d, want 2", len(batches))
	}
	if len(batches[0].Items) != 2 || len(batches[1].Items) != 1 {
		t.Errorf("chunk sizes: got %d and %d", len(batches[0].Items), len(batches[1].Items))
	}
	if batches[0].IdempotencyKey != f.Digest[:32]+"-2-0" || batches[1].IdempotencyKey != f.Digest[:32]+"-2-1" {
		t.Errorf("keys: got %q, %q", batches[0].IdempotencyKey, batches[1].IdempotencyKey)
	}
	if batches[0].Items[0].Source != "agent-1" {
		t.Errorf("default source not applied: %q", batches[0].Items[0].Source)
	}
	if batches[0].Items[1].Source != "gauge-9" {
		t.Errorf("explicit source overwritten: %q", batches[0].Items[1].Source)
	}
	if batches[1].Items[0].Technician != "sam" {
		t.Errorf("default technician not applied: %q", batches[1].Items[0].Technician)
	}
	if f.Items[0].Source != "" {
		t.Error("Batches mutated the parsed items")
	}

	again := f.Batches(2, Defaults{})
	if again[1].IdempotencyKey != batches[1].IdempotencyKey {
		t.Error("keys are not stable across calls")
	}
}
