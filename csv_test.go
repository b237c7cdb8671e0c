package tablon

import (
	"bytes"
	"testing"
)

func csvTestLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := NewLayoutBuilder("CsvSample").
		Field(FieldProperties{Name: "Name", DataType: String}).
		Field(FieldProperties{Name: "Amount", DataType: Double}).
		Field(FieldProperties{Name: "Active", DataType: Bool}).
		Build()
	tcheck(t, err, "build")
	return l
}

// TestCsvCodecRoundTrip verifies property 4: read(write(r)) == r under the
// same CsvProperties, for a row with no float special values.
func TestCsvCodecRoundTrip(t *testing.T) {
	layout := csvTestLayout(t)
	rows := []Row{
		mustRow(t, layout, "alice", 12.5, true),
		mustRow(t, layout, `quoted "name"`, -3.0, false),
		mustRow(t, layout, "has,comma", 0.0, true),
	}
	props := DefaultCsvProperties()

	var buf bytes.Buffer
	tcheck(t, WriteCSV(&buf, layout, rows, props), "write")

	got, err := ReadCSV(&buf, layout, props)
	tcheck(t, err, "read")
	if len(got) != len(rows) {
		t.Fatalf("got %d rows, want %d", len(got), len(rows))
	}
	for i, r := range rows {
		for f := 0; f <= layout.MaxIndex(); f++ {
			if got[i].Value(f) != r.Value(f) {
				t.Fatalf("row %d field %d: got %#v want %#v", i, f, got[i].Value(f), r.Value(f))
			}
		}
	}
}

// TestCsvMarkerEscaping is scenario S5: a comma-and-marker-bearing string
// round-trips through quoting.
func TestCsvMarkerEscaping(t *testing.T) {
	layout, err := NewLayoutBuilder("Quoted").
		Field(FieldProperties{Name: "Name", DataType: String}).
		Build()
	tcheck(t, err, "build")

	props := CsvProperties{Separator: ',', StringMarker: '"', HasStringMarker: true, NewLineMode: CsvNewLineLF, SaveDefaultValues: true}
	row := mustRow(t, layout, `a,b"c`)

	var buf bytes.Buffer
	tcheck(t, WriteCSV(&buf, layout, []Row{row}, props), "write")

	got, err := ReadCSV(&buf, layout, props)
	tcheck(t, err, "read")
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	if got[0].Value(0) != `a,b"c` {
		t.Fatalf("got %q, want %q", got[0].Value(0), `a,b"c`)
	}
}

func TestCsvEmptyStringDistinctFromDefault(t *testing.T) {
	layout, err := NewLayoutBuilder("EmptyVsDefault").
		Field(FieldProperties{Name: "Name", DataType: String, Flags: FlagNullable}).
		Build()
	tcheck(t, err, "build")

	props := DefaultCsvProperties()
	rows := []Row{mustRow(t, layout, ""), mustRow(t, layout, nil)}

	var buf bytes.Buffer
	tcheck(t, WriteCSV(&buf, layout, rows, props), "write")

	got, err := ReadCSV(&buf, layout, props)
	tcheck(t, err, "read")
	if got[0].Value(0) != "" {
		t.Fatalf("explicit empty string lost: got %#v", got[0].Value(0))
	}
	if got[1].Value(0) != nil {
		t.Fatalf("nil/default value did not round-trip as nil: got %#v", got[1].Value(0))
	}
}

func TestCsvFieldMatchingSkipsUnknownHeaderColumns(t *testing.T) {
	layout, err := NewLayoutBuilder("Matched").
		Field(FieldProperties{Name: "Name", DataType: String}).
		Build()
	tcheck(t, err, "build")

	props := DefaultCsvProperties()
	props.AllowFieldMatching = true
	input := "Name,Extra\nalice,ignored\n"

	rows, err := ReadCSV(bytes.NewBufferString(input), layout, props)
	tcheck(t, err, "read")
	if len(rows) != 1 || rows[0].Value(0) != "alice" {
		t.Fatalf("got %#v", rows)
	}
}
