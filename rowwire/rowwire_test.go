package rowwire

import (
	"bytes"
	"testing"

	"github.com/tablon/tablon"
)

func testLayout(t *testing.T) *tablon.Layout {
	t.Helper()
	l, err := tablon.NewLayoutBuilder("Wire").
		Field(tablon.FieldProperties{Name: "ID", DataType: tablon.Int64, Flags: tablon.FlagID}).
		Field(tablon.FieldProperties{Name: "Name", DataType: tablon.String}).
		Build()
	if err != nil {
		t.Fatalf("build layout: %v", err)
	}
	return l
}

func TestEncodeDecodeWithEmbeddedLayout(t *testing.T) {
	layout := testLayout(t)
	row, err := tablon.NewRow(layout, []any{int64(1), "alice"})
	if err != nil {
		t.Fatalf("new row: %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, layout, []tablon.Row{row}, true); err != nil {
		t.Fatalf("encode: %v", err)
	}

	gotLayout, rows, err := Decode(&buf, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotLayout.Name() != "Wire" {
		t.Fatalf("layout name = %q, want Wire", gotLayout.Name())
	}
	if len(rows) != 1 || rows[0].Value(0) != int64(1) || rows[0].Value(1) != "alice" {
		t.Fatalf("got %#v", rows)
	}
}

func TestEncodeDecodeWithoutEmbeddedLayout(t *testing.T) {
	layout := testLayout(t)
	row, err := tablon.NewRow(layout, []any{int64(2), "bob"})
	if err != nil {
		t.Fatalf("new row: %v", err)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, layout, []tablon.Row{row}, false); err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, rows, err := Decode(&buf, layout)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].Value(1) != "bob" {
		t.Fatalf("got %#v", rows)
	}
}

func TestDecodeWithoutLayoutFailsWhenNoneSupplied(t *testing.T) {
	layout := testLayout(t)
	row, err := tablon.NewRow(layout, []any{int64(3), "carol"})
	if err != nil {
		t.Fatalf("new row: %v", err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, layout, []tablon.Row{row}, false); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, _, err := Decode(&buf, nil); err == nil {
		t.Fatalf("expected error decoding without a supplied layout")
	}
}
