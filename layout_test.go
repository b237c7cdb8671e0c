package tablon

import (
	"bufio"
	"bytes"
	"testing"
)

// TestLayoutRoundTrip verifies property 1: layout == Load(Save(layout)),
// compared field by field with Layout.Equal, via the DAT header codec
// EncodeLayoutHeader/DecodeLayoutHeader reuses for its own framing.
func TestLayoutRoundTrip(t *testing.T) {
	layout := ledgerLayout(t)

	var buf bytes.Buffer
	tcheck(t, EncodeLayoutHeader(&buf, layout), "encode header")

	got, err := DecodeLayoutHeader(bufio.NewReader(&buf))
	tcheck(t, err, "decode header")

	if got.Name() != layout.Name() {
		t.Fatalf("name mismatch: got %q want %q", got.Name(), layout.Name())
	}
	if !got.Equal(layout) {
		t.Fatalf("round-tripped layout not equal:\n%+v\n%+v", got.Fields(), layout.Fields())
	}
}

func TestLayoutBuilder(t *testing.T) {
	l, err := NewLayoutBuilder("Widget").
		Field(FieldProperties{Name: "ID", DataType: Int64, Flags: FlagID | FlagAutoIncrement}).
		Field(FieldProperties{Name: "Label", DataType: String, Flags: FlagIndex}).
		Build()
	tcheck(t, err, "build")
	if l.MaxIndex() != 1 {
		t.Fatalf("MaxIndex = %d, want 1", l.MaxIndex())
	}
	idx, ok, err := l.GetFieldIndex("Label", false, false)
	tcheck(t, err, "lookup")
	if !ok || idx != 1 {
		t.Fatalf("GetFieldIndex(Label) = %d,%v, want 1,true", idx, ok)
	}
}

func TestLayoutBuilderRejectsEmpty(t *testing.T) {
	_, err := NewLayoutBuilder("Empty").Build()
	tneed(t, err, ErrInvalidSchema, "empty layout")
}

func TestLayoutBuilderRejectsAutoIncrementWithoutID(t *testing.T) {
	_, err := NewLayoutBuilder("Bad").
		Field(FieldProperties{Name: "X", DataType: Int64, Flags: FlagAutoIncrement}).
		Build()
	tneed(t, err, ErrInvalidSchema, "autoincrement without id")
}

func TestLayoutUnsafeName(t *testing.T) {
	_, err := NewLayoutBuilder("0bad").
		Field(FieldProperties{Name: "X", DataType: Int64}).
		Build()
	tneed(t, err, ErrInvalidSchema, "unsafe layout name")
}
