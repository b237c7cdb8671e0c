package tablon

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func datTestLayout(t *testing.T) *Layout {
	t.Helper()
	b := NewLayoutBuilder("DatSample").
		Field(FieldProperties{Name: "BoolF", DataType: Bool, Flags: FlagNullable}).
		Field(FieldProperties{Name: "I8", DataType: Int8}).
		Field(FieldProperties{Name: "I16", DataType: Int16}).
		Field(FieldProperties{Name: "I32", DataType: Int32}).
		Field(FieldProperties{Name: "I64", DataType: Int64}).
		Field(FieldProperties{Name: "U8", DataType: UInt8}).
		Field(FieldProperties{Name: "U16", DataType: UInt16}).
		Field(FieldProperties{Name: "U32", DataType: UInt32}).
		Field(FieldProperties{Name: "U64", DataType: UInt64}).
		Field(FieldProperties{Name: "Sngl", DataType: Single}).
		Field(FieldProperties{Name: "Dbl", DataType: Double}).
		Field(FieldProperties{Name: "Dec", DataType: Decimal}).
		Field(FieldProperties{Name: "Str", DataType: String}).
		Field(FieldProperties{Name: "Bin", DataType: Binary}).
		Field(FieldProperties{Name: "DT", DataType: DateTime}).
		Field(FieldProperties{Name: "TS", DataType: TimeSpan}).
		Field(FieldProperties{Name: "En", DataType: Enum}).
		Field(FieldProperties{Name: "Ch", DataType: Char}).
		Field(FieldProperties{Name: "Gd", DataType: Guid, RecordType: reflect.TypeOf(uuid.UUID{})}).
		Field(FieldProperties{Name: "Usr", DataType: User})
	l, err := b.Build()
	tcheck(t, err, "build DAT sample layout")
	return l
}

func datTestValues() []any {
	return []any{
		true,
		int8(-5),
		int16(-1234),
		int32(123456),
		int64(-987654321),
		uint8(200),
		uint16(50000),
		uint32(3000000000),
		uint64(123456789012345),
		float32(3.14),
		123.45,
		67.89,
		"hello, world",
		[]byte{1, 2, 3, 4},
		time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		5 * time.Second,
		int64(7),
		int32('Z'),
		uuid.New(),
		"user-payload",
	}
}

// TestDatCodecRoundTrip verifies property 3: for every supported version,
// decode(encode(r, v), v) == r for every field kind.
func TestDatCodecRoundTrip(t *testing.T) {
	layout := datTestLayout(t)
	row := mustRow(t, layout, datTestValues()...)

	for version := MinDatVersion; version <= CurrentDatVersion; version++ {
		version := version
		t.Run("", func(t *testing.T) {
			var buf bytes.Buffer
			tcheck(t, WriteDat(&buf, layout, []Row{row}, version), "write")

			got, rows, err := ReadDat(&buf)
			tcheck(t, err, "read")
			if len(rows) != 1 {
				t.Fatalf("got %d rows, want 1", len(rows))
			}
			for i, f := range got.Fields() {
				want := row.Value(i)
				gotV := rows[0].Value(i)
				if !valuesRoughlyEqual(f.DataType, want, gotV) {
					t.Fatalf("version %d field %q: got %#v want %#v", version, f.Name, gotV, want)
				}
			}
		})
	}
}

func valuesRoughlyEqual(dt DataType, a, b any) bool {
	if dt == Binary {
		ab, _ := a.([]byte)
		bb, _ := b.([]byte)
		return bytes.Equal(ab, bb)
	}
	if dt == DateTime {
		at, _ := a.(time.Time)
		bt, _ := b.(time.Time)
		return at.UTC().Equal(bt.UTC())
	}
	return a == b
}

// TestDatVersion5Nullable is scenario S4: a v5 nullable Int32 field
// preserves null for one row and a concrete value for the next.
func TestDatVersion5Nullable(t *testing.T) {
	layout, err := NewLayoutBuilder("Nullable32").
		Field(FieldProperties{Name: "X", DataType: Int32, Flags: FlagNullable}).
		Build()
	tcheck(t, err, "build")

	rowNull := mustRow(t, layout, nil)
	rowValue := mustRow(t, layout, int32(7))

	var buf bytes.Buffer
	tcheck(t, WriteDat(&buf, layout, []Row{rowNull, rowValue}, 5), "write")

	_, rows, err := ReadDat(&buf)
	tcheck(t, err, "read")
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Value(0) != nil {
		t.Fatalf("row1[0] = %v, want nil", rows[0].Value(0))
	}
	if rows[1].Value(0) != int32(7) {
		t.Fatalf("row2[0] = %v, want 7", rows[1].Value(0))
	}
}

// TestDatNullNotPreservedBeforeV5 documents that null is only representable
// from version 5 onward: writing a nil value at an earlier version silently
// encodes the type's zero value instead.
func TestDatNullNotPreservedBeforeV5(t *testing.T) {
	layout, err := NewLayoutBuilder("Nullable32b").
		Field(FieldProperties{Name: "X", DataType: Int32, Flags: FlagNullable}).
		Build()
	tcheck(t, err, "build")

	row := mustRow(t, layout, nil)
	var buf bytes.Buffer
	tcheck(t, WriteDat(&buf, layout, []Row{row}, 4), "write")

	_, rows, err := ReadDat(&buf)
	tcheck(t, err, "read")
	if rows[0].Value(0) != int32(0) {
		t.Fatalf("pre-v5 nil round-tripped as %v, want zero value 0", rows[0].Value(0))
	}
}
