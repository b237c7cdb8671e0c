package tablon

import "testing"

// TestRowValuesRoundTrip verifies property 2: for all valid rows r,
// layout.GetRow(layout.GetStruct(r)) == r.
func TestRowValuesRoundTrip(t *testing.T) {
	layout := ledgerLayout(t)
	r := mustRow(t, layout, int64(7), "widget", 12.5)

	v := r.GetStruct()
	back, err := GetRow(layout, v)
	tcheck(t, err, "GetRow")

	if back.Value(0) != r.Value(0) || back.Value(1) != r.Value(1) || back.Value(2) != r.Value(2) {
		t.Fatalf("round trip mismatch: got %#v want %#v", back.Values, r.Values)
	}
}

func TestRowWithValueLeavesReceiverUnchanged(t *testing.T) {
	layout := ledgerLayout(t)
	r := mustRow(t, layout, int64(1), "a", 1.0)
	r2 := r.WithValue(1, "b")
	if r.Value(1) != "a" {
		t.Fatalf("receiver mutated: %v", r.Value(1))
	}
	if r2.Value(1) != "b" {
		t.Fatalf("WithValue did not apply: %v", r2.Value(1))
	}
}

func TestIdentifierKeyAndEqual(t *testing.T) {
	layout := ledgerLayout(t)
	a := mustRow(t, layout, int64(1), "a", 1.0)
	b := mustRow(t, layout, int64(1), "b", 99.0)
	c := mustRow(t, layout, int64(2), "a", 1.0)

	ida := NewIdentifier(a, layout.IdentifierFieldIndices())
	idb := NewIdentifier(b, layout.IdentifierFieldIndices())
	idc := NewIdentifier(c, layout.IdentifierFieldIndices())

	if !ida.Equal(idb) {
		t.Fatalf("identifiers sharing ID should be equal regardless of other fields")
	}
	if ida.Equal(idc) {
		t.Fatalf("identifiers with different ID should not be equal")
	}
	if ida.Key() != idb.Key() {
		t.Fatalf("Key() should agree with Equal()")
	}
	if ida.Key() == idc.Key() {
		t.Fatalf("distinct identifiers produced the same Key()")
	}
}

func TestNewRowRejectsShortValues(t *testing.T) {
	layout := ledgerLayout(t)
	_, err := NewRow(layout, []any{int64(1)})
	tneed(t, err, ErrInvalidArgument, "short values")
}
