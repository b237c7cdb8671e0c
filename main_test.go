package tablon

import (
	"errors"
	"reflect"
	"testing"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

func tneed(t *testing.T, err error, expErr error, msg string) {
	t.Helper()
	if err == nil || !errors.Is(err, expErr) {
		t.Fatalf("%s: got %v, expected error %q", msg, err, expErr)
	}
}

func tcompare(t *testing.T, got, exp any, msg string) {
	t.Helper()
	if !reflect.DeepEqual(got, exp) {
		t.Fatalf("%s: got:\n%#v\nexpected:\n%#v", msg, got, exp)
	}
}

// ledger record type used throughout package tests: an auto-incrementing ID,
// an unindexed Name, a Decimal Amount.
type ledgerRow struct {
	ID     int64 `table:"id,autoincrement"`
	Name   string
	Amount float64 `table:"kind=Decimal"`
}

func ledgerLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := LayoutFor[ledgerRow](nil)
	tcheck(t, err, "build layout")
	return l
}

func mustRow(t *testing.T, layout *Layout, values ...any) Row {
	t.Helper()
	r, err := NewRow(layout, values)
	tcheck(t, err, "new row")
	return r
}

