package tablon

import "testing"

func TestTypedTableRoundTrip(t *testing.T) {
	layout := ledgerLayout(t)
	mem, err := NewMemTable(layout)
	tcheck(t, err, "new table")
	typed, err := NewTypedTable[ledgerRow](mem, nil)
	tcheck(t, err, "new typed table")

	stored, err := typed.Insert(ledgerRow{Name: "widget", Amount: 9.99})
	tcheck(t, err, "typed insert")
	if stored.ID == 0 {
		t.Fatalf("autoincrement ID not assigned")
	}

	got, ok, err := typed.GetRow(Equal("Name", "widget"), None())
	tcheck(t, err, "typed GetRow")
	if !ok || got.Amount != 9.99 {
		t.Fatalf("got %#v, ok=%v", got, ok)
	}
}

func TestKeyedTableGetAndDictionary(t *testing.T) {
	layout := ledgerLayout(t)
	mem, err := NewMemTable(layout)
	tcheck(t, err, "new table")
	keyed, err := NewKeyedTable[ledgerRow, string](mem, nil, "Name", func(r ledgerRow) string { return r.Name })
	tcheck(t, err, "new keyed table")

	_, err = keyed.Insert(ledgerRow{Name: "a", Amount: 1.0})
	tcheck(t, err, "insert a")
	_, err = keyed.Insert(ledgerRow{Name: "b", Amount: 2.0})
	tcheck(t, err, "insert b")

	v, ok, err := keyed.Get("a")
	tcheck(t, err, "get")
	if !ok || v.Amount != 1.0 {
		t.Fatalf("got %#v, ok=%v", v, ok)
	}

	exists, err := keyed.Exist("missing")
	tcheck(t, err, "exist")
	if exists {
		t.Fatalf("Exist(missing) = true")
	}

	dict, err := keyed.GetDictionary(SearchNone(), None())
	tcheck(t, err, "dictionary")
	if len(dict) != 2 || dict["a"].Amount != 1.0 || dict["b"].Amount != 2.0 {
		t.Fatalf("got %#v", dict)
	}
}
