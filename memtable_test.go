package tablon

import "testing"

// TestMemTableInsertAssignsAutoIncrement is scenario S1: insert a row with
// AutoIncrement Int64 ID and read it back with Name and Decimal Amount
// intact.
func TestMemTableInsertAssignsAutoIncrement(t *testing.T) {
	layout := ledgerLayout(t)
	m, err := NewMemTable(layout)
	tcheck(t, err, "new table")

	inserted, err := m.Insert(mustRow(t, layout, int64(0), "widget", 9.99))
	tcheck(t, err, "insert")
	if inserted.Value(0) != int64(1) {
		t.Fatalf("ID = %v, want 1", inserted.Value(0))
	}

	rows, err := m.GetRows(Equal("ID", int64(1)), None())
	tcheck(t, err, "GetRows")
	if len(rows) != 1 || rows[0].Value(1) != "widget" || rows[0].Value(2) != 9.99 {
		t.Fatalf("got %#v", rows)
	}
}

// TestMemTableAutoIncrementMonotonic verifies property 8: each newly
// assigned value exceeds every existing value, even after deletes.
func TestMemTableAutoIncrementMonotonic(t *testing.T) {
	layout := ledgerLayout(t)
	m, err := NewMemTable(layout)
	tcheck(t, err, "new table")

	var last int64
	for i := 0; i < 5; i++ {
		r, err := m.Insert(mustRow(t, layout, int64(0), "x", 1.0))
		tcheck(t, err, "insert")
		id := r.Value(0).(int64)
		if id <= last {
			t.Fatalf("autoincrement not monotonic: %d after %d", id, last)
		}
		last = id
	}
	tcheck(t, m.Delete(mustRow(t, layout, last, "x", 1.0)), "delete")
	r, err := m.Insert(mustRow(t, layout, int64(0), "y", 1.0))
	tcheck(t, err, "insert after delete")
	// After deleting last, the largest remaining ID is last-1.
	if r.Value(0).(int64) <= last-1 {
		t.Fatalf("autoincrement did not exceed the remaining maximum: got %v, remaining max is %v", r.Value(0), last-1)
	}
}

// TestMemTableIdentifierUniqueness verifies property 7: inserting a row
// whose identifier already exists fails.
func TestMemTableIdentifierUniqueness(t *testing.T) {
	layout := ledgerLayout(t)
	m, err := NewMemTable(layout)
	tcheck(t, err, "new table")

	_, err = m.Insert(mustRow(t, layout, int64(1), "a", 1.0))
	tcheck(t, err, "first insert")
	_, err = m.Insert(mustRow(t, layout, int64(1), "b", 2.0))
	tneed(t, err, ErrInvariantViolated, "duplicate identifier")
}

// TestMemTableIndexConsistency verifies property 6: the sum of index bucket
// sizes for an indexed field equals the row count after a mixed sequence of
// Insert/Update/Delete/Clear.
func TestMemTableIndexConsistency(t *testing.T) {
	layout := ledgerLayout(t)
	m, err := NewMemTable(layout)
	tcheck(t, err, "new table")

	idIdx, _, err := layout.GetFieldIndex("ID", false, true)
	tcheck(t, err, "lookup ID index")

	for i := int64(1); i <= 10; i++ {
		_, err := m.Insert(mustRow(t, layout, i, "x", float64(i)))
		tcheck(t, err, "insert")
	}
	tcheck(t, m.Update(mustRow(t, layout, int64(5), "x-updated", 99.0)), "update")
	tcheck(t, m.Delete(mustRow(t, layout, int64(3), "", 0)), "delete")

	total := 0
	for v := int64(1); v <= 10; v++ {
		if v == 3 {
			continue
		}
		rows, ok := m.IndexLookup(idIdx, v)
		if !ok {
			t.Fatalf("no index for field %d", idIdx)
		}
		total += len(rows)
	}
	if total != len(m.AllRows()) {
		t.Fatalf("index bucket total %d != row count %d", total, len(m.AllRows()))
	}

	tcheck(t, m.Clear(), "clear")
	if len(m.AllRows()) != 0 {
		t.Fatalf("Clear left %d rows", len(m.AllRows()))
	}
	if got := m.indices[idIdx].Count(); got != 0 {
		t.Fatalf("Clear left %d index entries", got)
	}
}

// TestMemTablePagingIsTotal is scenario S3 and verifies property 10: paging
// with SortDesc+Limit+Offset returns exactly the corresponding slice of the
// unpaged sorted result.
func TestMemTablePagingIsTotal(t *testing.T) {
	layout := ledgerLayout(t)
	m, err := NewMemTable(layout)
	tcheck(t, err, "new table")

	for i := int64(1); i <= 100; i++ {
		_, err := m.Insert(mustRow(t, layout, i, "x", float64(i)))
		tcheck(t, err, "insert")
	}

	all, err := m.GetRows(SearchNone(), SortDesc("Amount"))
	tcheck(t, err, "GetRows all sorted")

	paged, err := m.GetRows(SearchNone(), SortDesc("Amount").Plus(Limit(5)).Plus(Offset(10)))
	tcheck(t, err, "GetRows paged")

	if len(paged) != 5 {
		t.Fatalf("got %d rows, want 5", len(paged))
	}
	for i, r := range paged {
		if r.Value(2) != all[10+i].Value(2) {
			t.Fatalf("page[%d].Amount = %v, want %v", i, r.Value(2), all[10+i].Value(2))
		}
	}
	if paged[0].Value(2) != 90.0 || paged[4].Value(2) != 86.0 {
		t.Fatalf("got Amount range %v..%v, want 90..86", paged[0].Value(2), paged[4].Value(2))
	}
}

func TestMemTableReplaceInsertsOrUpdates(t *testing.T) {
	layout := ledgerLayout(t)
	m, err := NewMemTable(layout)
	tcheck(t, err, "new table")

	tcheck(t, m.Replace(mustRow(t, layout, int64(1), "first", 1.0)), "replace insert")
	tcheck(t, m.Replace(mustRow(t, layout, int64(1), "second", 2.0)), "replace update")

	rows, err := m.GetRows(SearchNone(), None())
	tcheck(t, err, "GetRows")
	if len(rows) != 1 || rows[0].Value(1) != "second" {
		t.Fatalf("got %#v", rows)
	}
}

func TestMemTableSumAndMinMax(t *testing.T) {
	layout := ledgerLayout(t)
	m, err := NewMemTable(layout)
	tcheck(t, err, "new table")
	for i := int64(1); i <= 3; i++ {
		_, err := m.Insert(mustRow(t, layout, i, "x", float64(i)))
		tcheck(t, err, "insert")
	}
	sum, err := m.Sum("Amount", SearchNone())
	tcheck(t, err, "sum")
	if sum != 6.0 {
		t.Fatalf("sum = %v, want 6", sum)
	}
	min, err := m.Minimum("Amount", SearchNone())
	tcheck(t, err, "min")
	if min != 1.0 {
		t.Fatalf("min = %v, want 1", min)
	}
	max, err := m.Maximum("Amount", SearchNone())
	tcheck(t, err, "max")
	if max != 3.0 {
		t.Fatalf("max = %v, want 3", max)
	}
}

func TestMemTableSetValue(t *testing.T) {
	layout := ledgerLayout(t)
	m, err := NewMemTable(layout)
	tcheck(t, err, "new table")
	for i := int64(1); i <= 3; i++ {
		_, err := m.Insert(mustRow(t, layout, i, "x", float64(i)))
		tcheck(t, err, "insert")
	}
	n, err := m.SetValue("Name", "y", Greater("Amount", 1.0))
	tcheck(t, err, "SetValue")
	if n != 2 {
		t.Fatalf("SetValue affected %d rows, want 2", n)
	}
}
