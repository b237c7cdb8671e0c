package boltstore

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/tablon/tablon"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.bolt")
	db, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testLayout(t *testing.T) *tablon.Layout {
	t.Helper()
	l, err := tablon.NewLayoutBuilder("Widget").
		Field(tablon.FieldProperties{Name: "ID", DataType: tablon.Int64, Flags: tablon.FlagID | tablon.FlagAutoIncrement}).
		Field(tablon.FieldProperties{Name: "Name", DataType: tablon.String, Flags: tablon.FlagIndex}).
		Field(tablon.FieldProperties{Name: "Amount", DataType: tablon.Double}).
		Build()
	if err != nil {
		t.Fatalf("build layout: %v", err)
	}
	return l
}

func TestRegisterInsertAndGetRows(t *testing.T) {
	db := openTestDB(t)
	layout := testLayout(t)
	table, err := db.Register(layout)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	row, err := tablon.NewRow(layout, []any{int64(0), "widget", 9.99})
	if err != nil {
		t.Fatalf("new row: %v", err)
	}
	stored, err := table.Insert(row)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stored.Value(0) != int64(1) {
		t.Fatalf("ID = %v, want 1", stored.Value(0))
	}

	rows, err := table.GetRows(tablon.Equal("Name", "widget"), tablon.None())
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 1 || rows[0].Value(2) != 9.99 {
		t.Fatalf("got %#v", rows)
	}
}

func TestTableUpdateDeleteMaintainsIndex(t *testing.T) {
	db := openTestDB(t)
	layout := testLayout(t)
	table, err := db.Register(layout)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	row, _ := tablon.NewRow(layout, []any{int64(0), "a", 1.0})
	stored, err := table.Insert(row)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	renamed := stored.WithValue(1, "b")
	if err := table.Update(renamed); err != nil {
		t.Fatalf("update: %v", err)
	}

	rows, err := table.GetRows(tablon.Equal("Name", "a"), tablon.None())
	if err != nil {
		t.Fatalf("get rows a: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("old index value still resolves: %#v", rows)
	}
	rows, err = table.GetRows(tablon.Equal("Name", "b"), tablon.None())
	if err != nil {
		t.Fatalf("get rows b: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %#v, want 1 row", rows)
	}

	if err := table.Delete(renamed); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, err := table.Count(tablon.SearchNone(), tablon.None())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("count after delete = %d, want 0", n)
	}
}

func TestRegisterIsIdempotentWithoutSchemaChange(t *testing.T) {
	db := openTestDB(t)
	layout := testLayout(t)
	if _, err := db.Register(layout); err != nil {
		t.Fatalf("first register: %v", err)
	}
	table, err := db.Register(layout)
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	row, _ := tablon.NewRow(layout, []any{int64(0), "a", 1.0})
	if _, err := table.Insert(row); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Re-register with the same layout again; the index must survive and
	// still serve a lookup.
	table2, err := db.Register(layout)
	if err != nil {
		t.Fatalf("third register: %v", err)
	}
	rows, err := table2.GetRows(tablon.Equal("Name", "a"), tablon.None())
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %#v", rows)
	}
}

func TestTableAssignsAutoIncrementGuid(t *testing.T) {
	db := openTestDB(t)
	layout, err := tablon.NewLayoutBuilder("Ticket").
		Field(tablon.FieldProperties{Name: "ID", DataType: tablon.Guid, RecordType: reflect.TypeOf(uuid.UUID{}), Flags: tablon.FlagID | tablon.FlagAutoIncrement}).
		Field(tablon.FieldProperties{Name: "Subject", DataType: tablon.String}).
		Build()
	if err != nil {
		t.Fatalf("build layout: %v", err)
	}
	table, err := db.Register(layout)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	row, err := tablon.NewRow(layout, []any{uuid.UUID{}, "printer out of toner"})
	if err != nil {
		t.Fatalf("new row: %v", err)
	}
	stored, err := table.Insert(row)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	id, ok := stored.Value(0).(uuid.UUID)
	if !ok {
		t.Fatalf("ID value is %T, want uuid.UUID", stored.Value(0))
	}
	if id == (uuid.UUID{}) {
		t.Fatalf("AutoIncrement left ID as the zero UUID")
	}

	secondRow, err := tablon.NewRow(layout, []any{uuid.UUID{}, "second ticket"})
	if err != nil {
		t.Fatalf("new row: %v", err)
	}
	second, err := table.Insert(secondRow)
	if err != nil {
		t.Fatalf("insert second: %v", err)
	}
	if second.Value(0).(uuid.UUID) == id {
		t.Fatalf("second AutoIncrement reused the first UUID")
	}
}

func TestTableRejectsConcurrentWrapping(t *testing.T) {
	db := openTestDB(t)
	layout := testLayout(t)
	table, err := db.Register(layout)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := tablon.NewConcurrentTable(table); err == nil {
		t.Fatalf("expected NewConcurrentTable to reject a self-coordinating table")
	}
}

func TestTableSumAndPaging(t *testing.T) {
	db := openTestDB(t)
	layout := testLayout(t)
	table, err := db.Register(layout)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := int64(1); i <= 10; i++ {
		row, _ := tablon.NewRow(layout, []any{int64(0), "x", float64(i)})
		if _, err := table.Insert(row); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	sum, err := table.Sum("Amount", tablon.SearchNone())
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 55.0 {
		t.Fatalf("sum = %v, want 55", sum)
	}

	rows, err := table.GetRows(tablon.SearchNone(), tablon.SortDesc("Amount").Plus(tablon.Limit(3)))
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 3 || rows[0].Value(2) != 10.0 {
		t.Fatalf("got %#v", rows)
	}
}
