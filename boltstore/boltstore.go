// Package boltstore is an embedded key-value back-end for the table
// contract, built on go.etcd.io/bbolt. It is grounded directly on the
// teacher's own register.go: one top-level bucket per registered layout,
// holding a "records" sub-bucket (primary-key-ordered row data), a "types"
// sub-bucket recording one self-describing schema per version ever seen
// (existing records are never migrated: every record is decoded with the
// layout the Table was registered with, nothing checks that older records
// still decode under it, and scans skip a record that does not), and one
// "index.<field>" sub-bucket per ID/Index field, rebuilt by sorted bulk
// insert whenever Register sees a schema change.
//
// A boltstore Table already serializes its own concurrent access through
// bbolt's single-writer/multi-reader transactions, so it implements
// tablon.SelfCoordinating and refuses to be wrapped by
// tablon.NewConcurrentTable.
package boltstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/tablon/tablon"
	"github.com/tablon/tablon/rowwire"
)

var (
	bucketRecords = []byte("records")
	bucketTypes   = []byte("types")
	bucketMeta    = []byte("meta")
	keySeq        = []byte("seq")
)

func indexBucketName(fieldName string) []byte {
	return []byte("index." + fieldName)
}

// DB wraps a bbolt database holding any number of registered tables.
type DB struct {
	bolt *bbolt.DB
}

// Open opens (creating if necessary) the bbolt file at path. opts may be
// nil, taking bbolt's own defaults.
func Open(path string, opts *bbolt.Options) (*DB, error) {
	b, err := bbolt.Open(path, 0600, opts)
	if err != nil {
		return nil, err
	}
	return &DB{bolt: b}, nil
}

// Close releases the underlying file and its lock.
func (db *DB) Close() error { return db.bolt.Close() }

// fieldDoc is the JSON-stable subset of FieldProperties a schema version
// records; structField (reflection-only) is deliberately excluded.
type fieldDoc struct {
	Name             string
	NameAtDatabase   string
	DataType         int
	DatabaseDataType int
	Flags            uint8
	MaximumLength    int
	DateTimeKind     int
	DateTimeType     int
	StringEncoding   int
}

type schemaDoc struct {
	Version uint32
	Fields  []fieldDoc
}

func toFieldDoc(f tablon.FieldProperties) fieldDoc {
	return fieldDoc{
		Name:             f.Name,
		NameAtDatabase:   f.NameAtDatabase,
		DataType:         int(f.DataType),
		DatabaseDataType: int(f.DatabaseDataType),
		Flags:            uint8(f.Flags),
		MaximumLength:    f.MaximumLength,
		DateTimeKind:     int(f.DateTimeKind),
		DateTimeType:     int(f.DateTimeType),
		StringEncoding:   int(f.StringEncoding),
	}
}

func schemaEqual(a, b []fieldDoc) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Register opens or creates the bucket hierarchy for layout and returns a
// Table bound to it. If the latest recorded schema version already matches
// layout's field set, this is a cheap no-op; otherwise a new version is
// appended to the "types" bucket and every declared index is rebuilt from
// the current record set via a sorted bulk insert (not a random-order
// insert, which bbolt pages badly).
func (db *DB) Register(layout *tablon.Layout) (*Table, error) {
	if layout == nil {
		return nil, fmt.Errorf("%w: nil layout", tablon.ErrInvalidArgument)
	}
	err := db.bolt.Update(func(tx *bbolt.Tx) error {
		top, err := tx.CreateBucketIfNotExists([]byte(layout.Name()))
		if err != nil {
			return err
		}
		if _, err := top.CreateBucketIfNotExists(bucketRecords); err != nil {
			return err
		}
		types, err := top.CreateBucketIfNotExists(bucketTypes)
		if err != nil {
			return err
		}
		if _, err := top.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}

		want := make([]fieldDoc, len(layout.Fields()))
		for i, f := range layout.Fields() {
			want[i] = toFieldDoc(f)
		}

		var latestVersion uint32
		var latestFields []fieldDoc
		if k, v := types.Cursor().Last(); k != nil {
			latestVersion = binary.BigEndian.Uint32(k)
			var doc schemaDoc
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("%w: corrupt schema version for table %q: %v", tablon.ErrMalformedInput, layout.Name(), err)
			}
			latestFields = doc.Fields
		}

		changed := latestFields == nil || !schemaEqual(latestFields, want)
		if changed {
			newVersion := latestVersion + 1
			doc := schemaDoc{Version: newVersion, Fields: want}
			b, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			var key [4]byte
			binary.BigEndian.PutUint32(key[:], newVersion)
			if err := types.Put(key[:], b); err != nil {
				return err
			}
		}

		for _, f := range layout.Fields() {
			if !f.Flags.Has(tablon.FlagID) && !f.Flags.Has(tablon.FlagIndex) {
				continue
			}
			name := indexBucketName(f.Name)
			if !changed && top.Bucket(name) != nil {
				continue
			}
			if err := rebuildIndex(top, layout, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Table{db: db, layout: layout}, nil
}

// rebuildIndex drops and recreates the index bucket for f, populating it
// from the current "records" bucket. Keys are gathered, sorted, then
// inserted in order with FillPercent raised to 1 — the same bulk-load
// shortcut the teacher's Register uses to avoid bbolt's slow random-insert
// path on a cold index.
func rebuildIndex(top *bbolt.Bucket, layout *tablon.Layout, f tablon.FieldProperties) error {
	name := indexBucketName(f.Name)
	if err := top.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
		return err
	}
	idxBucket, err := top.CreateBucket(name)
	if err != nil {
		return err
	}
	idxBucket.FillPercent = 1

	records := top.Bucket(bucketRecords)
	var keys [][]byte
	c := records.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		row, err := decodeRecord(layout, v)
		if err != nil {
			return fmt.Errorf("%w: rebuilding index %q: %v", tablon.ErrMalformedInput, f.Name, err)
		}
		keys = append(keys, packIndexKey(row.Value(f.Index), k))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	for _, k := range keys {
		if err := idxBucket.Put(k, nil); err != nil {
			return err
		}
	}
	return nil
}

func recordKey(layout *tablon.Layout, row tablon.Row) []byte {
	ids := layout.IdentifierFieldIndices()
	if len(ids) == 0 {
		ids = make([]int, len(layout.Fields()))
		for i := range ids {
			ids[i] = i
		}
	}
	return []byte(tablon.NewIdentifier(row, ids).Key())
}

func encodeRecord(layout *tablon.Layout, row tablon.Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := rowwire.Encode(&buf, layout, []tablon.Row{row}, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(layout *tablon.Layout, data []byte) (tablon.Row, error) {
	_, rows, err := rowwire.Decode(bytes.NewReader(data), layout)
	if err != nil {
		return tablon.Row{}, err
	}
	if len(rows) != 1 {
		return tablon.Row{}, fmt.Errorf("%w: record decoded to %d rows, want 1", tablon.ErrMalformedInput, len(rows))
	}
	return rows[0], nil
}

// encodeIndexValue renders v into a byte sequence in which equal values give
// equal bytes, mirroring the in-memory engine's own canonical value encoding.
// The index buckets use it for exact-value prefix lookups only; the byte
// order of floats and times does not follow their natural ordering.
func encodeIndexValue(v any) []byte {
	if v == nil {
		return []byte{0}
	}
	switch x := v.(type) {
	case bool:
		if x {
			return []byte{1, 1}
		}
		return []byte{1, 0}
	case int8:
		return []byte{2, byte(uint8(x) ^ 0x80)}
	case int16:
		b := make([]byte, 3)
		b[0] = 3
		binary.BigEndian.PutUint16(b[1:], uint16(x)^0x8000)
		return b
	case int32:
		b := make([]byte, 5)
		b[0] = 4
		binary.BigEndian.PutUint32(b[1:], uint32(x)^0x80000000)
		return b
	case int:
		return encodeIndexValue(int64(x))
	case int64:
		b := make([]byte, 9)
		b[0] = 5
		binary.BigEndian.PutUint64(b[1:], uint64(x)^0x8000000000000000)
		return b
	case uint8:
		return []byte{6, x}
	case uint16:
		b := make([]byte, 3)
		b[0] = 7
		binary.BigEndian.PutUint16(b[1:], x)
		return b
	case uint32:
		b := make([]byte, 5)
		b[0] = 8
		binary.BigEndian.PutUint32(b[1:], x)
		return b
	case uint:
		return encodeIndexValue(uint64(x))
	case uint64:
		b := make([]byte, 9)
		b[0] = 9
		binary.BigEndian.PutUint64(b[1:], x)
		return b
	case float32:
		b := make([]byte, 5)
		b[0] = 10
		binary.BigEndian.PutUint32(b[1:], math.Float32bits(x))
		return b
	case float64:
		b := make([]byte, 9)
		b[0] = 11
		binary.BigEndian.PutUint64(b[1:], math.Float64bits(x))
		return b
	case string:
		return append([]byte{12}, []byte(x)...)
	case []byte:
		return append([]byte{13}, x...)
	case time.Time:
		b := make([]byte, 9)
		b[0] = 14
		binary.BigEndian.PutUint64(b[1:], uint64(x.UTC().UnixNano()))
		return b
	case time.Duration:
		b := make([]byte, 9)
		b[0] = 15
		binary.BigEndian.PutUint64(b[1:], uint64(x))
		return b
	default:
		return append([]byte{255}, []byte(fmt.Sprintf("%v", x))...)
	}
}

// packIndexKey concatenates value's length-prefixed canonical bytes with
// the owning record's key, so an index bucket scan by exact value needs
// only a prefix match, and the trailing record key still makes every entry
// unique even when two rows share a value.
func packIndexKey(value any, recKey []byte) []byte {
	prefix := indexValuePrefix(value)
	buf := make([]byte, 0, len(prefix)+len(recKey))
	buf = append(buf, prefix...)
	buf = append(buf, recKey...)
	return buf
}

func indexValuePrefix(value any) []byte {
	vb := encodeIndexValue(value)
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(vb)))
	buf := make([]byte, 0, n+len(vb))
	buf = append(buf, lenBuf[:n]...)
	buf = append(buf, vb...)
	return buf
}

// txSource adapts one bbolt bucket hierarchy, read within an open
// transaction, to the shape Search.Scan needs: AllRows and an indexed
// equality lookup.
type txSource struct {
	top    *bbolt.Bucket
	layout *tablon.Layout
}

func (s *txSource) AllRows() []tablon.Row {
	records := s.top.Bucket(bucketRecords)
	var rows []tablon.Row
	c := records.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		row, err := decodeRecord(s.layout, v)
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func (s *txSource) IndexLookup(fieldIndex int, value any) ([]tablon.Row, bool) {
	f, ok := s.layout.FieldByIndex(fieldIndex)
	if !ok || (!f.Flags.Has(tablon.FlagID) && !f.Flags.Has(tablon.FlagIndex)) {
		return nil, false
	}
	idxBucket := s.top.Bucket(indexBucketName(f.Name))
	if idxBucket == nil {
		return nil, false
	}
	prefix := indexValuePrefix(value)
	records := s.top.Bucket(bucketRecords)
	var rows []tablon.Row
	c := idxBucket.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		recKey := k[len(prefix):]
		v := records.Get(recKey)
		if v == nil {
			continue
		}
		row, err := decodeRecord(s.layout, v)
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, true
}

// Table is a tablon.Table backed by one bucket hierarchy in a DB.
type Table struct {
	db     *DB
	layout *tablon.Layout
}

// AlreadyCoordinated implements tablon.SelfCoordinating: bbolt's own
// single-writer/multi-reader transactions already serialize access, so
// NewConcurrentTable must not layer another coordinator on top.
func (t *Table) AlreadyCoordinated() bool { return true }

// Layout returns the table's current schema.
func (t *Table) Layout() *tablon.Layout { return t.layout }

func (t *Table) withView(fn func(top *bbolt.Bucket) error) error {
	return t.db.bolt.View(func(tx *bbolt.Tx) error {
		top := tx.Bucket([]byte(t.layout.Name()))
		if top == nil {
			return fmt.Errorf("%w: table %q not registered", tablon.ErrInvalidSchema, t.layout.Name())
		}
		return fn(top)
	})
}

func (t *Table) withUpdate(fn func(top *bbolt.Bucket) error) error {
	return t.db.bolt.Update(func(tx *bbolt.Tx) error {
		top := tx.Bucket([]byte(t.layout.Name()))
		if top == nil {
			return fmt.Errorf("%w: table %q not registered", tablon.ErrInvalidSchema, t.layout.Name())
		}
		if err := fn(top); err != nil {
			return err
		}
		return bumpSequence(top)
	})
}

func bumpSequence(top *bbolt.Bucket) error {
	meta := top.Bucket(bucketMeta)
	seq := readSeq(meta) + 1
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return meta.Put(keySeq, b[:])
}

func readSeq(meta *bbolt.Bucket) uint64 {
	v := meta.Get(keySeq)
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// SequenceNumber returns the table's durable mutation counter.
func (t *Table) SequenceNumber() int64 {
	var seq uint64
	_ = t.withView(func(top *bbolt.Bucket) error {
		seq = readSeq(top.Bucket(bucketMeta))
		return nil
	})
	return int64(seq)
}

// Clear removes every row and index entry, leaving the schema history
// ("types") untouched.
func (t *Table) Clear() error {
	return t.withUpdate(func(top *bbolt.Bucket) error {
		if err := top.DeleteBucket(bucketRecords); err != nil {
			return err
		}
		if _, err := top.CreateBucket(bucketRecords); err != nil {
			return err
		}
		for _, f := range t.layout.Fields() {
			if !f.Flags.Has(tablon.FlagID) && !f.Flags.Has(tablon.FlagIndex) {
				continue
			}
			name := indexBucketName(f.Name)
			if err := top.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := top.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *Table) scanRows(top *bbolt.Bucket, search tablon.Search, opts tablon.ResultOption) ([]tablon.Row, error) {
	src := &txSource{top: top, layout: t.layout}
	rows, err := search.Scan(nil, t.layout, src)
	if err != nil {
		return nil, err
	}
	return applyResultOption(t.layout, rows, opts)
}

// GetRows returns every row matching search, shaped by opts.
func (t *Table) GetRows(search tablon.Search, opts tablon.ResultOption) ([]tablon.Row, error) {
	var out []tablon.Row
	err := t.withView(func(top *bbolt.Bucket) error {
		rows, err := t.scanRows(top, search, opts)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

// Count returns the number of rows matching search under opts.
func (t *Table) Count(search tablon.Search, opts tablon.ResultOption) (int, error) {
	rows, err := t.GetRows(search, opts)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Exist reports whether any row matches search.
func (t *Table) Exist(search tablon.Search) (bool, error) {
	rows, err := t.GetRows(search, tablon.None())
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// GetRow returns the first row matching search under opts.
func (t *Table) GetRow(search tablon.Search, opts tablon.ResultOption) (tablon.Row, bool, error) {
	rows, err := t.GetRows(search, opts)
	if err != nil {
		return tablon.Row{}, false, err
	}
	if len(rows) == 0 {
		return tablon.Row{}, false, nil
	}
	return rows[0], true, nil
}

// GetRowAt returns the row at ordinal position index, in record-key order
// (bbolt bucket iteration order), which is not guaranteed stable across
// mutations.
func (t *Table) GetRowAt(index int) (tablon.Row, error) {
	var row tablon.Row
	err := t.withView(func(top *bbolt.Bucket) error {
		rows := (&txSource{top: top, layout: t.layout}).AllRows()
		if index < 0 || index >= len(rows) {
			return fmt.Errorf("%w: row index %d out of range (len=%d)", tablon.ErrInvalidArgument, index, len(rows))
		}
		row = rows[index]
		return nil
	})
	return row, err
}

// Distinct returns the distinct values of field among matching rows, in
// first-seen order.
func (t *Table) Distinct(field string, search tablon.Search) ([]any, error) {
	idx, _, err := t.layout.GetFieldIndex(field, false, true)
	if err != nil {
		return nil, err
	}
	var out []any
	err = t.withView(func(top *bbolt.Bucket) error {
		rows, err := search.Scan(nil, t.layout, &txSource{top: top, layout: t.layout})
		if err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, r := range rows {
			v := r.Value(idx)
			k := string(encodeIndexValue(v))
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// GetValues returns field's value for every matching row, shaped by opts.
func (t *Table) GetValues(field string, search tablon.Search, opts tablon.ResultOption) ([]any, error) {
	idx, _, err := t.layout.GetFieldIndex(field, false, true)
	if err != nil {
		return nil, err
	}
	rows, err := t.GetRows(search, opts)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r.Value(idx)
	}
	return out, nil
}

// Minimum reduces field's values over matching rows using the field's
// declared ordering.
func (t *Table) Minimum(field string, search tablon.Search) (any, error) {
	return t.reduceOrdered(field, search, -1)
}

// Maximum reduces field's values over matching rows using the field's
// declared ordering.
func (t *Table) Maximum(field string, search tablon.Search) (any, error) {
	return t.reduceOrdered(field, search, 1)
}

func (t *Table) reduceOrdered(field string, search tablon.Search, want int) (any, error) {
	values, err := t.GetValues(field, search, tablon.None())
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no rows match in table %q", tablon.ErrNotFound, t.layout.Name())
	}
	best := values[0]
	for _, v := range values[1:] {
		c := compareForSort(v, best)
		if (want < 0 && c < 0) || (want > 0 && c > 0) {
			best = v
		}
	}
	return best, nil
}

// Sum reduces field's numeric values over matching rows.
func (t *Table) Sum(field string, search tablon.Search) (any, error) {
	idx, _, err := t.layout.GetFieldIndex(field, false, true)
	if err != nil {
		return nil, err
	}
	f, _ := t.layout.FieldByIndex(idx)
	values, err := t.GetValues(field, search, tablon.None())
	if err != nil {
		return nil, err
	}
	var total float64
	for _, v := range values {
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("%w: field %q is not numeric", tablon.ErrInvalidArgument, field)
		}
		total += n
	}
	switch f.DataType {
	case tablon.Single:
		return float32(total), nil
	case tablon.Double, tablon.Decimal:
		return total, nil
	case tablon.Int8, tablon.Int16, tablon.Int32, tablon.Int64,
		tablon.UInt8, tablon.UInt16, tablon.UInt32, tablon.UInt64:
		return convertIntegerKind(int64(total), f.DataType), nil
	default:
		return total, nil
	}
}

func convertIntegerKind(n int64, dt tablon.DataType) any {
	switch dt {
	case tablon.Int8:
		return int8(n)
	case tablon.Int16:
		return int16(n)
	case tablon.Int32:
		return int32(n)
	case tablon.Int64:
		return n
	case tablon.UInt8:
		return uint8(n)
	case tablon.UInt16:
		return uint16(n)
	case tablon.UInt32:
		return uint32(n)
	case tablon.UInt64:
		return uint64(n)
	default:
		return n
	}
}

// Insert stores row, assigning any AutoIncrement identifier fields, and
// updates every declared index.
func (t *Table) Insert(row tablon.Row) (tablon.Row, error) {
	var stored tablon.Row
	err := t.withUpdate(func(top *bbolt.Bucket) error {
		assigned, err := t.assignAutoIncrement(top, row)
		if err != nil {
			return err
		}
		key := recordKey(t.layout, assigned)
		records := top.Bucket(bucketRecords)
		if records.Get(key) != nil {
			return fmt.Errorf("%w: duplicate identifier in table %q", tablon.ErrInvariantViolated, t.layout.Name())
		}
		data, err := encodeRecord(t.layout, assigned)
		if err != nil {
			return err
		}
		if err := records.Put(key, data); err != nil {
			return err
		}
		if err := t.updateIndices(top, key, tablon.Row{}, assigned, false); err != nil {
			return err
		}
		stored = assigned
		return nil
	})
	if err != nil {
		return tablon.Row{}, err
	}
	return stored, nil
}

// Update replaces the stored row sharing row's identifier.
func (t *Table) Update(row tablon.Row) error {
	return t.withUpdate(func(top *bbolt.Bucket) error {
		key := recordKey(t.layout, row)
		records := top.Bucket(bucketRecords)
		old := records.Get(key)
		if old == nil {
			return fmt.Errorf("%w: identifier in table %q", tablon.ErrNotFound, t.layout.Name())
		}
		oldRow, err := decodeRecord(t.layout, old)
		if err != nil {
			return err
		}
		data, err := encodeRecord(t.layout, row)
		if err != nil {
			return err
		}
		if err := records.Put(key, data); err != nil {
			return err
		}
		return t.updateIndices(top, key, oldRow, row, true)
	})
}

// Replace is Update if row's identifier exists, else Insert.
func (t *Table) Replace(row tablon.Row) error {
	exists := false
	_ = t.withView(func(top *bbolt.Bucket) error {
		exists = top.Bucket(bucketRecords).Get(recordKey(t.layout, row)) != nil
		return nil
	})
	if exists {
		return t.Update(row)
	}
	_, err := t.Insert(row)
	return err
}

// Delete removes the row sharing row's identifier.
func (t *Table) Delete(row tablon.Row) error {
	return t.withUpdate(func(top *bbolt.Bucket) error {
		key := recordKey(t.layout, row)
		records := top.Bucket(bucketRecords)
		old := records.Get(key)
		if old == nil {
			return fmt.Errorf("%w: identifier in table %q", tablon.ErrNotFound, t.layout.Name())
		}
		oldRow, err := decodeRecord(t.layout, old)
		if err != nil {
			return err
		}
		if err := records.Delete(key); err != nil {
			return err
		}
		return t.updateIndices(top, key, oldRow, tablon.Row{}, true)
	})
}

// TryDelete deletes every row matching search, logging and continuing past
// any single-row failure instead of propagating it.
func (t *Table) TryDelete(search tablon.Search) (bool, error) {
	rows, err := t.GetRows(search, tablon.None())
	if err != nil {
		slog.Error("boltstore: TryDelete search failed", "table", t.layout.Name(), "error", err)
		return false, nil
	}
	ok := true
	for _, r := range rows {
		if err := t.Delete(r); err != nil {
			slog.Error("boltstore: TryDelete row failed", "table", t.layout.Name(), "error", err)
			ok = false
		}
	}
	return ok, nil
}

// SetValue assigns value to field on every row matching search.
func (t *Table) SetValue(field string, value any, search tablon.Search) (int, error) {
	idx, _, err := t.layout.GetFieldIndex(field, false, true)
	if err != nil {
		return 0, err
	}
	rows, err := t.GetRows(search, tablon.None())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rows {
		if err := t.Update(r.WithValue(idx, value)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Commit applies a batch of Transactions in order, returning how many
// applied. A Transaction flagged TxFlagBestEffort skips past its own
// failure instead of aborting the rest of the batch.
func (t *Table) Commit(transactions []tablon.Transaction) (int, error) {
	n := 0
	for _, tx := range transactions {
		var err error
		switch tx.Kind {
		case tablon.TxInsert:
			_, err = t.Insert(tx.Row)
		case tablon.TxUpdate:
			err = t.Update(tx.Row)
		case tablon.TxReplace:
			err = t.Replace(tx.Row)
		case tablon.TxDelete:
			err = t.Delete(tx.Row)
		default:
			err = fmt.Errorf("%w: unknown transaction kind %v", tablon.ErrInvalidArgument, tx.Kind)
		}
		if err != nil {
			if tx.Flags&tablon.TxFlagBestEffort != 0 {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// UseLayout reinterprets the table under a compatible layout and registers
// it as a new schema version if its field set differs from what is on
// record.
func (t *Table) UseLayout(layout *tablon.Layout) error {
	if layout == nil {
		return fmt.Errorf("%w: nil layout", tablon.ErrInvalidArgument)
	}
	if _, err := t.db.Register(layout); err != nil {
		return err
	}
	t.layout = layout
	return nil
}

func (t *Table) assignAutoIncrement(top *bbolt.Bucket, row tablon.Row) (tablon.Row, error) {
	for _, fi := range t.layout.IdentifierFieldIndices() {
		f, _ := t.layout.FieldByIndex(fi)
		if !f.Flags.Has(tablon.FlagAutoIncrement) {
			continue
		}
		if !isZeroValue(row.Value(fi)) {
			continue
		}
		v, err := t.nextAutoIncrementValue(top, f)
		if err != nil {
			return tablon.Row{}, err
		}
		row = row.WithValue(fi, v)
	}
	return row, nil
}

func (t *Table) nextAutoIncrementValue(top *bbolt.Bucket, f tablon.FieldProperties) (any, error) {
	switch f.DataType {
	case tablon.Int8, tablon.Int16, tablon.Int32, tablon.Int64,
		tablon.UInt8, tablon.UInt16, tablon.UInt32, tablon.UInt64:
		var max int64
		var haveAny bool
		rows := (&txSource{top: top, layout: t.layout}).AllRows()
		for _, r := range rows {
			n, ok := toInt64(r.Value(f.Index))
			if !ok {
				continue
			}
			if !haveAny || n > max {
				max = n
				haveAny = true
			}
		}
		return convertIntegerKind(max+1, f.DataType), nil
	case tablon.DateTime:
		return time.Now().UTC(), nil
	case tablon.Guid, tablon.User:
		rt := f.RecordType
		if rt != nil && rt.Kind() == reflect.Ptr {
			rt = rt.Elem()
		}
		if rt == reflect.TypeOf(uuid.UUID{}) {
			return uuid.New(), nil
		}
		return uuid.New().String(), nil
	default:
		return nil, fmt.Errorf("%w: AutoIncrement not supported on %v", tablon.ErrUnsupportedSchema, f.DataType)
	}
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case int:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case uint:
		return int64(x), true
	default:
		return 0, false
	}
}

func isZeroValue(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}

// updateIndices applies the (oldRow, newRow) delta to every declared
// index bucket. hasOld says whether oldRow's entries are removed; newRow's
// entries are added unless newRow is the zero Row (no layout bound).
func (t *Table) updateIndices(top *bbolt.Bucket, key []byte, oldRow, newRow tablon.Row, hasOld bool) error {
	for _, f := range t.layout.Fields() {
		if !f.Flags.Has(tablon.FlagID) && !f.Flags.Has(tablon.FlagIndex) {
			continue
		}
		idxBucket := top.Bucket(indexBucketName(f.Name))
		if idxBucket == nil {
			continue
		}
		if hasOld {
			if err := idxBucket.Delete(packIndexKey(oldRow.Value(f.Index), key)); err != nil {
				return err
			}
		}
		if newRow.Layout != nil {
			if err := idxBucket.Put(packIndexKey(newRow.Value(f.Index), key), nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyResultOption shapes rows per opts: group (first-seen per key), then
// multi-key stable sort (reverse declared order, so the first declared key
// dominates — the same rule the in-memory engine's shapeRows applies),
// then offset/limit.
func applyResultOption(layout *tablon.Layout, rows []tablon.Row, opts tablon.ResultOption) ([]tablon.Row, error) {
	items, err := opts.Items()
	if err != nil {
		return nil, err
	}
	var groupField string
	var hasGroup bool
	var sorts []tablon.OptItem
	var limit, offset int
	var hasLimit, hasOffset bool
	for _, it := range items {
		switch it.Kind {
		case tablon.OptGroup:
			groupField, hasGroup = it.Field, true
		case tablon.OptSortAsc, tablon.OptSortDesc:
			sorts = append(sorts, it)
		case tablon.OptLimit:
			limit, hasLimit = it.N, true
		case tablon.OptOffset:
			offset, hasOffset = it.N, true
		}
	}

	if hasGroup {
		idx, _, err := layout.GetFieldIndex(groupField, false, true)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		out := make([]tablon.Row, 0, len(rows))
		for _, r := range rows {
			k := string(encodeIndexValue(r.Value(idx)))
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, r)
		}
		rows = out
	}

	for i := len(sorts) - 1; i >= 0; i-- {
		it := sorts[i]
		idx, _, err := layout.GetFieldIndex(it.Field, false, true)
		if err != nil {
			return nil, err
		}
		desc := it.Kind == tablon.OptSortDesc
		stableSort(rows, func(a, b tablon.Row) bool {
			c := compareForSort(a.Value(idx), b.Value(idx))
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	start := 0
	if hasOffset {
		start = offset
	}
	if start > len(rows) {
		start = len(rows)
	}
	rows = rows[start:]
	if hasLimit && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows, nil
}

func stableSort(rows []tablon.Row, less func(a, b tablon.Row) bool) {
	sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
}

// compareForSort orders two field values the same way the in-memory
// engine's range comparisons do: numeric kinds by magnitude, time.Time by
// instant, string lexically; anything else compares equal.
func compareForSort(a, b any) int {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			au, bu := at.UTC(), bt.UTC()
			switch {
			case au.Before(bu):
				return -1
			case au.After(bu):
				return 1
			default:
				return 0
			}
		}
	}
	as, aok2 := a.(string)
	bs, bok2 := b.(string)
	if aok2 && bok2 {
		return strings.Compare(as, bs)
	}
	return 0
}

func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case uint:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case time.Duration:
		return float64(x), true
	default:
		return 0, false
	}
}
