package tablon

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
)

// memTableOptions configures a MemTable at construction.
type memTableOptions struct {
	disableIndex bool
}

// MemTableOption configures NewMemTable.
type MemTableOption func(*memTableOptions)

// WithoutIndex disables field-index construction entirely; Equals/In scans
// always fall back to a linear table scan.
func WithoutIndex() MemTableOption {
	return func(o *memTableOptions) { o.disableIndex = true }
}

// MemTable is the concurrency-unsafe, in-process table engine: the
// reference implementation of Table. Multiple goroutines must not call a
// MemTable concurrently — wrap it with NewConcurrentTable to share it
// across goroutines.
type MemTable struct {
	layout       *Layout
	rows         map[string]Row // keyed by Identifier.Key()
	order        []string       // insertion order, for GetRowAt/AllRows
	indices      map[int]*FieldIndex
	disableIndex bool
	readonly     bool
	seq          int64
}

// NewMemTable creates an empty table bound to layout.
func NewMemTable(layout *Layout, opts ...MemTableOption) (*MemTable, error) {
	if layout == nil {
		return nil, fmt.Errorf("%w: nil layout", ErrInvalidArgument)
	}
	var o memTableOptions
	for _, f := range opts {
		f(&o)
	}
	m := &MemTable{layout: layout, rows: map[string]Row{}, disableIndex: o.disableIndex}
	m.indices = m.buildIndices()
	return m, nil
}

func (m *MemTable) buildIndices() map[int]*FieldIndex {
	idx := map[int]*FieldIndex{}
	if m.disableIndex {
		return idx
	}
	for i, f := range m.layout.Fields() {
		if f.Flags.Has(FlagID) || f.Flags.Has(FlagIndex) {
			idx[i] = newFieldIndex(i, m.layout)
		}
	}
	return idx
}

// Freeze marks the table read-only; further mutations fail with
// ErrReadOnly.
func (m *MemTable) Freeze() { m.readonly = true }

// Layout returns the table's current schema.
func (m *MemTable) Layout() *Layout { return m.layout }

// SequenceNumber returns the monotonically increasing mutation counter.
func (m *MemTable) SequenceNumber() int64 { return m.seq }

// AllRows implements scanSource, returning rows in insertion order.
func (m *MemTable) AllRows() []Row {
	rows := make([]Row, len(m.order))
	for i, k := range m.order {
		rows[i] = m.rows[k]
	}
	return rows
}

// IndexLookup implements scanSource.
func (m *MemTable) IndexLookup(fieldIndex int, value any) ([]Row, bool) {
	fi, ok := m.indices[fieldIndex]
	if !ok {
		return nil, false
	}
	return fi.Lookup(value), true
}

// Clear removes every row and rebuilds the index set.
func (m *MemTable) Clear() error {
	m.rows = map[string]Row{}
	m.order = nil
	m.indices = m.buildIndices()
	m.seq++
	return nil
}

// Insert assigns any AutoIncrement identifier fields, stores a defensive
// copy of row, and updates every index.
func (m *MemTable) Insert(row Row) (Row, error) {
	if m.readonly {
		return Row{}, fmt.Errorf("%w: table %q", ErrReadOnly, m.layout.Name())
	}
	row = row.clone()
	row, err := m.assignAutoIncrement(row)
	if err != nil {
		return Row{}, err
	}
	id := NewIdentifier(row, m.layout.IdentifierFieldIndices())
	key := id.Key()
	if _, exists := m.rows[key]; exists {
		return Row{}, fmt.Errorf("%w: duplicate identifier in table %q", ErrInvariantViolated, m.layout.Name())
	}
	m.rows[key] = row
	m.order = append(m.order, key)
	for _, fi := range m.indices {
		fi.Add(row)
	}
	m.seq++
	return row, nil
}

// Update replaces the stored row sharing row's identifier.
func (m *MemTable) Update(row Row) error {
	if m.readonly {
		return fmt.Errorf("%w: table %q", ErrReadOnly, m.layout.Name())
	}
	id := NewIdentifier(row, m.layout.IdentifierFieldIndices())
	key := id.Key()
	old, exists := m.rows[key]
	if !exists {
		return fmt.Errorf("%w: identifier %v in table %q", ErrNotFound, id.Values, m.layout.Name())
	}
	row = row.clone()
	m.rows[key] = row
	for _, fi := range m.indices {
		fi.Replace(old, row)
	}
	m.seq++
	return nil
}

// Replace is Update if row's identifier exists, else Insert.
func (m *MemTable) Replace(row Row) error {
	id := NewIdentifier(row, m.layout.IdentifierFieldIndices())
	if _, exists := m.rows[id.Key()]; exists {
		return m.Update(row)
	}
	_, err := m.Insert(row)
	return err
}

// Delete removes the row sharing row's identifier.
func (m *MemTable) Delete(row Row) error {
	if m.readonly {
		return fmt.Errorf("%w: table %q", ErrReadOnly, m.layout.Name())
	}
	id := NewIdentifier(row, m.layout.IdentifierFieldIndices())
	key := id.Key()
	old, exists := m.rows[key]
	if !exists {
		return fmt.Errorf("%w: identifier %v in table %q", ErrNotFound, id.Values, m.layout.Name())
	}
	delete(m.rows, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	for _, fi := range m.indices {
		fi.Delete(old)
	}
	m.seq++
	return nil
}

// TryDelete deletes every row matching search, logging and continuing past
// any single-row failure instead of propagating it.
func (m *MemTable) TryDelete(search Search) (bool, error) {
	rows, err := search.Scan(nil, m.layout, m)
	if err != nil {
		slog.Error("tablon: TryDelete search failed", "table", m.layout.Name(), "error", err)
		return false, nil
	}
	ok := true
	for _, r := range rows {
		if err := m.Delete(r); err != nil {
			slog.Error("tablon: TryDelete row failed", "table", m.layout.Name(), "error", err)
			ok = false
		}
	}
	return ok, nil
}

// GetRowAt returns the row at ordinal position index in the table's
// current insertion order.
func (m *MemTable) GetRowAt(index int) (Row, error) {
	if index < 0 || index >= len(m.order) {
		return Row{}, fmt.Errorf("%w: row index %d out of range (len=%d)", ErrInvalidArgument, index, len(m.order))
	}
	return m.rows[m.order[index]], nil
}

// Exist reports whether any row matches search.
func (m *MemTable) Exist(search Search) (bool, error) {
	rows, err := search.Scan(nil, m.layout, m)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// GetRows returns every row matching search, shaped by opts.
func (m *MemTable) GetRows(search Search, opts ResultOption) ([]Row, error) {
	rows, err := search.Scan(nil, m.layout, m)
	if err != nil {
		return nil, err
	}
	return shapeRows(rows, opts, m.layout)
}

// GetRow returns the first row matching search under opts.
func (m *MemTable) GetRow(search Search, opts ResultOption) (Row, bool, error) {
	rows, err := m.GetRows(search, opts)
	if err != nil {
		return Row{}, false, err
	}
	if len(rows) == 0 {
		return Row{}, false, nil
	}
	return rows[0], true, nil
}

// Count returns the number of rows matching search, shaped by opts.
func (m *MemTable) Count(search Search, opts ResultOption) (int, error) {
	rows, err := m.GetRows(search, opts)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Distinct returns the distinct values of field among matching rows, in
// first-seen order.
func (m *MemTable) Distinct(field string, search Search) ([]any, error) {
	idx, _, err := m.layout.GetFieldIndex(field, false, true)
	if err != nil {
		return nil, err
	}
	rows, err := search.Scan(nil, m.layout, m)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []any
	for _, r := range rows {
		v := r.Value(idx)
		k := bucketKey(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out, nil
}

// GetValues returns field's value for every matching row, shaped by opts.
func (m *MemTable) GetValues(field string, search Search, opts ResultOption) ([]any, error) {
	idx, _, err := m.layout.GetFieldIndex(field, false, true)
	if err != nil {
		return nil, err
	}
	rows, err := m.GetRows(search, opts)
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
func (m *MemTable) Minimum(field string, search Search) (any, error) {
	return m.reduceOrdered(field, search, -1)
}

// Maximum reduces field's values over matching rows using the field's
// declared ordering.
func (m *MemTable) Maximum(field string, search Search) (any, error) {
	return m.reduceOrdered(field, search, 1)
}

func (m *MemTable) reduceOrdered(field string, search Search, want int) (any, error) {
	values, err := m.GetValues(field, search, None())
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no rows match in table %q", ErrNotFound, m.layout.Name())
	}
	best := values[0]
	for _, v := range values[1:] {
		c, err := compareValues(v, best)
		if err != nil {
			return nil, err
		}
		if (want < 0 && c < 0) || (want > 0 && c > 0) {
			best = v
		}
	}
	return best, nil
}

// Sum reduces field's numeric values over matching rows.
func (m *MemTable) Sum(field string, search Search) (any, error) {
	idx, _, err := m.layout.GetFieldIndex(field, false, true)
	if err != nil {
		return nil, err
	}
	f, _ := m.layout.FieldByIndex(idx)
	values, err := m.GetValues(field, search, None())
	if err != nil {
		return nil, err
	}
	var total float64
	for _, v := range values {
		n, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("%w: field %q is not numeric", ErrInvalidArgument, field)
		}
		total += n
	}
	switch f.DataType {
	case Single:
		return float32(total), nil
	case Double, Decimal:
		return total, nil
	case Int8, Int16, Int32, Int64, UInt8, UInt16, UInt32, UInt64:
		return convertIntegerKind(int64(total), f.DataType), nil
	default:
		return total, nil
	}
}

// SetValue assigns value to field on every row matching search.
func (m *MemTable) SetValue(field string, value any, search Search) (int, error) {
	idx, _, err := m.layout.GetFieldIndex(field, false, true)
	if err != nil {
		return 0, err
	}
	rows, err := search.Scan(nil, m.layout, m)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rows {
		if err := m.Update(r.WithValue(idx, value)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Commit applies a batch of Transactions in order, returning how many
// applied. A Transaction flagged TxFlagBestEffort logs and skips past its
// own failure instead of aborting the rest of the batch.
func (m *MemTable) Commit(transactions []Transaction) (int, error) {
	n := 0
	for _, tx := range transactions {
		var err error
		switch tx.Kind {
		case TxInsert:
			_, err = m.Insert(tx.Row)
		case TxUpdate:
			err = m.Update(tx.Row)
		case TxReplace:
			err = m.Replace(tx.Row)
		case TxDelete:
			err = m.Delete(tx.Row)
		default:
			err = fmt.Errorf("%w: unknown transaction kind %v", ErrInvalidArgument, tx.Kind)
		}
		if err != nil {
			if tx.Flags&TxFlagBestEffort != 0 {
				slog.Error("tablon: Commit transaction failed", "kind", tx.Kind, "error", err)
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// UseLayout reinterprets the table's stored rows under layout, which must
// be compatible with the current layout: every field the two share by name
// must agree on DataType. Fields present only in the new layout read back
// as their zero value for existing rows; fields dropped from the new
// layout are simply no longer addressable.
func (m *MemTable) UseLayout(layout *Layout) error {
	if layout == nil {
		return fmt.Errorf("%w: nil layout", ErrInvalidArgument)
	}
	if !layoutsCompatible(m.layout, layout) {
		return fmt.Errorf("%w: layout %q is not compatible with %q", ErrInvalidSchema, layout.Name(), m.layout.Name())
	}
	m.layout = layout
	m.indices = m.buildIndices()
	for _, k := range m.order {
		row := m.rows[k]
		for _, fi := range m.indices {
			fi.Add(row)
		}
	}
	return nil
}

func layoutsCompatible(old, updated *Layout) bool {
	for _, f := range old.Fields() {
		i, ok, _ := updated.GetFieldIndex(f.Name, false, false)
		if !ok {
			continue
		}
		nf, _ := updated.FieldByIndex(i)
		if nf.DataType != f.DataType {
			return false
		}
	}
	return true
}

// assignAutoIncrement fills in every AutoIncrement identifier field whose
// current value is the Go zero value.
func (m *MemTable) assignAutoIncrement(row Row) (Row, error) {
	for _, fi := range m.layout.IdentifierFieldIndices() {
		f, _ := m.layout.FieldByIndex(fi)
		if !f.Flags.Has(FlagAutoIncrement) {
			continue
		}
		if !isZeroValue(row.Value(fi)) {
			continue
		}
		v, err := m.nextAutoIncrementValue(f)
		if err != nil {
			return Row{}, err
		}
		row = row.WithValue(fi, v)
	}
	return row, nil
}

func (m *MemTable) nextAutoIncrementValue(f FieldProperties) (any, error) {
	switch f.DataType {
	case Int8, Int16, Int32, Int64, UInt8, UInt16, UInt32, UInt64:
		return m.nextIntegerID(f)
	case DateTime:
		return time.Now().UTC(), nil
	case Guid, User:
		if _, isUUIDType := zeroValueOfGoType(f).(uuid.UUID); isUUIDType {
			return uuid.New(), nil
		}
		return uuid.New().String(), nil
	default:
		return nil, fmt.Errorf("%w: AutoIncrement not supported on %v", ErrUnsupportedSchema, f.DataType)
	}
}

func (m *MemTable) nextIntegerID(f FieldProperties) (any, error) {
	var max int64
	var haveAny bool
	for _, r := range m.rows {
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

func convertIntegerKind(n int64, dt DataType) any {
	switch dt {
	case Int8:
		return int8(n)
	case Int16:
		return int16(n)
	case Int32:
		return int32(n)
	case Int64:
		return n
	case UInt8:
		return uint8(n)
	case UInt16:
		return uint16(n)
	case UInt32:
		return uint32(n)
	case UInt64:
		return uint64(n)
	default:
		return n
	}
}

// isZeroValue reports whether v is the Go zero value of its dynamic type,
// or is nil.
func isZeroValue(v any) bool {
	if v == nil {
		return true
	}
	return reflect.ValueOf(v).IsZero()
}

// shapeRows applies a ResultOption's decomposed plan: group, then sort
// (stable, multi-key applied in reverse declaration order so the first key
// dominates), then offset/limit clamped to the result size.
func shapeRows(rows []Row, opts ResultOption, layout *Layout) ([]Row, error) {
	p, err := opts.plan()
	if err != nil {
		return nil, err
	}
	if p.hasGroup {
		idx, _, err := layout.GetFieldIndex(p.groupField, false, true)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		out := make([]Row, 0, len(rows))
		for _, r := range rows {
			k := bucketKey(r.Value(idx))
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, r)
		}
		rows = out
	}
	for i := len(p.sorts) - 1; i >= 0; i-- {
		it := p.sorts[i]
		idx, _, err := layout.GetFieldIndex(it.field, false, true)
		if err != nil {
			return nil, err
		}
		desc := it.kind == roSortDesc
		rr := rows
		sort.SliceStable(rr, func(a, b int) bool {
			c, _ := compareValues(rr[a].Value(idx), rr[b].Value(idx))
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	start := 0
	if p.hasOffset {
		start = p.offset
	}
	if start > len(rows) {
		start = len(rows)
	}
	rows = rows[start:]
	if p.hasLimit && p.limit < len(rows) {
		rows = rows[:p.limit]
	}
	return rows, nil
}

// LoadSource streams rows for LoadTable, in pages whose size it controls.
type LoadSource interface {
	// RowCount is the total number of rows the source expects to yield.
	RowCount() int
	// NextPage returns the next page of rows, or an empty, nil-error slice
	// when exhausted.
	NextPage() ([]Row, error)
}

// LoadProgress is reported to LoadTable's callback after each page.
type LoadProgress struct {
	Loaded int
	Total  int
	// Break, if set true by the callback, stops paging early.
	Break bool
}

// LoadTable streams source page by page, Inserting every row and reporting
// progress via callback (which may be nil). It fails with
// ErrInconsistentSource if the number of rows actually loaded does not
// match source.RowCount(), whether the source under-delivered or the
// callback requested an early Break.
func LoadTable(table *MemTable, source LoadSource, callback func(*LoadProgress)) error {
	total := source.RowCount()
	loaded := 0
	for {
		page, err := source.NextPage()
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			if _, err := table.Insert(r); err != nil {
				return err
			}
			loaded++
		}
		brk := false
		if callback != nil {
			p := &LoadProgress{Loaded: loaded, Total: total}
			callback(p)
			brk = p.Break
		}
		if brk {
			break
		}
	}
	if loaded != total {
		return fmt.Errorf("%w: loaded %d rows, source reported %d", ErrInconsistentSource, loaded, total)
	}
	return nil
}
