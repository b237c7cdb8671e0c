package tablon

import "fmt"

// TransactionKind is the pending mutation a Transaction describes.
type TransactionKind uint8

const (
	TxInsert TransactionKind = iota
	TxUpdate
	TxReplace
	TxDelete
)

func (k TransactionKind) String() string {
	switch k {
	case TxInsert:
		return "Insert"
	case TxUpdate:
		return "Update"
	case TxReplace:
		return "Replace"
	case TxDelete:
		return "Delete"
	default:
		return fmt.Sprintf("TransactionKind(%d)", uint8(k))
	}
}

// TransactionFlags modifies how Commit handles a single Transaction within a
// batch.
type TransactionFlags uint8

const (
	// TxFlagBestEffort lets Commit skip a failing transaction and continue
	// with the rest of the batch instead of aborting; Commit's returned
	// count reflects only the transactions that actually applied.
	TxFlagBestEffort TransactionFlags = 1 << iota
)

// Transaction is a tagged (kind, row) pending mutation, as queued for
// Commit.
type Transaction struct {
	Kind  TransactionKind
	Row   Row
	Flags TransactionFlags
}

// Table is the untyped contract every back-end (the in-memory engine,
// boltstore, or a SQL projection) must implement. Applications normally
// reach it through a TypedTable or KeyedTable rather than calling it
// directly.
type Table interface {
	// Layout returns the schema this table was opened or created with.
	Layout() *Layout

	// Clear removes every row.
	Clear() error

	// Count returns the number of rows matching search under opts (Group
	// applies; Limit/Offset are honored by clamping the count to the
	// shaped result size).
	Count(search Search, opts ResultOption) (int, error)

	// Exist reports whether any row matches search.
	Exist(search Search) (bool, error)

	// GetRow returns the single row matching search under opts, or
	// ok=false if none matched.
	GetRow(search Search, opts ResultOption) (row Row, ok bool, err error)

	// GetRowAt returns the row at ordinal position index in the table's
	// current iteration order; not guaranteed stable across mutations.
	GetRowAt(index int) (Row, error)

	// GetRows returns every row matching search, shaped by opts.
	GetRows(search Search, opts ResultOption) ([]Row, error)

	// Distinct returns the distinct values of field among rows matching
	// search, in first-seen order.
	Distinct(field string, search Search) ([]any, error)

	// GetValues returns the field's value for every row matching search,
	// shaped by opts.
	GetValues(field string, search Search, opts ResultOption) ([]any, error)

	// Minimum and Maximum reduce field's values over rows matching search
	// using the field's declared ordering. Returns ErrNotFound if no row
	// matches.
	Minimum(field string, search Search) (any, error)
	Maximum(field string, search Search) (any, error)

	// Sum reduces field's numeric values over rows matching search.
	Sum(field string, search Search) (any, error)

	// Insert stores row, assigning any AutoIncrement identifier fields,
	// and returns the stored row (with assigned values filled in).
	Insert(row Row) (Row, error)

	// Update replaces the stored row with the same identifier as row.
	// Fails with ErrNotFound if absent.
	Update(row Row) error

	// Replace is Update if the identifier exists, else Insert.
	Replace(row Row) error

	// Delete removes the row with the same identifier as row. Fails with
	// ErrNotFound if absent.
	Delete(row Row) error

	// TryDelete deletes every row matching search, converting a failure
	// to a logged, swallowed error and ok=false rather than propagating.
	TryDelete(search Search) (ok bool, err error)

	// SetValue assigns value to field on every row matching search,
	// returning the number of rows touched.
	SetValue(field string, value any, search Search) (int, error)

	// Commit applies a batch of Transactions, returning the number that
	// applied successfully.
	Commit(transactions []Transaction) (int, error)

	// UseLayout reinterprets the table's stored rows under a layout
	// compatible with (but not necessarily identical to) the one the
	// table was created with, e.g. after an additive schema change.
	UseLayout(layout *Layout) error

	// SequenceNumber monotonically increases on every successful
	// mutation, letting callers detect concurrent changes cheaply.
	SequenceNumber() int64
}

// TypedTable overlays T-shaped methods on an untyped Table, materializing
// rows via the bound Layout's GetRow/GetStruct.
type TypedTable[T any] struct {
	Table  Table
	layout *Layout
}

// NewTypedTable binds a TypedTable to table, deriving T's layout via
// reflection (namingStrategy may be nil).
func NewTypedTable[T any](table Table, namingStrategy func(string) string) (*TypedTable[T], error) {
	layout, err := LayoutFor[T](namingStrategy)
	if err != nil {
		return nil, err
	}
	if !layout.Equal(table.Layout()) {
		return nil, fmt.Errorf("%w: table layout %q is not compatible with %T", ErrInvalidSchema, table.Layout().Name(), *new(T))
	}
	return &TypedTable[T]{Table: table, layout: layout}, nil
}

// Layout returns the bound layout.
func (t *TypedTable[T]) Layout() *Layout { return t.layout }

func (t *TypedTable[T]) toRow(v T) (Row, error) {
	return GetRow(t.layout, &v)
}

func (t *TypedTable[T]) toValue(r Row) T {
	return *(r.GetStruct().(*T))
}

// Insert stores v and returns it with any assigned AutoIncrement fields
// filled in.
func (t *TypedTable[T]) Insert(v T) (T, error) {
	row, err := t.toRow(v)
	if err != nil {
		return v, err
	}
	stored, err := t.Table.Insert(row)
	if err != nil {
		return v, err
	}
	return t.toValue(stored), nil
}

// Update replaces the stored row with the same identifier as v.
func (t *TypedTable[T]) Update(v T) error {
	row, err := t.toRow(v)
	if err != nil {
		return err
	}
	return t.Table.Update(row)
}

// Replace is Update if v's identifier exists, else Insert.
func (t *TypedTable[T]) Replace(v T) error {
	row, err := t.toRow(v)
	if err != nil {
		return err
	}
	return t.Table.Replace(row)
}

// Delete removes the row with the same identifier as v.
func (t *TypedTable[T]) Delete(v T) error {
	row, err := t.toRow(v)
	if err != nil {
		return err
	}
	return t.Table.Delete(row)
}

// GetRow returns the single value matching search under opts.
func (t *TypedTable[T]) GetRow(search Search, opts ResultOption) (T, bool, error) {
	row, ok, err := t.Table.GetRow(search, opts)
	if err != nil || !ok {
		var zero T
		return zero, ok, err
	}
	return t.toValue(row), true, nil
}

// GetRows returns every value matching search, shaped by opts.
func (t *TypedTable[T]) GetRows(search Search, opts ResultOption) ([]T, error) {
	rows, err := t.Table.GetRows(search, opts)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(rows))
	for i, r := range rows {
		out[i] = t.toValue(r)
	}
	return out, nil
}

// Count returns the number of values matching search under opts.
func (t *TypedTable[T]) Count(search Search, opts ResultOption) (int, error) {
	return t.Table.Count(search, opts)
}

// KeyedTable additionally indexes by a caller-supplied key extractor,
// overlaying map-like access on top of TypedTable.
type KeyedTable[T any, K comparable] struct {
	*TypedTable[T]
	keyField string
	keyOf    func(T) K
}

// NewKeyedTable binds a KeyedTable, using keyField (resolved through the
// layout) as the identity search dimension and keyOf to project T to K.
func NewKeyedTable[T any, K comparable](table Table, namingStrategy func(string) string, keyField string, keyOf func(T) K) (*KeyedTable[T, K], error) {
	typed, err := NewTypedTable[T](table, namingStrategy)
	if err != nil {
		return nil, err
	}
	if _, _, err := typed.layout.GetFieldIndex(keyField, false, true); err != nil {
		return nil, err
	}
	return &KeyedTable[T, K]{TypedTable: typed, keyField: keyField, keyOf: keyOf}, nil
}

// Get returns the value whose key field equals key.
func (t *KeyedTable[T, K]) Get(key K) (T, bool, error) {
	return t.TypedTable.GetRow(Equal(t.keyField, any(key)), None())
}

// Exist reports whether a row with the given key exists.
func (t *KeyedTable[T, K]) Exist(key K) (bool, error) {
	return t.Table.Exist(Equal(t.keyField, any(key)))
}

// GetDictionary returns every matching row keyed by keyOf(value).
func (t *KeyedTable[T, K]) GetDictionary(search Search, opts ResultOption) (map[K]T, error) {
	values, err := t.TypedTable.GetRows(search, opts)
	if err != nil {
		return nil, err
	}
	out := make(map[K]T, len(values))
	for _, v := range values {
		out[t.keyOf(v)] = v
	}
	return out, nil
}
