package tablon

import (
	"fmt"
	"reflect"
	"regexp"
	"sync"
)

// safeNamePattern is the "safe-identifier filter" a layout name must pass.
var safeNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Layout is an immutable ordered tuple of field properties, bound optionally
// to a record type.
type Layout struct {
	name      string
	fields    []FieldProperties
	rowType   reflect.Type // nil for an untyped layout.
	maxIndex  int
	idSet     []int // indices of fields with FlagID, in field order.
	nameIndex map[string]int
	altIndex  map[string]int
}

// Name is the layout's logical name.
func (l *Layout) Name() string { return l.name }

// Fields returns the ordered field properties. The slice must not be
// mutated by callers.
func (l *Layout) Fields() []FieldProperties { return l.fields }

// RowType returns the bound Go struct type, or nil if the layout is
// untyped.
func (l *Layout) RowType() reflect.Type { return l.rowType }

// Typed reports whether the layout is bound to a record type.
func (l *Layout) Typed() bool { return l.rowType != nil }

// MaxIndex is the highest field index; a Row's Values slice must have at
// least MaxIndex+1 elements.
func (l *Layout) MaxIndex() int { return l.maxIndex }

// IdentifierFieldIndices returns the indices of fields flagged ID, the
// layout's identifier set.
func (l *Layout) IdentifierFieldIndices() []int { return l.idSet }

// SingleIdentifier returns the lone ID field if there is exactly one, else
// ok is false.
func (l *Layout) SingleIdentifier() (FieldProperties, bool) {
	if len(l.idSet) != 1 {
		return FieldProperties{}, false
	}
	return l.fields[l.idSet[0]], true
}

// FieldByIndex looks up a field by position.
func (l *Layout) FieldByIndex(i int) (FieldProperties, bool) {
	if i < 0 || i >= len(l.fields) {
		return FieldProperties{}, false
	}
	return l.fields[i], true
}

// GetFieldIndex resolves name to a field index, matching the logical name
// first, then alternative names. caseInsensitive selects ASCII
// case-insensitive matching; false means ordinal (case-sensitive). If throw is true, a miss returns
// ErrInvalidSchema instead of ok=false.
func (l *Layout) GetFieldIndex(name string, caseInsensitive bool, throw bool) (int, bool, error) {
	if !caseInsensitive {
		if i, ok := l.nameIndex[name]; ok {
			return i, true, nil
		}
		if i, ok := l.altIndex[name]; ok {
			return i, true, nil
		}
	} else {
		for n, i := range l.nameIndex {
			if equalFold(n, name) {
				return i, true, nil
			}
		}
		for n, i := range l.altIndex {
			if equalFold(n, name) {
				return i, true, nil
			}
		}
	}
	if throw {
		return 0, false, fmt.Errorf("%w: unknown field %q in layout %q", ErrInvalidSchema, name, l.name)
	}
	return 0, false, nil
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// Equal reports whether two layouts have the same field count with each
// field-properties pair pairwise equal.
func (l *Layout) Equal(o *Layout) bool {
	if l == o {
		return true
	}
	if l == nil || o == nil || len(l.fields) != len(o.fields) {
		return false
	}
	for i := range l.fields {
		if !fieldPropertiesEqual(l.fields[i], o.fields[i]) {
			return false
		}
	}
	return true
}

func fieldPropertiesEqual(a, b FieldProperties) bool {
	if a.Index != b.Index || a.DataType != b.DataType || a.DatabaseDataType != b.DatabaseDataType ||
		a.Flags != b.Flags || a.Name != b.Name || a.NameAtDatabase != b.NameAtDatabase ||
		a.MaximumLength != b.MaximumLength || a.DateTimeKind != b.DateTimeKind ||
		a.DateTimeType != b.DateTimeType || a.StringEncoding != b.StringEncoding {
		return false
	}
	if len(a.AlternativeNames) != len(b.AlternativeNames) {
		return false
	}
	for i := range a.AlternativeNames {
		if a.AlternativeNames[i] != b.AlternativeNames[i] {
			return false
		}
	}
	return true
}

// newLayout validates and finalizes a field list into a Layout. Field
// indices must be distinct and non-negative; name must pass the
// safe-identifier filter.
func newLayout(name string, fields []FieldProperties, rowType reflect.Type) (*Layout, error) {
	if !safeNamePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: layout name %q is not a safe identifier", ErrInvalidSchema, name)
	}
	seen := map[int]bool{}
	maxIndex := -1
	for _, f := range fields {
		if f.Index < 0 {
			return nil, fmt.Errorf("%w: negative field index on %q", ErrInvalidSchema, f.Name)
		}
		if seen[f.Index] {
			return nil, fmt.Errorf("%w: duplicate field index %d", ErrInvalidSchema, f.Index)
		}
		seen[f.Index] = true
		if f.Index > maxIndex {
			maxIndex = f.Index
		}
	}
	sortFieldsByIndex(fields)

	l := &Layout{
		name:      name,
		fields:    fields,
		rowType:   rowType,
		maxIndex:  maxIndex,
		nameIndex: map[string]int{},
		altIndex:  map[string]int{},
	}
	for i, f := range fields {
		if _, dup := l.nameIndex[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field name %q", ErrInvalidSchema, f.Name)
		}
		l.nameIndex[f.Name] = i
		for _, a := range f.AlternativeNames {
			l.altIndex[a] = i
		}
		if f.Flags.Has(FlagID) {
			l.idSet = append(l.idSet, i)
		}
	}
	return l, nil
}

// layoutCacheKey is the process-global "mapping (typeId, nameOverride) ->
// layout" cache key, guarded by a single mutex.
type layoutCacheKey struct {
	typeFullName string
	nameOverride string
}

var (
	layoutCacheMu      sync.Mutex
	layoutCache        = map[layoutCacheKey]*Layout{}
	layoutCacheEnabled = true
)

// DisableLayoutCache turns off the process-global layout cache, e.g. for
// tests that register many ad-hoc variants of the same Go type.
func DisableLayoutCache() { setLayoutCacheEnabled(false) }

// EnableLayoutCache re-enables the process-global layout cache.
func EnableLayoutCache() { setLayoutCacheEnabled(true) }

func setLayoutCacheEnabled(v bool) {
	layoutCacheMu.Lock()
	defer layoutCacheMu.Unlock()
	layoutCacheEnabled = v
}

// ClearLayoutCache drops every cached layout. Existing *Layout values held
// by callers remain valid; only future lookups are affected.
func ClearLayoutCache() {
	layoutCacheMu.Lock()
	defer layoutCacheMu.Unlock()
	layoutCache = map[layoutCacheKey]*Layout{}
}

// LayoutFor builds (or returns the cached) Layout for the Go struct type T,
// using namingStrategy (nil means identity) to derive NameAtDatabase from
// each field's logical name.
func LayoutFor[T any](namingStrategy func(string) string) (*Layout, error) {
	var zero T
	rt := reflect.TypeOf(zero)
	return layoutForType(rt, "", namingStrategy)
}

// LayoutForNamed is LayoutFor with an explicit layout name override instead
// of the Go type name, useful for schema migrations that rename a record
// type without invalidating previously stored rows.
func LayoutForNamed[T any](name string, namingStrategy func(string) string) (*Layout, error) {
	var zero T
	rt := reflect.TypeOf(zero)
	return layoutForType(rt, name, namingStrategy)
}

func layoutForType(rt reflect.Type, nameOverride string, namingStrategy func(string) string) (*Layout, error) {
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v is not a struct", ErrInvalidArgument, rt)
	}
	key := layoutCacheKey{typeFullName: rt.PkgPath() + "." + rt.Name(), nameOverride: nameOverride}

	layoutCacheMu.Lock()
	if layoutCacheEnabled {
		if l, ok := layoutCache[key]; ok {
			layoutCacheMu.Unlock()
			return l, nil
		}
	}
	layoutCacheMu.Unlock()

	name := rt.Name()
	if nameOverride != "" {
		name = nameOverride
	}

	var fields []FieldProperties
	var hasID bool
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := parseTableTag(sf.Tag.Get("table"))
		if tag.has("-") {
			continue
		}
		f, err := LoadFieldInfo(len(fields), sf, namingStrategy)
		if err != nil {
			return nil, fmt.Errorf("type %q: %w", rt.Name(), err)
		}
		if f.Flags.Has(FlagID) {
			hasID = true
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: type %q has no storable fields", ErrInvalidSchema, rt.Name())
	}
	_ = hasID // A layout need not have an ID field (e.g. pure projection rows).

	l, err := newLayout(name, fields, rt)
	if err != nil {
		return nil, err
	}

	layoutCacheMu.Lock()
	if layoutCacheEnabled {
		layoutCache[key] = l
	}
	layoutCacheMu.Unlock()
	return l, nil
}
