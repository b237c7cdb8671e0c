package tablon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Row is a tuple (layout, values[]). Rows are immutable from the caller's
// perspective: mutating a row requires constructing a new one via NewRow or
// WithValue.
type Row struct {
	Layout *Layout
	Values []any
}

// NewRow builds a Row, copying values defensively and rejecting fewer than
// layout.MaxIndex()+1 values.
func NewRow(layout *Layout, values []any) (Row, error) {
	if layout == nil {
		return Row{}, fmt.Errorf("%w: nil layout", ErrInvalidArgument)
	}
	need := layout.MaxIndex() + 1
	if len(values) < need {
		return Row{}, fmt.Errorf("%w: row has %d values, layout needs at least %d", ErrInvalidArgument, len(values), need)
	}
	cp := make([]any, len(values))
	copy(cp, values)
	return Row{Layout: layout, Values: cp}, nil
}

// Value returns the value at a field's index.
func (r Row) Value(fieldIndex int) any {
	if fieldIndex < 0 || fieldIndex >= len(r.Values) {
		return nil
	}
	return r.Values[fieldIndex]
}

// ValueByName resolves name through the layout and returns its value.
func (r Row) ValueByName(name string) (any, error) {
	i, ok, err := r.Layout.GetFieldIndex(name, false, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: field %q", ErrInvalidSchema, name)
	}
	return r.Value(i), nil
}

// WithValue returns a new Row with fieldIndex replaced by v. The receiver is
// left unchanged (rows are immutable from callers).
func (r Row) WithValue(fieldIndex int, v any) Row {
	cp := make([]any, len(r.Values))
	copy(cp, r.Values)
	if fieldIndex >= len(cp) {
		grown := make([]any, fieldIndex+1)
		copy(grown, cp)
		cp = grown
	}
	cp[fieldIndex] = v
	return Row{Layout: r.Layout, Values: cp}
}

// clone makes a defensive deep-enough copy: the values slice is copied, and
// []byte values are copied too so storage can keep its own backing array
// independent from the caller's.
func (r Row) clone() Row {
	cp := make([]any, len(r.Values))
	for i, v := range r.Values {
		if b, ok := v.([]byte); ok {
			nb := make([]byte, len(b))
			copy(nb, b)
			cp[i] = nb
		} else {
			cp[i] = v
		}
	}
	return Row{Layout: r.Layout, Values: cp}
}

// Hash XORs rotating bit-shifts of each element's hash; arrays ([]byte) are
// hashed element-wise rather than by reference.
func (r Row) Hash() uint64 {
	var h uint64
	for i, v := range r.Values {
		eh := hashValue(v)
		shift := uint(i % 61)
		h ^= (eh << shift) | (eh >> (64 - shift))
	}
	return h
}

func hashValue(v any) uint64 {
	if v == nil {
		return 0x9e3779b97f4a7c15
	}
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case int8:
		return uint64(uint8(x))
	case int16:
		return uint64(uint16(x))
	case int32:
		return uint64(uint32(x))
	case int64:
		return uint64(x)
	case int:
		return uint64(x)
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	case uint:
		return uint64(x)
	case float32:
		return uint64(math.Float32bits(x))
	case float64:
		return math.Float64bits(x)
	case string:
		return fnv1a([]byte(x))
	case []byte:
		var h uint64 = 0xcbf29ce484222325
		for i, b := range x {
			eh := uint64(b)
			shift := uint(i % 61)
			h ^= (eh << shift) | (eh >> (64 - shift))
		}
		return h
	case time.Time:
		return uint64(x.UTC().UnixNano())
	case time.Duration:
		return uint64(x)
	default:
		return fnv1a([]byte(fmt.Sprintf("%v", x)))
	}
}

func fnv1a(b []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}

// Identifier is a structural key formed from a row's values at a chosen set
// of field indices; it defaults to the layout's identifier set.
type Identifier struct {
	FieldIndices []int
	Values       []any
}

// NewIdentifier builds an Identifier from row using fieldIndices, or the
// layout's identifier set when fieldIndices is nil.
func NewIdentifier(row Row, fieldIndices []int) Identifier {
	if fieldIndices == nil {
		fieldIndices = row.Layout.IdentifierFieldIndices()
	}
	values := make([]any, len(fieldIndices))
	for i, fi := range fieldIndices {
		values[i] = row.Value(fi)
	}
	return Identifier{FieldIndices: append([]int(nil), fieldIndices...), Values: values}
}

// Equal reports whether both identifiers reference the same field set and
// carry equal values.
func (id Identifier) Equal(o Identifier) bool {
	if len(id.FieldIndices) != len(o.FieldIndices) {
		return false
	}
	for i := range id.FieldIndices {
		if id.FieldIndices[i] != o.FieldIndices[i] {
			return false
		}
		if !valuesEqual(id.Values[i], o.Values[i]) {
			return false
		}
	}
	return true
}

// Key returns a canonical, comparable encoding suitable for use as a Go map
// key — Identifier itself may embed []byte values and so is not always
// comparable.
func (id Identifier) Key() string {
	var buf bytes.Buffer
	for i, fi := range id.FieldIndices {
		if i > 0 {
			buf.WriteByte(0)
		}
		fmt.Fprintf(&buf, "%d:", fi)
		buf.Write(canonicalBytes(id.Values[i]))
	}
	return buf.String()
}

func valuesEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok2 := b.([]byte)
		return ok2 && bytes.Equal(ab, bb)
	}
	if at, ok := a.(time.Time); ok {
		bt, ok2 := b.(time.Time)
		return ok2 && at.UTC().Equal(bt.UTC())
	}
	return a == b
}

// canonicalBytes renders v into a byte sequence in which equal values give
// equal bytes, used both for Identifier.Key and FieldIndex bucket keys.
func canonicalBytes(v any) []byte {
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
		return canonicalBytes(int64(x))
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
		return canonicalBytes(uint64(x))
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

// GetStruct materializes row into a new value of the layout's bound record
// type (panics if the layout is untyped).
func (r Row) GetStruct() any {
	rt := r.Layout.RowType()
	if rt == nil {
		panic("tablon: GetStruct on untyped layout")
	}
	rv := reflect.New(rt).Elem()
	for i, f := range r.Layout.Fields() {
		sf := rv.FieldByName(f.Name)
		if !sf.IsValid() || !sf.CanSet() {
			continue
		}
		setReflectValue(sf, r.Values[i])
	}
	return rv.Addr().Interface()
}

func setReflectValue(dst reflect.Value, v any) {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return
	}
	rv := reflect.ValueOf(v)
	if dst.Kind() == reflect.Ptr {
		p := reflect.New(dst.Type().Elem())
		if rv.Type().ConvertibleTo(dst.Type().Elem()) {
			p.Elem().Set(rv.Convert(dst.Type().Elem()))
		}
		dst.Set(p)
		return
	}
	if rv.Type().ConvertibleTo(dst.Type()) {
		dst.Set(rv.Convert(dst.Type()))
	}
}

// GetRow builds a Row from a struct value (or pointer to struct) using
// layout's field set.
func GetRow(layout *Layout, v any) (Row, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return Row{}, fmt.Errorf("%w: GetRow needs a struct, got %T", ErrInvalidArgument, v)
	}
	values := make([]any, layout.MaxIndex()+1)
	for i, f := range layout.Fields() {
		fv := rv.FieldByName(f.Name)
		if !fv.IsValid() {
			continue
		}
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				values[i] = nil
			} else {
				values[i] = fv.Elem().Interface()
			}
		} else {
			values[i] = fv.Interface()
		}
	}
	return Row{Layout: layout, Values: values}, nil
}
