package tablon

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type searchKind uint8

const (
	skNone searchKind = iota
	skEquals
	skLike
	skGreater
	skGreaterOrEqual
	skSmaller
	skSmallerOrEqual
	skIn
	skAnd
	skOr
)

// Search is an immutable predicate tree, evaluable in-process against the
// in-memory engine (C7) or projectable to parameterized SQL (sqlproj).
type Search struct {
	kind     searchKind
	name     string
	value    any
	values   []any
	pattern  string
	inverted bool
	left     *Search
	right    *Search

	// Set by LoadLayout; zero value until bound.
	bound      bool
	fieldIndex int
	compiled   *regexp.Regexp
}

// SearchNone is the tautology search: matches every row.
func SearchNone() Search { return Search{kind: skNone} }

// Equal builds an Equals node: row[name] == value.
func Equal(name string, value any) Search {
	return Search{kind: skEquals, name: name, value: value}
}

// NotEqual is sugar for Equal(name, value).Not().
func NotEqual(name string, value any) Search {
	return Equal(name, value).Not()
}

// Like builds a SQL-style %/_ wildcard, case-insensitive pattern match.
func Like(name, pattern string) Search {
	return Search{kind: skLike, name: name, pattern: pattern}
}

// Greater, GreaterOrEqual, Smaller, SmallerOrEqual build IComparable-style
// range comparisons.
func Greater(name string, value any) Search { return Search{kind: skGreater, name: name, value: value} }
func GreaterOrEqual(name string, value any) Search {
	return Search{kind: skGreaterOrEqual, name: name, value: value}
}
func Smaller(name string, value any) Search { return Search{kind: skSmaller, name: name, value: value} }
func SmallerOrEqual(name string, value any) Search {
	return Search{kind: skSmallerOrEqual, name: name, value: value}
}

// In builds row[name] ∈ set.
func In(name string, values ...any) Search {
	return Search{kind: skIn, name: name, values: values}
}

// Not flips the inverted flag on the node.
func (s Search) Not() Search {
	s.inverted = !s.inverted
	return s
}

// And builds a combinator, short-circuiting on None as either operand.
func (s Search) And(o Search) Search {
	if s.kind == skNone && !s.inverted {
		return o
	}
	if o.kind == skNone && !o.inverted {
		return s
	}
	left, right := s, o
	return Search{kind: skAnd, left: &left, right: &right}
}

// Or builds a combinator, short-circuiting on None as either operand.
func (s Search) Or(o Search) Search {
	if s.kind == skNone && !s.inverted {
		return o
	}
	if o.kind == skNone && !o.inverted {
		return s
	}
	left, right := s, o
	return Search{kind: skOr, left: &left, right: &right}
}

// String renders a textual debug form: `Field OP 'Value'`, combinators
// wrapped in parentheses with a leading "NOT " when inverted, None as TRUE.
// This is not a parser input.
func (s Search) String() string {
	var inner string
	switch s.kind {
	case skNone:
		return "TRUE"
	case skEquals:
		inner = fmt.Sprintf("%s == %s", s.name, quoteSearchValue(s.value))
	case skLike:
		inner = fmt.Sprintf("%s LIKE %s", s.name, quoteSearchValue(s.pattern))
	case skGreater:
		inner = fmt.Sprintf("%s > %s", s.name, quoteSearchValue(s.value))
	case skGreaterOrEqual:
		inner = fmt.Sprintf("%s >= %s", s.name, quoteSearchValue(s.value))
	case skSmaller:
		inner = fmt.Sprintf("%s < %s", s.name, quoteSearchValue(s.value))
	case skSmallerOrEqual:
		inner = fmt.Sprintf("%s <= %s", s.name, quoteSearchValue(s.value))
	case skIn:
		parts := make([]string, len(s.values))
		for i, v := range s.values {
			parts[i] = quoteSearchValue(v)
		}
		inner = fmt.Sprintf("%s IN (%s)", s.name, strings.Join(parts, ", "))
	case skAnd:
		inner = fmt.Sprintf("(%s AND %s)", s.left.String(), s.right.String())
	case skOr:
		inner = fmt.Sprintf("(%s OR %s)", s.left.String(), s.right.String())
	}
	if s.inverted {
		switch s.kind {
		case skEquals:
			return fmt.Sprintf("%s != %s", s.name, quoteSearchValue(s.value))
		case skLike:
			return fmt.Sprintf("%s NOT LIKE %s", s.name, quoteSearchValue(s.pattern))
		default:
			return "NOT " + inner
		}
	}
	return inner
}

func quoteSearchValue(v any) string {
	return fmt.Sprintf("'%v'", v)
}

// NodeKind identifies the shape of a decomposed Search node, exported for
// projection targets (sqlproj) that need to walk the predicate tree without
// depending on the in-memory scan representation.
type NodeKind uint8

const (
	NodeNone NodeKind = iota
	NodeEquals
	NodeLike
	NodeGreater
	NodeGreaterOrEqual
	NodeSmaller
	NodeSmallerOrEqual
	NodeIn
	NodeAnd
	NodeOr
)

// Node is the exported, read-only view of one Search tree node. Decompose
// produces it; it carries no compiled state (regexes, bound field indices)
// since a projection target resolves fields and patterns its own way.
type Node struct {
	Kind     NodeKind
	Field    string
	Value    any
	Values   []any
	Pattern  string
	Inverted bool
	Left     *Node
	Right    *Node
}

// Decompose exposes s's tree shape for external projection (sqlproj, or any
// caller building its own target language from a Search). Unlike LoadLayout,
// it does not resolve field names against a layout or coerce values.
func (s Search) Decompose() Node {
	n := Node{
		Kind:     NodeKind(s.kind),
		Field:    s.name,
		Value:    s.value,
		Values:   s.values,
		Pattern:  s.pattern,
		Inverted: s.inverted,
	}
	if s.left != nil {
		l := s.left.Decompose()
		n.Left = &l
	}
	if s.right != nil {
		r := s.right.Decompose()
		n.Right = &r
	}
	return n
}

// LoadLayout resolves fieldName -> fieldNumber, fetches field properties,
// and coerces right-hand values into the field's declared value-type via
// ParseValue. Binding is idempotent and fails with ErrInvalidSchema if a
// field is absent.
func (s Search) LoadLayout(layout *Layout, caseInsensitive bool) (Search, error) {
	switch s.kind {
	case skNone:
		return s, nil
	case skAnd, skOr:
		l, err := s.left.LoadLayout(layout, caseInsensitive)
		if err != nil {
			return Search{}, err
		}
		r, err := s.right.LoadLayout(layout, caseInsensitive)
		if err != nil {
			return Search{}, err
		}
		s.left, s.right = &l, &r
		return s, nil
	}

	idx, ok, err := layout.GetFieldIndex(s.name, caseInsensitive, true)
	if err != nil {
		return Search{}, err
	}
	_ = ok
	f, _ := layout.FieldByIndex(idx)
	s.fieldIndex = idx
	s.bound = true

	switch s.kind {
	case skEquals, skGreater, skGreaterOrEqual, skSmaller, skSmallerOrEqual:
		v, err := coerceSearchValue(f, s.value)
		if err != nil {
			return Search{}, err
		}
		s.value = v
	case skIn:
		vs := make([]any, len(s.values))
		for i, raw := range s.values {
			v, err := coerceSearchValue(f, raw)
			if err != nil {
				return Search{}, err
			}
			vs[i] = v
		}
		s.values = vs
	case skLike:
		re, err := compileLikePattern(s.pattern)
		if err != nil {
			return Search{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		s.compiled = re
	}
	return s, nil
}

// coerceSearchValue parses string right-hand-sides through the field's
// ParseValue; non-string values matching the field's Go type pass through
// unchanged.
func coerceSearchValue(f FieldProperties, v any) (any, error) {
	if sv, ok := v.(string); ok && f.DataType != String && f.DataType != User {
		return f.ParseValue(sv)
	}
	return v, nil
}

// compileLikePattern compiles a SQL-style %/_ pattern into a case-
// insensitive, anchored regex, coalescing consecutive % runs and escaping
// regex metacharacters elsewhere.
func compileLikePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?is)^")
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '%':
			for i+1 < len(runes) && runes[i+1] == '%' {
				i++
			}
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// scanSource abstracts the row storage a Search is evaluated against: the
// in-memory engine's row set plus any field indices it maintains.
type scanSource interface {
	AllRows() []Row
	IndexLookup(fieldIndex int, value any) ([]Row, bool)
}

// Scan returns the rows of src matching s, optionally restricted to
// preselected (nil means "the whole table"). It binds s to layout first.
func (s Search) Scan(preselected []Row, layout *Layout, src scanSource) ([]Row, error) {
	bound, err := s.LoadLayout(layout, false)
	if err != nil {
		return nil, err
	}
	isWhole := preselected == nil
	universe := preselected
	if isWhole {
		universe = src.AllRows()
	}
	return bound.scan(universe, isWhole, layout, src)
}

func (s Search) scan(universe []Row, isWhole bool, layout *Layout, src scanSource) ([]Row, error) {
	var positive []Row
	var err error

	switch s.kind {
	case skNone:
		positive = universe
	case skEquals:
		if isWhole {
			if rows, ok := src.IndexLookup(s.fieldIndex, s.value); ok {
				positive = restrictOrder(universe, rows, layout)
				break
			}
		}
		positive = filterPredicate(universe, func(r Row) bool {
			return valuesEqual(r.Value(s.fieldIndex), s.value)
		})
	case skLike:
		positive = filterPredicate(universe, func(r Row) bool {
			sv, _ := r.Value(s.fieldIndex).(string)
			return s.compiled.MatchString(sv)
		})
	case skGreater, skGreaterOrEqual, skSmaller, skSmallerOrEqual:
		positive, err = filterCompare(universe, s.fieldIndex, s.kind, s.value)
	case skIn:
		keys := map[string]bool{}
		var matched []Row
		for _, v := range s.values {
			var sub []Row
			if isWhole {
				if rows, ok := src.IndexLookup(s.fieldIndex, v); ok {
					sub = restrictOrder(universe, rows, layout)
				}
			}
			if sub == nil {
				sub = filterPredicate(universe, func(r Row) bool {
					return valuesEqual(r.Value(s.fieldIndex), v)
				})
			}
			for _, r := range sub {
				k := rowKey(layout, r)
				if !keys[k] {
					keys[k] = true
					matched = append(matched, r)
				}
			}
		}
		// Re-order to match universe order.
		positive = filterPredicate(universe, func(r Row) bool { return keys[rowKey(layout, r)] })
		_ = matched
	case skAnd:
		leftResult, lerr := s.left.scan(universe, isWhole, layout, src)
		if lerr != nil {
			return nil, lerr
		}
		positive, err = s.right.scan(leftResult, false, layout, src)
	case skOr:
		leftResult, lerr := s.left.scan(universe, isWhole, layout, src)
		if lerr != nil {
			return nil, lerr
		}
		rightResult, rerr := s.right.scan(universe, isWhole, layout, src)
		if rerr != nil {
			return nil, rerr
		}
		keys := map[string]bool{}
		for _, r := range leftResult {
			keys[rowKey(layout, r)] = true
		}
		for _, r := range rightResult {
			keys[rowKey(layout, r)] = true
		}
		positive = filterPredicate(universe, func(r Row) bool { return keys[rowKey(layout, r)] })
	}
	if err != nil {
		return nil, err
	}
	if s.inverted {
		return rowSubtract(universe, positive, layout), nil
	}
	return positive, nil
}

func restrictOrder(universe, subset []Row, layout *Layout) []Row {
	keys := map[string]bool{}
	for _, r := range subset {
		keys[rowKey(layout, r)] = true
	}
	return filterPredicate(universe, func(r Row) bool { return keys[rowKey(layout, r)] })
}

func filterPredicate(universe []Row, pred func(Row) bool) []Row {
	out := make([]Row, 0, len(universe))
	for _, r := range universe {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

func rowSubtract(universe, exclude []Row, layout *Layout) []Row {
	keys := map[string]bool{}
	for _, r := range exclude {
		keys[rowKey(layout, r)] = true
	}
	return filterPredicate(universe, func(r Row) bool { return !keys[rowKey(layout, r)] })
}

func rowKey(layout *Layout, r Row) string {
	ids := layout.IdentifierFieldIndices()
	if len(ids) == 0 {
		ids = make([]int, len(layout.Fields()))
		for i := range ids {
			ids[i] = i
		}
	}
	return NewIdentifier(r, ids).Key()
}

func filterCompare(universe []Row, fieldIndex int, kind searchKind, value any) ([]Row, error) {
	out := make([]Row, 0, len(universe))
	for _, r := range universe {
		c, err := compareValues(r.Value(fieldIndex), value)
		if err != nil {
			return nil, err
		}
		var ok bool
		switch kind {
		case skGreater:
			ok = c > 0
		case skGreaterOrEqual:
			ok = c >= 0
		case skSmaller:
			ok = c < 0
		case skSmallerOrEqual:
			ok = c <= 0
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// compareValues implements the ordering range comparisons and sorting rely
// on, normalizing both operands to a common comparable representation.
func compareValues(a, b any) (int, error) {
	if a == nil && b == nil {
		return 0, nil
	}
	if a == nil {
		return -1, nil
	}
	if b == nil {
		return 1, nil
	}
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1, nil
		case an > bn:
			return 1, nil
		default:
			return 0, nil
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			au, bu := at.UTC(), bt.UTC()
			switch {
			case au.Before(bu):
				return -1, nil
			case au.After(bu):
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), nil
	}
	return 0, fmt.Errorf("%w: values %v (%T) and %v (%T) are not comparable", ErrInvalidArgument, a, a, b, b)
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
