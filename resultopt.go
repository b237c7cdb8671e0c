package tablon

import "fmt"

type resultOptKind uint8

const (
	roNone resultOptKind = iota
	roGroup
	roSortAsc
	roSortDesc
	roLimit
	roOffset
)

type resultOptItem struct {
	kind  resultOptKind
	field string
	n     int
}

// ResultOption is an ordered list of {Group(field) | SortAsc(field) |
// SortDesc(field) | Limit(n) | Offset(n) | None} directives that post-shape
// a Search result. Combining with + is associative.
type ResultOption struct {
	items []resultOptItem
}

// None is the identity ResultOption.
func None() ResultOption { return ResultOption{} }

// Group keeps the first occurrence of each distinct value of field.
func Group(field string) ResultOption {
	return ResultOption{items: []resultOptItem{{kind: roGroup, field: field}}}
}

// SortAsc sorts ascending by field; multiple calls combined with Plus apply
// in reverse declaration order so the first declared key dominates.
func SortAsc(field string) ResultOption {
	return ResultOption{items: []resultOptItem{{kind: roSortAsc, field: field}}}
}

// SortDesc sorts descending by field.
func SortDesc(field string) ResultOption {
	return ResultOption{items: []resultOptItem{{kind: roSortDesc, field: field}}}
}

// Limit caps the result to n rows (n >= 0).
func Limit(n int) ResultOption {
	return ResultOption{items: []resultOptItem{{kind: roLimit, n: n}}}
}

// Offset skips the first n rows (n >= 0).
func Offset(n int) ResultOption {
	return ResultOption{items: []resultOptItem{{kind: roOffset, n: n}}}
}

// Plus combines two ResultOptions, keeping relative order. Combining with
// None() on either side is a no-op for that side.
func (r ResultOption) Plus(o ResultOption) ResultOption {
	return ResultOption{items: append(append([]resultOptItem(nil), r.items...), o.items...)}
}

// validate checks that at most one Limit and one Offset is present, each
// with n>=0. Duplicates and negative counts fail with ErrInvalidArgument;
// field names are not checked here.
func (r ResultOption) validate() error {
	var haveLimit, haveOffset bool
	for _, it := range r.items {
		switch it.kind {
		case roLimit:
			if haveLimit {
				return fmt.Errorf("%w: duplicate Limit in ResultOption", ErrInvalidArgument)
			}
			haveLimit = true
			if it.n < 0 {
				return fmt.Errorf("%w: negative Limit", ErrInvalidArgument)
			}
		case roOffset:
			if haveOffset {
				return fmt.Errorf("%w: duplicate Offset in ResultOption", ErrInvalidArgument)
			}
			haveOffset = true
			if it.n < 0 {
				return fmt.Errorf("%w: negative Offset", ErrInvalidArgument)
			}
		}
	}
	return nil
}

// plan is the decomposed, order-preserving view of a ResultOption used by
// the in-memory scan interpreter (sqlproj works from Items instead).
type plan struct {
	groupField string
	hasGroup   bool
	sorts      []resultOptItem // in declared order; applied in reverse.
	limit      int
	hasLimit   bool
	offset     int
	hasOffset  bool
}

// OptKind identifies one ResultOption directive, exported for projection
// targets that need to translate a ResultOption without the in-memory
// scan's internal plan representation.
type OptKind uint8

const (
	OptGroup OptKind = iota
	OptSortAsc
	OptSortDesc
	OptLimit
	OptOffset
)

// OptItem is one exported directive: Group/SortAsc/SortDesc carry Field,
// Limit/Offset carry N.
type OptItem struct {
	Kind  OptKind
	Field string
	N     int
}

// Items validates r and returns its directives in declared order. The first
// declared sort key dominates: the in-memory engine applies stable sorts in
// reverse declared order, and an SQL projection lists the keys in declared
// order.
func (r ResultOption) Items() ([]OptItem, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	out := make([]OptItem, 0, len(r.items))
	for _, it := range r.items {
		switch it.kind {
		case roGroup:
			out = append(out, OptItem{Kind: OptGroup, Field: it.field})
		case roSortAsc:
			out = append(out, OptItem{Kind: OptSortAsc, Field: it.field})
		case roSortDesc:
			out = append(out, OptItem{Kind: OptSortDesc, Field: it.field})
		case roLimit:
			out = append(out, OptItem{Kind: OptLimit, N: it.n})
		case roOffset:
			out = append(out, OptItem{Kind: OptOffset, N: it.n})
		}
	}
	return out, nil
}

func (r ResultOption) plan() (plan, error) {
	if err := r.validate(); err != nil {
		return plan{}, err
	}
	var p plan
	for _, it := range r.items {
		switch it.kind {
		case roGroup:
			p.groupField = it.field
			p.hasGroup = true
		case roSortAsc, roSortDesc:
			p.sorts = append(p.sorts, it)
		case roLimit:
			p.limit = it.n
			p.hasLimit = true
		case roOffset:
			p.offset = it.n
			p.hasOffset = true
		}
	}
	return p, nil
}
