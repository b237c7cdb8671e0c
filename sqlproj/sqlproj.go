// Package sqlproj projects a Search predicate and ResultOption directive
// list onto a parameterized SQL fragment: a WHERE clause plus ORDER BY,
// LIMIT and OFFSET, with positional "?" placeholders and ANSI-ish "col"
// quoted identifiers. It knows nothing about a concrete driver or dialect —
// rebinding "?" to "$1"-style placeholders, if a driver needs it, is a thin
// post-processing step left to the caller.
package sqlproj

import (
	"fmt"
	"strings"

	"github.com/tablon/tablon"
)

// Options controls what Build emits beyond the WHERE clause.
type Options struct {
	// TableName is quoted and prefixed to the statement as
	// "SELECT * FROM "table" WHERE ...". Empty means emit only the WHERE
	// clause body (and any ORDER BY/LIMIT/OFFSET), letting the caller embed
	// it in a larger statement.
	TableName string
}

// Build projects search and opts, bound against layout's field names, into
// a SQL fragment and its positional argument list. An empty search (the
// tautology) omits the WHERE clause entirely. The result has no leading
// "SELECT ... FROM"; use BuildWithOptions to also get that prefix.
func Build(search tablon.Search, opts tablon.ResultOption, layout *tablon.Layout) (string, []any, error) {
	return BuildWithOptions(search, opts, layout, Options{})
}

// BuildWithOptions is Build with explicit Options (currently just
// TableName); Build itself always runs with the zero Options.
func BuildWithOptions(search tablon.Search, resultOpt tablon.ResultOption, layout *tablon.Layout, opts Options) (string, []any, error) {
	b := &builder{layout: layout, opts: &opts}
	node := search.Decompose()
	where, err := b.whereClause(node)
	if err != nil {
		return "", nil, err
	}
	items, err := resultOpt.Items()
	if err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	if opts.TableName != "" {
		fmt.Fprintf(&sb, `SELECT * FROM %s`, quoteIdent(opts.TableName))
	}
	if where != "" {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("WHERE ")
		sb.WriteString(where)
	}
	orderBy, err := b.orderByClause(items)
	if err != nil {
		return "", nil, err
	}
	if orderBy != "" {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(orderBy)
	}
	limitOffset, err := limitOffsetClause(items)
	if err != nil {
		return "", nil, err
	}
	if limitOffset != "" {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(limitOffset)
	}
	return sb.String(), b.args, nil
}

type builder struct {
	layout *tablon.Layout
	opts   *Options
	args   []any
}

func (b *builder) options() Options {
	if b.opts == nil {
		return Options{}
	}
	return *b.opts
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return "?"
}

func (b *builder) column(name string) (string, error) {
	idx, ok, err := b.layout.GetFieldIndex(name, false, true)
	if err != nil {
		return "", err
	}
	f, _ := b.layout.FieldByIndex(idx)
	_ = ok
	return quoteIdent(f.NameAtDatabase), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// whereClause recursively translates a decomposed Search node. NodeNone
// produces an empty string (no WHERE clause at all, rather than "WHERE 1=1").
func (b *builder) whereClause(n tablon.Node) (string, error) {
	switch n.Kind {
	case tablon.NodeNone:
		return "", nil
	case tablon.NodeAnd:
		return b.combine(n, "AND")
	case tablon.NodeOr:
		return b.combine(n, "OR")
	}

	col, err := b.column(n.Field)
	if err != nil {
		return "", err
	}

	var expr string
	switch n.Kind {
	case tablon.NodeEquals:
		op := "="
		if n.Inverted {
			op = "!="
		}
		expr = fmt.Sprintf("%s %s %s", col, op, b.bind(n.Value))
		return expr, nil
	case tablon.NodeLike:
		op := "LIKE"
		if n.Inverted {
			op = "NOT LIKE"
		}
		expr = fmt.Sprintf("%s %s %s", col, op, b.bind(n.Pattern))
		return expr, nil
	case tablon.NodeGreater:
		expr = fmt.Sprintf("%s > %s", col, b.bind(n.Value))
	case tablon.NodeGreaterOrEqual:
		expr = fmt.Sprintf("%s >= %s", col, b.bind(n.Value))
	case tablon.NodeSmaller:
		expr = fmt.Sprintf("%s < %s", col, b.bind(n.Value))
	case tablon.NodeSmallerOrEqual:
		expr = fmt.Sprintf("%s <= %s", col, b.bind(n.Value))
	case tablon.NodeIn:
		placeholders := make([]string, len(n.Values))
		for i, v := range n.Values {
			placeholders[i] = b.bind(v)
		}
		expr = fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", "))
	default:
		return "", fmt.Errorf("%w: sqlproj cannot translate node kind %d", tablon.ErrInvalidArgument, n.Kind)
	}
	if n.Inverted {
		return "NOT (" + expr + ")", nil
	}
	return expr, nil
}

func (b *builder) combine(n tablon.Node, op string) (string, error) {
	left, err := b.whereClause(*n.Left)
	if err != nil {
		return "", err
	}
	right, err := b.whereClause(*n.Right)
	if err != nil {
		return "", err
	}
	expr := fmt.Sprintf("(%s %s %s)", left, op, right)
	if n.Inverted {
		return "NOT " + expr, nil
	}
	return expr, nil
}

// orderByClause emits ORDER BY for every SortAsc/SortDesc item plus, when
// present, Group's field (GROUP BY has no ordering guarantee of its own, so
// grouped output is also sorted by the group key, ahead of the declared
// sorts). Sort keys are listed in declared order, so the first declared key
// dominates, as in the in-memory engine.
//
// Group is translated to plain GROUP BY, which is only approximate: the
// in-memory semantics of "keep the first row seen per group key" has no
// single SQL equivalent (a real engine would need a window function or a
// correlated subquery per non-key column), so a caller needing that exact
// behavior should use the in-memory table engine instead of this projection.
func (b *builder) orderByClause(items []tablon.OptItem) (string, error) {
	var groupField string
	var hasGroup bool
	var sorts []tablon.OptItem
	for _, it := range items {
		switch it.Kind {
		case tablon.OptGroup:
			groupField = it.Field
			hasGroup = true
		case tablon.OptSortAsc, tablon.OptSortDesc:
			sorts = append(sorts, it)
		}
	}

	var parts []string
	if hasGroup {
		col, err := b.column(groupField)
		if err != nil {
			return "", err
		}
		parts = append(parts, "GROUP BY "+col)
	}

	var orderParts []string
	for _, it := range sorts {
		col, err := b.column(it.Field)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if it.Kind == tablon.OptSortDesc {
			dir = "DESC"
		}
		orderParts = append(orderParts, fmt.Sprintf("%s %s", col, dir))
	}
	if hasGroup {
		if col, err := b.column(groupField); err == nil {
			orderParts = append([]string{col + " ASC"}, orderParts...)
		}
	}
	if len(orderParts) > 0 {
		parts = append(parts, "ORDER BY "+strings.Join(orderParts, ", "))
	}

	return strings.Join(parts, " "), nil
}

func limitOffsetClause(items []tablon.OptItem) (string, error) {
	var parts []string
	for _, it := range items {
		switch it.Kind {
		case tablon.OptLimit:
			parts = append(parts, fmt.Sprintf("LIMIT %d", it.N))
		case tablon.OptOffset:
			parts = append(parts, fmt.Sprintf("OFFSET %d", it.N))
		}
	}
	return strings.Join(parts, " "), nil
}
