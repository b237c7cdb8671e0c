package tablon

import "errors"

// Sentinel errors returned (wrapped with context via %w) by every package in
// this module. Callers should use errors.Is against these, never string
// matching.
var (
	// ErrInvalidArgument is returned for null/illegal parameters, wrapping an
	// already-wrapped table, or a duplicate Limit/Offset in a ResultOption.
	ErrInvalidArgument = errors.New("tablon: invalid argument")

	// ErrInvalidSchema is returned when a field is not present, two layouts
	// are incompatible, or a record-type member is unknown.
	ErrInvalidSchema = errors.New("tablon: invalid schema")

	// ErrUnsupportedSchema is returned for array members other than []byte,
	// AutoIncrement on an unsupported type, or an unknown date/time type.
	ErrUnsupportedSchema = errors.New("tablon: unsupported schema")

	// ErrInvariantViolated is returned for a duplicate identifier on insert
	// or a reader-count underflow in the concurrent wrapper.
	ErrInvariantViolated = errors.New("tablon: invariant violated")

	// ErrNotFound is returned by Update/Delete of a row whose identifier is
	// absent from the table.
	ErrNotFound = errors.New("tablon: not found")

	// ErrReadOnly is returned for a mutation attempted against a frozen
	// table.
	ErrReadOnly = errors.New("tablon: table is read-only")

	// ErrMalformedInput is returned for unbalanced CSV quoting, a DAT entry
	// that underflows its recorded size, or an unknown data-type byte.
	ErrMalformedInput = errors.New("tablon: malformed input")

	// ErrInconsistentSource is returned by LoadTable when the number of rows
	// loaded differs from source.RowCount(), including after an early Break.
	ErrInconsistentSource = errors.New("tablon: inconsistent source")

	// ErrDisposed is returned for an operation on a closed writer, reader or
	// database.
	ErrDisposed = errors.New("tablon: disposed")

	// ErrVersionUnsupported is returned when a DAT header version is above
	// CurrentDatVersion or below 1.
	ErrVersionUnsupported = errors.New("tablon: unsupported version")
)
