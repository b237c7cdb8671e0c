package tablon

import "fmt"

// DataType is the closed set of scalar kinds the system distinguishes. It is
// independent of DatabaseType: the two only coincide by default.
type DataType uint8

const (
	Binary DataType = iota + 1
	Bool
	Char
	Int8
	Int16
	Int32
	Int64
	UInt8
	UInt16
	UInt32
	UInt64
	Single
	Double
	Decimal
	String
	DateTime
	TimeSpan
	Enum
	Guid
	// User is an opaque application type round-tripped via string (see
	// field.go's GetString/ParseValue fallback chain).
	User
)

func (d DataType) String() string {
	switch d {
	case Binary:
		return "Binary"
	case Bool:
		return "Bool"
	case Char:
		return "Char"
	case Int8:
		return "Int8"
	case Int16:
		return "Int16"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case UInt8:
		return "UInt8"
	case UInt16:
		return "UInt16"
	case UInt32:
		return "UInt32"
	case UInt64:
		return "UInt64"
	case Single:
		return "Single"
	case Double:
		return "Double"
	case Decimal:
		return "Decimal"
	case String:
		return "String"
	case DateTime:
		return "DateTime"
	case TimeSpan:
		return "TimeSpan"
	case Enum:
		return "Enum"
	case Guid:
		return "Guid"
	case User:
		return "User"
	default:
		return fmt.Sprintf("DataType(%d)", uint8(d))
	}
}

// DefaultDatabaseType returns the canonical database-kind mapping for a data
// type. Some kinds differ from their in-memory representation, e.g. UInt8 is
// commonly stored as Int16 by back-ends without an unsigned byte column.
func (d DataType) DefaultDatabaseType() DataType {
	switch d {
	case UInt8:
		return Int16
	case UInt16:
		return Int32
	case UInt32:
		return Int64
	case UInt64:
		return Int64
	case Enum:
		return Int64
	case User:
		return String
	default:
		return d
	}
}

// FixedWidth reports whether the kind's value occupies a single raw byte in
// the DAT encoding (Int8, UInt8 and Bool). Every kind can be made nullable
// via FieldFlags independently of this.
func (d DataType) FixedWidth() bool {
	switch d {
	case Int8, UInt8, Bool:
		return true
	}
	return false
}

// DateTimeKind selects the timezone interpretation of a DateTime field.
type DateTimeKind uint8

const (
	Unspecified DateTimeKind = iota
	UTC
	Local
)

func (k DateTimeKind) String() string {
	switch k {
	case UTC:
		return "Utc"
	case Local:
		return "Local"
	default:
		return "Unspecified"
	}
}

// DateTimeType selects the on-the-wire/on-disk encoding of a DateTime or
// TimeSpan field.
type DateTimeType uint8

const (
	Native DateTimeType = iota
	BigIntTicks
	BigIntMilliSeconds
	BigIntSeconds
	BigIntHumanReadable
	BigIntEpoch
	DoubleSeconds
	DoubleEpoch
	DecimalSeconds
)

// DatabaseKind is the database kind a DateTimeType/TimeSpanType encodes to,
// per the default storage-type mapping table.
func (t DateTimeType) DatabaseKind(isTimeSpan bool) DataType {
	switch t {
	case BigIntTicks, BigIntMilliSeconds, BigIntSeconds, BigIntHumanReadable, BigIntEpoch:
		return Int64
	case DecimalSeconds:
		return Decimal
	case DoubleSeconds, DoubleEpoch:
		return Double
	default: // Native, Undefined.
		if isTimeSpan {
			return TimeSpan
		}
		return DateTime
	}
}

// StringEncoding selects the text encoding used to (de)serialize a String or
// User field.
type StringEncoding uint8

const (
	UTF8 StringEncoding = iota
	UTF16
	UTF32
	ASCII
)

func (e StringEncoding) String() string {
	switch e {
	case UTF16:
		return "UTF16"
	case UTF32:
		return "UTF32"
	case ASCII:
		return "ASCII"
	default:
		return "UTF8"
	}
}
