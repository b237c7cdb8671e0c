package tablon

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldFlags is a bitmask subset of {ID, Index, Unique, AutoIncrement,
// Nullable}.
type FieldFlags uint8

const (
	FlagID FieldFlags = 1 << iota
	FlagIndex
	FlagUnique
	FlagAutoIncrement
	FlagNullable
)

func (f FieldFlags) Has(x FieldFlags) bool { return f&x != 0 }

func (f FieldFlags) String() string {
	var parts []string
	for _, p := range []struct {
		flag FieldFlags
		name string
	}{
		{FlagID, "ID"},
		{FlagIndex, "Index"},
		{FlagUnique, "Unique"},
		{FlagAutoIncrement, "AutoIncrement"},
		{FlagNullable, "Nullable"},
	} {
		if f.Has(p.flag) {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}

// FieldProperties describes one column: name, alternate names, declared
// type, database type, flags, defaults, parsing/formatting behavior.
type FieldProperties struct {
	Index            int      // Position within the owning layout.
	RecordType       reflect.Type
	DataType         DataType
	DatabaseDataType DataType
	Flags            FieldFlags
	Name             string // Logical name.
	NameAtDatabase   string
	AlternativeNames []string
	MaximumLength    int // String/Decimal length; Decimal encodes precision.scale as one float via DecimalPrecisionScale.
	DateTimeKind     DateTimeKind
	DateTimeType     DateTimeType
	StringEncoding   StringEncoding
	DefaultValue     any
	Description      string
	DisplayFormat    string

	// structField is non-zero when this FieldProperties was derived from a
	// Go struct field via LoadFieldInfo; the string-parsing fallback chain
	// for User types consults it.
	structField reflect.StructField
}

// Validate fills in kind-dependent defaults and rejects impossible
// combinations.
func (f *FieldProperties) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: field has no name", ErrInvalidSchema)
	}
	if f.NameAtDatabase == "" {
		f.NameAtDatabase = f.Name
	}
	if f.DatabaseDataType == 0 {
		f.DatabaseDataType = f.DataType.DefaultDatabaseType()
	}
	switch f.DataType {
	case String:
		if f.StringEncoding == 0 {
			// Zero value of StringEncoding is already UTF8; nothing to do,
			// but keep the branch to document the default explicitly.
			f.StringEncoding = UTF8
		}
	case User:
		if f.StringEncoding == 0 {
			f.StringEncoding = UTF8
		}
		if f.DatabaseDataType == 0 {
			f.DatabaseDataType = String
		}
	case DateTime, TimeSpan:
		if f.DateTimeType == Native {
			// Already the zero value; documents the default explicitly.
		}
	case Enum:
		if f.DatabaseDataType == 0 {
			f.DatabaseDataType = Int64
		}
	}
	if f.Flags.Has(FlagAutoIncrement) && !f.Flags.Has(FlagID) {
		return fmt.Errorf("%w: AutoIncrement only valid on an ID field", ErrInvalidSchema)
	}
	return nil
}

// tableTag is the parsed form of a `table:"..."` struct tag, comma-separated
// (spaces around each entry are trimmed), the Go analogue of a reflective attribute
// table (there is no runtime attribute system in Go, so one tag carries
// everything a .NET attribute set would).
type tableTag struct {
	words map[string][]string // key -> list of parameter strings (supports repeats)
	bare  []string            // tokens without '=' (flags)
}

func parseTableTag(tag string) tableTag {
	t := tableTag{words: map[string][]string{}}
	if tag == "" {
		return t
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '='); i >= 0 {
			key := part[:i]
			val := part[i+1:]
			t.words[key] = append(t.words[key], val)
		} else {
			t.bare = append(t.bare, part)
		}
	}
	return t
}

func (t tableTag) has(flag string) bool {
	for _, b := range t.bare {
		if b == flag {
			return true
		}
	}
	return false
}

func (t tableTag) get(key string) (string, bool) {
	v, ok := t.words[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// LoadFieldInfo populates a FieldProperties from a Go struct field at the
// given layout index, applying the `table` struct tag vocabulary documented
// in a struct field tag.
func LoadFieldInfo(index int, sf reflect.StructField, namingStrategy func(string) string) (FieldProperties, error) {
	tag := parseTableTag(sf.Tag.Get("table"))

	ft := sf.Type
	var nullableFromPtr bool
	if ft.Kind() == reflect.Ptr {
		ft = ft.Elem()
		nullableFromPtr = true
	}

	dt, err := dataTypeOf(ft)
	if err != nil {
		return FieldProperties{}, fmt.Errorf("field %q: %w", sf.Name, err)
	}

	name := sf.Name
	if n, ok := tag.get("name"); ok {
		name = n
	}
	var altNames []string
	if a, ok := tag.get("alt"); ok {
		altNames = strings.Split(a, "|")
	}

	var flags FieldFlags
	if tag.has("id") {
		flags |= FlagID
	}
	if tag.has("index") {
		flags |= FlagIndex
	}
	if tag.has("unique") {
		flags |= FlagUnique
	}
	if tag.has("autoincrement") {
		flags |= FlagAutoIncrement
	}
	if tag.has("nullable") || nullableFromPtr {
		flags |= FlagNullable
	}

	f := FieldProperties{
		Index:            index,
		RecordType:       sf.Type,
		DataType:         dt,
		Name:             name,
		NameAtDatabase:   name,
		AlternativeNames: altNames,
		Flags:            flags,
		structField:      sf,
	}
	if namingStrategy != nil {
		f.NameAtDatabase = namingStrategy(name)
	}

	if l, ok := tag.get("length"); ok {
		n, err := strconv.Atoi(l)
		if err != nil {
			return FieldProperties{}, fmt.Errorf("%w: field %q: bad length %q", ErrInvalidSchema, sf.Name, l)
		}
		f.MaximumLength = n
	}
	if db, ok := tag.get("dbtype"); ok {
		kind, err := parseDataTypeName(db)
		if err != nil {
			return FieldProperties{}, fmt.Errorf("field %q: %w", sf.Name, err)
		}
		f.DatabaseDataType = kind
	}
	if dtf, ok := tag.get("dt"); ok {
		kind, typ, err := parseDateTimeFormat(dtf)
		if err != nil {
			return FieldProperties{}, fmt.Errorf("field %q: %w", sf.Name, err)
		}
		f.DateTimeKind = kind
		f.DateTimeType = typ
		f.DatabaseDataType = typ.DatabaseKind(false)
	}
	if tsf, ok := tag.get("ts"); ok {
		typ, err := parseDateTimeType(tsf)
		if err != nil {
			return FieldProperties{}, fmt.Errorf("field %q: %w", sf.Name, err)
		}
		f.DateTimeType = typ
		f.DatabaseDataType = typ.DatabaseKind(true)
	}
	if enc, ok := tag.get("enc"); ok {
		e, err := parseStringEncoding(enc)
		if err != nil {
			return FieldProperties{}, fmt.Errorf("field %q: %w", sf.Name, err)
		}
		f.StringEncoding = e
	}
	if def, ok := tag.get("default"); ok {
		f.DefaultValue = def
	}
	if desc, ok := tag.get("desc"); ok {
		f.Description = desc
	}
	if disp, ok := tag.get("display"); ok {
		f.DisplayFormat = disp
	}
	// Go has no native Enum/Decimal/Char/Guid types, so `kind` lets a field
	// declare one of those DataTypes explicitly over whatever concrete Go
	// type it's stored as (a named int type for Enum, float64 for Decimal,
	// int32/rune for Char, uuid.UUID or string for Guid).
	if k, ok := tag.get("kind"); ok {
		parsed, err := parseDataTypeName(k)
		if err != nil {
			return FieldProperties{}, fmt.Errorf("field %q: %w", sf.Name, err)
		}
		f.DataType = parsed
		dt = parsed
	}

	if ft.Kind() == reflect.Slice && ft.Elem().Kind() != reflect.Uint8 {
		return FieldProperties{}, fmt.Errorf("%w: field %q: only []byte array members are supported", ErrUnsupportedSchema, sf.Name)
	}
	if ft.Kind() == reflect.Array && ft.Elem().Kind() != reflect.Uint8 {
		return FieldProperties{}, fmt.Errorf("%w: field %q: only []byte array members are supported", ErrUnsupportedSchema, sf.Name)
	}

	if flags.Has(FlagAutoIncrement) {
		switch f.DataType {
		case Int8, Int16, Int32, Int64, UInt8, UInt16, UInt32, UInt64, DateTime, Guid, User:
			// Supported; at insert time a uuid.UUID-typed Guid/User field gets a new UUID, any other gets its string form.
		default:
			return FieldProperties{}, fmt.Errorf("%w: field %q: AutoIncrement not supported on %v", ErrUnsupportedSchema, sf.Name, f.DataType)
		}
	}

	if err := f.Validate(); err != nil {
		return FieldProperties{}, err
	}
	return f, nil
}

func parseDataTypeName(s string) (DataType, error) {
	names := map[string]DataType{
		"Binary": Binary, "Bool": Bool, "Char": Char,
		"Int8": Int8, "Int16": Int16, "Int32": Int32, "Int64": Int64,
		"UInt8": UInt8, "UInt16": UInt16, "UInt32": UInt32, "UInt64": UInt64,
		"Single": Single, "Double": Double, "Decimal": Decimal,
		"String": String, "DateTime": DateTime, "TimeSpan": TimeSpan,
		"Enum": Enum, "Guid": Guid, "User": User,
	}
	d, ok := names[s]
	if !ok {
		return 0, fmt.Errorf("%w: unknown data type %q", ErrInvalidSchema, s)
	}
	return d, nil
}

func parseDateTimeType(s string) (DateTimeType, error) {
	names := map[string]DateTimeType{
		"Native": Native, "BigIntTicks": BigIntTicks, "BigIntMilliSeconds": BigIntMilliSeconds,
		"BigIntSeconds": BigIntSeconds, "BigIntHumanReadable": BigIntHumanReadable,
		"BigIntEpoch": BigIntEpoch, "DoubleSeconds": DoubleSeconds, "DoubleEpoch": DoubleEpoch,
		"DecimalSeconds": DecimalSeconds,
	}
	t, ok := names[s]
	if !ok {
		return 0, fmt.Errorf("%w: unknown date/time type %q", ErrUnsupportedSchema, s)
	}
	return t, nil
}

func parseDateTimeFormat(s string) (DateTimeKind, DateTimeType, error) {
	parts := strings.SplitN(s, "+", 2)
	var kindStr, typeStr string
	kindStr = parts[0]
	if len(parts) == 2 {
		typeStr = parts[1]
	}
	kinds := map[string]DateTimeKind{"Unspecified": Unspecified, "Utc": UTC, "Local": Local}
	k, ok := kinds[kindStr]
	if !ok {
		return 0, 0, fmt.Errorf("%w: unknown date/time kind %q", ErrUnsupportedSchema, kindStr)
	}
	var t DateTimeType
	if typeStr != "" {
		var err error
		t, err = parseDateTimeType(typeStr)
		if err != nil {
			return 0, 0, err
		}
	}
	return k, t, nil
}

func parseStringEncoding(s string) (StringEncoding, error) {
	names := map[string]StringEncoding{"UTF8": UTF8, "UTF16": UTF16, "UTF32": UTF32, "ASCII": ASCII}
	e, ok := names[s]
	if !ok {
		return 0, fmt.Errorf("%w: unknown string encoding %q", ErrInvalidSchema, s)
	}
	return e, nil
}

// dataTypeOf maps a Go reflect.Type onto the closed DataType set.
func dataTypeOf(t reflect.Type) (DataType, error) {
	if t == reflect.TypeOf(time.Duration(0)) {
		return TimeSpan, nil
	}
	switch t.Kind() {
	case reflect.Bool:
		return Bool, nil
	case reflect.Int8:
		return Int8, nil
	case reflect.Int16:
		return Int16, nil
	case reflect.Int32, reflect.Int:
		return Int32, nil
	case reflect.Int64:
		return Int64, nil
	case reflect.Uint8:
		return UInt8, nil
	case reflect.Uint16:
		return UInt16, nil
	case reflect.Uint32, reflect.Uint:
		return UInt32, nil
	case reflect.Uint64:
		return UInt64, nil
	case reflect.Float32:
		return Single, nil
	case reflect.Float64:
		return Double, nil
	case reflect.String:
		return String, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return Binary, nil
		}
		return 0, fmt.Errorf("%w: unsupported slice element type %v", ErrUnsupportedSchema, t.Elem())
	case reflect.Array:
		if t.String() == "uuid.UUID" {
			return Guid, nil
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return Binary, nil
		}
		return 0, fmt.Errorf("%w: unsupported array element type %v", ErrUnsupportedSchema, t.Elem())
	case reflect.Struct:
		switch t.String() {
		case "time.Time":
			return DateTime, nil
		case "time.Duration":
			return TimeSpan, nil
		}
		return 0, fmt.Errorf("%w: unsupported struct type %v (use User with a MarshalBinary-like type)", ErrUnsupportedSchema, t)
	}
	return 0, fmt.Errorf("%w: unsupported field type %v", ErrUnsupportedSchema, t)
}

// GetString formats a value according to the field's rules. Formatting is
// culture-invariant; DateTime values use an invariant, UTC-oriented layout.
func (f FieldProperties) GetString(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	switch f.DataType {
	case Bool:
		b, _ := v.(bool)
		if b {
			return "true", nil
		}
		return "false", nil
	case Binary:
		b, _ := v.([]byte)
		return base64.RawStdEncoding.EncodeToString(b), nil
	case DateTime:
		tv, _ := v.(time.Time)
		return formatDateTime(tv, f.DateTimeType), nil
	case TimeSpan:
		dv, _ := v.(time.Duration)
		return formatTimeSpan(dv, f.DateTimeType), nil
	case Guid:
		if id, ok := v.(uuid.UUID); ok {
			return id.String(), nil
		}
		return fmt.Sprintf("%v", v), nil
	case String, User:
		s := fmt.Sprintf("%v", v)
		return escapeString(s), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func formatDateTime(t time.Time, kind DateTimeType) string {
	switch kind {
	case BigIntTicks:
		return strconv.FormatInt(t.UnixNano()/100, 10)
	case BigIntMilliSeconds:
		return strconv.FormatInt(t.UnixMilli(), 10)
	case BigIntSeconds, BigIntEpoch:
		return strconv.FormatInt(t.Unix(), 10)
	case BigIntHumanReadable:
		return t.Format("20060102150405000")
	case DoubleSeconds, DoubleEpoch:
		return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', -1, 64)
	case DecimalSeconds:
		return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', -1, 64)
	default: // Native.
		return t.UTC().Format(time.RFC3339Nano)
	}
}

func formatTimeSpan(d time.Duration, kind DateTimeType) string {
	switch kind {
	case BigIntTicks:
		return strconv.FormatInt(d.Nanoseconds()/100, 10)
	case BigIntMilliSeconds:
		return strconv.FormatInt(d.Milliseconds(), 10)
	case BigIntSeconds, BigIntEpoch:
		return strconv.FormatInt(int64(d.Seconds()), 10)
	case DoubleSeconds, DoubleEpoch, DecimalSeconds:
		return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
	default:
		return d.String()
	}
}

// escapeString UTF-8 escape-encodes control characters.
func escapeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case 'r':
				b.WriteByte('\r')
				i++
				continue
			case 't':
				b.WriteByte('\t')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ParseValue parses a string into the Go value of the field's declared
// value-type, following a fallback chain: Bool recognizes true|on|yes|1
// case-insensitively; numeric kinds go through strconv; User values
// round-trip as plain strings, since a single-argument string constructor
// isn't expressible in Go without a registered converter.
func (f FieldProperties) ParseValue(s string) (any, error) {
	if s == "" && f.Flags.Has(FlagNullable) {
		return nil, nil
	}
	switch f.DataType {
	case Bool:
		switch strings.ToLower(s) {
		case "true", "on", "yes", "1":
			return true, nil
		default:
			return false, nil
		}
	case Int8:
		n, err := strconv.ParseInt(s, 10, 8)
		return int8(n), err
	case Int16:
		n, err := strconv.ParseInt(s, 10, 16)
		return int16(n), err
	case Int32:
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	case Int64:
		return strconv.ParseInt(s, 10, 64)
	case UInt8:
		n, err := strconv.ParseUint(s, 10, 8)
		return uint8(n), err
	case UInt16:
		n, err := strconv.ParseUint(s, 10, 16)
		return uint16(n), err
	case UInt32:
		n, err := strconv.ParseUint(s, 10, 32)
		return uint32(n), err
	case UInt64:
		return strconv.ParseUint(s, 10, 64)
	case Single:
		n, err := strconv.ParseFloat(s, 32)
		return float32(n), err
	case Double, Decimal:
		return strconv.ParseFloat(s, 64)
	case Binary:
		return base64.RawStdEncoding.DecodeString(s)
	case DateTime:
		return parseDateTimeValue(s, f.DateTimeType)
	case TimeSpan:
		return parseTimeSpanValue(s, f.DateTimeType)
	case Guid:
		if _, isUUIDType := zeroValueOfGoType(f).(uuid.UUID); isUUIDType {
			return uuid.Parse(s)
		}
		return s, nil
	case String, User:
		return unescapeString(s), nil
	default:
		return s, nil
	}
}

func parseDateTimeValue(s string, kind DateTimeType) (time.Time, error) {
	switch kind {
	case BigIntTicks:
		n, err := strconv.ParseInt(s, 10, 64)
		return time.Unix(0, n*100).UTC(), err
	case BigIntMilliSeconds:
		n, err := strconv.ParseInt(s, 10, 64)
		return time.UnixMilli(n).UTC(), err
	case BigIntSeconds, BigIntEpoch:
		n, err := strconv.ParseInt(s, 10, 64)
		return time.Unix(n, 0).UTC(), err
	case BigIntHumanReadable:
		return time.Parse("20060102150405000", s)
	case DoubleSeconds, DoubleEpoch, DecimalSeconds:
		f, err := strconv.ParseFloat(s, 64)
		return time.Unix(0, int64(f*1e9)).UTC(), err
	default:
		return time.Parse(time.RFC3339Nano, s)
	}
}

func parseTimeSpanValue(s string, kind DateTimeType) (time.Duration, error) {
	switch kind {
	case BigIntTicks:
		n, err := strconv.ParseInt(s, 10, 64)
		return time.Duration(n * 100), err
	case BigIntMilliSeconds:
		n, err := strconv.ParseInt(s, 10, 64)
		return time.Duration(n) * time.Millisecond, err
	case BigIntSeconds, BigIntEpoch:
		n, err := strconv.ParseInt(s, 10, 64)
		return time.Duration(n) * time.Second, err
	case DoubleSeconds, DoubleEpoch, DecimalSeconds:
		f, err := strconv.ParseFloat(s, 64)
		return time.Duration(f * float64(time.Second)), err
	default:
		return time.ParseDuration(s)
	}
}

// zeroValueOfGoType returns the zero value of the field's underlying Go
// type (unwrapping a pointer), used to tell a uuid.UUID-backed Guid field
// apart from a string-backed one when parsing.
func zeroValueOfGoType(f FieldProperties) any {
	t := f.RecordType
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return reflect.Zero(t).Interface()
}

// sortFieldsByIndex is used by layout construction to keep fields in
// declared order regardless of map iteration elsewhere.
func sortFieldsByIndex(fields []FieldProperties) {
	sort.Slice(fields, func(i, j int) bool { return fields[i].Index < fields[j].Index })
}
