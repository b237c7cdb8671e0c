package tablon

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	datMagic = "DatTable"
	// CurrentDatVersion is the newest DAT format version this package
	// writes and the newest it accepts on read.
	CurrentDatVersion = 5
	// MinDatVersion is the oldest DAT format version still readable.
	MinDatVersion = 1
)

// WriteDat writes layout's fields and rows to w in the versioned DAT binary
// format. version must be in [MinDatVersion, CurrentDatVersion].
func WriteDat(w io.Writer, layout *Layout, rows []Row, version int) error {
	if version < MinDatVersion || version > CurrentDatVersion {
		return fmt.Errorf("%w: DAT write version %d", ErrVersionUnsupported, version)
	}
	if _, err := io.WriteString(w, datMagic); err != nil {
		return err
	}
	if _, err := writeUvarint(w, uint64(version)); err != nil {
		return err
	}
	if _, err := writeLengthPrefixed(w, []byte(layout.Name())); err != nil {
		return err
	}
	fields := layout.Fields()
	if _, err := writeUvarint(w, uint64(len(fields))); err != nil {
		return err
	}
	for _, f := range fields {
		if err := writeDatFieldHeader(w, f, version); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if err := writeDatEntry(w, fields, row, version); err != nil {
			return err
		}
	}
	return nil
}

// ReadDat reads a DAT stream, returning an untyped layout reconstructed
// from the header plus every row it describes.
func ReadDat(r io.Reader) (*Layout, []Row, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(datMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, nil, err
	}
	if string(magic) != datMagic {
		return nil, nil, fmt.Errorf("%w: not a DAT stream", ErrMalformedInput)
	}
	versionRaw, err := readUvarint(br)
	if err != nil {
		return nil, nil, err
	}
	version := int(versionRaw)
	if version < MinDatVersion || version > CurrentDatVersion {
		return nil, nil, fmt.Errorf("%w: DAT read version %d", ErrVersionUnsupported, version)
	}
	nameB, err := readLengthPrefixed(br)
	if err != nil {
		return nil, nil, err
	}
	fieldCount, err := readUvarint(br)
	if err != nil {
		return nil, nil, err
	}
	fields := make([]FieldProperties, fieldCount)
	for i := range fields {
		f, err := readDatFieldHeader(br, version)
		if err != nil {
			return nil, nil, err
		}
		f.Index = i
		if err := f.Validate(); err != nil {
			return nil, nil, err
		}
		fields[i] = f
	}
	layout, err := newLayout(string(nameB), fields, nil)
	if err != nil {
		return nil, nil, err
	}
	var rows []Row
	for {
		row, err := readDatEntry(br, fields, version)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		row.Layout = layout
		rows = append(rows, row)
	}
	return layout, rows, nil
}

func writeDatFieldHeader(w io.Writer, f FieldProperties, version int) error {
	if _, err := writeLengthPrefixed(w, []byte(f.Name)); err != nil {
		return err
	}
	if _, err := writeUvarint(w, uint64(f.DataType)); err != nil {
		return err
	}
	if _, err := writeUvarint(w, uint64(f.Flags)); err != nil {
		return err
	}
	if version > 2 && (f.DataType == String || f.DataType == User) {
		if _, err := writeUvarint(w, uint64(f.StringEncoding)); err != nil {
			return err
		}
	}
	if version > 1 && f.DataType == DateTime {
		if _, err := writeUvarint(w, uint64(f.DateTimeKind)); err != nil {
			return err
		}
		if _, err := writeUvarint(w, uint64(f.DateTimeType)); err != nil {
			return err
		}
	}
	if version > 3 && f.DataType == TimeSpan {
		if _, err := writeUvarint(w, uint64(f.DateTimeType)); err != nil {
			return err
		}
	}
	if f.DataType == User {
		typeName := ""
		if f.RecordType != nil {
			typeName = f.RecordType.String()
		}
		if _, err := writeLengthPrefixed(w, []byte(typeName)); err != nil {
			return err
		}
	}
	return nil
}

func readDatFieldHeader(r *bufio.Reader, version int) (FieldProperties, error) {
	nameB, err := readLengthPrefixed(r)
	if err != nil {
		return FieldProperties{}, err
	}
	dtRaw, err := readUvarint(r)
	if err != nil {
		return FieldProperties{}, err
	}
	flagsRaw, err := readUvarint(r)
	if err != nil {
		return FieldProperties{}, err
	}
	f := FieldProperties{Name: string(nameB), NameAtDatabase: string(nameB), DataType: DataType(dtRaw), Flags: FieldFlags(flagsRaw)}
	if version > 2 && (f.DataType == String || f.DataType == User) {
		encRaw, err := readUvarint(r)
		if err != nil {
			return FieldProperties{}, err
		}
		f.StringEncoding = StringEncoding(encRaw)
	}
	if version > 1 && f.DataType == DateTime {
		kindRaw, err := readUvarint(r)
		if err != nil {
			return FieldProperties{}, err
		}
		typeRaw, err := readUvarint(r)
		if err != nil {
			return FieldProperties{}, err
		}
		f.DateTimeKind = DateTimeKind(kindRaw)
		f.DateTimeType = DateTimeType(typeRaw)
	}
	if version > 3 && f.DataType == TimeSpan {
		typeRaw, err := readUvarint(r)
		if err != nil {
			return FieldProperties{}, err
		}
		f.DateTimeType = DateTimeType(typeRaw)
	}
	if f.DataType == User {
		if _, err := readLengthPrefixed(r); err != nil {
			return FieldProperties{}, err
		}
	}
	return f, nil
}

// computeEntrySize resolves the self-referential "entry size includes its
// own prefix" framing: the varint length of entrySize can itself change
// entrySize, so converge on a fixed point (reached in one or two steps for
// any realistic row width).
func computeEntrySize(fieldLen int) (entrySize, prefixLen int) {
	prefixLen = 1
	for {
		candidate := prefixLen + fieldLen + 10
		nl := uvarintLen(uint64(candidate))
		if nl == prefixLen {
			return candidate, prefixLen
		}
		prefixLen = nl
	}
}

func writeDatEntry(w io.Writer, fields []FieldProperties, row Row, version int) error {
	var buf bytes.Buffer
	for _, f := range fields {
		if err := writeDatFieldValue(&buf, row.Value(f.Index), f, version); err != nil {
			return err
		}
	}
	fieldLen := buf.Len()
	entrySize, prefixLen := computeEntrySize(fieldLen)
	if _, err := writeUvarint(w, uint64(entrySize)); err != nil {
		return err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	padding := entrySize - prefixLen - fieldLen
	if padding > 0 {
		if _, err := w.Write(make([]byte, padding)); err != nil {
			return err
		}
	}
	return nil
}

func readDatEntry(br *bufio.Reader, fields []FieldProperties, version int) (Row, error) {
	entrySize, err := readUvarint(br)
	if err != nil {
		return Row{}, err
	}
	prefixLen := uvarintLen(entrySize)
	remaining := int(entrySize) - prefixLen
	if remaining < 0 {
		return Row{}, fmt.Errorf("%w: DAT entry size underflows its own prefix", ErrMalformedInput)
	}
	entryBuf := make([]byte, remaining)
	if _, err := io.ReadFull(br, entryBuf); err != nil {
		return Row{}, err
	}
	r := bytes.NewReader(entryBuf)
	maxIdx := -1
	for _, f := range fields {
		if f.Index > maxIdx {
			maxIdx = f.Index
		}
	}
	values := make([]any, maxIdx+1)
	for _, f := range fields {
		v, err := readDatFieldValue(r, f, version)
		if err != nil {
			return Row{}, fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
		}
		values[f.Index] = v
	}
	return Row{Values: values}, nil
}

// EncodeLayoutHeader writes layout's name and per-field header metadata
// (the same shape WriteDat uses, always at the current field-header
// version) without a magic string or standalone version byte — used by
// rowwire's WithLayout framing, which carries its own version elsewhere.
func EncodeLayoutHeader(w io.Writer, layout *Layout) error {
	if _, err := writeLengthPrefixed(w, []byte(layout.Name())); err != nil {
		return err
	}
	fields := layout.Fields()
	if _, err := writeUvarint(w, uint64(len(fields))); err != nil {
		return err
	}
	for _, f := range fields {
		if err := writeDatFieldHeader(w, f, CurrentDatVersion); err != nil {
			return err
		}
	}
	return nil
}

// DecodeLayoutHeader is EncodeLayoutHeader's inverse.
func DecodeLayoutHeader(r *bufio.Reader) (*Layout, error) {
	nameB, err := readLengthPrefixed(r)
	if err != nil {
		return nil, err
	}
	fieldCount, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	fields := make([]FieldProperties, fieldCount)
	for i := range fields {
		f, err := readDatFieldHeader(r, CurrentDatVersion)
		if err != nil {
			return nil, err
		}
		f.Index = i
		if err := f.Validate(); err != nil {
			return nil, err
		}
		fields[i] = f
	}
	return newLayout(string(nameB), fields, nil)
}

// EncodeRowFieldV5 writes one field's value using the DAT v5 nullable-prefix
// encoding, exported for rowwire's per-row framing to reuse directly instead
// of duplicating the version matrix.
func EncodeRowFieldV5(w io.Writer, v any, f FieldProperties) error {
	return writeDatFieldValue(w, v, f, CurrentDatVersion)
}

// DecodeRowFieldV5 is EncodeRowFieldV5's inverse.
func DecodeRowFieldV5(r byteReader, f FieldProperties) (any, error) {
	return readDatFieldValue(r, f, CurrentDatVersion)
}

func widthFor(dt DataType) int {
	switch dt {
	case Int16, UInt16:
		return 2
	case Int32, UInt32:
		return 4
	default:
		return 8
	}
}

func writeFixedWidth(w io.Writer, n int64, width int) error {
	var buf [8]byte
	switch width {
	case 1:
		buf[0] = byte(n)
	case 2:
		binary.LittleEndian.PutUint16(buf[:2], uint16(n))
	case 4:
		binary.LittleEndian.PutUint32(buf[:4], uint32(n))
	default:
		binary.LittleEndian.PutUint64(buf[:8], uint64(n))
	}
	_, err := w.Write(buf[:width])
	return err
}

func readFixedWidth(r io.Reader, width int) (int64, error) {
	buf := make([]byte, width)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return int64(int8(buf[0])), nil
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(buf))), nil
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(buf))), nil
	default:
		return int64(binary.LittleEndian.Uint64(buf)), nil
	}
}

func writeDatFieldValue(w io.Writer, v any, f FieldProperties, version int) error {
	switch f.DataType {
	case Int8, UInt8:
		if version >= 5 {
			if v == nil {
				_, err := w.Write([]byte{1, 0})
				return err
			}
			if _, err := w.Write([]byte{0}); err != nil {
				return err
			}
		}
		n, _ := toInt64(v)
		_, err := w.Write([]byte{byte(n)})
		return err
	case Int16, UInt16, Int32, UInt32:
		isNull := v == nil
		if version >= 5 {
			if isNull {
				if _, err := w.Write([]byte{1}); err != nil {
					return err
				}
			} else if _, err := w.Write([]byte{0}); err != nil {
				return err
			}
		}
		n, _ := toInt64(v)
		if version == 1 {
			return writeFixedWidth(w, n, widthFor(f.DataType))
		}
		_, err := writeVarintSigned(w, n)
		return err
	case Int64, UInt64:
		isNull := v == nil
		if version >= 5 {
			if isNull {
				if _, err := w.Write([]byte{1}); err != nil {
					return err
				}
			} else if _, err := w.Write([]byte{0}); err != nil {
				return err
			}
		}
		n, _ := toInt64(v)
		if version == 1 {
			return writeFixedWidth(w, n, 8)
		}
		_, err := writeVarintSigned(w, n)
		return err
	case Binary:
		b, _ := v.([]byte)
		if version <= 2 {
			if err := writeFixedWidth(w, int64(len(b)), 4); err != nil {
				return err
			}
			_, err := w.Write(b)
			return err
		}
		if version <= 4 {
			if _, err := writeUvarint(w, uint64(len(b))); err != nil {
				return err
			}
			_, err := w.Write(b)
			return err
		}
		if v == nil {
			_, err := writeVarintSigned(w, -1)
			return err
		}
		if _, err := writeVarintSigned(w, int64(len(b))); err != nil {
			return err
		}
		_, err := w.Write(b)
		return err
	case Bool:
		if version >= 5 && v == nil {
			_, err := w.Write([]byte{0xFF})
			return err
		}
		bv, _ := v.(bool)
		var b byte
		if bv {
			b = 1
		}
		_, err := w.Write([]byte{b})
		return err
	case DateTime, TimeSpan:
		isNull := v == nil
		if version >= 5 {
			if isNull {
				if _, err := w.Write([]byte{1}); err != nil {
					return err
				}
			} else if _, err := w.Write([]byte{0}); err != nil {
				return err
			}
		}
		var ticks int64
		if f.DataType == DateTime {
			t, _ := v.(time.Time)
			ticks = t.UTC().UnixNano() / 100
		} else {
			d, _ := v.(time.Duration)
			ticks = int64(d) / 100
		}
		return writeFixedWidth(w, ticks, 8)
	case String, User, Guid:
		isNull := v == nil
		if version >= 5 {
			if isNull {
				if _, err := w.Write([]byte{1}); err != nil {
					return err
				}
			} else if _, err := w.Write([]byte{0}); err != nil {
				return err
			}
		}
		_, err := writeLengthPrefixed(w, []byte(stringifyForDat(v, f)))
		return err
	case Enum, Char:
		isNull := v == nil
		if version >= 5 {
			if isNull {
				if _, err := w.Write([]byte{1}); err != nil {
					return err
				}
			} else if _, err := w.Write([]byte{0}); err != nil {
				return err
			}
		}
		n, _ := toInt64(v)
		_, err := writeVarintSigned(w, n)
		return err
	case Single:
		isNull := v == nil
		if version >= 5 {
			if isNull {
				if _, err := w.Write([]byte{1}); err != nil {
					return err
				}
			} else if _, err := w.Write([]byte{0}); err != nil {
				return err
			}
		}
		n, _ := toNumber(v)
		return writeFixedWidth(w, int64(math.Float32bits(float32(n))), 4)
	case Double, Decimal:
		isNull := v == nil
		if version >= 5 {
			if isNull {
				if _, err := w.Write([]byte{1}); err != nil {
					return err
				}
			} else if _, err := w.Write([]byte{0}); err != nil {
				return err
			}
		}
		n, _ := toNumber(v)
		return writeFixedWidth(w, int64(math.Float64bits(n)), 8)
	default:
		return fmt.Errorf("%w: DAT encoding not supported for %v", ErrUnsupportedSchema, f.DataType)
	}
}

func stringifyForDat(v any, f FieldProperties) string {
	if v == nil {
		return ""
	}
	if f.DataType == Guid {
		if id, ok := v.(uuid.UUID); ok {
			return id.String()
		}
	}
	return fmt.Sprintf("%v", v)
}

// byteReader is what readDatFieldValue actually needs: byte-at-a-time reads
// for null markers and sentinels plus bulk reads for fixed-width values and
// length-prefixed strings. Both *bytes.Reader (DAT's own entry buffer) and
// *bufio.Reader (rowwire's streaming decoder) satisfy it.
type byteReader interface {
	io.Reader
	io.ByteReader
}

func readDatFieldValue(r byteReader, f FieldProperties, version int) (any, error) {
	switch f.DataType {
	case Int8, UInt8:
		isNull := false
		if version >= 5 {
			nb, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			isNull = nb == 1
		}
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if isNull {
			return nil, nil
		}
		if f.DataType == Int8 {
			return int8(b), nil
		}
		return b, nil
	case Int16, UInt16, Int32, UInt32:
		isNull := false
		if version >= 5 {
			nb, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			isNull = nb == 1
		}
		var n int64
		var err error
		if version == 1 {
			n, err = readFixedWidth(r, widthFor(f.DataType))
		} else {
			n, err = readVarintSigned(r)
		}
		if err != nil {
			return nil, err
		}
		if isNull {
			return nil, nil
		}
		return convertIntegerKind(n, f.DataType), nil
	case Int64, UInt64:
		isNull := false
		if version >= 5 {
			nb, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			isNull = nb == 1
		}
		var n int64
		var err error
		if version == 1 {
			n, err = readFixedWidth(r, 8)
		} else {
			n, err = readVarintSigned(r)
		}
		if err != nil {
			return nil, err
		}
		if isNull {
			return nil, nil
		}
		return convertIntegerKind(n, f.DataType), nil
	case Binary:
		if version <= 2 {
			n, err := readFixedWidth(r, 4)
			if err != nil {
				return nil, err
			}
			b := make([]byte, n)
			if _, err := io.ReadFull(r, b); err != nil {
				return nil, err
			}
			return b, nil
		}
		if version <= 4 {
			n, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			b := make([]byte, n)
			if _, err := io.ReadFull(r, b); err != nil {
				return nil, err
			}
			return b, nil
		}
		n, err := readVarintSigned(r)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, nil
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		return b, nil
	case Bool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if version >= 5 && b == 0xFF {
			return nil, nil
		}
		return b == 1, nil
	case DateTime, TimeSpan:
		isNull := false
		if version >= 5 {
			nb, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			isNull = nb == 1
		}
		ticks, err := readFixedWidth(r, 8)
		if err != nil {
			return nil, err
		}
		if isNull {
			return nil, nil
		}
		if f.DataType == DateTime {
			return time.Unix(0, ticks*100).UTC(), nil
		}
		return time.Duration(ticks * 100), nil
	case String, User, Guid:
		isNull := false
		if version >= 5 {
			nb, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			isNull = nb == 1
		}
		n, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		if isNull {
			return nil, nil
		}
		s := string(b)
		if f.DataType == Guid {
			if _, isUUIDType := zeroValueOfGoType(f).(uuid.UUID); isUUIDType {
				return uuid.Parse(s)
			}
		}
		return s, nil
	case Enum, Char:
		isNull := false
		if version >= 5 {
			nb, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			isNull = nb == 1
		}
		n, err := readVarintSigned(r)
		if err != nil {
			return nil, err
		}
		if isNull {
			return nil, nil
		}
		if f.DataType == Char {
			return int32(n), nil
		}
		return n, nil
	case Single:
		isNull := false
		if version >= 5 {
			nb, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			isNull = nb == 1
		}
		bits, err := readFixedWidth(r, 4)
		if err != nil {
			return nil, err
		}
		if isNull {
			return nil, nil
		}
		return math.Float32frombits(uint32(bits)), nil
	case Double, Decimal:
		isNull := false
		if version >= 5 {
			nb, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			isNull = nb == 1
		}
		bits, err := readFixedWidth(r, 8)
		if err != nil {
			return nil, err
		}
		if isNull {
			return nil, nil
		}
		return math.Float64frombits(uint64(bits)), nil
	default:
		return nil, fmt.Errorf("%w: DAT decoding not supported for %v", ErrUnsupportedSchema, f.DataType)
	}
}
