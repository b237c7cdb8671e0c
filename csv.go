package tablon

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// CsvNewLineMode selects the row terminator CSV output uses.
type CsvNewLineMode int

const (
	CsvNewLineLF CsvNewLineMode = iota
	CsvNewLineCRLF
	// CsvNewLineNative is treated as LF; there is no portable notion of "the
	// platform's" line ending once a file can be read back on another OS, so
	// this mode exists only to mirror the source's three-way enum.
	CsvNewLineNative
)

func (m CsvNewLineMode) terminator() string {
	if m == CsvNewLineCRLF {
		return "\r\n"
	}
	return "\n"
}

// CsvProperties configures CSV reading and writing. The zero value is not
// usable directly; use DefaultCsvProperties and override fields as needed.
type CsvProperties struct {
	Separator          rune
	StringMarker       rune
	HasStringMarker    bool
	NewLineMode        CsvNewLineMode
	NoHeader           bool
	AllowFieldMatching bool
	SaveDefaultValues  bool
	// Format is an informational culture/format tag, currently unused beyond
	// documenting intent: all DateTime/numeric formatting goes through
	// FieldProperties.GetString, which is already culture-invariant.
	Format string
}

// DefaultCsvProperties returns comma-separated, double-quoted, LF-terminated
// properties with a header line and default values written out.
func DefaultCsvProperties() CsvProperties {
	return CsvProperties{
		Separator:         ',',
		StringMarker:      '"',
		HasStringMarker:   true,
		NewLineMode:       CsvNewLineLF,
		SaveDefaultValues: true,
	}
}

// WriteCSV writes layout's rows to w as CSV.
func WriteCSV(w io.Writer, layout *Layout, rows []Row, props CsvProperties) error {
	bw := bufio.NewWriter(w)
	nl := props.NewLineMode.terminator()
	fields := layout.Fields()

	if !props.NoHeader {
		parts := make([]string, len(fields))
		for i, f := range fields {
			parts[i] = csvQuoteIfNeeded(f.NameAtDatabase, props)
		}
		if _, err := bw.WriteString(strings.Join(parts, string(props.Separator))); err != nil {
			return err
		}
		if _, err := bw.WriteString(nl); err != nil {
			return err
		}
	}

	for _, row := range rows {
		parts := make([]string, len(fields))
		for i, f := range fields {
			s, err := csvFieldString(row.Value(f.Index), f, props)
			if err != nil {
				return err
			}
			parts[i] = s
		}
		if _, err := bw.WriteString(strings.Join(parts, string(props.Separator))); err != nil {
			return err
		}
		if _, err := bw.WriteString(nl); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// csvFieldString renders one value per the escaping/quoting/default-value
// suppression rules. A nil value (or, when SaveDefaultValues is false, a
// zero value) is written as an unquoted empty field. An explicit empty
// string is written as a lone marker-wrapped space — resolving the
// otherwise-undocumented ambiguity between "no value" and "empty string" —
// so the reader can tell the two apart.
func csvFieldString(v any, f FieldProperties, props CsvProperties) (string, error) {
	if v == nil {
		return "", nil
	}
	if !props.SaveDefaultValues && isDefaultValue(v, f) {
		return "", nil
	}
	raw, err := f.GetString(v)
	if err != nil {
		return "", err
	}
	if raw == "" && props.HasStringMarker && (f.DataType == String || f.DataType == User) {
		mb := string(props.StringMarker)
		return mb + " " + mb, nil
	}
	return csvQuoteIfNeeded(raw, props), nil
}

func isDefaultValue(v any, f FieldProperties) bool {
	return isZeroValue(v)
}

// csvQuoteIfNeeded wraps raw in string markers (doubling any embedded
// marker) when it contains the separator, the marker, or a line break.
// A marker character landing at the very start or end of the quoted
// content is padded with a single space so a reader scanning for the
// closing marker cannot mistake it for one.
func csvQuoteIfNeeded(raw string, props CsvProperties) string {
	if !props.HasStringMarker {
		return raw
	}
	needsQuote := strings.ContainsRune(raw, props.Separator) ||
		strings.ContainsRune(raw, props.StringMarker) ||
		strings.ContainsAny(raw, "\r\n")
	if !needsQuote {
		return raw
	}
	mb := string(props.StringMarker)
	content := strings.ReplaceAll(raw, mb, mb+mb)
	if strings.HasPrefix(content, mb) {
		content = " " + content
	}
	if strings.HasSuffix(content, mb) {
		content = content + " "
	}
	return mb + content + mb
}

// csvField is one parsed column: its raw content plus whether it was
// marker-quoted (needed to tell an explicit empty string apart from an
// absent/default one on read).
type csvField struct {
	value  string
	quoted bool
}

// readCSVRecord parses exactly one record (row), honoring marker quoting
// across embedded separators and line breaks. Returns io.EOF when no more
// input remains.
func readCSVRecord(br *bufio.Reader, props CsvProperties) ([]csvField, error) {
	var fields []csvField
	var cur strings.Builder
	inQuotes := false
	fieldQuoted := false
	quoteParity := 0
	sawAny := false

	flush := func() {
		fields = append(fields, csvField{value: cur.String(), quoted: fieldQuoted})
		cur.Reset()
		fieldQuoted = false
	}

	for {
		r, _, err := br.ReadRune()
		if err != nil {
			if err != io.EOF {
				return nil, err
			}
			if !sawAny {
				return nil, io.EOF
			}
			if inQuotes {
				return nil, fmt.Errorf("%w: unterminated quoted CSV field", ErrMalformedInput)
			}
			flush()
			return fields, nil
		}
		sawAny = true

		if props.HasStringMarker && r == props.StringMarker {
			quoteParity++
			if inQuotes {
				next, _, err2 := br.ReadRune()
				if err2 == nil && next == props.StringMarker {
					cur.WriteRune(props.StringMarker)
					quoteParity++
					continue
				}
				if err2 == nil {
					_ = br.UnreadRune()
				}
				inQuotes = false
				continue
			}
			inQuotes = true
			fieldQuoted = true
			continue
		}

		if !inQuotes && r == props.Separator {
			flush()
			continue
		}

		if !inQuotes && (r == '\n' || r == '\r') {
			if r == '\r' {
				next, _, err2 := br.ReadRune()
				if err2 == nil && next != '\n' {
					_ = br.UnreadRune()
				}
			}
			if quoteParity%2 != 0 {
				return nil, fmt.Errorf("%w: unbalanced quotes in CSV row", ErrMalformedInput)
			}
			flush()
			return fields, nil
		}

		cur.WriteRune(r)
	}
}

// ReadCSV reads rows laid out according to layout, applying props. With
// AllowFieldMatching, header column names are resolved against the layout
// (columns the layout lacks are skipped, fields the header lacks are left
// nil); without it, the header (or, with NoHeader, the layout
// itself) must list exactly layout's fields in order.
func ReadCSV(r io.Reader, layout *Layout, props CsvProperties) ([]Row, error) {
	br := bufio.NewReader(r)
	fields := layout.Fields()

	colToField := make([]int, len(fields))
	for i, f := range fields {
		colToField[i] = f.Index
	}

	if !props.NoHeader {
		header, err := readCSVRecord(br, props)
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if props.AllowFieldMatching {
			colToField = make([]int, len(header))
			for i, h := range header {
				idx, ok, _ := layout.GetFieldIndex(strings.TrimSpace(h.value), false, false)
				if ok {
					colToField[i] = idx
				} else {
					colToField[i] = -1
				}
			}
		} else if len(header) != len(fields) {
			return nil, fmt.Errorf("%w: CSV header has %d columns, layout %q has %d fields", ErrInvalidSchema, len(header), layout.Name(), len(fields))
		}
	}

	var rows []Row
	for {
		rec, err := readCSVRecord(br, props)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if !props.AllowFieldMatching && len(rec) != len(colToField) {
			return nil, fmt.Errorf("%w: CSV row has %d columns, expected %d", ErrInvalidSchema, len(rec), len(colToField))
		}
		values := make([]any, layout.MaxIndex()+1)
		for col, cf := range rec {
			if col >= len(colToField) {
				break
			}
			fi := colToField[col]
			if fi < 0 {
				continue
			}
			f, ok := layout.FieldByIndex(fi)
			if !ok {
				continue
			}
			v, err := csvParseField(cf.value, cf.quoted, f, props)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %v", ErrMalformedInput, f.Name, err)
			}
			values[fi] = v
		}
		row, err := NewRow(layout, values)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func csvParseField(content string, quoted bool, f FieldProperties, props CsvProperties) (any, error) {
	if !quoted {
		return f.ParseValue(content)
	}
	if props.HasStringMarker {
		mb := string(props.StringMarker)
		if strings.HasPrefix(content, " "+mb) {
			content = content[1:]
		}
		if strings.HasSuffix(content, mb+" ") {
			content = content[:len(content)-1]
		}
	}
	if content == " " {
		content = ""
	}
	if f.DataType == String || f.DataType == User {
		return unescapeString(content), nil
	}
	return f.ParseValue(content)
}
