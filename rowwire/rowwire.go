// Package rowwire implements the compact row-remoting wire format: a
// leading 7-bit flags byte (bit 0 = WithLayout), an optional embedded
// layout, a 7-bit row count, then that many rows using the same per-field
// encoding as DAT version 5. It is independently usable from the rest of
// the table contract — a process can ship rows over this wire without ever
// touching a Table.
package rowwire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tablon/tablon"
)

const flagWithLayout = 1 << 0

// Encode writes rows to w. If withLayout is true, layout's full field
// header is embedded ahead of the rows, letting a reader with no prior
// knowledge of the schema decode them; otherwise the caller must already
// know layout when calling Decode.
func Encode(w io.Writer, layout *tablon.Layout, rows []tablon.Row, withLayout bool) error {
	var flags byte
	if withLayout {
		flags |= flagWithLayout
	}
	if _, err := w.Write([]byte{flags}); err != nil {
		return err
	}
	if withLayout {
		if err := tablon.EncodeLayoutHeader(w, layout); err != nil {
			return err
		}
	}
	if _, err := writeUvarint(w, uint64(len(rows))); err != nil {
		return err
	}
	fields := layout.Fields()
	for _, row := range rows {
		for _, f := range fields {
			if err := tablon.EncodeRowFieldV5(w, row.Value(f.Index), f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Decode reads a rowwire stream. layout is used when the stream has no
// embedded layout (flagWithLayout unset); it is ignored and the decoded
// layout returned instead when the stream carries its own.
func Decode(r io.Reader, layout *tablon.Layout) (*tablon.Layout, []tablon.Row, error) {
	br := bufio.NewReader(r)
	flagsByte, err := br.ReadByte()
	if err != nil {
		return nil, nil, err
	}
	if flagsByte&flagWithLayout != 0 {
		layout, err = tablon.DecodeLayoutHeader(br)
		if err != nil {
			return nil, nil, err
		}
	}
	if layout == nil {
		return nil, nil, fmt.Errorf("%w: no layout embedded and none supplied", tablon.ErrInvalidArgument)
	}
	count, err := readUvarint(br)
	if err != nil {
		return nil, nil, err
	}
	fields := layout.Fields()
	rows := make([]tablon.Row, 0, count)
	for i := uint64(0); i < count; i++ {
		values := make([]any, layout.MaxIndex()+1)
		for _, f := range fields {
			v, err := tablon.DecodeRowFieldV5(br, f)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: row %d field %q: %v", tablon.ErrMalformedInput, i, f.Name, err)
			}
			values[f.Index] = v
		}
		row, err := tablon.NewRow(layout, values)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, row)
	}
	return layout, rows, nil
}

func writeUvarint(w io.Writer, v uint64) (int, error) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return w.Write(buf[:n])
}

func readUvarint(r io.ByteReader) (uint64, error) {
	return binary.ReadUvarint(r)
}
