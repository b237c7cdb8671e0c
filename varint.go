package tablon

import (
	"encoding/binary"
	"io"
)

// writeUvarint writes v using the standard continuation-bit 7-bit encoding
// — the same scheme encoding/binary.PutUvarint implements, so the DAT
// codec's "7-bit encoded int" framing is realized directly on the standard
// library rather than a hand-rolled reimplementation of the same bits.
func writeUvarint(w io.Writer, v uint64) (int, error) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return w.Write(buf[:n])
}

func readUvarint(r io.ByteReader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// toZigzag/fromZigzag let a varint carry a signed value (used for DAT v5's
// -1 null-length sentinel on Binary fields) without most small magnitudes
// expanding past one byte.
func toZigzag(n int64) uint64   { return uint64((n << 1) ^ (n >> 63)) }
func fromZigzag(u uint64) int64 { return int64(u>>1) ^ -int64(u&1) }

func writeVarintSigned(w io.Writer, n int64) (int, error) {
	return writeUvarint(w, toZigzag(n))
}

func readVarintSigned(r io.ByteReader) (int64, error) {
	u, err := readUvarint(r)
	if err != nil {
		return 0, err
	}
	return fromZigzag(u), nil
}

// writeLengthPrefixed writes a 7-bit length followed by raw bytes.
func writeLengthPrefixed(w io.Writer, b []byte) (int, error) {
	n, err := writeUvarint(w, uint64(len(b)))
	if err != nil {
		return n, err
	}
	m, err := w.Write(b)
	return n + m, err
}

func readLengthPrefixed(r interface {
	io.Reader
	io.ByteReader
}) ([]byte, error) {
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
