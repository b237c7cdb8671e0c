package tablon

import (
	"bufio"
	"bytes"
	"testing"
)

func TestUvarintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 40} {
		var buf bytes.Buffer
		_, err := writeUvarint(&buf, v)
		tcheck(t, err, "write")
		got, err := readUvarint(bufio.NewReader(&buf))
		tcheck(t, err, "read")
		if got != v {
			t.Fatalf("got %d, want %d", got, v)
		}
	}
}

func TestVarintSignedRoundTrip(t *testing.T) {
	for _, v := range []int64{0, -1, 1, -64, 64, -1 << 30, 1 << 30} {
		var buf bytes.Buffer
		_, err := writeVarintSigned(&buf, v)
		tcheck(t, err, "write")
		got, err := readVarintSigned(bufio.NewReader(&buf))
		tcheck(t, err, "read")
		if got != v {
			t.Fatalf("got %d, want %d", got, v)
		}
	}
}

func TestLengthPrefixedRoundTrip(t *testing.T) {
	for _, b := range [][]byte{{}, {1}, bytes.Repeat([]byte{7}, 300)} {
		var buf bytes.Buffer
		_, err := writeLengthPrefixed(&buf, b)
		tcheck(t, err, "write")
		got, err := readLengthPrefixed(bufio.NewReader(&buf))
		tcheck(t, err, "read")
		if !bytes.Equal(got, b) {
			t.Fatalf("got %v, want %v", got, b)
		}
	}
}
