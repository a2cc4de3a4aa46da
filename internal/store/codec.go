package store

import (
	"encoding/binary"
	"fmt"

	"github.com/lesd/les/internal/entry"
)

// valueSize is the fixed width of an encoded record: 1 byte kind,
// 8 bytes size, 8 bytes mtime.
const valueSize = 1 + 8 + 8

// encodeValue serializes (kind, size, mtime) into a fixed-width, reversible
// byte string. The scheme only needs to be internally consistent between
// encode and decode; see spec.md §4.1.
func encodeValue(e entry.Entry) []byte {
	buf := make([]byte, valueSize)
	buf[0] = byte(e.Kind)
	binary.BigEndian.PutUint64(buf[1:9], e.Size)
	binary.BigEndian.PutUint64(buf[9:17], uint64(e.Mtime))
	return buf
}

func decodeValue(path string, buf []byte) (entry.Entry, error) {
	if len(buf) != valueSize {
		return entry.Entry{}, fmt.Errorf("store: corrupt value for %q: want %d bytes, got %d", path, valueSize, len(buf))
	}
	return entry.Entry{
		Path:  path,
		Kind:  entry.Kind(buf[0]),
		Size:  binary.BigEndian.Uint64(buf[1:9]),
		Mtime: int64(binary.BigEndian.Uint64(buf[9:17])),
	}, nil
}
