package boltstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
)

// Row values start with a one-byte codec tag. Bodies that do not shrink
// under lz4 are kept raw.
const (
	codecRaw byte = iota
	codecLZ4
)

type documentRow struct {
	ID   string           `msgpack:"id"`
	Data *document.Object `msgpack:"data"`
}

type mappedRow struct {
	DocumentID string           `msgpack:"doc"`
	ReduceKey  string           `msgpack:"key"`
	Bucket     int              `msgpack:"bucket"`
	Data       *document.Object `msgpack:"data"`
	Timestamp  time.Time        `msgpack:"ts"`
}

type reducedRow struct {
	ReduceKey    string           `msgpack:"key"`
	Level        int              `msgpack:"level"`
	SourceBucket int              `msgpack:"source"`
	Bucket       int              `msgpack:"bucket"`
	Data         *document.Object `msgpack:"data"`
	Timestamp    time.Time        `msgpack:"ts"`
}

func encodeRow(v any) ([]byte, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding row: %w", err)
	}
	buf := make([]byte, 5+lz4.CompressBlockBound(len(raw)))
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(raw, buf[5:], hashTable[:])
	if err != nil {
		return nil, fmt.Errorf("compressing row: %w", err)
	}
	if n == 0 || n >= len(raw) {
		out := make([]byte, 1+len(raw))
		out[0] = codecRaw
		copy(out[1:], raw)
		return out, nil
	}
	buf[0] = codecLZ4
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(raw)))
	return buf[:5+n], nil
}

func decodeRow(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("decoding row: empty value")
	}
	raw := data[1:]
	switch data[0] {
	case codecRaw:
	case codecLZ4:
		if len(data) < 5 {
			return fmt.Errorf("decoding row: short header")
		}
		raw = make([]byte, binary.BigEndian.Uint32(data[1:5]))
		n, err := lz4.UncompressBlock(data[5:], raw)
		if err != nil {
			return fmt.Errorf("decompressing row: %w", err)
		}
		raw = raw[:n]
	default:
		return fmt.Errorf("decoding row: unknown codec %d", data[0])
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding row: %w", err)
	}
	return nil
}

// Keys are built from length-prefixed strings and big-endian integers so a
// prefix of components is also a byte prefix of every matching key.

type keyBuilder struct {
	buf bytes.Buffer
}

func (k *keyBuilder) str(s string) *keyBuilder {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	k.buf.Write(n[:])
	k.buf.WriteString(s)
	return k
}

func (k *keyBuilder) num(v int) *keyBuilder {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(int32(v)))
	k.buf.Write(n[:])
	return k
}

func (k *keyBuilder) seq(v uint64) *keyBuilder {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], v)
	k.buf.Write(n[:])
	return k
}

func (k *keyBuilder) raw(b []byte) *keyBuilder {
	k.buf.Write(b)
	return k
}

func (k *keyBuilder) build() []byte {
	return bytes.Clone(k.buf.Bytes())
}

func newKey() *keyBuilder {
	return &keyBuilder{}
}

// parseScheduledKey splits level|reduceKey|bucket back into its parts.
func parseScheduledKey(k []byte) (string, int, error) {
	if len(k) < 12 {
		return "", 0, fmt.Errorf("scheduled key too short")
	}
	n := int(binary.BigEndian.Uint32(k[4:8]))
	if len(k) != 12+n {
		return "", 0, fmt.Errorf("scheduled key malformed")
	}
	return string(k[8 : 8+n]), int(int32(binary.BigEndian.Uint32(k[8+n:]))), nil
}
