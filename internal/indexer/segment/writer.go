package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
)

// MagicBytes identifies a valid .dseg segment file.
const (
	MagicBytes    uint32 = 0x44534547
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
)

const FileExt = ".dseg"

const flagCompressed uint32 = 1

// SegmentHeader is the 64-byte header written at the start of every segment.
type SegmentHeader struct {
	Magic     uint32
	Version   uint32
	Flags     uint32
	DocCount  uint32
	CreatedAt int64
	RawSize   int64
	BodySize  int64
	Checksum  uint32
}

func (h SegmentHeader) marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.Flags)
	binary.LittleEndian.PutUint32(buf[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.RawSize))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.BodySize))
	binary.LittleEndian.PutUint32(buf[40:44], h.Checksum)
	return buf
}

func unmarshalHeader(buf []byte) SegmentHeader {
	return SegmentHeader{
		Magic:     binary.LittleEndian.Uint32(buf[0:4]),
		Version:   binary.LittleEndian.Uint32(buf[4:8]),
		Flags:     binary.LittleEndian.Uint32(buf[8:12]),
		DocCount:  binary.LittleEndian.Uint32(buf[12:16]),
		CreatedAt: int64(binary.LittleEndian.Uint64(buf[16:24])),
		RawSize:   int64(binary.LittleEndian.Uint64(buf[24:32])),
		BodySize:  int64(binary.LittleEndian.Uint64(buf[32:40])),
		Checksum:  binary.LittleEndian.Uint32(buf[40:44]),
	}
}

// FileName is the on-disk name of the segment with the given id.
func FileName(id string) string {
	return "seg_" + id + FileExt
}

// WriteFile atomically writes seg into dir. It writes to a .tmp file first
// and renames on success. Deletions are not part of the file.
func WriteFile(dir string, seg *index.Segment) (string, error) {
	raw, err := msgpack.Marshal(seg.Export())
	if err != nil {
		return "", fmt.Errorf("encoding segment %s: %w", seg.ID(), err)
	}

	header := SegmentHeader{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		DocCount:  seg.MaxDoc(),
		CreatedAt: time.Now().Unix(),
		RawSize:   int64(len(raw)),
	}
	body := raw
	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(raw, compressed, hashTable[:])
	if err != nil {
		return "", fmt.Errorf("compressing segment %s: %w", seg.ID(), err)
	}
	// n == 0 means the body did not compress
	if n > 0 && n < len(raw) {
		body = compressed[:n]
		header.Flags |= flagCompressed
	}
	header.BodySize = int64(len(body))
	header.Checksum = crc32.ChecksumIEEE(body)

	name := FileName(seg.ID())
	finalPath := filepath.Join(dir, name)
	tmpPath := finalPath + ".tmp"
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(header.marshal()); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		return "", fmt.Errorf("writing segment body: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return name, nil
}
