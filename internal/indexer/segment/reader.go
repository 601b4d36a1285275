package segment

import (
	"errors"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/index"
)

var ErrCorrupt = errors.New("corrupt segment file")

// ReadFile loads and validates the segment stored at path.
func ReadFile(path string) (*index.Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %s shorter than header", ErrCorrupt, path)
	}
	header := unmarshalHeader(data[:HeaderSize])
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x", ErrCorrupt, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header.Version)
	}
	body := data[HeaderSize:]
	if int64(len(body)) != header.BodySize {
		return nil, fmt.Errorf("%w: body is %d bytes, header says %d", ErrCorrupt, len(body), header.BodySize)
	}
	if sum := crc32.ChecksumIEEE(body); sum != header.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch %x != %x", ErrCorrupt, sum, header.Checksum)
	}

	raw := body
	if header.Flags&flagCompressed != 0 {
		raw = make([]byte, header.RawSize)
		n, err := lz4.UncompressBlock(body, raw)
		if err != nil {
			return nil, fmt.Errorf("decompressing segment: %w", err)
		}
		raw = raw[:n]
	}
	var sd index.SegmentData
	if err := msgpack.Unmarshal(raw, &sd); err != nil {
		return nil, fmt.Errorf("decoding segment: %w", err)
	}
	seg, err := index.ImportSegment(&sd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if seg.MaxDoc() != header.DocCount {
		return nil, fmt.Errorf("%w: %d documents, header says %d", ErrCorrupt, seg.MaxDoc(), header.DocCount)
	}
	return seg, nil
}
