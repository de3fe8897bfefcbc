// Package segment persists an Index snapshot to a single file and reads it
// back. Layout: a 64-byte header, three zstd-compressed JSON sections
// (schema, documents, field postings), and a 32-byte footer carrying a
// CRC32 of the section bytes.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
)

// MagicBytes identifies a valid snapshot file ("RHIX").
const (
	MagicBytes    uint32 = 0x52484958
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32
)

// SegmentHeader is the 64-byte header written at the start of every file.
type SegmentHeader struct {
	Magic      uint32
	Version    uint32
	DocCount   uint32
	FieldCount uint32
	CreatedAt  int64
	SchemaOff  int64
	SchemaSize int64
	DocsOff    int64
	DocsSize   int64
	FieldsSize int64
}

func (h SegmentHeader) fieldsOff() int64 {
	return h.DocsOff + h.DocsSize
}

type schemaSection struct {
	Fields  []schema.FieldSpec `json:"fields"`
	Options schema.Options     `json:"options"`
}

type docsSection struct {
	DocIDs  []string          `json:"doc_ids"`
	Stored  []index.StoredDoc `json:"stored"`
	BuiltAt time.Time         `json:"built_at"`
}

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("segment: creating zstd encoder: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("segment: creating zstd decoder: %v", err))
	}
}

// Writer serialises Index snapshots into files under a directory.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes snapshots into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically replaces name inside the data directory with a snapshot
// of ix. It writes to a .tmp file first and renames on success, so readers
// see either the old file or the complete new one. It returns the final
// path.
func (w *Writer) Write(name string, ix *index.Index) (string, error) {
	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	finalPath := filepath.Join(w.dataDir, name)
	tmpPath := finalPath + ".tmp"

	snap := ix.Snapshot()
	sections := make([][]byte, 0, 3)
	for _, part := range []struct {
		name  string
		value any
	}{
		{"schema", schemaSection{Fields: ix.Schema().Fields(), Options: ix.Schema().Options()}},
		{"documents", docsSection{DocIDs: snap.DocIDs, Stored: snap.Stored, BuiltAt: snap.BuiltAt}},
		{"fields", snap.Fields},
	} {
		data, err := json.Marshal(part.value)
		if err != nil {
			return "", fmt.Errorf("marshaling %s section: %w", part.name, err)
		}
		sections = append(sections, encoder.EncodeAll(data, nil))
	}

	header := SegmentHeader{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		DocCount:   uint32(len(snap.DocIDs)),
		FieldCount: uint32(len(snap.Fields)),
		CreatedAt:  time.Now().Unix(),
		SchemaOff:  int64(HeaderSize),
		SchemaSize: int64(len(sections[0])),
		DocsSize:   int64(len(sections[1])),
		FieldsSize: int64(len(sections[2])),
	}
	header.DocsOff = header.SchemaOff + header.SchemaSize

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	if err := writeSegment(f, header, sections); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return finalPath, nil
}

func writeSegment(f *os.File, header SegmentHeader, sections [][]byte) error {
	if _, err := f.Write(encodeHeader(header)); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	checksum := crc32.NewIEEE()
	var total int64
	for i, section := range sections {
		if _, err := f.Write(section); err != nil {
			return fmt.Errorf("writing section %d: %w", i, err)
		}
		checksum.Write(section)
		total += int64(len(section))
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], header.DocCount)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(header.fieldsOff()))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(header.FieldsSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(total))
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing segment file: %w", err)
	}
	return nil
}

func encodeHeader(h SegmentHeader) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.DocCount)
	binary.LittleEndian.PutUint32(b[12:16], h.FieldCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.SchemaOff))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.SchemaSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.DocsOff))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DocsSize))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.FieldsSize))
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		DocCount:   binary.LittleEndian.Uint32(b[8:12]),
		FieldCount: binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		SchemaOff:  int64(binary.LittleEndian.Uint64(b[24:32])),
		SchemaSize: int64(binary.LittleEndian.Uint64(b[32:40])),
		DocsOff:    int64(binary.LittleEndian.Uint64(b[40:48])),
		DocsSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
		FieldsSize: int64(binary.LittleEndian.Uint64(b[56:64])),
	}
}
