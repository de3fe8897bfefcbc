package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/relevance-harness/internal/indexer/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/relevance-harness/pkg/errors"
)

type Reader struct {
	file   *os.File
	header SegmentHeader
}

// OpenReader opens a snapshot file and validates its header, footer and
// checksum. Sections are decoded lazily by Load.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if info.Size() < int64(HeaderSize+FooterSize) {
		f.Close()
		return nil, fmt.Errorf("%w: file too short (%d bytes)", apperrors.ErrCorruptSnapshot, info.Size())
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		f.Close()
		return nil, fmt.Errorf("%w: bad magic bytes %x", apperrors.ErrCorruptSnapshot, header.Magic)
	}
	if header.Version != FormatVersion {
		f.Close()
		return nil, fmt.Errorf("%w: unsupported version %d", apperrors.ErrCorruptSnapshot, header.Version)
	}
	if err := checkLayout(header, info.Size()); err != nil {
		f.Close()
		return nil, err
	}
	total := header.SchemaSize + header.DocsSize + header.FieldsSize
	if int64(HeaderSize)+total+int64(FooterSize) != info.Size() {
		f.Close()
		return nil, fmt.Errorf("%w: section sizes do not match file size", apperrors.ErrCorruptSnapshot)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, int64(HeaderSize)+total); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	body := make([]byte, total)
	if _, err := f.ReadAt(body, int64(HeaderSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading sections: %w", err)
	}
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(footer[0:4]) {
		f.Close()
		return nil, fmt.Errorf("%w: checksum mismatch", apperrors.ErrCorruptSnapshot)
	}
	return &Reader{
		file:   f,
		header: header,
	}, nil
}

// checkLayout rejects headers whose sections are not laid out back to back
// inside the file. The checksum covers only section bytes, so the header is
// validated on its own.
func checkLayout(h SegmentHeader, fileSize int64) error {
	limit := fileSize - int64(HeaderSize+FooterSize)
	for _, size := range []int64{h.SchemaSize, h.DocsSize, h.FieldsSize} {
		if size < 0 || size > limit {
			return fmt.Errorf("%w: section size %d out of range", apperrors.ErrCorruptSnapshot, size)
		}
	}
	if h.SchemaOff != int64(HeaderSize) || h.DocsOff != h.SchemaOff+h.SchemaSize {
		return fmt.Errorf("%w: section offsets out of order", apperrors.ErrCorruptSnapshot)
	}
	return nil
}

// Load decodes all sections and rebuilds the Index.
func (r *Reader) Load() (*index.Index, error) {
	var ss schemaSection
	if err := r.section(r.header.SchemaOff, r.header.SchemaSize, &ss); err != nil {
		return nil, fmt.Errorf("schema section: %w", err)
	}
	s, err := schema.New(ss.Fields, ss.Options)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCorruptSnapshot, err)
	}
	var ds docsSection
	if err := r.section(r.header.DocsOff, r.header.DocsSize, &ds); err != nil {
		return nil, fmt.Errorf("documents section: %w", err)
	}
	var fields map[string]*index.FieldData
	if err := r.section(r.header.fieldsOff(), r.header.FieldsSize, &fields); err != nil {
		return nil, fmt.Errorf("fields section: %w", err)
	}
	if uint32(len(ds.DocIDs)) != r.header.DocCount {
		return nil, fmt.Errorf("%w: header says %d docs, found %d", apperrors.ErrCorruptSnapshot, r.header.DocCount, len(ds.DocIDs))
	}
	return index.FromSnapshot(s, index.Snapshot{
		DocIDs:  ds.DocIDs,
		Stored:  ds.Stored,
		Fields:  fields,
		BuiltAt: ds.BuiltAt,
	})
}

func (r *Reader) section(off, size int64, v any) error {
	compressed := make([]byte, size)
	if _, err := r.file.ReadAt(compressed, off); err != nil {
		return fmt.Errorf("reading: %w", err)
	}
	data, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("%w: decompressing: %v", apperrors.ErrCorruptSnapshot, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decoding: %v", apperrors.ErrCorruptSnapshot, err)
	}
	return nil
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) FieldCount() uint32 {
	return r.header.FieldCount
}

func (r *Reader) Close() error {
	return r.file.Close()
}

// Load opens, decodes and closes a snapshot file in one call.
func Load(path string) (*index.Index, error) {
	r, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Load()
}
