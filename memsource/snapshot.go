package memsource

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/golang/snappy"
	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/pagecache"
)

// SnapshotSource is a read-only pagecache.PhysicalMemory backed by a
// memory-dump file written by SnapshotWriter: a sequence of
// (physAddr uint64, length uint32, snappy-compressed payload) records.
// Each payload is compressed on its own with snappy's block format
// (snappy.Encode / snappy.Decode), not the snappy stream format.
type SnapshotSource struct {
	// records holds the decompressed bytes for each record, keyed by its
	// starting physical address, loaded eagerly at Open time. Dumps used
	// by this type are expected to be small (test fixtures, demo data);
	// a production-scale snapshot reader would index records and
	// decompress lazily per request instead.
	records map[uint64][]byte
}

// OpenSnapshot reads every record out of path and decompresses it into
// memory.
func OpenSnapshot(path string) (*SnapshotSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, jerrors.Annotatef(err, "memsource: open snapshot %q", path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	s := &SnapshotSource{records: make(map[uint64][]byte)}

	var header [12]byte
	for {
		_, err := io.ReadFull(r, header[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, jerrors.Annotatef(err, "memsource: read snapshot record header")
		}
		addr := binary.LittleEndian.Uint64(header[0:8])
		n := binary.LittleEndian.Uint32(header[8:12])

		compressed := make([]byte, n)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return nil, jerrors.Annotatef(err, "memsource: read snapshot record body")
		}
		decoded, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, jerrors.Annotatef(err, "memsource: decompress snapshot record at 0x%x", addr)
		}
		s.records[addr] = decoded
	}
	return s, nil
}

// PhysReadRawIter implements pagecache.PhysicalMemory by locating the
// record containing each request's address. A request spanning two
// records or landing outside any record's range fails.
func (s *SnapshotSource) PhysReadRawIter(ops pagecache.MemOps) error {
	for _, req := range ops.In {
		data, ok := s.find(uint64(req.Addr.Addr), len(req.Out))
		if !ok {
			callFail(ops, req)
			continue
		}
		copy(req.Out, data)
		callOK(ops, req)
	}
	return nil
}

// PhysWriteRawIter is unsupported: a snapshot is a read-only recording
// of memory at capture time, with no durability or write-back path.
func (s *SnapshotSource) PhysWriteRawIter(ops pagecache.MemOps) error {
	for _, req := range ops.In {
		callFail(ops, req)
	}
	return nil
}

func (s *SnapshotSource) find(addr uint64, n int) ([]byte, bool) {
	for base, data := range s.records {
		if addr >= base && addr+uint64(n) <= base+uint64(len(data)) {
			off := addr - base
			return data[off : off+uint64(n)], true
		}
	}
	return nil, false
}

// SnapshotWriter writes one compressed record per WriteRecord call
// straight to the file, unbuffered; Close closes the file.
type SnapshotWriter struct {
	f *os.File
}

// NewSnapshotWriter creates (truncating) the snapshot file at path.
func NewSnapshotWriter(path string) (*SnapshotWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, jerrors.Annotatef(err, "memsource: create snapshot %q", path)
	}
	return &SnapshotWriter{f: f}, nil
}

// WriteRecord appends one (addr, data) record, snappy-compressed.
func (w *SnapshotWriter) WriteRecord(addr uint64, data []byte) error {
	compressed := snappy.Encode(nil, data)

	var header [12]byte
	binary.LittleEndian.PutUint64(header[0:8], addr)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(compressed)))

	if _, err := w.f.Write(header[:]); err != nil {
		return jerrors.Annotatef(err, "memsource: write snapshot header")
	}
	if _, err := w.f.Write(compressed); err != nil {
		return jerrors.Annotatef(err, "memsource: write snapshot body")
	}
	return nil
}

// Close closes the underlying file.
func (w *SnapshotWriter) Close() error {
	return w.f.Close()
}
