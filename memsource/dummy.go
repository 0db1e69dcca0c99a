// Package memsource provides concrete pagecache.PhysicalMemory
// collaborators used by tests, the CLI demo, and as worked examples of
// the backing-DMA contract. The core pagecache package never imports
// this package — these are callers of pagecache, not dependencies of it.
package memsource

import (
	"github.com/zhukovaskychina/pagecache"
)

// Dummy is a flat in-process byte buffer implementing
// pagecache.PhysicalMemory, in the spirit of a DummyMemory/DummyOs test
// harness: no locking (one owner at a time, matching Cache itself),
// writes recorded verbatim so invalidation tests can observe them
// independently of the cache under test.
type Dummy struct {
	buf []byte
}

// NewDummy allocates a zeroed buffer of size bytes.
func NewDummy(size int) *Dummy {
	return &Dummy{buf: make([]byte, size)}
}

// FillRamp writes buf[i] = (i/stride) % 256 starting at offset, a ramp
// fixture useful for distinguishing cached bytes from fresh reads.
func (d *Dummy) FillRamp(offset int, n int, stride int) {
	if stride <= 0 {
		stride = 1
	}
	for i := 0; i < n; i++ {
		d.buf[offset+i] = byte((i / stride) % 256)
	}
}

// WriteAt copies data into the buffer at offset, for test setup that
// bypasses the cache entirely.
func (d *Dummy) WriteAt(offset int, data []byte) {
	copy(d.buf[offset:], data)
}

// ReadAt returns a copy of n bytes starting at offset, for test
// assertions that bypass the cache.
func (d *Dummy) ReadAt(offset int, n int) []byte {
	out := make([]byte, n)
	copy(out, d.buf[offset:offset+n])
	return out
}

// PhysReadRawIter implements pagecache.PhysicalMemory.
func (d *Dummy) PhysReadRawIter(ops pagecache.MemOps) error {
	for _, req := range ops.In {
		start := int(req.Addr.Addr)
		end := start + len(req.Out)
		if start < 0 || end > len(d.buf) {
			callFail(ops, req)
			continue
		}
		copy(req.Out, d.buf[start:end])
		callOK(ops, req)
	}
	return nil
}

// PhysWriteRawIter implements pagecache.PhysicalMemory.
func (d *Dummy) PhysWriteRawIter(ops pagecache.MemOps) error {
	for _, req := range ops.In {
		start := int(req.Addr.Addr)
		end := start + len(req.Out)
		if start < 0 || end > len(d.buf) {
			callFail(ops, req)
			continue
		}
		copy(d.buf[start:end], req.Out)
		callOK(ops, req)
	}
	return nil
}

func callOK(ops pagecache.MemOps, req pagecache.ReadRequest) {
	if ops.OnOK != nil {
		ops.OnOK(req.Cursor, req.Out)
	}
}

func callFail(ops pagecache.MemOps, req pagecache.ReadRequest) {
	if ops.OnFail != nil {
		ops.OnFail(req.Cursor, req.Out)
	}
}
