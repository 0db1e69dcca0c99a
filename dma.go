package pagecache

// MemOps bundles one batch's input stream and completion sinks, mirroring
// the original source's MemOps{inp, out, out_fail}. Either sink may be
// nil, in which case the corresponding notification is dropped.
type MemOps struct {
	In     []ReadRequest
	OnOK   func(cursor interface{}, buf []byte)
	OnFail func(cursor interface{}, buf []byte)
}

func (m MemOps) ok(cursor interface{}, buf []byte) {
	if m.OnOK != nil {
		m.OnOK(cursor, buf)
	}
}

func (m MemOps) fail(cursor interface{}, buf []byte) {
	if m.OnFail != nil {
		m.OnFail(cursor, buf)
	}
}

// PhysicalMemory is the backing DMA contract the engine consumes. A
// conforming implementation consumes In, and for each entry either fills
// Out and calls OnOK, or calls OnFail — never both for the same entry.
// It may reorder within one call, and returns an error only when further
// dispatch is impossible (e.g. the device disconnected); an error from
// one entry's read is reported via OnFail, not via the returned error.
type PhysicalMemory interface {
	PhysReadRawIter(ops MemOps) error
	PhysWriteRawIter(ops MemOps) error
}
