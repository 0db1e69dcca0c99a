package pagecache

// ReadRequest is one physical-read request as seen by the engine: read
// len(Out) bytes starting at Addr.PageType/PageSize-tagged Addr.Addr,
// into Out, attributing the result to Cursor (opaque to the cache —
// forwarded verbatim to the success/failure sink).
type ReadRequest struct {
	Addr   PhysicalAddress
	Cursor interface{}
	Out    []byte
}

// chunkIter lazily splits one ReadRequest into page-aligned sub-requests,
// each of whose body fits inside a single page. It performs no I/O and
// allocates nothing beyond the small per-chunk ReadRequest values it
// yields — a pure transformation, no I/O of its own.
type chunkIter struct {
	req      ReadRequest
	pageSize uint64
	offset   uint64 // bytes of req.Out already yielded
}

func splitToChunks(req ReadRequest, pageSize uint64) *chunkIter {
	return &chunkIter{req: req, pageSize: pageSize}
}

// next returns the next sub-request and true, or a zero ReadRequest and
// false once the whole original request has been covered.
func (c *chunkIter) next() (ReadRequest, bool) {
	if c.offset >= uint64(len(c.req.Out)) {
		return ReadRequest{}, false
	}

	addr := uint64(c.req.Addr.Addr) + c.offset
	aligned := addr &^ (c.pageSize - 1)
	inPage := addr - aligned
	remainInPage := c.pageSize - inPage
	remainInReq := uint64(len(c.req.Out)) - c.offset

	n := remainInPage
	if remainInReq < n {
		n = remainInReq
	}

	sub := ReadRequest{
		Addr:   c.req.Addr.WithPage(Address(addr)),
		Cursor: c.req.Cursor,
		Out:    c.req.Out[c.offset : c.offset+n],
	}
	c.offset += n
	return sub, true
}

// forEachChunk calls fn for every page-aligned sub-request of req, in order.
func forEachChunk(req ReadRequest, pageSize uint64, fn func(ReadRequest)) {
	it := splitToChunks(req, pageSize)
	for {
		sub, ok := it.next()
		if !ok {
			return
		}
		fn(sub)
	}
}
