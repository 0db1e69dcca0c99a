package pagecache

import (
	"go.uber.org/atomic"

	"github.com/zhukovaskychina/pagecache/pagecachelog"
)

// Batch is the drain threshold for each of the three work lists. It is a
// tuning parameter, not a contract: any value >= 1 produces identical
// bytes and identical success/failure attribution, only peak memory and
// amortization differ.
const Batch = 64

// Cache is the batched cached-read engine wired to a SlotTable and a
// page-type mask. One Cache belongs to exactly one worker goroutine at
// a time; see Clone for handing a fresh copy to another worker.
type Cache struct {
	table        *SlotTable
	pageTypeMask PageType
	newValidator func() CacheValidator
	stats        Stats
}

// Stats holds running totals for one Cache instance's lifetime. Each
// field is an independent atomic counter rather than a lock-guarded
// struct, matching the Cache's own no-internal-locking contract: a
// caller reading Stats concurrently with the owning goroutine's
// CachedRead/CachedWrite sees a consistent snapshot per field, not
// necessarily a consistent snapshot across fields.
type Stats struct {
	Hits          atomic.Uint64 // chunks served directly from an already-Valid slot
	Misses        atomic.Uint64 // chunks forwarded to the backing source (cache-ineligible or Invalid)
	Fills         atomic.Uint64 // chunks installed into a slot after a successful backing read
	Invalidations atomic.Uint64 // chunks CachedWrite targeted for invalidation (mask mismatches still count)
}

// New constructs a Cache with slotCount = totalSize/pageSize slots of
// pageSize bytes, caching only requests whose page type intersects mask.
// newValidator is called once now and retained so Clone can later build
// an independent validator instance for the copy: a clone's validator
// state must never be shared with the original.
func New(pageSize, totalSize uint64, mask PageType, newValidator func() CacheValidator) *Cache {
	return &Cache{
		table:        NewSlotTable(pageSize, totalSize, newValidator()),
		pageTypeMask: mask,
		newValidator: newValidator,
	}
}

// PageSize returns the cache's configured page size.
func (c *Cache) PageSize() uint64 { return c.table.PageSize() }

// IsCachedPageType reports whether the configured mask contains pt, i.e.
// every flag set in pt is also set in the mask (see PageType.Contains).
func (c *Cache) IsCachedPageType(pt PageType) bool {
	return c.pageTypeMask.Contains(pt)
}

// Stats returns the cache's running hit/miss/fill/invalidation counters.
func (c *Cache) Stats() *Stats { return &c.stats }

// Clone produces an independent Cache for another worker: a fresh
// pool of identical dimensions with the bytes copied over, but every
// address field reset to invalid and a brand new validator instance,
// since validator state may be stale in the copy.
func (c *Cache) Clone() *Cache {
	return &Cache{
		table:        c.table.Clone(c.newValidator()),
		pageTypeMask: c.pageTypeMask,
		newValidator: c.newValidator,
	}
}

type wlistcacheEntry struct {
	aligned Address
	full    PhysicalAddress
	buf     []byte
}

// CachedRead is the caller-facing batched read operation. It classifies
// each input request's page-aligned chunks against the slot table,
// accumulating up to Batch entries in each of three work lists, and
// drains them through mem in wlist -> wlistcache -> clist order
// whenever any list is full or the input is exhausted.
func (c *Cache) CachedRead(mem PhysicalMemory, ops MemOps) error {
	pageSize := c.table.PageSize()

	var clist []ReadRequest
	var wlist []ReadRequest
	var wlistcache []wlistcacheEntry

	var firstErr error

	drain := func() {
		if len(wlist) > 0 {
			c.stats.Misses.Add(uint64(len(wlist)))
			err := mem.PhysReadRawIter(MemOps{In: wlist, OnOK: ops.OnOK, OnFail: ops.OnFail})
			if err != nil && firstErr == nil {
				firstErr = wrapReadErr(err)
			}
			wlist = wlist[:0]
		}

		if len(wlistcache) > 0 {
			in := make([]ReadRequest, len(wlistcache))
			for i, e := range wlistcache {
				in[i] = ReadRequest{Addr: e.full, Cursor: e.aligned, Out: e.buf}
			}
			err := mem.PhysReadRawIter(MemOps{
				In: in,
				OnOK: func(cursor interface{}, buf []byte) {
					c.table.Validate(cursor.(Address), buf)
					c.stats.Fills.Inc()
				},
			})
			if err != nil && firstErr == nil {
				firstErr = wrapReadErr(err)
			}

			for _, e := range wlistcache {
				c.table.CancelValidation(e.aligned, e.buf)
			}
			wlistcache = wlistcache[:0]
			pagecachelog.Log.Debugf("pagecache: drained %d cache-fill reads", len(in))
		}

		for len(clist) > 0 {
			req := clist[len(clist)-1]
			clist = clist[:len(clist)-1]

			lk := c.table.Lookup(req.Addr.Addr, false)
			if lk.State == StateValid {
				copyFromSlot(lk, req)
				c.table.Reinstall(lk.Aligned, lk.Buf)
				ops.ok(req.Cursor, req.Out)
			} else {
				// lk.State can be StateValidatable here (a failed wlistcache
				// fill leaves the pending marker at InvalidAddress, which the
				// lookup treats as available, not invalid) with lk.Buf taken
				// out of the slot: hand it back before reporting the failure
				// so the slot keeps its buffer.
				if lk.Buf != nil {
					c.table.Reinstall(lk.Aligned, lk.Buf)
				}
				ops.fail(req.Cursor, req.Out)
			}
		}
	}

	for _, req := range ops.In {
		if !c.IsCachedPageType(req.Addr.PageType) {
			wlist = append(wlist, req)
		} else {
			forEachChunk(req, pageSize, func(sub ReadRequest) {
				lk := c.table.Lookup(sub.Addr.Addr, false)
				switch lk.State {
				case StateValid:
					copyFromSlot(lk, sub)
					ops.ok(sub.Cursor, sub.Out)
					c.table.Reinstall(lk.Aligned, lk.Buf)
					c.stats.Hits.Inc()
				case StateValidatable:
					clist = append(clist, sub)
					wlistcache = append(wlistcache, wlistcacheEntry{
						aligned: lk.Aligned,
						full:    PhysicalAddress{Addr: lk.Aligned, PageType: sub.Addr.PageType, PageSize: sub.Addr.PageSize},
						buf:     lk.Buf,
					})
					c.table.MarkPending(lk.Aligned)
				case StateToBeValidated:
					clist = append(clist, sub)
				case StateInvalid:
					wlist = append(wlist, sub)
				}
			})
		}

		if len(wlist) >= Batch || len(wlistcache) >= Batch || len(clist) >= Batch {
			drain()
			if firstErr != nil {
				return firstErr
			}
		}
	}

	drain()
	return firstErr
}

// copyFromSlot copies the sub-range of lk.Buf matching req's address into
// req.Out. req.Addr.Addr always falls within [lk.Aligned, lk.Aligned+pageSize).
func copyFromSlot(lk Lookup, req ReadRequest) {
	start := uint64(req.Addr.Addr) - uint64(lk.Aligned)
	copy(req.Out, lk.Buf[start:start+uint64(len(req.Out))])
}

// CachedWrite forwards to mem.PhysWriteRawIter after invalidating every
// touched slot (write-through bypass with invalidation, not coherency).
// Invalidation happens before dispatch, so this cache never holds a slot
// still marked valid for bytes the write has already changed. Only this
// Cache's own slot table is invalidated; clones keep their own slots.
func (c *Cache) CachedWrite(mem PhysicalMemory, ops MemOps) error {
	for _, req := range ops.In {
		forEachChunk(req, c.table.PageSize(), func(sub ReadRequest) {
			c.table.Invalidate(sub.Addr.Addr, sub.Addr.PageType, c.pageTypeMask)
			c.stats.Invalidations.Inc()
		})
	}
	if err := mem.PhysWriteRawIter(ops); err != nil {
		return wrapWriteErr(err)
	}
	return nil
}
