package pagecache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/pagecache"
	"github.com/zhukovaskychina/pagecache/memsource"
)

func timedValidator(ttl time.Duration) func() pagecache.CacheValidator {
	return func() pagecache.CacheValidator {
		return pagecache.NewTimedCacheValidator(ttl)
	}
}

func readAll(t *testing.T, c *pagecache.Cache, mem pagecache.PhysicalMemory, addr pagecache.PhysicalAddress, n int) []byte {
	t.Helper()
	out := make([]byte, n)
	failed := false
	err := c.CachedRead(mem, pagecache.MemOps{
		In: []pagecache.ReadRequest{{Addr: addr, Out: out}},
		OnFail: func(interface{}, []byte) {
			failed = true
		},
	})
	require.NoError(t, err)
	require.False(t, failed)
	return out
}

// S1: cache_phys_mem
func TestCachePhysMem(t *testing.T) {
	dummy := memsource.NewDummy(16 << 20)

	bufStart := make([]byte, 64)
	for i := range bufStart {
		bufStart[i] = byte(i % 256)
	}
	dummy.WriteAt(0x5323, bufStart)

	c := pagecache.New(0x1000, 2<<20, pagecache.PagePageTable|pagecache.PageReadOnly, timedValidator(100*time.Second))

	addr := pagecache.PhysicalAddress{Addr: 0x5323, PageType: pagecache.PageReadOnly, PageSize: 0x1000}
	got := readAll(t, c, dummy, addr, 64)

	assert.Equal(t, bufStart, got)
}

// S2: cache_phys_mem_diffpages
func TestCachePhysMemDiffPages(t *testing.T) {
	dummy := memsource.NewDummy(16 << 20)

	bufStart := make([]byte, 64)
	for i := range bufStart {
		bufStart[i] = byte(i % 256)
	}
	dummy.WriteAt(0x5323, bufStart)

	c := pagecache.New(0x10, 0x10, pagecache.PagePageTable|pagecache.PageReadOnly, timedValidator(100*time.Second))

	addr1 := pagecache.PhysicalAddress{Addr: 0x5323, PageType: pagecache.PageReadOnly, PageSize: 0x1000}
	addr2 := pagecache.PhysicalAddress{Addr: 0x5323, PageType: pagecache.PageReadOnly, PageSize: 0x100}

	buf1 := readAll(t, c, dummy, addr1, 64)
	assert.Equal(t, bufStart, buf1)

	buf2 := readAll(t, c, dummy, addr2, 64)
	assert.Equal(t, buf1, buf2)

	buf3 := readAll(t, c, dummy, addr2, 64)
	assert.Equal(t, buf2, buf3)
}

// S3: cache_phys_mem_overlap
func TestCachePhysMemOverlap(t *testing.T) {
	dummy := memsource.NewDummy(16 << 20)

	const bufSize = 8 << 10
	bufStart := make([]byte, bufSize)
	for i := range bufStart {
		bufStart[i] = byte((i / 115) % 256)
	}
	dummy.WriteAt(0, bufStart)

	c := pagecache.New(0x1000, 4<<10, pagecache.PagePageTable|pagecache.PageReadOnly, timedValidator(100*time.Second))

	addr := pagecache.PhysicalAddress{Addr: 0, PageType: pagecache.PageReadOnly, PageSize: 0x1000}
	buf1 := readAll(t, c, dummy, addr, bufSize)
	require.Equal(t, bufStart, buf1)

	buf1b := readAll(t, c, dummy, addr, bufSize)
	assert.Equal(t, bufStart, buf1b)

	addr2 := pagecache.PhysicalAddress{Addr: 0x1000, PageType: pagecache.PageReadOnly, PageSize: 0x1000}
	buf2 := readAll(t, c, dummy, addr2, bufSize)

	assert.Equal(t, buf1b[0x1000:], buf2[:0x1000])
}

// S4: cache_invalidity_cached — a write that bypasses the cache must not
// be observed by the next cached read when the written page type is
// still within the mask (cache coherency is the cache's own job).
func TestCacheInvalidityCached(t *testing.T) {
	dummy := memsource.NewDummy(64 << 20)
	bufStart := make([]byte, 64)
	for i := range bufStart {
		bufStart[i] = byte(i % 256)
	}
	dummy.WriteAt(0x1000, bufStart)

	mask := pagecache.PagePageTable | pagecache.PageReadOnly | pagecache.PageWriteable
	c := pagecache.New(0x1000, 2<<20, mask, timedValidator(100*time.Second))

	addr := pagecache.PhysicalAddress{Addr: 0x1000, PageType: pagecache.PageWriteable, PageSize: 0x1000}
	cached := readAll(t, c, dummy, addr, 64)
	require.Equal(t, bufStart, cached)

	writeBuf := append([]byte(nil), cached...)
	writeBuf[16] = 0xFF
	writeBuf[17] = 0xFF
	writeBuf[18] = 0xFF
	writeBuf[19] = 0xFF
	dummy.WriteAt(0x1000+16, writeBuf[16:20]) // bypasses the cache

	check := readAll(t, c, dummy, addr, 64)
	assert.Equal(t, cached, check)
	assert.NotEqual(t, writeBuf, check)
}

// S5: cache_invalidity_non_cached — same write, but the page type falls
// outside the mask, so every read passes through and observes the write.
func TestCacheInvalidityNonCached(t *testing.T) {
	dummy := memsource.NewDummy(64 << 20)
	bufStart := make([]byte, 64)
	for i := range bufStart {
		bufStart[i] = byte(i % 256)
	}
	dummy.WriteAt(0x1000, bufStart)

	mask := pagecache.PagePageTable | pagecache.PageReadOnly
	c := pagecache.New(0x1000, 2<<20, mask, timedValidator(100*time.Second))

	addr := pagecache.PhysicalAddress{Addr: 0x1000, PageType: pagecache.PageWriteable, PageSize: 0x1000}
	cached := readAll(t, c, dummy, addr, 64)
	require.Equal(t, bufStart, cached)

	writeBuf := append([]byte(nil), cached...)
	writeBuf[16] = 0xFF
	writeBuf[17] = 0xFF
	writeBuf[18] = 0xFF
	writeBuf[19] = 0xFF
	dummy.WriteAt(0x1000+16, writeBuf[16:20])

	check := readAll(t, c, dummy, addr, 64)
	assert.NotEqual(t, cached, check)
	assert.Equal(t, writeBuf, check)
}

// S6: writeback — CachedWrite must invalidate the touched slot so the
// subsequent cached read observes the new bytes.
func TestWriteback(t *testing.T) {
	dummy := memsource.NewDummy(16 << 20)
	bufStart := make([]byte, 64)
	for i := range bufStart {
		bufStart[i] = byte(i % 256)
	}
	dummy.WriteAt(0x2000, bufStart)

	mask := pagecache.PagePageTable | pagecache.PageReadOnly
	c := pagecache.New(0x1000, 2<<20, mask, timedValidator(100*time.Second))

	addr := pagecache.PhysicalAddress{Addr: 0x2000, PageType: pagecache.PageReadOnly, PageSize: 0x1000}
	buf1 := readAll(t, c, dummy, addr, 64)
	require.Equal(t, bufStart, buf1)

	newBytes := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	writeAddr := pagecache.PhysicalAddress{Addr: 0x2010, PageType: pagecache.PageReadOnly, PageSize: 0x1000}
	err := c.CachedWrite(dummy, pagecache.MemOps{
		In: []pagecache.ReadRequest{{Addr: writeAddr, Out: newBytes}},
	})
	require.NoError(t, err)

	buf2 := readAll(t, c, dummy, addr, 64)
	assert.Equal(t, newBytes, buf2[16:20])
	assert.NotEqual(t, bufStart, buf2)

	buf3 := readAll(t, c, dummy, addr, 64)
	assert.Equal(t, buf2, buf3)
}

// S7: cloned_validity — a clone must return current memory, not a
// snapshot of the original's cached state.
func TestClonedValidity(t *testing.T) {
	dummy := memsource.NewDummy(1 << 20)
	cmpBuf := make([]byte, 16)
	for i := range cmpBuf {
		cmpBuf[i] = 143
	}
	dummy.WriteAt(0, cmpBuf)

	c := pagecache.New(0x1000, 2<<20, pagecache.PageUnknown, timedValidator(100*time.Second))

	addr := pagecache.PhysicalAddress{Addr: 0, PageType: pagecache.PageUnknown, PageSize: 0x1000}
	got := readAll(t, c, dummy, addr, 16)
	assert.Equal(t, cmpBuf, got)

	clone := c.Clone()
	gotClone := readAll(t, clone, dummy, addr, 16)
	assert.Equal(t, cmpBuf, gotClone)
}

// P4: non-cacheable passthrough — output matches a direct DMA read and
// the cache's internal state is untouched (verified indirectly: a
// second read against a *different* dummy state would differ if the
// first read had cached it).
func TestNonCacheablePassthrough(t *testing.T) {
	dummy := memsource.NewDummy(1 << 20)
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	dummy.WriteAt(0x100, data)

	c := pagecache.New(0x1000, 2<<20, pagecache.PageReadOnly, timedValidator(100*time.Second))

	addr := pagecache.PhysicalAddress{Addr: 0x100, PageType: pagecache.PageWriteable, PageSize: 0x1000}
	got := readAll(t, c, dummy, addr, len(data))
	assert.Equal(t, data, got)

	dummy.WriteAt(0x100, []byte{9, 9, 9, 9, 9, 9, 9, 9})
	got2 := readAll(t, c, dummy, addr, len(data))
	assert.Equal(t, []byte{9, 9, 9, 9, 9, 9, 9, 9}, got2)
}

// P6: batch boundary idempotence — splitting one big request into many
// single-byte requests must produce identical bytes.
func TestBatchBoundaryIdempotence(t *testing.T) {
	dummy := memsource.NewDummy(1 << 20)
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	dummy.WriteAt(0x4000, data)

	mask := pagecache.PageReadOnly
	whole := pagecache.New(0x1000, 2<<20, mask, timedValidator(100*time.Second))
	wholeBuf := readAll(t, whole, dummy, pagecache.PhysicalAddress{Addr: 0x4000, PageType: mask, PageSize: 0x1000}, len(data))

	piecewise := pagecache.New(0x1000, 2<<20, mask, timedValidator(100*time.Second))
	pieceBuf := make([]byte, len(data))
	for i := range data {
		sub := pieceBuf[i : i+1]
		err := piecewise.CachedRead(dummy, pagecache.MemOps{
			In: []pagecache.ReadRequest{{
				Addr: pagecache.PhysicalAddress{Addr: pagecache.Address(0x4000 + i), PageType: mask, PageSize: 0x1000},
				Out:  sub,
			}},
		})
		require.NoError(t, err)
	}

	assert.Equal(t, wholeBuf, pieceBuf)
}

// Degenerate slot table: total_size < page_size means slotCount == 0 and
// every request passes through uncached.
func TestZeroSlotCountPassesThrough(t *testing.T) {
	dummy := memsource.NewDummy(1 << 20)
	data := []byte{5, 6, 7, 8}
	dummy.WriteAt(0x10, data)

	c := pagecache.New(0x1000, 0x10, pagecache.PageReadOnly, timedValidator(100*time.Second))
	got := readAll(t, c, dummy, pagecache.PhysicalAddress{Addr: 0x10, PageType: pagecache.PageReadOnly, PageSize: 0x1000}, len(data))
	assert.Equal(t, data, got)
}

// recordingMem is a PhysicalMemory that records the size of each batch
// handed to PhysReadRawIter, so tests can assert on how many times — and
// with how many entries — the engine actually called out to the backing
// source within one CachedRead.
type recordingMem struct {
	buf   []byte
	calls []int
}

func (m *recordingMem) PhysReadRawIter(ops pagecache.MemOps) error {
	m.calls = append(m.calls, len(ops.In))
	for _, req := range ops.In {
		start := uint64(req.Addr.Addr)
		if start+uint64(len(req.Out)) > uint64(len(m.buf)) {
			if ops.OnFail != nil {
				ops.OnFail(req.Cursor, req.Out)
			}
			continue
		}
		copy(req.Out, m.buf[start:start+uint64(len(req.Out))])
		if ops.OnOK != nil {
			ops.OnOK(req.Cursor, req.Out)
		}
	}
	return nil
}

func (m *recordingMem) PhysWriteRawIter(ops pagecache.MemOps) error {
	return nil
}

// A single CachedRead call carrying more than Batch non-cacheable
// requests must drain wlist mid-loop instead of accumulating all of them
// until the end-of-input drain — the two backing calls it produces are
// sized Batch and the remainder, not one call sized len(ops.In).
func TestWlistDrainsMidBatch(t *testing.T) {
	const n = 100
	mem := &recordingMem{buf: make([]byte, n)}

	c := pagecache.New(0x1000, 2<<20, pagecache.PageReadOnly, timedValidator(100*time.Second))

	var reqs []pagecache.ReadRequest
	outs := make([][]byte, n)
	for i := 0; i < n; i++ {
		outs[i] = make([]byte, 1)
		reqs = append(reqs, pagecache.ReadRequest{
			Addr: pagecache.PhysicalAddress{Addr: pagecache.Address(i), PageType: pagecache.PageWriteable, PageSize: 0x1000},
			Out:  outs[i],
		})
	}

	var fails int
	err := c.CachedRead(mem, pagecache.MemOps{
		In:     reqs,
		OnFail: func(interface{}, []byte) { fails++ },
	})
	require.NoError(t, err)
	assert.Equal(t, 0, fails)
	assert.Equal(t, []int{pagecache.Batch, n - pagecache.Batch}, mem.calls)
}

// A single CachedRead call that fills more than Batch distinct,
// never-before-seen cacheable pages must likewise drain wlistcache
// mid-loop rather than batching the whole input into one backing call.
func TestWlistcacheDrainsMidBatch(t *testing.T) {
	const n = 70
	const pageSize = 0x1000
	mem := &recordingMem{buf: make([]byte, n*pageSize)}

	// slotCount = 128 distinct slots: large enough that addresses
	// 0, pageSize, 2*pageSize, ... (n-1)*pageSize never collide, so every
	// one of them is a genuine first-time Validatable miss.
	c := pagecache.New(pageSize, 128*pageSize, pagecache.PageReadOnly, timedValidator(100*time.Second))

	var reqs []pagecache.ReadRequest
	outs := make([][]byte, n)
	for i := 0; i < n; i++ {
		outs[i] = make([]byte, 4)
		reqs = append(reqs, pagecache.ReadRequest{
			Addr: pagecache.PhysicalAddress{Addr: pagecache.Address(i * pageSize), PageType: pagecache.PageReadOnly, PageSize: pageSize},
			Out:  outs[i],
		})
	}

	var fails int
	err := c.CachedRead(mem, pagecache.MemOps{
		In:     reqs,
		OnFail: func(interface{}, []byte) { fails++ },
	})
	require.NoError(t, err)
	assert.Equal(t, 0, fails)
	assert.Equal(t, []int{pagecache.Batch, n - pagecache.Batch}, mem.calls)
}

// A miss reported through OnFail does not abort the rest of the batch.
func TestPerRequestFailureDoesNotAbortBatch(t *testing.T) {
	dummy := memsource.NewDummy(0x2000)
	data := []byte{1, 2, 3, 4}
	dummy.WriteAt(0x10, data)

	c := pagecache.New(0x1000, 2<<20, pagecache.PageReadOnly, timedValidator(100*time.Second))

	outGood := make([]byte, 4)
	outBad := make([]byte, 4)
	var oks, fails int

	err := c.CachedRead(dummy, pagecache.MemOps{
		In: []pagecache.ReadRequest{
			{Addr: pagecache.PhysicalAddress{Addr: 0x10, PageType: pagecache.PageReadOnly, PageSize: 0x1000}, Out: outGood},
			{Addr: pagecache.PhysicalAddress{Addr: 0x10000, PageType: pagecache.PageReadOnly, PageSize: 0x1000}, Out: outBad},
		},
		OnOK:   func(interface{}, []byte) { oks++ },
		OnFail: func(interface{}, []byte) { fails++ },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, oks)
	assert.Equal(t, 1, fails)
	assert.Equal(t, data, outGood)
}
