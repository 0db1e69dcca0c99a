package pagecache

import (
	"time"

	"github.com/OneOfOne/xxhash"
	"go.uber.org/atomic"
)

// CacheValidator is the contract a SlotTable delegates freshness/expiry
// decisions to. AllocateSlots must be called exactly once, synchronously,
// before any other method — NewSlotTable guarantees this for the table's
// validator and SlotTable.Clone for the fresh validator it is given;
// nothing else should call it.
type CacheValidator interface {
	// AllocateSlots is a one-time sizing hook called from the slot
	// table constructor.
	AllocateSlots(n int)
	// IsSlotValid is a pure query: does slot i still hold fresh content?
	IsSlotValid(i int) bool
	// ValidateSlot records that slot i is now fresh. buf is the page
	// that was just installed, for validators (e.g. checksum-based)
	// that need to inspect the bytes.
	ValidateSlot(i int, buf []byte)
	// InvalidateSlot records that slot i is stale.
	InvalidateSlot(i int)
}

// AlwaysValidValidator never expires a slot once validated. Useful for
// tests and for workloads where the cache's own write-invalidation is
// the only freshness signal that matters.
type AlwaysValidValidator struct {
	valid []atomic.Bool
}

// NewAlwaysValidValidator returns a CacheValidator that never expires slots.
func NewAlwaysValidValidator() *AlwaysValidValidator {
	return &AlwaysValidValidator{}
}

func (v *AlwaysValidValidator) AllocateSlots(n int) {
	v.valid = make([]atomic.Bool, n)
}

func (v *AlwaysValidValidator) IsSlotValid(i int) bool {
	return v.valid[i].Load()
}

func (v *AlwaysValidValidator) ValidateSlot(i int, _ []byte) {
	v.valid[i].Store(true)
}

func (v *AlwaysValidValidator) InvalidateSlot(i int) {
	v.valid[i].Store(false)
}

// TimedCacheValidator expires a slot ttl after it was last validated.
type TimedCacheValidator struct {
	ttl     time.Duration
	stamps  []atomic.Int64 // unix nanos; 0 means never validated
}

// NewTimedCacheValidator returns a CacheValidator that expires slots ttl
// after their last validation.
func NewTimedCacheValidator(ttl time.Duration) *TimedCacheValidator {
	return &TimedCacheValidator{ttl: ttl}
}

func (v *TimedCacheValidator) AllocateSlots(n int) {
	v.stamps = make([]atomic.Int64, n)
}

func (v *TimedCacheValidator) IsSlotValid(i int) bool {
	stamp := v.stamps[i].Load()
	if stamp == 0 {
		return false
	}
	return time.Since(time.Unix(0, stamp)) < v.ttl
}

func (v *TimedCacheValidator) ValidateSlot(i int, _ []byte) {
	v.stamps[i].Store(time.Now().UnixNano())
}

func (v *TimedCacheValidator) InvalidateSlot(i int) {
	v.stamps[i].Store(0)
}

// ChecksumCacheValidator treats "fresh" as "has been validated since the
// last invalidation" and additionally keeps an xxhash64 digest of the
// bytes it was last validated with, for instrumentation and tests that
// want to detect silent corruption of a slot's resident buffer. The
// digest is not consulted by IsSlotValid: a plain freshness query has no
// new bytes to compare against — only ValidateSlot sees the buffer.
type ChecksumCacheValidator struct {
	valid    []atomic.Bool
	digests  []atomic.Uint64
}

// NewChecksumCacheValidator returns a CacheValidator that stamps each
// validated slot with an xxhash64 digest of its content.
func NewChecksumCacheValidator() *ChecksumCacheValidator {
	return &ChecksumCacheValidator{}
}

func (v *ChecksumCacheValidator) AllocateSlots(n int) {
	v.valid = make([]atomic.Bool, n)
	v.digests = make([]atomic.Uint64, n)
}

func (v *ChecksumCacheValidator) IsSlotValid(i int) bool {
	return v.valid[i].Load()
}

func (v *ChecksumCacheValidator) ValidateSlot(i int, buf []byte) {
	h := xxhash.New64()
	_, _ = h.Write(buf)
	v.digests[i].Store(h.Sum64())
	v.valid[i].Store(true)
}

func (v *ChecksumCacheValidator) InvalidateSlot(i int) {
	v.valid[i].Store(false)
}

// Digest returns the last digest recorded for slot i, for tests.
func (v *ChecksumCacheValidator) Digest(i int) uint64 {
	return v.digests[i].Load()
}
