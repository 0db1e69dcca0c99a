// Package pagecache implements a direct-mapped physical-page cache that
// sits between an address translator and a backing DMA source.
package pagecache

import "fmt"

// Address is a byte address in the address space the cache caches.
type Address uint64

// InvalidAddress marks a slot field that holds no address.
const InvalidAddress Address = ^Address(0)

// Valid reports whether a is a real address (not the sentinel).
func (a Address) Valid() bool {
	return a != InvalidAddress
}

// AlignDown returns a aligned down to pageSize, which must be a power of two.
func (a Address) AlignDown(pageSize uint64) Address {
	return Address(uint64(a) &^ (pageSize - 1))
}

func (a Address) String() string {
	if a == InvalidAddress {
		return "<invalid>"
	}
	return fmt.Sprintf("0x%x", uint64(a))
}

// Length is a byte count.
type Length uint64

// PageType is a bitflag set describing the role of a physical page.
type PageType uint32

const (
	// PageUnknown is the zero value: page role not known to the caller.
	PageUnknown PageType = 0
	// PagePageTable marks a page that backs part of an MMU page-table hierarchy.
	PagePageTable PageType = 1 << iota
	// PageReadOnly marks a page the translator believes is not writable.
	PageReadOnly
	// PageWriteable marks a page that may be written by the owning process.
	PageWriteable
)

// Contains reports whether every bit set in p is also set in mask —
// bitflag containment, not mere intersection. A page whose type is
// PageUnknown (the zero value, "no type info") is therefore contained by
// every mask: the empty flag set is vacuously a subset of any set.
func (mask PageType) Contains(p PageType) bool {
	return mask&p == p
}

// PhysicalAddress pairs a byte Address with the page metadata needed to
// decide cacheability and to re-align sub-requests.
type PhysicalAddress struct {
	Addr     Address
	PageType PageType
	PageSize uint64 // 0 means "no page association", only used to stamp sub-requests
}

// WithPage returns a copy of pa with a replaced address, keeping page
// type and page size.
func (pa PhysicalAddress) WithPage(addr Address) PhysicalAddress {
	pa.Addr = addr
	return pa
}
