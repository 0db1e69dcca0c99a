package pagecache

// SlotState classifies a slot relative to a query address.
type SlotState int

const (
	// StateInvalid: none of the other states apply.
	StateInvalid SlotState = iota
	// StateValid: buffer resident, address matches, validator says fresh
	// (or validation was skipped).
	StateValid
	// StateValidatable: buffer resident, no fill pending (or the pending
	// address is this one), but not currently Valid.
	StateValidatable
	// StateToBeValidated: buffer on loan, a fill for this exact address
	// is already in flight.
	StateToBeValidated
)

// Lookup is the result of SlotTable.Lookup: the aligned address the
// slot was classified against, its state, and — for Valid/Validatable —
// the buffer taken out of the slot. The caller owns Buf until it calls
// Validate, Reinstall, or CancelValidation.
type Lookup struct {
	Aligned Address
	State   SlotState
	Buf     []byte // non-nil only for StateValid / StateValidatable
}

// slot is one entry of the direct-mapped table.
type slot struct {
	address              Address
	addressOnceValidated Address
	buf                  []byte // nil while on loan
}

// SlotTable owns the contiguous page-buffer pool and the two address
// fields of every slot. It is not safe for concurrent use — callers construct
// one per worker (see Clone).
type SlotTable struct {
	pool      []byte
	slots     []slot
	pageSize  uint64
	validator CacheValidator
}

// NewSlotTable allocates slotCount = totalSize/pageSize pages of
// pageSize bytes each, all from one contiguous allocation, and calls
// validator.AllocateSlots exactly once before returning. slotCount may be
// zero (totalSize < pageSize): every Lookup then reports Invalid, i.e.
// nothing is ever cacheable — a degenerate but well-defined passthrough.
func NewSlotTable(pageSize, totalSize uint64, validator CacheValidator) *SlotTable {
	slotCount := int(totalSize / pageSize)

	t := &SlotTable{
		pool:      make([]byte, slotCount*int(pageSize)),
		slots:     make([]slot, slotCount),
		pageSize:  pageSize,
		validator: validator,
	}
	for i := range t.slots {
		t.slots[i].address = InvalidAddress
		t.slots[i].addressOnceValidated = InvalidAddress
		t.slots[i].buf = t.pool[i*int(pageSize) : (i+1)*int(pageSize)]
	}
	validator.AllocateSlots(slotCount)
	return t
}

// PageSize returns the configured page size.
func (t *SlotTable) PageSize() uint64 { return t.pageSize }

// SlotCount returns the number of slots (may be zero).
func (t *SlotTable) SlotCount() int { return len(t.slots) }

func (t *SlotTable) index(aligned Address) int {
	return int((uint64(aligned) / t.pageSize) % uint64(len(t.slots)))
}

// Lookup classifies the slot at index(addr) and, for Valid/Validatable,
// takes the buffer out of the slot (the slot holds no buffer until the
// caller returns it via Validate/Reinstall/CancelValidation).
func (t *SlotTable) Lookup(addr Address, skipValidator bool) Lookup {
	aligned := addr.AlignDown(t.pageSize)
	if len(t.slots) == 0 {
		return Lookup{Aligned: aligned, State: StateInvalid}
	}

	idx := t.index(aligned)
	s := &t.slots[idx]

	if s.buf != nil {
		buf := s.buf
		s.buf = nil

		if s.address == aligned && (skipValidator || t.validator.IsSlotValid(idx)) {
			return Lookup{Aligned: aligned, State: StateValid, Buf: buf}
		}
		if s.addressOnceValidated == aligned || s.addressOnceValidated == InvalidAddress {
			return Lookup{Aligned: aligned, State: StateValidatable, Buf: buf}
		}
		// Buffer doesn't belong to this lookup after all: hand it back
		// before reporting Invalid so the slot never loses its buffer.
		s.buf = buf
		return Lookup{Aligned: aligned, State: StateInvalid}
	}

	if s.addressOnceValidated == aligned {
		return Lookup{Aligned: aligned, State: StateToBeValidated}
	}
	return Lookup{Aligned: aligned, State: StateInvalid}
}

// Reinstall puts buf back into the slot position for aligned without
// touching address fields. Used when a caller decides not to change the
// slot's validity (e.g. after copying out of a Valid buffer).
func (t *SlotTable) Reinstall(aligned Address, buf []byte) {
	idx := t.index(aligned)
	assertf(t.slots[idx].buf == nil, "reinstall into non-empty slot %d", idx)
	t.slots[idx].buf = buf
}

// MarkPending records that a fill for aligned is now in flight, lending
// the slot's buffer out. Call this right after receiving a Validatable
// lookup and before the buffer is handed to the backing DMA.
func (t *SlotTable) MarkPending(aligned Address) {
	idx := t.index(aligned)
	t.slots[idx].addressOnceValidated = aligned
}

// Validate installs buf as the slot's validated content for aligned,
// clears the pending marker, and asks the validator to mark the slot
// fresh. aligned must already be page-aligned (see DESIGN.md's
// resolution of the cancel_validation aligned-vs-raw open question).
func (t *SlotTable) Validate(aligned Address, buf []byte) {
	idx := t.index(aligned)
	s := &t.slots[idx]
	s.address = aligned
	s.addressOnceValidated = InvalidAddress
	t.validator.ValidateSlot(idx, buf)
	t.Reinstall(aligned, buf)
}

// CancelValidation undoes a pending fill that never completed: if the
// slot's pending marker still points at aligned, both address fields are
// reset to invalid and buf is returned to the slot. Called when the
// backing DMA silently failed to report success for a wlistcache entry.
func (t *SlotTable) CancelValidation(aligned Address, buf []byte) {
	idx := t.index(aligned)
	s := &t.slots[idx]
	if s.addressOnceValidated == aligned {
		t.invalidateRaw(idx)
		t.Reinstall(aligned, buf)
	}
	// If the pending marker no longer matches, some other call (a
	// successful Validate, most likely) already reinstalled a buffer
	// into this slot; reinstalling buf too would alias two buffers onto
	// one slot, which the slot-table invariants forbid.
}

// InvalidateRaw forcibly resets both address fields for the slot owning
// aligned and asks the validator to invalidate it. The buffer, if
// resident, is left in place.
func (t *SlotTable) InvalidateRaw(aligned Address) {
	if len(t.slots) == 0 {
		return
	}
	t.invalidateRaw(t.index(aligned))
}

func (t *SlotTable) invalidateRaw(idx int) {
	t.validator.InvalidateSlot(idx)
	t.slots[idx].address = InvalidAddress
	t.slots[idx].addressOnceValidated = InvalidAddress
}

// Invalidate applies InvalidateRaw only if mask contains pageType (see
// PageType.Contains) — callers pass the cache's configured page-type mask.
func (t *SlotTable) Invalidate(addr Address, pageType, mask PageType) {
	if !mask.Contains(pageType) {
		return
	}
	t.InvalidateRaw(addr.AlignDown(t.pageSize))
}

// Clone allocates a fresh pool of identical dimensions, copies the bytes,
// but resets every address field to invalid (validator state may be
// stale in the copy) and installs newValidator, a fresh instance supplied
// by the caller, calling its AllocateSlots once. This is how an
// independent cache is handed to another worker.
func (t *SlotTable) Clone(newValidator CacheValidator) *SlotTable {
	clone := &SlotTable{
		pool:      make([]byte, len(t.pool)),
		slots:     make([]slot, len(t.slots)),
		pageSize:  t.pageSize,
		validator: newValidator,
	}
	copy(clone.pool, t.pool)
	for i := range clone.slots {
		clone.slots[i].address = InvalidAddress
		clone.slots[i].addressOnceValidated = InvalidAddress
		clone.slots[i].buf = clone.pool[i*int(t.pageSize) : (i+1)*int(t.pageSize)]
	}
	newValidator.AllocateSlots(len(clone.slots))
	return clone
}
