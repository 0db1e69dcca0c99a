package pagecache

import (
	"os"

	jerrors "github.com/juju/errors"
)

// debugChecks gates the slot-misuse invariant assertions. It is read
// once at package init from PAGECACHE_DEBUG rather than parsed per call,
// since none of this is a hot-path config concern.
var debugChecks = os.Getenv("PAGECACHE_DEBUG") != ""

// ErrDMARead is returned when the backing DMA source fails during the
// wlist or wlistcache drain of a cached_read batch.
var ErrDMARead = jerrors.New("pagecache: backing DMA read failed")

// ErrDMAWrite is returned when a write passthrough to the backing DMA
// source fails. The touched slot is left invalidated either way.
var ErrDMAWrite = jerrors.New("pagecache: backing DMA write failed")

func wrapReadErr(err error) error {
	if err == nil {
		return nil
	}
	return jerrors.Annotatef(err, "%s", ErrDMARead.Error())
}

func wrapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	return jerrors.Annotatef(err, "%s", ErrDMAWrite.Error())
}

// assertf panics with a SlotMisuse-flavored message when debugChecks is
// enabled and cond is false. Invariant breaches are bugs, not recoverable
// runtime conditions, so this is a panic in debug builds rather than an
// error return; builds with PAGECACHE_DEBUG unset pay nothing and leave
// the breach as undefined behavior.
func assertf(cond bool, format string, args ...interface{}) {
	if !debugChecks || cond {
		return
	}
	panic(jerrors.Errorf("pagecache: SlotMisuse: "+format, args...))
}
