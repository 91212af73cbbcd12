package transport

import (
	"time"

	"github.com/bits-and-blooms/bitset"
)

// dedupWindow is a sliding bitmask of the most recently accepted
// reliable-packet nonces, grounded on the teacher's sliding
// presence/dedup bitsets (go.mod pulls in bits-and-blooms/bitset for
// exactly this shape of "have I seen N already" tracking). It answers
// two questions for an inbound nonce: is it a duplicate, and is it too
// far behind the newest nonce seen to still be worth delivering. The
// peer acks every reliable nonce before asking.
type dedupWindow struct {
	size    uint
	bits    *bitset.BitSet
	highest uint16
	primed  bool
}

func newDedupWindow(size uint) *dedupWindow {
	return &dedupWindow{size: size, bits: bitset.New(size)}
}

// accept reports whether nonce is new (not previously seen and not
// older than the window) and records it as seen if so.
func (w *dedupWindow) accept(nonce uint16) bool {
	if !w.primed {
		w.primed = true
		w.highest = nonce
		w.bits.Set(0)
		return true
	}

	relative := int32(int16(w.highest - nonce)) // >0: nonce is older, <0: nonce is newer
	switch {
	case relative < 0:
		shift := uint(-relative)
		w.shiftForward(shift)
		w.highest = nonce
		w.bits.Set(0)
		return true
	case relative == 0:
		if w.bits.Test(0) {
			return false
		}
		w.bits.Set(0)
		return true
	default:
		if uint(relative) >= w.size {
			return false
		}
		idx := uint(relative)
		if w.bits.Test(idx) {
			return false
		}
		w.bits.Set(idx)
		return true
	}
}

// shiftForward moves every tracked bit "older" by shift positions,
// dropping whatever falls off the end of the window.
func (w *dedupWindow) shiftForward(shift uint) {
	if shift >= w.size {
		w.bits.ClearAll()
		return
	}
	next := bitset.New(w.size)
	for i := w.size - 1; i >= shift; i-- {
		if w.bits.Test(i - shift) {
			next.Set(i)
		}
		if i == shift {
			break
		}
	}
	w.bits = next
}

// retransmitBaseDelay and retransmitMaxDelay implement spec.md §4.2's
// exponential backoff: 1s, 2s, 2s, 2s, 2s (capped), giving up after
// retransmitMaxAttempts failed tries.
const (
	retransmitBaseDelay    = 1 * time.Second
	retransmitMaxDelay     = 2 * time.Second
	retransmitMaxAttempts  = 5
)

func retransmitDelay(attempt int) time.Duration {
	d := retransmitBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= retransmitMaxDelay {
			return retransmitMaxDelay
		}
	}
	return d
}

// pendingSend tracks one unacked reliable packet awaiting retransmission.
type pendingSend struct {
	nonce     uint16
	packet    []byte
	attempts  int
	sentAt    time.Time
	nextRetry time.Time
}

// rttEstimator is the standard exponentially-weighted moving average
// used by the teacher's RTT-sensitive ping accounting (0.875 old /
// 0.125 new weighting, the same constants TCP's RTT smoothing uses).
type rttEstimator struct {
	value time.Duration
	set   bool
}

func (e *rttEstimator) sample(d time.Duration) {
	if !e.set {
		e.value = d
		e.set = true
		return
	}
	e.value = time.Duration(float64(e.value)*0.875 + float64(d)*0.125)
}

func (e *rttEstimator) get() time.Duration { return e.value }
