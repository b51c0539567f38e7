package mac

import (
	"fmt"
	"sort"
)

// minTxOpportunity is the smallest opportunity worth offering to RLC.
const minTxOpportunity = 7

// BufferStatus is the last queue report of one logical channel, in bytes.
type BufferStatus struct {
	TxQueue   uint32
	RetxQueue uint32
	StatusPdu uint32
}

// Pending reports whether anything is queued.
func (b BufferStatus) Pending() bool {
	return b.TxQueue > 0 || b.RetxQueue > 0 || b.StatusPdu > 0
}

func (b BufferStatus) hasData() bool {
	return b.TxQueue > 0 || b.RetxQueue > 0
}

func (b BufferStatus) total() uint32 {
	return b.TxQueue + b.RetxQueue + b.StatusPdu
}

// DrainResult lists the bytes offered per category. At most one of Retx
// and Tx is non-zero.
type DrainResult struct {
	Status uint32
	Retx   uint32
	Tx     uint32
	// NeedsBsr is set when data remains that did not fit.
	NeedsBsr bool
}

// Drain serves a transmission opportunity of bytes from bs: status PDU
// first, then the retransmission queue, then new data. New data is charged
// overhead bytes of RLC header. It returns what was offered and the
// updated buffer status.
func Drain(bs BufferStatus, bytes, overhead uint32) (DrainResult, BufferStatus, error) {
	var res DrainResult
	if bs.StatusPdu > 0 && bytes >= bs.StatusPdu {
		res.Status = bs.StatusPdu
		bytes -= bs.StatusPdu
		bs.StatusPdu = 0
	} else if bs.StatusPdu > bytes {
		return res, bs, fmt.Errorf("%w: status PDU of %d bytes, %d available", ErrInsufficientTxOpportunity, bs.StatusPdu, bytes)
	}

	switch {
	case bytes > minTxOpportunity && bs.RetxQueue > 0:
		res.Retx = bytes
		bs.RetxQueue = saturatingSub(bs.RetxQueue, bytes)
	case bytes > minTxOpportunity && bs.TxQueue > 0:
		res.Tx = bytes
		bs.TxQueue = saturatingSub(bs.TxQueue, bytes-overhead)
	case bs.hasData():
		res.NeedsBsr = true
	}
	return res, bs, nil
}

func saturatingSub(a, b uint32) uint32 {
	if b >= a {
		return 0
	}
	return a - b
}

// bsrTable holds the upper bound in bytes of buffer size levels 0..62.
// Level 63 covers everything above the last bound.
var bsrTable = [63]uint32{
	0, 10, 12, 14, 17, 19, 22, 26, 31, 36, 42, 49, 57, 67, 78, 91,
	107, 125, 146, 171, 200, 234, 274, 321, 376, 440, 515, 603, 706, 826, 967, 1132,
	1326, 1552, 1817, 2127, 2490, 2915, 3413, 3995, 4677, 5476, 6411, 7505, 8787, 10287, 12043, 14099,
	16507, 19325, 22624, 26487, 31009, 36304, 42502, 49759, 58255, 68201, 79846, 93479, 109439, 128125, 150000,
}

// BufferSizeToBsrID maps a byte count to its 6-bit buffer size level.
func BufferSizeToBsrID(size uint32) uint8 {
	if size > bsrTable[len(bsrTable)-1] {
		return uint8(len(bsrTable))
	}
	i := sort.Search(len(bsrTable), func(i int) bool { return bsrTable[i] >= size })
	return uint8(i)
}
