package sidelink

import (
	"fmt"
	"math/bits"
)

// trpEntry is one row of the time resource pattern table for an 8 subframe
// T-RPT: the bitmap (MSB is the first subframe) and the number of set bits.
type trpEntry struct {
	bitmap uint8
	k      int
}

// Rows are grouped by k (1, 2, 4, 8); within a group the patterns are in
// colexicographic order of their set positions.
var trpTable = buildTrpTable()

func buildTrpTable() []trpEntry {
	var table []trpEntry
	for _, k := range []int{1, 2, 4, 8} {
		for v := 0; v < 256; v++ {
			if bits.OnesCount8(uint8(v)) != k {
				continue
			}
			table = append(table, trpEntry{bitmap: bits.Reverse8(uint8(v)), k: k})
		}
	}
	return table
}

// TrpBitmap returns the 8-bit pattern for index itrp.
func TrpBitmap(itrp uint8) (uint8, error) {
	if int(itrp) >= len(trpTable) {
		return 0, fmt.Errorf("%w: index %d", ErrInvalidTrp, itrp)
	}
	return trpTable[itrp].bitmap, nil
}

// TrpK returns the number of transmissions per 8 subframes for itrp.
func TrpK(itrp uint8) (int, error) {
	if int(itrp) >= len(trpTable) {
		return 0, fmt.Errorf("%w: index %d", ErrInvalidTrp, itrp)
	}
	return trpTable[itrp].k, nil
}

// TrpRange returns the inclusive itrp range whose patterns have k bits set.
func TrpRange(k int) (lo, hi uint8, err error) {
	switch k {
	case 1:
		return 0, 7, nil
	case 2:
		return 8, 35, nil
	case 4:
		return 36, 105, nil
	case 8:
		return 106, 106, nil
	default:
		return 0, 0, fmt.Errorf("%w: k=%d", ErrInvalidTrp, k)
	}
}

// trpSubframeSet reports whether subframe i of a PSSCH subframe pool is
// used by the pattern.
func trpSubframeSet(bitmap uint8, i int) bool {
	return bitmap&(0x80>>uint(i%8)) != 0
}
