package mac

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

// maxRetxGap bounds the distance between a transmission and its blind
// retransmission, in subframes.
const maxRetxGap = 15

// reselectionRange returns the inclusive range the reselection counter is
// drawn from for a reservation period.
func reselectionRange(pRsvp uint16) (lo, hi int, err error) {
	switch {
	case pRsvp == 20:
		return 25, 75, nil
	case pRsvp == 50:
		return 10, 30, nil
	case pRsvp >= 100 && pRsvp <= 1000 && pRsvp%100 == 0:
		return 5, 15, nil
	default:
		return 0, 0, fmt.Errorf("%w: %d ms", ErrInvalidReservationPeriod, pRsvp)
	}
}

func reselectionCounter(pRsvp uint16, rng *randomStream) (int, error) {
	lo, hi, err := reselectionRange(pRsvp)
	if err != nil {
		return 0, err
	}
	return rng.intRange(lo, hi), nil
}

type retxChoice struct {
	tx    sidelink.TransmissionInfo
	gap   uint8
	index uint8
}

// findRetransmission looks for opportunities within maxRetxGap subframes
// of initial and picks one uniformly. Index 0 means the retransmission
// follows the initial transmission, 1 that it precedes it.
func findRetransmission(initial model.SubframeInfo, opps []sidelink.TransmissionInfo, rng *randomStream) (retxChoice, bool) {
	var matches []retxChoice
	for _, o := range opps {
		ahead := o.Subframe.Diff(initial)
		behind := initial.Diff(o.Subframe)
		switch {
		case ahead >= 1 && ahead <= maxRetxGap:
			matches = append(matches, retxChoice{tx: o, gap: uint8(ahead), index: 0})
		case behind >= 1 && behind <= maxRetxGap:
			matches = append(matches, retxChoice{tx: o, gap: uint8(behind), index: 1})
		}
	}
	if len(matches) == 0 {
		return retxChoice{}, false
	}
	return matches[rng.intRange(0, len(matches)-1)], true
}

// PsschRsrpThresholdFromIndex maps a threshold index to dBm. Index 0 is
// minus infinity, 66 plus infinity.
func PsschRsrpThresholdFromIndex(i int) float64 {
	switch {
	case i <= 0:
		return math.Inf(-1)
	case i >= 66:
		return math.Inf(1)
	default:
		return -128 + float64(i-1)*2
	}
}

// PsschRsrpThreshold is the starting exclusion threshold for a
// transmission of priority txPrio against a sensed one of priority rxPrio.
func PsschRsrpThreshold(txPrio, rxPrio uint8) float64 {
	return PsschRsrpThresholdFromIndex(int(txPrio)*8 + int(rxPrio) + 1)
}
