package mac

import (
	"fmt"

	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

// sensedOccurrences is how many future periods of a sensed reservation are
// considered occupied.
const sensedOccurrences = 15

// survivorRatio is the share of the raw candidate set that must survive
// exclusion and the share kept after ranking.
const survivorRatio = 0.2

type selectionParams struct {
	anchor   model.SubframeInfo
	t1, t2   uint16
	subchLen uint16
	pRsvp    uint16
	reselCtr int
	priority uint8
}

type candidateSet struct {
	all       []sidelink.TransmissionInfo
	survivors []sidelink.TransmissionInfo
	// relaxations counts the threshold increases needed.
	relaxations int
}

// thresholdFunc gives the starting RSRP threshold for a sensed record.
type thresholdFunc func(rec SensingRecord) float64

type occupancy struct {
	rec  int
	sfIx int
}

// buildCandidateSet enumerates the selection window and excludes every
// candidate whose reservations collide with a sensed reservation above the
// RSRP threshold. The threshold is raised by step until at least
// survivorRatio of the candidates remain.
func buildCandidateSet(pool *sidelink.V2xPool, records []SensingRecord, p selectionParams, threshold thresholdFunc, step float64) (candidateSet, error) {
	all, err := pool.CandidateResources(p.anchor, p.t1, p.t2, p.subchLen)
	if err != nil {
		return candidateSet{}, fmt.Errorf("buildCandidateSet: %w", err)
	}
	if len(all) == 0 {
		return candidateSet{}, fmt.Errorf("buildCandidateSet: %w", ErrNoCandidates)
	}

	// Index the projected occurrences of every sensed reservation by
	// subframe.
	occupied := make(map[int][]int)
	for i, rec := range records {
		if rec.PRsvp == 0 {
			continue
		}
		for j := 1; j <= sensedOccurrences; j++ {
			ix := rec.Subframe.Add(j * int(rec.PRsvp)).Index()
			occupied[ix] = append(occupied[ix], i)
		}
	}

	n := len(all)
	set := candidateSet{all: all}
	for {
		relax := float64(set.relaxations) * step
		set.survivors = set.survivors[:0]
		for _, c := range all {
			if !collides(c, records, occupied, p, threshold, relax) {
				set.survivors = append(set.survivors, c)
			}
		}
		if float64(len(set.survivors)) >= survivorRatio*float64(n) {
			return set, nil
		}
		set.relaxations++
	}
}

func collides(c sidelink.TransmissionInfo, records []SensingRecord, occupied map[int][]int, p selectionParams, threshold thresholdFunc, relax float64) bool {
	for k := 0; k < p.reselCtr; k++ {
		ix := c.Subframe.Add(k * int(p.pRsvp)).Index()
		for _, ri := range occupied[ix] {
			rec := records[ri]
			if rec.RsrpDbm <= threshold(rec)+relax {
				continue
			}
			if c.Overlaps(sidelink.TransmissionInfo{RbStart: rec.RbStart, RbLen: rec.RbLen}) {
				return true
			}
		}
	}
	return false
}
