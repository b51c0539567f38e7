package mac

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
)

const (
	// rssiLookback is the number of earlier 100 ms occurrences averaged.
	rssiLookback = 10
	// unknownRssiDbm stands in for a candidate with no energy samples.
	unknownRssiDbm = -200.0
)

type rankedCandidate struct {
	tx   sidelink.TransmissionInfo
	rssi float64
}

// averageRssi averages the RSSI sensed on the candidate's RBs at each of the
// preceding occurrences spaced 100 ms apart.
func averageRssi(c sidelink.TransmissionInfo, records []SensingRecord) float64 {
	var samples []float64
	for i := 1; i <= rssiLookback; i++ {
		at := c.Subframe.Add(-100 * i)
		for _, rec := range records {
			if rec.Subframe == at && rec.RbStart == c.RbStart {
				samples = append(samples, rec.RssiDbm)
				break
			}
		}
	}
	if len(samples) == 0 {
		return unknownRssiDbm
	}
	return stat.Mean(samples, nil)
}

// rankCandidates shuffles the survivors, orders them by average RSSI and
// keeps the quietest survivorRatio*total of them.
func rankCandidates(survivors []sidelink.TransmissionInfo, total int, records []SensingRecord, rng *randomStream) []sidelink.TransmissionInfo {
	pending := make([]rankedCandidate, 0, len(survivors))
	for _, c := range survivors {
		pending = append(pending, rankedCandidate{tx: c, rssi: averageRssi(c, records)})
	}

	shuffled := make([]rankedCandidate, 0, len(pending))
	for len(pending) > 0 {
		i := rng.intRange(0, len(pending)-1)
		shuffled = append(shuffled, pending[i])
		pending = append(pending[:i], pending[i+1:]...)
	}
	sort.SliceStable(shuffled, func(i, j int) bool {
		return shuffled[i].rssi < shuffled[j].rssi
	})

	var out []sidelink.TransmissionInfo
	for _, rc := range shuffled {
		if float64(len(out)) >= survivorRatio*float64(total) {
			break
		}
		out = append(out, rc.tx)
	}
	return out
}
