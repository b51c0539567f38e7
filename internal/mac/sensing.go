package mac

import "github.com/signalsfoundry/sidelink-mac/model"

// sensingHorizon is how long a sensed transmission is remembered, in
// subframes (100 frames).
const sensingHorizon = 100 * model.SubframesPerFrame

// SensingRecord is one sidelink transmission observed by this UE.
type SensingRecord struct {
	// Subframe is the reception subframe.
	Subframe model.SubframeInfo
	PRsvp    uint16
	RbStart  uint16
	RbLen    uint16
	Priority uint8
	RsrpDbm  float64
	RssiDbm  float64
}

// sensingWindow keeps records in arrival order.
type sensingWindow struct {
	records []SensingRecord
}

// record stores m tagged with its reception subframe, one subframe before
// the PHY indication.
func (w *sensingWindow) record(m model.SensingMeasurement) SensingRecord {
	rec := SensingRecord{
		Subframe: m.Indication.Add(-1),
		PRsvp:    m.PRsvp,
		RbStart:  m.RbStart,
		RbLen:    m.RbLen,
		Priority: m.Priority,
		RsrpDbm:  m.RsrpDbm,
		RssiDbm:  m.RssiDbm,
	}
	w.records = append(w.records, rec)
	return rec
}

// prune drops every record older than the sensing horizon at now and
// returns how many were removed.
func (w *sensingWindow) prune(now model.SubframeInfo) int {
	kept := w.records[:0]
	for _, rec := range w.records {
		if now.Diff(rec.Subframe) <= sensingHorizon {
			kept = append(kept, rec)
		}
	}
	removed := len(w.records) - len(kept)
	clear(w.records[len(kept):])
	w.records = kept
	return removed
}

func (w *sensingWindow) len() int { return len(w.records) }

func (w *sensingWindow) snapshot() []SensingRecord {
	return append([]SensingRecord(nil), w.records...)
}
