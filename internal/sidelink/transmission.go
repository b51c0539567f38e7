package sidelink

import (
	"fmt"

	"github.com/signalsfoundry/sidelink-mac/model"
)

// SchedulingType selects who assigns resources inside a pool.
type SchedulingType int

const (
	UeSelected SchedulingType = iota
	Scheduled
)

func (t SchedulingType) String() string {
	switch t {
	case UeSelected:
		return "ue_selected"
	case Scheduled:
		return "scheduled"
	default:
		return "unknown"
	}
}

// ParseSchedulingType accepts "ue_selected" or "scheduled".
func ParseSchedulingType(s string) (SchedulingType, error) {
	switch s {
	case "ue_selected", "ue-selected", "UE_SELECTED", "":
		return UeSelected, nil
	case "scheduled", "SCHEDULED":
		return Scheduled, nil
	default:
		return UeSelected, fmt.Errorf("%w: unknown scheduling type %q", ErrInvalidPool, s)
	}
}

// TransmissionInfo is one concrete transmission slot.
type TransmissionInfo struct {
	Subframe model.SubframeInfo
	RbStart  uint16
	RbLen    uint16
	// Retx marks the blind retransmission of a HARQ pair.
	Retx bool
}

// Overlaps reports whether the RB ranges of t and o intersect.
func (t TransmissionInfo) Overlaps(o TransmissionInfo) bool {
	return rbOverlap(t.RbStart, t.RbLen, o.RbStart, o.RbLen)
}

func rbOverlap(aStart, aLen, bStart, bLen uint16) bool {
	aEnd := int(aStart) + int(aLen)
	bEnd := int(bStart) + int(bLen)
	return int(aStart) < bEnd && int(bStart) < aEnd
}
