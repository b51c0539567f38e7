package mac

import (
	"fmt"
	"math"
	"sort"
)

// LcDemand is one active uplink logical channel competing for a grant.
type LcDemand struct {
	Lcid     uint8
	Priority uint8
	Status   BufferStatus
}

// LcAllocation is the share of a grant given to one logical channel.
type LcAllocation struct {
	Lcid  uint8
	Bytes uint32
}

// UplinkAllocator splits an uplink transport block across logical
// channels. Allocations are served in the returned order.
type UplinkAllocator interface {
	AllocateBytesPerLogicalChannel(tbSize uint32, active []LcDemand) []LcAllocation
}

func newUplinkAllocator(kind UlSchedulerKind) (UplinkAllocator, error) {
	switch kind {
	case UlSchedulerRoundRobin, UlSchedulerMaximumThroughput:
		return EqualShareAllocator{}, nil
	case UlSchedulerProportionalFair:
		return ProportionalFairAllocator{}, nil
	case UlSchedulerPriority:
		return PriorityAllocator{}, nil
	default:
		return nil, fmt.Errorf("%w: uplink scheduler %q", ErrInvalidConfig, kind)
	}
}

// EqualShareAllocator gives every active channel the same share. It backs
// both the round-robin and maximum-throughput schedulers, which grant a
// single UE and leave the split to the UE.
type EqualShareAllocator struct{}

func (EqualShareAllocator) AllocateBytesPerLogicalChannel(tbSize uint32, active []LcDemand) []LcAllocation {
	out := make([]LcAllocation, 0, len(active))
	if len(active) == 0 {
		return out
	}
	share := tbSize / uint32(len(active))
	for _, d := range active {
		out = append(out, LcAllocation{Lcid: d.Lcid, Bytes: share})
	}
	return out
}

// ProportionalFairAllocator splits by queue size when demand exceeds the
// transport block, and equally otherwise.
type ProportionalFairAllocator struct{}

func (ProportionalFairAllocator) AllocateBytesPerLogicalChannel(tbSize uint32, active []LcDemand) []LcAllocation {
	out := make([]LcAllocation, 0, len(active))
	if len(active) == 0 {
		return out
	}
	var total uint64
	for _, d := range active {
		total += uint64(d.Status.TxQueue)
	}
	for _, d := range active {
		share := tbSize / uint32(len(active))
		if total > uint64(tbSize) {
			share = uint32(math.Floor(float64(d.Status.TxQueue) / float64(total) * float64(tbSize)))
		}
		out = append(out, LcAllocation{Lcid: d.Lcid, Bytes: share})
	}
	return out
}

// PriorityAllocator serves channels in ascending priority value, each up to
// everything it has queued, until the transport block is used up.
type PriorityAllocator struct{}

func (PriorityAllocator) AllocateBytesPerLogicalChannel(tbSize uint32, active []LcDemand) []LcAllocation {
	ordered := append([]LcDemand(nil), active...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	out := make([]LcAllocation, 0, len(ordered))
	remaining := tbSize
	for _, d := range ordered {
		share := min(remaining, d.Status.total())
		remaining -= share
		out = append(out, LcAllocation{Lcid: d.Lcid, Bytes: share})
	}
	return out
}
