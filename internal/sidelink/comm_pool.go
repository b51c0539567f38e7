package sidelink

import (
	"fmt"
	"sort"

	"github.com/signalsfoundry/sidelink-mac/model"
)

// validScPeriods are the sidelink control periods allowed by the standard.
var validScPeriods = map[uint32]bool{40: true, 60: true, 70: true, 80: true, 120: true, 140: true, 160: true, 240: true, 280: true, 320: true}

// CommPoolConfig describes a legacy (mode 1/2) sidelink communication pool.
type CommPoolConfig struct {
	Scheduling SchedulingType
	PeriodMs   uint32
	ScOffset   uint32

	// ScBitmap selects PSCCH subframes from the period start, as a string
	// of '0' and '1'.
	ScBitmap   string
	ScPrbStart uint16
	ScPrbEnd   uint16
	ScPrbNum   uint16

	// DataOffset and DataBitmap select the UE-selected PSSCH subframe pool.
	DataOffset   uint32
	DataBitmap   string
	DataPrbStart uint16
	DataPrbEnd   uint16
	DataPrbNum   uint16

	// TrptSubset lists the k values (1, 2, 4) a UE may pick from. Empty
	// means all of them. k=8 is always allowed.
	TrptSubset []int

	Index uint8
	Mcs   uint8
}

// CommPool exposes the geometry of a legacy communication pool.
type CommPool struct {
	cfg CommPoolConfig

	lpscch  []uint32 // PSCCH subframe offsets within the period
	rbPscch []uint16
	lpssch  []uint32 // PSSCH subframe offsets within the period
	rbPssch map[uint16]bool
}

// NewCommPool validates cfg and precomputes the subframe and RB vectors.
func NewCommPool(cfg CommPoolConfig) (*CommPool, error) {
	if !validScPeriods[cfg.PeriodMs] {
		return nil, fmt.Errorf("NewCommPool: %w: SC period %d ms", ErrInvalidPool, cfg.PeriodMs)
	}
	if cfg.ScOffset >= model.SubframesPerCycle {
		return nil, fmt.Errorf("NewCommPool: %w: SC offset %d", ErrInvalidPool, cfg.ScOffset)
	}
	sc, err := parseBitmap(cfg.ScBitmap)
	if err != nil {
		return nil, fmt.Errorf("NewCommPool: control bitmap: %w", err)
	}
	if uint32(len(sc)) > cfg.PeriodMs {
		return nil, fmt.Errorf("NewCommPool: %w: control bitmap longer than period", ErrInvalidPool)
	}

	p := &CommPool{cfg: cfg, rbPssch: map[uint16]bool{}}
	for i, set := range sc {
		if set {
			p.lpscch = append(p.lpscch, uint32(i))
		}
	}
	if len(p.lpscch) < 2 {
		return nil, fmt.Errorf("NewCommPool: %w: need at least two PSCCH subframes", ErrInvalidPool)
	}
	p.rbPscch = edgeRbs(cfg.ScPrbStart, cfg.ScPrbEnd, cfg.ScPrbNum)
	if len(p.rbPscch) < 2 {
		return nil, fmt.Errorf("NewCommPool: %w: need at least two PSCCH RBs", ErrInvalidPool)
	}
	for _, rb := range edgeRbs(cfg.DataPrbStart, cfg.DataPrbEnd, cfg.DataPrbNum) {
		p.rbPssch[rb] = true
	}

	switch cfg.Scheduling {
	case Scheduled:
		for i := p.lpscch[len(p.lpscch)-1] + 1; i < cfg.PeriodMs; i++ {
			p.lpssch = append(p.lpssch, i)
		}
	default:
		data, err := parseBitmap(cfg.DataBitmap)
		if err != nil {
			return nil, fmt.Errorf("NewCommPool: data bitmap: %w", err)
		}
		for i := cfg.DataOffset; i < cfg.PeriodMs; i++ {
			if data[int(i-cfg.DataOffset)%len(data)] {
				p.lpssch = append(p.lpssch, i)
			}
		}
	}
	for _, k := range cfg.TrptSubset {
		if k != 1 && k != 2 && k != 4 {
			return nil, fmt.Errorf("NewCommPool: %w: T-RPT subset k=%d", ErrInvalidPool, k)
		}
	}
	return p, nil
}

// Config returns the pool configuration.
func (p *CommPool) Config() CommPoolConfig { return p.cfg }

// SchedulingType returns the pool's scheduling mode.
func (p *CommPool) SchedulingType() SchedulingType { return p.cfg.Scheduling }

// NumPscchResources is the number of distinct PSCCH resources per period.
func (p *CommPool) NumPscchResources() int {
	return len(p.lpscch) * len(p.rbPscch) / 2
}

// TrpAllowed reports whether the pool lets a UE pick patterns with k bits.
func (p *CommPool) TrpAllowed(k int) bool {
	if k == 8 || len(p.cfg.TrptSubset) == 0 {
		return true
	}
	for _, v := range p.cfg.TrptSubset {
		if v == k {
			return true
		}
	}
	return false
}

// CurrentPeriod returns the first subframe of the SC period containing sf.
func (p *CommPool) CurrentPeriod(sf model.SubframeInfo) model.SubframeInfo {
	return model.SubframeFromIndex(p.periodStartIndex(sf.Index()))
}

// NextPeriod returns the first subframe of the SC period following the one
// containing sf. Periods restart at the offset when the frame counter wraps.
func (p *CommPool) NextPeriod(sf model.SubframeInfo) model.SubframeInfo {
	next := p.periodStartIndex(sf.Index()) + int(p.cfg.PeriodMs)
	if next >= model.SubframesPerCycle {
		next = int(p.cfg.ScOffset)
	}
	return model.SubframeFromIndex(next)
}

func (p *CommPool) periodStartIndex(i int) int {
	off := int(p.cfg.ScOffset)
	period := int(p.cfg.PeriodMs)
	if i < off {
		// Still inside the last period of the previous cycle.
		lastK := (model.SubframesPerCycle - 1 - off) / period
		return off + lastK*period - model.SubframesPerCycle
	}
	return off + (i-off)/period*period
}

// PscchTransmissions returns the two PSCCH transmissions of resource n in
// the period starting at periodStart, ordered by time.
func (p *CommPool) PscchTransmissions(periodStart model.SubframeInfo, n int) ([]TransmissionInfo, error) {
	if n < 0 || n >= p.NumPscchResources() {
		return nil, fmt.Errorf("PscchTransmissions: %w: %d of %d", ErrInvalidPscchResource, n, p.NumPscchResources())
	}
	l := len(p.lpscch)
	half := len(p.rbPscch) / 2

	a1 := n % l
	b1 := n / l
	a2 := (n + 1 + b1%(l-1)) % l
	b2 := b1 + half

	out := []TransmissionInfo{
		{Subframe: periodStart.Add(int(p.lpscch[a1])), RbStart: p.rbPscch[b1], RbLen: 1},
		{Subframe: periodStart.Add(int(p.lpscch[a2])), RbStart: p.rbPscch[b2], RbLen: 1},
	}
	if p.lpscch[a2] < p.lpscch[a1] {
		out[0], out[1] = out[1], out[0]
	}
	return out, nil
}

// PsschTransmissions returns the PSSCH transmissions of a grant in the
// period starting at periodStart. The count is a multiple of 4, one HARQ
// round per four transmissions.
func (p *CommPool) PsschTransmissions(periodStart model.SubframeInfo, itrp uint8, rbStart, rbLen uint16) ([]TransmissionInfo, error) {
	bitmap, err := TrpBitmap(itrp)
	if err != nil {
		return nil, fmt.Errorf("PsschTransmissions: %w", err)
	}
	for rb := rbStart; rb < rbStart+rbLen; rb++ {
		if !p.rbPssch[rb] {
			return nil, fmt.Errorf("PsschTransmissions: %w: RB %d", ErrRbOutsidePool, rb)
		}
	}
	var out []TransmissionInfo
	for i, off := range p.lpssch {
		if !trpSubframeSet(bitmap, i) {
			continue
		}
		out = append(out, TransmissionInfo{
			Subframe: periodStart.Add(int(off)),
			RbStart:  rbStart,
			RbLen:    rbLen,
		})
	}
	out = out[:len(out)-len(out)%4]
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Subframe.Diff(periodStart) < out[j].Subframe.Diff(periodStart)
	})
	return out, nil
}

// edgeRbs returns the RBs within num of either end of [start, end].
func edgeRbs(start, end, num uint16) []uint16 {
	var out []uint16
	for rb := int(start); rb <= int(end); rb++ {
		if rb < int(start)+int(num) || rb > int(end)-int(num) {
			out = append(out, uint16(rb))
		}
	}
	return out
}

func parseBitmap(s string) ([]bool, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty bitmap", ErrInvalidPool)
	}
	out := make([]bool, len(s))
	for i, c := range s {
		switch c {
		case '0':
		case '1':
			out[i] = true
		default:
			return nil, fmt.Errorf("%w: bitmap %q", ErrInvalidPool, s)
		}
	}
	return out, nil
}
