package sidelink

import (
	"fmt"

	"github.com/signalsfoundry/sidelink-mac/model"
)

// pscchRbs is the number of RBs occupied by one PSCCH.
const pscchRbs = 2

// V2xPoolConfig describes a V2X (mode 4) sidelink resource pool.
type V2xPoolConfig struct {
	Scheduling SchedulingType
	// Adjacency places PSCCH in the first two RBs of the subchannel that
	// carries the PSSCH. Without it PSCCHs live in a separate RB region
	// starting at StartRbPscchPool.
	Adjacency         bool
	SizeSubchannel    uint16
	NumSubchannel     uint16
	StartRbSubchannel uint16
	StartRbPscchPool  uint16
	// Index identifies the pool in SL BSRs.
	Index uint8
}

// V2xTxParams are the SCI V2X fields that fix the transmissions of a
// reservation period.
type V2xTxParams struct {
	Riv      uint16
	PRsvp    uint16
	SfGap    uint8
	ReTxIdx  uint8
	ResPscch uint16
}

// V2xPool exposes the time/frequency geometry of a V2X pool.
type V2xPool struct {
	cfg V2xPoolConfig

	pscchRbs []uint16
	psschRbs []uint16
}

// NewV2xPool validates cfg and precomputes the PSCCH and PSSCH RB sets.
func NewV2xPool(cfg V2xPoolConfig) (*V2xPool, error) {
	if cfg.NumSubchannel == 0 {
		return nil, fmt.Errorf("NewV2xPool: %w: no subchannels", ErrInvalidPool)
	}
	if cfg.Adjacency && cfg.SizeSubchannel <= pscchRbs {
		return nil, fmt.Errorf("NewV2xPool: %w: subchannel of %d RBs cannot hold PSCCH and PSSCH", ErrInvalidPool, cfg.SizeSubchannel)
	}
	if cfg.SizeSubchannel == 0 {
		return nil, fmt.Errorf("NewV2xPool: %w: empty subchannel", ErrInvalidPool)
	}

	p := &V2xPool{cfg: cfg}
	for m := uint16(0); m < cfg.NumSubchannel; m++ {
		for j := uint16(0); j < pscchRbs; j++ {
			if cfg.Adjacency {
				p.pscchRbs = append(p.pscchRbs, cfg.StartRbSubchannel+m*cfg.SizeSubchannel+j)
			} else {
				p.pscchRbs = append(p.pscchRbs, cfg.StartRbPscchPool+2*m+j)
			}
		}
		for j := uint16(0); j < cfg.SizeSubchannel; j++ {
			p.psschRbs = append(p.psschRbs, cfg.StartRbSubchannel+m*cfg.SizeSubchannel+j)
		}
	}
	return p, nil
}

// Config returns the pool configuration.
func (p *V2xPool) Config() V2xPoolConfig { return p.cfg }

// SchedulingType returns the pool's scheduling mode.
func (p *V2xPool) SchedulingType() SchedulingType { return p.cfg.Scheduling }

// PscchRbs returns the RBs available to PSCCH.
func (p *V2xPool) PscchRbs() []uint16 { return append([]uint16(nil), p.pscchRbs...) }

// PsschRbs returns the RBs available to PSSCH.
func (p *V2xPool) PsschRbs() []uint16 { return append([]uint16(nil), p.psschRbs...) }

// CandidateResources enumerates every single-shot resource of subchLen
// subchannels between anchor+t1 and anchor+t2.
func (p *V2xPool) CandidateResources(anchor model.SubframeInfo, t1, t2, subchLen uint16) ([]TransmissionInfo, error) {
	if t1 > 4 || t2 < 20 || t2 > 100 {
		return nil, fmt.Errorf("CandidateResources: %w: T1=%d T2=%d", ErrInvalidSelectionWindow, t1, t2)
	}
	if subchLen == 0 || subchLen > p.cfg.NumSubchannel {
		return nil, fmt.Errorf("CandidateResources: %w: subchannel length %d of %d", ErrInvalidPool, subchLen, p.cfg.NumSubchannel)
	}
	// A window ending exactly one 100 ms period ahead stops one short.
	last := t2
	if t2 == 100 {
		last = 99
	}

	var out []TransmissionInfo
	for off := t1; off <= last; off++ {
		sf := anchor.Add(int(off))
		for subch := uint16(0); subch+subchLen <= p.cfg.NumSubchannel; subch++ {
			rbStart, rbLen := p.psschFootprint(subch, subchLen)
			out = append(out, TransmissionInfo{Subframe: sf, RbStart: rbStart, RbLen: rbLen})
		}
	}
	return out, nil
}

// SubchannelIndex returns the subchannel carrying a PSSCH starting at rbStart.
func (p *V2xPool) SubchannelIndex(rbStart uint16) uint16 {
	base := p.cfg.StartRbSubchannel
	if p.cfg.Adjacency {
		base += pscchRbs
	}
	if rbStart < base {
		return 0
	}
	return (rbStart - base) / p.cfg.SizeSubchannel
}

// PscchTransmissions lists the PSCCH slots for reselCtr reservation periods
// starting at start.
func (p *V2xPool) PscchTransmissions(start model.SubframeInfo, tx V2xTxParams, reselCtr int) ([]TransmissionInfo, error) {
	_, reTxSubch, err := DecodeRiv(int(p.cfg.NumSubchannel), tx.Riv)
	if err != nil {
		return nil, fmt.Errorf("PscchTransmissions: %w", err)
	}
	first := TransmissionInfo{RbStart: p.pscchRbStart(tx.ResPscch), RbLen: pscchRbs}
	second := TransmissionInfo{RbStart: p.pscchRbStart(uint16(reTxSubch)), RbLen: pscchRbs}
	return p.expand(start, tx, reselCtr, first, second), nil
}

// PsschTransmissions lists the PSSCH slots for reselCtr reservation periods
// starting at start.
func (p *V2xPool) PsschTransmissions(start model.SubframeInfo, tx V2xTxParams, reselCtr int) ([]TransmissionInfo, error) {
	subchLen, reTxSubch, err := DecodeRiv(int(p.cfg.NumSubchannel), tx.Riv)
	if err != nil {
		return nil, fmt.Errorf("PsschTransmissions: %w", err)
	}
	var first, second TransmissionInfo
	first.RbStart, first.RbLen = p.psschFootprint(tx.ResPscch, uint16(subchLen))
	second.RbStart, second.RbLen = p.psschFootprint(uint16(reTxSubch), uint16(subchLen))
	return p.expand(start, tx, reselCtr, first, second), nil
}

// PsschAllocation recovers the PSSCH RBs announced by a received SCI V2X.
func (p *V2xPool) PsschAllocation(sci model.SciV2x) (rbStart, rbLen uint16, err error) {
	subchLen, _, err := DecodeRiv(int(p.cfg.NumSubchannel), sci.Riv)
	if err != nil {
		return 0, 0, fmt.Errorf("PsschAllocation: %w", err)
	}
	if int(sci.ResPscch)+subchLen > int(p.cfg.NumSubchannel) {
		return 0, 0, fmt.Errorf("PsschAllocation: %w: resPscch %d", ErrInvalidPscchResource, sci.ResPscch)
	}
	rbStart, rbLen = p.psschFootprint(sci.ResPscch, uint16(subchLen))
	return rbStart, rbLen, nil
}

func (p *V2xPool) expand(start model.SubframeInfo, tx V2xTxParams, reselCtr int, first, second TransmissionInfo) []TransmissionInfo {
	out := make([]TransmissionInfo, 0, reselCtr*2)
	for ctr := 0; ctr < reselCtr; ctr++ {
		a := first
		a.Subframe = start.Add(ctr * int(tx.PRsvp))
		if tx.SfGap == 0 {
			out = append(out, a)
			continue
		}
		b := second
		b.Retx = true
		if tx.ReTxIdx == 0 {
			b.Subframe = a.Subframe.Add(int(tx.SfGap))
			out = append(out, a, b)
		} else {
			// The companion slot precedes the selected one; it goes first
			// and carries the new data.
			b.Subframe = a.Subframe.Add(-int(tx.SfGap))
			b.Retx = false
			a.Retx = true
			out = append(out, b, a)
		}
	}
	return out
}

func (p *V2xPool) pscchRbStart(subch uint16) uint16 {
	if p.cfg.Adjacency {
		return p.cfg.StartRbSubchannel + subch*p.cfg.SizeSubchannel
	}
	return p.cfg.StartRbPscchPool + 2*subch
}

func (p *V2xPool) psschFootprint(subch, subchLen uint16) (rbStart, rbLen uint16) {
	rbStart = p.cfg.StartRbSubchannel + subch*p.cfg.SizeSubchannel
	rbLen = subchLen * p.cfg.SizeSubchannel
	if p.cfg.Adjacency {
		rbStart += pscchRbs
		rbLen -= pscchRbs
	}
	return rbStart, rbLen
}
