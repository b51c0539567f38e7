package mac

import (
	"context"
	"fmt"
	"sort"

	"github.com/signalsfoundry/sidelink-mac/internal/logging"
	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

// ReceiveControlMessage handles a control message from the PHY.
func (m *UeMac) ReceiveControlMessage(ctx context.Context, msg model.ControlMessage) error {
	switch v := msg.(type) {
	case model.UlDci:
		return m.handleUlDci(ctx, v)
	case model.SlDci:
		m.handleSlDci(ctx, v)
		return nil
	default:
		m.log.Debug(ctx, "ignoring control message", logging.String("type", msg.MessageType().String()))
		return nil
	}
}

// handleSlDci installs an eNB-assigned grant into the SCHEDULED legacy
// pool; it takes effect at the next SC period.
func (m *UeMac) handleSlDci(ctx context.Context, dci model.SlDci) {
	var target *commPoolState
	_ = m.commPools.each(func(_ uint32, st *commPoolState) error {
		if target == nil && st.pool.SchedulingType() == sidelink.Scheduled {
			target = st
		}
		return nil
	})
	if target == nil {
		m.log.Warn(ctx, "SL DCI without a scheduled pool")
		return
	}
	target.next = CommGrant{
		ResPscch: dci.ResPscch,
		RbStart:  dci.RbStart,
		RbLen:    dci.RbLen,
		Trp:      dci.Trp,
		Mcs:      target.pool.Config().Mcs,
	}
	target.grantReceived = true
}

// handleUlDci serves an uplink grant. A new-data grant is split across the
// active logical channels by the configured allocator; otherwise the
// current HARQ process is retransmitted.
func (m *UeMac) handleUlDci(ctx context.Context, dci model.UlDci) error {
	slot := sidelink.TransmissionInfo{Subframe: m.now, RbStart: dci.RbStart, RbLen: dci.RbLen}
	if !dci.Ndi {
		pkts := m.ulHarq.current()
		for _, pkt := range pkts {
			m.phy.SendMacPdu(ctx, pkt, slot)
		}
		m.metrics.IncHarqRetransmissions(len(pkts))
		return nil
	}

	m.ulHarq.resetCurrent()

	lcids := make([]int, 0, len(m.ulBsr))
	for lcid := range m.ulBsr {
		lcids = append(lcids, int(lcid))
	}
	sort.Ints(lcids)

	var active []LcDemand
	var minStatus uint32
	for _, id := range lcids {
		lcid := uint8(id)
		bs := m.ulBsr[lcid]
		lc, ok := m.lcs[lcid]
		if !ok || !bs.Pending() {
			continue
		}
		active = append(active, LcDemand{Lcid: lcid, Priority: lc.cfg.Priority, Status: bs})
		if bs.StatusPdu > 0 && (minStatus == 0 || bs.StatusPdu < minStatus) {
			minStatus = bs.StatusPdu
		}
	}
	if len(active) == 0 {
		m.log.Debug(ctx, "no active flows for UL DCI")
		return nil
	}

	allocs := m.allocator.AllocateBytesPerLogicalChannel(dci.TbSize, active)
	for _, alloc := range allocs {
		if minStatus != 0 && alloc.Bytes < minStatus {
			// No share fits every status PDU: spend the grant on the
			// smallest one alone.
			return m.sendSmallestStatus(ctx, active, minStatus, dci.TbSize, slot)
		}
	}

	for _, alloc := range allocs {
		lc := m.lcs[alloc.Lcid]
		op := TxOpportunity{Lcid: alloc.Lcid, Rnti: m.rnti, Direction: model.DirectionUplink, Subframe: m.now}
		res, left, err := Drain(m.ulBsr[alloc.Lcid], alloc.Bytes, overheadFor(alloc.Lcid, model.DirectionUplink))
		if err != nil {
			return fmt.Errorf("handleUlDci: lcid %d: %w", alloc.Lcid, err)
		}
		m.ulBsr[alloc.Lcid] = left
		if err := m.serveDrain(ctx, lc, op, res, slot); err != nil {
			return fmt.Errorf("handleUlDci: %w", err)
		}
	}

	for _, bs := range m.ulBsr {
		if bs.hasData() {
			m.freshUlBsr = true
			break
		}
	}
	return nil
}

func (m *UeMac) sendSmallestStatus(ctx context.Context, active []LcDemand, size, tbSize uint32, slot sidelink.TransmissionInfo) error {
	if tbSize < size {
		return fmt.Errorf("handleUlDci: %w: status PDU of %d bytes, grant of %d", ErrInsufficientTxOpportunity, size, tbSize)
	}
	for _, d := range active {
		if d.Status.StatusPdu != size {
			continue
		}
		bs := m.ulBsr[d.Lcid]
		bs.StatusPdu = 0
		m.ulBsr[d.Lcid] = bs
		m.freshUlBsr = true
		op := TxOpportunity{Bytes: size, Lcid: d.Lcid, Rnti: m.rnti, Direction: model.DirectionUplink, Subframe: m.now}
		return m.offer(ctx, m.lcs[d.Lcid], op, slot)
	}
	return nil
}
