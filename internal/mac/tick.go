package mac

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/sidelink-mac/internal/logging"
	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

// SubframeIndication runs the per-subframe procedure for PHY time
// (frame, subframe): HARQ ageing, uplink BSR, sensing window pruning, then
// every legacy and V2X pool, then the sidelink BSR.
func (m *UeMac) SubframeIndication(ctx context.Context, frame, subframe uint32) error {
	phyNow := model.NewSubframeInfo(frame, subframe)
	if !phyNow.Valid() {
		return fmt.Errorf("SubframeIndication: %w: subframe %s", ErrInvalidConfig, phyNow)
	}
	m.ticks++

	m.ulHarq.refresh()
	if m.freshUlBsr && m.ticks-m.ulBsrLast >= int64(m.cfg.BsrPeriodicity) {
		if err := m.sendUlBsr(ctx); err != nil {
			return fmt.Errorf("SubframeIndication: %w", err)
		}
		m.ulBsrLast = m.ticks
		m.freshUlBsr = false
		m.ulHarq.advance()
	}

	now := phyNow.AdvanceScheduling()
	m.now = now

	if removed := m.sensing.prune(phyNow); removed > 0 {
		m.log.Debug(ctx, "pruned sensing window", logging.Int("removed", removed))
	}
	m.metrics.SetSensingRecords(m.sensing.len())

	if m.startupDelay > 0 {
		m.startupDelay--
	}

	if err := m.commPools.each(func(dst uint32, st *commPoolState) error {
		return m.tickCommPool(ctx, now, dst, st)
	}); err != nil {
		return fmt.Errorf("SubframeIndication: %w", err)
	}
	if err := m.v2xPools.each(func(dst uint32, st *v2xPoolState) error {
		return m.tickV2xPool(ctx, now, dst, st)
	}); err != nil {
		return fmt.Errorf("SubframeIndication: %w", err)
	}

	if m.freshSlBsr && m.ticks-m.slBsrLast >= int64(m.cfg.BsrPeriodicity) {
		if m.sendSlBsr(ctx) {
			m.slBsrLast = m.ticks
		}
		m.freshSlBsr = false
	}
	return nil
}

// sendUlBsr reports uplink buffer status summed per logical channel group.
func (m *UeMac) sendUlBsr(ctx context.Context) error {
	if m.rnti == 0 {
		return nil
	}
	var queue [4]uint32
	for lcid, bs := range m.ulBsr {
		if lcid == 0 && bs.Pending() {
			return fmt.Errorf("sendUlBsr: %w", ErrDataOnSignallingBearer)
		}
		lc, ok := m.lcs[lcid]
		if !ok {
			continue
		}
		queue[lc.cfg.Lcg] += bs.total()
	}
	msg := model.Bsr{Rnti: m.rnti}
	for i, q := range queue {
		msg.BufferStatus[i] = BufferSizeToBsrID(q)
	}
	m.phy.SendControlMessage(ctx, msg)
	m.metrics.IncControlMessages(model.MessageBsr.String())
	return nil
}

// sendSlBsr reports sidelink buffer status per SCHEDULED pool index. It
// returns false when there is nothing to report.
func (m *UeMac) sendSlBsr(ctx context.Context) bool {
	if len(m.slBsr) == 0 {
		return false
	}
	scheduled := map[uint32]uint8{}
	_ = m.commPools.each(func(dst uint32, st *commPoolState) error {
		if st.pool.SchedulingType() == sidelink.Scheduled {
			scheduled[dst] = st.pool.Config().Index
		}
		return nil
	})
	_ = m.v2xPools.each(func(dst uint32, st *v2xPoolState) error {
		if st.pool.SchedulingType() == sidelink.Scheduled {
			scheduled[dst] = st.pool.Config().Index
		}
		return nil
	})
	if len(scheduled) == 0 {
		return false
	}

	var queue [4]uint32
	for key, bs := range m.slBsr {
		if idx, ok := scheduled[key.DstL2ID]; ok {
			queue[idx] += bs.total()
		}
	}
	msg := model.SlBsr{Rnti: m.rnti}
	for i, q := range queue {
		msg.BufferStatus[i] = BufferSizeToBsrID(q)
	}
	m.phy.SendControlMessage(ctx, msg)
	m.metrics.IncControlMessages(model.MessageSlBsr.String())
	return true
}

// rrcState remembers what was last announced to RRC about sidelink data.
type rrcState int

const (
	rrcUnknown rrcState = iota
	rrcHasData
	rrcNoData
)

func (m *UeMac) announceData(ctx context.Context, state *rrcState, has bool) {
	switch {
	case has && *state != rrcHasData:
		*state = rrcHasData
		m.rrc.NotifyHasSlData(ctx)
	case !has && *state != rrcNoData:
		*state = rrcNoData
		m.rrc.NotifyNoSlData(ctx)
	}
}

// dropStale removes slots the schedule has already passed, which can only
// happen after a timing change.
func dropStale(slots []sidelink.TransmissionInfo, now model.SubframeInfo) ([]sidelink.TransmissionInfo, int) {
	dropped := 0
	for len(slots) > 0 && slots[0].Subframe.Diff(now) > model.SubframesPerCycle/2 {
		slots = slots[1:]
		dropped++
	}
	return slots, dropped
}
