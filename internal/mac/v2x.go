package mac

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/sidelink-mac/internal/logging"
	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

// Phase is the scheduling phase of a V2X pool.
type Phase int

const (
	PhaseIdleWaitingReselection Phase = iota
	PhaseReselecting
	PhaseGrantActive
)

func (p Phase) String() string {
	switch p {
	case PhaseIdleWaitingReselection:
		return "idle_waiting_reselection"
	case PhaseReselecting:
		return "reselecting"
	case PhaseGrantActive:
		return "grant_active"
	default:
		return "unknown"
	}
}

// V2xGrant is a semi-persistent V2X resource assignment.
type V2xGrant struct {
	Priority uint8
	PRsvp    uint16
	Riv      uint16
	SfGap    uint8
	Mcs      uint8
	ReTxIdx  uint8
	ResPscch uint16
	// TbSize is in bytes, fixed when the grant becomes current.
	TbSize   uint32
	SubchLen uint16
	// Start is the subframe of the selected resource in the first period.
	Start    model.SubframeInfo
	ReselCtr int
}

func (g V2xGrant) txParams() sidelink.V2xTxParams {
	return sidelink.V2xTxParams{Riv: g.Riv, PRsvp: g.PRsvp, SfGap: g.SfGap, ReTxIdx: g.ReTxIdx, ResPscch: g.ResPscch}
}

type v2xPoolState struct {
	pool *sidelink.V2xPool

	current, next V2xGrant
	grantReceived bool
	pscchTx       []sidelink.TransmissionInfo
	psschTx       []sidelink.TransmissionInfo
	harqBuffer    []model.Packet

	reselCtr int
	firstTx  bool
	hasData  bool
	rrc      rrcState
}

// V2xPoolStatus is a read-only view of a V2X pool's scheduling state.
type V2xPoolStatus struct {
	Phase              Phase
	ReselectionCounter int
	Grant              V2xGrant
	PendingPscch       []sidelink.TransmissionInfo
	PendingPssch       []sidelink.TransmissionInfo
}

// V2xPoolStatus reports the scheduling state of the pool for dst.
func (m *UeMac) V2xPoolStatus(dst uint32) (V2xPoolStatus, error) {
	st, ok := m.v2xPools.get(dst)
	if !ok {
		return V2xPoolStatus{}, fmt.Errorf("V2xPoolStatus: %w: %d", ErrUnknownPool, dst)
	}
	phase := PhaseIdleWaitingReselection
	switch {
	case st.grantReceived:
		phase = PhaseGrantActive
	case st.reselCtr == 0:
		phase = PhaseReselecting
	}
	return V2xPoolStatus{
		Phase:              phase,
		ReselectionCounter: st.reselCtr,
		Grant:              st.current,
		PendingPscch:       append([]sidelink.TransmissionInfo(nil), st.pscchTx...),
		PendingPssch:       append([]sidelink.TransmissionInfo(nil), st.psschTx...),
	}, nil
}

func (m *UeMac) tickV2xPool(ctx context.Context, now model.SubframeInfo, dst uint32, st *v2xPoolState) error {
	// A trailing retransmission of the last period is sent before the
	// schedule is replaced.
	if st.reselCtr == 0 && len(st.pscchTx) == 0 && m.startupDelay == 0 && st.pool.SchedulingType() == sidelink.UeSelected {
		if err := m.reselect(ctx, now, dst, st); err != nil {
			return err
		}
	}
	if st.grantReceived {
		if err := m.promoteV2xGrant(st); err != nil {
			return err
		}
	}
	if len(st.pscchTx) != len(st.psschTx) {
		return fmt.Errorf("tickV2xPool: %w: %d PSCCH vs %d PSSCH", ErrScheduleInconsistent, len(st.pscchTx), len(st.psschTx))
	}

	var dropped int
	st.pscchTx, dropped = dropStale(st.pscchTx, now)
	st.psschTx = st.psschTx[dropped:]
	if dropped > 0 {
		st.reselCtr = max(0, st.reselCtr-dropped)
		m.log.Warn(ctx, "dropped stale V2X transmissions", logging.Uint("dst", uint64(dst)), logging.Int("count", dropped))
	}

	if len(st.pscchTx) == 0 || st.pscchTx[0].Subframe != now || st.psschTx[0].Subframe != now {
		return nil
	}
	return m.transmitV2x(ctx, now, dst, st)
}

// reselect runs sensing-based selection and stages the result as the next
// grant.
func (m *UeMac) reselect(ctx context.Context, now model.SubframeInfo, dst uint32, st *v2xPoolState) error {
	ctx, span := m.tracer.Start(ctx, "mac.reselect", trace.WithAttributes(
		attribute.Int64("sidelink.dst", int64(dst)),
		attribute.String("sidelink.subframe", now.String()),
	))
	defer span.End()

	m.announceData(ctx, &st.rrc, st.hasData)
	st.hasData = false

	reselCtr, err := reselectionCounter(m.cfg.ReservationPeriodMs, m.rng)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("reselect: %w", err)
	}

	cfg := st.pool.Config()
	grant := V2xGrant{
		PRsvp:    m.cfg.ReservationPeriodMs,
		Mcs:      m.cfg.SlGrantMcs,
		SubchLen: m.cfg.SubchannelLength,
		ReselCtr: reselCtr,
	}

	if !st.firstTx && m.rng.float64() < m.cfg.ProbResourceKeep {
		// Keep the previous resource: same RBs and retransmission layout,
		// continuing the previous reservation.
		prev := st.current
		grant.Riv, grant.SfGap, grant.ReTxIdx, grant.ResPscch = prev.Riv, prev.SfGap, prev.ReTxIdx, prev.ResPscch
		grant.Start = prev.Start.Add(prev.ReselCtr * int(prev.PRsvp))
		span.SetAttributes(attribute.Bool("sidelink.kept", true))
	} else {
		st.firstTx = false
		params := selectionParams{
			anchor:   now,
			t1:       m.cfg.T1,
			t2:       m.cfg.T2,
			subchLen: m.cfg.SubchannelLength,
			pRsvp:    grant.PRsvp,
			reselCtr: reselCtr,
			priority: grant.Priority,
		}
		records := m.sensing.snapshot()
		set, err := buildCandidateSet(st.pool, records, params, m.thresholdFor(grant.Priority), m.cfg.RsrpThresholdStepDb)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("reselect: %w", err)
		}
		selection := rankCandidates(set.survivors, len(set.all), records, m.rng)
		chosen := selection[m.rng.intRange(0, len(selection)-1)]

		grant.Start = chosen.Subframe
		grant.ResPscch = st.pool.SubchannelIndex(chosen.RbStart)
		retxSubch := 0
		if m.cfg.EnableV2xHarq {
			if retx, ok := findRetransmission(chosen.Subframe, selection, m.rng); ok {
				grant.SfGap, grant.ReTxIdx = retx.gap, retx.index
				retxSubch = int(st.pool.SubchannelIndex(retx.tx.RbStart))
			}
		}
		grant.Riv, err = sidelink.EncodeRiv(int(cfg.NumSubchannel), int(grant.SubchLen), retxSubch)
		if err != nil {
			return fmt.Errorf("reselect: %w", err)
		}

		m.metrics.ObserveReselection(len(set.all), len(set.survivors), len(selection), set.relaxations)
		span.SetAttributes(
			attribute.Int("sidelink.candidates", len(set.all)),
			attribute.Int("sidelink.survivors", len(set.survivors)),
			attribute.Int("sidelink.threshold_relaxations", set.relaxations),
		)
	}

	st.reselCtr = reselCtr
	st.next = grant
	st.grantReceived = true
	m.log.Debug(ctx, "V2X resource reselected",
		logging.Uint("dst", uint64(dst)),
		logging.String("start", grant.Start.String()),
		logging.Int("res_pscch", int(grant.ResPscch)),
		logging.Int("resel_ctr", reselCtr),
		logging.Int("sf_gap", int(grant.SfGap)),
	)
	return nil
}

func (m *UeMac) thresholdFor(txPrio uint8) thresholdFunc {
	if m.cfg.PriorityRsrpThreshold {
		return func(rec SensingRecord) float64 { return PsschRsrpThreshold(txPrio, rec.Priority) }
	}
	initial := m.cfg.InitialRsrpThresholdDbm
	return func(SensingRecord) float64 { return initial }
}

// promoteV2xGrant makes the staged grant current and lays out its
// transmissions.
func (m *UeMac) promoteV2xGrant(st *v2xPoolState) error {
	g := st.next
	pscch, err := st.pool.PscchTransmissions(g.Start, g.txParams(), g.ReselCtr)
	if err != nil {
		return fmt.Errorf("promoteV2xGrant: %w", err)
	}
	pssch, err := st.pool.PsschTransmissions(g.Start, g.txParams(), g.ReselCtr)
	if err != nil {
		return fmt.Errorf("promoteV2xGrant: %w", err)
	}
	cfg := st.pool.Config()
	nRb := g.SubchLen * cfg.SizeSubchannel
	if cfg.Adjacency {
		nRb -= 2
	}
	g.TbSize = m.amc.TbSizeBits(g.Mcs, nRb) / 8

	st.current = g
	st.pscchTx = pscch
	st.psschTx = pssch
	st.grantReceived = false
	return nil
}

// transmitV2x sends the SCI and PSSCH at the head of the schedule. Only
// the initial transmission of a period pulls new data and counts against
// the reselection counter; the companion slot repeats the HARQ buffer.
func (m *UeMac) transmitV2x(ctx context.Context, now model.SubframeInfo, dst uint32, st *v2xPoolState) error {
	pscch := st.pscchTx[0]
	pssch := st.psschTx[0]
	st.pscchTx = st.pscchTx[1:]
	st.psschTx = st.psschTx[1:]

	g := st.current
	m.phy.SendControlMessage(ctx, model.SciV2x{
		Rnti:     m.rnti,
		Priority: g.Priority,
		PRsvp:    g.PRsvp,
		Riv:      g.Riv,
		SfGap:    g.SfGap,
		Mcs:      g.Mcs,
		ReTxIdx:  g.ReTxIdx,
		TbSize:   g.TbSize,
		ResPscch: g.ResPscch,
	})
	m.metrics.IncControlMessages(model.MessageSciV2x.String())

	if pscch.Retx {
		for _, pkt := range st.harqBuffer {
			m.phy.SendMacPdu(ctx, pkt, pssch)
		}
		m.metrics.IncHarqRetransmissions(len(st.harqBuffer))
		return nil
	}

	st.reselCtr--
	st.harqBuffer = nil
	return m.pullSidelinkData(ctx, now, dst, st.pool.SchedulingType(), g.TbSize, pssch, &st.hasData, &st.rrc)
}

// pullSidelinkData offers tbSize bytes to the sidelink channels towards
// dst, in channel order, until the opportunity is used up.
func (m *UeMac) pullSidelinkData(ctx context.Context, now model.SubframeInfo, dst uint32, sched sidelink.SchedulingType, tbSize uint32, slot sidelink.TransmissionInfo, hasData *bool, rrc *rrcState) error {
	remaining := tbSize
	for _, key := range m.sortedSlKeys(dst) {
		bs, ok := m.slBsr[key]
		if !ok || !bs.Pending() {
			continue
		}
		*hasData = true
		m.announceData(ctx, rrc, true)

		res, left, err := Drain(bs, remaining, rlcHeaderOverhead)
		if err != nil {
			return fmt.Errorf("pullSidelinkData: %w", err)
		}
		m.slBsr[key] = left
		op := TxOpportunity{
			Lcid:      key.Lcid,
			Rnti:      m.rnti,
			Direction: model.DirectionSidelink,
			SrcL2ID:   key.SrcL2ID,
			DstL2ID:   key.DstL2ID,
			Subframe:  now,
		}
		if err := m.serveDrain(ctx, m.slLcs[key], op, res, slot); err != nil {
			return fmt.Errorf("pullSidelinkData: %w", err)
		}
		remaining = saturatingSub(remaining, res.Status+res.Retx+res.Tx)
		if (res.NeedsBsr || left.hasData()) && remaining <= minTxOpportunity && sched == sidelink.Scheduled {
			m.freshSlBsr = true
		}
	}
	return nil
}
