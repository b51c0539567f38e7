package mac

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/sidelink-mac/internal/logging"
	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

const tracerName = "github.com/signalsfoundry/sidelink-mac/internal/mac"

// rlcHeaderOverhead is charged to new data on every channel except SRB1.
const (
	rlcHeaderOverhead     = 2
	srb1RlcHeaderOverhead = 4
)

type lcInfo struct {
	cfg  LcConfig
	user LcUser
}

// UeMac is the MAC entity of one UE. It is not safe for concurrent use;
// the owner drives it from a single goroutine, one tick at a time.
type UeMac struct {
	cfg       Config
	log       logging.Logger
	metrics   MetricsRecorder
	tracer    trace.Tracer
	phy       Phy
	amc       Amc
	rrc       Rrc
	rng       *randomStream
	allocator UplinkAllocator

	rnti uint16

	lcs   map[uint8]*lcInfo
	slLcs map[SidelinkLcKey]*lcInfo

	ulBsr      map[uint8]BufferStatus
	slBsr      map[SidelinkLcKey]BufferStatus
	freshUlBsr bool
	freshSlBsr bool
	ulBsrLast  int64
	slBsrLast  int64

	ulHarq ulHarq

	v2xPools     *registry[v2xPoolState]
	commPools    *registry[commPoolState]
	destinations []uint32

	sensing      sensingWindow
	startupDelay int

	// now is the scheduling subframe, already advanced past the PHY tick.
	now   model.SubframeInfo
	ticks int64
}

// Option customises UeMac construction.
type Option func(*UeMac)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(m *UeMac) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetricsRecorder attaches a metrics sink.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(m *UeMac) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *UeMac) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithStartupDelay fixes the number of subframes before the first
// reselection instead of drawing it.
func WithStartupDelay(subframes int) Option {
	return func(m *UeMac) {
		if subframes >= 0 {
			m.startupDelay = subframes
		}
	}
}

// WithUplinkAllocator overrides the allocator selected by the config.
func WithUplinkAllocator(a UplinkAllocator) Option {
	return func(m *UeMac) {
		if a != nil {
			m.allocator = a
		}
	}
}

// NewUeMac validates cfg and builds a MAC wired to its collaborators.
func NewUeMac(cfg Config, phy Phy, amc Amc, rrc Rrc, opts ...Option) (*UeMac, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("NewUeMac: %w", err)
	}
	if phy == nil || amc == nil || rrc == nil {
		return nil, fmt.Errorf("NewUeMac: %w: PHY, AMC and RRC are required", ErrInvalidConfig)
	}
	allocator, err := newUplinkAllocator(cfg.UlScheduler)
	if err != nil {
		return nil, fmt.Errorf("NewUeMac: %w", err)
	}

	m := &UeMac{
		cfg:       cfg,
		log:       logging.Noop(),
		metrics:   nopMetrics{},
		tracer:    otel.Tracer(tracerName),
		phy:       phy,
		amc:       amc,
		rrc:       rrc,
		rng:       newRandomStream(cfg.Seed),
		allocator: allocator,
		lcs:       make(map[uint8]*lcInfo),
		slLcs:     make(map[SidelinkLcKey]*lcInfo),
		ulBsr:     make(map[uint8]BufferStatus),
		slBsr:     make(map[SidelinkLcKey]BufferStatus),
		v2xPools:  newRegistry[v2xPoolState](),
		commPools: newRegistry[commPoolState](),
		now:       model.NewSubframeInfo(1, 1),
		ulBsrLast: -int64(cfg.BsrPeriodicity),
		slBsrLast: -int64(cfg.BsrPeriodicity),
	}
	m.startupDelay = m.rng.intRange(cfg.StartupDelayMin, cfg.StartupDelayMax)
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *UeMac) Config() Config { return m.cfg }

// Rnti returns the cell radio network temporary identifier.
func (m *UeMac) Rnti() uint16 { return m.rnti }

// SetRnti assigns the RNTI used in control messages.
func (m *UeMac) SetRnti(rnti uint16) { m.rnti = rnti }

// AddLc registers an uplink logical channel.
func (m *UeMac) AddLc(cfg LcConfig, user LcUser) error {
	if _, ok := m.lcs[cfg.Lcid]; ok {
		return fmt.Errorf("AddLc: %w: %d", ErrLogicalChannelExists, cfg.Lcid)
	}
	if cfg.Lcg > 3 {
		return fmt.Errorf("AddLc: %w: LCG %d", ErrInvalidConfig, cfg.Lcg)
	}
	m.lcs[cfg.Lcid] = &lcInfo{cfg: cfg, user: user}
	return nil
}

// RemoveLc drops an uplink logical channel and its buffer status.
func (m *UeMac) RemoveLc(lcid uint8) error {
	if _, ok := m.lcs[lcid]; !ok {
		return fmt.Errorf("RemoveLc: %w: %d", ErrUnknownLogicalChannel, lcid)
	}
	delete(m.lcs, lcid)
	delete(m.ulBsr, lcid)
	return nil
}

// AddSlLc registers a sidelink logical channel.
func (m *UeMac) AddSlLc(key SidelinkLcKey, cfg LcConfig, user LcUser) error {
	if _, ok := m.slLcs[key]; ok {
		return fmt.Errorf("AddSlLc: %w: %+v", ErrLogicalChannelExists, key)
	}
	cfg.Lcid = key.Lcid
	m.slLcs[key] = &lcInfo{cfg: cfg, user: user}
	return nil
}

// RemoveSlLc drops a sidelink logical channel and its buffer status.
func (m *UeMac) RemoveSlLc(key SidelinkLcKey) error {
	if _, ok := m.slLcs[key]; !ok {
		return fmt.Errorf("RemoveSlLc: %w: %+v", ErrUnknownLogicalChannel, key)
	}
	delete(m.slLcs, key)
	delete(m.slBsr, key)
	return nil
}

// Reset drops every uplink logical channel except LCID 0 and forgets all
// uplink buffer status.
func (m *UeMac) Reset() {
	for lcid := range m.lcs {
		if lcid != 0 {
			delete(m.lcs, lcid)
		}
	}
	clear(m.ulBsr)
	m.freshUlBsr = false
	m.ulHarq.clear()
}

// AddDestination starts accepting sidelink PDUs addressed to dst.
func (m *UeMac) AddDestination(dst uint32) {
	i := sort.Search(len(m.destinations), func(i int) bool { return m.destinations[i] >= dst })
	if i < len(m.destinations) && m.destinations[i] == dst {
		return
	}
	m.destinations = append(m.destinations, 0)
	copy(m.destinations[i+1:], m.destinations[i:])
	m.destinations[i] = dst
}

// RemoveDestination stops accepting sidelink PDUs addressed to dst.
func (m *UeMac) RemoveDestination(dst uint32) {
	i := sort.Search(len(m.destinations), func(i int) bool { return m.destinations[i] >= dst })
	if i < len(m.destinations) && m.destinations[i] == dst {
		m.destinations = append(m.destinations[:i], m.destinations[i+1:]...)
	}
}

func (m *UeMac) acceptsDestination(dst uint32) bool {
	i := sort.Search(len(m.destinations), func(i int) bool { return m.destinations[i] >= dst })
	return i < len(m.destinations) && m.destinations[i] == dst
}

// AddV2xPool installs a V2X pool for transmissions to dst.
func (m *UeMac) AddV2xPool(dst uint32, pool *sidelink.V2xPool) error {
	if pool == nil {
		return fmt.Errorf("AddV2xPool: %w: nil pool", ErrInvalidConfig)
	}
	if pool.Config().Index > 3 {
		return fmt.Errorf("AddV2xPool: %w: pool index %d", ErrInvalidConfig, pool.Config().Index)
	}
	if pool.Config().NumSubchannel < m.cfg.SubchannelLength {
		return fmt.Errorf("AddV2xPool: %w: pool has %d subchannels, transmissions need %d",
			ErrInvalidConfig, pool.Config().NumSubchannel, m.cfg.SubchannelLength)
	}
	if _, err := m.v2xPools.add(dst, v2xPoolState{pool: pool, firstTx: true}); err != nil {
		return fmt.Errorf("AddV2xPool: %w", err)
	}
	return nil
}

// RemoveV2xPool removes the V2X pool for dst.
func (m *UeMac) RemoveV2xPool(dst uint32) error {
	if err := m.v2xPools.remove(dst); err != nil {
		return fmt.Errorf("RemoveV2xPool: %w", err)
	}
	return nil
}

// AddCommPool installs a legacy communication pool for dst.
func (m *UeMac) AddCommPool(dst uint32, pool *sidelink.CommPool) error {
	if pool == nil {
		return fmt.Errorf("AddCommPool: %w: nil pool", ErrInvalidConfig)
	}
	if pool.Config().Index > 3 {
		return fmt.Errorf("AddCommPool: %w: pool index %d", ErrInvalidConfig, pool.Config().Index)
	}
	st := commPoolState{
		pool:          pool,
		currentPeriod: pool.CurrentPeriod(m.now),
		nextPeriod:    pool.NextPeriod(m.now),
	}
	if _, err := m.commPools.add(dst, st); err != nil {
		return fmt.Errorf("AddCommPool: %w", err)
	}
	return nil
}

// RemoveCommPool removes the legacy pool for dst.
func (m *UeMac) RemoveCommPool(dst uint32) error {
	if err := m.commPools.remove(dst); err != nil {
		return fmt.Errorf("RemoveCommPool: %w", err)
	}
	return nil
}

// ReportBufferStatus records the queue sizes of an uplink logical channel,
// replacing any earlier report.
func (m *UeMac) ReportBufferStatus(lcid uint8, bs BufferStatus) error {
	if _, ok := m.lcs[lcid]; !ok {
		return fmt.Errorf("ReportBufferStatus: %w: %d", ErrUnknownLogicalChannel, lcid)
	}
	m.ulBsr[lcid] = bs
	m.freshUlBsr = true
	return nil
}

// ReportSidelinkBufferStatus records the queue sizes of a sidelink logical
// channel, replacing any earlier report.
func (m *UeMac) ReportSidelinkBufferStatus(key SidelinkLcKey, bs BufferStatus) error {
	if _, ok := m.slLcs[key]; !ok {
		return fmt.Errorf("ReportSidelinkBufferStatus: %w: %+v", ErrUnknownLogicalChannel, key)
	}
	m.slBsr[key] = bs
	m.freshSlBsr = true
	return nil
}

// PassSensingData stores a sensing measurement reported by the PHY.
// Measurements with a non-finite RSRP or RSSI are dropped; no threshold
// relaxation could ever clear them.
func (m *UeMac) PassSensingData(ctx context.Context, meas model.SensingMeasurement) {
	if !finite(meas.RsrpDbm) || !finite(meas.RssiDbm) {
		m.log.Warn(ctx, "dropping non-finite sensing measurement",
			logging.String("indication", meas.Indication.String()),
			logging.Float("rsrp_dbm", meas.RsrpDbm),
			logging.Float("rssi_dbm", meas.RssiDbm),
		)
		return
	}
	rec := m.sensing.record(meas)
	m.log.Debug(ctx, "sensed sidelink transmission",
		logging.String("subframe", rec.Subframe.String()),
		logging.Int("rb_start", int(rec.RbStart)),
		logging.Float("rsrp_dbm", rec.RsrpDbm),
	)
}

// SensingRecords returns a copy of the sensing window.
func (m *UeMac) SensingRecords() []SensingRecord {
	return m.sensing.snapshot()
}

// NotifyChangeOfTiming re-anchors the SC periods of legacy pools after a
// synchronisation change. frame and subframe are PHY time.
func (m *UeMac) NotifyChangeOfTiming(frame, subframe uint32) {
	m.now = model.NewSubframeInfo(frame, subframe).AdvanceScheduling()
	_ = m.commPools.each(func(_ uint32, st *commPoolState) error {
		st.currentPeriod = st.pool.CurrentPeriod(m.now)
		st.nextPeriod = st.pool.NextPeriod(m.now)
		return nil
	})
}

// TransmitPdu buffers pkt for HARQ and hands it to the PHY.
func (m *UeMac) TransmitPdu(ctx context.Context, pkt model.Packet, slot sidelink.TransmissionInfo) error {
	switch pkt.Direction {
	case model.DirectionSidelink:
		if st, ok := m.v2xPools.get(pkt.DstL2ID); ok {
			st.harqBuffer = append(st.harqBuffer, pkt)
		} else if cst, ok := m.commPools.get(pkt.DstL2ID); ok {
			cst.harqBuffer = append(cst.harqBuffer, pkt)
		} else {
			return fmt.Errorf("TransmitPdu: %w: %d", ErrUnknownPool, pkt.DstL2ID)
		}
	default:
		m.ulHarq.store(pkt)
	}
	m.phy.SendMacPdu(ctx, pkt, slot)
	return nil
}

// ReceivePhyPdu delivers a PDU decoded by the PHY to its logical channel.
func (m *UeMac) ReceivePhyPdu(ctx context.Context, pkt model.Packet) {
	if pkt.Direction != model.DirectionSidelink {
		if pkt.Rnti != m.rnti {
			return
		}
		if lc, ok := m.lcs[pkt.Lcid]; ok && lc.user != nil {
			lc.user.ReceivePdu(ctx, pkt)
		}
		return
	}

	if !m.acceptsDestination(pkt.DstL2ID) {
		m.log.Debug(ctx, "dropping sidelink PDU for unknown destination", logging.Uint("dst", uint64(pkt.DstL2ID)))
		return
	}
	key := SidelinkLcKey{Lcid: pkt.Lcid, SrcL2ID: pkt.SrcL2ID, DstL2ID: pkt.DstL2ID}
	if _, ok := m.slLcs[key]; !ok {
		m.rrc.NotifySidelinkReception(ctx, pkt.Lcid, pkt.SrcL2ID, pkt.DstL2ID)
	}
	if lc, ok := m.slLcs[key]; ok && lc.user != nil {
		lc.user.ReceivePdu(ctx, pkt)
	}
}

// offer hands a transmission opportunity to a logical channel and
// transmits what it returns on slot.
func (m *UeMac) offer(ctx context.Context, lc *lcInfo, op TxOpportunity, slot sidelink.TransmissionInfo) error {
	if lc.user == nil || op.Bytes == 0 {
		return nil
	}
	for _, pkt := range lc.user.NotifyTxOpportunity(ctx, op) {
		if err := m.TransmitPdu(ctx, pkt, slot); err != nil {
			return err
		}
	}
	return nil
}

// serveDrain turns a DrainResult into transmission opportunities.
func (m *UeMac) serveDrain(ctx context.Context, lc *lcInfo, op TxOpportunity, res DrainResult, slot sidelink.TransmissionInfo) error {
	if res.Status > 0 {
		op.Bytes = res.Status
		if err := m.offer(ctx, lc, op, slot); err != nil {
			return err
		}
	}
	op.Bytes = res.Retx + res.Tx
	return m.offer(ctx, lc, op, slot)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func overheadFor(lcid uint8, dir model.Direction) uint32 {
	if dir == model.DirectionUplink && lcid == 1 {
		return srb1RlcHeaderOverhead
	}
	return rlcHeaderOverhead
}

// sortedSlKeys returns the sidelink channels towards dst in a stable order.
func (m *UeMac) sortedSlKeys(dst uint32) []SidelinkLcKey {
	var keys []SidelinkLcKey
	for key := range m.slLcs {
		if key.DstL2ID == dst {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Lcid != keys[j].Lcid {
			return keys[i].Lcid < keys[j].Lcid
		}
		return keys[i].SrcL2ID < keys[j].SrcL2ID
	})
	return keys
}
