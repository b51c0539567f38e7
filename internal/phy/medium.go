package phy

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/signalsfoundry/sidelink-mac/internal/logging"
	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/kb"
	"github.com/signalsfoundry/sidelink-mac/model"
)

// ErrUnknownVehicle is returned when attaching a vehicle missing from the KB.
var ErrUnknownVehicle = errors.New("unknown vehicle")

// rbBandwidthHz is the bandwidth of one resource block.
const rbBandwidthHz = 180e3

// Config holds the radio model of the medium.
type Config struct {
	TxPowerDbm float64 `yaml:"tx_power_dbm"`
	// Path loss is ReferenceLossDb + 10*PathlossExponent*log10(d / 1 m).
	ReferenceLossDb  float64 `yaml:"reference_loss_db"`
	PathlossExponent float64 `yaml:"pathloss_exponent"`
	NoiseFigureDb    float64 `yaml:"noise_figure_db"`
	// SensitivityDbm is the weakest signal the receiver detects at all.
	SensitivityDbm float64 `yaml:"sensitivity_dbm"`
}

// DefaultConfig returns a 5.9 GHz highway channel.
func DefaultConfig() Config {
	return Config{
		TxPowerDbm:       23,
		ReferenceLossDb:  47.86,
		PathlossExponent: 2.75,
		NoiseFigureDb:    9,
		SensitivityDbm:   -110,
	}
}

// Receiver is the MAC entity behind an attached UE.
type Receiver interface {
	PassSensingData(ctx context.Context, meas model.SensingMeasurement)
	ReceivePhyPdu(ctx context.Context, pkt model.Packet)
}

// Reception reports the fate of one PDU at one receiver.
type Reception struct {
	Tx, Rx   string
	Packet   model.Packet
	Subframe model.SubframeInfo
	SinrDb   float64
	Decoded  bool
	// HalfDuplex is set when the receiver was itself transmitting.
	HalfDuplex bool
}

type transmission struct {
	from     *UEPhy
	subframe model.SubframeInfo
	sci      *model.SciV2x
	legacy   *model.Sci
	pdus     []model.Packet
	rbStart  uint16
	rbLen    uint16
	mcs      uint8
}

// Medium is a shared sidelink channel. Transmissions made while the MAC
// schedules subframe s reach the other UEs one subframe later. It is not
// safe for concurrent use.
type Medium struct {
	cfg  Config
	kb   *kb.KnowledgeBase
	pool *sidelink.V2xPool
	log  logging.Logger

	ues     []*UEPhy
	now     model.SubframeInfo
	pending []*transmission

	onReception func(Reception)
	uplink      int
}

// MediumOption customises a Medium.
type MediumOption func(*Medium)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) MediumOption {
	return func(m *Medium) {
		if l != nil {
			m.log = l
		}
	}
}

// WithReceptionHook registers a callback invoked for every PDU delivery attempt.
func WithReceptionHook(fn func(Reception)) MediumOption {
	return func(m *Medium) { m.onReception = fn }
}

// NewMedium builds a medium over the vehicles of store. pool is used to
// decode the PSSCH footprint announced by SCI V2X; it may be nil when only
// legacy pools are in use.
func NewMedium(cfg Config, store *kb.KnowledgeBase, pool *sidelink.V2xPool, opts ...MediumOption) *Medium {
	m := &Medium{cfg: cfg, kb: store, pool: pool, log: logging.Noop()}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Attach connects the vehicle id to the medium and returns its PHY.
func (m *Medium) Attach(id string, rx Receiver) (*UEPhy, error) {
	if _, ok := m.kb.GetVehicle(id); !ok {
		return nil, fmt.Errorf("Attach: %w: %q", ErrUnknownVehicle, id)
	}
	p := &UEPhy{id: id, medium: m, rx: rx}
	m.ues = append(m.ues, p)
	return p, nil
}

// BeginSubframe starts PHY subframe phyNow: transmissions that went on air
// in the previous subframe reach their receivers, and transmissions made
// during this tick are tagged with the MAC scheduling subframe.
func (m *Medium) BeginSubframe(ctx context.Context, phyNow model.SubframeInfo) {
	m.now = phyNow.AdvanceScheduling()

	var due []*transmission
	kept := m.pending[:0]
	for _, tx := range m.pending {
		if tx.subframe.Next() == phyNow {
			due = append(due, tx)
		} else {
			kept = append(kept, tx)
		}
	}
	clear(m.pending[len(kept):])
	m.pending = kept
	if len(due) > 0 {
		m.deliverSubframe(ctx, phyNow.Add(-1), due)
	}
}

// Pending returns the number of transmissions not yet on air.
func (m *Medium) Pending() int { return len(m.pending) }

// UplinkMessages is the number of UL PDUs and BSRs sent; the harness has no
// eNB to receive them.
func (m *Medium) UplinkMessages() int { return m.uplink }

func (m *Medium) deliverSubframe(ctx context.Context, sf model.SubframeInfo, txs []*transmission) {
	transmitting := map[*UEPhy]bool{}
	for _, tx := range txs {
		transmitting[tx.from] = true
	}
	indication := sf.Next()

	for _, rx := range m.ues {
		for i, tx := range txs {
			if tx.from == rx {
				continue
			}
			signal, ok := m.receivedPowerDbm(tx.from.id, rx.id)
			if !ok || signal < m.cfg.SensitivityDbm {
				continue
			}
			var interference []float64
			for j, other := range txs {
				if j == i || other.from == rx || !rbOverlap(tx, other) {
					continue
				}
				if p, ok := m.receivedPowerDbm(other.from.id, rx.id); ok {
					interference = append(interference, dbmToMw(p))
				}
			}
			noise := dbmToMw(m.noiseDbm(tx.rbLen))
			totalMw := dbmToMw(signal) + floats.Sum(interference) + noise
			sinr := signal - mwToDbm(floats.Sum(interference)+noise)

			if tx.sci != nil && !transmitting[rx] {
				rx.rx.PassSensingData(ctx, model.SensingMeasurement{
					Indication: indication,
					PRsvp:      tx.sci.PRsvp,
					RbStart:    tx.rbStart,
					RbLen:      tx.rbLen,
					Priority:   tx.sci.Priority,
					RsrpDbm:    signal - 10*math.Log10(12*float64(tx.rbLen)),
					RssiDbm:    mwToDbm(totalMw),
				})
			}

			decoded := !transmitting[rx] && sinr >= RequiredSinrDb(tx.mcs)
			for _, pkt := range tx.pdus {
				if decoded {
					rx.rx.ReceivePhyPdu(ctx, pkt)
				}
				if m.onReception != nil {
					m.onReception(Reception{
						Tx:         tx.from.id,
						Rx:         rx.id,
						Packet:     pkt,
						Subframe:   sf,
						SinrDb:     sinr,
						Decoded:    decoded,
						HalfDuplex: transmitting[rx],
					})
				}
			}
		}
	}
}

func (m *Medium) receivedPowerDbm(from, to string) (float64, bool) {
	d, err := m.kb.Distance(from, to)
	if err != nil {
		return 0, false
	}
	return m.cfg.TxPowerDbm - m.pathLossDb(d), true
}

func (m *Medium) pathLossDb(d float64) float64 {
	d = math.Max(d, 1)
	return m.cfg.ReferenceLossDb + 10*m.cfg.PathlossExponent*math.Log10(d)
}

func (m *Medium) noiseDbm(nRb uint16) float64 {
	bw := rbBandwidthHz * math.Max(float64(nRb), 1)
	return -174 + 10*math.Log10(bw) + m.cfg.NoiseFigureDb
}

func rbOverlap(a, b *transmission) bool {
	return a.rbStart < b.rbStart+b.rbLen && b.rbStart < a.rbStart+a.rbLen
}

func dbmToMw(dbm float64) float64 { return math.Pow(10, dbm/10) }

func mwToDbm(mw float64) float64 { return 10 * math.Log10(mw) }

// UEPhy is the PHY of one attached UE. It implements the MAC's PHY
// interface by queueing transmissions on the medium.
type UEPhy struct {
	id     string
	medium *Medium
	rx     Receiver

	// current groups the SCI and PDUs sent in the current subframe.
	current *transmission
	// legacyMcs is the MCS of the last SCI format 0, which covers the
	// PSSCH subframes of its SC period.
	legacyMcs uint8
}

// ID returns the vehicle the PHY belongs to.
func (p *UEPhy) ID() string { return p.id }

func (p *UEPhy) transmission() *transmission {
	m := p.medium
	if p.current == nil || p.current.subframe != m.now {
		p.current = &transmission{from: p, subframe: m.now}
		m.pending = append(m.pending, p.current)
	}
	return p.current
}

// SendControlMessage transmits an SCI on the sidelink; uplink control is
// counted and dropped.
func (p *UEPhy) SendControlMessage(ctx context.Context, msg model.ControlMessage) {
	switch v := msg.(type) {
	case model.SciV2x:
		tx := p.transmission()
		tx.sci = &v
		tx.mcs = v.Mcs
		if p.medium.pool == nil {
			return
		}
		rbStart, rbLen, err := p.medium.pool.PsschAllocation(v)
		if err != nil {
			p.medium.log.Warn(ctx, "undecodable SCI V2X", logging.String("ue", p.id), logging.Err(err))
			return
		}
		tx.rbStart, tx.rbLen = rbStart, rbLen
	case model.Sci:
		tx := p.transmission()
		tx.legacy = &v
		tx.mcs = v.Mcs
		p.legacyMcs = v.Mcs
	default:
		p.medium.uplink++
	}
}

// SendMacPdu transmits a MAC PDU on slot.
func (p *UEPhy) SendMacPdu(_ context.Context, pkt model.Packet, slot sidelink.TransmissionInfo) {
	if pkt.Direction != model.DirectionSidelink {
		p.medium.uplink++
		return
	}
	tx := p.transmission()
	// The slot is authoritative; a retransmission may sit on a different
	// subchannel than the one the SCI points at.
	if slot.RbLen > 0 {
		tx.rbStart, tx.rbLen = slot.RbStart, slot.RbLen
	}
	if tx.sci == nil && tx.legacy == nil {
		tx.mcs = p.legacyMcs
	}
	tx.pdus = append(tx.pdus, pkt)
}
