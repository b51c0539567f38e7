package sim

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/sidelink-mac/internal/mac"
	"github.com/signalsfoundry/sidelink-mac/model"
)

// rlcHeader is the per-PDU overhead the MAC charges to new data.
const rlcHeader = 2

// bufferReporter is the part of the MAC a generator reports to.
type bufferReporter interface {
	ReportSidelinkBufferStatus(key mac.SidelinkLcKey, bs mac.BufferStatus) error
}

// Generator produces periodic fixed-size packets on one sidelink logical
// channel and stands in for RLC UM: it queues SDUs, reports the queue to
// the MAC and hands whole SDUs out on transmission opportunities.
type Generator struct {
	key      mac.SidelinkLcKey
	size     uint32
	period   time.Duration
	jitter   time.Duration
	rng      *rand.Rand
	reporter bufferReporter
	now      func() int64

	queue []model.Packet
	seq   uint64
	dirty bool

	onGenerate func(model.Packet)
	onTransmit func(model.Packet)
	onReceive  func(model.Packet)
}

func newGenerator(key mac.SidelinkLcKey, size uint32, period, jitter time.Duration, seed uint64, reporter bufferReporter, now func() int64) *Generator {
	return &Generator{
		key:      key,
		size:     size,
		period:   period,
		jitter:   jitter,
		rng:      rand.New(rand.NewPCG(seed, seed^0x5ca1ab1e)),
		reporter: reporter,
		now:      now,
	}
}

// Start schedules the first arrival at a random offset in (0, period]
// after start.
func (g *Generator) Start(sched EventScheduler, start time.Time) {
	offset := time.Duration(1+g.rng.Int64N(int64(g.period/time.Millisecond))) * time.Millisecond
	g.scheduleArrival(sched, start.Add(offset))
}

func (g *Generator) scheduleArrival(sched EventScheduler, at time.Time) {
	sched.Schedule(at, func() {
		g.arrive()
		next := at.Add(g.period)
		if g.jitter > 0 {
			next = next.Add(time.Duration(g.rng.Int64N(int64(g.jitter/time.Millisecond)+1)) * time.Millisecond)
		}
		g.scheduleArrival(sched, next)
	})
}

func (g *Generator) arrive() {
	g.seq++
	pkt := model.Packet{
		Direction: model.DirectionSidelink,
		Lcid:      g.key.Lcid,
		SrcL2ID:   g.key.SrcL2ID,
		DstL2ID:   g.key.DstL2ID,
		Size:      g.size,
		Seq:       g.seq,
		CreatedAt: g.now(),
	}
	g.queue = append(g.queue, pkt)
	g.dirty = true
	if g.onGenerate != nil {
		g.onGenerate(pkt)
	}
}

// Queued returns the number of bytes waiting for transmission.
func (g *Generator) Queued() uint32 {
	var n uint32
	for _, p := range g.queue {
		n += p.Size
	}
	return n
}

// Report pushes the queue size to the MAC if it changed since the last
// report.
func (g *Generator) Report() error {
	if !g.dirty {
		return nil
	}
	g.dirty = false
	return g.reporter.ReportSidelinkBufferStatus(g.key, mac.BufferStatus{TxQueue: g.Queued()})
}

// NotifyTxOpportunity hands out the queued SDUs that fit in op.Bytes
// after the RLC header. SDUs are never segmented.
func (g *Generator) NotifyTxOpportunity(_ context.Context, op mac.TxOpportunity) []model.Packet {
	if op.Bytes <= rlcHeader {
		return nil
	}
	room := op.Bytes - rlcHeader
	var out []model.Packet
	for len(g.queue) > 0 && g.queue[0].Size <= room {
		pkt := g.queue[0]
		g.queue = g.queue[1:]
		room -= pkt.Size
		pkt.Rnti = op.Rnti
		out = append(out, pkt)
		if g.onTransmit != nil {
			g.onTransmit(pkt)
		}
	}
	g.dirty = true
	return out
}

// ReceivePdu counts a PDU received on this channel.
func (g *Generator) ReceivePdu(_ context.Context, pkt model.Packet) {
	if g.onReceive != nil {
		g.onReceive(pkt)
	}
}
