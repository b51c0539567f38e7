package mac

import (
	"context"

	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

type sentControl struct {
	at  int
	msg model.ControlMessage
}

type sentPdu struct {
	at   int
	pkt  model.Packet
	slot sidelink.TransmissionInfo
}

type fakePhy struct {
	tick     int
	controls []sentControl
	pdus     []sentPdu
}

func (p *fakePhy) SendControlMessage(_ context.Context, msg model.ControlMessage) {
	p.controls = append(p.controls, sentControl{at: p.tick, msg: msg})
}

func (p *fakePhy) SendMacPdu(_ context.Context, pkt model.Packet, slot sidelink.TransmissionInfo) {
	p.pdus = append(p.pdus, sentPdu{at: p.tick, pkt: pkt, slot: slot})
}

func (p *fakePhy) ofType(t model.MessageType) []sentControl {
	var out []sentControl
	for _, c := range p.controls {
		if c.msg.MessageType() == t {
			out = append(out, c)
		}
	}
	return out
}

// fakeAmc gives 100 bits per RB regardless of MCS.
type fakeAmc struct{}

func (fakeAmc) TbSizeBits(_ uint8, nRb uint16) uint32 { return uint32(nRb) * 100 }

type fakeRrc struct {
	hasData    int
	noData     int
	receptions []SidelinkLcKey
}

func (r *fakeRrc) NotifyHasSlData(context.Context) { r.hasData++ }
func (r *fakeRrc) NotifyNoSlData(context.Context)  { r.noData++ }
func (r *fakeRrc) NotifySidelinkReception(_ context.Context, lcid uint8, src, dst uint32) {
	r.receptions = append(r.receptions, SidelinkLcKey{Lcid: lcid, SrcL2ID: src, DstL2ID: dst})
}

// fakeLc answers every opportunity with one PDU filling it.
type fakeLc struct {
	ops      []TxOpportunity
	received []model.Packet
	seq      uint64
}

func (l *fakeLc) NotifyTxOpportunity(_ context.Context, op TxOpportunity) []model.Packet {
	l.ops = append(l.ops, op)
	l.seq++
	return []model.Packet{{
		Direction: op.Direction,
		Rnti:      op.Rnti,
		Lcid:      op.Lcid,
		SrcL2ID:   op.SrcL2ID,
		DstL2ID:   op.DstL2ID,
		Size:      op.Bytes,
		Seq:       l.seq,
	}}
}

func (l *fakeLc) ReceivePdu(_ context.Context, pkt model.Packet) {
	l.received = append(l.received, pkt)
}

// reselectionSizes is one ObserveReselection call.
type reselectionSizes struct {
	candidates, survivors, selected, relaxations int
}

type fakeMetrics struct {
	nopMetrics
	reselections int
	harqRetx     int
	sizes        []reselectionSizes
}

func (f *fakeMetrics) ObserveReselection(candidates, survivors, selected, relaxations int) {
	f.reselections++
	f.sizes = append(f.sizes, reselectionSizes{candidates, survivors, selected, relaxations})
}

func (f *fakeMetrics) IncHarqRetransmissions(n int) { f.harqRetx += n }
