package mac

import (
	"context"

	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

// Phy is the physical layer seen from the MAC.
type Phy interface {
	SendControlMessage(ctx context.Context, msg model.ControlMessage)
	SendMacPdu(ctx context.Context, pkt model.Packet, slot sidelink.TransmissionInfo)
}

// Amc maps an MCS and RB count to a transport block size in bits.
type Amc interface {
	TbSizeBits(mcs uint8, nRb uint16) uint32
}

// Rrc receives sidelink activity notifications.
type Rrc interface {
	NotifyHasSlData(ctx context.Context)
	NotifyNoSlData(ctx context.Context)
	NotifySidelinkReception(ctx context.Context, lcid uint8, srcL2ID, dstL2ID uint32)
}

// TxOpportunity is offered to a logical channel when the MAC has room.
type TxOpportunity struct {
	Bytes     uint32
	Lcid      uint8
	Rnti      uint16
	Direction model.Direction
	SrcL2ID   uint32
	DstL2ID   uint32
	Subframe  model.SubframeInfo
}

// LcUser is the upper layer behind one logical channel. NotifyTxOpportunity
// returns the PDUs built for the opportunity; their sizes must not exceed
// op.Bytes in total.
type LcUser interface {
	NotifyTxOpportunity(ctx context.Context, op TxOpportunity) []model.Packet
	ReceivePdu(ctx context.Context, pkt model.Packet)
}

// LcConfig is the static configuration of a logical channel.
type LcConfig struct {
	Lcid     uint8
	Lcg      uint8
	Priority uint8
}

// SidelinkLcKey identifies a sidelink logical channel.
type SidelinkLcKey struct {
	Lcid    uint8
	SrcL2ID uint32
	DstL2ID uint32
}

// MetricsRecorder receives MAC events for instrumentation.
type MetricsRecorder interface {
	ObserveReselection(candidates, survivors, selected, relaxations int)
	IncControlMessages(kind string)
	IncHarqRetransmissions(n int)
	SetSensingRecords(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveReselection(int, int, int, int) {}
func (nopMetrics) IncControlMessages(string)             {}
func (nopMetrics) IncHarqRetransmissions(int)            {}
func (nopMetrics) SetSensingRecords(int)                 {}
