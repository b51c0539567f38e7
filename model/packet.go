package model

// Direction tags where a MAC PDU travels.
type Direction int

const (
	DirectionUplink Direction = iota
	DirectionDownlink
	DirectionSidelink
)

func (d Direction) String() string {
	switch d {
	case DirectionUplink:
		return "UL"
	case DirectionDownlink:
		return "DL"
	case DirectionSidelink:
		return "SL"
	default:
		return "UNKNOWN"
	}
}

// Packet is a MAC PDU. Only sizes and addressing are modelled; there is
// no payload.
type Packet struct {
	Direction Direction
	Rnti      uint16
	Lcid      uint8
	SrcL2ID   uint32
	DstL2ID   uint32
	Size      uint32 // bytes
	Seq       uint64
	// CreatedAt is the subframe index at which the upper layer produced
	// the packet; used for latency statistics.
	CreatedAt int64
}

// SensingMeasurement is what the PHY reports for every decoded SCI V2X.
type SensingMeasurement struct {
	// Indication is the subframe at which the PHY delivers the report,
	// one subframe after reception.
	Indication SubframeInfo
	PRsvp      uint16
	RbStart    uint16
	RbLen      uint16
	Priority   uint8
	RsrpDbm    float64
	RssiDbm    float64
}
