package model

// MessageType enumerates the control messages exchanged with the PHY.
type MessageType int

const (
	MessageUlDci MessageType = iota
	MessageSlDci
	MessageSci
	MessageSciV2x
	MessageBsr
	MessageSlBsr
)

func (t MessageType) String() string {
	switch t {
	case MessageUlDci:
		return "UL_DCI"
	case MessageSlDci:
		return "SL_DCI"
	case MessageSci:
		return "SCI"
	case MessageSciV2x:
		return "SCI_V2X"
	case MessageBsr:
		return "BSR"
	case MessageSlBsr:
		return "SL_BSR"
	default:
		return "UNKNOWN"
	}
}

// ControlMessage is implemented by every message type below.
type ControlMessage interface {
	MessageType() MessageType
}

// UlDci is an uplink grant (DCI format 0).
type UlDci struct {
	Rnti    uint16
	Ndi     bool
	TbSize  uint32 // bytes
	RbStart uint16
	RbLen   uint16
	Mcs     uint8
}

// SlDci is a sidelink grant issued by the eNB (DCI format 5).
type SlDci struct {
	Rnti     uint16
	ResPscch uint16
	Tpc      uint8
	Hopping  uint8
	RbStart  uint16
	RbLen    uint16
	Trp      uint8
}

// Sci is sidelink control information for legacy communication pools
// (SCI format 0).
type Sci struct {
	Rnti       uint16
	ResPscch   uint16
	RbStart    uint16
	RbLen      uint16
	Trp        uint8
	Mcs        uint8
	TbSize     uint32
	GroupDstID uint8
}

// SciV2x is sidelink control information for V2X pools (SCI format 1).
type SciV2x struct {
	Rnti     uint16
	Priority uint8
	PRsvp    uint16 // reservation period, ms
	Riv      uint16
	SfGap    uint8
	Mcs      uint8
	ReTxIdx  uint8
	TbSize   uint32
	ResPscch uint16
}

// Bsr is an uplink buffer status report with one level per LCG.
type Bsr struct {
	Rnti         uint16
	BufferStatus [4]uint8
}

// SlBsr is a sidelink buffer status report indexed by pool index.
type SlBsr struct {
	Rnti         uint16
	BufferStatus [4]uint8
}

func (UlDci) MessageType() MessageType  { return MessageUlDci }
func (SlDci) MessageType() MessageType  { return MessageSlDci }
func (Sci) MessageType() MessageType    { return MessageSci }
func (SciV2x) MessageType() MessageType { return MessageSciV2x }
func (Bsr) MessageType() MessageType    { return MessageBsr }
func (SlBsr) MessageType() MessageType  { return MessageSlBsr }
