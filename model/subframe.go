package model

import "fmt"

const (
	// MaxFrame is the highest frame number; frames run 1..MaxFrame.
	MaxFrame = 1024
	// SubframesPerFrame is the number of 1 ms subframes in a frame.
	SubframesPerFrame = 10
	// SubframesPerCycle is the length of the cyclic timeline.
	SubframesPerCycle = MaxFrame * SubframesPerFrame

	// SchedulingAdvance is how far ahead of the PHY tick the MAC schedules.
	SchedulingAdvance = 4
)

// SubframeInfo identifies one 1 ms subframe on the cyclic LTE timeline.
// Both Frame and Subframe are 1-indexed.
type SubframeInfo struct {
	Frame    uint32 `json:"frame" yaml:"frame"`
	Subframe uint32 `json:"subframe" yaml:"subframe"`
}

// NewSubframeInfo builds a SubframeInfo without normalisation.
func NewSubframeInfo(frame, subframe uint32) SubframeInfo {
	return SubframeInfo{Frame: frame, Subframe: subframe}
}

// Valid reports whether s lies on the timeline.
func (s SubframeInfo) Valid() bool {
	return s.Frame >= 1 && s.Frame <= MaxFrame && s.Subframe >= 1 && s.Subframe <= SubframesPerFrame
}

// Index maps s to 0..SubframesPerCycle-1.
func (s SubframeInfo) Index() int {
	return int(s.Frame-1)*SubframesPerFrame + int(s.Subframe-1)
}

// SubframeFromIndex is the inverse of Index. Any integer is accepted and
// reduced modulo the cycle length.
func SubframeFromIndex(idx int) SubframeInfo {
	idx %= SubframesPerCycle
	if idx < 0 {
		idx += SubframesPerCycle
	}
	return SubframeInfo{
		Frame:    uint32(idx/SubframesPerFrame) + 1,
		Subframe: uint32(idx%SubframesPerFrame) + 1,
	}
}

// Add moves s by n subframes (n may be negative), wrapping at frame 1024.
func (s SubframeInfo) Add(n int) SubframeInfo {
	return SubframeFromIndex(s.Index() + n)
}

// Next returns the following subframe.
func (s SubframeInfo) Next() SubframeInfo {
	return s.Add(1)
}

// Diff returns the forward cyclic distance from other to s, in subframes.
func (s SubframeInfo) Diff(other SubframeInfo) int {
	d := (s.Index() - other.Index()) % SubframesPerCycle
	if d < 0 {
		d += SubframesPerCycle
	}
	return d
}

// AdvanceScheduling applies the fixed MAC scheduling advance to a PHY tick.
func (s SubframeInfo) AdvanceScheduling() SubframeInfo {
	return s.Add(SchedulingAdvance)
}

func (s SubframeInfo) String() string {
	return fmt.Sprintf("%d/%d", s.Frame, s.Subframe)
}
