package mac

import "github.com/signalsfoundry/sidelink-mac/model"

// HarqPeriod is the number of uplink HARQ processes and the lifetime, in
// subframes, of a process buffer awaiting retransmission.
const HarqPeriod = 7

type ulHarq struct {
	packets [HarqPeriod][]model.Packet
	timers  [HarqPeriod]int
	process int
}

// resetCurrent starts a new transmission on the current process.
func (h *ulHarq) resetCurrent() {
	h.packets[h.process] = nil
}

func (h *ulHarq) store(pkt model.Packet) {
	h.packets[h.process] = append(h.packets[h.process], pkt)
	h.timers[h.process] = HarqPeriod
}

// current returns the packets of the current process for retransmission
// and rearms its timer.
func (h *ulHarq) current() []model.Packet {
	h.timers[h.process] = HarqPeriod
	return h.packets[h.process]
}

// refresh ages every process and drops the buffers that expired.
func (h *ulHarq) refresh() {
	for i := range h.timers {
		if h.timers[i] == 0 {
			h.packets[i] = nil
			continue
		}
		h.timers[i]--
	}
}

func (h *ulHarq) advance() {
	h.process = (h.process + 1) % HarqPeriod
}

func (h *ulHarq) clear() {
	*h = ulHarq{}
}
