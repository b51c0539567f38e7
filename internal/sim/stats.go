package sim

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/sidelink-mac/internal/phy"
	"github.com/signalsfoundry/sidelink-mac/model"
)

// Stats summarises a run.
type Stats struct {
	Subframes int
	UEs       int

	Generated   uint64
	Transmitted uint64
	// Receptions counts every PDU copy that reached a receiver above
	// sensitivity, HARQ repeats included.
	Receptions uint64
	Decoded    uint64
	HalfDuplex uint64
	// Collisions are receptions lost to interference.
	Collisions uint64

	// Delivered counts distinct (packet, receiver) pairs passed up by a
	// receiving MAC; Attempted counts the pairs that reached a receiver
	// at all.
	Delivered uint64
	Attempted uint64

	// PDR is Delivered / Attempted.
	PDR float64
	// PDRPerUEMean and PDRPerUEStdDev are taken over transmitting UEs.
	PDRPerUEMean   float64
	PDRPerUEStdDev float64

	MeanLatencyMs float64
	MaxLatencyMs  float64
}

type pairKey struct {
	src uint32
	seq uint64
	rx  string
}

// statsCollector gathers run statistics from the medium and the traffic
// generators. It is driven from the engine goroutine only.
type statsCollector struct {
	ues      int
	tick     func() int64
	attempts map[pairKey]bool
	delivers map[pairKey]bool

	generated, transmitted uint64
	receptions, decoded    uint64
	halfDuplex, collisions uint64
	latenciesMs            []float64
}

func newStatsCollector(ues int, tick func() int64) *statsCollector {
	c := &statsCollector{
		ues:      ues,
		tick:     tick,
		attempts: make(map[pairKey]bool),
		delivers: make(map[pairKey]bool),
	}
	return c
}

func (c *statsCollector) generatedPacket(model.Packet)   { c.generated++ }
func (c *statsCollector) transmittedPacket(model.Packet) { c.transmitted++ }

func (c *statsCollector) reception(r phy.Reception) {
	c.receptions++
	switch {
	case r.Decoded:
		c.decoded++
	case r.HalfDuplex:
		c.halfDuplex++
	default:
		c.collisions++
	}
	c.attempts[pairKey{src: r.Packet.SrcL2ID, seq: r.Packet.Seq, rx: r.Rx}] = true
}

func (c *statsCollector) delivered(rx string, pkt model.Packet) {
	key := pairKey{src: pkt.SrcL2ID, seq: pkt.Seq, rx: rx}
	if c.delivers[key] {
		return
	}
	c.delivers[key] = true
	c.latenciesMs = append(c.latenciesMs, float64(c.tick()-pkt.CreatedAt))
}

func (c *statsCollector) snapshot(subframes int) Stats {
	s := Stats{
		Subframes:   subframes,
		UEs:         c.ues,
		Generated:   c.generated,
		Transmitted: c.transmitted,
		Receptions:  c.receptions,
		Decoded:     c.decoded,
		HalfDuplex:  c.halfDuplex,
		Collisions:  c.collisions,
		Attempted:   uint64(len(c.attempts)),
		Delivered:   uint64(len(c.delivers)),
	}
	if s.Attempted > 0 {
		s.PDR = float64(s.Delivered) / float64(s.Attempted)
	}

	perSrcAttempts := map[uint32]float64{}
	perSrcDelivered := map[uint32]float64{}
	for k := range c.attempts {
		perSrcAttempts[k.src]++
		if c.delivers[k] {
			perSrcDelivered[k.src]++
		}
	}
	srcs := make([]uint32, 0, len(perSrcAttempts))
	for src := range perSrcAttempts {
		srcs = append(srcs, src)
	}
	sort.Slice(srcs, func(i, j int) bool { return srcs[i] < srcs[j] })
	ratios := make([]float64, 0, len(srcs))
	for _, src := range srcs {
		ratios = append(ratios, perSrcDelivered[src]/perSrcAttempts[src])
	}
	switch len(ratios) {
	case 0:
	case 1:
		s.PDRPerUEMean = ratios[0]
	default:
		s.PDRPerUEMean, s.PDRPerUEStdDev = stat.MeanStdDev(ratios, nil)
	}

	if len(c.latenciesMs) > 0 {
		s.MeanLatencyMs = stat.Mean(c.latenciesMs, nil)
		for _, l := range c.latenciesMs {
			if l > s.MaxLatencyMs {
				s.MaxLatencyMs = l
			}
		}
	}
	return s
}
