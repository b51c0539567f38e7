package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MACCollector exposes UE MAC scheduling metrics. One collector serves
// every UE of a run; ForUE hands out per-UE recorders.
type MACCollector struct {
	gatherer prometheus.Gatherer

	Reselections         prometheus.Counter
	CandidateSetSize     prometheus.Histogram
	SelectionSize        prometheus.Histogram
	ThresholdRelaxations prometheus.Histogram
	ControlMessages      *prometheus.CounterVec
	HarqRetransmissions  prometheus.Counter
	SensingWindowRecords *prometheus.GaugeVec
}

// NewMACCollector registers MAC metrics against the provided registerer,
// defaulting to the global registry when nil.
func NewMACCollector(reg prometheus.Registerer) (*MACCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	reselections, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mac_reselections_total",
		Help: "Sensing-based resource reselections performed.",
	}), "mac_reselections_total")
	if err != nil {
		return nil, err
	}

	csr, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mac_candidate_survivors",
		Help:    "Candidates left after sensing-based exclusion.",
		Buckets: prometheus.ExponentialBuckets(4, 2, 8),
	}), "mac_candidate_survivors")
	if err != nil {
		return nil, err
	}

	selection, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mac_selection_size",
		Help:    "Candidates kept after RSSI ranking.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	}), "mac_selection_size")
	if err != nil {
		return nil, err
	}

	relaxations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mac_rsrp_threshold_relaxations",
		Help:    "RSRP threshold increases needed to reach the survivor ratio.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
	}), "mac_rsrp_threshold_relaxations")
	if err != nil {
		return nil, err
	}

	controls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mac_control_messages_total",
		Help: "Control messages sent to the PHY, labeled by message type.",
	}, []string{"type"})
	controls, err = registerCounterVec(reg, controls, "mac_control_messages_total")
	if err != nil {
		return nil, err
	}

	harq, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mac_harq_retransmissions_total",
		Help: "MAC PDUs resent from a HARQ buffer.",
	}), "mac_harq_retransmissions_total")
	if err != nil {
		return nil, err
	}

	sensing := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mac_sensing_window_records",
		Help: "Records held in the sensing window, labeled by UE.",
	}, []string{"ue"})
	sensing, err = registerGaugeVec(reg, sensing, "mac_sensing_window_records")
	if err != nil {
		return nil, err
	}

	return &MACCollector{
		gatherer:             gatherer,
		Reselections:         reselections,
		CandidateSetSize:     csr,
		SelectionSize:        selection,
		ThresholdRelaxations: relaxations,
		ControlMessages:      controls,
		HarqRetransmissions:  harq,
		SensingWindowRecords: sensing,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *MACCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *MACCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ForUE returns a recorder tagging per-UE series with ue.
func (c *MACCollector) ForUE(ue string) *UERecorder {
	return &UERecorder{c: c, ue: ue}
}

// UERecorder feeds one UE's MAC events into a MACCollector.
type UERecorder struct {
	c  *MACCollector
	ue string
}

func (r *UERecorder) ObserveReselection(candidates, survivors, selected, relaxations int) {
	if r == nil || r.c == nil {
		return
	}
	r.c.Reselections.Inc()
	r.c.CandidateSetSize.Observe(float64(survivors))
	r.c.SelectionSize.Observe(float64(selected))
	r.c.ThresholdRelaxations.Observe(float64(relaxations))
}

func (r *UERecorder) IncControlMessages(kind string) {
	if r == nil || r.c == nil {
		return
	}
	r.c.ControlMessages.WithLabelValues(kind).Inc()
}

func (r *UERecorder) IncHarqRetransmissions(n int) {
	if r == nil || r.c == nil || n <= 0 {
		return
	}
	r.c.HarqRetransmissions.Add(float64(n))
}

func (r *UERecorder) SetSensingRecords(n int) {
	if r == nil || r.c == nil {
		return
	}
	r.c.SensingWindowRecords.WithLabelValues(r.ue).Set(float64(n))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
