// Package sim runs multi-UE sidelink scenarios: one UE MAC per vehicle on
// a shared medium, driven one subframe at a time.
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/sidelink-mac/internal/logging"
	"github.com/signalsfoundry/sidelink-mac/internal/mac"
	"github.com/signalsfoundry/sidelink-mac/internal/phy"
	"github.com/signalsfoundry/sidelink-mac/internal/scenario"
	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/kb"
	"github.com/signalsfoundry/sidelink-mac/model"
	"github.com/signalsfoundry/sidelink-mac/timectrl"
)

const tracerName = "github.com/signalsfoundry/sidelink-mac/internal/sim"

// ErrAlreadyRan is returned by a second call to Run.
var ErrAlreadyRan = errors.New("engine already ran")

// epoch anchors simulation time; subframe 1 of frame 1 starts here.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ue is one vehicle: its MAC, PHY attachment and traffic.
type ue struct {
	def model.VehicleDefinition
	mac *mac.UeMac
	phy *phy.UEPhy
	gen *Generator
	log logging.Logger

	lcCfg mac.LcConfig
}

// PassSensingData and ReceivePhyPdu let the medium reach the MAC, which
// is built after the PHY is attached.
func (u *ue) PassSensingData(ctx context.Context, meas model.SensingMeasurement) {
	u.mac.PassSensingData(ctx, meas)
}

func (u *ue) ReceivePhyPdu(ctx context.Context, pkt model.Packet) {
	u.mac.ReceivePhyPdu(ctx, pkt)
}

// The RRC side of a UE: reception on an unknown sidelink channel sets up
// a receiving channel served by the UE's generator.
func (u *ue) NotifyHasSlData(ctx context.Context) {
	u.log.Debug(ctx, "sidelink data pending")
}

func (u *ue) NotifyNoSlData(ctx context.Context) {
	u.log.Debug(ctx, "sidelink buffers empty")
}

func (u *ue) NotifySidelinkReception(ctx context.Context, lcid uint8, src, dst uint32) {
	key := mac.SidelinkLcKey{Lcid: lcid, SrcL2ID: src, DstL2ID: dst}
	cfg := u.lcCfg
	cfg.Lcid = lcid
	if err := u.mac.AddSlLc(key, cfg, u.gen); err != nil {
		u.log.Warn(ctx, "failed to set up receiving channel", logging.Err(err))
		return
	}
	u.log.Debug(ctx, "receiving channel established",
		logging.Uint("src", uint64(src)),
		logging.Uint("dst", uint64(dst)),
	)
}

// Engine owns the simulated world of one scenario.
type Engine struct {
	sc     *scenario.Scenario
	log    logging.Logger
	tracer trace.Tracer

	kb     *kb.KnowledgeBase
	medium *phy.Medium
	tc     *timectrl.TimeController
	events EventScheduler
	ues    []*ue
	stats  *statsCollector

	tick          int64
	ran           bool
	err           error
	runCtx        context.Context
	cancel        context.CancelFunc
	progressEvery int
	progress      func(Stats)
}

// Option customises an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	log           logging.Logger
	tracer        trace.Tracer
	metrics       func(ue string) mac.MetricsRecorder
	mode          timectrl.Mode
	startupDelay  *int
	progressEvery int
	progress      func(Stats)
}

// WithLogger attaches a structured logger to the engine and every MAC.
func WithLogger(l logging.Logger) Option {
	return func(o *engineOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *engineOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithMetrics supplies a MAC metrics recorder per vehicle id.
func WithMetrics(fn func(ue string) mac.MetricsRecorder) Option {
	return func(o *engineOptions) { o.metrics = fn }
}

// WithRealTime paces the run against the wall clock.
func WithRealTime() Option {
	return func(o *engineOptions) { o.mode = timectrl.RealTime }
}

// WithStartupDelay fixes every MAC's startup delay.
func WithStartupDelay(subframes int) Option {
	return func(o *engineOptions) { o.startupDelay = &subframes }
}

// WithProgress calls fn with the running statistics every n subframes.
func WithProgress(n int, fn func(Stats)) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.progressEvery, o.progress = n, fn
		}
	}
}

// NewEngine builds the knowledge base, medium, MACs and traffic of sc.
func NewEngine(sc *scenario.Scenario, opts ...Option) (*Engine, error) {
	if sc == nil {
		return nil, fmt.Errorf("NewEngine: scenario is nil")
	}
	o := engineOptions{
		log:    logging.Noop(),
		tracer: otel.Tracer(tracerName),
		mode:   timectrl.Accelerated,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	e := &Engine{
		sc:            sc,
		log:           o.log.With(logging.String("scenario", sc.Name)),
		tracer:        o.tracer,
		kb:            kb.NewKnowledgeBase(),
		tc:            timectrl.NewTimeController(epoch, timectrl.SubframeDuration, o.mode),
		progressEvery: o.progressEvery,
		progress:      o.progress,
	}
	e.events = NewEventScheduler(e.tc)
	e.stats = newStatsCollector(len(sc.Vehicles), func() int64 { return e.tick })

	var v2xPool *sidelink.V2xPool
	var commPool *sidelink.CommPool
	var err error
	switch {
	case sc.V2xPool != nil:
		if v2xPool, err = sidelink.NewV2xPool(*sc.V2xPool); err != nil {
			return nil, fmt.Errorf("NewEngine: %w", err)
		}
	case sc.CommPool != nil:
		if commPool, err = sidelink.NewCommPool(*sc.CommPool); err != nil {
			return nil, fmt.Errorf("NewEngine: %w", err)
		}
	default:
		return nil, fmt.Errorf("NewEngine: %w: no resource pool", scenario.ErrInvalidScenario)
	}

	for i := range sc.Vehicles {
		def := sc.Vehicles[i]
		if err := e.kb.AddVehicle(&def); err != nil {
			return nil, fmt.Errorf("NewEngine: %w", err)
		}
	}
	e.medium = phy.NewMedium(sc.Phy, e.kb, v2xPool,
		phy.WithLogger(e.log),
		phy.WithReceptionHook(e.stats.reception),
	)

	for i, def := range sc.Vehicles {
		u, err := e.newUE(i, def, o, v2xPool, commPool)
		if err != nil {
			return nil, fmt.Errorf("NewEngine: vehicle %q: %w", def.ID, err)
		}
		e.ues = append(e.ues, u)
	}
	e.tc.AddListener(e.onTick)
	return e, nil
}

func (e *Engine) newUE(i int, def model.VehicleDefinition, o engineOptions, v2xPool *sidelink.V2xPool, commPool *sidelink.CommPool) (*ue, error) {
	u := &ue{
		def:   def,
		log:   e.log.With(logging.String("ue", def.ID)),
		lcCfg: mac.LcConfig{Lcid: e.sc.Traffic.Lcid, Priority: e.sc.Traffic.Priority},
	}
	p, err := e.medium.Attach(def.ID, u)
	if err != nil {
		return nil, err
	}
	u.phy = p

	cfg := e.sc.MAC
	cfg.Seed = e.sc.Seed*1000003 + uint64(i) + 1
	macOpts := []mac.Option{mac.WithLogger(u.log), mac.WithTracer(e.tracer)}
	if o.metrics != nil {
		macOpts = append(macOpts, mac.WithMetricsRecorder(o.metrics(def.ID)))
	}
	if o.startupDelay != nil {
		macOpts = append(macOpts, mac.WithStartupDelay(*o.startupDelay))
	}
	m, err := mac.NewUeMac(cfg, p, phy.Amc{}, u, macOpts...)
	if err != nil {
		return nil, err
	}
	m.SetRnti(def.Rnti)
	u.mac = m

	dst := e.sc.GroupDst
	m.AddDestination(dst)
	if v2xPool != nil {
		err = m.AddV2xPool(dst, v2xPool)
	} else {
		err = m.AddCommPool(dst, commPool)
	}
	if err != nil {
		return nil, err
	}

	key := mac.SidelinkLcKey{Lcid: e.sc.Traffic.Lcid, SrcL2ID: def.L2ID, DstL2ID: dst}
	t := e.sc.Traffic
	u.gen = newGenerator(key, t.PacketSize,
		time.Duration(t.PeriodMs)*time.Millisecond,
		time.Duration(t.JitterMs)*time.Millisecond,
		cfg.Seed, m, func() int64 { return e.tick })
	u.gen.onGenerate = e.stats.generatedPacket
	u.gen.onTransmit = e.stats.transmittedPacket
	u.gen.onReceive = func(pkt model.Packet) { e.stats.delivered(def.ID, pkt) }
	if err := m.AddSlLc(key, u.lcCfg, u.gen); err != nil {
		return nil, err
	}
	return u, nil
}

// Run drives the scenario to its end or until ctx is cancelled, and
// returns the run statistics. A MAC error stops the run.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	if e.ran {
		return Stats{}, ErrAlreadyRan
	}
	e.ran = true

	ctx, log := logging.WithRunLogger(ctx, e.log)
	ctx, span := e.tracer.Start(ctx, "sim.run", trace.WithAttributes(
		attribute.String("sim.scenario", e.sc.Name),
		attribute.Int("sim.ues", len(e.ues)),
		attribute.Int("sim.subframes", e.sc.Subframes()),
	))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancel = cancel
	e.runCtx = ctx

	for _, u := range e.ues {
		u.gen.Start(e.events, epoch)
	}
	log.Info(ctx, "simulation started",
		logging.Int("ues", len(e.ues)),
		logging.Int("subframes", e.sc.Subframes()),
	)

	err := e.tc.Run(ctx, e.sc.Duration)
	stats := e.Stats()
	span.SetAttributes(
		attribute.Float64("sim.pdr", stats.PDR),
		attribute.Int64("sim.collisions", int64(stats.Collisions)),
	)
	if e.err != nil {
		err = e.err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error(ctx, "simulation aborted", logging.Err(err), logging.Int("subframes", int(e.tick)))
		return stats, fmt.Errorf("Run: %w", err)
	}
	log.Info(ctx, "simulation complete",
		logging.Float("pdr", stats.PDR),
		logging.Int("delivered", int(stats.Delivered)),
		logging.Int("collisions", int(stats.Collisions)),
		logging.Float("mean_latency_ms", stats.MeanLatencyMs),
	)
	return stats, nil
}

// onTick advances the world by one subframe.
func (e *Engine) onTick(now time.Time) {
	if e.err != nil {
		return
	}
	if err := e.step(e.runCtx, now); err != nil {
		e.err = err
		e.cancel()
	}
}

func (e *Engine) step(ctx context.Context, now time.Time) error {
	e.tick++
	sf := e.tc.Subframe(now)

	e.medium.BeginSubframe(ctx, sf)
	e.events.RunDue()
	for _, u := range e.ues {
		if err := u.gen.Report(); err != nil {
			return fmt.Errorf("subframe %s: ue %s: %w", sf, u.def.ID, err)
		}
	}
	for _, u := range e.ues {
		if err := u.mac.SubframeIndication(ctx, sf.Frame, sf.Subframe); err != nil {
			return fmt.Errorf("subframe %s: ue %s: %w", sf, u.def.ID, err)
		}
	}
	e.kb.Advance(timectrl.SubframeDuration.Seconds())

	if e.progress != nil && e.tick%int64(e.progressEvery) == 0 {
		e.progress(e.Stats())
	}
	return nil
}

// Stats returns the statistics gathered so far.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot(int(e.tick))
}

// UE returns the MAC of vehicle id, for inspection.
func (e *Engine) UE(id string) (*mac.UeMac, bool) {
	for _, u := range e.ues {
		if u.def.ID == id {
			return u.mac, true
		}
	}
	return nil, false
}
