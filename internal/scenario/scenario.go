// Package scenario loads sidelink simulation scenarios from YAML.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/sidelink-mac/internal/mac"
	"github.com/signalsfoundry/sidelink-mac/internal/phy"
	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

// ErrInvalidScenario is wrapped by every validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// DefaultGroupDst is the broadcast destination used when a scenario names none.
const DefaultGroupDst = 0xff

// Traffic describes the periodic packets each vehicle sends to the group.
type Traffic struct {
	PeriodMs   int
	PacketSize uint32
	// JitterMs spreads packet generation uniformly over [0, JitterMs].
	JitterMs int
	Lcid     uint8
	Priority uint8
}

// Scenario is a validated simulation setup.
type Scenario struct {
	Name     string
	Duration time.Duration
	Seed     uint64

	MAC mac.Config
	Phy phy.Config

	// Exactly one of V2xPool and CommPool is set.
	V2xPool  *sidelink.V2xPoolConfig
	CommPool *sidelink.CommPoolConfig
	GroupDst uint32

	Traffic  Traffic
	Vehicles []model.VehicleDefinition
}

// Subframes is the run length in subframes.
func (s *Scenario) Subframes() int {
	return int(s.Duration / time.Millisecond)
}

// internal YAML shapes, kept unexported so the file format can evolve.
type scenarioYAML struct {
	Name       string        `yaml:"name"`
	DurationMs int           `yaml:"duration_ms"`
	Seed       uint64        `yaml:"seed"`
	MAC        mac.Config    `yaml:"mac"`
	Phy        phy.Config    `yaml:"phy"`
	V2xPool    *v2xPoolYAML  `yaml:"v2x_pool"`
	CommPool   *commPoolYAML `yaml:"comm_pool"`
	GroupDst   uint32        `yaml:"group_dst"`
	Traffic    trafficYAML   `yaml:"traffic"`
	Vehicles   []vehicleYAML `yaml:"vehicles"`
}

type v2xPoolYAML struct {
	Scheduling        string `yaml:"scheduling"`
	Adjacency         bool   `yaml:"adjacency"`
	SizeSubchannel    uint16 `yaml:"size_subchannel"`
	NumSubchannel     uint16 `yaml:"num_subchannel"`
	StartRbSubchannel uint16 `yaml:"start_rb_subchannel"`
	StartRbPscchPool  uint16 `yaml:"start_rb_pscch_pool"`
	Index             uint8  `yaml:"index"`
}

type commPoolYAML struct {
	Scheduling   string `yaml:"scheduling"`
	PeriodMs     uint32 `yaml:"period_ms"`
	ScOffset     uint32 `yaml:"sc_offset"`
	ScBitmap     string `yaml:"sc_bitmap"`
	ScPrbStart   uint16 `yaml:"sc_prb_start"`
	ScPrbEnd     uint16 `yaml:"sc_prb_end"`
	ScPrbNum     uint16 `yaml:"sc_prb_num"`
	DataOffset   uint32 `yaml:"data_offset"`
	DataBitmap   string `yaml:"data_bitmap"`
	DataPrbStart uint16 `yaml:"data_prb_start"`
	DataPrbEnd   uint16 `yaml:"data_prb_end"`
	DataPrbNum   uint16 `yaml:"data_prb_num"`
	TrptSubset   []int  `yaml:"trpt_subset"`
	Index        uint8  `yaml:"index"`
	Mcs          uint8  `yaml:"mcs"`
}

type trafficYAML struct {
	PeriodMs   int    `yaml:"period_ms"`
	PacketSize uint32 `yaml:"packet_size"`
	JitterMs   int    `yaml:"jitter_ms"`
	Lcid       uint8  `yaml:"lcid"`
	Priority   uint8  `yaml:"priority"`
}

type vehicleYAML struct {
	ID       string       `yaml:"id"`
	Rnti     uint16       `yaml:"rnti"`
	L2ID     uint32       `yaml:"l2_id"`
	Position model.Motion `yaml:"position"`
	Velocity model.Motion `yaml:"velocity"`
}

// LoadFile reads the scenario at path.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadFile: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a YAML scenario from r, applies defaults and validates it.
// Unknown keys are rejected.
func Load(r io.Reader) (*Scenario, error) {
	payload := scenarioYAML{
		MAC: mac.DefaultConfig(),
		Phy: phy.DefaultConfig(),
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("Load: decode failed: %w", err)
	}
	sc, err := payload.toScenario()
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return sc, nil
}

func (p *scenarioYAML) toScenario() (*Scenario, error) {
	if p.DurationMs <= 0 {
		return nil, fmt.Errorf("%w: duration_ms must be positive", ErrInvalidScenario)
	}
	sc := &Scenario{
		Name:     p.Name,
		Duration: time.Duration(p.DurationMs) * time.Millisecond,
		Seed:     p.Seed,
		MAC:      p.MAC,
		Phy:      p.Phy,
		GroupDst: p.GroupDst,
		Traffic: Traffic{
			PeriodMs:   p.Traffic.PeriodMs,
			PacketSize: p.Traffic.PacketSize,
			JitterMs:   p.Traffic.JitterMs,
			Lcid:       p.Traffic.Lcid,
			Priority:   p.Traffic.Priority,
		},
	}
	if sc.Name == "" {
		sc.Name = "unnamed"
	}
	if sc.Traffic.Lcid == 0 {
		sc.Traffic.Lcid = 1
	}
	if sc.GroupDst == 0 {
		sc.GroupDst = DefaultGroupDst
	}

	sc.MAC.ApplyDefaults()
	if err := sc.MAC.Validate(); err != nil {
		return nil, fmt.Errorf("%w: mac: %w", ErrInvalidScenario, err)
	}
	if sc.Phy.PathlossExponent <= 0 {
		return nil, fmt.Errorf("%w: phy: pathloss_exponent must be positive", ErrInvalidScenario)
	}

	switch {
	case p.V2xPool != nil && p.CommPool != nil:
		return nil, fmt.Errorf("%w: v2x_pool and comm_pool are exclusive", ErrInvalidScenario)
	case p.V2xPool != nil:
		cfg, err := p.V2xPool.toConfig()
		if err != nil {
			return nil, err
		}
		sc.V2xPool = &cfg
	case p.CommPool != nil:
		cfg, err := p.CommPool.toConfig()
		if err != nil {
			return nil, err
		}
		sc.CommPool = &cfg
	default:
		return nil, fmt.Errorf("%w: no resource pool", ErrInvalidScenario)
	}

	if sc.Traffic.PeriodMs <= 0 || sc.Traffic.PacketSize == 0 {
		return nil, fmt.Errorf("%w: traffic needs a positive period_ms and packet_size", ErrInvalidScenario)
	}
	if sc.Traffic.JitterMs < 0 || sc.Traffic.JitterMs >= sc.Traffic.PeriodMs {
		return nil, fmt.Errorf("%w: traffic jitter_ms %d outside [0, period_ms)", ErrInvalidScenario, sc.Traffic.JitterMs)
	}

	vehicles, err := toVehicles(p.Vehicles)
	if err != nil {
		return nil, err
	}
	sc.Vehicles = vehicles
	return sc, nil
}

func (v *v2xPoolYAML) toConfig() (sidelink.V2xPoolConfig, error) {
	sched, err := parseScheduling(v.Scheduling)
	if err != nil {
		return sidelink.V2xPoolConfig{}, err
	}
	cfg := sidelink.V2xPoolConfig{
		Scheduling:        sched,
		Adjacency:         v.Adjacency,
		SizeSubchannel:    v.SizeSubchannel,
		NumSubchannel:     v.NumSubchannel,
		StartRbSubchannel: v.StartRbSubchannel,
		StartRbPscchPool:  v.StartRbPscchPool,
		Index:             v.Index,
	}
	if _, err := sidelink.NewV2xPool(cfg); err != nil {
		return sidelink.V2xPoolConfig{}, fmt.Errorf("%w: v2x_pool: %w", ErrInvalidScenario, err)
	}
	return cfg, nil
}

func (c *commPoolYAML) toConfig() (sidelink.CommPoolConfig, error) {
	sched, err := parseScheduling(c.Scheduling)
	if err != nil {
		return sidelink.CommPoolConfig{}, err
	}
	cfg := sidelink.CommPoolConfig{
		Scheduling:   sched,
		PeriodMs:     c.PeriodMs,
		ScOffset:     c.ScOffset,
		ScBitmap:     c.ScBitmap,
		ScPrbStart:   c.ScPrbStart,
		ScPrbEnd:     c.ScPrbEnd,
		ScPrbNum:     c.ScPrbNum,
		DataOffset:   c.DataOffset,
		DataBitmap:   c.DataBitmap,
		DataPrbStart: c.DataPrbStart,
		DataPrbEnd:   c.DataPrbEnd,
		DataPrbNum:   c.DataPrbNum,
		TrptSubset:   c.TrptSubset,
		Index:        c.Index,
		Mcs:          c.Mcs,
	}
	if _, err := sidelink.NewCommPool(cfg); err != nil {
		return sidelink.CommPoolConfig{}, fmt.Errorf("%w: comm_pool: %w", ErrInvalidScenario, err)
	}
	return cfg, nil
}

// parseScheduling defaults an empty mode to UE-selected.
func parseScheduling(s string) (sidelink.SchedulingType, error) {
	if s == "" {
		return sidelink.UeSelected, nil
	}
	sched, err := sidelink.ParseSchedulingType(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	return sched, nil
}

func toVehicles(in []vehicleYAML) ([]model.VehicleDefinition, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: no vehicles", ErrInvalidScenario)
	}
	ids := map[string]bool{}
	l2s := map[uint32]bool{}
	rntis := map[uint16]bool{}
	out := make([]model.VehicleDefinition, 0, len(in))
	for i, v := range in {
		if v.ID == "" {
			return nil, fmt.Errorf("%w: vehicle %d has no id", ErrInvalidScenario, i)
		}
		if ids[v.ID] {
			return nil, fmt.Errorf("%w: duplicate vehicle id %q", ErrInvalidScenario, v.ID)
		}
		def := model.VehicleDefinition{
			ID:       v.ID,
			Rnti:     v.Rnti,
			L2ID:     v.L2ID,
			Position: v.Position,
			Velocity: v.Velocity,
		}
		if def.Rnti == 0 {
			def.Rnti = uint16(i + 1)
		}
		if def.L2ID == 0 {
			def.L2ID = uint32(i + 1)
		}
		if rntis[def.Rnti] || l2s[def.L2ID] {
			return nil, fmt.Errorf("%w: vehicle %q reuses an RNTI or L2 id", ErrInvalidScenario, v.ID)
		}
		if def.Velocity != (model.Motion{}) {
			def.MotionSource = model.MotionSourceConstantVelocity
		}
		ids[def.ID] = true
		l2s[def.L2ID] = true
		rntis[def.Rnti] = true
		out = append(out, def)
	}
	return out, nil
}
