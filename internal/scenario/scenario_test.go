package scenario

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/sidelink-mac/internal/mac"
	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

const highwayYAML = `
name: highway
duration_ms: 5000
seed: 7
mac:
  t1: 2
  t2: 33
  startup_delay_min: 0
  startup_delay_max: 50
phy:
  tx_power_dbm: 20
v2x_pool:
  size_subchannel: 5
  num_subchannel: 3
  start_rb_pscch_pool: 20
traffic:
  period_ms: 100
  packet_size: 190
  jitter_ms: 10
vehicles:
  - id: car-1
    position: {x: 0, y: 0}
    velocity: {x: 30, y: 0}
  - id: car-2
    rnti: 9
    l2_id: 42
    position: {x: 150, y: 3.5}
`

func TestLoadHighway(t *testing.T) {
	sc, err := Load(strings.NewReader(highwayYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sc.Name != "highway" || sc.Duration != 5*time.Second || sc.Subframes() != 5000 || sc.Seed != 7 {
		t.Fatalf("header = %q %s %d", sc.Name, sc.Duration, sc.Seed)
	}
	if sc.MAC.T1 != 2 || sc.MAC.T2 != 33 || sc.MAC.StartupDelayMax != 50 {
		t.Fatalf("MAC overrides lost: %+v", sc.MAC)
	}
	if sc.MAC.ReservationPeriodMs != mac.DefaultConfig().ReservationPeriodMs {
		t.Fatalf("MAC default lost: reservation period %d", sc.MAC.ReservationPeriodMs)
	}
	if sc.Phy.TxPowerDbm != 20 || sc.Phy.PathlossExponent == 0 {
		t.Fatalf("Phy = %+v", sc.Phy)
	}
	if sc.V2xPool == nil || sc.CommPool != nil {
		t.Fatalf("pools = %v / %v", sc.V2xPool, sc.CommPool)
	}
	if sc.V2xPool.Scheduling != sidelink.UeSelected || sc.V2xPool.NumSubchannel != 3 {
		t.Fatalf("V2xPool = %+v", *sc.V2xPool)
	}
	if sc.GroupDst != DefaultGroupDst || sc.Traffic.Lcid != 1 {
		t.Fatalf("defaults: group %d lcid %d", sc.GroupDst, sc.Traffic.Lcid)
	}

	if len(sc.Vehicles) != 2 {
		t.Fatalf("vehicles = %d", len(sc.Vehicles))
	}
	first, second := sc.Vehicles[0], sc.Vehicles[1]
	if first.Rnti != 1 || first.L2ID != 1 || first.MotionSource != model.MotionSourceConstantVelocity {
		t.Fatalf("car-1 = %+v", first)
	}
	if second.Rnti != 9 || second.L2ID != 42 || second.MotionSource != model.MotionSourceStatic || second.Position.Y != 3.5 {
		t.Fatalf("car-2 = %+v", second)
	}
}

func TestLoadCommPool(t *testing.T) {
	const doc = `
duration_ms: 400
comm_pool:
  scheduling: ue_selected
  period_ms: 40
  sc_bitmap: "1111000000"
  sc_prb_end: 9
  sc_prb_num: 2
  data_offset: 10
  data_bitmap: "1"
  data_prb_end: 9
  data_prb_num: 5
traffic: {period_ms: 40, packet_size: 50}
vehicles: [{id: a}, {id: b}]
`
	sc, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sc.CommPool == nil || sc.CommPool.PeriodMs != 40 || sc.Name != "unnamed" {
		t.Fatalf("scenario = %+v", sc)
	}
}

func TestLoadRejects(t *testing.T) {
	base := func(mut string) string {
		return strings.Replace(highwayYAML, "name: highway", mut, 1)
	}
	cases := []struct {
		name string
		doc  string
	}{
		{"no duration", strings.Replace(highwayYAML, "duration_ms: 5000", "duration_ms: 0", 1)},
		{"bad window", strings.Replace(highwayYAML, "t2: 33", "t2: 101", 1)},
		{"bad pool", strings.Replace(highwayYAML, "num_subchannel: 3", "num_subchannel: 0", 1)},
		{"bad scheduling", strings.Replace(highwayYAML, "size_subchannel: 5", "size_subchannel: 5\n  scheduling: sometimes", 1)},
		{"two pools", base("comm_pool: {period_ms: 40}")},
		{"no traffic", strings.Replace(highwayYAML, "packet_size: 190", "packet_size: 0", 1)},
		{"jitter", strings.Replace(highwayYAML, "jitter_ms: 10", "jitter_ms: 100", 1)},
		{"duplicate l2", strings.Replace(highwayYAML, "l2_id: 42", "l2_id: 1", 1)},
		{"duplicate id", strings.Replace(highwayYAML, "id: car-2", "id: car-1", 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.doc))
			if !errors.Is(err, ErrInvalidScenario) {
				t.Fatalf("Load error = %v, want ErrInvalidScenario", err)
			}
		})
	}
}

func TestLoadUnknownKey(t *testing.T) {
	_, err := Load(strings.NewReader(highwayYAML + "\nplatoons: 3\n"))
	if err == nil {
		t.Fatalf("unknown key accepted")
	}
	if errors.Is(err, ErrInvalidScenario) {
		t.Fatalf("decode error reported as validation error: %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile("does-not-exist.yaml"); err == nil {
		t.Fatalf("LoadFile of a missing file succeeded")
	}
}

func TestLoadSampleScenarios(t *testing.T) {
	for _, path := range []string{"../../configs/highway.yaml", "../../configs/comm_pool.yaml"} {
		if _, err := LoadFile(path); err != nil {
			t.Fatalf("LoadFile(%s): %v", path, err)
		}
	}
}
