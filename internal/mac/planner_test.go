package mac

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/sidelink-mac/internal/sidelink"
	"github.com/signalsfoundry/sidelink-mac/model"
)

func TestReselectionRange(t *testing.T) {
	cases := []struct {
		pRsvp  uint16
		lo, hi int
	}{
		{20, 25, 75},
		{50, 10, 30},
		{100, 5, 15},
		{500, 5, 15},
		{1000, 5, 15},
	}
	for _, tc := range cases {
		lo, hi, err := reselectionRange(tc.pRsvp)
		if err != nil {
			t.Fatalf("reselectionRange(%d): %v", tc.pRsvp, err)
		}
		if lo != tc.lo || hi != tc.hi {
			t.Fatalf("reselectionRange(%d) = [%d, %d], want [%d, %d]", tc.pRsvp, lo, hi, tc.lo, tc.hi)
		}
	}

	for _, bad := range []uint16{0, 30, 150, 1100} {
		if _, _, err := reselectionRange(bad); !errors.Is(err, ErrInvalidReservationPeriod) {
			t.Fatalf("reselectionRange(%d) error = %v, want ErrInvalidReservationPeriod", bad, err)
		}
	}
}

func TestReselectionCounterStaysInRange(t *testing.T) {
	rng := newRandomStream(3)
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		c, err := reselectionCounter(100, rng)
		if err != nil {
			t.Fatalf("reselectionCounter: %v", err)
		}
		if c < 5 || c > 15 {
			t.Fatalf("counter %d outside [5, 15]", c)
		}
		seen[c] = true
	}
	if len(seen) != 11 {
		t.Fatalf("drew %d distinct counters, want all 11", len(seen))
	}
}

func TestFindRetransmission(t *testing.T) {
	initial := model.NewSubframeInfo(10, 5)
	rng := newRandomStream(1)

	got, ok := findRetransmission(initial, []sidelink.TransmissionInfo{
		{Subframe: initial},
		{Subframe: model.NewSubframeInfo(10, 8), RbStart: 5},
	}, rng)
	if !ok || got.gap != 3 || got.index != 0 || got.tx.RbStart != 5 {
		t.Fatalf("forward retransmission = %+v ok=%v, want gap 3 index 0", got, ok)
	}

	got, ok = findRetransmission(initial, []sidelink.TransmissionInfo{{Subframe: model.NewSubframeInfo(10, 2)}}, rng)
	if !ok || got.gap != 3 || got.index != 1 {
		t.Fatalf("backward retransmission = %+v ok=%v, want gap 3 index 1", got, ok)
	}

	if _, ok := findRetransmission(initial, []sidelink.TransmissionInfo{{Subframe: initial.Add(16)}, {Subframe: initial.Add(-16)}}, rng); ok {
		t.Fatalf("found a retransmission more than %d subframes away", maxRetxGap)
	}
}

func TestPsschRsrpThreshold(t *testing.T) {
	if v := PsschRsrpThresholdFromIndex(0); !math.IsInf(v, -1) {
		t.Fatalf("index 0 = %v, want -Inf", v)
	}
	if v := PsschRsrpThresholdFromIndex(66); !math.IsInf(v, 1) {
		t.Fatalf("index 66 = %v, want +Inf", v)
	}
	if v := PsschRsrpThresholdFromIndex(65); v != 0 {
		t.Fatalf("index 65 = %v, want 0", v)
	}
	if v := PsschRsrpThreshold(0, 0); v != -128 {
		t.Fatalf("threshold(0, 0) = %v, want -128", v)
	}
	if v := PsschRsrpThreshold(1, 2); v != -108 {
		t.Fatalf("threshold(1, 2) = %v, want -108", v)
	}
}
