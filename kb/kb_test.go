package kb

import (
	"fmt"
	"sync"
	"testing"

	"github.com/signalsfoundry/sidelink-mac/model"
)

func TestAddAndGetVehicle(t *testing.T) {
	store := NewKnowledgeBase()
	v := &model.VehicleDefinition{ID: "v1", Rnti: 1, L2ID: 100}
	if err := store.AddVehicle(v); err != nil {
		t.Fatalf("AddVehicle error: %v", err)
	}
	got, ok := store.GetVehicle("v1")
	if !ok || got.Rnti != 1 {
		t.Fatalf("GetVehicle returned %#v, want rnti 1", got)
	}
	if got, ok := store.VehicleByL2ID(100); !ok || got.ID != "v1" {
		t.Fatalf("VehicleByL2ID returned %#v", got)
	}
	if _, ok := store.VehicleByL2ID(101); ok {
		t.Fatalf("VehicleByL2ID found an unknown id")
	}
}

func TestAddVehicleDuplicate(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddVehicle(&model.VehicleDefinition{ID: "v1", L2ID: 1}); err != nil {
		t.Fatalf("first AddVehicle error: %v", err)
	}
	if err := store.AddVehicle(&model.VehicleDefinition{ID: "v1", L2ID: 2}); err == nil {
		t.Fatalf("expected duplicate ID to fail")
	}
	if err := store.AddVehicle(&model.VehicleDefinition{ID: "v2", L2ID: 1}); err == nil {
		t.Fatalf("expected duplicate L2 id to fail")
	}
}

func TestListVehiclesSorted(t *testing.T) {
	store := NewKnowledgeBase()
	for _, i := range []int{2, 0, 1} {
		if err := store.AddVehicle(&model.VehicleDefinition{ID: fmt.Sprintf("v-%d", i), L2ID: uint32(i)}); err != nil {
			t.Fatalf("AddVehicle error: %v", err)
		}
	}
	got := store.ListVehicles()
	if len(got) != 3 || got[0].ID != "v-0" || got[2].ID != "v-2" {
		t.Fatalf("ListVehicles = %v, want sorted v-0..v-2", got)
	}
}

func TestAdvanceMovesConstantVelocityVehicles(t *testing.T) {
	store := NewKnowledgeBase()
	_ = store.AddVehicle(&model.VehicleDefinition{ID: "a", L2ID: 1, MotionSource: model.MotionSourceConstantVelocity, Velocity: model.Motion{X: 10}})
	_ = store.AddVehicle(&model.VehicleDefinition{ID: "b", L2ID: 2, Position: model.Motion{X: 30, Y: 40}})

	d, err := store.Distance("a", "b")
	if err != nil || d != 50 {
		t.Fatalf("Distance = %v, %v; want 50", d, err)
	}

	var events int
	store.Subscribe(func(Event) { events++ })
	store.Advance(3)
	if events != 1 {
		t.Fatalf("got %d events, want 1", events)
	}
	a, _ := store.GetVehicle("a")
	b, _ := store.GetVehicle("b")
	if a.Position.X != 30 || b.Position.X != 30 {
		t.Fatalf("positions after Advance: a=%v b=%v", a.Position, b.Position)
	}
	if _, err := store.Distance("a", "zz"); err == nil {
		t.Fatalf("expected error for unknown vehicle")
	}
}

func TestUpdateVehiclePositionAndSubscribe(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddVehicle(&model.VehicleDefinition{ID: "v1"}); err != nil {
		t.Fatalf("AddVehicle error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var got Event
	unsubscribe := store.Subscribe(func(e Event) {
		got = e
		wg.Done()
	})

	pos := model.Motion{X: 1, Y: 2}
	if err := store.UpdateVehiclePosition("v1", pos); err != nil {
		t.Fatalf("UpdateVehiclePosition error: %v", err)
	}

	wg.Wait()
	if got.Type != EventVehicleUpdated {
		t.Fatalf("got event type %v, want EventVehicleUpdated", got.Type)
	}
	if got.Vehicle.Position != pos {
		t.Fatalf("event vehicle position = %#v, want %#v", got.Vehicle.Position, pos)
	}

	unsubscribe()
	if err := store.UpdateVehiclePosition("v1", model.Motion{}); err != nil {
		t.Fatalf("UpdateVehiclePosition error: %v", err)
	}
	if err := store.UpdateVehiclePosition("missing", pos); err == nil {
		t.Fatalf("expected error for unknown vehicle")
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewKnowledgeBase()
	if err := store.AddVehicle(&model.VehicleDefinition{ID: "v1"}); err != nil {
		t.Fatalf("AddVehicle error: %v", err)
	}

	var wg sync.WaitGroup
	// Concurrent readers/writers
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.GetVehicle("v1")
			_ = store.ListVehicles()
		}()
		go func() {
			defer wg.Done()
			_ = store.UpdateVehiclePosition("v1", model.Motion{X: float64(i)})
		}()
	}
	wg.Wait()
}
