package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/sidelink-mac/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventVehicleUpdated EventType = iota
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type    EventType
	Vehicle model.VehicleDefinition
}

// KnowledgeBase is an in-memory, thread-safe store of the vehicles in a
// scenario.
type KnowledgeBase struct {
	mu sync.RWMutex

	vehicles map[string]*model.VehicleDefinition
	byL2ID   map[uint32]string

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		vehicles: make(map[string]*model.VehicleDefinition),
		byL2ID:   make(map[uint32]string),
	}
}

// AddVehicle adds a new vehicle. IDs and L2 ids must be unique.
func (kb *KnowledgeBase) AddVehicle(v *model.VehicleDefinition) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.vehicles[v.ID]; exists {
		return fmt.Errorf("vehicle with ID %q already exists", v.ID)
	}
	if other, exists := kb.byL2ID[v.L2ID]; exists {
		return fmt.Errorf("L2 id %d already used by vehicle %q", v.L2ID, other)
	}
	kb.vehicles[v.ID] = v
	kb.byL2ID[v.L2ID] = v.ID
	return nil
}

// GetVehicle returns a copy of the vehicle with the given ID.
func (kb *KnowledgeBase) GetVehicle(id string) (model.VehicleDefinition, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	v, ok := kb.vehicles[id]
	if !ok {
		return model.VehicleDefinition{}, false
	}
	return *v, true
}

// VehicleByL2ID looks a vehicle up by its sidelink source id.
func (kb *KnowledgeBase) VehicleByL2ID(l2 uint32) (model.VehicleDefinition, bool) {
	kb.mu.RLock()
	id, ok := kb.byL2ID[l2]
	kb.mu.RUnlock()
	if !ok {
		return model.VehicleDefinition{}, false
	}
	return kb.GetVehicle(id)
}

// ListVehicles returns a snapshot of all vehicles ordered by ID.
func (kb *KnowledgeBase) ListVehicles() []model.VehicleDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.VehicleDefinition, 0, len(kb.vehicles))
	for _, v := range kb.vehicles {
		res = append(res, *v)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Distance returns the distance in metres between two vehicles.
func (kb *KnowledgeBase) Distance(a, b string) (float64, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	va, ok := kb.vehicles[a]
	if !ok {
		return 0, fmt.Errorf("vehicle with ID %q not found", a)
	}
	vb, ok := kb.vehicles[b]
	if !ok {
		return 0, fmt.Errorf("vehicle with ID %q not found", b)
	}
	return va.Position.Distance(vb.Position), nil
}

// UpdateVehiclePosition moves a vehicle and notifies subscribers.
func (kb *KnowledgeBase) UpdateVehiclePosition(id string, pos model.Motion) error {
	kb.mu.Lock()
	v, ok := kb.vehicles[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("vehicle with ID %q not found", id)
	}
	v.Position = pos
	event := Event{
		Type:    EventVehicleUpdated,
		Vehicle: *v, // copy for safety
	}
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Advance moves every constant-velocity vehicle forward by dt seconds.
func (kb *KnowledgeBase) Advance(dt float64) {
	kb.mu.Lock()
	var events []Event
	for _, v := range kb.vehicles {
		if v.MotionSource != model.MotionSourceConstantVelocity {
			continue
		}
		v.Step(dt)
		events = append(events, Event{Type: EventVehicleUpdated, Vehicle: *v})
	}
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	for _, ev := range events {
		for _, sub := range subs {
			sub(ev)
		}
	}
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}
