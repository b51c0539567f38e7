package model

import "math"

// MotionSource indicates how a vehicle's position evolves.
type MotionSource int

const (
	MotionSourceStatic MotionSource = iota
	MotionSourceConstantVelocity
)

// Motion is a planar position or velocity in metres (or metres/second).
type Motion struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// VehicleDefinition is one UE taking part in a sidelink scenario.
type VehicleDefinition struct {
	ID   string
	Rnti uint16
	// L2ID is the sidelink layer-2 source identifier.
	L2ID uint32

	Position     Motion
	Velocity     Motion
	MotionSource MotionSource
}

// Distance returns the Euclidean distance between two positions.
func (m Motion) Distance(o Motion) float64 {
	return math.Hypot(m.X-o.X, m.Y-o.Y)
}

// Step advances a constant-velocity vehicle by dt seconds.
func (v *VehicleDefinition) Step(dt float64) {
	if v.MotionSource != MotionSourceConstantVelocity {
		return
	}
	v.Position.X += v.Velocity.X * dt
	v.Position.Y += v.Velocity.Y * dt
}
