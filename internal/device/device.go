package device

import (
	"context"
	"fmt"
	"math"
)

// Point is an absolute head position in device dots.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Add translates p by v.
func (p Point) Add(v Vector) Point {
	return Point{X: p.X + v.X, Y: p.Y + v.Y}
}

// Sub returns the vector leading from o to p.
func (p Point) Sub(o Point) Vector {
	return Vector{X: p.X - o.X, Y: p.Y - o.Y}
}

// Vector is a relative head movement in device dots.
type Vector struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// IsZero reports whether v moves nothing.
func (v Vector) IsZero() bool {
	return v.X == 0 && v.Y == 0
}

// FitsInt16 reports whether both components fit the signed 16-bit move field.
func (v Vector) FitsInt16() bool {
	return v.X >= math.MinInt16 && v.X <= math.MaxInt16 &&
		v.Y >= math.MinInt16 && v.Y <= math.MaxInt16
}

// Length is the euclidean length of v.
func (v Vector) Length() float64 {
	return math.Hypot(float64(v.X), float64(v.Y))
}

// Clamp caps both components to +-limit, keeping their sign.
func (v Vector) Clamp(limit int) Vector {
	return Vector{X: clamp(v.X, limit), Y: clamp(v.Y, limit)}
}

func clamp(v, limit int) int {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

// Device drives one engraving head.
//
// Every operation demands a source status and fails with ErrInvalidState otherwise.
// Positioned operations fail with ErrPositionUnknown until the device has been homed.
type Device interface {
	Status() Status
	// Position returns nil while the head position is unknown.
	Position() *Point
	// Subscribe registers l for status and position changes. The returned func removes it.
	Subscribe(l Listener) (unsubscribe func())

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Home(ctx context.Context) error
	MoveRelative(ctx context.Context, v Vector) error
	MoveAbsolute(ctx context.Context, p Point) error
	// Engrave burns a horizontal run of length pixels starting at the current position.
	Engrave(ctx context.Context, powerMw uint16, duration uint8, length int) error
}

type EventType string

const (
	EventStatusChanged   EventType = "status_changed"
	EventPositionChanged EventType = "position_changed"
)

// Event describes one status or position mutation.
type Event struct {
	Type             EventType `json:"type"`
	Status           Status    `json:"status"`
	PreviousStatus   Status    `json:"previous_status"`
	Position         *Point    `json:"position"`
	PreviousPosition *Point    `json:"previous_position"`
}

// Listener receives events in mutation order, outside of any device lock.
type Listener func(Event)
