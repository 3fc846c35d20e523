package job

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenLaserCore/internal/device"
)

const (
	TitleHoming  = "Homing"
	TitleMove    = "Move"
	TitleFraming = "Framing"
	TitleEngrave = "Engrave"
)

type homing struct{}

// NewHoming returns a job that homes the head to the center of the work area.
func NewHoming() *Job {
	return newJob(TitleHoming, false, homing{})
}

func (homing) run(ctx context.Context, _ *Job, dev device.Device) error {
	return dev.Home(ctx)
}

type moveAbsolute struct {
	target device.Point
}

func NewMoveAbsolute(target device.Point) *Job {
	return newJob(TitleMove, false, moveAbsolute{target: target})
}

func (m moveAbsolute) run(ctx context.Context, _ *Job, dev device.Device) error {
	return dev.MoveAbsolute(ctx, m.target)
}

// Rect is an axis-aligned area in device dots. Right and Bottom are exclusive
// like image bounds, so a frame travels to X+Width and Y+Height.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) corners() [4]device.Point {
	right, bottom := r.X+r.Width, r.Y+r.Height
	return [4]device.Point{
		{X: r.X, Y: r.Y},
		{X: right, Y: r.Y},
		{X: right, Y: bottom},
		{X: r.X, Y: bottom},
	}
}

// framing patrols the corners of a rectangle until cancelled or paused.
type framing struct {
	frame     Rect
	stepDelay time.Duration
	next      int
}

// DefaultFramingDelay is the pause at each corner when none is given.
const DefaultFramingDelay = 250 * time.Millisecond

// NewFraming returns a pausable job that keeps tracing frame with the head
// so the engraving area can be checked on the material.
func NewFraming(frame Rect, stepDelay time.Duration) *Job {
	if stepDelay <= 0 {
		stepDelay = DefaultFramingDelay
	}
	return newJob(TitleFraming, true, &framing{frame: frame, stepDelay: stepDelay})
}

func (f *framing) run(ctx context.Context, j *Job, dev device.Device) error {
	if err := j.rehome(ctx, dev); err != nil {
		return err
	}

	corners := f.frame.corners()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := dev.MoveAbsolute(ctx, corners[f.next]); err != nil {
			return err
		}
		f.next = (f.next + 1) % len(corners)

		if j.pauseDue() {
			return errPaused
		}
		if err := sleep(ctx, f.stepDelay); err != nil {
			return err
		}
	}
}
