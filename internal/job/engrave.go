package job

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/KevinKickass/OpenLaserCore/internal/config"
	"github.com/KevinKickass/OpenLaserCore/internal/device"
	"github.com/KevinKickass/OpenLaserCore/internal/planner"
)

// EngraveOptions parameterise an engrave job.
type EngraveOptions struct {
	MaxPowerMw uint16
	Burn       config.BurnConfig
	// Offset translates image coordinates into device coordinates.
	Offset device.Vector
}

type engrave struct {
	opts   EngraveOptions
	mode   planner.Mode
	points []*planner.EngravePoint
	last   *planner.EngravePoint

	total int
	done  atomic.Int64
}

// NewEngrave returns a pausable job burning every eligible point. Points are
// marked visited as their run is burned, so a resumed job only burns the rest.
func NewEngrave(opts EngraveOptions, points []*planner.EngravePoint) (*Job, error) {
	mode, err := opts.Burn.Plotting()
	if err != nil {
		return nil, fmt.Errorf("invalid burn configuration: %w", err)
	}

	e := &engrave{opts: opts, mode: mode, points: points}
	for _, p := range points {
		if p != nil && p.Eligible() {
			e.total++
		}
	}
	return newJob(TitleEngrave, true, e), nil
}

// PowerMw scales the maximum laser power by a pixel intensity.
func PowerMw(maxPowerMw uint16, intensity uint8) uint16 {
	return uint16(uint32(maxPowerMw) * uint32(intensity) / 255)
}

func (e *engrave) run(ctx context.Context, j *Job, dev device.Device) error {
	if err := j.rehome(ctx, dev); err != nil {
		return err
	}

	seq := planner.Sequence(e.mode, e.points, e.last)

	for _, run := range planner.Runs(seq) {
		start := run.Start()
		target := device.Point{X: start.X, Y: start.Y}.Add(e.opts.Offset)

		if err := dev.MoveAbsolute(ctx, target); err != nil {
			return err
		}
		power := PowerMw(e.opts.MaxPowerMw, run.Intensity())
		if err := dev.Engrave(ctx, power, e.opts.Burn.Duration, run.Len()); err != nil {
			return err
		}

		run.MarkVisited()
		e.last = run[run.Len()-1]
		e.done.Add(int64(run.Len()))

		if j.pauseDue() {
			return errPaused
		}
		if err := sleep(ctx, e.opts.Burn.StepDelay); err != nil {
			return err
		}
	}
	return nil
}

func (e *engrave) progress() Progress {
	return Progress{Done: int(e.done.Load()), Total: e.total}
}
