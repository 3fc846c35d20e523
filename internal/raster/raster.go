// Package raster turns bitmaps into engrave points.
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/KevinKickass/OpenLaserCore/internal/config"
	"github.com/KevinKickass/OpenLaserCore/internal/planner"
	"golang.org/x/sync/errgroup"
)

var ErrEmptyImage = errors.New("image has no pixels")

// Decode reads a PNG or JPEG image.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// Darkness is the burn value of a pixel: black opaque pixels are 255,
// white or transparent ones 0.
func Darkness(c color.Color) uint8 {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	grey := (3*255 - int(n.R) - int(n.G) - int(n.B)) / 3
	return uint8(float64(grey) * float64(n.A) / 255)
}

// Intensity maps a darkness value to the intensity burned for it. In
// variable mode the darkness scales burn.Power, in fixed mode every pixel at
// or above the threshold is burned with burn.Power.
func Intensity(darkness uint8, burn config.BurnConfig) uint8 {
	if burn.Variable() {
		return uint8(uint32(darkness) * uint32(burn.Power) / 255)
	}
	if darkness < burn.FixedIntensityThreshold {
		return 0
	}
	return burn.Power
}

// Points converts img into engrave points with image coordinates relative to
// its top-left corner. Pixels that would burn nothing are left out. Rows are
// converted concurrently.
func Points(ctx context.Context, img image.Image, burn config.BurnConfig) ([]*planner.EngravePoint, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, ErrEmptyImage
	}

	rows := make([][]*planner.EngravePoint, b.Dy())
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var row []*planner.EngravePoint
			for x := b.Min.X; x < b.Max.X; x++ {
				intensity := Intensity(Darkness(img.At(x, y)), burn)
				if intensity == 0 {
					continue
				}
				row = append(row, &planner.EngravePoint{
					X:         x - b.Min.X,
					Y:         y - b.Min.Y,
					Intensity: intensity,
				})
			}
			rows[y-b.Min.Y] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var points []*planner.EngravePoint
	for _, row := range rows {
		points = append(points, row...)
	}
	return points, nil
}
