// Package cvproject implements projection.Projector with OpenCV through gocv.
// Building it requires the OpenCV 4 development libraries.
package cvproject

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/dyluth/hitmap/internal/projection"
)

// Projector reads a multi-page TIFF, takes the pixel-wise maximum over its
// pages, stretches the result to 8 bits, applies CLAHE and writes a JPEG.
type Projector struct{}

// New returns an OpenCV projector.
func New() *Projector { return &Projector{} }

// Project implements projection.Projector.
func (p *Projector) Project(src, dst string, opts projection.Options) error {
	pages := gocv.IMReadMulti(src, gocv.IMReadUnchanged)
	defer func() {
		for i := range pages {
			pages[i].Close()
		}
	}()
	if len(pages) == 0 {
		return fmt.Errorf("no pages could be read from %s", src)
	}

	zmax, err := maxProjection(pages)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	defer zmax.Close()

	img8 := toUint8(zmax)
	defer img8.Close()

	enhanced := enhanceContrast(img8, opts)
	defer enhanced.Close()

	if ok := gocv.IMWrite(dst, enhanced); !ok {
		return fmt.Errorf("failed to write %s", dst)
	}
	return nil
}

// maxProjection folds the pages with a pixel-wise maximum. Colour pages are
// reduced to grey first so that all planes share one type.
func maxProjection(pages []gocv.Mat) (gocv.Mat, error) {
	acc := gray(pages[0])
	for i := 1; i < len(pages); i++ {
		page := gray(pages[i])
		if page.Rows() != acc.Rows() || page.Cols() != acc.Cols() || page.Type() != acc.Type() {
			page.Close()
			acc.Close()
			return gocv.NewMat(), fmt.Errorf("page %d does not match the size or type of page 0", i)
		}
		gocv.Max(acc, page, &acc)
		page.Close()
	}
	return acc, nil
}

func gray(m gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	switch m.Channels() {
	case 3:
		gocv.CvtColor(m, &out, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(m, &out, gocv.ColorBGRAToGray)
	default:
		m.CopyTo(&out)
	}
	return out
}

// toUint8 min-max normalises into 0..255 and converts to 8-bit.
func toUint8(m gocv.Mat) gocv.Mat {
	norm := gocv.NewMat()
	defer norm.Close()
	gocv.Normalize(m, &norm, 0, 255, gocv.NormMinMax)

	out := gocv.NewMat()
	norm.ConvertTo(&out, gocv.MatTypeCV8U)
	return out
}

func enhanceContrast(m gocv.Mat, opts projection.Options) gocv.Mat {
	grid := opts.TileGrid
	if grid <= 0 {
		grid = 8
	}
	clahe := gocv.NewCLAHEWithParams(opts.ClipLimit, image.Pt(grid, grid))
	defer clahe.Close()

	out := gocv.NewMat()
	clahe.Apply(m, &out)
	return out
}
