package engine

import (
	iface "FireDetServer/interface"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var colors = []color.RGBA{
	{R: 255, G: 64, B: 0, A: 255},
	{R: 160, G: 160, B: 160, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
}

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Annotate draws boxes and "<label> <score>" captions on a copy of img.
// The copy has the same size as img.
func Annotate(img gocv.Mat, dets []iface.Detection) gocv.Mat {
	out := img.Clone()
	for _, det := range dets {
		c := colors[det.ClassID%len(colors)]
		r := image.Rect(int(det.Box.LT.X), int(det.Box.LT.Y), int(det.Box.RB.X), int(det.Box.RB.Y))
		gocv.Rectangle(&out, r, c, 2)

		label := fmt.Sprintf("%s %.2f", det.Name, det.Conf)
		size := gocv.GetTextSize(label, gocv.FontHersheySimplex, 0.5, 1)
		top := max(r.Min.Y, size.Y+4)
		gocv.Rectangle(&out, image.Rect(r.Min.X, top-size.Y-4, r.Min.X+size.X+4, top), c, -1)
		gocv.PutText(&out, label, image.Pt(r.Min.X+2, top-3), gocv.FontHersheySimplex, 0.5, white, 1)
	}
	return out
}
