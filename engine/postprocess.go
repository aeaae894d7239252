package engine

import (
	iface "FireDetServer/interface"
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"
)

// letterbox pads img to a square with the grey value the model was trained
// with. The returned scale maps network coordinates back to img.
func letterbox(img gocv.Mat) (gocv.Mat, float32) {
	width, height := img.Cols(), img.Rows()
	side := max(width, height)
	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0), side, side, gocv.MatTypeCV8UC3)
	roi := square.Region(image.Rect(0, 0, width, height))
	img.CopyTo(&roi)
	roi.Close()
	return square, float32(side) / float32(InputSize)
}

type candidate struct {
	rect    image.Rectangle
	score   float32
	classID int
}

// decodeOutput reads a YOLOv8 head laid out as [1, 4+nc, anchors]: rows 0..3
// are cx, cy, w, h in network pixels, the remaining rows are class scores.
func decodeOutput(data []float32, channels, anchors int, scale, conf float32) []candidate {
	if channels < 5 || len(data) < channels*anchors {
		return nil
	}
	var out []candidate
	for i := 0; i < anchors; i++ {
		best, bestID := float32(0), -1
		for c := 4; c < channels; c++ {
			if s := data[c*anchors+i]; s > best {
				best, bestID = s, c-4
			}
		}
		if bestID < 0 || best < conf {
			continue
		}
		cx, cy := data[i], data[anchors+i]
		w, h := data[2*anchors+i], data[3*anchors+i]
		out = append(out, candidate{
			rect: image.Rect(
				int((cx-w/2)*scale),
				int((cy-h/2)*scale),
				int((cx+w/2)*scale),
				int((cy+h/2)*scale),
			),
			score:   best,
			classID: bestID,
		})
	}
	return out
}

// postprocess turns raw network output into detections at the fixed
// thresholds. Boxes only suppress boxes of their own class. The result is
// ordered by score, highest first, and is stable for a given output.
func postprocess(data []float32, channels, anchors int, scale float32, cols, rows int, names []string) []iface.Detection {
	cands := decodeOutput(data, channels, anchors, scale, ConfThreshold)
	if len(cands) == 0 {
		return []iface.Detection{}
	}

	dets := make([]iface.Detection, 0, len(cands))
	for _, group := range groupByClass(cands) {
		boxes := make([]image.Rectangle, len(group))
		scores := make([]float32, len(group))
		for i, c := range group {
			boxes[i] = c.rect
			scores[i] = c.score
		}
		for _, idx := range gocv.NMSBoxes(boxes, scores, ConfThreshold, IouThreshold) {
			if idx < 0 || idx >= len(group) {
				continue
			}
			c := group[idx]
			r := c.rect
			FixRectForOpenCV(&r, cols, rows)
			if r.Empty() {
				continue
			}
			dets = append(dets, newDetection(r, c.score, c.classID, names))
		}
	}
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Conf > dets[j].Conf })
	return dets
}

// groupByClass splits candidates per class id, classes in ascending order
// and decode order kept within a class.
func groupByClass(cands []candidate) [][]candidate {
	byClass := make(map[int][]candidate)
	var ids []int
	for _, c := range cands {
		if _, ok := byClass[c.classID]; !ok {
			ids = append(ids, c.classID)
		}
		byClass[c.classID] = append(byClass[c.classID], c)
	}
	sort.Ints(ids)
	groups := make([][]candidate, 0, len(ids))
	for _, id := range ids {
		groups = append(groups, byClass[id])
	}
	return groups
}

func newDetection(r image.Rectangle, score float32, classID int, names []string) iface.Detection {
	name := fmt.Sprintf("class_%d", classID)
	if classID < len(names) {
		name = names[classID]
	}
	lt := iface.Position{X: float32(r.Min.X), Y: float32(r.Min.Y)}
	rb := iface.Position{X: float32(r.Max.X), Y: float32(r.Max.Y)}
	return iface.Detection{
		ClassID: classID,
		Name:    name,
		Conf:    score,
		Box: iface.Box{
			LT: lt,
			RT: iface.Position{X: rb.X, Y: lt.Y},
			RB: rb,
			LB: iface.Position{X: lt.X, Y: rb.Y},
		},
		Center: iface.Position{X: (lt.X + rb.X) / 2, Y: (lt.Y + rb.Y) / 2},
	}
}

// FixRectForOpenCV clamps r to a maxCols x maxRows frame.
func FixRectForOpenCV(r *image.Rectangle, maxCols, maxRows int) {
	if r.Min.X < 0 {
		r.Min.X = 0
	}
	if r.Min.Y < 0 {
		r.Min.Y = 0
	}
	if r.Max.X >= maxCols {
		r.Max.X = maxCols - 1
	}
	if r.Max.Y >= maxRows {
		r.Max.Y = maxRows - 1
	}
}
