package iface

import (
	"fmt"

	"gocv.io/x/gocv"
)

type Position struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

type Box struct {
	LT Position `json:"lt"`
	RT Position `json:"rt"`
	RB Position `json:"rb"`
	LB Position `json:"lb"`
}

// Detection is one object found in a frame, in source image coordinates.
type Detection struct {
	ClassID int      `json:"classId"`
	Name    string   `json:"name"`
	Conf    float32  `json:"confidence"`
	Box     Box      `json:"box"`
	Center  Position `json:"center"`
}

func (d Detection) String() string {
	return fmt.Sprintf("Detection{%s %.3f ((%.0f, %.0f), (%.0f, %.0f))}",
		d.Name, d.Conf, d.Box.LT.X, d.Box.LT.Y, d.Box.RB.X, d.Box.RB.Y)
}

// Result holds the detections of one frame and a copy of the frame with
// the detections drawn on it. The caller owns Annotated and must Close it.
type Result struct {
	Detections []Detection
	Annotated  gocv.Mat
}

func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	return r.Annotated.Close()
}

type Backend interface {
	Detect(img gocv.Mat) (*Result, error)
	CheckConfig() EngineConfig
	Close() error
}
