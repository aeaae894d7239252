package iface

import "errors"

// Error categories shared by the detector, the store and the HTTP layer.
// Callers wrap them with context and classify with errors.Is.
var (
	ErrNoFile       = errors.New("No file uploaded")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidImage = errors.New("invalid image")
	ErrInference    = errors.New("inference failed")
	ErrIO           = errors.New("i/o failure")
	ErrCameraBusy   = errors.New("camera busy")
)

type EngineConfig struct {
	UseGPU    bool
	ModelPath string
	Names     []string
	Conf      float32
	Iou       float32
	Backend   string
	Target    string
}
