package capture

import (
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Source yields frames until Read reports false.
type Source interface {
	Read(frame *gocv.Mat) bool
	Close() error
}

// Opener acquires a Source. Each call returns an independent handle.
type Opener func() (Source, error)

type device struct {
	vc   *gocv.VideoCapture
	once sync.Once
	err  error
}

// DeviceOpener opens a local camera by index ("0") or a video file/URL.
func DeviceOpener(dev string) Opener {
	return func() (Source, error) {
		vc, err := gocv.OpenVideoCapture(dev)
		if err != nil {
			return nil, errors.Wrapf(err, "can't open video capture %s", dev)
		}
		return &device{vc: vc}, nil
	}
}

func (d *device) Read(frame *gocv.Mat) bool {
	if ok := d.vc.Read(frame); !ok {
		return false
	}
	return !frame.Empty()
}

// Close releases the device; repeated calls are no-ops.
func (d *device) Close() error {
	d.once.Do(func() { d.err = d.vc.Close() })
	return d.err
}

// Closed is a Source that never yields a frame. It stands in for a camera
// that failed to open.
type Closed struct{}

func (Closed) Read(*gocv.Mat) bool { return false }
func (Closed) Close() error        { return nil }
