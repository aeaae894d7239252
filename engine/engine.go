package engine

import (
	iface "FireDetServer/interface"
	"FireDetServer/logger"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type EngineParam struct {
	ModelPath string
	Names     NamesConf
	Backend   string
	Target    string
	UseGPU    bool
}

// Detector wraps one loaded network. gocv.Net is not safe for concurrent
// Forward calls, so Detect is serialized.
type Detector struct {
	ModelPath string
	Names     []string
	Conf      float32
	Iou       float32
	UseGPU    bool
	Backend   string
	Target    string
	State     int

	mu  sync.Mutex
	net gocv.Net
}

// LoadModel reads an ONNX export from disk and prepares it for inference at
// the fixed thresholds.
func LoadModel(param EngineParam) (*Detector, error) {
	if param.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}
	if _, err := os.Stat(param.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model file %s", param.ModelPath)
	}
	names, err := param.Names.Resolve()
	if err != nil {
		return nil, errors.Wrap(err, "can't read class names")
	}

	backend, target := param.Backend, param.Target
	if param.UseGPU && backend == "" {
		backend, target = "cuda", "cuda"
	}
	if backend == "" {
		backend = "default"
	}
	if target == "" {
		target = "cpu"
	}

	net := gocv.ReadNetFromONNX(param.ModelPath)
	if net.Empty() {
		return nil, errors.Errorf("failed to load network from %s", param.ModelPath)
	}
	if err := net.SetPreferableBackend(gocv.ParseNetBackend(backend)); err != nil {
		_ = net.Close()
		return nil, errors.Wrapf(err, "can't set backend %s", backend)
	}
	if err := net.SetPreferableTarget(gocv.ParseNetTarget(target)); err != nil {
		_ = net.Close()
		return nil, errors.Wrapf(err, "can't set target %s", target)
	}

	d := &Detector{
		ModelPath: param.ModelPath,
		Names:     names,
		Conf:      ConfThreshold,
		Iou:       IouThreshold,
		UseGPU:    param.UseGPU,
		Backend:   backend,
		Target:    target,
		State:     IDLE,
		net:       net,
	}
	logger.Log().Info("Detection network loaded",
		zap.String("ModelPath", d.ModelPath),
		zap.Strings("Names", d.Names),
		zap.String("Backend", backend),
		zap.String("Target", target),
		zap.Float32("Confidence", d.Conf),
		zap.Float32("IoU", d.Iou))
	if param.UseGPU {
		d.WarmUp(3)
	}
	return d, nil
}

// WarmUp pushes a few blank frames through the network so the first real
// request does not pay for kernel compilation.
func (d *Detector) WarmUp(rounds int) {
	warmMat := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer warmMat.Close()
	for i := 0; i < rounds; i++ {
		res, err := d.Detect(warmMat)
		if err != nil {
			logger.Log().Warn("warm up detect failed", zap.Error(err))
			return
		}
		_ = res.Close()
	}
	logger.Log().Info("Warm up finished", zap.Int("rounds", rounds))
}

func (d *Detector) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{
		ModelPath: d.ModelPath,
		Names:     d.Names,
		Conf:      d.Conf,
		Iou:       d.Iou,
		UseGPU:    d.UseGPU,
		Backend:   d.Backend,
		Target:    d.Target,
	}
}

// Detect runs the network on a BGR frame and returns the detections together
// with an annotated copy of the frame.
func (d *Detector) Detect(img gocv.Mat) (*iface.Result, error) {
	if img.Empty() {
		return nil, errors.Wrap(iface.ErrInvalidImage, "empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State != IDLE {
		return nil, errors.Wrapf(iface.ErrInference, "detector not ready (state %#x)", d.State)
	}
	d.State = BUSY
	defer func() { d.State = IDLE }()

	src, err := toBGR(img)
	if err != nil {
		return nil, errors.Wrap(iface.ErrInvalidImage, err.Error())
	}
	defer src.Close()

	square, scale := letterbox(src)
	defer square.Close()

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(InputSize, InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	size := out.Size()
	if len(size) != 3 || size[1] < 5 {
		return nil, errors.Wrapf(iface.ErrInference, "unexpected output shape %v", size)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(iface.ErrInference, err.Error())
	}

	dets := postprocess(data, size[1], size[2], scale, src.Cols(), src.Rows(), d.Names)
	return &iface.Result{
		Detections: dets,
		Annotated:  Annotate(src, dets),
	}, nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State == UNREGISTERED {
		return nil
	}
	d.State = UNREGISTERED
	if err := d.net.Close(); err != nil {
		return errors.Wrap(err, "can't release network")
	}
	return nil
}

// toBGR returns a 3-channel copy of img.
func toBGR(img gocv.Mat) (gocv.Mat, error) {
	dst := gocv.NewMat()
	switch img.Channels() {
	case 3:
		img.CopyTo(&dst)
	case 4:
		gocv.CvtColor(img, &dst, gocv.ColorBGRAToBGR)
	case 1:
		gocv.CvtColor(img, &dst, gocv.ColorGrayToBGR)
	default:
		_ = dst.Close()
		return gocv.NewMat(), fmt.Errorf("unsupported channel count %d", img.Channels())
	}
	return dst, nil
}
