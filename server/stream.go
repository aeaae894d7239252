package server

import (
	"FireDetServer/capture"
	iface "FireDetServer/interface"
	"FireDetServer/logger"
	"FireDetServer/monitor"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const StreamContentType = "multipart/x-mixed-replace; boundary=frame"

var (
	partHeader  = []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")
	partTrailer = []byte("\r\n")
)

func (s *Server) videoFeed(c *gin.Context) {
	if !s.streams.TryAcquire(1) {
		abortWithError(c, errors.Wrap(iface.ErrCameraBusy, "stream limit reached"))
		return
	}
	defer s.streams.Release(1)
	s.active.Add(1)
	defer s.active.Done()
	monitor.ActiveStreams.Inc()
	defer monitor.ActiveStreams.Dec()

	reqID := logger.RequestID(c)
	src, err := s.openCamera()
	if err != nil {
		// An unavailable camera ends the stream before the first frame.
		logger.Log().Warn("camera unavailable", zap.String("requestID", reqID), zap.Error(err))
		src = capture.Closed{}
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Log().Error("camera release failed", zap.String("requestID", reqID), zap.Error(err))
		}
	}()

	c.Header("Content-Type", StreamContentType)
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	frames, err := streamFrames(c.Request.Context(), src, s.detector, c.Writer)
	fields := []zap.Field{zap.String("requestID", reqID), zap.Int("frames", frames)}
	switch {
	case err == nil:
		logger.Log().Info("stream ended: capture stopped", fields...)
	case errors.Is(err, context.Canceled):
		logger.Log().Info("stream ended: client gone", fields...)
	default:
		logger.Log().Warn("stream ended", append(fields, zap.Error(err))...)
	}
}

// streamFrames captures, detects, encodes and writes one multipart part per
// frame until capture fails, ctx is done or a write fails. It returns the
// number of parts written; a nil error means the source ran dry.
func streamFrames(ctx context.Context, src capture.Source, det iface.Backend, w io.Writer) (int, error) {
	frame := gocv.NewMat()
	defer frame.Close()
	flusher, _ := w.(http.Flusher)

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if !src.Read(&frame) {
			return n, nil
		}

		start := time.Now()
		res, err := det.Detect(frame)
		monitor.ObserveInference("stream", start)
		if err != nil {
			return n, err
		}
		countDetections(res.Detections)
		buf, err := gocv.IMEncode(".jpg", res.Annotated)
		_ = res.Close()
		if err != nil {
			return n, errors.Wrapf(iface.ErrIO, "encode frame: %v", err)
		}
		err = writePart(w, buf.GetBytes())
		buf.Close()
		if err != nil {
			return n, err
		}
		if flusher != nil {
			flusher.Flush()
		}
		n++
		monitor.FramesStreamed.Inc()
	}
}

func writePart(w io.Writer, jpeg []byte) error {
	if _, err := w.Write(partHeader); err != nil {
		return errors.Wrap(err, "write part header")
	}
	if _, err := w.Write(jpeg); err != nil {
		return errors.Wrap(err, "write frame")
	}
	if _, err := w.Write(partTrailer); err != nil {
		return errors.Wrap(err, "write part trailer")
	}
	return nil
}
