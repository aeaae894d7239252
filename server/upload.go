package server

import (
	iface "FireDetServer/interface"
	"FireDetServer/logger"
	"FireDetServer/monitor"
	"FireDetServer/storage"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// PNG is what the web page expects regardless of the stored extension.
const uploadResponseType = "image/png"

func (s *Server) detectImage(c *gin.Context) {
	if s.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
	}
	data, n, err := s.processUpload(c)
	monitor.UploadTotal.WithLabelValues(outcomeFor(err)).Inc()
	if err != nil {
		logger.Log().Warn("detect_image failed", zap.String("requestID", logger.RequestID(c)), zap.Error(err))
		abortWithError(c, err)
		return
	}
	c.Header("X-Detection-Count", strconv.Itoa(n))
	c.Data(http.StatusOK, uploadResponseType, data)
}

// processUpload stores the upload, runs detection on the stored file and
// returns the encoded annotated output.
func (s *Server) processUpload(c *gin.Context) ([]byte, int, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, 0, errors.Wrapf(iface.ErrInvalidInput, "upload exceeds %d bytes", tooLarge.Limit)
		}
		return nil, 0, errors.Wrap(iface.ErrNoFile, err.Error())
	}

	name, err := storage.Sanitize(fh.Filename)
	if err != nil {
		return nil, 0, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, 0, errors.Wrapf(iface.ErrIO, "open upload: %v", err)
	}
	defer f.Close()

	path, err := s.store.SaveUpload(name, f)
	if err != nil {
		return nil, 0, err
	}

	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		return nil, 0, errors.Wrapf(iface.ErrInvalidImage, "can't decode %s", name)
	}

	start := time.Now()
	res, err := s.detector.Detect(img)
	monitor.ObserveInference("upload", start)
	if err != nil {
		return nil, 0, err
	}
	defer res.Close()
	countDetections(res.Detections)

	out := s.store.OutputPath(name)
	if ok := gocv.IMWrite(out, res.Annotated); !ok {
		return nil, 0, errors.Wrapf(iface.ErrIO, "write %s", out)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, 0, errors.Wrapf(iface.ErrIO, "read %s: %v", out, err)
	}
	logger.Log().Info("detect_image",
		zap.String("requestID", logger.RequestID(c)),
		zap.String("file", name),
		zap.Int("detections", len(res.Detections)))
	return data, len(res.Detections), nil
}

func countDetections(dets []iface.Detection) {
	for _, d := range dets {
		monitor.Detections.WithLabelValues(d.Name).Inc()
	}
}
