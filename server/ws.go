package server

import (
	iface "FireDetServer/interface"
	"FireDetServer/logger"
	"FireDetServer/monitor"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	wsReadLimit   = 20 * 1024 * 1024
	wsIdleTimeout = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSResult is the reply to every websocket frame.
type WSResult struct {
	Success    bool              `json:"success"`
	Detections []iface.Detection `json:"detections,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// wsDetect runs detection on each image sent over the socket. Text frames
// carry base64 (a data URL prefix is accepted), binary frames carry the
// encoded image bytes. Bad frames are answered with an error and the
// connection stays open.
func (s *Server) wsDetect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 升级失败时 upgrader 已经写过响应
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)
	reqID := logger.RequestID(c)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Log().Debug("websocket closed", zap.String("requestID", reqID), zap.Error(err))
			return
		}

		var mat gocv.Mat
		switch mt {
		case websocket.TextMessage:
			mat, err = Base64ToMat(string(msg))
		case websocket.BinaryMessage:
			mat, err = BytesToMat(msg)
		default:
			mat, err = gocv.NewMat(), errors.Wrap(iface.ErrInvalidInput, "unsupported message type")
		}
		reply := s.detectFrame(mat, err)
		if err := conn.WriteJSON(reply); err != nil {
			logger.Log().Warn("websocket write failed", zap.String("requestID", reqID), zap.Error(err))
			return
		}
	}
}

func (s *Server) detectFrame(mat gocv.Mat, decodeErr error) WSResult {
	defer mat.Close()
	if decodeErr != nil {
		return WSResult{Error: decodeErr.Error()}
	}

	start := time.Now()
	res, err := s.detector.Detect(mat)
	monitor.ObserveInference("websocket", start)
	if err != nil {
		return WSResult{Error: messageFor(err)}
	}
	defer res.Close()
	countDetections(res.Detections)
	return WSResult{Success: true, Detections: res.Detections}
}

// Base64ToMat 将 base64 字符串（可带 data:image/... 前缀）转为 gocv.Mat
func Base64ToMat(b64 string) (gocv.Mat, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return gocv.NewMat(), errors.Wrapf(iface.ErrInvalidInput, "bad base64: %v", err)
	}
	return BytesToMat(data)
}

// BytesToMat decodes an encoded image. The returned Mat is owned by the
// caller and must be closed even when err is set.
func BytesToMat(data []byte) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), errors.Wrapf(iface.ErrInvalidImage, "decode: %v", err)
	}
	if mat.Empty() {
		_ = mat.Close()
		return gocv.NewMat(), errors.Wrap(iface.ErrInvalidImage, "decoded image is empty or unsupported format")
	}
	return mat, nil
}
