package monitor

import (
	"FireDetServer/logger"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	PID      *process.Process
	registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	HTTPTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "firedet_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})

	UploadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "firedet_uploads_total",
		Help: "Image uploads by outcome",
	}, []string{"outcome"})

	InferenceSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "firedet_inference_seconds",
		Help:    "Time spent in the detector per frame",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"source"})

	Detections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "firedet_detections_total",
		Help: "Objects detected by class",
	}, []string{"class"})

	FramesStreamed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "firedet_frames_streamed_total",
		Help: "Annotated frames written to /video_feed clients",
	})

	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "firedet_active_streams",
		Help: "Open /video_feed connections",
	})

	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
)

func init() {
	registry.MustRegister(memUsage, cpuUsage, HTTPTotal, UploadTotal, InferenceSeconds, Detections, FramesStreamed, ActiveStreams, GRPCTotal)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// GinMiddleware counts requests by matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// ObserveInference records one detector call.
func ObserveInference(source string, start time.Time) {
	InferenceSeconds.WithLabelValues(source).Observe(time.Since(start).Seconds())
}

func CheckProcessInfo() {
	if PID == nil {
		return
	}
	if memInfo, err := PID.MemoryInfo(); err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := PID.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

func GotPID() error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	PID = p
	return nil
}

// StartMon serves /metrics on port and refreshes process gauges until ctx
// is cancelled.
func StartMon(ctx context.Context, port int) {
	if err := GotPID(); err != nil {
		logger.Log().Warn("process stats unavailable", zap.Error(err))
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Prometheus server ListenAndServe error", zap.Error(err))
		}
	}()
	logger.Log().Info("Prometheus server started", zap.Int("port", port))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("Prometheus server Shutdown error", zap.Error(err))
	}
}
