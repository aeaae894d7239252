package server

import (
	"FireDetServer/capture"
	iface "FireDetServer/interface"
	"FireDetServer/logger"
	"FireDetServer/monitor"
	"FireDetServer/storage"
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"golang.org/x/sync/semaphore"
)

type Options struct {
	Detector   iface.Backend
	Store      *storage.Store
	OpenCamera capture.Opener
	StaticDir  string
	// MaxStreams caps concurrent /video_feed connections; each one holds
	// its own camera handle.
	MaxStreams     int64
	MaxUploadBytes int64
}

// Server wires the detector, the output store and the camera into the HTTP
// surface. It holds no per-request state.
type Server struct {
	detector   iface.Backend
	store      *storage.Store
	openCamera capture.Opener
	streams    *semaphore.Weighted
	maxUpload  int64
	router     *gin.Engine

	// active tracks /video_feed handlers until their camera is released.
	active sync.WaitGroup
}

func New(opts Options) *Server {
	if opts.MaxStreams <= 0 {
		opts.MaxStreams = 1
	}
	if opts.OpenCamera == nil {
		opts.OpenCamera = func() (capture.Source, error) { return capture.Closed{}, nil }
	}
	s := &Server{
		detector:   opts.Detector,
		store:      opts.Store,
		openCamera: opts.OpenCamera,
		streams:    semaphore.NewWeighted(opts.MaxStreams),
		maxUpload:  opts.MaxUploadBytes,
	}
	s.router = s.routes(opts.StaticDir)
	return s
}

func (s *Server) routes(staticDir string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinMiddleware(), monitor.GinMiddleware())
	if staticDir != "" {
		r.Use(static.Serve("/", static.LocalFile(staticDir, false)))
	}

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/detect_image", s.detectImage)
	r.GET("/video_feed", s.videoFeed)
	r.GET("/ws/detect", s.wsDetect)
	return r
}

// Handler returns the router behind a permissive CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.router)
}

// HTTPServer builds the listener-facing server. Request contexts derive from
// a base context that is cancelled as soon as Shutdown starts, so open
// streams stop at the next frame and release their camera instead of
// holding Shutdown until its deadline.
func (s *Server) HTTPServer(addr string) *http.Server {
	base, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}

// WaitStreams blocks until every /video_feed handler has released its camera.
func (s *Server) WaitStreams() {
	s.active.Wait()
}
