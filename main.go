package main

import (
	"FireDetServer/Adhoc"
	"FireDetServer/capture"
	"FireDetServer/config"
	"FireDetServer/engine"
	backend "FireDetServer/gRPC"
	"FireDetServer/logger"
	"FireDetServer/monitor"
	"FireDetServer/server"
	"FireDetServer/storage"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	dev := flag.Bool("dev", false, "human readable development logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := initLogger(cfg.Log, *dev); err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Log().Info("starting", zap.Int("GOMAXPROCS", runtime.GOMAXPROCS(0)), zap.String("config", *configPath))

	if err := run(cfg); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func initLogger(cfg config.LogConfig, dev bool) error {
	sink := logger.FileSink{
		Path:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	}
	if dev || cfg.Development {
		return logger.InitDevelopment(cfg.Level, sink)
	}
	return logger.InitProduction(cfg.Level, sink)
}

func loadDetector(cfg config.ModelConfig) (*engine.Detector, error) {
	names := engine.NamesConf{Data: cfg.Names}
	if cfg.Labels != "" {
		names = engine.NamesConf{IsFile: true, Path: cfg.Labels}
	}
	return engine.LoadModel(engine.EngineParam{
		ModelPath: cfg.Path,
		Names:     names,
		Backend:   cfg.Backend,
		Target:    cfg.Target,
		UseGPU:    cfg.UseGPU,
	})
}

func run(cfg *config.Config) (err error) {
	detector, err := loadDetector(cfg.Model)
	if err != nil {
		return errors.Wrap(err, "load model")
	}
	defer func() { err = multierr.Append(err, detector.Close()) }()

	store, err := storage.NewStore(cfg.Storage.Dir, storage.Retention{
		MaxAge:   cfg.Storage.MaxAge,
		MaxFiles: cfg.Storage.MaxFiles,
	})
	if err != nil {
		return err
	}
	if cfg.Storage.MaxAge > 0 || cfg.Storage.MaxFiles > 0 {
		janitor, jerr := storage.NewJanitor(store, cfg.Storage.SweepInterval)
		if jerr != nil {
			return errors.Wrap(jerr, "retention scheduler")
		}
		janitor.Start()
		defer func() { err = multierr.Append(err, janitor.Stop()) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer func() {
		cancelBg()
		wg.Wait()
	}()

	if cfg.Monitor.Enable {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.StartMon(bgCtx, cfg.Monitor.Port)
		}()
	}

	var rpc *backend.Server
	if cfg.RPC.Enable {
		rpc, err = backend.StartGRPCServer(cfg.RPC.Port)
		if err != nil {
			return err
		}
		defer rpc.GracefulStop()
	}

	if cfg.Registry.Enable {
		if err := startHeartbeat(bgCtx, &wg, cfg); err != nil {
			logger.Log().Warn("registry heartbeat disabled", zap.Error(err))
		}
	}

	srv := server.New(server.Options{
		Detector:       detector,
		Store:          store,
		OpenCamera:     capture.DeviceOpener(cfg.Camera.Device),
		StaticDir:      cfg.Server.StaticDir,
		MaxStreams:     cfg.Camera.MaxStreams,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
	})
	httpSrv := srv.HTTPServer(cfg.Server.Addr)

	serveErr := make(chan error, 1)
	go func() {
		logger.Log().Info("HTTP server started", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	if rpc != nil {
		rpc.SetServing(true)
	}

	select {
	case <-ctx.Done():
		logger.Log().Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return errors.Wrap(err, "http server")
		}
	}

	if rpc != nil {
		rpc.SetServing(false)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// Shutdown 会取消视频流的 context；超时仍未结束的连接强制关闭
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		err = multierr.Append(errors.Wrap(err, "http shutdown"), httpSrv.Close())
		srv.WaitStreams()
		return err
	}
	srv.WaitStreams()
	logger.Log().Info("HTTP server stopped")
	return nil
}

func startHeartbeat(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config) error {
	ip, err := Adhoc.GetOutboundIP()
	if err != nil {
		return err
	}
	_, portStr, err := net.SplitHostPort(cfg.Server.Addr)
	if err != nil {
		return errors.Wrapf(err, "server.addr %q", cfg.Server.Addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return errors.Wrapf(err, "server.addr port %q", portStr)
	}
	class, ok := Adhoc.ParseInstanceClass(cfg.Registry.InstanceClass)
	if !ok {
		logger.Log().Warn("unknown instance class, using Cpu", zap.String("instanceClass", cfg.Registry.InstanceClass))
	}

	var reg Adhoc.RegServerConfig
	reg.SetAddress(cfg.Registry.Host, cfg.Registry.Port)
	reg.Interval = cfg.Registry.Interval
	hb := Adhoc.NewHeartbeat(reg, ip, port, class)
	logger.Log().Info("registry heartbeat started", zap.String("id", hb.ID()), zap.String("url", reg.URL()))
	wg.Add(1)
	go hb.Run(ctx, wg)
	return nil
}
