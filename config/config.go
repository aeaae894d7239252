package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "FIREDET_"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Camera   CameraConfig   `yaml:"camera"`
	Storage  StorageConfig  `yaml:"storage"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	RPC      RPCConfig      `yaml:"rpc"`
	Registry RegistryConfig `yaml:"registry"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	StaticDir       string        `yaml:"staticDir"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MaxUploadMB     int64         `yaml:"maxUploadMB"`
}

type ModelConfig struct {
	Path    string   `yaml:"path"`
	Labels  string   `yaml:"labels"`
	Names   []string `yaml:"names"`
	Backend string   `yaml:"backend"`
	Target  string   `yaml:"target"`
	UseGPU  bool     `yaml:"useGPU"`
}

type CameraConfig struct {
	Device     string `yaml:"device"`
	MaxStreams int64  `yaml:"maxStreams"`
}

type StorageConfig struct {
	Dir           string        `yaml:"dir"`
	MaxAge        time.Duration `yaml:"maxAge"`
	MaxFiles      int           `yaml:"maxFiles"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

type MonitorConfig struct {
	Enable bool `yaml:"enable"`
	Port   int  `yaml:"port"`
}

type RPCConfig struct {
	Enable bool `yaml:"enable"`
	Port   int  `yaml:"port"`
}

type RegistryConfig struct {
	Enable        bool          `yaml:"enable"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Interval      time.Duration `yaml:"interval"`
	InstanceClass string        `yaml:"instanceClass"`
}

type LogConfig struct {
	Development bool   `yaml:"development"`
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"maxSizeMB"`
	MaxBackups  int    `yaml:"maxBackups"`
	MaxAgeDays  int    `yaml:"maxAgeDays"`
}

// Default matches the stock deployment: model under models/, outputs
// in detected_fires/, camera 0.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":5000",
			StaticDir:       "static",
			ShutdownTimeout: 5 * time.Second,
			MaxUploadMB:     32,
		},
		Model: ModelConfig{
			Path:    "models/best_nano_111.onnx",
			Backend: "default",
			Target:  "cpu",
		},
		Camera: CameraConfig{
			Device:     "0",
			MaxStreams: 1,
		},
		Storage: StorageConfig{
			Dir:           "detected_fires",
			MaxAge:        24 * time.Hour,
			MaxFiles:      1000,
			SweepInterval: 10 * time.Minute,
		},
		Monitor: MonitorConfig{Enable: true, Port: 50053},
		RPC:     RPCConfig{Enable: true, Port: 50051},
		Registry: RegistryConfig{
			Interval:      5 * time.Second,
			InstanceClass: "Cpu",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies .env and
// FIREDET_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, errors.Wrapf(err, "failed to parse config file %s", path)
			}
		case os.IsNotExist(err):
		default:
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	// .env never overrides variables that are already set.
	_ = godotenv.Load()
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("ADDR", cfg.Server.Addr)
	cfg.Server.StaticDir = getEnv("STATIC_DIR", cfg.Server.StaticDir)
	cfg.Server.MaxUploadMB = getEnvAsInt64("MAX_UPLOAD_MB", cfg.Server.MaxUploadMB)
	cfg.Model.Path = getEnv("MODEL_PATH", cfg.Model.Path)
	cfg.Model.Labels = getEnv("MODEL_LABELS", cfg.Model.Labels)
	cfg.Model.Backend = getEnv("MODEL_BACKEND", cfg.Model.Backend)
	cfg.Model.Target = getEnv("MODEL_TARGET", cfg.Model.Target)
	cfg.Model.UseGPU = getEnvAsBool("USE_GPU", cfg.Model.UseGPU)
	cfg.Camera.Device = getEnv("CAMERA_DEVICE", cfg.Camera.Device)
	cfg.Camera.MaxStreams = getEnvAsInt64("MAX_STREAMS", cfg.Camera.MaxStreams)
	cfg.Storage.Dir = getEnv("OUTPUT_DIR", cfg.Storage.Dir)
	cfg.Storage.MaxAge = getEnvAsDuration("MAX_AGE", cfg.Storage.MaxAge)
	cfg.Storage.MaxFiles = getEnvAsInt("MAX_FILES", cfg.Storage.MaxFiles)
	cfg.Monitor.Port = getEnvAsInt("MONITOR_PORT", cfg.Monitor.Port)
	cfg.RPC.Port = getEnvAsInt("RPC_PORT", cfg.RPC.Port)
	cfg.Registry.Enable = getEnvAsBool("REGISTRY_ENABLE", cfg.Registry.Enable)
	cfg.Registry.Host = getEnv("REGISTRY_HOST", cfg.Registry.Host)
	cfg.Registry.Port = getEnvAsInt("REGISTRY_PORT", cfg.Registry.Port)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
}

func (c *Config) Validate() error {
	if c.Model.Path == "" {
		return errors.New("model.path is empty")
	}
	if c.Storage.Dir == "" {
		return errors.New("storage.dir is empty")
	}
	if c.Camera.MaxStreams <= 0 {
		return fmt.Errorf("camera.maxStreams must be positive, got %d", c.Camera.MaxStreams)
	}
	if c.Storage.MaxAge < 0 || c.Storage.MaxFiles < 0 {
		return errors.New("storage retention limits must not be negative")
	}
	if c.Storage.SweepInterval <= 0 && (c.Storage.MaxAge > 0 || c.Storage.MaxFiles > 0) {
		return errors.New("storage.sweepInterval must be positive when retention is enabled")
	}
	if c.Registry.Enable && c.Registry.Host == "" {
		return errors.New("registry.host is required when registry is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
