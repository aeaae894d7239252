package Adhoc

import (
	"FireDetServer/logger"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DmlInstance    = 0x2001
	CpuInstance    = 0x2002
	CudaInstance   = 0x2003
	RocmInstance   = 0x2004
	TimeOutSeconds = 5
)

type RegisterRequest struct {
	Id            string `json:"id"`
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	InstanceClass int    `json:"instanceClass"`
	TimeStamp     int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port     int
	Addr     string
	Interval time.Duration
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

// ParseInstanceClass maps the config name to its wire value; unknown names
// fall back to CpuInstance.
func ParseInstanceClass(name string) (int, bool) {
	switch name {
	case "Dml":
		return DmlInstance, true
	case "Cuda":
		return CudaInstance, true
	case "Rocm":
		return RocmInstance, true
	case "Cpu":
		return CpuInstance, true
	default:
		return CpuInstance, false
	}
}

func GetOutboundIP() (string, error) {
	// 8.8.8.8 只是为了建立路由路径得到本地出口 IP，并不会真正发包
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}

// Heartbeat announces this instance to a registry server until its context
// is cancelled. Failures are logged and retried on the next tick.
type Heartbeat struct {
	cfg    RegServerConfig
	client *resty.Client
	req    RegisterRequest
}

func NewHeartbeat(cfg RegServerConfig, ip string, port int, instanceClass int) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = TimeOutSeconds * time.Second
	}
	return &Heartbeat{
		cfg:    cfg,
		client: resty.New().SetTimeout(TimeOutSeconds * time.Second),
		req: RegisterRequest{
			Id:            uuid.NewString(),
			IP:            ip,
			Port:          port,
			InstanceClass: instanceClass,
		},
	}
}

func (h *Heartbeat) ID() string { return h.req.Id }

// Send posts one registration and reports whether the registry accepted it.
func (h *Heartbeat) Send(ctx context.Context) (bool, error) {
	var respBody RegisterResponse
	reqBody := h.req
	reqBody.TimeStamp = time.Now().Unix()
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody).
		Post(h.cfg.URL())
	if err != nil {
		return false, err
	}
	if resp.IsError() {
		return false, fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	return respBody.Success, nil
}

func (h *Heartbeat) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	send := func() {
		ok, err := h.Send(ctx)
		if err != nil {
			logger.Log().Error("registry heartbeat failed", zap.String("url", h.cfg.URL()), zap.Error(err))
			return
		}
		if !ok {
			logger.Log().Warn("registry rejected heartbeat", zap.String("id", h.req.Id))
		}
	}
	send()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("Heartbeat context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			send()
		}
	}
}
