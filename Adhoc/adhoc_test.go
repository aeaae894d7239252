package Adhoc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registry(t *testing.T, status int, hits *atomic.Int32, last *RegisterRequest, mu *sync.Mutex) RegServerConfig {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/register", r.URL.Path)
		var req RegisterRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		*last = req
		mu.Unlock()
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(RegisterResponse{Id: req.Id, Success: status == http.StatusOK})
	}))
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	cfg := RegServerConfig{Interval: 20 * time.Millisecond}
	cfg.SetAddress(host, port)
	return cfg
}

func TestHeartbeat_Send(t *testing.T) {
	var hits atomic.Int32
	var last RegisterRequest
	var mu sync.Mutex
	cfg := registry(t, http.StatusOK, &hits, &last, &mu)

	h := NewHeartbeat(cfg, "10.0.0.5", 5000, CudaInstance)
	ok, err := h.Send(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, h.ID(), last.Id)
	assert.Equal(t, "10.0.0.5", last.IP)
	assert.Equal(t, 5000, last.Port)
	assert.Equal(t, CudaInstance, last.InstanceClass)
	assert.NotZero(t, last.TimeStamp)
}

func TestHeartbeat_SendServerError(t *testing.T) {
	var hits atomic.Int32
	var last RegisterRequest
	var mu sync.Mutex
	cfg := registry(t, http.StatusInternalServerError, &hits, &last, &mu)

	ok, err := NewHeartbeat(cfg, "127.0.0.1", 1, CpuInstance).Send(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestHeartbeat_RunUntilCancelled(t *testing.T) {
	var hits atomic.Int32
	var last RegisterRequest
	var mu sync.Mutex
	cfg := registry(t, http.StatusOK, &hits, &last, &mu)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go NewHeartbeat(cfg, "127.0.0.1", 1, CpuInstance).Run(ctx, &wg)

	assert.Eventually(t, func() bool { return hits.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	wg.Wait()
}

func TestParseInstanceClass(t *testing.T) {
	for name, want := range map[string]int{"Dml": DmlInstance, "Cuda": CudaInstance, "Rocm": RocmInstance, "Cpu": CpuInstance} {
		got, ok := ParseInstanceClass(name)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	got, ok := ParseInstanceClass("Tpu")
	assert.False(t, ok)
	assert.Equal(t, CpuInstance, got)
}
