package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/cnclabs/transx/pkg/metrics"
)

// NewLogger builds a production logger, or a development one at debug level
func NewLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// MetricsServer exposes a registry at /metrics
type MetricsServer struct {
	Addr    string // bound address, useful with port 0
	Trainer *metrics.Trainer

	srv *http.Server
}

// ServeMetrics registers the trainer collectors on a fresh registry and
// serves it at addr/metrics until Close
func ServeMetrics(addr string, logger *zap.Logger) (*MetricsServer, error) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewTrainer(reg)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return &MetricsServer{Addr: ln.Addr().String(), Trainer: m, srv: srv}, nil
}

// Close shuts the server down
func (s *MetricsServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// Usage is the memory footprint reported in the timing summary
type Usage struct {
	RSS           uint64  // resident set size of this process
	SystemPercent float64 // share of system memory in use
}

// ReadUsage samples process and system memory
func ReadUsage() (Usage, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return Usage{}, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Usage{}, err
	}
	return Usage{RSS: info.RSS, SystemPercent: vm.UsedPercent}, nil
}
