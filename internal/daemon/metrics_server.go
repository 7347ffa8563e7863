package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/matheus3301/tpost/internal/config"
	"github.com/matheus3301/tpost/internal/connectivity"
	"github.com/matheus3301/tpost/internal/metrics"
)

// MetricsServer serves /metrics and /healthz on metrics_addr. With an empty
// address it does nothing.
type MetricsServer struct {
	addr    string
	srv     *http.Server
	monitor *connectivity.Monitor
	logger  *zap.Logger
}

// NewMetricsServer creates the metrics endpoint.
func NewMetricsServer(cfg *config.Config, m *metrics.Metrics, mon *connectivity.Monitor, logger *zap.Logger) *MetricsServer {
	ms := &MetricsServer{addr: cfg.MetricsAddr, monitor: mon, logger: logger}
	r := mux.NewRouter()
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", ms.health).Methods(http.MethodGet)
	ms.srv = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return ms
}

func (ms *MetricsServer) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"state":     ms.monitor.State(),
		"can_sync":  ms.monitor.CanSyncNow(),
		"online":    ms.monitor.Online(),
		"signed_in": ms.monitor.Authenticated(),
	})
}

// Handler exposes the router, mainly for tests.
func (ms *MetricsServer) Handler() http.Handler {
	return ms.srv.Handler
}

// Start listens in the background.
func (ms *MetricsServer) Start() {
	if ms.addr == "" {
		return
	}
	ln, err := net.Listen("tcp", ms.addr)
	if err != nil {
		ms.logger.Error("metrics listener", zap.String("addr", ms.addr), zap.Error(err))
		return
	}
	ms.logger.Info("metrics server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := ms.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ms.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Stop shuts the endpoint down.
func (ms *MetricsServer) Stop(ctx context.Context) {
	if ms.addr == "" {
		return
	}
	_ = ms.srv.Shutdown(ctx)
}
