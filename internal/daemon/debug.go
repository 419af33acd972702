package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
)

// DebugServer serves health, readiness and Prometheus metrics on a
// loopback address. An empty address disables it.
type DebugServer struct {
	addr    string
	machine *status.Machine
	logger  *zap.Logger
	server  *http.Server
	bound   net.Addr
}

// NewDebugServer creates a debug server for addr.
func NewDebugServer(addr string, m *status.Machine, logger *zap.Logger) *DebugServer {
	d := &DebugServer{addr: addr, machine: m, logger: logger}
	if addr != "" {
		d.server = &http.Server{
			Handler:           d.Router(),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
	}
	return d
}

// Router returns the debug routes.
func (d *DebugServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", d.health)
	r.Get("/readyz", d.ready)
	r.Handle("/metrics", metrics.Handler())
	return r
}

// Start binds the address and serves in the background.
func (d *DebugServer) Start() error {
	if d.server == nil {
		return nil
	}
	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		return fmt.Errorf("listen debug address: %w", err)
	}
	d.bound = ln.Addr()
	d.logger.Info("debug server listening", zap.String("addr", d.bound.String()))
	go func() {
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("debug server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, nil before Start.
func (d *DebugServer) Addr() net.Addr { return d.bound }

// Stop shuts the server down.
func (d *DebugServer) Stop(ctx context.Context) {
	if d.server == nil {
		return
	}
	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.Warn("debug server forced to shutdown", zap.Error(err))
	}
}

type healthResponse struct {
	Status string       `json:"status"`
	State  status.State `json:"state"`
	Since  time.Time    `json:"since"`
}

func (d *DebugServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", State: d.machine.Current(), Since: d.machine.Since()})
}

// ready reports whether cached data can be served.
func (d *DebugServer) ready(w http.ResponseWriter, _ *http.Request) {
	state := d.machine.Current()
	switch state {
	case status.Ready, status.Syncing, status.Degraded:
		writeJSON(w, http.StatusOK, healthResponse{Status: "ready", State: state, Since: d.machine.Since()})
	default:
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready", State: state, Since: d.machine.Since()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
