package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ValentinKolb/dBucket/lib/coordinator"
	"github.com/VictoriaMetrics/metrics"
)

// metricsEndpoint serves the prometheus metrics of the host on /metrics
type metricsEndpoint struct {
	server *http.Server
	addr   net.Addr
}

func startMetricsEndpoint(endpoint string, c *coordinator.Coordinator) (*metricsEndpoint, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %v", endpoint, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		c.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})

	m := &metricsEndpoint{server: &http.Server{Handler: mux}, addr: listener.Addr()}
	go func() {
		if err := m.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics endpoint stopped: %v", err)
		}
	}()
	log.Infof("serving metrics on http://%s/metrics", m.addr)
	return m, nil
}

func (m *metricsEndpoint) shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}
