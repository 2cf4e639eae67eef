/*
Package metrics provides the HTTP side services of the mx tool:
Prometheus metric exposure and pprof profiling, both switched on
through the configuration file.
*/
package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/mxhub/mx/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Service serves an HTTP endpoint with diagnostics on one or more
// addresses.
type Service struct {
	http        []*http.Server
	config      config.BasicService
	log         *zap.Logger
	serviceType string
}

// NewPrometheusService creates a service exposing registered
// Prometheus metrics over HTTP.
func NewPrometheusService(cfg config.BasicService, log *zap.Logger) *Service {
	return newService(cfg, log, "Prometheus", promhttp.Handler())
}

// NewPprofService creates a service exposing the runtime profiling
// endpoints over HTTP.
func NewPprofService(cfg config.BasicService, log *zap.Logger) *Service {
	handler := http.NewServeMux()
	handler.HandleFunc("/debug/pprof/", pprof.Index)
	handler.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	handler.HandleFunc("/debug/pprof/profile", pprof.Profile)
	handler.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	handler.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return newService(cfg, log, "Pprof", handler)
}

func newService(cfg config.BasicService, log *zap.Logger, name string, handler http.Handler) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	srvs := make([]*http.Server, 0, len(cfg.Addresses))
	for _, addr := range cfg.Addresses {
		srvs = append(srvs, &http.Server{
			Addr:    addr,
			Handler: handler,
		})
	}
	return &Service{
		http:        srvs,
		config:      cfg,
		serviceType: name,
		log:         log.With(zap.String("service", name)),
	}
}

// Start runs the service's HTTP servers. Disabled services do nothing.
func (ms *Service) Start() {
	if ms == nil || !ms.config.Enabled {
		return
	}
	for _, srv := range ms.http {
		ms.log.Info("starting service", zap.String("endpoint", srv.Addr))
		srv := srv
		go func() {
			err := srv.ListenAndServe()
			if !errors.Is(err, http.ErrServerClosed) {
				ms.log.Error("service couldn't start", zap.String("endpoint", srv.Addr), zap.Error(err))
			}
		}()
	}
}

// ShutDown stops the service's HTTP servers.
func (ms *Service) ShutDown() {
	if ms == nil || !ms.config.Enabled {
		return
	}
	for _, srv := range ms.http {
		ms.log.Info("shutting down service", zap.String("endpoint", srv.Addr))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			ms.log.Error("can't shut service down", zap.String("endpoint", srv.Addr), zap.Error(err))
		}
		cancel()
	}
}
