// Package portal exposes accounts and flows over HTTP. Every request
// carries a session ID; running wizards are kept in memory and belong to
// the session that started them.
package portal

import (
	"net/http"
	"net/http/pprof"
	"time"

	"bankflow/pkg/flows"
	"bankflow/pkg/logging"
	"bankflow/pkg/session"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config wires a Server.
type Config struct {
	Flows    *flows.Service
	Sessions *session.Store

	// HTTPMetrics records request counts and latencies. Optional.
	HTTPMetrics *HTTPMetrics
	// Gatherer serves /metrics. Without it the route is not mounted.
	Gatherer prometheus.Gatherer

	Logger *logging.Logger

	// FlowTTL drops wizards idle for longer. Zero keeps them forever.
	FlowTTL time.Duration
	// SweepInterval defaults to FlowTTL.
	SweepInterval time.Duration
	Now           func() time.Time

	// EnablePprof mounts the profiling handlers under /debug/pprof/.
	EnablePprof bool
}

// Server is the portal HTTP handler.
type Server struct {
	flows    *flows.Service
	sessions *session.Store
	registry *registry
	logger   *logging.Logger
	router   *mux.Router
	now      func() time.Time
	started  time.Time
}

// New creates a Server and starts its idle-flow sweeper. Close stops it.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = logging.L()
	}
	logger = logger.Named("portal")
	now := config.Now
	if now == nil {
		now = time.Now
	}
	interval := config.SweepInterval
	if interval <= 0 {
		interval = config.FlowTTL
	}

	s := &Server{
		flows:    config.Flows,
		sessions: config.Sessions,
		registry: newRegistry(config.FlowTTL, now, logger),
		logger:   logger,
		now:      now,
		started:  now(),
	}
	go s.registry.run(interval)

	r := mux.NewRouter()
	if config.HTTPMetrics != nil {
		r.Use(config.HTTPMetrics.middleware())
	}
	r.Use(s.logMiddleware)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/status", s.status).Methods(http.MethodGet)
	if config.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if config.EnablePprof {
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}

	api := r.NewRoute().Subrouter()
	api.Use(s.sessionMiddleware)

	api.HandleFunc("/accounts", s.listAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts/primary", s.primaryAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}", s.getAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/transactions", s.transactions).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/deposit", s.deposit).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/payment", s.payment).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/beneficiaries", s.beneficiaries).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/beneficiaries", s.saveBeneficiaries).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{id}/alerts", s.alerts).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/alerts", s.saveAlerts).Methods(http.MethodPut)
	api.HandleFunc("/transfers/recent", s.recentTransfers).Methods(http.MethodGet)
	api.HandleFunc("/session", s.clearSession).Methods(http.MethodDelete)

	api.HandleFunc("/flows", s.listFlows).Methods(http.MethodGet)
	api.HandleFunc("/flows/{flow}", s.startFlow).Methods(http.MethodPost)
	api.HandleFunc("/flows/{id}", s.getFlow).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}", s.setFields).Methods(http.MethodPatch)
	api.HandleFunc("/flows/{id}/next", s.next).Methods(http.MethodPost)
	api.HandleFunc("/flows/{id}/back", s.back).Methods(http.MethodPost)
	api.HandleFunc("/flows/{id}/retry", s.retry).Methods(http.MethodPost)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ActiveFlows returns the number of wizards held in memory.
func (s *Server) ActiveFlows() int {
	return s.registry.len()
}

// Close stops the sweeper. Running wizards are discarded with the server.
func (s *Server) Close() {
	s.registry.close()
}
