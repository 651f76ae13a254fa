package sitemock

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/scm/infra/httpport"
	"github.com/kilianp07/scm/infra/logger"
)

// Config of the mock server.
type Config struct {
	Address string `json:"address"`
	// BudgetW is the constant budget seeded for every group in Groups.
	BudgetW float64  `json:"budget_w"`
	Voltage float64  `json:"voltage"`
	Groups  []string `json:"groups"`
	// LookaheadHours bounds the budget points returned after the requested
	// timestamp.
	LookaheadHours int `json:"lookahead_hours"`
	// AccessLog writes one line per request to stdout.
	AccessLog bool `json:"access_log"`
	// Generator adds random reservations when set.
	Generator *GeneratorConfig `json:"generator"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8090"
	}
	if len(c.Groups) == 0 {
		c.Groups = []string{"default"}
	}
	if c.LookaheadHours == 0 {
		c.LookaheadHours = 24
	}
}

// Server exposes a Site over HTTP.
type Server struct {
	addr      string
	lookahead time.Duration
	accessLog io.Writer
	site      *Site
	hub       *Hub
	log       logger.Logger
	srv       *http.Server
	requests  *prometheus.CounterVec
	profiles  prometheus.Counter
}

// NewServer creates a mock server using the default Prometheus registerer.
func NewServer(cfg Config, site *Site, hub *Hub) *Server {
	return NewServerWithRegistry(cfg, site, hub, prometheus.DefaultRegisterer)
}

// NewServerWithRegistry creates a mock server and registers its metrics on
// reg. If reg is nil the default registerer is used.
func NewServerWithRegistry(cfg Config, site *Site, hub *Hub, reg prometheus.Registerer) *Server {
	cfg.SetDefaults()
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	log := logger.New("sitemock")

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sitemock_requests_total",
		Help: "Requests served by the site mock",
	}, []string{"endpoint"})
	profiles := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sitemock_profiles_received_total",
		Help: "Charging profiles received by the site mock",
	})
	if err := reg.Register(requests); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if exist, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				requests = exist
			} else {
				log.Errorf("existing collector for sitemock_requests_total has wrong type %T", are.ExistingCollector)
			}
		}
	}
	if err := reg.Register(profiles); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if exist, ok := are.ExistingCollector.(prometheus.Counter); ok {
				profiles = exist
			} else {
				log.Errorf("existing collector for sitemock_profiles_received_total has wrong type %T", are.ExistingCollector)
			}
		}
	}

	if site == nil {
		site = NewSite()
	}
	for _, g := range cfg.Groups {
		if cfg.BudgetW > 0 {
			site.SetConstantBudget(g, cfg.BudgetW)
		}
		if cfg.Voltage > 0 {
			site.SetVoltage(g, cfg.Voltage)
		}
	}
	s := &Server{
		addr:      cfg.Address,
		lookahead: time.Duration(cfg.LookaheadHours) * time.Hour,
		site:      site,
		hub:       hub,
		log:       log,
		requests:  requests,
		profiles:  profiles,
	}
	if cfg.AccessLog {
		s.accessLog = os.Stdout
	}
	return s
}

// Site returns the backing state.
func (s *Server) Site() *Site { return s.site }

// Handler returns the routed API, wrapped in the access logger when enabled.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/peak_power_demand", s.handleBudget).Methods(http.MethodGet)
	r.HandleFunc("/evs", s.handleActive).Methods(http.MethodGet)
	r.HandleFunc("/future_evs", s.handleFuture).Methods(http.MethodGet)
	r.HandleFunc("/powers", s.handlePowers).Methods(http.MethodPost)
	r.HandleFunc("/powers", s.handleListPowers).Methods(http.MethodGet)
	if s.hub != nil {
		r.HandleFunc("/reservations", s.hub.ServeWS)
	}
	if s.accessLog != nil {
		return handlers.LoggingHandler(s.accessLog, r)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		s.log.Errorf("write health: %v", err)
	}
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	s.requests.WithLabelValues("peak_power_demand").Inc()
	q := r.URL.Query()
	ref := time.Now().UTC()
	if ts := q.Get("timestamp"); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			http.Error(w, "invalid timestamp", http.StatusBadRequest)
			return
		}
		ref = t
	}
	if v := q.Get("voltage"); v != "" {
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			http.Error(w, "invalid voltage", http.StatusBadRequest)
			return
		}
	}
	s.writeJSON(w, s.site.Budget(q.Get("group_name"), ref.Add(s.lookahead)))
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	s.requests.WithLabelValues("evs").Inc()
	s.writeJSON(w, s.site.Active(r.URL.Query().Get("group_name")))
}

func (s *Server) handleFuture(w http.ResponseWriter, r *http.Request) {
	s.requests.WithLabelValues("future_evs").Inc()
	s.writeJSON(w, s.site.Future(r.URL.Query().Get("group_name")))
}

func (s *Server) handlePowers(w http.ResponseWriter, r *http.Request) {
	s.requests.WithLabelValues("powers").Inc()
	var req httpport.PowersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.site.RecordPowers(req)
	s.profiles.Add(float64(len(req.Powers)))
	s.log.Infof("received %d profiles in %s", len(req.Powers), req.Unit)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPowers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.site.Powers())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("encode response: %v", err)
	}
}

// Addr returns the listening address once Start has been called.
func (s *Server) Addr() string { return s.addr }

// Start runs the HTTP server, and the hub when present, until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	if s.hub != nil {
		go s.hub.Run(ctx)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("shutdown server: %v", err)
		}
		cancel()
	}()
	s.log.Infof("site mock listening on %s", s.addr)
	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
