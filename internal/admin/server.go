package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fractalstream/internal/analysis"
	"fractalstream/internal/logging"
	"fractalstream/internal/stream"
)

// StatusSource reports scheduler progress. *stream.Scheduler implements it.
type StatusSource interface {
	Stats() stream.Stats
}

// ReportFunc analyzes the run's telemetry so far.
type ReportFunc func(ctx context.Context) (analysis.Report, error)

// Server exposes run status, a live resilience report and Prometheus metrics.
type Server struct {
	RunID    string
	status   StatusSource
	report   ReportFunc
	gatherer prometheus.Gatherer
	tpl      *template.Template
	mux      *http.ServeMux
}

//go:embed templates/index.html
var content embed.FS

func NewServer(runID string, status StatusSource, report ReportFunc, gatherer prometheus.Gatherer) *Server {
	tpl := template.Must(template.New("index.html").ParseFS(content, "templates/index.html"))
	s := &Server{RunID: runID, status: status, report: report, gatherer: gatherer, tpl: tpl, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/report", s.handleReport)
	if s.gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	log := logging.FromContext(ctx)
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("admin server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusResponse struct {
	RunID string `json:"run_id"`
	stream.Stats
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data := struct {
		RunID string
		Stats stream.Stats
	}{RunID: s.RunID, Stats: s.stats()}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.Execute(w, data); err != nil {
		logging.FromContext(r.Context()).Error("render index", "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{RunID: s.RunID, Stats: s.stats()})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.report == nil {
		http.Error(w, "no telemetry log configured", http.StatusNotFound)
		return
	}
	rep, err := s.report(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) stats() stream.Stats {
	if s.status == nil {
		return stream.Stats{State: stream.StateIdle.String()}
	}
	return s.status.Stats()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
