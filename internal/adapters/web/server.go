// Package web implements the node's status/health/metrics HTTP
// surface: a gorilla/mux router, a promhttp metrics handler, and a
// gorilla/websocket mirror of the mesh terminal and emitted hits. The
// full admin dashboard lives elsewhere; this is the thin
// operator-observability layer that stays up whatever the radios are
// doing.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/skyline-mesh/sentryhop/internal/core/services/reporting"
)

// StatusProvider renders the one-line STATUS summary the mesh broker
// already produces, reused here so there is exactly one status-string
// producer.
type StatusProvider interface {
	Status() string
}

// TerminalSource exposes the bounded operator terminal mirror (the
// broker's 500-line ring) for a one-shot HTTP read, independent of
// the WebSocket live stream.
type TerminalSource interface {
	TerminalLines() []string
}

// ReportProvider builds the most recent triangulation/detector export
// on demand; nil when reporting has nothing to export yet.
type ReportProvider func() (reporting.Report, bool)

// TriangulationControl is the initiator-side surface the operator
// drives over HTTP: open a session, close it and read the solved
// result text, or run a fixed-distance calibration pass.
type TriangulationControl interface {
	StartAsInitiator(ctx context.Context, target, duration string) error
	StopAsInitiatorText(ctx context.Context) (string, error)
	Calibrate(ctx context.Context, target string, knownDistanceM float64) error
}

// Server is the ambient HTTP surface: health, status, metrics, a
// terminal snapshot, a live WebSocket mirror, and an operator-token-
// gated PDF export.
type Server struct {
	Addr          string
	Status        StatusProvider
	Terminal      TerminalSource
	Report        ReportProvider
	Triangulation TriangulationControl
	Hub           *Hub
	operatorHash  []byte // bcrypt hash of the operator API token; nil disables the gate
	srv           *http.Server
}

// NewServer constructs a Server. operatorTokenHash is the bcrypt hash
// of the token required to hit the gated /api/report endpoint; pass
// nil to leave it open (e.g. in mock/dev mode).
func NewServer(addr string, status StatusProvider, terminal TerminalSource, operatorTokenHash []byte) *Server {
	return &Server{
		Addr:         addr,
		Status:       status,
		Terminal:     terminal,
		Hub:          NewHub(),
		operatorHash: operatorTokenHash,
	}
}

// HashOperatorToken bcrypt-hashes an operator-supplied API token at
// configuration time. Only the hash is held in memory.
func HashOperatorToken(token string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
}

// Run starts the HTTP server and blocks until ctx is canceled or
// ListenAndServe fails. Cancellation triggers a Shutdown with a
// bounded timeout.
func (s *Server) Run(ctx context.Context) error {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/terminal", s.handleTerminal).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.Hub.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/api/report", s.requireOperatorToken(s.handleReport)).Methods(http.MethodGet)
	r.HandleFunc("/api/triangulate/start", s.requireOperatorToken(s.handleTriangulateStart)).Methods(http.MethodPost)
	r.HandleFunc("/api/triangulate/stop", s.requireOperatorToken(s.handleTriangulateStop)).Methods(http.MethodPost)
	r.HandleFunc("/api/calibrate", s.requireOperatorToken(s.handleCalibrate)).Methods(http.MethodPost)

	s.srv = &http.Server{Addr: s.Addr, Handler: otelhttp.NewHandler(r, "web")}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("web: shutdown error: %v", err)
		}
	}()

	log.Printf("web: status/metrics surface listening on %s", s.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.Status == nil {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.Status.Status()))
}

func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	var lines []string
	if s.Terminal != nil {
		lines = s.Terminal.TerminalLines()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(lines)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.Report == nil {
		http.Error(w, "no report available", http.StatusNotFound)
		return
	}
	report, ok := s.Report()
	if !ok {
		http.Error(w, "no report available", http.StatusNotFound)
		return
	}
	pdf, err := reporting.NewPDFExporter().Export(report)
	if err != nil {
		http.Error(w, "failed to render report", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Write(pdf)
}

func (s *Server) handleTriangulateStart(w http.ResponseWriter, r *http.Request) {
	if s.Triangulation == nil {
		http.Error(w, "triangulation unavailable", http.StatusServiceUnavailable)
		return
	}
	target := r.URL.Query().Get("target")
	duration := r.URL.Query().Get("duration")
	if err := s.Triangulation.StartAsInitiator(r.Context(), target, duration); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Write([]byte("triangulation started\n"))
}

func (s *Server) handleTriangulateStop(w http.ResponseWriter, r *http.Request) {
	if s.Triangulation == nil {
		http.Error(w, "triangulation unavailable", http.StatusServiceUnavailable)
		return
	}
	text, err := s.Triangulation.StopAsInitiatorText(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(text + "\n"))
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if s.Triangulation == nil {
		http.Error(w, "calibration unavailable", http.StatusServiceUnavailable)
		return
	}
	target := r.URL.Query().Get("target")
	dist, err := strconv.ParseFloat(r.URL.Query().Get("distance_m"), 64)
	if err != nil || dist <= 0 {
		http.Error(w, "distance_m must be a positive number", http.StatusBadRequest)
		return
	}
	if err := s.Triangulation.Calibrate(r.Context(), target, dist); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Write([]byte("calibration complete\n"))
}

// requireOperatorToken gates a handler behind a bcrypt-compared
// bearer token. A nil hash disables the gate entirely (mock/dev
// mode).
func (s *Server) requireOperatorToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.operatorHash == nil {
			next(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" || bcrypt.CompareHashAndPassword(s.operatorHash, []byte(token)) != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return ""
	}
	return auth[len(prefix):]
}
