package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/dharsanguruparan/nexuspass/internal/checkin"
	"github.com/dharsanguruparan/nexuspass/internal/config"
	"github.com/dharsanguruparan/nexuspass/internal/model"
	"github.com/dharsanguruparan/nexuspass/internal/queue"
	"github.com/dharsanguruparan/nexuspass/internal/signing"
)

// AttendeeStore is the directory plus the provisioning helper.
type AttendeeStore interface {
	checkin.Directory
	Create(ctx context.Context, a *model.Attendee) error
}

// Dispatcher hands a generation batch to a background runner.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload queue.GeneratePayload) (string, error)
}

// Presigner issues direct object store links.
type Presigner interface {
	PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Deps are the collaborators a Server needs. Dispatcher and Presigner are
// optional.
type Deps struct {
	Attendees  AttendeeStore
	Artifacts  checkin.ArtifactStore
	Generator  *checkin.Generator
	Desk       *checkin.Desk
	Reporter   *checkin.Reporter
	Signer     *signing.Signer
	Dispatcher Dispatcher
	Presigner  Presigner
}

// Server exposes the check-in operations over HTTP.
type Server struct {
	cfg      *config.Config
	deps     Deps
	validate *validator.Validate
	now      func() time.Time
	server   *http.Server
	once     sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		deps:     deps,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.cfg.Address,
			Handler:           s.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/codes/generate", s.handleGenerate).Methods(http.MethodPost)
	r.HandleFunc("/codes/{id}.png", s.handleCodeImage).Methods(http.MethodGet)
	r.HandleFunc("/scans", s.handleScan).Methods(http.MethodPost)
	r.HandleFunc("/checkins", s.handleCheckin).Methods(http.MethodPost)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/attendees", s.handleListAttendees).Methods(http.MethodGet)
	r.HandleFunc("/attendees", s.handleCreateAttendee).Methods(http.MethodPost)
	r.HandleFunc("/attendees/{id}/code-url", s.handleCodeURL).Methods(http.MethodGet)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	r.Use(loggingMiddleware)
	return corsMiddleware(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("%s %s %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
