package session

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zombor/pantry-tracker/internal/inventory"
)

// Server exposes a Session and the record ledger over HTTP
type Server struct {
	session   *Session
	ledger    *inventory.Ledger
	storage   Storage
	basicAuth BasicAuth
	logger    *zap.Logger
	mux       *http.ServeMux
	metrics   http.Handler
	now       func() time.Time
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(session *Session, ledger *inventory.Ledger, storage Storage, basicAuth BasicAuth, logger *zap.Logger) *Server {
	return NewServerWithMux(session, ledger, storage, basicAuth, logger, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(session *Session, ledger *inventory.Ledger, storage Storage, basicAuth BasicAuth, logger *zap.Logger, mux *http.ServeMux) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		session:   session,
		ledger:    ledger,
		storage:   storage,
		basicAuth: basicAuth,
		logger:    logger,
		mux:       mux,
		metrics:   promhttp.Handler(),
		now:       time.Now,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Pantry Tracker"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Session state and navigation
	s.mux.HandleFunc("GET /api/session", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("POST /api/session/area", s.requireAuth(s.handleSelectArea))
	s.mux.HandleFunc("POST /api/session/quick-scan", s.requireAuth(s.command((*Session).QuickScan)))
	s.mux.HandleFunc("POST /api/session/capture", s.requireAuth(s.handleCapture))
	s.mux.HandleFunc("POST /api/session/retry", s.requireAuth(s.command((*Session).Retry)))
	s.mux.HandleFunc("POST /api/session/confirm", s.requireAuth(s.command((*Session).Confirm)))
	s.mux.HandleFunc("POST /api/session/next-area", s.requireAuth(s.handleNextArea))
	s.mux.HandleFunc("POST /api/session/finish", s.requireAuth(s.command((*Session).FinishTour)))
	s.mux.HandleFunc("POST /api/session/back", s.requireAuth(s.command((*Session).Back)))
	s.mux.HandleFunc("POST /api/session/discard", s.requireAuth(s.command((*Session).ConfirmDiscard)))
	s.mux.HandleFunc("POST /api/session/keep", s.requireAuth(s.command((*Session).CancelDiscard)))
	s.mux.HandleFunc("POST /api/session/retake", s.requireAuth(s.command((*Session).Retake)))
	s.mux.HandleFunc("POST /api/session/resume", s.requireAuth(s.command((*Session).Resume)))
	s.mux.HandleFunc("POST /api/session/areas", s.requireAuth(s.command((*Session).ReturnToAreaSelection)))
	s.mux.HandleFunc("POST /api/session/exit", s.requireAuth(s.command((*Session).Exit)))
	s.mux.HandleFunc("POST /api/session/reset", s.requireAuth(s.command((*Session).Reset)))

	// Review items (most specific paths first)
	s.mux.HandleFunc("POST /api/session/items/{index}/match", s.requireAuth(s.handleChangeMatch))
	s.mux.HandleFunc("PATCH /api/session/items/{index}", s.requireAuth(s.handleEditItem))
	s.mux.HandleFunc("DELETE /api/session/items/{index}", s.requireAuth(s.handleRemoveItem))
	s.mux.HandleFunc("POST /api/session/items", s.requireAuth(s.handleAddItem))

	s.mux.HandleFunc("GET /api/tour/summary", s.requireAuth(s.handleTourSummary))

	// Records
	s.mux.HandleFunc("POST /api/items/quick-add", s.requireAuth(s.handleQuickAdd))
	s.mux.HandleFunc("GET /api/items", s.requireAuth(s.handleListItems))
	s.mux.HandleFunc("GET /api/items/{id}", s.requireAuth(s.handleGetItem))

	// Live category and unit lists
	store := s.ledger.Store()
	listCategories, saveCategory := s.listHandlers("categories", store.ListCategories, store.SaveCategory)
	s.mux.HandleFunc("GET /api/categories", s.requireAuth(listCategories))
	s.mux.HandleFunc("POST /api/categories", s.requireAuth(saveCategory))
	listUnits, saveUnit := s.listHandlers("units", store.ListUnits, store.SaveUnit)
	s.mux.HandleFunc("GET /api/units", s.requireAuth(listUnits))
	s.mux.HandleFunc("POST /api/units", s.requireAuth(saveUnit))

	// Archived photos
	s.mux.HandleFunc("GET /api/photos/{name}", s.requireAuth(s.handleGetPhoto))
	s.mux.HandleFunc("DELETE /api/photos/{name}", s.requireAuth(s.handleDeletePhoto))

	s.mux.HandleFunc("GET /metrics", s.requireAuth(s.metrics.ServeHTTP))
}

// Start serves HTTP on addr until ctx is canceled
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
