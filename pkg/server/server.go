package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/pricehelm/pricehelm/pkg/engine"
	"github.com/pricehelm/pricehelm/pkg/feed"
	"github.com/pricehelm/pricehelm/pkg/log"
	"github.com/pricehelm/pricehelm/pkg/storage"
	"google.golang.org/api/idtoken"
)

const authTokenCookie = "auth_token"

type contextKey string

const (
	deviceIDContextKey contextKey = "deviceID"
	emailContextKey    contextKey = "email"
)

// tokenVerifier is a function that validates an OIDC ID token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// idTokenValidator validates a Google-signed ID token against an audience.
type idTokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// Server handles the HTTP API for the PriceHelm system. It hands price,
// window, and settings queries to the per-device engines and exposes the
// refresh trigger for external schedulers.
type Server struct {
	manager *engine.Manager
	storage storage.Database
	feeds   *feed.Map

	listenAddr string
	httpServer *http.Server

	updateSpecificEmail string
	updateAudience      string
	adminEmails         []string
	oidcAudiences       map[string]string
	oidcVerifiers       map[string]tokenVerifier
	tokenValidator      idTokenValidator
	bypassAuth          bool
	serverName          string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(m *engine.Manager, f *feed.Map, s storage.Database) *Server {
	srv := &Server{
		manager:        m,
		feeds:          f,
		storage:        s,
		tokenValidator: idtoken.Validate,
		serverName:     "pricehelm",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	updateSpecificEmail := lflag.String("update-specific-email", "", "email to validate for /api/update")
	updateAudience := lflag.String("update-audience", "", "ID token audience to validate for /api/update")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to manage devices")
	oidcAudience := lflag.String("oidc-audience", "", "Google OIDC client ID to validate login tokens against")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.updateSpecificEmail = *updateSpecificEmail
		srv.updateAudience = *updateAudience
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcVerifiers = map[string]tokenVerifier{
				"google": provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify,
			}
			srv.oidcAudiences = map[string]string{
				"google": *oidcAudience,
			}
		}

		if len(srv.oidcAudiences) == 0 && len(srv.adminEmails) == 0 && srv.updateAudience == "" {
			srv.bypassAuth = true
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/update", s.handleUpdate)
	apiMux.HandleFunc("GET /api/prices", s.handlePrices)
	apiMux.HandleFunc("GET /api/history/prices", s.handleHistoryPrices)
	apiMux.HandleFunc("GET /api/windows", s.handleWindows)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	apiMux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	apiMux.HandleFunc("POST /api/auth/login", s.handleLogin)
	apiMux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	apiMux.HandleFunc("GET /api/list/feeds", s.handleListFeeds)
	apiMux.HandleFunc("GET /api/list/devices", s.handleListDevices)
	apiMux.HandleFunc("POST /api/devices", s.handleCreateDevice)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

func (s *Server) getDeviceID(r *http.Request) string {
	if deviceID, ok := r.Context().Value(deviceIDContextKey).(string); ok {
		return deviceID
	}
	// we want to have a stack trace when this happens
	panic("no deviceID in context")
}

func (s *Server) getEmail(r *http.Request) string {
	if email, ok := r.Context().Value(emailContextKey).(string); ok {
		return email
	}
	return ""
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.feeds.List())
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Strict-Transport-Security: max-age=2 years
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")

		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}
