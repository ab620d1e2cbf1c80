package server

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pricehelm/pricehelm/pkg/log"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		allowNoLogin := r.URL.Path == "/api/auth/login" || r.URL.Path == "/api/auth/status"
		isUpdatePath := r.URL.Path == "/api/update"

		// extract DeviceID
		var deviceID string
		if r.Method == http.MethodGet {
			deviceID = r.URL.Query().Get("deviceID")
		} else {
			// read body to find DeviceID
			var bodyBytes []byte
			if r.Body != nil {
				// Limit body size to 1MB to prevent DoS
				r.Body = http.MaxBytesReader(w, r.Body, 1048576)
				var err error
				bodyBytes, err = io.ReadAll(r.Body)
				if err != nil {
					log.Ctx(ctx).ErrorContext(ctx, "failed to read request body", slog.Any("error", err))
					// since we failed to read, don't return JSON error
					http.Error(w, "invalid request", http.StatusBadRequest)
					return
				}
				// restore body for next handler
				r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			}

			// try to unmarshal just the DeviceID
			if len(bodyBytes) > 0 {
				var justDeviceID struct {
					DeviceID string `json:"deviceID"`
				}
				err := json.Unmarshal(bodyBytes, &justDeviceID)
				if err != nil {
					log.Ctx(ctx).ErrorContext(ctx, "failed to unmarshal request body", slog.Any("error", err))
					// since we failed to read, don't return JSON error
					http.Error(w, "invalid request", http.StatusBadRequest)
					return
				}
				deviceID = justDeviceID.DeviceID
			}
		}

		var email string
		if !s.bypassAuth {
			var authSuccess bool

			// Check /api/update specific auth (e.g. Cloud Scheduler bearer token)
			if isUpdatePath && s.updateAudience != "" {
				authHeader := r.Header.Get("Authorization")
				if authHeader != "" {
					if !strings.HasPrefix(authHeader, "Bearer ") {
						log.Ctx(ctx).ErrorContext(ctx, "invalid auth header")
						writeJSONError(w, "invalid auth header", http.StatusBadRequest)
						return
					}
					token := strings.TrimPrefix(authHeader, "Bearer ")
					payload, err := s.tokenValidator(ctx, token, s.updateAudience)
					if err != nil {
						log.Ctx(ctx).WarnContext(ctx, "update token validation failed", slog.Any("error", err))
					} else {
						tokenEmail, _ := payload.Claims["email"].(string)
						if s.updateSpecificEmail != "" && subtle.ConstantTimeCompare([]byte(tokenEmail), []byte(s.updateSpecificEmail)) == 1 {
							email = tokenEmail
							authSuccess = true
						} else {
							log.Ctx(ctx).WarnContext(ctx, "update email mismatch", slog.String("got", tokenEmail))
						}
					}
				}
			}

			// normal user auth (cookie)
			if !authSuccess {
				authCookie, err := r.Cookie(authTokenCookie)
				if err != nil && !errors.Is(err, http.ErrNoCookie) {
					log.Ctx(ctx).ErrorContext(ctx, "failed to get auth cookie", slog.Any("error", err))
					writeJSONError(w, "missing auth cookie", http.StatusBadRequest)
					return
				}
				if authCookie != nil {
					emailRet, _, err := s.authenticateToken(ctx, authCookie.Value)
					if err != nil {
						log.Ctx(ctx).ErrorContext(ctx, "auth token validation failed", slog.Any("error", err))
						writeJSONError(w, "invalid auth token", http.StatusBadRequest)
						return
					}
					email = emailRet
					authSuccess = true
				} else if !allowNoLogin {
					log.Ctx(ctx).WarnContext(ctx, "no auth cookie found")
					writeJSONError(w, "missing auth cookie", http.StatusBadRequest)
					return
				}

				if authSuccess && !s.isAdmin(email) {
					log.Ctx(ctx).WarnContext(ctx, "unauthorized email", slog.String("email", email))
					s.clearCookie(w)
					writeJSONError(w, "unauthorized", http.StatusForbidden)
					return
				}
			}

			if !authSuccess && !allowNoLogin {
				log.Ctx(ctx).WarnContext(ctx, "unauthenticated request")
				s.clearCookie(w)
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		if deviceID != "" {
			ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("authDeviceID", deviceID)))
		}

		log.Ctx(ctx).DebugContext(ctx, "authenticated request", slog.String("email", email))

		ctx = context.WithValue(ctx, emailContextKey, email)
		ctx = context.WithValue(ctx, deviceIDContextKey, deviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isAdmin returns true if the email is in the adminEmails list.
func (s *Server) isAdmin(email string) bool {
	for _, adminEmail := range s.adminEmails {
		if email == adminEmail {
			return true
		}
	}
	return false
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// since we failed to read, don't return JSON error
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	email, expires, err := s.authenticateToken(r.Context(), req.Token)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to validate id token", slog.Any("error", err))
		writeJSONError(w, "invalid id token", http.StatusUnauthorized)
		return
	}

	if email == "" {
		log.Ctx(r.Context()).WarnContext(r.Context(), "invalid email in id token")
		writeJSONError(w, "invalid oidc claims", http.StatusUnauthorized)
		return
	}

	if !s.isAdmin(email) {
		log.Ctx(r.Context()).WarnContext(r.Context(), "unauthorized email for login", slog.String("email", email))
		writeJSONError(w, "unauthorized", http.StatusForbidden)
		return
	}

	log.Ctx(r.Context()).InfoContext(r.Context(), "login token validated successfully", slog.String("email", email))

	// Set the cookie
	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    req.Token,
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
	})

	w.WriteHeader(http.StatusOK)
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearCookie(w)
	w.WriteHeader(http.StatusOK)
}

type authStatusResponse struct {
	LoggedIn     bool              `json:"loggedIn"`
	Email        string            `json:"email"`
	AuthRequired bool              `json:"authRequired"`
	ClientIDs    map[string]string `json:"clientIDs"`
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	email := s.getEmail(r)
	writeJSON(w, authStatusResponse{
		LoggedIn:     email != "" || s.bypassAuth,
		Email:        email,
		AuthRequired: len(s.oidcAudiences) > 0,
		ClientIDs:    s.oidcAudiences,
	})
}

func (s *Server) authenticateToken(ctx context.Context, token string) (string, time.Time, error) {
	var errs []error

	for providerName, verifier := range s.oidcVerifiers {
		idToken, err := verifier(ctx, token)
		if err == nil {
			var claims struct {
				Email string `json:"email"`
			}
			err = idToken.Claims(&claims)
			if err == nil {
				return claims.Email, idToken.Expiry, nil
			}
		}
		errs = append(errs, fmt.Errorf("%s verifier failed: %v", providerName, err))
	}

	if len(errs) > 0 {
		return "", time.Time{}, errors.Join(errs...)
	}
	return "", time.Time{}, errors.New("no valid audiences configured or token invalid")
}
