package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const subjectKey ctxKey = iota

// observe logs every request and records it under its route pattern, so
// path parameters do not explode metric cardinality.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		s.metrics.RecordHTTP(r.Method, route, status, elapsed)
		s.log.Info("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware accepts HS256 bearer tokens and stores their subject for
// authorizeUser. It is a pass-through when no secret is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if len(s.jwtSecret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			s.unauthorized(w, "Missing bearer token")
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
			return s.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			s.log.Debug("rejected bearer token", "err", err)
			s.unauthorized(w, "Invalid bearer token")
			return
		}
		if claims.Subject == "" {
			s.unauthorized(w, "Token has no subject")
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorizeUser resolves the user a request acts for. With auth enabled an
// empty userID defaults to the token subject and any other value must match
// it. It writes the error response itself and reports false on rejection.
func (s *Server) authorizeUser(w http.ResponseWriter, r *http.Request, userID string) (string, bool) {
	if len(s.jwtSecret) == 0 {
		return userID, true
	}
	subject, _ := r.Context().Value(subjectKey).(string)
	if userID == "" {
		return subject, true
	}
	if userID != subject {
		s.writeJSON(w, http.StatusForbidden, errorResponse{Error: "Token does not match userId", Code: codeForbidden})
		return "", false
	}
	return userID, true
}

// requireAdmin limits a route to the configured admin subjects. Like
// authMiddleware it is a pass-through when auth is disabled.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	if len(s.jwtSecret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ := r.Context().Value(subjectKey).(string)
		if _, ok := s.admins[subject]; !ok {
			s.writeJSON(w, http.StatusForbidden, errorResponse{Error: "Admin access required", Code: codeForbidden})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="leadmail"`)
	s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: message, Code: codeUnauthorized})
}
