package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courier/api/internal/auth"
	"courier/api/internal/authpw"
	"courier/api/internal/ratelimit"
)

type HTTPServer struct {
	service    *Service
	limiter    *ratelimit.Limiter
	corsOrigin string
}

// NewHTTPServer wires the service behind the HTTP boundary. limiter may be
// nil, which disables login throttling.
func NewHTTPServer(service *Service, limiter *ratelimit.Limiter, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, limiter: limiter, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/ready" {
		s.handleReady(w, r)
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/register" {
		s.handleRegister(w, r)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 1 && parts[0] == "messages" && r.Method == http.MethodPost {
		var body struct {
			ToUsername string `json:"to_username"`
			Body       string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
		payload, err := s.service.SendMessage(r.Context(), session.Username, body.ToUsername, body.Body)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(parts) == 2 && parts[0] == "messages" && r.Method == http.MethodGet {
		id, ok := parseMessageID(w, parts[1])
		if !ok {
			return
		}
		payload, err := s.service.GetMessage(r.Context(), session.Username, id)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 3 && parts[0] == "messages" && parts[2] == "read" && r.Method == http.MethodPost {
		id, ok := parseMessageID(w, parts[1])
		if !ok {
			return
		}
		payload, err := s.service.MarkMessageRead(r.Context(), session.Username, id)
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 1 && parts[0] == "users" && r.Method == http.MethodGet {
		payload, err := s.service.ListUsers(r.Context())
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 2 && parts[0] == "users" && r.Method == http.MethodGet {
		payload, err := s.service.GetUser(r.Context(), session.Username, parts[1])
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 3 && parts[0] == "users" && r.Method == http.MethodGet {
		var payload map[string]any
		var err error
		switch parts[2] {
		case "to":
			payload, err = s.service.MessagesTo(r.Context(), session.Username, parts[1])
		case "from":
			payload, err = s.service.MessagesFrom(r.Context(), session.Username, parts[1])
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
			return
		}
		if err != nil {
			status, code, message := mapError(err)
			writeError(w, status, code, message)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error"}
	}

	if s.limiter != nil {
		checks["redis"] = map[string]any{"status": "ok"}
		if err := s.limiter.Ping(ctx); err != nil {
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{"status": "error"}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     statusCode == http.StatusOK,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	throttleKey := loginThrottleKey(body.Username, r)
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), throttleKey)
		if err != nil {
			log.Printf("rate limiter unavailable: %v", err)
		} else if !allowed {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many login attempts")
			return
		}
	}

	token, err := s.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}

	if s.limiter != nil {
		_ = s.limiter.Reset(r.Context(), throttleKey)
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username  string `json:"username"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Phone     string `json:"phone"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	token, err := s.service.Register(r.Context(), authpw.RegisterRequest{
		Username:  body.Username,
		Password:  body.Password,
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Phone:     body.Phone,
	})
	if err != nil {
		status, code, message := mapError(err)
		writeError(w, status, code, message)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": token})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// parseMessageID treats a non-integer id the same as an unknown one, so
// the failure shape never hints at the id space.
func parseMessageID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Message can not be found")
		return 0, false
	}
	return id, true
}

func loginThrottleKey(username string, r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return strings.TrimSpace(username) + "@" + host
}

func mapError(err error) (status int, code, message string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Kind {
		case KindUnauthenticated:
			return http.StatusUnauthorized, "UNAUTHORIZED", domainErr.Message
		case KindForbidden:
			return http.StatusForbidden, "FORBIDDEN", domainErr.Message
		case KindNotFound:
			return http.StatusNotFound, "NOT_FOUND", domainErr.Message
		case KindValidation:
			return http.StatusUnprocessableEntity, "VALIDATION_ERROR", domainErr.Message
		case KindInvalidCredentials:
			return http.StatusBadRequest, "INVALID_CREDENTIALS", domainErr.Message
		case KindRateLimited:
			return http.StatusTooManyRequests, "RATE_LIMITED", domainErr.Message
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found"
	}
	if errors.Is(err, auth.ErrInvalidToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
}
