// Package api exposes the dashboard state and user intents over HTTP and
// WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	MaxBodySize     = 1 << 20
	RequestIDHeader = "X-Request-ID"

	ReadHeaderTimeout = 5 * time.Second
	ReadTimeout       = 30 * time.Second
	IdleTimeout       = 120 * time.Second
	ShutdownTimeout   = 10 * time.Second
)

// HTTPServer runs the router. Write timeouts are left to handlers because
// the state stream is long-lived.
type HTTPServer struct {
	logger *zap.Logger
	server *http.Server
}

func NewHTTPServer(addr string, handler http.Handler, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{
		logger: logger.With(zap.String("component", "http-server")),
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: ReadHeaderTimeout,
			ReadTimeout:       ReadTimeout,
			IdleTimeout:       IdleTimeout,
		},
	}
}

// StartOnBackground serves until Shutdown; cancel is called if serving fails.
func (s *HTTPServer) StartOnBackground(cancel context.CancelFunc) {
	go func() {
		s.logger.Info("HTTP server starting", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()
}

func (s *HTTPServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	RequestID  string `json:"requestId,omitempty"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// NewError creates an error that is returned to the client as is.
func NewError(statusCode int, message string) *ErrorResponse {
	return &ErrorResponse{StatusCode: statusCode, Message: message}
}

// HandlerFunc is an HTTP handler that can return an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ErrorHandler renders errors returned by fn. *ErrorResponse values reach the
// client; anything else becomes a generic 500.
func ErrorHandler(fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		l := GetLogger(r.Context())
		requestID := GetRequestID(r.Context())

		var httpErr *ErrorResponse
		if errors.As(err, &httpErr) {
			httpErr.RequestID = requestID
			l.Warn("Handler returned HTTP error", zap.Int("status", httpErr.StatusCode), zap.String("message", httpErr.Message))
			RespondJSON(w, r, httpErr.StatusCode, httpErr)
			return
		}

		l.Error("Internal error", zap.Error(err))
		RespondJSON(w, r, http.StatusInternalServerError, &ErrorResponse{
			RequestID: requestID,
			Message:   "Internal Server Error",
		})
	}
}

// RespondJSON writes data as JSON with statusCode.
func RespondJSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		GetLogger(r.Context()).Error("Failed to encode JSON response", zap.Error(err))
	}
}

// DecodeJSON decodes a single JSON object from the request body.
func DecodeJSON[T any](r *http.Request) (T, error) {
	var v T

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&v); err != nil {
		var (
			syntaxError        *json.SyntaxError
			unmarshalTypeError *json.UnmarshalTypeError
			maxBytesError      *http.MaxBytesError
		)

		switch {
		case errors.As(err, &syntaxError):
			return v, NewError(http.StatusBadRequest, fmt.Sprintf("Invalid JSON syntax at position %d", syntaxError.Offset))
		case errors.As(err, &unmarshalTypeError):
			return v, NewError(http.StatusBadRequest, fmt.Sprintf("Invalid type for field '%s'", unmarshalTypeError.Field))
		case errors.Is(err, io.EOF):
			return v, NewError(http.StatusBadRequest, "Request body is empty")
		case errors.As(err, &maxBytesError):
			return v, NewError(http.StatusRequestEntityTooLarge, "Request body too large")
		default:
			return v, NewError(http.StatusBadRequest, "Invalid JSON payload")
		}
	}

	if dec.More() {
		return v, NewError(http.StatusBadRequest, "Request body contains multiple JSON objects")
	}
	return v, nil
}
