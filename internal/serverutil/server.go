package serverutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	dserrs "github.com/jdholdren/deepstudy/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("error encoding json response: %s", err)
	}

	return nil
}

// Validator is a surface that can validate itself and return an error
// if something is wrong.
type Validator interface {
	Validate() error
}

// DecodeValid decodes a request and then validates it. Both failures are
// validation errors.
func DecodeValid[V Validator](r io.Reader) (V, error) {
	var v V
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return v, dserrs.E(fmt.Errorf("error decoding request: %w", err), dserrs.KindValidation)
	}
	if err := v.Validate(); err != nil {
		if dserrs.Is(err, dserrs.KindValidation) {
			return v, err
		}
		return v, dserrs.E(err, dserrs.KindValidation)
	}

	return v, nil
}

func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		writer := &respCodeWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(writer, r)

		slog.InfoContext(r.Context(), "request completed",
			"method", r.Method,
			"url", r.URL.String(),
			"duration", time.Since(start),
			"status_code", writer.code,
		)
	})
}

// To trap the response status code for logging later.
type respCodeWriter struct {
	http.ResponseWriter
	code int
}

func (w *respCodeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// HandlerFuncE is a modified type of [http.HandlerFunc] that returns an error.
type HandlerFuncE func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFuncE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	// Either it's already a structured error, or coerce it to one
	dsErr := &dserrs.Error{}
	if !errors.As(err, &dsErr) {
		slog.ErrorContext(r.Context(), "unclassified error", "error", err)
		dsErr = dserrs.E("internal server error")
	}
	// Driver and internal messages stay in the logs.
	if dsErr.Status >= http.StatusInternalServerError && (dsErr.Kind == dserrs.KindStorage || dsErr.Kind == dserrs.KindInternal) {
		slog.ErrorContext(r.Context(), "error handling request", "error", err)
		dsErr = dserrs.E("internal server error", dsErr.Kind, dsErr.Status)
	}

	if err := WriteJSON(w, dsErr.Status, dsErr); err != nil {
		slog.ErrorContext(r.Context(), "error writing response", "error", err)
	}
}

// ErrRouter is a newtype around a mux router that allows attaching handlers that return errors.
type ErrRouter struct {
	*mux.Router
}

func (r ErrRouter) HandleFuncE(path string, f HandlerFuncE) *mux.Route {
	return r.Handle(path, f)
}
