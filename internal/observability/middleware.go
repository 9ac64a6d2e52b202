package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/httplog/v3"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain wraps h so that the first middleware sees the request first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for _, m := range slices.Backward(middlewares) {
		h = m(h)
	}
	return h
}

// Recovery turns a handler panic into a 500 response and an error record.
// The browser only ever sees the status text.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			slog.ErrorContext(r.Context(), "callback handler panicked", "path", r.URL.Path, "panic", fmt.Sprint(v))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// Logging records each callback request without headers or bodies.
// The level is debug since callback URLs carry single-use authorization codes.
func Logging(logger *slog.Logger) Middleware {
	return httplog.RequestLogger(logger, &httplog.Options{
		Level:         slog.LevelDebug,
		Schema:        httplog.SchemaECS.Concise(true),
		RecoverPanics: false,
	})
}
