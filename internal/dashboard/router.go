package dashboard

import (
	"net/http"
	"time"

	"github.com/xaenox/chatrank/internal/metrics"
)

type route struct {
	pattern  string
	endpoint string
	handler  http.Handler
}

// Router collects GET routes. Other methods get 405.
type Router struct {
	routes []route
}

func (rt *Router) Get(pattern, endpoint string, handler http.Handler) {
	rt.routes = append(rt.routes, route{
		pattern:  pattern,
		endpoint: endpoint,
		handler:  methodHandler(http.MethodGet, handler),
	})
}

// Mux builds a ServeMux with every route instrumented under its endpoint
// label.
func (rt *Router) Mux(m metrics.Recorder) *http.ServeMux {
	mux := http.NewServeMux()
	for _, r := range rt.routes {
		mux.Handle(r.pattern, metricsMiddleware(m, r.endpoint, r.handler))
	}
	return mux
}

func methodHandler(method string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func metricsMiddleware(m metrics.Recorder, endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.IncRequestsTotal(endpoint, sw.status)
		m.ObserveRequestDuration(endpoint, time.Since(start))
	})
}
