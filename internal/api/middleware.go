package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/methods"
)

func requestLogger(logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start).String(),
			}).Info("request served")
		})
	}
}

// requestMetrics observes every request under its matched route pattern, so
// the label set stays bounded by the route table. Unrouted requests share
// one label.
func requestMetrics(duration *prometheus.SummaryVec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			endpoint := chi.RouteContext(r.Context()).RoutePattern()
			if endpoint == "" {
				endpoint = "unmatched"
			}
			duration.With(prometheus.Labels{
				"endpoint": endpoint,
				"status":   strconv.Itoa(ww.Status()),
			}).Observe(time.Since(start).Seconds())
		})
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// indexerBlockHeader stamps every response with the newest indexed height,
// so clients can tell how fresh any answer is. Absent until the first
// checkpoint is observed.
func indexerBlockHeader(heights methods.HeightSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h, ok := heights.IndexerHeight(); ok && h > 0 {
				w.Header().Set("X-Indexer-Block", strconv.FormatUint(h, 10))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// cacheControl assigns the default caching policy to successful GET
// responses. A handler that set its own Cache-Control wins, which is how
// the watch stream keeps its no-cache.
func cacheControl(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(&cacheControlWriter{ResponseWriter: w, policy: cachePolicy(r.URL.Path)}, r)
	})
}

func cachePolicy(path string) string {
	if path == "/health" || path == "/v1/status" {
		return "no-cache"
	}
	if strings.HasPrefix(path, "/v1/") {
		return "public, max-age=5"
	}
	return ""
}

type cacheControlWriter struct {
	http.ResponseWriter
	policy      string
	wroteHeader bool
}

func (w *cacheControlWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		if w.policy != "" && status >= 200 && status < 300 && w.Header().Get("Cache-Control") == "" {
			w.Header().Set("Cache-Control", w.policy)
		}
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *cacheControlWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush keeps the writer streamable for the SSE endpoint.
func (w *cacheControlWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
