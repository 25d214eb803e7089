package httpserver

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"stay_sync/internal/adapters/observability"
)

// Timeout answers 503 with a problem+json body once d elapses.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	body := `{"type":"about:blank","title":"Timeout","status":503,"detail":"request timed out"}`
	return func(next http.Handler) http.Handler {
		th := http.TimeoutHandler(next, d, body)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			th.ServeHTTP(problemOn503{w}, r)
		})
	}
}

// problemOn503 labels a bare 503 as problem+json; TimeoutHandler sets no type.
type problemOn503 struct{ http.ResponseWriter }

func (w problemOn503) WriteHeader(code int) {
	if code == http.StatusServiceUnavailable && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/problem+json")
	}
	w.ResponseWriter.WriteHeader(code)
}

// statusWriter remembers the first status code and counts body bytes.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// routeOf prefers the chi pattern so /v1/units/{id}/quote stays one series.
func routeOf(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		observability.ObserveHTTP(routeOf(r), r.Method, sw.Status(), time.Since(start))
	})
}

// Logger writes one line per request and puts a request-scoped logger in the
// context for handlers that want zerolog.Ctx.
func Logger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := l.With().Str("request_id", chimw.GetReqID(r.Context())).Logger()
			r = r.WithContext(reqLog.WithContext(r.Context()))

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			ev := reqLog.Info()
			switch {
			case sw.Status() >= http.StatusInternalServerError:
				ev = reqLog.Warn()
			case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
				ev = reqLog.Debug()
			}
			ev.
				Str("route", routeOf(r)).
				Str("method", r.Method).
				Int("status", sw.Status()).
				Int("bytes", sw.bytes).
				Dur("duration", time.Since(start)).
				Str("remote", remoteHost(r.RemoteAddr)).
				Str("ua", r.UserAgent()).
				Msg("http_request")
		})
	}
}

// remoteHost strips the port; chimw.RealIP has already applied proxy headers.
func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}
