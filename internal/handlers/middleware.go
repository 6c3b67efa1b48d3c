package handlers

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"predmaint-service/internal/log"
	"predmaint-service/internal/metrics"
)

// Middleware логирует HTTP запросы и обновляет метрики для каждого запроса
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeTemplate(r)
		m := httpsnoop.CaptureMetrics(next, w, r)

		metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(m.Code)).Inc()
		metrics.RequestDuration.WithLabelValues(route, r.Method).Observe(m.Duration.Seconds())

		log.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"duration_ms", m.Duration.Milliseconds(),
			"size", m.Written,
		)
	})
}

// routeTemplate возвращает шаблон маршрута, чтобы не плодить метки по идентификаторам сессий
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
