package httpapi

import (
	"net/http"

	"github.com/felixge/httpsnoop"

	"github.com/drawbridge-dev/drawbridge/internal/logging"
)

// AccessLog returns a mux middleware that logs one structured line per
// handled request.
func AccessLog(logger logging.Logger) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			logger.Info(request.Context(), "handled",
				"method", request.Method, "url", request.URL.Path,
				"duration", m.Duration, "status", m.Code)
		})
	}
}
