// Package routing provides the HTTP mux used by the stats server.
package routing

import (
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docker/model-mem/pkg/logging"
)

// NormalizedServeMux is an http.ServeMux that cleans duplicate slashes out of
// request paths before routing and logs every request at debug level.
type NormalizedServeMux struct {
	*http.ServeMux
	log logging.Logger
}

// NewNormalizedServeMux returns an empty mux. log may be nil.
func NewNormalizedServeMux(log logging.Logger) *NormalizedServeMux {
	if log == nil {
		log = logging.Discard()
	}
	return &NormalizedServeMux{ServeMux: http.NewServeMux(), log: log}
}

func (nm *NormalizedServeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.URL.Path, "//") {
		r.URL.Path = path.Clean(r.URL.Path)
	}

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	nm.ServeMux.ServeHTTP(rec, r)

	nm.log.WithFields(logrus.Fields{
		"method":   r.Method,
		"path":     logging.SanitizeForLog(r.URL.Path),
		"status":   rec.status,
		"duration": time.Since(start),
	}).Debug("Handled request")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
