package methods

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// NewHealthHandler reports process liveness. The bare endpoint never touches
// the store so load balancers keep routing while the database flaps;
// check=db adds a ping and degrades to 503 when it fails.
func NewHealthHandler(logger *logrus.Entry, store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("check") != "db" {
			writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}
		reader, ok := store.CurrentReader()
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Database: "unavailable"})
			return
		}
		if err := reader.Ping(r.Context()); err != nil {
			logger.WithError(err).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Database: "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}
