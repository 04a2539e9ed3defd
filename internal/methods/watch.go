package methods

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/watch"
)

// sseWriter pairs the response writer with its flusher so frames leave the
// process as they are produced.
type sseWriter struct {
	http.ResponseWriter
	flusher http.Flusher
}

func (s sseWriter) Flush() {
	s.flusher.Flush()
}

// NewWatchHandler upgrades the request to a Server-Sent Events stream that
// emits a change frame whenever the watched triple's block height advances.
// Slots are bounded process-wide; the Last-Event-ID header resumes a
// reconnect without replaying the last known value.
func NewWatchHandler(logger *logrus.Entry, store watch.Store, hub *watch.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		accountID := q.Get("accountId")
		contractID := q.Get("contractId")
		key := q.Get("key")
		if err := validateAccountID(accountID, "accountId"); err != nil {
			writeError(logger, w, err)
			return
		}
		if err := validateAccountID(contractID, "contractId"); err != nil {
			writeError(logger, w, err)
			return
		}
		if err := validateKey(key, "key", maxKeyLength); err != nil {
			writeError(logger, w, err)
			return
		}
		intervalSecs, err := queryInt(q, "interval", 0)
		if err != nil {
			writeError(logger, w, err)
			return
		}

		release, ok := hub.Acquire()
		if !ok {
			writeError(logger, w, tooManyRequests("Too many active watch connections"))
			return
		}
		defer release()

		if _, ok := store.CurrentReader(); !ok {
			writeError(logger, w, errDatabaseUnavailable)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		var lastSeen uint64
		if v := r.Header.Get("Last-Event-ID"); v != "" {
			if n, err := strconv.ParseUint(v, 10, 64); err == nil {
				lastSeen = n
			}
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		err = watch.Stream(r.Context(), watch.Config{
			Logger:       logger,
			Store:        store,
			AccountID:    accountID,
			ContractID:   contractID,
			Key:          key,
			PollInterval: time.Duration(intervalSecs) * time.Second,
			LastSeen:     lastSeen,
		}, sseWriter{ResponseWriter: w, flusher: flusher})
		if err != nil {
			logger.WithError(err).Warn("watch stream closed")
		}
	}
}
