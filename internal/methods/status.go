package methods

import (
	"net/http"
	"time"
)

// HeightSource reports the newest fully indexed block height. It is served
// from the daemon's refresh cache, so reads are cheap enough for a header
// on every response.
type HeightSource interface {
	IndexerHeight() (uint64, bool)
}

type statusResponse struct {
	IndexerBlock *uint64 `json:"indexer_block"`
	Timestamp    string  `json:"timestamp"`
}

// NewStatusHandler reports the indexer's progress and the server's clock.
// indexer_block is null until a checkpoint has been observed.
func NewStatusHandler(heights HeightSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{Timestamp: time.Now().UTC().Format(time.RFC3339)}
		if h, ok := heights.IndexerHeight(); ok {
			resp.IndexerBlock = &h
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
